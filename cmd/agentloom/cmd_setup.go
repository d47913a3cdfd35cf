package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/agentloom/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

// setupField is one question of the setup wizard. Secret fields show a
// masked default.
type setupField struct {
	label  string
	key    string
	target *string
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		in := bufio.NewScanner(cmd.InOrStdin())
		out := cmd.OutOrStdout()

		fmt.Fprintln(out, "agentloom setup")
		fmt.Fprintln(out, "Press Enter to keep the value shown in brackets.")
		fmt.Fprintln(out)

		maxTokens := strconv.Itoa(cfg.LLM.MaxTokens)
		fields := []setupField{
			{"LLM base URL", "llm.base_url", &cfg.LLM.BaseURL},
			{"LLM API key", "llm.api_key", &cfg.LLM.APIKey},
			{"LLM model", "llm.model", &cfg.LLM.Model},
			{"Max output tokens", "llm.max_tokens", &maxTokens},
			{"HTTP listen address", "http.listen", &cfg.HTTP.Listen},
			{"Telegram bot token (optional)", "telegram.token", &cfg.Telegram.Token},
			{"System prompt template path (optional)", "system_prompt_path", &cfg.SystemPromptPath},
		}
		for _, f := range fields {
			*f.target = ask(in, out, f, *f.target)
		}
		if n, err := strconv.Atoi(maxTokens); err == nil && n > 0 {
			cfg.LLM.MaxTokens = n
		} else {
			fmt.Fprintf(out, "Ignoring invalid max tokens %q.\n", maxTokens)
		}

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Configuration saved to", cfgPath)
		return nil
	},
}

// ask prints the question and returns the answer, or current when the
// answer is empty.
func ask(in *bufio.Scanner, out io.Writer, f setupField, current string) string {
	shown := current
	if config.IsSecretKey(f.key) && current != "" {
		shown = config.MaskSecrets(map[string]any{f.key: current})[f.key].(string)
	}
	if shown != "" {
		fmt.Fprintf(out, "%s [%s]: ", f.label, shown)
	} else {
		fmt.Fprintf(out, "%s: ", f.label)
	}
	if !in.Scan() {
		return current
	}
	if answer := strings.TrimSpace(in.Text()); answer != "" {
		return answer
	}
	return current
}
