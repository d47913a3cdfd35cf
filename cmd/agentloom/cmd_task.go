package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/agentloom/internal/state"
	"github.com/user/agentloom/internal/types"
)

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.AddCommand(taskAddCmd, taskListCmd, taskRemoveCmd, taskRunCmd,
		taskToggleCmd("enable", true), taskToggleCmd("disable", false))

	f := taskAddCmd.Flags()
	f.String("name", "", "task name (required)")
	f.String("prompt", "", "prompt text (required)")
	f.String("schedule", "", "cron schedule; omit for a webhook-only task")
	f.String("session-id", "", "target session (default: most recent session)")
	_ = taskAddCmd.MarkFlagRequired("name")
	_ = taskAddCmd.MarkFlagRequired("prompt")
}

func taskStore() *state.TaskStore {
	return state.NewTaskStore(filepath.Join(loadConfig().DataDir, "tasks.json"))
}

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage scheduled and webhook tasks",
	Long: "Tasks are prompts submitted into a session on a cron schedule or through\n" +
		"POST /webhook/<name>. A running daemon picks up changes without a restart.",
}

var taskAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a task",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		name, _ := f.GetString("name")
		prompt, _ := f.GetString("prompt")
		schedule, _ := f.GetString("schedule")
		sessionID, _ := f.GetString("session-id")

		err := taskStore().Add(&state.Task{
			Name:      name,
			Prompt:    prompt,
			Schedule:  schedule,
			SessionID: types.SessionID(sessionID),
			Enabled:   true,
		})
		if err != nil {
			return fmt.Errorf("add task: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Task %q added.\n", name)
		return nil
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tasks, err := taskStore().List()
		if err != nil {
			return fmt.Errorf("list tasks: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(tasks) == 0 {
			fmt.Fprintln(out, "No tasks configured.")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSCHEDULE\tENABLED\tSESSION\tPROMPT")
		for _, t := range tasks {
			fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n",
				t.Name, orDefault(t.Schedule, "(webhook)"), t.Enabled,
				orDefault(string(t.SessionID), "(latest)"), truncate(t.Prompt, 40))
		}
		return w.Flush()
	},
}

var taskRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := taskStore().Remove(args[0]); err != nil {
			return fmt.Errorf("remove task: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Task %q removed.\n", args[0])
		return nil
	},
}

func taskToggleCmd(verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <name>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := taskStore().SetEnabled(args[0], enabled); err != nil {
				return fmt.Errorf("%s task: %w", verb, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task %q %sd.\n", args[0], verb)
			return nil
		},
	}
}

// taskRunCmd triggers a task on the running daemon through its webhook.
var taskRunCmd = &cobra.Command{
	Use:   "run <name>",
	Short: "Run a task now on the running daemon",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		endpoint := "http://" + loadConfig().HTTP.Listen + "/webhook/" + url.PathEscape(args[0])
		client := &http.Client{Timeout: 10 * time.Second}
		resp, err := client.Post(endpoint, "application/json", strings.NewReader("{}"))
		if err != nil {
			return fmt.Errorf("trigger task: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return fmt.Errorf("trigger task: %s: %s", resp.Status, strings.TrimSpace(string(body)))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Task %q submitted.\n", args[0])
		return nil
	},
}

func orDefault(s, empty string) string {
	if s == "" {
		return empty
	}
	return s
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}
