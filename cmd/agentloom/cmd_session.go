package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/agentloom/internal/state"
	"github.com/user/agentloom/internal/types"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionShowCmd)
	sessionShowCmd.Flags().Int("limit", 20, "number of transcript entries to show (0 for all)")
}

func transcriptsDir() string {
	return filepath.Join(loadConfig().DataDir, "transcripts")
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect stored sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := transcriptsDir()
		index := state.NewTranscriptIndex(dir)
		transcripts := state.NewTranscriptStore(dir)

		ctx := context.Background()
		list, err := index.List(ctx)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		if len(list) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tENTRIES\tUPDATED")
		for _, s := range list {
			count, err := transcripts.Count(ctx, s.SessionID)
			if err != nil {
				count = 0
			}
			title := s.Title
			if title == "" {
				title = s.Name
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
				s.SessionID,
				title,
				count,
				s.UpdatedAt.Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print the tail of a session transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		dir := transcriptsDir()
		ctx := context.Background()
		id := types.SessionID(args[0])

		info, err := state.NewTranscriptIndex(dir).Get(ctx, id)
		if err != nil {
			return err
		}
		entries, err := state.NewTranscriptStore(dir).Tail(ctx, id, limit)
		if err != nil {
			return fmt.Errorf("read transcript: %w", err)
		}

		fmt.Fprintf(os.Stdout, "%s  %s\n\n", info.SessionID, info.Title)
		for _, e := range entries {
			text := e.Text
			if e.Role == types.RoleToolCall {
				text = e.Tool + " " + e.Arguments
			}
			fmt.Fprintf(os.Stdout, "[%s] %s: %s\n", e.At.Format("15:04:05"), e.Role, strings.TrimSpace(text))
		}
		return nil
	},
}
