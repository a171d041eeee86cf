package handlers

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"infodigest/internal/config"
	"infodigest/internal/telemetry"
)

// NewTelemetryCmd creates the telemetry inspection command.
func NewTelemetryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "telemetry",
		Short: "Inspect recorded AI calls",
		Long: `Query and aggregate the AI-call telemetry: every model call the
pipeline makes is recorded with its messages, response, token usage, and
timing.

Subcommands:
  query     List recorded calls
  show      Show one call in full
  stats     Aggregate token usage and timing
  sessions  List recent sessions
  export    Export records as JSONL
  cleanup   Remove records past the retention window`,
	}

	cmd.AddCommand(newTelemetryQueryCmd())
	cmd.AddCommand(newTelemetryShowCmd())
	cmd.AddCommand(newTelemetryStatsCmd())
	cmd.AddCommand(newTelemetrySessionsCmd())
	cmd.AddCommand(newTelemetryExportCmd())
	cmd.AddCommand(newTelemetryCleanupCmd())
	return cmd
}

// openRecorder opens just the telemetry recorder.
func openRecorder() (*telemetry.Recorder, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return telemetry.NewRecorder(cfg.Telemetry.StoragePath,
		cfg.Telemetry.RetentionDays, cfg.Telemetry.MaxContentLength)
}

func parseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", s)
}

func newTelemetryQueryCmd() *cobra.Command {
	var (
		session  string
		agent    string
		callType string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "query",
		Short: "List recorded calls, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			recorder, err := openRecorder()
			if err != nil {
				return err
			}
			defer func() { _ = recorder.Close() }()

			rows, err := recorder.Query(telemetry.QueryFilter{
				SessionID: session,
				AgentName: agent,
				CallType:  callType,
				Limit:     limit,
			})
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIMESTAMP\tAGENT\tTYPE\tTOKENS\tMS\tERROR\tCALL ID")
			for _, row := range rows {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
					row.Timestamp.Format(time.RFC3339), row.AgentName, row.CallType,
					row.Tokens, row.DurationMs, row.Error, row.CallID)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "filter by session id")
	cmd.Flags().StringVar(&agent, "agent", "", "filter by agent name")
	cmd.Flags().StringVar(&callType, "type", "", "filter by call type (chat, chat_json)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

func newTelemetryShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <call-id>",
		Short: "Show one recorded call in full, including messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recorder, err := openRecorder()
			if err != nil {
				return err
			}
			defer func() { _ = recorder.Close() }()

			record, err := recorder.GetFull(args[0])
			if err != nil {
				return err
			}
			if record == nil {
				return fmt.Errorf("call %s not found", args[0])
			}
			data, err := json.MarshalIndent(record, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}
}

func newTelemetryStatsCmd() *cobra.Command {
	var startStr, endStr, session string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Aggregate token usage, timing, and error rates",
		RunE: func(cmd *cobra.Command, args []string) error {
			recorder, err := openRecorder()
			if err != nil {
				return err
			}
			defer func() { _ = recorder.Close() }()

			start, err := parseDay(startStr)
			if err != nil {
				return fmt.Errorf("invalid --start: %w", err)
			}
			end, err := parseDay(endStr)
			if err != nil {
				return fmt.Errorf("invalid --end: %w", err)
			}

			stats, err := recorder.Aggregate(start, end, session)
			if err != nil {
				return err
			}
			fmt.Printf("Calls:        %d (%d failed, %.1f%% error rate)\n",
				stats.TotalCalls, stats.ErrorCount, stats.ErrorRate*100)
			fmt.Printf("Tokens:       %d prompt + %d completion = %d total\n",
				stats.TotalPromptTokens, stats.TotalCompletionTokens, stats.TotalTokens)
			fmt.Printf("Avg duration: %.0f ms\n", stats.AvgDurationMs)
			fmt.Println("By agent:")
			for agent, count := range stats.CallsByAgent {
				fmt.Printf("  %-12s %d\n", agent, count)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&startStr, "start", "", "window start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endStr, "end", "", "window end (YYYY-MM-DD)")
	cmd.Flags().StringVar(&session, "session", "", "restrict to one session")
	return cmd
}

func newTelemetrySessionsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recent analysis sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			recorder, err := openRecorder()
			if err != nil {
				return err
			}
			defer func() { _ = recorder.Close() }()

			sessions, err := recorder.ListSessions(limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tSTART\tCALLS\tTOKENS")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\n",
					s.SessionID, s.StartTime.Format(time.RFC3339), s.CallCount, s.TotalTokens)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum sessions")
	return cmd
}

func newTelemetryExportCmd() *cobra.Command {
	var output, startStr, endStr string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export records in a window as a single JSONL file",
		RunE: func(cmd *cobra.Command, args []string) error {
			recorder, err := openRecorder()
			if err != nil {
				return err
			}
			defer func() { _ = recorder.Close() }()

			start, err := parseDay(startStr)
			if err != nil {
				return fmt.Errorf("invalid --start: %w", err)
			}
			end, err := parseDay(endStr)
			if err != nil {
				return fmt.Errorf("invalid --end: %w", err)
			}
			count, err := recorder.ExportJSONL(output, start, end)
			if err != nil {
				return err
			}
			fmt.Printf("Exported %d records to %s\n", count, output)
			return nil
		},
	}
	cmd.Flags().StringVar(&output, "output", "telemetry_export.jsonl", "output file")
	cmd.Flags().StringVar(&startStr, "start", "", "window start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endStr, "end", "", "window end (YYYY-MM-DD)")
	return cmd
}

func newTelemetryCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove records past the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			recorder, err := openRecorder()
			if err != nil {
				return err
			}
			defer func() { _ = recorder.Close() }()

			removed, err := recorder.Cleanup()
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d expired records\n", removed)
			return nil
		},
	}
}
