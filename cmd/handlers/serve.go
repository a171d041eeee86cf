package handlers

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"infodigest/internal/server"
)

// NewServeCmd creates the serve command: the admin API without the scheduler.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the admin API and websocket streams",
		Long: `Start the admin HTTP server: pipeline status and control, article,
unit, and feed management, entity graph queries, and websocket streams for
logs and run progress. The scheduler does not run; use "run --web" for both.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return server.New(a.cfg.Server, a.service).Start(ctx)
		},
	}
}
