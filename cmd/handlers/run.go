package handlers

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"infodigest/internal/config"
	"infodigest/internal/core"
	"infodigest/internal/logger"
	"infodigest/internal/scheduler"
	"infodigest/internal/server"
)

// NewRunCmd creates the run command: either one fetch-and-analyze pass or
// the long-running scheduled service.
func NewRunCmd() *cobra.Command {
	var (
		once        bool
		limit       int
		mode        string
		web         bool
		dryRun      bool
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch feeds and analyze articles",
		Long: `Run the pipeline. By default this starts the scheduler: feeds are
polled on the configured interval and the digest goes out at the configured
wall-clock times. With --once a single fetch-and-analyze pass runs and the
process exits.

Examples:
  infodigest run --once --limit 10
  infodigest run --once --mode deep
  infodigest run --web`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(func(cfg *config.Config) {
				if concurrency > 0 {
					cfg.Concurrency.MaxConcurrentAnalyses = concurrency
				}
			})
			if err != nil {
				return err
			}
			defer a.close()

			analysisMode := core.ParseAnalysisMode(mode)
			if once {
				stats, err := a.service.FetchAndAnalyze(cmd.Context(), analysisMode, limit)
				if err != nil {
					return err
				}
				fmt.Printf("Fetched %d articles (%d new), %d processed: %d new units, %d merged in %s\n",
					stats.Fetched, stats.NewArticles, stats.Processed,
					stats.UnitsNew, stats.UnitsMerged, stats.DurationHuman)
				return nil
			}
			return runScheduled(cmd.Context(), a, analysisMode, limit, web, dryRun)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run a single pass and exit")
	cmd.Flags().IntVar(&limit, "limit", 0, "cap the number of new articles per run (0 = no cap)")
	cmd.Flags().StringVar(&mode, "mode", "standard", "analysis mode: quick, standard, or deep")
	cmd.Flags().BoolVar(&web, "web", false, "also serve the admin API")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "run the full pipeline but skip the SMTP send")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "parallel article analyses (overrides the config value)")
	return cmd
}

// runScheduled drives the scheduler (and optionally the admin server) until
// the process receives an interrupt.
func runScheduled(parent context.Context, a *app, mode core.AnalysisMode, limit int, web, dryRun bool) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	interval, err := a.cfg.Schedule.Interval()
	if err != nil {
		return err
	}
	location, err := time.LoadLocation(a.cfg.Schedule.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", a.cfg.Schedule.Timezone, err)
	}

	sched := scheduler.New(location)
	if err := sched.AddInterval("fetch-and-analyze", interval, func(ctx context.Context) error {
		_, err := a.service.FetchAndAnalyze(ctx, mode, limit)
		return err
	}); err != nil {
		return err
	}
	if err := sched.AddDaily("daily-digest", a.cfg.Schedule.DigestTimes, func(ctx context.Context) error {
		_, err := a.service.SendDailyDigest(ctx, dryRun)
		return err
	}); err != nil {
		return err
	}

	sched.Start(ctx)
	logger.Info("scheduler started",
		"fetch_interval", interval.String(),
		"digest_times", a.cfg.Schedule.DigestTimes,
		"timezone", a.cfg.Schedule.Timezone)

	if web {
		srv := server.New(a.cfg.Server, a.service)
		if err := srv.Start(ctx); err != nil {
			return err
		}
	} else {
		<-ctx.Done()
	}
	sched.Wait()
	logger.Info("shutdown complete")
	return nil
}
