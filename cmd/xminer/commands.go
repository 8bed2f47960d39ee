package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"xminer/internal/scheduler"
	"xminer/internal/service"
)

func init() {
	rootCmd.AddCommand(syncCmd, fetchCmd, backfillCmd, trendsCmd, profilesCmd)
	backfillCmd.AddCommand(fillGapsCmd, historicalCmd)

	fetchCmd.Flags().Bool("dry-run", false, "fetch and report without writing")
	fetchCmd.Flags().String("author", "", "fetch a single tracked author")
	fetchCmd.Flags().Int("limit", 0, "process at most this many authors")
	fetchCmd.Flags().Int("buffer-hours", 0, "exclude tweets newer than now minus this many hours")

	for _, cmd := range []*cobra.Command{fillGapsCmd, historicalCmd} {
		cmd.Flags().Bool("dry-run", false, "scan and report without writing")
		cmd.Flags().String("author", "", "scan a single author")
		cmd.Flags().Int("limit", 0, "process at most this many candidates")
		cmd.Flags().Bool("all-authors", false, "scan beyond the tracked roster")
	}
	fillGapsCmd.Flags().String("since-date", "", "only authors whose newest stored tweet predates this date (YYYY-MM-DD)")
	historicalCmd.Flags().Int("min-gap-days", 0, "only authors whose oldest stored tweet is newer than this many days")

	profilesCmd.Flags().Bool("dry-run", false, "fetch and report without writing")
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run the ingest loop on the configured interval",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		app, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer app.close()
		app.connectPublisher()

		sched := scheduler.NewScheduler(app.ingestService(), app.cfg.Sync.Interval, app.logger)
		if err := sched.Start(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Run one ingest pass over the tracked roster",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		opts := service.RunOptions{}
		opts.DryRun, _ = cmd.Flags().GetBool("dry-run")
		opts.Author, _ = cmd.Flags().GetString("author")
		opts.Limit, _ = cmd.Flags().GetInt("limit")
		opts.BufferHours, _ = cmd.Flags().GetInt("buffer-hours")

		app, err := newApp(ctx, !opts.DryRun)
		if err != nil {
			return err
		}
		defer app.close()
		if !opts.DryRun {
			app.connectPublisher()
		}

		_, err = app.ingestService().Run(ctx, opts)
		return err
	},
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Reconcile gaps left by routine polling",
}

var fillGapsCmd = &cobra.Command{
	Use:   "fill-gaps",
	Short: "Re-fetch forward for authors whose newest stored tweet looks stale",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		opts := gapOptions(cmd)
		if since, _ := cmd.Flags().GetString("since-date"); since != "" {
			cutoff, err := parseDate(since)
			if err != nil {
				return fmt.Errorf("parse --since-date: %w", err)
			}
			opts.Cutoff = cutoff
		}

		app, err := newApp(ctx, !opts.DryRun)
		if err != nil {
			return err
		}
		defer app.close()

		_, err = app.gapScanner().FillGaps(ctx, opts)
		return err
	},
}

var historicalCmd = &cobra.Command{
	Use:   "historical",
	Short: "Paginate backward for authors with truncated history",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		opts := gapOptions(cmd)
		opts.MinGapDays, _ = cmd.Flags().GetInt("min-gap-days")

		app, err := newApp(ctx, !opts.DryRun)
		if err != nil {
			return err
		}
		defer app.close()

		_, err = app.gapScanner().Historical(ctx, opts)
		return err
	},
}

var trendsCmd = &cobra.Command{
	Use:   "trends",
	Short: "Fetch and store one trends snapshot for the configured location",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		app, err := newApp(ctx, false)
		if err != nil {
			return err
		}
		defer app.close()

		svc := service.NewTrendService(app.source, app.trends, app.governor, app.logger, app.cfg.Trends)
		_, err = svc.Run(ctx)
		return err
	},
}

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Fetch and append profile snapshots for the tracked roster",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		dryRun, _ := cmd.Flags().GetBool("dry-run")

		app, err := newApp(ctx, false)
		if err != nil {
			return err
		}
		defer app.close()

		svc := service.NewProfileService(app.source, app.profiles, app.txManager, app.governor, app.logger, app.cfg.Profiles)
		_, err = svc.Run(ctx, dryRun)
		return err
	},
}

func gapOptions(cmd *cobra.Command) service.GapRunOptions {
	var opts service.GapRunOptions
	opts.DryRun, _ = cmd.Flags().GetBool("dry-run")
	opts.Author, _ = cmd.Flags().GetString("author")
	opts.Limit, _ = cmd.Flags().GetInt("limit")
	opts.AllAuthors, _ = cmd.Flags().GetBool("all-authors")
	return opts
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}
