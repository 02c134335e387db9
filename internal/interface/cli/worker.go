package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/infrastructure/scheduler"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/infrastructure/scheduler/jobs"
)

func newWorkerCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the history maintenance scheduler",
		Long: `Run periodic history compaction: daily summaries are rebuilt and XP log
detail older than HISTORY_RETENTION is purged on HISTORY_SCHEDULE.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runWorker(ctx, once)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Run every job once and exit")
	return cmd
}

func runWorker(ctx context.Context, once bool) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error("close failed", slog.String("error", err.Error()))
		}
	}()

	sched, err := a.newScheduler()
	if err != nil {
		return err
	}

	if once {
		for _, info := range sched.ListJobs() {
			if _, err := sched.RunNow(ctx, info.Name); err != nil {
				return fmt.Errorf("job %s: %w", info.Name, err)
			}
		}
		return nil
	}

	if !cfg.History.Enabled {
		log.Warn("history maintenance disabled, worker has nothing to do")
		<-ctx.Done()
		return nil
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	for _, info := range sched.ListJobs() {
		log.Info("job scheduled",
			slog.String("job", info.Name),
			slog.String("schedule", info.Schedule),
			slog.Time("next_run", info.NextRun),
		)
	}

	<-ctx.Done()
	log.Info("shutdown signal received")
	return sched.Stop()
}

// newScheduler registers the maintenance jobs.
func (a *app) newScheduler() (*scheduler.Scheduler, error) {
	schedule, err := scheduler.ParseSchedule(a.cfg.History.Schedule)
	if err != nil {
		return nil, fmt.Errorf("HISTORY_SCHEDULE: %w", err)
	}

	schedCfg := scheduler.SchedulerConfig{
		Logger:   a.logger,
		Timezone: a.cfg.App.Location,
	}
	if a.metrics != nil {
		schedCfg.Observer = a.metrics
	}
	sched := scheduler.NewScheduler(schedCfg)

	job := jobs.NewCompactHistoryJob(a.history, a.logger, jobs.CompactHistoryConfig{
		Retention: a.cfg.History.Retention,
		Timeout:   a.cfg.History.Timeout,
	})
	if err := sched.Register(job, schedule); err != nil {
		return nil, err
	}
	return sched, nil
}
