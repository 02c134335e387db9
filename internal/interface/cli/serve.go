package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/application/command"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/application/query"
	httpapi "github.com/lfmcagency/fitness-tracker-sub001/internal/interface/http"
)

func newServeCmd() *cobra.Command {
	var (
		addr       string
		withWorker bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the progress HTTP API",
		Long:  `Start the REST API for events, reversals, claims and progress reads.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, addr, withWorker)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Address to listen on (overrides HTTP_ADDR)")
	cmd.Flags().BoolVar(&withWorker, "with-worker", false, "Also run the history maintenance scheduler in this process")
	return cmd
}

func runServe(ctx context.Context, addr string, withWorker bool) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.HTTP.Addr = addr
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

	server := httpapi.NewServer(httpapi.Config{
		Addr:           cfg.HTTP.Addr,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
	}, a.httpDependencies())

	if withWorker && cfg.History.Enabled {
		sched, err := a.newScheduler()
		if err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer func() { _ = sched.Stop() }()
	}

	errCh := server.StartAsync()
	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := a.shutdownContext()
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// httpDependencies builds the handlers behind the REST routes.
func (a *app) httpDependencies() httpapi.Dependencies {
	loc := a.cfg.App.Location

	deps := httpapi.Dependencies{
		ProcessEvent: command.NewProcessEventHandler(a.engine, a.rules, a.results, command.ProcessEventHandlerConfig{Location: loc}),
		RevertAward:  command.NewRevertAwardHandler(a.engine),
		Claim:        command.NewClaimAchievementHandler(a.engine, a.rules, a.catalog),
		Overview:     query.NewGetProgressOverviewHandler(a.store, a.levels, a.cache, a.logger),
		Ranks:        query.NewGetRankReportHandler(a.store, a.levels),
		History:      query.NewGetHistoryHandler(a.store, a.store, loc, nil),
		Achievements: query.NewGetAchievementBoardHandler(a.store, a.catalog),
		Health:       a.health,
		Logger:       a.logger,
	}
	if a.metrics != nil {
		deps.Metrics = a.metrics
	}
	return deps
}
