// Package jobs contains the scheduled jobs of the progress worker.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/application/command"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPACT HISTORY JOB
// ══════════════════════════════════════════════════════════════════════════════

// Compactor rebuilds daily summaries and purges detail older than retention.
// Implemented by command.HistoryHandler.
type Compactor interface {
	CompactAll(ctx context.Context, retention time.Duration) (*command.CompactResult, error)
}

// CompactHistoryConfig contains configuration for the compaction job.
type CompactHistoryConfig struct {
	// Retention is how long raw transactions are kept before they are
	// folded into daily summaries.
	Retention time.Duration

	// Timeout bounds one sweep. Zero means no limit beyond the scheduler's.
	Timeout time.Duration
}

// DefaultCompactHistoryConfig returns the default configuration.
func DefaultCompactHistoryConfig() CompactHistoryConfig {
	return CompactHistoryConfig{
		Retention: 90 * 24 * time.Hour,
		Timeout:   30 * time.Minute,
	}
}

// CompactHistoryJob periodically compacts XP transaction history.
type CompactHistoryJob struct {
	compactor Compactor
	logger    *slog.Logger
	config    CompactHistoryConfig

	lastStats atomic.Pointer[CompactStats]
}

// CompactStats describes the last sweep.
type CompactStats struct {
	StartedAt          time.Time
	Duration           time.Duration
	Users              int
	Failed             int
	PurgedTransactions int
}

// NewCompactHistoryJob creates the job.
func NewCompactHistoryJob(compactor Compactor, logger *slog.Logger, config CompactHistoryConfig) *CompactHistoryJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Retention <= 0 {
		config.Retention = DefaultCompactHistoryConfig().Retention
	}
	return &CompactHistoryJob{
		compactor: compactor,
		logger:    logger.With(slog.String("job", "compact_history")),
		config:    config,
	}
}

// Name implements scheduler.Job.
func (j *CompactHistoryJob) Name() string {
	return "compact_history"
}

// Description implements scheduler.Job.
func (j *CompactHistoryJob) Description() string {
	return fmt.Sprintf("folds XP transactions older than %s into daily summaries", j.config.Retention)
}

// Run implements scheduler.Job. Per-user failures are reported in the error
// after the sweep has visited every user.
func (j *CompactHistoryJob) Run(ctx context.Context) error {
	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	started := time.Now()
	res, err := j.compactor.CompactAll(ctx, j.config.Retention)

	stats := &CompactStats{StartedAt: started, Duration: time.Since(started)}
	if res != nil {
		stats.Users = res.Users
		stats.Failed = res.Failed
		stats.PurgedTransactions = res.PurgedTransactions
	}
	j.lastStats.Store(stats)

	if err != nil {
		if errors.Is(err, context.Canceled) {
			j.logger.Info("history compaction interrupted", slog.Int("users", stats.Users))
		}
		return fmt.Errorf("compact history: %w", err)
	}

	j.logger.Info("history compacted",
		slog.Int("users", stats.Users),
		slog.Int("purged_transactions", stats.PurgedTransactions),
		slog.Duration("duration", stats.Duration),
	)
	return nil
}

// LastStats returns the statistics of the last sweep, or nil.
func (j *CompactHistoryJob) LastStats() *CompactStats {
	return j.lastStats.Load()
}
