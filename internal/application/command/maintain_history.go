package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/history"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/progress"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/shared"
	"github.com/lfmcagency/fitness-tracker-sub001/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// HISTORY MAINTENANCE COMMANDS
// Out-of-band compaction of the XP log: rebuild daily summaries from the
// detail, then purge detail older than the retention window.
// ══════════════════════════════════════════════════════════════════════════════

// RebuildHistoryCommand rebuilds the daily summaries of one user.
type RebuildHistoryCommand struct {
	UserID string
}

// PurgeHistoryCommand deletes XP log detail older than a threshold.
type PurgeHistoryCommand struct {
	UserID string

	// OlderThan is the retention window. Ignored when Before is set.
	OlderThan time.Duration

	// Before is an explicit cutoff. It is moved back to the start of its
	// calendar day so a day is never split between detail and summary.
	Before time.Time

	// KeepSummaries rebuilds summaries before purging so long-range charts
	// stay accurate. When false, summaries in the purged range are removed too.
	KeepSummaries bool
}

// Validate validates the command.
func (c PurgeHistoryCommand) Validate() error {
	if _, err := shared.NewUserID(c.UserID); err != nil {
		return err
	}
	if c.Before.IsZero() && c.OlderThan <= 0 {
		return shared.NewDomainError("history", "Purge", shared.ErrValueOutOfRange, "retention must be positive")
	}
	return nil
}

// RebuildHistoryResult reports a rebuild.
type RebuildHistoryResult struct {
	UserID       string `json:"user_id"`
	Transactions int    `json:"transactions"`
	Days         int    `json:"days"`
}

// PurgeHistoryResult reports a purge.
type PurgeHistoryResult struct {
	UserID             string    `json:"user_id"`
	Before             time.Time `json:"before"`
	Rebuilt            int       `json:"rebuilt_days"`
	PurgedTransactions int       `json:"purged_transactions"`
	PurgedSummaries    int       `json:"purged_summaries"`
}

// CompactResult reports a compaction sweep over all users.
type CompactResult struct {
	Users              int `json:"users"`
	PurgedTransactions int `json:"purged_transactions"`
	Failed             int `json:"failed"`
}

// HistoryHandler handles history maintenance.
type HistoryHandler struct {
	repo     progress.Repository
	history  progress.HistoryRepository
	location *time.Location
	logger   *slog.Logger
	now      func() time.Time
}

// HistoryHandlerConfig contains configuration for the handler.
type HistoryHandlerConfig struct {
	Location *time.Location
	Logger   *slog.Logger
	Now      func() time.Time
}

// NewHistoryHandler creates a new HistoryHandler.
func NewHistoryHandler(repo progress.Repository, hist progress.HistoryRepository, config HistoryHandlerConfig) *HistoryHandler {
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &HistoryHandler{
		repo:     repo,
		history:  hist,
		location: config.Location,
		logger:   config.Logger.With(slog.String("component", "history")),
		now:      config.Now,
	}
}

// Rebuild regroups the user's remaining log into daily summaries. Days whose
// detail was already purged keep their stored summaries.
func (h *HistoryHandler) Rebuild(ctx context.Context, cmd RebuildHistoryCommand) (*RebuildHistoryResult, error) {
	if _, err := shared.NewUserID(cmd.UserID); err != nil {
		return nil, fmt.Errorf("rebuild_history: validation failed: %w", err)
	}

	txs, err := h.repo.FindTransactions(ctx, progress.TransactionFilter{UserID: cmd.UserID})
	if err != nil {
		return nil, fmt.Errorf("rebuild_history: load log: %w", err)
	}

	summaries := history.BuildDailySummaries(cmd.UserID, txs, h.location)
	if len(summaries) > 0 {
		if err := h.history.SaveDailySummaries(ctx, cmd.UserID, summaries); err != nil {
			return nil, fmt.Errorf("rebuild_history: save: %w", err)
		}
	}

	return &RebuildHistoryResult{
		UserID:       cmd.UserID,
		Transactions: len(txs),
		Days:         len(summaries),
	}, nil
}

// Purge deletes detail older than the cutoff.
func (h *HistoryHandler) Purge(ctx context.Context, cmd PurgeHistoryCommand) (*PurgeHistoryResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("purge_history: validation failed: %w", err)
	}

	before := timeutil.StartOfDay(cmd.Before, h.location)
	if cmd.Before.IsZero() {
		before = history.PurgeBoundary(h.now(), cmd.OlderThan, h.location)
	}
	res := &PurgeHistoryResult{UserID: cmd.UserID, Before: before}

	if cmd.KeepSummaries {
		rb, err := h.Rebuild(ctx, RebuildHistoryCommand{UserID: cmd.UserID})
		if err != nil {
			return nil, fmt.Errorf("purge_history: %w", err)
		}
		res.Rebuilt = rb.Days
	}

	n, err := h.history.PurgeTransactions(ctx, cmd.UserID, before)
	if err != nil {
		return nil, fmt.Errorf("purge_history: transactions: %w", err)
	}
	res.PurgedTransactions = n

	if !cmd.KeepSummaries {
		n, err := h.history.PurgeDailySummaries(ctx, cmd.UserID, history.DayOf(before, h.location))
		if err != nil {
			return nil, fmt.Errorf("purge_history: summaries: %w", err)
		}
		res.PurgedSummaries = n
	}

	h.logger.Info("history purged",
		slog.String("user_id", cmd.UserID),
		slog.Time("before", before),
		slog.Int("transactions", res.PurgedTransactions),
		slog.Int("summaries", res.PurgedSummaries),
	)
	return res, nil
}

// CompactAll rebuilds and purges, keeping summaries, for every user with
// detail older than retention. A failing user does not stop the sweep.
func (h *HistoryHandler) CompactAll(ctx context.Context, retention time.Duration) (*CompactResult, error) {
	if retention <= 0 {
		return nil, shared.NewDomainError("history", "Compact", shared.ErrValueOutOfRange, "retention must be positive")
	}

	before := history.PurgeBoundary(h.now(), retention, h.location)
	users, err := h.history.ListUsersWithTransactionsBefore(ctx, before)
	if err != nil {
		return nil, fmt.Errorf("compact_history: list users: %w", err)
	}

	res := &CompactResult{}
	var errs []error
	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		r, err := h.Purge(ctx, PurgeHistoryCommand{UserID: userID, Before: before, KeepSummaries: true})
		if err != nil {
			res.Failed++
			errs = append(errs, err)
			h.logger.Error("compaction failed", slog.String("user_id", userID), slog.String("error", err.Error()))
			continue
		}
		res.Users++
		res.PurgedTransactions += r.PurgedTransactions
	}
	return res, errors.Join(errs...)
}
