package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/progress"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/shared"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/xprules"
)

// ══════════════════════════════════════════════════════════════════════════════
// REVERT AWARD COMMAND
// Replays the inverse of ReversalData returned by ProcessEvent. Amounts and
// category come from the journaled transaction; the package only names the
// token and the ids the award made pending. Pending ids are removed while
// they are still pending. Claimed achievements stay claimed.
// ══════════════════════════════════════════════════════════════════════════════

// RevertTokenPrefix prefixes the transaction token of a revert.
const RevertTokenPrefix = "revert:"

// RevertAwardCommand contains the reversal package to replay.
type RevertAwardCommand struct {
	UserID        string
	Data          ReversalData
	CorrelationID string
}

// Validate validates the command.
func (c RevertAwardCommand) Validate() error {
	if _, err := shared.NewUserID(c.UserID); err != nil {
		return err
	}
	if c.Data.Token == "" {
		return shared.ErrMissingToken
	}
	if c.Data.UserID != "" && c.Data.UserID != c.UserID {
		return shared.NewDomainError("event", "Revert", shared.ErrInvalidInput, "reversal data belongs to another user")
	}
	return nil
}

// RevertAwardResult contains the result of a revert.
type RevertAwardResult struct {
	Token          string    `json:"token"`
	XPReverted     int       `json:"xp_reverted"`
	TotalXP        int       `json:"total_xp"`
	Level          int       `json:"level"`
	RemovedPending []string  `json:"removed_pending"`
	Warnings       []Warning `json:"warnings,omitempty"`
}

// RevertAwardHandler handles the RevertAwardCommand.
type RevertAwardHandler struct {
	engine *Engine
}

// NewRevertAwardHandler creates a new RevertAwardHandler.
func NewRevertAwardHandler(engine *Engine) *RevertAwardHandler {
	return &RevertAwardHandler{engine: engine}
}

// Handle executes the revert.
func (h *RevertAwardHandler) Handle(ctx context.Context, cmd RevertAwardCommand) (*RevertAwardResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("revert_award: validation failed: %w", err)
	}
	data := cmd.Data
	repo := h.engine.repo

	var removed []string
	out, err := h.engine.run(ctx, cmd.UserID, func(ctx context.Context, p *progress.UserProgress) (*plan, error) {
		done, err := repo.FindTransactions(ctx, progress.TransactionFilter{UserID: cmd.UserID, ReversalOf: data.Token, Limit: 1})
		if err != nil {
			return nil, fmt.Errorf("find reversals: %w", err)
		}
		if len(done) > 0 {
			return nil, shared.ErrAlreadyReverse
		}

		found, err := repo.FindTransactions(ctx, progress.TransactionFilter{UserID: cmd.UserID, Token: data.Token, Limit: 1})
		if err != nil {
			return nil, fmt.Errorf("find original: %w", err)
		}
		if len(found) == 0 {
			return nil, shared.ErrTransactionAbsent
		}
		orig := found[0]
		if orig.IsReversal() {
			return nil, shared.NewDomainError("event", "Revert", shared.ErrInvalidInput, "cannot revert a reversal")
		}

		removed = slices.DeleteFunc(slices.Clone(data.NewlyPending), func(id string) bool {
			return !p.IsPending(id)
		})

		return h.engine.buildPlan(p, award{
			token:         RevertTokenPrefix + data.Token,
			source:        orig.Source,
			action:        xprules.ReverseAction(orig.Action),
			category:      orig.Category,
			xpDelta:       -orig.Amount,
			description:   "revert " + data.Token,
			reversalOf:    data.Token,
			removePending: removed,
		}), nil
	})
	if err != nil {
		if errors.Is(err, shared.ErrDuplicateToken) {
			return nil, fmt.Errorf("revert_award: %w", shared.ErrAlreadyReverse)
		}
		return nil, fmt.Errorf("revert_award: %w", err)
	}

	pl := out.plan
	res := &RevertAwardResult{
		Token:          data.Token,
		XPReverted:     pl.projection.XPApplied,
		TotalXP:        pl.projection.After.TotalXP,
		Level:          pl.projection.After.Level,
		RemovedPending: removed,
	}
	if res.RemovedPending == nil {
		res.RemovedPending = []string{}
	}

	reverted := shared.NewRevertedEvent(cmd.UserID, data.Token, res.XPReverted, res.RemovedPending)
	reverted.BaseEvent = reverted.BaseEvent.WithCorrelationID(cmd.CorrelationID)
	events := append([]shared.Event{reverted}, h.engine.progressEvents(pl, cmd.CorrelationID)...)
	res.Warnings = h.engine.publish(ctx, events)

	h.engine.recorder.EventProcessed(pl.mutation.Transaction.Source, pl.mutation.Transaction.Action, "reverted")
	h.engine.recorder.XPApplied(pl.mutation.Transaction.Source, res.XPReverted)

	h.engine.logger.Info("award reverted",
		slog.String("user_id", cmd.UserID),
		slog.String("token", data.Token),
		slog.Int("xp", res.XPReverted),
		slog.Any("removed_pending", res.RemovedPending),
	)
	return res, nil
}
