package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/achievement"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/progress"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/shared"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/xprules"
)

// ══════════════════════════════════════════════════════════════════════════════
// CLAIM ACHIEVEMENT COMMAND
// Moves an achievement from pending to claimed and awards its XP through
// the same apply path as events. Re-verifies eligibility at claim time.
// ══════════════════════════════════════════════════════════════════════════════

// ClaimTokenPrefix prefixes the transaction token of a claim.
const ClaimTokenPrefix = "claim:"

// ClaimAchievementCommand contains the data to claim an achievement.
type ClaimAchievementCommand struct {
	UserID        string
	AchievementID string

	// Signals re-verify streak and completed-count requirements.
	// When nil, a pending record is trusted for those requirements.
	Signals progress.Signals

	CorrelationID string
}

// Validate validates the command.
func (c ClaimAchievementCommand) Validate() error {
	if _, err := shared.NewUserID(c.UserID); err != nil {
		return err
	}
	if c.AchievementID == "" {
		return shared.NewDomainError("achievement", "Claim", shared.ErrEmptyValue, "achievement id is required")
	}
	return nil
}

// ClaimAchievementResult contains the result of a claim.
type ClaimAchievementResult struct {
	AchievementID string                        `json:"achievement_id"`
	Outcome       achievement.ClaimOutcome      `json:"outcome"`
	Unmet         []achievement.RequirementKind `json:"unmet,omitempty"`
	XPAwarded     int                           `json:"xp_awarded"`
	TotalXP       int                           `json:"total_xp"`
	Level         int                           `json:"level"`
	LeveledUp     bool                          `json:"leveled_up"`
	NewlyPending  []string                      `json:"newly_pending"`
	Warnings      []Warning                     `json:"warnings,omitempty"`
	ClaimedAt     time.Time                     `json:"claimed_at,omitempty"`
}

// ClaimAchievementHandler handles the ClaimAchievementCommand.
type ClaimAchievementHandler struct {
	engine  *Engine
	rules   *xprules.Calculator
	catalog achievement.Lookup
}

// NewClaimAchievementHandler creates a new ClaimAchievementHandler.
func NewClaimAchievementHandler(engine *Engine, rules *xprules.Calculator, catalog achievement.Lookup) *ClaimAchievementHandler {
	return &ClaimAchievementHandler{
		engine:  engine,
		rules:   rules,
		catalog: catalog,
	}
}

// Handle executes the claim.
func (h *ClaimAchievementHandler) Handle(ctx context.Context, cmd ClaimAchievementCommand) (*ClaimAchievementResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("claim_achievement: validation failed: %w", err)
	}

	def, err := h.catalog.Lookup(cmd.AchievementID)
	if err != nil {
		return nil, fmt.Errorf("claim_achievement: %w", err)
	}

	log := h.engine.logger.With(
		slog.String("user_id", cmd.UserID),
		slog.String("achievement_id", def.ID),
	)

	var decision achievement.ClaimDecision
	out, err := h.engine.run(ctx, cmd.UserID, func(ctx context.Context, p *progress.UserProgress) (*plan, error) {
		subject := achievement.Subject{Snapshot: p.Snapshot(), Signals: cmd.Signals}
		d, err := achievement.DecideClaim(def, subject, cmd.Signals != nil)
		if err != nil {
			return nil, err
		}
		decision = d
		if decision.Outcome != achievement.ClaimOutcomeClaimed {
			return nil, nil
		}

		reward := h.rules.Calculate(xprules.SourceAchievement, xprules.ActionAchievementClaimed, xprules.Context{XPReward: def.XPReward})
		return h.engine.buildPlan(p, award{
			token:       ClaimTokenPrefix + def.ID,
			source:      xprules.SourceAchievement,
			action:      xprules.ActionAchievementClaimed,
			xpDelta:     reward.Amount,
			description: "achievement claimed: " + def.Title,
			signals:     cmd.Signals,
			claim:       []string{def.ID},
			detect:      true,
		}), nil
	})
	if err != nil {
		if errors.Is(err, shared.ErrDuplicateToken) {
			return h.alreadyClaimed(ctx, cmd)
		}
		return nil, fmt.Errorf("claim_achievement: %w", err)
	}

	if out.plan == nil {
		log.Info("claim rejected", slog.String("outcome", string(decision.Outcome)))
		return &ClaimAchievementResult{
			AchievementID: def.ID,
			Outcome:       decision.Outcome,
			Unmet:         decision.Unmet,
			TotalXP:       out.progress.TotalXP,
			Level:         out.progress.Level,
			NewlyPending:  []string{},
		}, nil
	}

	pl := out.plan
	res := &ClaimAchievementResult{
		AchievementID: def.ID,
		Outcome:       achievement.ClaimOutcomeClaimed,
		XPAwarded:     pl.projection.XPApplied,
		TotalXP:       pl.projection.After.TotalXP,
		Level:         pl.projection.After.Level,
		LeveledUp:     pl.projection.LeveledUp(),
		NewlyPending:  pl.detection.IDs(),
		Warnings:      pl.warnings,
		ClaimedAt:     pl.mutation.At,
	}

	claimed := shared.NewAchievementClaimedEvent(cmd.UserID, def.ID, res.XPAwarded, res.TotalXP)
	claimed.BaseEvent = claimed.BaseEvent.WithCorrelationID(cmd.CorrelationID)
	events := append([]shared.Event{claimed}, h.engine.progressEvents(pl, cmd.CorrelationID)...)
	res.Warnings = append(res.Warnings, h.engine.publish(ctx, events)...)

	h.engine.recorder.AchievementClaimed(def.ID)
	h.engine.recorder.XPApplied(xprules.SourceAchievement, res.XPAwarded)
	h.engine.recorder.AchievementsPending(len(res.NewlyPending))

	log.Info("achievement claimed",
		slog.Int("xp", res.XPAwarded),
		slog.Int("total_xp", res.TotalXP),
		slog.Int("attempts", out.attempts),
	)
	return res, nil
}

// alreadyClaimed - получение проиграло гонку параллельному запросу.
func (h *ClaimAchievementHandler) alreadyClaimed(ctx context.Context, cmd ClaimAchievementCommand) (*ClaimAchievementResult, error) {
	p, err := h.engine.repo.Get(ctx, cmd.UserID)
	if err != nil {
		return nil, fmt.Errorf("claim_achievement: %w", err)
	}
	return &ClaimAchievementResult{
		AchievementID: cmd.AchievementID,
		Outcome:       achievement.ClaimOutcomeAlreadyClaimed,
		TotalXP:       p.TotalXP,
		Level:         p.Level,
		NewlyPending:  []string{},
	}, nil
}
