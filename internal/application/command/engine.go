// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/achievement"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/progress"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/shared"
	"github.com/lfmcagency/fitness-tracker-sub001/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// AWARD ENGINE
// Shared read-modify-write path for events, claims and reverts.
// Every write is a versioned delta; a version conflict reloads the record
// and rebuilds the mutation from scratch.
// ══════════════════════════════════════════════════════════════════════════════

// DefaultMaxApplyAttempts bounds optimistic retries per operation.
const DefaultMaxApplyAttempts = 5

// Warning is a non-fatal problem reported alongside a successful result.
type Warning struct {
	Code          string `json:"code"`
	AchievementID string `json:"achievement_id,omitempty"`
	Message       string `json:"message"`
}

// Warning codes.
const (
	WarningDetectionFailed  = "achievement_detection_failed"
	WarningPublishFailed    = "event_publish_failed"
	WarningIdempotencyStore = "idempotency_store_failed"
	WarningOriginalMissing  = "original_transaction_missing"
	WarningUnknownRule      = "unknown_rule_default_applied"
)

// Recorder receives engine measurements. Implemented by the metrics package.
type Recorder interface {
	EventProcessed(source, action, outcome string)
	XPApplied(source string, amount int)
	ApplyConflict()
	AchievementsPending(n int)
	AchievementClaimed(id string)
}

type nopRecorder struct{}

func (nopRecorder) EventProcessed(string, string, string) {}
func (nopRecorder) XPApplied(string, int)                 {}
func (nopRecorder) ApplyConflict()                        {}
func (nopRecorder) AchievementsPending(int)               {}
func (nopRecorder) AchievementClaimed(string)             {}

// EngineConfig wires the shared award engine.
type EngineConfig struct {
	Repo             progress.Repository
	Levels           progress.Calculator
	Catalog          achievement.Lookup
	Publisher        shared.EventPublisher
	Recorder         Recorder
	Logger           *slog.Logger
	MaxApplyAttempts int
	Now              func() time.Time

	// RetryOptions are appended to the apply retrier, for tests.
	RetryOptions []retry.Option
}

// Engine owns the optimistic apply loop.
type Engine struct {
	repo      progress.Repository
	levels    progress.Calculator
	catalog   achievement.Lookup
	publisher shared.EventPublisher
	recorder  Recorder
	logger    *slog.Logger
	retrier   *retry.Retrier
	now       func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxApplyAttempts <= 0 {
		cfg.MaxApplyAttempts = DefaultMaxApplyAttempts
	}
	if cfg.Levels.Global.Scale == 0 {
		cfg.Levels = progress.DefaultCalculator()
	}
	if cfg.Catalog == nil {
		cfg.Catalog = achievement.DefaultCatalog()
	}

	e := &Engine{
		repo:      cfg.Repo,
		levels:    cfg.Levels,
		catalog:   cfg.Catalog,
		publisher: cfg.Publisher,
		recorder:  cfg.Recorder,
		logger:    cfg.Logger.With(slog.String("component", "award_engine")),
		now:       cfg.Now,
	}
	e.retrier = retry.ApplyRetrier(cfg.MaxApplyAttempts, func(err error) bool {
		return errors.Is(err, shared.ErrConcurrentModification)
	}, append(cfg.RetryOptions, retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
		e.recorder.ApplyConflict()
		e.logger.Debug("progress apply conflict, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
		)
	}))...)
	return e
}

// Levels returns the leveling calculator.
func (e *Engine) Levels() progress.Calculator {
	return e.levels
}

// award describes one XP application against a freshly loaded record.
type award struct {
	token          string
	source         string
	action         string
	category       progress.Category
	xpDelta        int
	description    string
	reversalOf     string
	unlockExercise string
	signals        progress.Signals
	occurredAt     time.Time

	claim         []string
	removePending []string
	detect        bool
}

// plan is a mutation ready to be applied plus what it will change.
type plan struct {
	mutation   progress.Mutation
	projection progress.Projection
	detection  achievement.Detection
	warnings   []Warning
}

// planner builds a plan against the current record. A nil plan with a nil
// error means there is nothing to write.
type planner func(ctx context.Context, p *progress.UserProgress) (*plan, error)

// applied is the outcome of a successful run.
type applied struct {
	plan     *plan
	progress *progress.UserProgress
	attempts int
}

// run загружает запись, строит план и применяет его.
// При конфликте версий всё повторяется со свежей записью.
func (e *Engine) run(ctx context.Context, userID string, build planner) (*applied, error) {
	var out applied

	err := e.retrier.Do(ctx, func(ctx context.Context) error {
		out.attempts++

		current, err := e.repo.GetOrCreate(ctx, userID)
		if err != nil {
			return fmt.Errorf("load progress: %w", err)
		}

		pl, err := build(ctx, current)
		if err != nil {
			return err
		}
		if pl == nil {
			out.plan, out.progress = nil, current
			return nil
		}

		saved, err := e.repo.Apply(ctx, pl.mutation)
		if err != nil {
			return err
		}
		out.plan, out.progress = pl, saved
		return nil
	})
	if err != nil {
		if errors.Is(err, shared.ErrVersionConflict) {
			return nil, shared.WrapError("progress", "Apply", shared.ErrTransient,
				fmt.Sprintf("gave up after %d attempts", out.attempts), err)
		}
		return nil, err
	}
	return &out, nil
}

// buildPlan projects the award over p and detects newly pending achievements.
func (e *Engine) buildPlan(p *progress.UserProgress, a award) *plan {
	proj := p.Project(e.levels, a.xpDelta, a.category)

	now := e.now().UTC()
	occurred := a.occurredAt
	if occurred.IsZero() {
		occurred = now
	}
	description := a.description
	if description == "" {
		description = a.source + " " + a.action
	}

	m := progress.Mutation{
		UserID:          p.UserID,
		ExpectedVersion: p.Version,
		XPDelta:         proj.XPApplied,
		Level:           proj.After.Level,
		Category:        a.category,
		CategoryDelta:   proj.CategoryApplied,
		UnlockExercise:  a.unlockExercise,
		Transaction: progress.XpTransaction{
			ID:          uuid.NewString(),
			UserID:      p.UserID,
			Token:       a.token,
			Source:      a.source,
			Action:      a.action,
			Category:    a.category,
			Amount:      proj.XPApplied,
			Description: description,
			ReversalOf:  a.reversalOf,
			OccurredAt:  occurred,
		},
		AddClaimed:    slices.Clone(a.claim),
		RemovePending: slices.Clone(a.removePending),
		At:            now,
	}
	if a.category != "" {
		m.CategoryLevel = proj.After.CategoryLevels[a.category]
	}

	pl := &plan{mutation: m, projection: proj}
	if !a.detect {
		return pl
	}

	// Signals describe the state after the event; before it only the
	// snapshot is known.
	before := achievement.Subject{Snapshot: proj.Before}
	after := achievement.Subject{Snapshot: settle(proj.After, a.claim, a.removePending), Signals: a.signals}
	pl.detection = achievement.DetectNewlyPending(e.catalog, before, after)
	pl.mutation.AddPending = pl.detection.IDs()

	for _, de := range pl.detection.Errors {
		e.logger.Warn("achievement check failed",
			slog.String("user_id", p.UserID),
			slog.String("achievement_id", de.AchievementID),
			slog.String("error", de.Err.Error()),
		)
		pl.warnings = append(pl.warnings, Warning{
			Code:          WarningDetectionFailed,
			AchievementID: de.AchievementID,
			Message:       de.Err.Error(),
		})
	}
	return pl
}

// settle переносит полученные достижения из ожидающих и убирает удалённые.
func settle(s progress.Snapshot, claimed, removed []string) progress.Snapshot {
	if len(claimed) == 0 && len(removed) == 0 {
		return s
	}
	out := s
	out.Pending = slices.DeleteFunc(slices.Clone(s.Pending), func(id string) bool {
		return slices.Contains(claimed, id) || slices.Contains(removed, id)
	})
	out.Claimed = slices.Clone(s.Claimed)
	for _, id := range claimed {
		if !slices.Contains(out.Claimed, id) {
			out.Claimed = append(out.Claimed, id)
		}
	}
	return out
}

// afterSnapshot is the persisted state after a plan, as seen by callers.
func afterSnapshot(pl *plan) progress.Snapshot {
	s := settle(pl.projection.After, pl.mutation.AddClaimed, pl.mutation.RemovePending)
	return s.WithPending(pl.mutation.AddPending...)
}

// publish отправляет события после успешной записи.
// Ошибки публикации превращаются в предупреждения.
func (e *Engine) publish(ctx context.Context, events []shared.Event) []Warning {
	if e.publisher == nil {
		return nil
	}

	var warnings []Warning
	for _, ev := range events {
		if err := e.publisher.Publish(ev); err != nil {
			e.logger.WarnContext(ctx, "event publish failed",
				slog.String("event_type", string(ev.EventType())),
				slog.String("user_id", ev.AggregateID()),
				slog.String("error", err.Error()),
			)
			warnings = append(warnings, Warning{
				Code:    WarningPublishFailed,
				Message: fmt.Sprintf("%s: %v", ev.EventType(), err),
			})
		}
	}
	return warnings
}

// progressEvents builds the standard events for an applied plan.
func (e *Engine) progressEvents(pl *plan, correlationID string) []shared.Event {
	m := pl.mutation
	tx := m.Transaction
	after := pl.projection.After

	var events []shared.Event

	xp := shared.NewXPAwardedEvent(m.UserID, tx.Token, tx.Source, tx.Action, string(tx.Category), tx.Amount, after.TotalXP)
	xp.BaseEvent = xp.BaseEvent.WithCorrelationID(correlationID)
	events = append(events, xp)

	if pl.projection.LeveledUp() {
		lu := shared.NewLevelUpEvent(m.UserID, pl.projection.Before.Level, after.Level, after.TotalXP)
		lu.BaseEvent = lu.BaseEvent.WithCorrelationID(correlationID)
		events = append(events, lu)
	}

	for _, u := range pl.detection.Unlocked {
		ap := shared.NewAchievementPendingEvent(m.UserID, u.Definition.ID, u.Definition.Title, u.Definition.XPReward, u.Backfilled)
		ap.BaseEvent = ap.BaseEvent.WithCorrelationID(correlationID)
		events = append(events, ap)
	}
	return events
}
