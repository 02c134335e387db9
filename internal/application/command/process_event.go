package command

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/progress"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/shared"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/xprules"
	"github.com/lfmcagency/fitness-tracker-sub001/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROCESS EVENT COMMAND
// Turns a domain activity into an XP award: computes the amount, updates
// global and category levels, marks newly eligible achievements as pending
// and returns reversal data for the caller.
// ══════════════════════════════════════════════════════════════════════════════

// ProcessEventCommand is the normalized event contract.
type ProcessEventCommand struct {
	// Token is the idempotency and reversal handle. Generated when empty.
	Token string

	// UserID is the authenticated user.
	UserID string

	// Source is the emitting domain: task, nutrition, weight.
	Source string

	// Action is the domain action, reverse_-prefixed for reversals.
	Action string

	// Context carries the domain-specific fields.
	Context xprules.Context

	// Timestamp is when the activity happened (defaults to now).
	Timestamp time.Time

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c ProcessEventCommand) Validate() error {
	if _, err := shared.NewUserID(c.UserID); err != nil {
		return err
	}
	if c.Token != "" {
		if _, err := shared.NewToken(c.Token); err != nil {
			return err
		}
	}
	if c.Source == "" {
		return shared.ErrMissingSource
	}
	if c.Source == xprules.SourceAchievement {
		return shared.NewDomainError("event", "Validate", shared.ErrInvalidInput, "achievement XP is awarded through claims")
	}
	if c.Action == "" || c.Action == xprules.ReversePrefix {
		return shared.ErrMissingAction
	}
	if _, err := progress.ParseCategory(c.Context.Category); err != nil {
		return err
	}

	ctx := c.Context
	switch {
	case ctx.Streak < 0:
		return shared.NewDomainError("event", "Validate", shared.ErrNegativeValue, "streak cannot be negative")
	case ctx.DailyCount < 0:
		return shared.NewDomainError("event", "Validate", shared.ErrNegativeValue, "dailyCount cannot be negative")
	case ctx.MacroCompletion < 0:
		return shared.NewDomainError("event", "Validate", shared.ErrNegativeValue, "macroCompletion cannot be negative")
	case ctx.XPReward < 0:
		return shared.NewDomainError("event", "Validate", shared.ErrNegativeValue, "xpReward cannot be negative")
	case ctx.Streak > xprules.MaxStreak:
		return shared.NewDomainError("event", "Validate", shared.ErrValueOutOfRange, fmt.Sprintf("streak must be <= %d", xprules.MaxStreak))
	case ctx.DailyCount > xprules.MaxDailyCount:
		return shared.NewDomainError("event", "Validate", shared.ErrValueOutOfRange, fmt.Sprintf("dailyCount must be <= %d", xprules.MaxDailyCount))
	case ctx.MacroCompletion > xprules.MaxMacroCompletion:
		return shared.NewDomainError("event", "Validate", shared.ErrValueOutOfRange, fmt.Sprintf("macroCompletion must be <= %d", xprules.MaxMacroCompletion))
	case ctx.XPReward > xprules.MaxXPReward:
		return shared.NewDomainError("event", "Validate", shared.ErrValueOutOfRange, fmt.Sprintf("xpReward must be <= %d", xprules.MaxXPReward))
	}
	if ctx.ReversalOf != "" && !xprules.IsReversal(c.Action) {
		return shared.NewDomainError("event", "Validate", shared.ErrInvalidInput, "reversalOf requires a reverse_ action")
	}
	switch ctx.Difficulty {
	case "", xprules.DifficultyEasy, xprules.DifficultyMedium, xprules.DifficultyHard:
	default:
		return shared.NewDomainError("event", "Validate", shared.ErrInvalidInput, "unknown difficulty: "+ctx.Difficulty)
	}
	return nil
}

// CategoryResult reports category progress after an award.
type CategoryResult struct {
	Category        progress.Category `json:"category"`
	XP              int               `json:"xp"`
	XPApplied       int               `json:"xp_applied"`
	Level           int               `json:"level"`
	LeveledUp       bool              `json:"leveled_up"`
	XPToNextLevel   int               `json:"xp_to_next_level"`
	ProgressPercent float64           `json:"progress_percent"`
	Rank            progress.Rank     `json:"rank"`
}

// ReversalData is returned to the caller and is enough to replay the
// inverse of an award. It is not stored by the engine.
//
// RevertAward reads only Token, UserID and NewlyPending; amounts and category
// are taken from the journaled transaction.
type ReversalData struct {
	Token         string            `json:"token"`
	UserID        string            `json:"user_id"`
	Before        progress.Snapshot `json:"before"`
	After         progress.Snapshot `json:"after"`
	XPDelta       int               `json:"xp_delta"`
	Category      progress.Category `json:"category,omitempty"`
	CategoryDelta int               `json:"category_delta"`
	NewlyPending  []string          `json:"newly_pending"`
}

// ProcessEventResult contains the result of processing an event.
type ProcessEventResult struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
	Source string `json:"source"`
	Action string `json:"action"`

	// XPAwarded is the signed XP actually applied after clamping.
	XPAwarded int `json:"xp_awarded"`

	// Calculated is the rule output before clamping.
	Calculated int               `json:"calculated"`
	Breakdown  xprules.Breakdown `json:"breakdown"`

	TotalXP         int             `json:"total_xp"`
	Level           int             `json:"level"`
	LeveledUp       bool            `json:"leveled_up"`
	XPToNextLevel   int             `json:"xp_to_next_level"`
	ProgressPercent float64         `json:"progress_percent"`
	Category        *CategoryResult `json:"category,omitempty"`

	NewlyPending []string     `json:"newly_pending"`
	Reversal     ReversalData `json:"reversal"`
	Warnings     []Warning    `json:"warnings,omitempty"`

	// Replayed is true when the token had already been processed.
	Replayed    bool      `json:"replayed"`
	ProcessedAt time.Time `json:"processed_at"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// ResultStore remembers results per idempotency key. SetIfAbsent keeps the
// first value written.
type ResultStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	SetIfAbsent(ctx context.Context, key string, value []byte) (bool, error)
}

// ProcessEventHandler handles the ProcessEventCommand.
type ProcessEventHandler struct {
	engine   *Engine
	rules    *xprules.Calculator
	results  ResultStore
	location *time.Location
}

// ProcessEventHandlerConfig contains configuration for the handler.
type ProcessEventHandlerConfig struct {
	// Location defines calendar days for daily caps.
	Location *time.Location
}

// DefaultProcessEventHandlerConfig returns default configuration.
func DefaultProcessEventHandlerConfig() ProcessEventHandlerConfig {
	return ProcessEventHandlerConfig{Location: time.UTC}
}

// NewProcessEventHandler creates a new ProcessEventHandler. results may be nil.
func NewProcessEventHandler(
	engine *Engine,
	rules *xprules.Calculator,
	results ResultStore,
	config ProcessEventHandlerConfig,
) *ProcessEventHandler {
	if config.Location == nil {
		config = DefaultProcessEventHandlerConfig()
	}
	return &ProcessEventHandler{
		engine:   engine,
		rules:    rules,
		results:  results,
		location: config.Location,
	}
}

// IdempotencyKey derives the result-store key for (userID, token).
func IdempotencyKey(userID, token string) string {
	sum := blake2b.Sum256([]byte(userID + "\x00" + token))
	return "event:" + hex.EncodeToString(sum[:])
}

// Handle executes the process event command.
func (h *ProcessEventHandler) Handle(ctx context.Context, cmd ProcessEventCommand) (*ProcessEventResult, error) {
	if err := cmd.Validate(); err != nil {
		h.engine.recorder.EventProcessed(cmd.Source, cmd.Action, "invalid")
		return nil, fmt.Errorf("process_event: validation failed: %w", err)
	}
	if cmd.Token == "" {
		cmd.Token = uuid.NewString()
	}
	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = h.engine.now().UTC()
	}

	log := h.engine.logger.With(
		slog.String("user_id", cmd.UserID),
		slog.String("token", cmd.Token),
		slog.String("source", cmd.Source),
		slog.String("action", cmd.Action),
	)

	key := IdempotencyKey(cmd.UserID, cmd.Token)
	if stored, ok := h.lookupResult(ctx, key, log); ok {
		h.engine.recorder.EventProcessed(cmd.Source, cmd.Action, "replayed")
		return stored, nil
	}

	category, _ := progress.ParseCategory(cmd.Context.Category)
	signals := eventSignals(cmd.Source, cmd.Context)

	var rule xprules.Result
	var ruleWarnings []Warning

	out, err := h.engine.run(ctx, cmd.UserID, func(ctx context.Context, p *progress.UserProgress) (*plan, error) {
		ruleWarnings = ruleWarnings[:0]

		amount, res, cat, warns, err := h.amountFor(ctx, cmd, category)
		if err != nil {
			return nil, err
		}
		rule, ruleWarnings = res, warns

		pl := h.engine.buildPlan(p, award{
			token:          cmd.Token,
			source:         cmd.Source,
			action:         cmd.Action,
			category:       cat,
			xpDelta:        amount,
			description:    cmd.Context.Description,
			reversalOf:     cmd.Context.ReversalOf,
			unlockExercise: cmd.Context.UnlockedExercise,
			signals:        signals,
			occurredAt:     cmd.Timestamp,
			detect:         true,
		})
		return pl, nil
	})
	if err != nil {
		if errors.Is(err, shared.ErrDuplicateToken) {
			log.Info("event token already applied, replaying")
			return h.replayFromLog(ctx, cmd)
		}
		h.engine.recorder.EventProcessed(cmd.Source, cmd.Action, "failed")
		return nil, fmt.Errorf("process_event: %w", err)
	}

	result := h.buildResult(cmd, out, rule)
	result.Warnings = append(result.Warnings, ruleWarnings...)
	result.Warnings = append(result.Warnings, out.plan.warnings...)
	result.Warnings = append(result.Warnings, h.engine.publish(ctx, h.engine.progressEvents(out.plan, cmd.CorrelationID))...)

	if w := h.storeResult(ctx, key, result, log); w != nil {
		result.Warnings = append(result.Warnings, *w)
	}

	h.engine.recorder.EventProcessed(cmd.Source, cmd.Action, "applied")
	h.engine.recorder.XPApplied(cmd.Source, result.XPAwarded)
	h.engine.recorder.AchievementsPending(len(result.NewlyPending))

	log.Info("event processed",
		slog.Int("xp", result.XPAwarded),
		slog.Int("total_xp", result.TotalXP),
		slog.Int("level", result.Level),
		slog.Any("newly_pending", result.NewlyPending),
		slog.Int("attempts", out.attempts),
	)
	return result, nil
}

// amountFor computes the signed XP for the event on the current log.
// Exact reversal negates the amount recorded on the original transaction.
func (h *ProcessEventHandler) amountFor(ctx context.Context, cmd ProcessEventCommand, category progress.Category) (int, xprules.Result, progress.Category, []Warning, error) {
	rctx := cmd.Context
	var warnings []Warning

	if xprules.IsReversal(cmd.Action) && rctx.ReversalOf != "" {
		orig, found, err := h.findOriginal(ctx, cmd.UserID, cmd.Token, rctx.ReversalOf)
		if err != nil {
			return 0, xprules.Result{}, "", nil, err
		}
		if found {
			if category == "" {
				category = orig.Category
			}
			res := xprules.Result{
				Amount:    -orig.Amount,
				Reversal:  true,
				Known:     true,
				Breakdown: xprules.Breakdown{Base: orig.Amount, Multiplier: 1, Total: orig.Amount},
			}
			return res.Amount, res, category, nil, nil
		}
		warnings = append(warnings, Warning{
			Code:    WarningOriginalMissing,
			Message: "original transaction " + rctx.ReversalOf + " not found, amount recomputed from context",
		})
	}

	if rctx.DailyCount == 0 && h.rules.HasDailyCap(cmd.Source, cmd.Action) {
		n, err := h.dailyOrdinal(ctx, cmd)
		if err != nil {
			return 0, xprules.Result{}, "", nil, err
		}
		rctx.DailyCount = n
	}

	res := h.rules.Calculate(cmd.Source, cmd.Action, rctx)
	if !res.Known {
		h.engine.logger.Warn("no xp rule for event, default amount applied",
			slog.String("source", cmd.Source),
			slog.String("action", cmd.Action),
			slog.Int("xp", res.Amount),
		)
		warnings = append(warnings, Warning{
			Code:    WarningUnknownRule,
			Message: fmt.Sprintf("no rule for %s/%s", cmd.Source, cmd.Action),
		})
	}
	return res.Amount, res, category, warnings, nil
}

func (h *ProcessEventHandler) findOriginal(ctx context.Context, userID, eventToken, token string) (progress.XpTransaction, bool, error) {
	done, err := h.engine.repo.FindTransactions(ctx, progress.TransactionFilter{UserID: userID, ReversalOf: token, Limit: 1})
	if err != nil {
		return progress.XpTransaction{}, false, fmt.Errorf("find reversals: %w", err)
	}
	if len(done) > 0 {
		if done[0].Token == eventToken {
			return progress.XpTransaction{}, false, shared.ErrDuplicateToken
		}
		return progress.XpTransaction{}, false, shared.ErrAlreadyReverse
	}

	txs, err := h.engine.repo.FindTransactions(ctx, progress.TransactionFilter{UserID: userID, Token: token, Limit: 1})
	if err != nil {
		return progress.XpTransaction{}, false, fmt.Errorf("find original: %w", err)
	}
	if len(txs) == 0 {
		return progress.XpTransaction{}, false, nil
	}
	if txs[0].IsReversal() {
		return progress.XpTransaction{}, false, shared.NewDomainError("event", "Reverse", shared.ErrInvalidInput, "cannot reverse a reversal")
	}
	return txs[0], true, nil
}

// dailyOrdinal derives the 1-based ordinal of a capped action today from the
// log: forward occurrences minus reversals. A reversal takes the ordinal of
// the latest occurrence it undoes.
func (h *ProcessEventHandler) dailyOrdinal(ctx context.Context, cmd ProcessEventCommand) (int, error) {
	from, to := timeutil.DayRange(cmd.Timestamp, h.location)
	forward := xprules.ForwardAction(cmd.Action)

	count := func(action string) (int, error) {
		txs, err := h.engine.repo.FindTransactions(ctx, progress.TransactionFilter{
			UserID: cmd.UserID,
			Source: cmd.Source,
			Action: action,
			Range:  shared.TimeRange{From: from, To: to},
		})
		return len(txs), err
	}

	fwd, err := count(forward)
	if err != nil {
		return 0, fmt.Errorf("count daily actions: %w", err)
	}
	rev, err := count(xprules.ReverseAction(forward))
	if err != nil {
		return 0, fmt.Errorf("count daily reversals: %w", err)
	}

	n := fwd - rev
	if !xprules.IsReversal(cmd.Action) {
		n++
	}
	return max(n, 1), nil
}

// eventSignals merges the context streak into the signals of the source.
func eventSignals(source string, c xprules.Context) progress.Signals {
	signals := progress.Signals{}
	if c.Signals != nil {
		signals = c.Signals.Merge(nil)
	}
	if c.Streak > 0 {
		streak := c.Streak
		signals = signals.Merge(progress.Signals{source: {Streak: &streak}})
	}
	return signals
}

func (h *ProcessEventHandler) buildResult(cmd ProcessEventCommand, out *applied, rule xprules.Result) *ProcessEventResult {
	pl := out.plan
	proj := pl.projection
	levels := h.engine.levels
	global := levels.GlobalStanding(proj.After.TotalXP)

	res := &ProcessEventResult{
		Token:           cmd.Token,
		UserID:          cmd.UserID,
		Source:          cmd.Source,
		Action:          cmd.Action,
		XPAwarded:       proj.XPApplied,
		Calculated:      rule.Amount,
		Breakdown:       rule.Breakdown,
		TotalXP:         proj.After.TotalXP,
		Level:           proj.After.Level,
		LeveledUp:       proj.LeveledUp(),
		XPToNextLevel:   global.XPToNextLevel,
		ProgressPercent: global.ProgressPercent,
		NewlyPending:    pl.detection.IDs(),
		ProcessedAt:     pl.mutation.At,
		Reversal: ReversalData{
			Token:         cmd.Token,
			UserID:        cmd.UserID,
			Before:        proj.Before,
			After:         afterSnapshot(pl),
			XPDelta:       proj.XPApplied,
			Category:      proj.Category,
			CategoryDelta: proj.CategoryApplied,
			NewlyPending:  pl.detection.IDs(),
		},
	}

	if c := proj.Category; c != "" {
		xp := proj.After.CategoryXP[c]
		st := levels.CategoryStanding(xp)
		res.Category = &CategoryResult{
			Category:        c,
			XP:              xp,
			XPApplied:       proj.CategoryApplied,
			Level:           st.Level,
			LeveledUp:       proj.CategoryLeveledUp(),
			XPToNextLevel:   st.XPToNextLevel,
			ProgressPercent: st.ProgressPercent,
			Rank:            levels.Ranks.RankFor(xp).Rank,
		}
	}
	return res
}

// ══════════════════════════════════════════════════════════════════════════════
// IDEMPOTENCY
// ══════════════════════════════════════════════════════════════════════════════

func (h *ProcessEventHandler) lookupResult(ctx context.Context, key string, log *slog.Logger) (*ProcessEventResult, bool) {
	if h.results == nil {
		return nil, false
	}
	raw, ok, err := h.results.Get(ctx, key)
	if err != nil {
		log.Warn("idempotency lookup failed", slog.String("error", err.Error()))
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var res ProcessEventResult
	if err := json.Unmarshal(raw, &res); err != nil {
		log.Warn("stored result is unreadable", slog.String("error", err.Error()))
		return nil, false
	}
	res.Replayed = true
	return &res, true
}

func (h *ProcessEventHandler) storeResult(ctx context.Context, key string, res *ProcessEventResult, log *slog.Logger) *Warning {
	if h.results == nil {
		return nil
	}
	raw, err := json.Marshal(res)
	if err == nil {
		_, err = h.results.SetIfAbsent(ctx, key, raw)
	}
	if err != nil {
		log.Warn("idempotency store failed", slog.String("error", err.Error()))
		return &Warning{Code: WarningIdempotencyStore, Message: err.Error()}
	}
	return nil
}

// replayFromLog rebuilds a result from the stored transaction when the
// result store no longer holds it. Snapshots reflect the current record.
func (h *ProcessEventHandler) replayFromLog(ctx context.Context, cmd ProcessEventCommand) (*ProcessEventResult, error) {
	txs, err := h.engine.repo.FindTransactions(ctx, progress.TransactionFilter{UserID: cmd.UserID, Token: cmd.Token, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("process_event: replay: %w", err)
	}
	if len(txs) == 0 {
		return nil, fmt.Errorf("process_event: replay: %w", shared.ErrTransactionAbsent)
	}
	tx := txs[0]

	p, err := h.engine.repo.Get(ctx, cmd.UserID)
	if err != nil {
		return nil, fmt.Errorf("process_event: replay: %w", err)
	}
	snap := p.Snapshot()
	global := h.engine.levels.GlobalStanding(p.TotalXP)

	h.engine.recorder.EventProcessed(cmd.Source, cmd.Action, "replayed")
	return &ProcessEventResult{
		Token:           tx.Token,
		UserID:          cmd.UserID,
		Source:          tx.Source,
		Action:          tx.Action,
		XPAwarded:       tx.Amount,
		Calculated:      tx.Amount,
		TotalXP:         p.TotalXP,
		Level:           p.Level,
		XPToNextLevel:   global.XPToNextLevel,
		ProgressPercent: global.ProgressPercent,
		NewlyPending:    []string{},
		Reversal: ReversalData{
			Token:    tx.Token,
			UserID:   cmd.UserID,
			After:    snap,
			XPDelta:  tx.Amount,
			Category: tx.Category,
		},
		Replayed:    true,
		ProcessedAt: tx.OccurredAt,
	}, nil
}
