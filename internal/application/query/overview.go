// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/progress"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS OVERVIEW QUERY
// Totals, level progress and per-category standing for one user.
// Served from a bounded TTL cache that the event handlers invalidate on
// every award.
// ══════════════════════════════════════════════════════════════════════════════

// overviewKeyPrefix - префикс ключей обзора в общем кэше.
const overviewKeyPrefix = "progress:overview:"

// OverviewKey returns the cache key of a user's overview.
func OverviewKey(userID string) string {
	return overviewKeyPrefix + userID
}

// Cache stores serialized read models. Implementations own the TTL.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// GetProgressOverviewQuery contains the parameters of the overview query.
type GetProgressOverviewQuery struct {
	UserID string

	// SkipCache forces a read from the store.
	SkipCache bool
}

// Validate validates the query.
func (q GetProgressOverviewQuery) Validate() error {
	_, err := shared.NewUserID(q.UserID)
	return err
}

// CategoryOverviewDTO is the standing of one category.
type CategoryOverviewDTO struct {
	Category          progress.Category `json:"category"`
	XP                int               `json:"xp"`
	Level             int               `json:"level"`
	XPToNextLevel     int               `json:"xp_to_next_level"`
	ProgressPercent   float64           `json:"progress_percent"`
	Rank              progress.Rank     `json:"rank"`
	UnlockedExercises []string          `json:"unlocked_exercises"`
}

// ProgressOverviewDTO is the overview read model.
type ProgressOverviewDTO struct {
	UserID          string                `json:"user_id"`
	TotalXP         int                   `json:"total_xp"`
	Level           int                   `json:"level"`
	XPToNextLevel   int                   `json:"xp_to_next_level"`
	ProgressPercent float64               `json:"progress_percent"`
	Categories      []CategoryOverviewDTO `json:"categories"`
	Pending         []string              `json:"pending_achievements"`
	Claimed         []string              `json:"achievements"`
	Version         int64                 `json:"version"`
	UpdatedAt       time.Time             `json:"updated_at"`

	// Cached is true when the overview came from the cache.
	Cached bool `json:"-"`
}

// GetProgressOverviewHandler handles the overview query.
type GetProgressOverviewHandler struct {
	repo   progress.Repository
	levels progress.Calculator
	cache  Cache
	logger *slog.Logger
}

// NewGetProgressOverviewHandler creates a new handler. cache may be nil.
func NewGetProgressOverviewHandler(repo progress.Repository, levels progress.Calculator, cache Cache, logger *slog.Logger) *GetProgressOverviewHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GetProgressOverviewHandler{
		repo:   repo,
		levels: levels,
		cache:  cache,
		logger: logger.With(slog.String("component", "overview_query")),
	}
}

// Handle executes the query. A user without a record gets the zero state;
// the read never creates one.
func (h *GetProgressOverviewHandler) Handle(ctx context.Context, q GetProgressOverviewQuery) (*ProgressOverviewDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_overview: validation failed: %w", err)
	}

	key := OverviewKey(q.UserID)
	if h.cache != nil && !q.SkipCache {
		if dto, ok := h.fromCache(ctx, key); ok {
			return dto, nil
		}
	}

	p, err := h.repo.Get(ctx, q.UserID)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			return nil, fmt.Errorf("get_overview: %w", err)
		}
		p = progress.NewUserProgress(q.UserID, time.Time{})
	}

	dto := BuildOverview(p, h.levels)

	if h.cache != nil {
		if raw, err := json.Marshal(dto); err == nil {
			if err := h.cache.Set(ctx, key, raw); err != nil {
				h.logger.WarnContext(ctx, "overview cache write failed",
					slog.String("user_id", q.UserID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	return dto, nil
}

func (h *GetProgressOverviewHandler) fromCache(ctx context.Context, key string) (*ProgressOverviewDTO, bool) {
	raw, ok, err := h.cache.Get(ctx, key)
	if err != nil {
		h.logger.WarnContext(ctx, "overview cache read failed", slog.String("key", key), slog.String("error", err.Error()))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var dto ProgressOverviewDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		h.logger.WarnContext(ctx, "overview cache entry is corrupt", slog.String("key", key))
		_ = h.cache.Delete(ctx, key)
		return nil, false
	}
	dto.Cached = true
	return &dto, true
}

// BuildOverview converts a record into the overview read model.
func BuildOverview(p *progress.UserProgress, levels progress.Calculator) *ProgressOverviewDTO {
	global := levels.GlobalStanding(p.TotalXP)
	dto := &ProgressOverviewDTO{
		UserID:          p.UserID,
		TotalXP:         p.TotalXP,
		Level:           global.Level,
		XPToNextLevel:   global.XPToNextLevel,
		ProgressPercent: global.ProgressPercent,
		Categories:      make([]CategoryOverviewDTO, 0, len(progress.AllCategories())),
		Pending:         nonNil(p.PendingAchievements),
		Claimed:         nonNil(p.Achievements),
		Version:         p.Version,
		UpdatedAt:       p.UpdatedAt,
	}

	for _, c := range progress.AllCategories() {
		xp := p.CategoryXP[c]
		st := levels.CategoryStanding(xp)
		dto.Categories = append(dto.Categories, CategoryOverviewDTO{
			Category:          c,
			XP:                xp,
			Level:             st.Level,
			XPToNextLevel:     st.XPToNextLevel,
			ProgressPercent:   st.ProgressPercent,
			Rank:              levels.Ranks.RankFor(xp).Rank,
			UnlockedExercises: nonNil(p.CategoryProgress[c].UnlockedExercises),
		})
	}
	return dto
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return append([]string(nil), s...)
}
