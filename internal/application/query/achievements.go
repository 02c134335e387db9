package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/achievement"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/progress"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT BOARD QUERY
// Every catalog entry with its state for the user.
// ══════════════════════════════════════════════════════════════════════════════

// GetAchievementBoardQuery contains the parameters of the board query.
type GetAchievementBoardQuery struct {
	UserID string

	// State narrows the board to one state when set.
	State achievement.State
}

// Validate validates the query.
func (q GetAchievementBoardQuery) Validate() error {
	if _, err := shared.NewUserID(q.UserID); err != nil {
		return err
	}
	switch q.State {
	case "", achievement.StateLocked, achievement.StatePending, achievement.StateClaimed:
		return nil
	default:
		return shared.NewDomainError("achievement", "Board", shared.ErrInvalidInput, "unknown state "+string(q.State))
	}
}

// AchievementEntryDTO is one board entry.
type AchievementEntryDTO struct {
	achievement.DefinitionDoc
	State achievement.State `json:"state"`
}

// AchievementBoardDTO is the board read model.
type AchievementBoardDTO struct {
	UserID         string                    `json:"user_id"`
	CatalogVersion string                    `json:"catalog_version"`
	Entries        []AchievementEntryDTO     `json:"achievements"`
	Counts         map[achievement.State]int `json:"counts"`
}

// GetAchievementBoardHandler handles the board query.
type GetAchievementBoardHandler struct {
	repo    progress.Repository
	catalog *achievement.Catalog
}

// NewGetAchievementBoardHandler creates a new handler.
func NewGetAchievementBoardHandler(repo progress.Repository, catalog *achievement.Catalog) *GetAchievementBoardHandler {
	return &GetAchievementBoardHandler{repo: repo, catalog: catalog}
}

// Handle executes the query.
func (h *GetAchievementBoardHandler) Handle(ctx context.Context, q GetAchievementBoardQuery) (*AchievementBoardDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_achievements: validation failed: %w", err)
	}

	p, err := h.repo.Get(ctx, q.UserID)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			return nil, fmt.Errorf("get_achievements: %w", err)
		}
		p = progress.NewUserProgress(q.UserID, time.Time{})
	}

	board := achievement.Board(h.catalog, p.Snapshot())
	dto := &AchievementBoardDTO{
		UserID:         q.UserID,
		CatalogVersion: h.catalog.Version(),
		Entries:        make([]AchievementEntryDTO, 0, len(board)),
		Counts: map[achievement.State]int{
			achievement.StateLocked:  0,
			achievement.StatePending: 0,
			achievement.StateClaimed: 0,
		},
	}
	for _, e := range board {
		dto.Counts[e.State]++
		if q.State != "" && e.State != q.State {
			continue
		}
		dto.Entries = append(dto.Entries, AchievementEntryDTO{DefinitionDoc: e.Definition.Doc(), State: e.State})
	}
	return dto, nil
}
