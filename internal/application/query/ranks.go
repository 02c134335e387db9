package query

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/progress"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RANK REPORT QUERY
// Per-category rank ladder position and how evenly XP is spread.
// ══════════════════════════════════════════════════════════════════════════════

// GetRankReportQuery contains the parameters of the rank report.
type GetRankReportQuery struct {
	UserID string
}

// CategoryRankDTO is the rank standing of one category.
type CategoryRankDTO struct {
	Category progress.Category `json:"category"`
	XP       int               `json:"xp"`

	// Share is the percentage of all category XP held by this category.
	Share float64 `json:"share"`

	progress.RankStanding
}

// RankReportDTO is the rank report read model.
type RankReportDTO struct {
	UserID       string            `json:"user_id"`
	Categories   []CategoryRankDTO `json:"categories"`
	BalanceScore int               `json:"balance_score"`

	// Strongest and Weakest are empty when no category has XP.
	Strongest progress.Category `json:"strongest,omitempty"`
	Weakest   progress.Category `json:"weakest,omitempty"`
}

// GetRankReportHandler handles the rank report.
type GetRankReportHandler struct {
	repo   progress.Repository
	levels progress.Calculator
}

// NewGetRankReportHandler creates a new handler.
func NewGetRankReportHandler(repo progress.Repository, levels progress.Calculator) *GetRankReportHandler {
	return &GetRankReportHandler{repo: repo, levels: levels}
}

// Handle executes the query.
func (h *GetRankReportHandler) Handle(ctx context.Context, q GetRankReportQuery) (*RankReportDTO, error) {
	if _, err := shared.NewUserID(q.UserID); err != nil {
		return nil, fmt.Errorf("get_ranks: validation failed: %w", err)
	}

	p, err := h.repo.Get(ctx, q.UserID)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			return nil, fmt.Errorf("get_ranks: %w", err)
		}
		p = progress.NewUserProgress(q.UserID, time.Time{})
	}
	return BuildRankReport(p, h.levels.Ranks), nil
}

// BuildRankReport computes the rank report of a record.
func BuildRankReport(p *progress.UserProgress, ladder progress.RankLadder) *RankReportDTO {
	total := 0
	for _, c := range progress.AllCategories() {
		total += max(p.CategoryXP[c], 0)
	}

	dto := &RankReportDTO{
		UserID:       p.UserID,
		Categories:   make([]CategoryRankDTO, 0, len(progress.AllCategories())),
		BalanceScore: progress.BalanceScore(p.CategoryXP),
	}

	best, worst := -1, math.MaxInt
	for _, c := range progress.AllCategories() {
		xp := p.CategoryXP[c]
		share := 0.0
		if total > 0 {
			share = math.Round(float64(max(xp, 0))*1000/float64(total)) / 10
		}
		dto.Categories = append(dto.Categories, CategoryRankDTO{
			Category:     c,
			XP:           xp,
			Share:        share,
			RankStanding: ladder.RankFor(xp),
		})
		if total == 0 {
			continue
		}
		if xp > best {
			best, dto.Strongest = xp, c
		}
		if xp < worst {
			worst, dto.Weakest = xp, c
		}
	}
	return dto
}
