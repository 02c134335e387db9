package progress

import (
	"strings"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CATEGORY MODEL
// ══════════════════════════════════════════════════════════════════════════════

// Category - фиксированное направление тренировок, прогресс по которому
// считается отдельно от общего.
type Category string

const (
	CategoryCore Category = "core"
	CategoryPush Category = "push"
	CategoryPull Category = "pull"
	CategoryLegs Category = "legs"
)

var allCategories = []Category{CategoryCore, CategoryPush, CategoryPull, CategoryLegs}

// AllCategories возвращает все категории в стабильном порядке.
func AllCategories() []Category {
	out := make([]Category, len(allCategories))
	copy(out, allCategories)
	return out
}

// IsValid проверяет, что категория входит в фиксированный набор.
func (c Category) IsValid() bool {
	for _, known := range allCategories {
		if c == known {
			return true
		}
	}
	return false
}

// String возвращает строковое представление.
func (c Category) String() string {
	return string(c)
}

// ParseCategory разбирает категорию без учёта регистра.
// Пустая строка означает "без категории" и возвращается без ошибки.
func ParseCategory(value string) (Category, error) {
	v := Category(strings.ToLower(strings.TrimSpace(value)))
	if v == "" {
		return "", nil
	}
	if !v.IsValid() {
		return "", shared.WrapError("progress", "ParseCategory", shared.ErrInvalidInput,
			"unknown category "+value, shared.ErrUnknownCategory)
	}
	return v, nil
}

// EqualShare - доля каждой категории при идеальном балансе, в процентах.
func EqualShare() float64 {
	return 100.0 / float64(len(allCategories))
}

// ══════════════════════════════════════════════════════════════════════════════
// RANK TIERS
// ══════════════════════════════════════════════════════════════════════════════

// Rank - ранг в категории, вычисляется по XP категории (не по уровню).
type Rank string

const (
	RankNovice       Rank = "Novice"
	RankBeginner     Rank = "Beginner"
	RankIntermediate Rank = "Intermediate"
	RankAdvanced     Rank = "Advanced"
	RankExpert       Rank = "Expert"
	RankMaster       Rank = "Master"
)

// RankThreshold - минимальный XP категории для ранга.
type RankThreshold struct {
	Rank  Rank `toml:"rank" json:"rank"`
	MinXP int  `toml:"min_xp" json:"min_xp"`
}

// DefaultRankThresholds возвращает пороги рангов по умолчанию.
func DefaultRankThresholds() []RankThreshold {
	return []RankThreshold{
		{Rank: RankNovice, MinXP: 0},
		{Rank: RankBeginner, MinXP: 500},
		{Rank: RankIntermediate, MinXP: 1500},
		{Rank: RankAdvanced, MinXP: 3500},
		{Rank: RankExpert, MinXP: 7000},
		{Rank: RankMaster, MinXP: 12000},
	}
}
