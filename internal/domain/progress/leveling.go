package progress

import (
	"fmt"
	"math"
	"sort"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEVEL CURVES
// ══════════════════════════════════════════════════════════════════════════════

// Curve - квадратичная кривая уровней: xpForLevel(L) = ceil(Scale * (L-1)^2).
// Уровень растёт медленнее, чем XP. Уровень ограничен сверху MaxLevel.
type Curve struct {
	// Scale - XP, необходимый для перехода с 1 на 2 уровень.
	Scale float64 `toml:"scale" json:"scale"`

	// MaxLevel - максимальный достижимый уровень.
	MaxLevel int `toml:"max_level" json:"max_level"`
}

// DefaultGlobalCurve возвращает кривую общего уровня.
func DefaultGlobalCurve() Curve {
	return Curve{Scale: 100, MaxLevel: 100}
}

// DefaultCategoryCurve возвращает кривую уровня категории.
func DefaultCategoryCurve() Curve {
	return Curve{Scale: 50, MaxLevel: 50}
}

// Validate проверяет параметры кривой.
// Scale >= 1 гарантирует строгий рост xpForLevel после округления.
func (c Curve) Validate() error {
	if c.Scale < 1 {
		return shared.NewDomainError("progress", "Curve.Validate", shared.ErrValueOutOfRange, "scale must be >= 1")
	}
	if c.MaxLevel < 2 {
		return shared.NewDomainError("progress", "Curve.Validate", shared.ErrValueOutOfRange, "max_level must be >= 2")
	}
	return nil
}

// XPForLevel возвращает минимальный XP, на котором достигается уровень.
func (c Curve) XPForLevel(level int) int {
	if level <= 1 {
		return 0
	}
	if level > c.MaxLevel {
		level = c.MaxLevel
	}
	steps := float64(level - 1)
	return int(math.Ceil(c.Scale * steps * steps))
}

// LevelFor возвращает уровень для накопленного XP (>= 1).
// Оценка через корень уточняется так, чтобы
// XPForLevel(level) <= xp < XPForLevel(level+1).
func (c Curve) LevelFor(xp int) int {
	if xp <= 0 {
		return 1
	}

	level := 1 + int(math.Floor(math.Sqrt(float64(xp)/c.Scale)))
	if level > c.MaxLevel {
		level = c.MaxLevel
	}
	for level > 1 && c.XPForLevel(level) > xp {
		level--
	}
	for level < c.MaxLevel && c.XPForLevel(level+1) <= xp {
		level++
	}
	return level
}

// XPToNextLevel возвращает XP до следующего уровня; 0 на максимальном уровне.
func (c Curve) XPToNextLevel(xp int) int {
	level := c.LevelFor(xp)
	if level >= c.MaxLevel {
		return 0
	}
	if xp < 0 {
		xp = 0
	}
	return c.XPForLevel(level+1) - xp
}

// ProgressPercent возвращает прогресс внутри текущего уровня (0-100).
func (c Curve) ProgressPercent(xp int) float64 {
	level := c.LevelFor(xp)
	if level >= c.MaxLevel {
		return 100
	}
	floor := c.XPForLevel(level)
	span := c.XPForLevel(level+1) - floor
	if span <= 0 {
		return 100
	}
	pct := float64(max(xp, 0)-floor) * 100 / float64(span)
	return clampPercent(roundTo(pct, 1))
}

// ══════════════════════════════════════════════════════════════════════════════
// RANK LADDER
// ══════════════════════════════════════════════════════════════════════════════

// RankLadder - упорядоченные по возрастанию пороги рангов.
type RankLadder []RankThreshold

// RankStanding - положение в ранговой лестнице категории.
type RankStanding struct {
	Rank            Rank    `json:"rank"`
	NextRank        Rank    `json:"next_rank,omitempty"`
	XPToNextRank    int     `json:"xp_to_next_rank"`
	ProgressPercent float64 `json:"progress_percent"`
}

// Validate проверяет, что пороги начинаются с нуля и строго возрастают.
func (l RankLadder) Validate() error {
	if len(l) == 0 {
		return shared.NewDomainError("progress", "RankLadder.Validate", shared.ErrEmptyValue, "rank ladder is empty")
	}
	if l[0].MinXP != 0 {
		return shared.NewDomainError("progress", "RankLadder.Validate", shared.ErrValueOutOfRange, "first rank must start at 0 XP")
	}
	for i := 1; i < len(l); i++ {
		if l[i].MinXP <= l[i-1].MinXP {
			return shared.NewDomainError("progress", "RankLadder.Validate", shared.ErrInvalidInput,
				fmt.Sprintf("rank %s threshold must exceed %s", l[i].Rank, l[i-1].Rank))
		}
	}
	return nil
}

// RankFor возвращает ранг и прогресс до следующего ранга для XP категории.
func (l RankLadder) RankFor(xp int) RankStanding {
	if len(l) == 0 {
		return RankStanding{Rank: RankNovice}
	}

	idx := sort.Search(len(l), func(i int) bool { return l[i].MinXP > xp }) - 1
	if idx < 0 {
		idx = 0
	}

	standing := RankStanding{Rank: l[idx].Rank, ProgressPercent: 100}
	if idx+1 < len(l) {
		next := l[idx+1]
		standing.NextRank = next.Rank
		standing.XPToNextRank = next.MinXP - max(xp, 0)
		span := next.MinXP - l[idx].MinXP
		standing.ProgressPercent = clampPercent(roundTo(float64(max(xp, 0)-l[idx].MinXP)*100/float64(span), 1))
	}
	return standing
}

// ══════════════════════════════════════════════════════════════════════════════
// CALCULATOR
// ══════════════════════════════════════════════════════════════════════════════

// Calculator объединяет кривые уровней и ранговую лестницу.
// Все методы чистые и идемпотентные.
type Calculator struct {
	Global   Curve
	Category Curve
	Ranks    RankLadder
}

// DefaultCalculator возвращает калькулятор с параметрами по умолчанию.
func DefaultCalculator() Calculator {
	return Calculator{
		Global:   DefaultGlobalCurve(),
		Category: DefaultCategoryCurve(),
		Ranks:    RankLadder(DefaultRankThresholds()),
	}
}

// Validate проверяет все параметры калькулятора.
func (c Calculator) Validate() error {
	if err := c.Global.Validate(); err != nil {
		return fmt.Errorf("global curve: %w", err)
	}
	if err := c.Category.Validate(); err != nil {
		return fmt.Errorf("category curve: %w", err)
	}
	if err := c.Ranks.Validate(); err != nil {
		return fmt.Errorf("ranks: %w", err)
	}
	return nil
}

// LevelStanding - уровень и прогресс до следующего уровня.
type LevelStanding struct {
	Level           int     `json:"level"`
	XP              int     `json:"xp"`
	XPToNextLevel   int     `json:"xp_to_next_level"`
	ProgressPercent float64 `json:"progress_percent"`
}

// GlobalStanding вычисляет положение по общему XP.
func (c Calculator) GlobalStanding(xp int) LevelStanding {
	return standing(c.Global, xp)
}

// CategoryStanding вычисляет положение по XP категории.
func (c Calculator) CategoryStanding(xp int) LevelStanding {
	return standing(c.Category, xp)
}

func standing(curve Curve, xp int) LevelStanding {
	return LevelStanding{
		Level:           curve.LevelFor(xp),
		XP:              xp,
		XPToNextLevel:   curve.XPToNextLevel(xp),
		ProgressPercent: curve.ProgressPercent(xp),
	}
}

// BalanceScore оценивает равномерность XP по категориям (0-100).
// 100 - идеальное равное распределение, 0 - весь XP в одной категории
// или XP по категориям отсутствует.
func BalanceScore(categoryXP map[Category]int) int {
	categories := AllCategories()
	n := float64(len(categories))

	total := 0
	for _, c := range categories {
		total += max(categoryXP[c], 0)
	}
	if total == 0 {
		return 0
	}

	equal := 100.0 / n
	sumDev := 0.0
	for _, c := range categories {
		share := float64(max(categoryXP[c], 0)) * 100 / float64(total)
		sumDev += math.Abs(share - equal)
	}
	avgDev := sumDev / n
	maxAvgDev := 2 * (100 - equal) / n

	score := 100 * (1 - avgDev/maxAvgDev)
	return int(math.Round(math.Max(0, math.Min(100, score))))
}

func clampPercent(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
