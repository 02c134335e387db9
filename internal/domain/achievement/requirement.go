// Package achievement holds the achievement catalog, the eligibility checker
// and the locked → pending → claimed lifecycle.
package achievement

import (
	"fmt"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/progress"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/shared"
)

// RequirementKind names a requirement variant.
type RequirementKind string

const (
	KindLevel          RequirementKind = "level"
	KindTotalXP        RequirementKind = "total_xp"
	KindCategoryLevel  RequirementKind = "category_level"
	KindStreak         RequirementKind = "streak"
	KindCompletedCount RequirementKind = "completed_count"
)

// Requirement is one condition of an achievement. The concrete types below
// are the only implementations.
type Requirement interface {
	Kind() RequirementKind

	// UsesSignals reports whether the requirement depends on data outside
	// the progress snapshot.
	UsesSignals() bool

	validate() error
}

// LevelRequirement holds when the global level is at least Min.
type LevelRequirement struct {
	Min int
}

// TotalXPRequirement holds when total XP is at least Min.
type TotalXPRequirement struct {
	Min int
}

// CategoryLevelRequirement holds when the category level is at least Min.
type CategoryLevelRequirement struct {
	Category progress.Category
	Min      int
}

// StreakRequirement holds when the caller-supplied streak for Source is at
// least Days. An empty Source accepts the best streak of any source.
type StreakRequirement struct {
	Source string
	Days   int
}

// CompletedCountRequirement holds when the caller-supplied completed count
// for Source is at least Count.
type CompletedCountRequirement struct {
	Source string
	Count  int
}

func (LevelRequirement) Kind() RequirementKind          { return KindLevel }
func (TotalXPRequirement) Kind() RequirementKind        { return KindTotalXP }
func (CategoryLevelRequirement) Kind() RequirementKind  { return KindCategoryLevel }
func (StreakRequirement) Kind() RequirementKind         { return KindStreak }
func (CompletedCountRequirement) Kind() RequirementKind { return KindCompletedCount }

func (LevelRequirement) UsesSignals() bool          { return false }
func (TotalXPRequirement) UsesSignals() bool        { return false }
func (CategoryLevelRequirement) UsesSignals() bool  { return false }
func (StreakRequirement) UsesSignals() bool         { return true }
func (CompletedCountRequirement) UsesSignals() bool { return true }

func (r LevelRequirement) validate() error {
	return positive("level.min", r.Min)
}

func (r TotalXPRequirement) validate() error {
	return positive("total_xp.min", r.Min)
}

func (r CategoryLevelRequirement) validate() error {
	if !r.Category.IsValid() {
		return shared.WrapError("achievement", "Validate", shared.ErrInvalidInput,
			fmt.Sprintf("category_level: unknown category %q", r.Category), shared.ErrUnknownCategory)
	}
	return positive("category_level.min", r.Min)
}

func (r StreakRequirement) validate() error {
	return positive("streak.days", r.Days)
}

func (r CompletedCountRequirement) validate() error {
	if r.Source == "" {
		return shared.WrapError("achievement", "Validate", shared.ErrEmptyValue,
			"completed_count: source is required", shared.ErrInvalidRequirement)
	}
	return positive("completed_count.count", r.Count)
}

func positive(field string, v int) error {
	if v < 1 {
		return shared.WrapError("achievement", "Validate", shared.ErrValueOutOfRange,
			field+" must be >= 1", shared.ErrInvalidRequirement)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// WIRE FORM
// Requirements are flattened for YAML and JSON. Only the fields of the
// declared kind may be set.
// ══════════════════════════════════════════════════════════════════════════════

// RequirementDoc is the serialized form of a Requirement.
type RequirementDoc struct {
	Kind     RequirementKind `yaml:"kind" json:"kind"`
	Min      *int            `yaml:"min,omitempty" json:"min,omitempty"`
	Category string          `yaml:"category,omitempty" json:"category,omitempty"`
	Source   string          `yaml:"source,omitempty" json:"source,omitempty"`
	Days     *int            `yaml:"days,omitempty" json:"days,omitempty"`
	Count    *int            `yaml:"count,omitempty" json:"count,omitempty"`
}

// ToDoc flattens a requirement.
func ToDoc(r Requirement) RequirementDoc {
	switch v := r.(type) {
	case LevelRequirement:
		return RequirementDoc{Kind: KindLevel, Min: intPtr(v.Min)}
	case TotalXPRequirement:
		return RequirementDoc{Kind: KindTotalXP, Min: intPtr(v.Min)}
	case CategoryLevelRequirement:
		return RequirementDoc{Kind: KindCategoryLevel, Category: string(v.Category), Min: intPtr(v.Min)}
	case StreakRequirement:
		return RequirementDoc{Kind: KindStreak, Source: v.Source, Days: intPtr(v.Days)}
	case CompletedCountRequirement:
		return RequirementDoc{Kind: KindCompletedCount, Source: v.Source, Count: intPtr(v.Count)}
	default:
		return RequirementDoc{}
	}
}

// Requirement converts the doc into its variant, rejecting fields that do
// not belong to the kind.
func (d RequirementDoc) Requirement() (Requirement, error) {
	var (
		req     Requirement
		allowed map[string]bool
	)

	switch d.Kind {
	case KindLevel:
		req, allowed = LevelRequirement{Min: deref(d.Min)}, fields("min")
	case KindTotalXP:
		req, allowed = TotalXPRequirement{Min: deref(d.Min)}, fields("min")
	case KindCategoryLevel:
		req = CategoryLevelRequirement{Category: progress.Category(d.Category), Min: deref(d.Min)}
		allowed = fields("category", "min")
	case KindStreak:
		req, allowed = StreakRequirement{Source: d.Source, Days: deref(d.Days)}, fields("source", "days")
	case KindCompletedCount:
		req, allowed = CompletedCountRequirement{Source: d.Source, Count: deref(d.Count)}, fields("source", "count")
	default:
		return nil, shared.WrapError("achievement", "ParseRequirement", shared.ErrInvalidInput,
			fmt.Sprintf("unknown requirement kind %q", d.Kind), shared.ErrInvalidRequirement)
	}

	for name, set := range d.setFields() {
		if set && !allowed[name] {
			return nil, shared.WrapError("achievement", "ParseRequirement", shared.ErrInvalidInput,
				fmt.Sprintf("%s requirement does not accept %q", d.Kind, name), shared.ErrInvalidRequirement)
		}
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	return req, nil
}

func (d RequirementDoc) setFields() map[string]bool {
	return map[string]bool{
		"min":      d.Min != nil,
		"category": d.Category != "",
		"source":   d.Source != "",
		"days":     d.Days != nil,
		"count":    d.Count != nil,
	}
}

func fields(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

func intPtr(v int) *int { return &v }

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
