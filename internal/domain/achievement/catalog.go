package achievement

import (
	"encoding/json"
	"fmt"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/progress"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/shared"
)

// Type groups achievements for display.
type Type string

const (
	TypeProgression Type = "progression"
	TypeMilestone   Type = "milestone"
	TypeCategory    Type = "category"
	TypeStreak      Type = "streak"
	TypeConsistency Type = "consistency"
)

func (t Type) isValid() bool {
	switch t {
	case TypeProgression, TypeMilestone, TypeCategory, TypeStreak, TypeConsistency:
		return true
	}
	return false
}

// Definition is a static catalog entry. All requirements must hold.
type Definition struct {
	ID           string
	Title        string
	Description  string
	Type         Type
	Requirements []Requirement
	XPReward     int
}

// UsesSignals reports whether any requirement needs caller-supplied signals.
func (d Definition) UsesSignals() bool {
	for _, r := range d.Requirements {
		if r.UsesSignals() {
			return true
		}
	}
	return false
}

func (d Definition) validate() error {
	if d.ID == "" {
		return shared.WrapError("achievement", "Validate", shared.ErrEmptyValue, "id is required", shared.ErrInvalidRequirement)
	}
	if d.Title == "" {
		return shared.WrapError("achievement", "Validate", shared.ErrEmptyValue, d.ID+": title is required", shared.ErrInvalidRequirement)
	}
	if !d.Type.isValid() {
		return shared.WrapError("achievement", "Validate", shared.ErrInvalidInput,
			fmt.Sprintf("%s: unknown type %q", d.ID, d.Type), shared.ErrInvalidRequirement)
	}
	if len(d.Requirements) == 0 {
		return shared.WrapError("achievement", "Validate", shared.ErrEmptyValue, d.ID+": at least one requirement", shared.ErrInvalidRequirement)
	}
	if d.XPReward < 0 {
		return shared.WrapError("achievement", "Validate", shared.ErrNegativeValue, d.ID+": xp_reward must be >= 0", shared.ErrInvalidRequirement)
	}
	for _, r := range d.Requirements {
		if r == nil {
			return shared.WrapError("achievement", "Validate", shared.ErrEmptyValue, d.ID+": nil requirement", shared.ErrInvalidRequirement)
		}
		if err := r.validate(); err != nil {
			return fmt.Errorf("%s: %w", d.ID, err)
		}
	}
	return nil
}

// DefinitionDoc is the serialized form of a Definition.
type DefinitionDoc struct {
	ID           string           `yaml:"id" json:"id"`
	Title        string           `yaml:"title" json:"title"`
	Description  string           `yaml:"description" json:"description"`
	Type         Type             `yaml:"type" json:"type"`
	Requirements []RequirementDoc `yaml:"requirements" json:"requirements"`
	XPReward     int              `yaml:"xp_reward" json:"xp_reward"`
}

// Doc returns the serialized form.
func (d Definition) Doc() DefinitionDoc {
	out := DefinitionDoc{
		ID:           d.ID,
		Title:        d.Title,
		Description:  d.Description,
		Type:         d.Type,
		Requirements: make([]RequirementDoc, 0, len(d.Requirements)),
		XPReward:     d.XPReward,
	}
	for _, r := range d.Requirements {
		out.Requirements = append(out.Requirements, ToDoc(r))
	}
	return out
}

// Definition parses the doc into a Definition.
func (doc DefinitionDoc) Definition() (Definition, error) {
	def := Definition{
		ID:          doc.ID,
		Title:       doc.Title,
		Description: doc.Description,
		Type:        doc.Type,
		XPReward:    doc.XPReward,
	}
	for i, rd := range doc.Requirements {
		req, err := rd.Requirement()
		if err != nil {
			return Definition{}, fmt.Errorf("%s: requirement %d: %w", doc.ID, i, err)
		}
		def.Requirements = append(def.Requirements, req)
	}
	return def, nil
}

// MarshalJSON renders requirements in their flattened form.
func (d Definition) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Doc())
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// Catalog is an immutable, versioned list of definitions.
type Catalog struct {
	version string
	defs    []Definition
	index   map[string]int
}

// NewCatalog validates the definitions and builds the catalog.
func NewCatalog(version string, defs []Definition) (*Catalog, error) {
	if version == "" {
		return nil, shared.NewDomainError("achievement", "NewCatalog", shared.ErrEmptyValue, "catalog version is required")
	}

	c := &Catalog{
		version: version,
		defs:    make([]Definition, 0, len(defs)),
		index:   make(map[string]int, len(defs)),
	}
	for _, d := range defs {
		if err := d.validate(); err != nil {
			return nil, err
		}
		if _, dup := c.index[d.ID]; dup {
			return nil, shared.WrapError("achievement", "NewCatalog", shared.ErrAlreadyExists,
				"duplicate id "+d.ID, shared.ErrDuplicateAchievement)
		}
		c.index[d.ID] = len(c.defs)
		c.defs = append(c.defs, d)
	}
	return c, nil
}

// Version returns the catalog version.
func (c *Catalog) Version() string {
	return c.version
}

// All returns the definitions in catalog order.
func (c *Catalog) All() []Definition {
	out := make([]Definition, len(c.defs))
	copy(out, c.defs)
	return out
}

// IDs returns the ids in catalog order.
func (c *Catalog) IDs() []string {
	out := make([]string, len(c.defs))
	for i, d := range c.defs {
		out[i] = d.ID
	}
	return out
}

// Len returns the number of definitions.
func (c *Catalog) Len() int {
	return len(c.defs)
}

// Lookup returns the definition for id or ErrAchievementNotFound.
func (c *Catalog) Lookup(id string) (Definition, error) {
	i, ok := c.index[id]
	if !ok {
		return Definition{}, shared.WrapError("achievement", "Lookup", shared.ErrNotFound,
			"unknown achievement "+id, shared.ErrAchievementNotFound)
	}
	return c.defs[i], nil
}

// Docs returns the serialized form of every definition in catalog order.
func (c *Catalog) Docs() []DefinitionDoc {
	out := make([]DefinitionDoc, 0, len(c.defs))
	for _, d := range c.defs {
		out = append(out, d.Doc())
	}
	return out
}

// CatalogFromDocs parses serialized definitions into a catalog.
func CatalogFromDocs(version string, docs []DefinitionDoc) (*Catalog, error) {
	defs := make([]Definition, 0, len(docs))
	for _, doc := range docs {
		def, err := doc.Definition()
		if err != nil {
			return nil, fmt.Errorf("achievement: %w", err)
		}
		defs = append(defs, def)
	}
	return NewCatalog(version, defs)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEFAULT CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// DefaultCatalogVersion is the version of the compiled-in catalog.
const DefaultCatalogVersion = "2024.1"

// DefaultCatalog returns the compiled-in catalog.
func DefaultCatalog() *Catalog {
	defs := []Definition{
		{ID: "level_5", Title: "Getting Started", Description: "Reach level 5", Type: TypeProgression,
			Requirements: []Requirement{LevelRequirement{Min: 5}}, XPReward: 100},
		{ID: "level_10", Title: "Committed", Description: "Reach level 10", Type: TypeProgression,
			Requirements: []Requirement{LevelRequirement{Min: 10}}, XPReward: 250},
		{ID: "level_25", Title: "Veteran", Description: "Reach level 25", Type: TypeProgression,
			Requirements: []Requirement{LevelRequirement{Min: 25}}, XPReward: 1000},

		{ID: "xp_milestone_1000", Title: "First Thousand", Description: "Earn 1,000 XP", Type: TypeMilestone,
			Requirements: []Requirement{TotalXPRequirement{Min: 1000}}, XPReward: 50},
		{ID: "xp_milestone_5000", Title: "Five Thousand", Description: "Earn 5,000 XP", Type: TypeMilestone,
			Requirements: []Requirement{TotalXPRequirement{Min: 5000}}, XPReward: 150},
		{ID: "xp_milestone_10000", Title: "Ten Thousand", Description: "Earn 10,000 XP", Type: TypeMilestone,
			Requirements: []Requirement{TotalXPRequirement{Min: 10000}}, XPReward: 300},

		{ID: "streak_7", Title: "One Week Strong", Description: "Keep a 7-day streak", Type: TypeStreak,
			Requirements: []Requirement{StreakRequirement{Days: 7}}, XPReward: 70},
		{ID: "streak_30", Title: "Habit Formed", Description: "Keep a 30-day streak", Type: TypeStreak,
			Requirements: []Requirement{StreakRequirement{Days: 30}}, XPReward: 300},
		{ID: "streak_100", Title: "Unstoppable", Description: "Keep a 100-day streak", Type: TypeStreak,
			Requirements: []Requirement{StreakRequirement{Days: 100}}, XPReward: 1000},
	}

	for _, c := range progress.AllCategories() {
		defs = append(defs, Definition{
			ID:           string(c) + "_level_5",
			Title:        "Solid " + titleCase(string(c)),
			Description:  "Reach level 5 in " + string(c),
			Type:         TypeCategory,
			Requirements: []Requirement{CategoryLevelRequirement{Category: c, Min: 5}},
			XPReward:     100,
		})
	}

	allRounder := Definition{ID: "all_rounder", Title: "All-Rounder", Description: "Reach level 3 in every category",
		Type: TypeCategory, XPReward: 200}
	for _, c := range progress.AllCategories() {
		allRounder.Requirements = append(allRounder.Requirements, CategoryLevelRequirement{Category: c, Min: 3})
	}
	defs = append(defs, allRounder,
		Definition{ID: "tasks_10", Title: "Task Taker", Description: "Complete 10 tasks", Type: TypeConsistency,
			Requirements: []Requirement{CompletedCountRequirement{Source: "task", Count: 10}}, XPReward: 50},
		Definition{ID: "tasks_100", Title: "Task Master", Description: "Complete 100 tasks", Type: TypeConsistency,
			Requirements: []Requirement{CompletedCountRequirement{Source: "task", Count: 100}}, XPReward: 500},
		Definition{ID: "meals_50", Title: "Mindful Eater", Description: "Log 50 meals", Type: TypeConsistency,
			Requirements: []Requirement{CompletedCountRequirement{Source: "nutrition", Count: 50}}, XPReward: 150},
		Definition{ID: "weigh_ins_30", Title: "On the Scale", Description: "Log your weight 30 times", Type: TypeConsistency,
			Requirements: []Requirement{CompletedCountRequirement{Source: "weight", Count: 30}}, XPReward: 150},
	)

	c, err := NewCatalog(DefaultCatalogVersion, defs)
	if err != nil {
		panic(fmt.Sprintf("achievement: default catalog is invalid: %v", err))
	}
	return c
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return string(b)
}
