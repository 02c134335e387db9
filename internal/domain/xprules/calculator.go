package xprules

import (
	"fmt"
	"sort"
)

// Result is the outcome of a calculation.
type Result struct {
	// Amount is signed: negative for reversals.
	Amount int `json:"amount"`

	// Reversal reports whether the action was a reversal.
	Reversal bool `json:"reversal"`

	// Known is false when the source/action fell back to the default amount.
	Known bool `json:"known"`

	Breakdown Breakdown `json:"breakdown"`
}

// Calculator dispatches to the strategy registered for a source.
// It is safe for concurrent use once constructed.
type Calculator struct {
	table      Table
	strategies map[string]Strategy
}

// NewCalculator validates the table and registers a strategy per source.
func NewCalculator(table Table) (*Calculator, error) {
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("xprules: invalid table: %w", err)
	}

	c := &Calculator{
		table:      table,
		strategies: make(map[string]Strategy, len(table.Sources)),
	}
	for source, rules := range table.Sources {
		c.Register(strategyFor(source, rules))
	}
	return c, nil
}

// MustCalculator is NewCalculator for tables known to be valid.
func MustCalculator(table Table) *Calculator {
	c, err := NewCalculator(table)
	if err != nil {
		panic(err)
	}
	return c
}

func strategyFor(source string, rules SourceRules) Strategy {
	switch source {
	case SourceTask:
		return taskStrategy{rules: rules}
	case SourceNutrition:
		return nutritionStrategy{rules: rules}
	case SourceWeight:
		return weightStrategy{rules: rules}
	case SourceAchievement:
		return achievementStrategy{rules: rules}
	default:
		return tableStrategy{source: source, rules: rules}
	}
}

// Register replaces the strategy for its source. Call before concurrent use.
func (c *Calculator) Register(s Strategy) {
	c.strategies[s.Source()] = s
}

// Table returns the tuning table in use.
func (c *Calculator) Table() Table {
	return c.table
}

// Sources returns the registered sources, sorted.
func (c *Calculator) Sources() []string {
	out := make([]string, 0, len(c.strategies))
	for s := range c.strategies {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Calculate returns the signed XP for an event.
//
// A reversal action computes the magnitude its forward action would produce
// with the same context, streak bonus included, and negates it. Unknown
// combinations return the table's default amount.
func (c *Calculator) Calculate(source, action string, ctx Context) Result {
	reversal := IsReversal(action)
	forward := ForwardAction(action)

	res := Result{Reversal: reversal}
	if s, ok := c.strategies[source]; ok {
		if b, handled := s.Compute(forward, ctx); handled {
			res.Known = true
			res.Breakdown = b
		}
	}
	if !res.Known {
		res.Breakdown = Breakdown{Base: c.table.DefaultXP, Multiplier: 1, Total: c.table.DefaultXP}
	}

	res.Amount = res.Breakdown.Total
	if reversal {
		res.Amount = -res.Amount
	}
	return res
}

// CappedActions returns, per source, the forward actions with a daily cap.
// The coordinator uses it to decide when the daily ordinal must be derived.
func (c *Calculator) CappedActions() map[string][]string {
	out := make(map[string][]string)
	for source, rules := range c.table.Sources {
		for action, rule := range rules.Actions {
			if rule.DailyCap > 0 {
				out[source] = append(out[source], action)
			}
		}
	}
	for _, actions := range out {
		sort.Strings(actions)
	}
	return out
}

// HasDailyCap проверяет, есть ли у действия дневной лимит.
func (c *Calculator) HasDailyCap(source, action string) bool {
	rules, ok := c.table.Sources[source]
	if !ok {
		return false
	}
	return rules.Actions[ForwardAction(action)].DailyCap > 0
}
