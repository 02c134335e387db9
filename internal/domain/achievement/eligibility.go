package achievement

import (
	"fmt"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/progress"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/shared"
)

// Subject is what requirements are evaluated against: the progress snapshot
// plus the caller-supplied signals of the current event.
type Subject struct {
	Snapshot progress.Snapshot
	Signals  progress.Signals
}

// Check evaluates one requirement. A missing signal fails the requirement;
// it is never treated as satisfied.
func Check(req Requirement, s Subject) (bool, error) {
	switch r := req.(type) {
	case LevelRequirement:
		return s.Snapshot.Level >= r.Min, nil
	case TotalXPRequirement:
		return s.Snapshot.TotalXP >= r.Min, nil
	case CategoryLevelRequirement:
		if !r.Category.IsValid() {
			return false, shared.ErrUnknownCategory
		}
		return s.Snapshot.CategoryLevels[r.Category] >= r.Min, nil
	case StreakRequirement:
		streak, ok := s.Signals.StreakFor(r.Source)
		return ok && streak >= r.Days, nil
	case CompletedCountRequirement:
		count, ok := s.Signals.CompletedFor(r.Source)
		return ok && count >= r.Count, nil
	default:
		return false, shared.WrapError("achievement", "Check", shared.ErrInvalidInput,
			fmt.Sprintf("unsupported requirement %T", req), shared.ErrInvalidRequirement)
	}
}

// MeetsRequirements reports whether every requirement of def holds.
func MeetsRequirements(def Definition, s Subject) (bool, error) {
	if len(def.Requirements) == 0 {
		return false, shared.WrapError("achievement", "MeetsRequirements", shared.ErrEmptyValue,
			def.ID+": no requirements", shared.ErrInvalidRequirement)
	}
	for _, req := range def.Requirements {
		ok, err := Check(req, s)
		if err != nil {
			return false, fmt.Errorf("%s: %w", def.ID, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
