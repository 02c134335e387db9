package achievement

import (
	"slices"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/progress"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// locked → pending → claimed. Из claimed перехода нет.
// ══════════════════════════════════════════════════════════════════════════════

// State - состояние достижения для пользователя.
type State string

const (
	StateLocked  State = "locked"
	StatePending State = "pending"
	StateClaimed State = "claimed"
)

// StateOf возвращает состояние достижения по снимку.
func StateOf(id string, snap progress.Snapshot) State {
	switch {
	case slices.Contains(snap.Claimed, id):
		return StateClaimed
	case slices.Contains(snap.Pending, id):
		return StatePending
	default:
		return StateLocked
	}
}

// Unlock - достижение, впервые ставшее доступным.
type Unlock struct {
	Definition Definition

	// Backfilled - требования выполнялись и до события,
	// но достижение ещё не было отмечено.
	Backfilled bool
}

// DetectionError - ошибка проверки одного достижения.
// Не прерывает начисление XP.
type DetectionError struct {
	AchievementID string
	Err           error
}

func (e DetectionError) Error() string {
	return e.AchievementID + ": " + e.Err.Error()
}

func (e DetectionError) Unwrap() error {
	return e.Err
}

// Detection - результат сравнения снимков до и после.
type Detection struct {
	Unlocked []Unlock
	Errors   []DetectionError
}

// IDs возвращает идентификаторы новых ожидающих достижений.
func (d Detection) IDs() []string {
	out := make([]string, 0, len(d.Unlocked))
	for _, u := range d.Unlocked {
		out = append(out, u.Definition.ID)
	}
	return out
}

// Lookup находит определение по идентификатору.
type Lookup interface {
	IDs() []string
	Lookup(id string) (Definition, error)
}

// DetectNewlyPending находит достижения, которые выполняются после события
// и ещё не находятся ни в ожидающих, ни в полученных.
// Ошибка по отдельному достижению записывается и пропускается.
func DetectNewlyPending(catalog Lookup, before, after Subject) Detection {
	var d Detection

	for _, id := range catalog.IDs() {
		if StateOf(id, after.Snapshot) != StateLocked {
			continue
		}

		def, err := catalog.Lookup(id)
		if err != nil {
			d.Errors = append(d.Errors, DetectionError{AchievementID: id, Err: err})
			continue
		}

		met, err := MeetsRequirements(def, after)
		if err != nil {
			d.Errors = append(d.Errors, DetectionError{AchievementID: id, Err: err})
			continue
		}
		if !met {
			continue
		}

		metBefore, err := MeetsRequirements(def, before)
		d.Unlocked = append(d.Unlocked, Unlock{
			Definition: def,
			Backfilled: err == nil && metBefore,
		})
	}
	return d
}

// ══════════════════════════════════════════════════════════════════════════════
// CLAIM
// ══════════════════════════════════════════════════════════════════════════════

// ClaimOutcome - исход запроса на получение достижения.
type ClaimOutcome string

const (
	ClaimOutcomeClaimed            ClaimOutcome = "claimed"
	ClaimOutcomeAlreadyClaimed     ClaimOutcome = "already_claimed"
	ClaimOutcomeRequirementsNotMet ClaimOutcome = "requirements_not_met"
)

// ClaimDecision - решение по запросу. Unmet содержит невыполненные требования.
type ClaimDecision struct {
	Outcome ClaimOutcome
	Unmet   []RequirementKind
}

// DecideClaim повторно проверяет требования в момент получения.
//
// Требования по снимку проверяются всегда. Требования по сигналам
// проверяются, если сигналы переданы в запросе; иначе принимается
// состояние pending, так как сигналы были проверены при его установке.
func DecideClaim(def Definition, s Subject, signalsSupplied bool) (ClaimDecision, error) {
	state := StateOf(def.ID, s.Snapshot)
	if state == StateClaimed {
		return ClaimDecision{Outcome: ClaimOutcomeAlreadyClaimed}, nil
	}
	pending := state == StatePending

	var unmet []RequirementKind
	for _, req := range def.Requirements {
		if req.UsesSignals() && !signalsSupplied {
			if !pending {
				unmet = append(unmet, req.Kind())
			}
			continue
		}
		ok, err := Check(req, s)
		if err != nil {
			return ClaimDecision{}, err
		}
		if !ok {
			unmet = append(unmet, req.Kind())
		}
	}

	if len(unmet) > 0 {
		return ClaimDecision{Outcome: ClaimOutcomeRequirementsNotMet, Unmet: unmet}, nil
	}
	return ClaimDecision{Outcome: ClaimOutcomeClaimed}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// BOARD
// ══════════════════════════════════════════════════════════════════════════════

// BoardEntry - достижение каталога с состоянием для пользователя.
type BoardEntry struct {
	Definition Definition `json:"definition"`
	State      State      `json:"state"`
}

// Board возвращает все достижения каталога с состояниями.
func Board(catalog *Catalog, snap progress.Snapshot) []BoardEntry {
	defs := catalog.All()
	out := make([]BoardEntry, 0, len(defs))
	for _, d := range defs {
		out = append(out, BoardEntry{Definition: d, State: StateOf(d.ID, snap)})
	}
	return out
}
