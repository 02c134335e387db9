package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/progress"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/xprules"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENGINE TUNING FILE
// ══════════════════════════════════════════════════════════════════════════════

// Tuning holds every engine constant that can be overridden from TOML:
//
//	[xp]
//	default_xp = 5
//	[xp.sources.task]
//	streak_per_day = 3
//	[xp.sources.task.actions.task_completed]
//	base = 12
//
//	[levels.global]
//	scale = 120
//	[[levels.ranks]]
//	rank = "Novice"
//	min_xp = 0
type Tuning struct {
	XP     xprules.Table `toml:"xp"`
	Levels LevelTuning   `toml:"levels"`
}

// LevelTuning holds the level curves and rank thresholds.
type LevelTuning struct {
	Global   progress.Curve           `toml:"global"`
	Category progress.Curve           `toml:"category"`
	Ranks    []progress.RankThreshold `toml:"ranks"`
}

// DefaultTuning returns the compiled-in constants.
func DefaultTuning() Tuning {
	calc := progress.DefaultCalculator()
	return Tuning{
		XP: xprules.DefaultTable(),
		Levels: LevelTuning{
			Global:   calc.Global,
			Category: calc.Category,
			Ranks:    []progress.RankThreshold(calc.Ranks),
		},
	}
}

// Calculator returns the leveling calculator described by t.
func (t Tuning) Calculator() progress.Calculator {
	return progress.Calculator{
		Global:   t.Levels.Global,
		Category: t.Levels.Category,
		Ranks:    progress.RankLadder(t.Levels.Ranks),
	}
}

// Validate checks every constant.
func (t Tuning) Validate() error {
	if err := t.XP.Validate(); err != nil {
		return fmt.Errorf("xp: %w", err)
	}
	if err := t.Calculator().Validate(); err != nil {
		return fmt.Errorf("levels: %w", err)
	}
	return nil
}

// LoadTuning overlays the TOML file at path onto the defaults. An empty path
// returns the defaults. Unknown keys are rejected.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()
	if path == "" {
		return t, nil
	}

	var file Tuning
	md, err := toml.DecodeFile(path, &file)
	if err != nil {
		return Tuning{}, fmt.Errorf("read tuning file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Tuning{}, fmt.Errorf("tuning file %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	t = t.merge(file)
	if err := t.Validate(); err != nil {
		return Tuning{}, fmt.Errorf("tuning file %s: %w", path, err)
	}
	return t, nil
}

// merge overlays the non-zero values of o. Ranks are replaced as a whole.
func (t Tuning) merge(o Tuning) Tuning {
	out := t
	out.XP = t.XP.Merge(o.XP)

	out.Levels.Global = mergeCurve(t.Levels.Global, o.Levels.Global)
	out.Levels.Category = mergeCurve(t.Levels.Category, o.Levels.Category)
	if len(o.Levels.Ranks) > 0 {
		out.Levels.Ranks = append([]progress.RankThreshold(nil), o.Levels.Ranks...)
	}
	return out
}

func mergeCurve(base, o progress.Curve) progress.Curve {
	if o.Scale != 0 {
		base.Scale = o.Scale
	}
	if o.MaxLevel != 0 {
		base.MaxLevel = o.MaxLevel
	}
	return base
}

// WriteTuning encodes t as TOML.
func WriteTuning(w io.Writer, t Tuning) error {
	if w == nil {
		return errors.New("config: nil writer")
	}
	return toml.NewEncoder(w).Encode(t)
}

// fileExists reports whether path names a regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
