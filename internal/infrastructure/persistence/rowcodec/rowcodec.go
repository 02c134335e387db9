// Package rowcodec converts progress records to and from the JSON columns
// shared by the SQL stores.
package rowcodec

import (
	"encoding/json"
	"fmt"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/progress"
)

// Record holds the JSON-encoded columns of a user_progress row.
type Record struct {
	CategoryXP       []byte
	CategoryProgress []byte
	Achievements     []byte
	Pending          []byte
}

// EncodeRecord encodes the collection fields of p.
func EncodeRecord(p *progress.UserProgress) (Record, error) {
	var (
		r   Record
		err error
	)
	if r.CategoryXP, err = json.Marshal(p.CategoryXP); err != nil {
		return Record{}, fmt.Errorf("encode category_xp: %w", err)
	}
	if r.CategoryProgress, err = json.Marshal(p.CategoryProgress); err != nil {
		return Record{}, fmt.Errorf("encode category_progress: %w", err)
	}
	if r.Achievements, err = json.Marshal(nonNil(p.Achievements)); err != nil {
		return Record{}, fmt.Errorf("encode achievements: %w", err)
	}
	if r.Pending, err = json.Marshal(nonNil(p.PendingAchievements)); err != nil {
		return Record{}, fmt.Errorf("encode pending_achievements: %w", err)
	}
	return r, nil
}

// DecodeInto fills the collection fields of p. Categories missing from the
// stored maps get their zero-state values.
func (r Record) DecodeInto(p *progress.UserProgress) error {
	base := progress.NewUserProgress(p.UserID, p.CreatedAt)
	p.CategoryXP = base.CategoryXP
	p.CategoryProgress = base.CategoryProgress

	if err := decode(r.CategoryXP, &p.CategoryXP); err != nil {
		return fmt.Errorf("decode category_xp: %w", err)
	}
	if err := decode(r.CategoryProgress, &p.CategoryProgress); err != nil {
		return fmt.Errorf("decode category_progress: %w", err)
	}
	if err := decode(r.Achievements, &p.Achievements); err != nil {
		return fmt.Errorf("decode achievements: %w", err)
	}
	if err := decode(r.Pending, &p.PendingAchievements); err != nil {
		return fmt.Errorf("decode pending_achievements: %w", err)
	}
	p.Achievements = nonNil(p.Achievements)
	p.PendingAchievements = nonNil(p.PendingAchievements)
	for c, cp := range p.CategoryProgress {
		if cp.UnlockedExercises == nil {
			cp.UnlockedExercises = []string{}
			p.CategoryProgress[c] = cp
		}
	}
	return nil
}

// Summary holds the JSON-encoded columns of a daily summary row.
type Summary struct {
	Sources    []byte
	Categories []byte
}

// EncodeSummary encodes the breakdown maps of d.
func EncodeSummary(d progress.XpDailySummary) (Summary, error) {
	var (
		s   Summary
		err error
	)
	if s.Sources, err = json.Marshal(nonNilMap(d.Sources)); err != nil {
		return Summary{}, fmt.Errorf("encode sources: %w", err)
	}
	if s.Categories, err = json.Marshal(nonNilMap(d.Categories)); err != nil {
		return Summary{}, fmt.Errorf("encode categories: %w", err)
	}
	return s, nil
}

// DecodeInto fills the breakdown maps of d.
func (s Summary) DecodeInto(d *progress.XpDailySummary) error {
	d.Sources = map[string]int{}
	d.Categories = map[progress.Category]int{}
	if err := decode(s.Sources, &d.Sources); err != nil {
		return fmt.Errorf("decode sources: %w", err)
	}
	if err := decode(s.Categories, &d.Categories); err != nil {
		return fmt.Errorf("decode categories: %w", err)
	}
	return nil
}

func decode(data []byte, dst interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilMap[K comparable](m map[K]int) map[K]int {
	if m == nil {
		return map[K]int{}
	}
	return m
}
