// Package history compacts the XP transaction log into daily summaries.
//
// All functions are pure; the maintenance command loads and stores data.
package history

import (
	"sort"
	"time"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/progress"
	"github.com/lfmcagency/fitness-tracker-sub001/pkg/timeutil"
)

// DayOf returns the calendar day of t in loc.
func DayOf(t time.Time, loc *time.Location) string {
	return timeutil.FormatDate(t, loc)
}

// BuildDailySummaries groups transactions by calendar day and recomputes
// every day from scratch. The output is sorted by date and does not depend
// on input order, so rebuilding unchanged history yields identical results.
func BuildDailySummaries(userID string, txs []progress.XpTransaction, loc *time.Location) []progress.XpDailySummary {
	byDay := make(map[string]*progress.XpDailySummary)

	for _, tx := range txs {
		day := DayOf(tx.OccurredAt, loc)
		s, ok := byDay[day]
		if !ok {
			s = &progress.XpDailySummary{
				UserID:     userID,
				Date:       day,
				Sources:    map[string]int{},
				Categories: map[progress.Category]int{},
			}
			byDay[day] = s
		}
		s.TotalXP += tx.Amount
		s.Sources[tx.Source] += tx.Amount
		if tx.Category != "" {
			s.Categories[tx.Category] += tx.Amount
		}
	}

	out := make([]progress.XpDailySummary, 0, len(byDay))
	for _, s := range byDay {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// Merge replaces existing summaries with rebuilt ones for the days present
// in rebuilt and keeps every other existing day, such as days whose detail
// has already been purged.
func Merge(existing, rebuilt []progress.XpDailySummary) []progress.XpDailySummary {
	byDay := make(map[string]progress.XpDailySummary, len(existing)+len(rebuilt))
	for _, s := range existing {
		byDay[s.Date] = s
	}
	for _, s := range rebuilt {
		byDay[s.Date] = s
	}

	out := make([]progress.XpDailySummary, 0, len(byDay))
	for _, s := range byDay {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// Totals sums a range of summaries, for long-range charts.
type Totals struct {
	Days       int                       `json:"days"`
	TotalXP    int                       `json:"total_xp"`
	Sources    map[string]int            `json:"sources"`
	Categories map[progress.Category]int `json:"categories"`
}

// Sum aggregates summaries into Totals.
func Sum(summaries []progress.XpDailySummary) Totals {
	t := Totals{Sources: map[string]int{}, Categories: map[progress.Category]int{}}
	for _, s := range summaries {
		t.Days++
		t.TotalXP += s.TotalXP
		for k, v := range s.Sources {
			t.Sources[k] += v
		}
		for k, v := range s.Categories {
			t.Categories[k] += v
		}
	}
	return t
}

// PurgeBoundary returns the cutoff instant for purging detail older than
// retention, aligned to the start of a calendar day so a purge never splits
// a day between detail and summary.
func PurgeBoundary(now time.Time, retention time.Duration, loc *time.Location) time.Time {
	return timeutil.StartOfDay(now.Add(-retention), loc)
}
