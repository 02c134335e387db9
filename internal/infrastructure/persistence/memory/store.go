// Package memory provides an in-process progress store with the same
// versioning and uniqueness guarantees as the SQL stores. It backs tests and
// single-node development runs.
package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/history"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/progress"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/shared"
)

// Store implements progress.Store in memory. Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	records   map[string]*progress.UserProgress
	txs       map[string][]progress.XpTransaction
	summaries map[string][]progress.XpDailySummary
	now       func() time.Time
}

var _ progress.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		records:   make(map[string]*progress.UserProgress),
		txs:       make(map[string][]progress.XpTransaction),
		summaries: make(map[string][]progress.XpDailySummary),
		now:       time.Now,
	}
}

// GetOrCreate returns a copy of the record, creating it when absent.
func (s *Store) GetOrCreate(ctx context.Context, userID string) (*progress.UserProgress, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.records[userID]
	if !ok {
		p = progress.NewUserProgress(userID, s.now().UTC())
		s.records[userID] = p
	}
	return p.Clone(), nil
}

// Get returns a copy of the record.
func (s *Store) Get(ctx context.Context, userID string) (*progress.UserProgress, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.records[userID]
	if !ok {
		return nil, shared.ErrProgressNotFound
	}
	return p.Clone(), nil
}

// Apply checks the version and token, then applies the mutation and appends
// the transaction under one lock.
func (s *Store) Apply(ctx context.Context, m progress.Mutation) (*progress.UserProgress, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.records[m.UserID]
	if !ok {
		return nil, shared.ErrProgressNotFound
	}
	for _, tx := range s.txs[m.UserID] {
		if tx.Token == m.Transaction.Token {
			return nil, shared.ErrDuplicateToken
		}
		if m.Transaction.ReversalOf != "" && tx.ReversalOf == m.Transaction.ReversalOf {
			return nil, shared.ErrAlreadyReverse
		}
	}
	if p.Version != m.ExpectedVersion {
		return nil, shared.ErrVersionConflict
	}

	next := p.Clone()
	m.ApplyTo(next)
	s.records[m.UserID] = next
	s.txs[m.UserID] = append(s.txs[m.UserID], m.Transaction)

	return next.Clone(), nil
}

// FindTransactions returns matching transactions in chronological order.
func (s *Store) FindTransactions(ctx context.Context, f progress.TransactionFilter) ([]progress.XpTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var users []string
	if f.UserID != "" {
		users = []string{f.UserID}
	} else {
		for u := range s.txs {
			users = append(users, u)
		}
	}

	var out []progress.XpTransaction
	for _, u := range users {
		for _, tx := range s.txs[u] {
			if f.Matches(tx) {
				out = append(out, tx)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// SaveDailySummaries replaces the summaries of the given days.
func (s *Store) SaveDailySummaries(ctx context.Context, userID string, summaries []progress.XpDailySummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]progress.XpDailySummary, len(summaries))
	for i, d := range summaries {
		copied[i] = cloneSummary(d)
	}
	s.summaries[userID] = history.Merge(s.summaries[userID], copied)
	return nil
}

// FindDailySummaries returns summaries for days in [fromDay, toDay].
func (s *Store) FindDailySummaries(ctx context.Context, userID, fromDay, toDay string) ([]progress.XpDailySummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []progress.XpDailySummary
	for _, d := range s.summaries[userID] {
		if (fromDay == "" || d.Date >= fromDay) && (toDay == "" || d.Date <= toDay) {
			out = append(out, cloneSummary(d))
		}
	}
	return out, nil
}

func cloneSummary(d progress.XpDailySummary) progress.XpDailySummary {
	d.Sources = maps.Clone(d.Sources)
	d.Categories = maps.Clone(d.Categories)
	return d
}

// PurgeTransactions deletes transactions that occurred before the cutoff.
func (s *Store) PurgeTransactions(ctx context.Context, userID string, before time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	txs := s.txs[userID]
	n := len(txs)
	s.txs[userID] = slices.DeleteFunc(txs, func(tx progress.XpTransaction) bool {
		return tx.OccurredAt.Before(before)
	})
	return n - len(s.txs[userID]), nil
}

// PurgeDailySummaries deletes summaries for days before beforeDay.
func (s *Store) PurgeDailySummaries(ctx context.Context, userID, beforeDay string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sums := s.summaries[userID]
	n := len(sums)
	s.summaries[userID] = slices.DeleteFunc(sums, func(d progress.XpDailySummary) bool {
		return d.Date < beforeDay
	})
	return n - len(s.summaries[userID]), nil
}

// ListUsersWithTransactionsBefore returns users with detail older than before.
func (s *Store) ListUsersWithTransactionsBefore(ctx context.Context, before time.Time) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for u, txs := range s.txs {
		if slices.ContainsFunc(txs, func(tx progress.XpTransaction) bool { return tx.OccurredAt.Before(before) }) {
			out = append(out, u)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Health always succeeds.
func (s *Store) Health(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }
