package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/progress"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/shared"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/infrastructure/persistence/rowcodec"
)

// Store implements progress.Store on SQLite.
type Store struct {
	*DB
	now func() time.Time
}

var _ progress.Store = (*Store)(nil)

// NewStore opens the database in dir.
func NewStore(dir string) (*Store, error) {
	db, err := Open(dir)
	if err != nil {
		return nil, err
	}
	return &Store{DB: db, now: time.Now}, nil
}

const selectProgress = `SELECT user_id, total_xp, level, category_xp, category_progress,
	achievements, pending_achievements, version, created_at, updated_at
	FROM user_progress WHERE user_id = ?`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// GetOrCreate returns the record, inserting the zero state when absent.
func (s *Store) GetOrCreate(ctx context.Context, userID string) (*progress.UserProgress, error) {
	p := progress.NewUserProgress(userID, s.now().UTC())
	cols, err := rowcodec.EncodeRecord(p)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO user_progress
		(user_id, total_xp, level, category_xp, category_progress, achievements,
		 pending_achievements, version, created_at, updated_at)
		VALUES (?, 0, 1, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(user_id) DO NOTHING`,
		userID, string(cols.CategoryXP), string(cols.CategoryProgress),
		string(cols.Achievements), string(cols.Pending), toUnix(p.CreatedAt), toUnix(p.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("create progress: %w", err)
	}
	return s.Get(ctx, userID)
}

// Get returns the record.
func (s *Store) Get(ctx context.Context, userID string) (*progress.UserProgress, error) {
	return scanProgress(s.db.QueryRowContext(ctx, selectProgress, userID))
}

// Apply inserts the journal entry and updates the row under a version guard
// in one immediate transaction.
func (s *Store) Apply(ctx context.Context, m progress.Mutation) (*progress.UserProgress, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	var saved *progress.UserProgress
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := scanProgress(tx.QueryRowContext(ctx, selectProgress, m.UserID))
		if err != nil {
			return err
		}

		t := m.Transaction
		_, err = tx.ExecContext(ctx, `INSERT INTO xp_transactions
			(id, user_id, token, source, action, category, amount, description, reversal_of, occurred_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.UserID, t.Token, t.Source, t.Action, string(t.Category), t.Amount,
			t.Description, t.ReversalOf, toUnix(t.OccurredAt))
		if err != nil {
			if msg, ok := uniqueViolation(err); ok {
				if isReversalConflict(msg) {
					return shared.ErrAlreadyReverse
				}
				return shared.ErrDuplicateToken
			}
			return fmt.Errorf("insert transaction: %w", err)
		}

		if current.Version != m.ExpectedVersion {
			return shared.ErrVersionConflict
		}

		next := current.Clone()
		m.ApplyTo(next)
		cols, err := rowcodec.EncodeRecord(next)
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `UPDATE user_progress SET
			total_xp = ?, level = ?, category_xp = ?, category_progress = ?,
			achievements = ?, pending_achievements = ?, version = ?, updated_at = ?
			WHERE user_id = ? AND version = ?`,
			next.TotalXP, next.Level, string(cols.CategoryXP), string(cols.CategoryProgress),
			string(cols.Achievements), string(cols.Pending), next.Version, toUnix(next.UpdatedAt),
			m.UserID, m.ExpectedVersion)
		if err != nil {
			return fmt.Errorf("update progress: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("rows affected: %w", err)
		} else if n == 0 {
			return shared.ErrVersionConflict
		}

		saved = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func scanProgress(row rowScanner) (*progress.UserProgress, error) {
	var (
		p                  progress.UserProgress
		catXP, catProgress string
		achievements, pend string
		created, updated   int64
	)
	err := row.Scan(&p.UserID, &p.TotalXP, &p.Level, &catXP, &catProgress,
		&achievements, &pend, &p.Version, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrProgressNotFound
		}
		return nil, fmt.Errorf("scan progress: %w", err)
	}
	p.CreatedAt = fromUnix(created)
	p.UpdatedAt = fromUnix(updated)

	cols := rowcodec.Record{
		CategoryXP:       []byte(catXP),
		CategoryProgress: []byte(catProgress),
		Achievements:     []byte(achievements),
		Pending:          []byte(pend),
	}
	if err := cols.DecodeInto(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// FindTransactions returns matching transactions in chronological order.
func (s *Store) FindTransactions(ctx context.Context, f progress.TransactionFilter) ([]progress.XpTransaction, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		where = append(where, cond)
		args = append(args, v)
	}
	if f.UserID != "" {
		add("user_id = ?", f.UserID)
	}
	if !f.Range.From.IsZero() {
		add("occurred_at >= ?", toUnix(f.Range.From))
	}
	if !f.Range.To.IsZero() {
		add("occurred_at < ?", toUnix(f.Range.To))
	}
	if f.Source != "" {
		add("source = ?", f.Source)
	}
	if f.Action != "" {
		add("action = ?", f.Action)
	}
	if f.Token != "" {
		add("token = ?", f.Token)
	}
	if f.ReversalOf != "" {
		add("reversal_of = ?", f.ReversalOf)
	}

	query := `SELECT id, user_id, token, source, action, category, amount,
		description, reversal_of, occurred_at FROM xp_transactions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY occurred_at, rowid"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []progress.XpTransaction
	for rows.Next() {
		var (
			t        progress.XpTransaction
			category string
			occurred int64
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Token, &t.Source, &t.Action, &category,
			&t.Amount, &t.Description, &t.ReversalOf, &occurred); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Category = progress.Category(category)
		t.OccurredAt = fromUnix(occurred)
		out = append(out, t)
	}
	return out, rows.Err()
}

// SaveDailySummaries upserts the summaries of the given days.
func (s *Store) SaveDailySummaries(ctx context.Context, userID string, summaries []progress.XpDailySummary) error {
	if len(summaries) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO xp_daily_summaries
			(user_id, day, total_xp, sources, categories) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(user_id, day) DO UPDATE SET
				total_xp = excluded.total_xp,
				sources = excluded.sources,
				categories = excluded.categories`)
		if err != nil {
			return fmt.Errorf("prepare summary upsert: %w", err)
		}
		defer stmt.Close()

		for _, d := range summaries {
			cols, err := rowcodec.EncodeSummary(d)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, userID, d.Date, d.TotalXP,
				string(cols.Sources), string(cols.Categories)); err != nil {
				return fmt.Errorf("upsert summary %s: %w", d.Date, err)
			}
		}
		return nil
	})
}

// FindDailySummaries returns summaries for days in [fromDay, toDay].
func (s *Store) FindDailySummaries(ctx context.Context, userID, fromDay, toDay string) ([]progress.XpDailySummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, day, total_xp, sources, categories
		FROM xp_daily_summaries
		WHERE user_id = ? AND (? = '' OR day >= ?) AND (? = '' OR day <= ?)
		ORDER BY day`, userID, fromDay, fromDay, toDay, toDay)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	var out []progress.XpDailySummary
	for rows.Next() {
		var (
			d                   progress.XpDailySummary
			sources, categories string
		)
		if err := rows.Scan(&d.UserID, &d.Date, &d.TotalXP, &sources, &categories); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		if err := (rowcodec.Summary{Sources: []byte(sources), Categories: []byte(categories)}).DecodeInto(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// PurgeTransactions deletes transactions that occurred before the cutoff.
func (s *Store) PurgeTransactions(ctx context.Context, userID string, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM xp_transactions WHERE user_id = ? AND occurred_at < ?", userID, toUnix(before))
	if err != nil {
		return 0, fmt.Errorf("purge transactions: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// PurgeDailySummaries deletes summaries for days before beforeDay.
func (s *Store) PurgeDailySummaries(ctx context.Context, userID, beforeDay string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM xp_daily_summaries WHERE user_id = ? AND day < ?", userID, beforeDay)
	if err != nil {
		return 0, fmt.Errorf("purge summaries: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ListUsersWithTransactionsBefore returns users with detail older than before.
func (s *Store) ListUsersWithTransactionsBefore(ctx context.Context, before time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT user_id FROM xp_transactions WHERE occurred_at < ? ORDER BY user_id", toUnix(before))
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Health pings the database.
func (s *Store) Health(ctx context.Context) error {
	return s.Ping(ctx)
}
