package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/progress"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/shared"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/infrastructure/persistence/rowcodec"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRepository implements progress.Store for PostgreSQL.
type ProgressRepository struct {
	conn *Connection
	now  func() time.Time
}

var _ progress.Store = (*ProgressRepository)(nil)

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(conn *Connection) *ProgressRepository {
	return &ProgressRepository{conn: conn, now: time.Now}
}

const selectProgress = `
	SELECT user_id, total_xp, level, category_xp, category_progress,
	       achievements, pending_achievements, version, created_at, updated_at
	FROM user_progress
`

// ─────────────────────────────────────────────────────────────────────────────
// Record Operations
// ─────────────────────────────────────────────────────────────────────────────

// GetOrCreate returns the record, inserting the zero state when absent.
func (r *ProgressRepository) GetOrCreate(ctx context.Context, userID string) (*progress.UserProgress, error) {
	p := progress.NewUserProgress(userID, r.now().UTC())
	cols, err := rowcodec.EncodeRecord(p)
	if err != nil {
		return nil, err
	}

	_, err = r.conn.Exec(ctx, `
		INSERT INTO user_progress (
			user_id, total_xp, level, category_xp, category_progress,
			achievements, pending_achievements, version, created_at, updated_at
		) VALUES ($1, 0, 1, $2, $3, $4, $5, 0, $6, $6)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, cols.CategoryXP, cols.CategoryProgress, cols.Achievements, cols.Pending, p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create progress: %w", err)
	}
	return r.Get(ctx, userID)
}

// Get returns the record.
func (r *ProgressRepository) Get(ctx context.Context, userID string) (*progress.UserProgress, error) {
	return scanProgress(r.conn.QueryRow(ctx, selectProgress+" WHERE user_id = $1", userID))
}

// Apply inserts the journal entry and updates the row under a version guard
// in one transaction.
func (r *ProgressRepository) Apply(ctx context.Context, m progress.Mutation) (*progress.UserProgress, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	var saved *progress.UserProgress
	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		current, err := scanProgress(tx.QueryRow(ctx, selectProgress+" WHERE user_id = $1 FOR UPDATE", m.UserID))
		if err != nil {
			return err
		}

		if err := insertTransaction(ctx, tx, m.Transaction); err != nil {
			return err
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

		tag, err := tx.Exec(ctx, `
			UPDATE user_progress SET
				total_xp = $1,
				level = $2,
				category_xp = $3,
				category_progress = $4,
				achievements = $5,
				pending_achievements = $6,
				version = $7,
				updated_at = $8
			WHERE user_id = $9 AND version = $10
		`, next.TotalXP, next.Level, cols.CategoryXP, cols.CategoryProgress,
			cols.Achievements, cols.Pending, next.Version, next.UpdatedAt,
			m.UserID, m.ExpectedVersion)
		if err != nil {
			return fmt.Errorf("failed to update progress: %w", err)
		}
		if tag.RowsAffected() == 0 {
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

func insertTransaction(ctx context.Context, q Querier, t progress.XpTransaction) error {
	_, err := q.Exec(ctx, `
		INSERT INTO xp_transactions (
			id, user_id, token, source, action, category, amount,
			description, reversal_of, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, t.ID, t.UserID, t.Token, t.Source, t.Action, string(t.Category), t.Amount,
		t.Description, t.ReversalOf, t.OccurredAt)
	if err == nil {
		return nil
	}
	if constraint, ok := UniqueViolation(err); ok {
		switch constraint {
		case constraintUserToken:
			return shared.ErrDuplicateToken
		case constraintUserReversal:
			return shared.ErrAlreadyReverse
		}
	}
	return fmt.Errorf("failed to insert transaction: %w", err)
}

func scanProgress(row pgx.Row) (*progress.UserProgress, error) {
	var (
		p    progress.UserProgress
		cols rowcodec.Record
	)
	err := row.Scan(
		&p.UserID,
		&p.TotalXP,
		&p.Level,
		&cols.CategoryXP,
		&cols.CategoryProgress,
		&cols.Achievements,
		&cols.Pending,
		&p.Version,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrProgressNotFound
		}
		return nil, fmt.Errorf("failed to scan progress: %w", err)
	}
	if err := cols.DecodeInto(&p); err != nil {
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Journal Queries
// ─────────────────────────────────────────────────────────────────────────────

// FindTransactions returns matching transactions in chronological order.
func (r *ProgressRepository) FindTransactions(ctx context.Context, f progress.TransactionFilter) ([]progress.XpTransaction, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if !f.Range.From.IsZero() {
		add("occurred_at >= $%d", f.Range.From)
	}
	if !f.Range.To.IsZero() {
		add("occurred_at < $%d", f.Range.To)
	}
	if f.Source != "" {
		add("source = $%d", f.Source)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.Token != "" {
		add("token = $%d", f.Token)
	}
	if f.ReversalOf != "" {
		add("reversal_of = $%d", f.ReversalOf)
	}

	query := `
		SELECT id, user_id, token, source, action, category, amount,
		       description, reversal_of, occurred_at
		FROM xp_transactions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY occurred_at, id"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []progress.XpTransaction
	for rows.Next() {
		var (
			t        progress.XpTransaction
			category string
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Token, &t.Source, &t.Action, &category,
			&t.Amount, &t.Description, &t.ReversalOf, &t.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		t.Category = progress.Category(category)
		t.OccurredAt = t.OccurredAt.UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// History Maintenance
// ─────────────────────────────────────────────────────────────────────────────

// SaveDailySummaries upserts the summaries of the given days in one batch.
func (r *ProgressRepository) SaveDailySummaries(ctx context.Context, userID string, summaries []progress.XpDailySummary) error {
	if len(summaries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, d := range summaries {
		cols, err := rowcodec.EncodeSummary(d)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO xp_daily_summaries (user_id, day, total_xp, sources, categories)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id, day) DO UPDATE SET
				total_xp = EXCLUDED.total_xp,
				sources = EXCLUDED.sources,
				categories = EXCLUDED.categories
		`, userID, d.Date, d.TotalXP, cols.Sources, cols.Categories)
	}

	return r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to save daily summaries: %w", err)
		}
		return nil
	})
}

// FindDailySummaries returns summaries for days in [fromDay, toDay].
func (r *ProgressRepository) FindDailySummaries(ctx context.Context, userID, fromDay, toDay string) ([]progress.XpDailySummary, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT user_id, day, total_xp, sources, categories
		FROM xp_daily_summaries
		WHERE user_id = $1
		  AND ($2::text = '' OR day >= $2::text)
		  AND ($3::text = '' OR day <= $3::text)
		ORDER BY day
	`, userID, fromDay, toDay)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily summaries: %w", err)
	}
	defer rows.Close()

	var out []progress.XpDailySummary
	for rows.Next() {
		var (
			d    progress.XpDailySummary
			cols rowcodec.Summary
		)
		if err := rows.Scan(&d.UserID, &d.Date, &d.TotalXP, &cols.Sources, &cols.Categories); err != nil {
			return nil, fmt.Errorf("failed to scan daily summary: %w", err)
		}
		if err := cols.DecodeInto(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// PurgeTransactions deletes transactions that occurred before the cutoff.
func (r *ProgressRepository) PurgeTransactions(ctx context.Context, userID string, before time.Time) (int, error) {
	tag, err := r.conn.Exec(ctx,
		"DELETE FROM xp_transactions WHERE user_id = $1 AND occurred_at < $2", userID, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge transactions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// PurgeDailySummaries deletes summaries for days before beforeDay.
func (r *ProgressRepository) PurgeDailySummaries(ctx context.Context, userID, beforeDay string) (int, error) {
	tag, err := r.conn.Exec(ctx,
		"DELETE FROM xp_daily_summaries WHERE user_id = $1 AND day < $2", userID, beforeDay)
	if err != nil {
		return 0, fmt.Errorf("failed to purge daily summaries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListUsersWithTransactionsBefore returns users with detail older than before.
func (r *ProgressRepository) ListUsersWithTransactionsBefore(ctx context.Context, before time.Time) ([]string, error) {
	rows, err := r.conn.Query(ctx,
		"SELECT DISTINCT user_id FROM xp_transactions WHERE occurred_at < $1 ORDER BY user_id", before)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Health pings the database.
func (r *ProgressRepository) Health(ctx context.Context) error {
	return r.conn.Ping(ctx)
}

// Close closes the pool.
func (r *ProgressRepository) Close() error {
	r.conn.Close()
	return nil
}
