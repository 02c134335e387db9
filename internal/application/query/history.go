package query

import (
	"context"
	"fmt"
	"time"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/history"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/progress"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// HISTORY QUERY
// XP log entries and daily summaries in a time range. Days that still have
// detail are summarized live so the chart does not wait for the compaction
// job; older days come from stored summaries.
// ══════════════════════════════════════════════════════════════════════════════

const (
	// DefaultHistoryWindow is used when the query has no lower bound.
	DefaultHistoryWindow = 30 * 24 * time.Hour

	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// GetHistoryQuery contains the parameters of the history query.
type GetHistoryQuery struct {
	UserID string
	From   time.Time
	To     time.Time

	// Source narrows the transaction list. Summaries always cover all sources.
	Source string

	// Limit caps the transaction list to the most recent entries.
	Limit int
}

// Validate validates the query.
func (q *GetHistoryQuery) Validate() error {
	if _, err := shared.NewUserID(q.UserID); err != nil {
		return err
	}
	if q.Limit < 0 {
		return shared.NewDomainError("history", "Query", shared.ErrNegativeValue, "limit cannot be negative")
	}
	if q.Limit == 0 {
		q.Limit = defaultHistoryLimit
	}
	if q.Limit > maxHistoryLimit {
		q.Limit = maxHistoryLimit
	}
	_, err := shared.NewTimeRange(q.From, q.To)
	return err
}

// TransactionDTO is one XP log entry.
type TransactionDTO struct {
	ID          string            `json:"id"`
	Token       string            `json:"token"`
	Source      string            `json:"source"`
	Action      string            `json:"action"`
	Category    progress.Category `json:"category,omitempty"`
	Amount      int               `json:"amount"`
	Description string            `json:"description"`
	ReversalOf  string            `json:"reversal_of,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

// HistoryDTO is the history read model.
type HistoryDTO struct {
	UserID       string                    `json:"user_id"`
	From         time.Time                 `json:"from"`
	To           time.Time                 `json:"to"`
	Transactions []TransactionDTO          `json:"transactions"`
	Truncated    bool                      `json:"truncated"`
	Summaries    []progress.XpDailySummary `json:"daily_summaries"`
	Totals       history.Totals            `json:"totals"`
}

// GetHistoryHandler handles the history query.
type GetHistoryHandler struct {
	repo     progress.Repository
	history  progress.HistoryRepository
	location *time.Location
	now      func() time.Time
}

// NewGetHistoryHandler creates a new handler.
func NewGetHistoryHandler(repo progress.Repository, hist progress.HistoryRepository, loc *time.Location, now func() time.Time) *GetHistoryHandler {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &GetHistoryHandler{repo: repo, history: hist, location: loc, now: now}
}

// Handle executes the query.
func (h *GetHistoryHandler) Handle(ctx context.Context, q GetHistoryQuery) (*HistoryDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_history: validation failed: %w", err)
	}
	if q.To.IsZero() {
		q.To = h.now()
	}
	if q.From.IsZero() {
		q.From = q.To.Add(-DefaultHistoryWindow)
	}

	txs, err := h.repo.FindTransactions(ctx, progress.TransactionFilter{
		UserID: q.UserID,
		Range:  shared.TimeRange{From: q.From, To: q.To},
	})
	if err != nil {
		return nil, fmt.Errorf("get_history: transactions: %w", err)
	}

	fromDay := history.DayOf(q.From, h.location)
	toDay := history.DayOf(q.To.Add(-time.Nanosecond), h.location)
	stored, err := h.history.FindDailySummaries(ctx, q.UserID, fromDay, toDay)
	if err != nil {
		return nil, fmt.Errorf("get_history: summaries: %w", err)
	}
	summaries := history.Merge(stored, history.BuildDailySummaries(q.UserID, txs, h.location))

	list := make([]TransactionDTO, 0, len(txs))
	for _, tx := range txs {
		if q.Source != "" && tx.Source != q.Source {
			continue
		}
		list = append(list, toTransactionDTO(tx))
	}
	truncated := len(list) > q.Limit
	if truncated {
		list = list[len(list)-q.Limit:]
	}

	return &HistoryDTO{
		UserID:       q.UserID,
		From:         q.From,
		To:           q.To,
		Transactions: list,
		Truncated:    truncated,
		Summaries:    summaries,
		Totals:       history.Sum(summaries),
	}, nil
}

func toTransactionDTO(tx progress.XpTransaction) TransactionDTO {
	return TransactionDTO{
		ID:          tx.ID,
		Token:       tx.Token,
		Source:      tx.Source,
		Action:      tx.Action,
		Category:    tx.Category,
		Amount:      tx.Amount,
		Description: tx.Description,
		ReversalOf:  tx.ReversalOf,
		OccurredAt:  tx.OccurredAt,
	}
}
