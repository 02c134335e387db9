package progress

import (
	"context"
	"time"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Эти интерфейсы определяют контракт для работы с хранилищем прогресса.
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository определяет операции с записью прогресса и журналом XP.
type Repository interface {
	// GetOrCreate возвращает запись пользователя, создавая её
	// с нулевыми значениями при отсутствии.
	GetOrCreate(ctx context.Context, userID string) (*UserProgress, error)

	// Get возвращает запись пользователя.
	// Возвращает ErrProgressNotFound, если записи нет.
	Get(ctx context.Context, userID string) (*UserProgress, error)

	// Apply атомарно применяет мутацию и добавляет транзакцию в журнал.
	// Возвращает ErrVersionConflict, если версия изменилась,
	// и ErrDuplicateToken, если токен уже применён для пользователя.
	Apply(ctx context.Context, m Mutation) (*UserProgress, error)

	// FindTransactions возвращает транзакции по фильтру в хронологическом порядке.
	FindTransactions(ctx context.Context, filter TransactionFilter) ([]XpTransaction, error)
}

// HistoryRepository определяет операции обслуживания истории.
type HistoryRepository interface {
	// SaveDailySummaries заменяет сводки за переданные дни.
	SaveDailySummaries(ctx context.Context, userID string, summaries []XpDailySummary) error

	// FindDailySummaries возвращает сводки за дни [fromDay, toDay].
	// Пустая граница означает отсутствие ограничения.
	FindDailySummaries(ctx context.Context, userID string, fromDay, toDay string) ([]XpDailySummary, error)

	// PurgeTransactions удаляет транзакции старше before.
	PurgeTransactions(ctx context.Context, userID string, before time.Time) (int, error)

	// PurgeDailySummaries удаляет сводки за дни раньше beforeDay.
	PurgeDailySummaries(ctx context.Context, userID string, beforeDay string) (int, error)

	// ListUsersWithTransactionsBefore возвращает пользователей,
	// у которых есть транзакции старше before.
	ListUsersWithTransactionsBefore(ctx context.Context, before time.Time) ([]string, error)
}

// Store объединяет оба контракта. Все хранилища реализуют его целиком.
type Store interface {
	Repository
	HistoryRepository

	// Health проверяет доступность хранилища.
	Health(ctx context.Context) error

	// Close освобождает ресурсы.
	Close() error
}

// TransactionFilter - фильтр выборки журнала.
type TransactionFilter struct {
	UserID     string
	Range      shared.TimeRange
	Source     string
	Action     string
	Token      string
	ReversalOf string
	Limit      int
}

// Matches проверяет транзакцию на соответствие фильтру.
// Используется хранилищами без языка запросов.
func (f TransactionFilter) Matches(tx XpTransaction) bool {
	if f.UserID != "" && tx.UserID != f.UserID {
		return false
	}
	if !f.Range.Contains(tx.OccurredAt) {
		return false
	}
	if f.Source != "" && tx.Source != f.Source {
		return false
	}
	if f.Action != "" && tx.Action != f.Action {
		return false
	}
	if f.Token != "" && tx.Token != f.Token {
		return false
	}
	if f.ReversalOf != "" && tx.ReversalOf != f.ReversalOf {
		return false
	}
	return true
}
