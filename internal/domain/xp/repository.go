package xp

import (
	"context"
	"time"
)

// Ledger - хранилище балансов и журнала XP.
type Ledger interface {
	// Get возвращает запись студента или ErrNotFound.
	Get(ctx context.Context, studentID string) (*Record, error)

	// Apply атомарно создаёт запись при отсутствии, добавляет транзакцию,
	// изменяет total_xp на tx.Amount и пересчитывает уровень.
	// Возвращает состояние до и после. Если баланс стал бы отрицательным,
	// возвращает ErrNegativeValue и ничего не пишет.
	Apply(ctx context.Context, tx *Transaction) (before, after *Record, err error)

	// ListTransactions возвращает последние транзакции, новые первыми.
	ListTransactions(ctx context.Context, studentID string, limit int) ([]*Transaction, error)

	// SumTransactions возвращает сумму всех транзакций студента.
	SumTransactions(ctx context.Context, studentID string) (int64, error)

	// SumEarnedSince возвращает сумму положительных начислений начиная с since.
	SumEarnedSince(ctx context.Context, studentID string, since time.Time) (int64, error)
}
