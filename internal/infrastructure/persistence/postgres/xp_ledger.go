package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/alem-progression/internal/domain/shared"
	"github.com/alem-hub/alem-progression/internal/domain/xp"
)

// ══════════════════════════════════════════════════════════════════════════════
// XP LEDGER
// ══════════════════════════════════════════════════════════════════════════════

// XPLedger implements xp.Ledger. Apply locks the balance row, appends the
// transaction and updates the balance in one transaction.
type XPLedger struct {
	conn *Connection
}

// NewXPLedger creates a new XPLedger.
func NewXPLedger(conn *Connection) *XPLedger {
	return &XPLedger{conn: conn}
}

const selectXPRecord = `
	SELECT student_id, total_xp, current_level, xp_to_next_level, created_at, updated_at
	FROM xp_records
	WHERE student_id = $1
`

func scanXPRecord(row pgx.Row) (*xp.Record, error) {
	var r xp.Record
	if err := row.Scan(&r.StudentID, &r.TotalXP, &r.CurrentLevel, &r.XPToNextLevel, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// Get returns the balance record.
func (l *XPLedger) Get(ctx context.Context, studentID string) (*xp.Record, error) {
	r, err := scanXPRecord(l.conn.QueryRow(ctx, selectXPRecord, studentID))
	if err != nil {
		return nil, mapError("xp", "Get", err, shared.ErrNotFound)
	}
	return r, nil
}

// Apply appends tx and moves the balance by tx.Amount.
func (l *XPLedger) Apply(ctx context.Context, tx *xp.Transaction) (*xp.Record, *xp.Record, error) {
	metadata, err := json.Marshal(nonNilMetadata(tx.Metadata))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	var before, after *xp.Record
	err = l.conn.WithTx(ctx, DefaultTxOptions(), func(dbtx pgx.Tx) error {
		initial := xp.NewRecord(tx.StudentID, tx.CreatedAt)
		if _, err := dbtx.Exec(ctx, `
			INSERT INTO xp_records (student_id, total_xp, current_level, xp_to_next_level, created_at, updated_at)
			VALUES ($1, 0, $2, $3, $4, $4)
			ON CONFLICT (student_id) DO NOTHING
		`, tx.StudentID, initial.CurrentLevel, initial.XPToNextLevel, tx.CreatedAt); err != nil {
			return err
		}

		current, err := scanXPRecord(dbtx.QueryRow(ctx, selectXPRecord+" FOR UPDATE", tx.StudentID))
		if err != nil {
			return err
		}

		total := current.TotalXP + int64(tx.Amount)
		if total < 0 {
			return shared.ErrNegativeValue
		}

		before = current.Clone()
		after = current.Clone()
		after.TotalXP = total
		after.UpdatedAt = tx.CreatedAt
		after.Recompute()

		if _, err := dbtx.Exec(ctx, `
			INSERT INTO xp_transactions (id, student_id, amount, type, description, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, tx.ID, tx.StudentID, tx.Amount, string(tx.Type), tx.Description, metadata, tx.CreatedAt); err != nil {
			return err
		}

		_, err = dbtx.Exec(ctx, `
			UPDATE xp_records
			SET total_xp = $1, current_level = $2, xp_to_next_level = $3, updated_at = $4
			WHERE student_id = $5
		`, after.TotalXP, after.CurrentLevel, after.XPToNextLevel, after.UpdatedAt, tx.StudentID)
		return err
	})
	if err != nil {
		if errors.Is(err, shared.ErrNegativeValue) {
			return nil, nil, err
		}
		return nil, nil, mapError("xp", "Apply", err, nil)
	}

	return before, after, nil
}

// ListTransactions returns the newest transactions first.
func (l *XPLedger) ListTransactions(ctx context.Context, studentID string, limit int) ([]*xp.Transaction, error) {
	rows, err := l.conn.Query(ctx, `
		SELECT id, student_id, amount, type, description, metadata, created_at
		FROM xp_transactions
		WHERE student_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2
	`, studentID, limit)
	if err != nil {
		return nil, mapError("xp", "ListTransactions", err, nil)
	}
	defer rows.Close()

	var out []*xp.Transaction
	for rows.Next() {
		var (
			t        xp.Transaction
			txType   string
			metadata []byte
		)
		if err := rows.Scan(&t.ID, &t.StudentID, &t.Amount, &txType, &t.Description, &metadata, &t.CreatedAt); err != nil {
			return nil, mapError("xp", "ListTransactions", err, nil)
		}
		t.Type = xp.TransactionType(txType)
		if len(metadata) > 0 {
			_ = json.Unmarshal(metadata, &t.Metadata)
		}
		out = append(out, &t)
	}
	return out, mapError("xp", "ListTransactions", rows.Err(), nil)
}

// SumTransactions returns the signed sum of the log.
func (l *XPLedger) SumTransactions(ctx context.Context, studentID string) (int64, error) {
	var sum int64
	err := l.conn.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM xp_transactions WHERE student_id = $1`,
		studentID,
	).Scan(&sum)
	return sum, mapError("xp", "SumTransactions", err, nil)
}

// SumEarnedSince sums positive transactions at or after since.
func (l *XPLedger) SumEarnedSince(ctx context.Context, studentID string, since time.Time) (int64, error) {
	var sum int64
	err := l.conn.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM xp_transactions
		WHERE student_id = $1 AND amount > 0 AND created_at >= $2
	`, studentID, since).Scan(&sum)
	return sum, mapError("xp", "SumEarnedSince", err, nil)
}

func nonNilMetadata(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
