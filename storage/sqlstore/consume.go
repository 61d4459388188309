package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
)

// consumeQuery describes an atomic delete-and-return of one row.
type consumeQuery struct {
	table   string
	columns string
	keyCol  string
	key     string
	// where is the full validity predicate, including the key match
	where string
	args  []any
}

// consumeRow deletes the row matching q and scans it, as one atomic step.
// It returns sql.ErrNoRows when no valid row matched.
func consumeRow[T any](ctx context.Context, s *Store, q consumeQuery, scan func(scanner) (T, error)) (T, error) {
	if s.supportsReturning() {
		query := "DELETE FROM " + q.table + " WHERE " + q.where + " RETURNING " + q.columns
		return scan(s.queryRow(ctx, query, q.args...))
	}

	var zero T
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return zero, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// the row lock makes concurrent consumers wait, then see the row gone
	row := tx.QueryRowContext(ctx, "SELECT "+q.columns+" FROM "+q.table+" WHERE "+q.where+" FOR UPDATE", q.args...)
	v, err := scan(row)
	if err != nil {
		return zero, err
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM "+q.table+" WHERE "+q.keyCol+" = ?", q.key)
	if err != nil {
		return zero, fmt.Errorf("delete: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return zero, sql.ErrNoRows
	}

	if err := tx.Commit(); err != nil {
		return zero, fmt.Errorf("commit: %w", err)
	}
	return v, nil
}
