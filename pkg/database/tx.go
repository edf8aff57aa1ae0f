package database

import (
	"context"
	"database/sql"
	"fmt"
)

// Querier is the subset of *sql.DB / *sql.Tx the repositories run on.
// Repository functions execute SQL through a Querier and never commit;
// callers decide the transaction boundary with Transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// Transaction runs fn inside a transaction on db: commit on clean return,
// rollback on error or panic. When the context already carries an enclosing
// Transaction, fn runs under a savepoint on the same transaction instead,
// so a failing inner block rolls back only its own work.
func Transaction(ctx context.Context, db *sql.DB, fn func(ctx context.Context, q Querier) error) error {
	if outer, ok := ctx.Value(txKey{}).(*txState); ok {
		return savepoint(ctx, outer, fn)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	state := &txState{tx: tx}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, state), tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}

type txState struct {
	tx    *sql.Tx
	depth int
}

func savepoint(ctx context.Context, state *txState, fn func(ctx context.Context, q Querier) error) error {
	state.depth++
	name := fmt.Sprintf("sp_%d", state.depth)
	defer func() { state.depth-- }()

	if _, err := state.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("create savepoint: %w", err)
	}
	if err := fn(ctx, state.tx); err != nil {
		if _, rbErr := state.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return fmt.Errorf("rollback to savepoint after %v: %w", err, rbErr)
		}
		return err
	}
	if _, err := state.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}
