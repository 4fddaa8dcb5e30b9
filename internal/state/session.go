package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Session is a unit of work against the store. All lookups and inserts made
// through one session see each other's effects. A session is not safe for
// concurrent use; observers sharing it are driven serially.
type Session struct {
	store  *Store
	q      querier
	tx     *sql.Tx
	logger *slog.Logger
}

// Store returns the store this session belongs to.
func (s *Session) Store() *Store {
	return s.store
}

// Commit makes the session's writes durable.
func (s *Session) Commit() error {
	if s.tx == nil {
		return nil
	}
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session: %w", err)
	}
	return nil
}

// Rollback discards the session's writes. Rolling back a committed session
// is a no-op.
func (s *Session) Rollback() error {
	if s.tx == nil {
		return nil
	}
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to rollback session: %w", err)
	}
	return nil
}

func (s *Session) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.q.ExecContext(ctx, s.store.dialect.rebind(query), args...)
}

func (s *Session) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.q.QueryContext(ctx, s.store.dialect.rebind(query), args...)
}

func (s *Session) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.q.QueryRowContext(ctx, s.store.dialect.rebind(query), args...)
}

// lookupID runs a single-column id query. found is false when no row matched.
func (s *Session) lookupID(ctx context.Context, query string, args ...any) (id int64, found bool, err error) {
	err = s.queryRow(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// getOrInsert returns the id of the row matched by lookup, inserting it
// when missing. build is only called on a miss and returns the INSERT
// statement (without ON CONFLICT / RETURNING clauses) and its arguments.
// When a concurrent writer inserts the same identity first, the existing
// row is returned.
func (s *Session) getOrInsert(
	ctx context.Context,
	lookup string,
	lookupArgs []any,
	build func() (string, []any, error),
) (id int64, created bool, err error) {
	id, found, err := s.lookupID(ctx, lookup, lookupArgs...)
	if err != nil {
		return 0, false, err
	}
	if found {
		return id, false, nil
	}

	insert, args, err := build()
	if err != nil {
		return 0, false, err
	}

	err = s.queryRow(ctx, insert+" ON CONFLICT DO NOTHING RETURNING id", args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		id, found, err = s.lookupID(ctx, lookup, lookupArgs...)
		if err != nil {
			return 0, false, err
		}
		if !found {
			return 0, false, fmt.Errorf("row vanished after insert conflict")
		}
		return id, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// count returns the number of rows in table.
func (s *Session) count(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := s.queryRow(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil { //nolint:gosec // table names are constants
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}
