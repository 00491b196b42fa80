package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mind-engage/learncore/internal/apperr"
)

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx starts a transaction, runs fn, and commits if fn returns nil.
// If fn returns an error (or panics) the transaction is rolled back.
func WithTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) (err error) {
	if db == nil {
		return errors.New("db: nil handle")
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return Classify(fmt.Errorf("db: begin tx: %w", err))
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if e := tx.Commit(); e != nil {
			err = Classify(fmt.Errorf("db: commit: %w", e))
		}
	}()
	err = fn(tx)
	return
}

// LockClause returns the row-lock suffix for a SELECT on the given driver.
// SQLite has a single writer connection so it needs none.
func LockClause(d Driver) string {
	if d == DriverPostgres {
		return " FOR UPDATE"
	}
	return ""
}

// Classify maps driver errors onto the apperr taxonomy. Errors that are
// already classified, and sql.ErrNoRows, pass through untouched.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) || errors.Is(err, sql.ErrNoRows) {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone):
		return apperr.Wrap(apperr.KindTransient, err, "storage unavailable")
	case IsUniqueViolation(err):
		return &apperr.Error{Kind: apperr.KindConflict, Code: "duplicate", Message: "concurrent modification", Err: err}
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy") {
		return apperr.Wrap(apperr.KindTransient, err, "storage busy")
	}
	return err
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// WithReadTx runs fn in a read-only transaction. On Postgres it is
// REPEATABLE READ so every statement sees the same snapshot; SQLite's
// single connection already gives that.
func WithReadTx(ctx context.Context, db *sql.DB, d Driver, fn func(*sql.Tx) error) error {
	var opts *sql.TxOptions
	if d == DriverPostgres {
		opts = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return Classify(fmt.Errorf("db: begin read tx: %w", err))
	}
	defer func() { _ = tx.Rollback() }()
	return fn(tx)
}
