package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/vyrodovalexey/assetgw/internal/observability"
)

// Transaction outcomes recorded in metrics.
const (
	OutcomeCommit   = "commit"
	OutcomeRollback = "rollback"
	OutcomePanic    = "panic"
	OutcomeNested   = "nested"
)

var tracer = otel.Tracer("assetgw/database")

// Executor is the subset of *sql.DB and *sql.Tx repositories use.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// txState is the unit of work carried in a context. owner guards against a
// transaction of one DB being used with another.
type txState struct {
	tx    *sql.Tx
	owner *DB
}

// TxManager runs units of work against a DB.
type TxManager struct {
	db      *DB
	logger  observability.Logger
	metrics *observability.Metrics
}

// NewTxManager creates a TxManager for db.
func NewTxManager(db *DB) *TxManager {
	return &TxManager{
		db:      db,
		logger:  db.logger,
		metrics: db.metrics,
	}
}

// DB returns the managed database.
func (m *TxManager) DB() *DB {
	return m.db
}

// Executor returns the transaction bound to ctx by Run, or the database
// itself outside a unit of work.
func (m *TxManager) Executor(ctx context.Context) Executor {
	if st, ok := ctx.Value(txKey{}).(*txState); ok && st.owner == m.db {
		return st.tx
	}
	return m.db
}

// InTransaction reports whether ctx carries a unit of work of this manager.
func (m *TxManager) InTransaction(ctx context.Context) bool {
	st, ok := ctx.Value(txKey{}).(*txState)
	return ok && st.owner == m.db
}

// Run executes fn inside a transaction. The transaction commits when fn
// returns nil and rolls back when fn returns an error or panics; a panic is
// re-raised after the rollback. fn's error is returned unchanged.
//
// A Run nested in another Run's context joins the enclosing transaction; only
// the outermost call commits.
func (m *TxManager) Run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if m.InTransaction(ctx) {
		m.metrics.RecordTransaction(OutcomeNested)
		return fn(ctx)
	}

	ctx, span := tracer.Start(ctx, "db.unit_of_work")
	span.SetAttributes(attribute.String("db.system", m.db.driver))
	defer span.End()

	tx, err := m.db.BeginTx(ctx, m.txOptions())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "begin failed")
		return fmt.Errorf("beginning transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			m.rollback(ctx, tx)
			m.metrics.RecordTransaction(OutcomePanic)
			span.SetStatus(codes.Error, "panic")
			panic(p)
		}
	}()

	txCtx := context.WithValue(ctx, txKey{}, &txState{tx: tx, owner: m.db})
	if err := fn(txCtx); err != nil {
		m.rollback(ctx, tx)
		m.metrics.RecordTransaction(OutcomeRollback)
		span.RecordError(err)
		span.SetStatus(codes.Error, "rolled back")
		return err
	}

	if err := tx.Commit(); err != nil {
		m.metrics.RecordTransaction(OutcomeRollback)
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		return fmt.Errorf("committing transaction: %w", err)
	}

	m.metrics.RecordTransaction(OutcomeCommit)
	return nil
}

// RunResult is Run for work that produces a value. The zero value is
// returned on failure.
func RunResult[T any](ctx context.Context, m *TxManager, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := m.Run(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

func (m *TxManager) txOptions() *sql.TxOptions {
	if m.db.driver == DriverPostgres {
		return &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	}
	return nil
}

func (m *TxManager) rollback(ctx context.Context, tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		m.logger.WithContext(ctx).Error("transaction rollback failed", observability.Error(err))
	}
}
