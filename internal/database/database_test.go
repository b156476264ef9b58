package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/assetgw/internal/observability"
)

func openTestDB(t *testing.T, metrics *observability.Metrics) *DB {
	t.Helper()

	db, err := Open(context.Background(), Config{
		Driver:  DriverSQLite,
		DSN:     filepath.Join(t.TempDir(), "nested", "test.db"),
		Metrics: metrics,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func insertImage(ctx context.Context, ex Executor, id, isbn string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := ex.ExecContext(ctx,
		`INSERT INTO images (id, title, author, isbn, available_quantity, shelf_location, created_at, updated_at)
		 VALUES (?, 'Title', 'Author', ?, 1, 'A-1', ?, ?)`,
		id, isbn, now, now)
	return err
}

func countImages(t *testing.T, db *DB) int {
	t.Helper()

	var n int
	require.NoError(t, db.QueryRowContext(context.Background(), `SELECT COUNT(*) FROM images`).Scan(&n))
	return n
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{Driver: "oracle", DSN: "x"})
	assert.ErrorIs(t, err, ErrUnsupportedDriver)
}

func TestOpen_CreatesSchemaIdempotently(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "twice.db")
	for i := 0; i < 2; i++ {
		db, err := Open(context.Background(), Config{Driver: DriverSQLite, DSN: path})
		require.NoError(t, err)
		assert.Equal(t, DriverSQLite, db.Driver())
		assert.Equal(t, 0, countImages(t, db))
		require.NoError(t, db.Close())
	}
}

func TestDB_CloseIdempotent(t *testing.T) {
	t.Parallel()

	db := openTestDB(t, nil)
	assert.NoError(t, db.Close())
	assert.NoError(t, db.Close())
}

func TestRebind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		driver string
		query  string
		want   string
	}{
		{
			name:   "sqlite unchanged",
			driver: DriverSQLite,
			query:  "SELECT * FROM images WHERE id = ? AND isbn = ?",
			want:   "SELECT * FROM images WHERE id = ? AND isbn = ?",
		},
		{
			name:   "postgres numbered",
			driver: DriverPostgres,
			query:  "SELECT * FROM images WHERE id = ? AND isbn = ?",
			want:   "SELECT * FROM images WHERE id = $1 AND isbn = $2",
		},
		{
			name:   "postgres quoted question mark",
			driver: DriverPostgres,
			query:  "SELECT '?' FROM images WHERE id = ?",
			want:   "SELECT '?' FROM images WHERE id = $1",
		},
		{
			name:   "no placeholders",
			driver: DriverPostgres,
			query:  "SELECT 1",
			want:   "SELECT 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Rebind(tt.driver, tt.query))
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	t.Parallel()

	assert.False(t, IsUniqueViolation(nil))
	assert.False(t, IsUniqueViolation(errors.New("boom")))
	assert.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))

	db := openTestDB(t, nil)
	ctx := context.Background()
	require.NoError(t, insertImage(ctx, db, "a", "isbn-1"))
	err := insertImage(ctx, db, "b", "isbn-1")
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
}

func TestTxManager_Commit(t *testing.T) {
	t.Parallel()

	metrics := observability.NewMetrics("")
	db := openTestDB(t, metrics)
	m := NewTxManager(db)

	err := m.Run(context.Background(), func(ctx context.Context) error {
		assert.True(t, m.InTransaction(ctx))
		if err := insertImage(ctx, m.Executor(ctx), "a", "isbn-1"); err != nil {
			return err
		}
		return insertImage(ctx, m.Executor(ctx), "b", "isbn-2")
	})
	require.NoError(t, err)
	assert.Equal(t, 2, countImages(t, db))

	series, err := testutil.GatherAndCount(metrics.Registry(), "assetgw_db_transactions_total")
	require.NoError(t, err)
	assert.Equal(t, 1, series)
}

func TestTxManager_SecondStepFailureRollsBackFirst(t *testing.T) {
	t.Parallel()

	db := openTestDB(t, nil)
	m := NewTxManager(db)
	stepTwo := errors.New("step two failed")

	err := m.Run(context.Background(), func(ctx context.Context) error {
		if err := insertImage(ctx, m.Executor(ctx), "a", "isbn-1"); err != nil {
			return err
		}
		return stepTwo
	})

	assert.Same(t, stepTwo, err)
	assert.Equal(t, 0, countImages(t, db))
}

func TestTxManager_ConstraintFailureRollsBack(t *testing.T) {
	t.Parallel()

	db := openTestDB(t, nil)
	m := NewTxManager(db)

	err := m.Run(context.Background(), func(ctx context.Context) error {
		if err := insertImage(ctx, m.Executor(ctx), "a", "isbn-1"); err != nil {
			return err
		}
		return insertImage(ctx, m.Executor(ctx), "b", "isbn-1")
	})

	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
	assert.Equal(t, 0, countImages(t, db))
}

func TestTxManager_PanicRollsBackAndRepanics(t *testing.T) {
	t.Parallel()

	db := openTestDB(t, nil)
	m := NewTxManager(db)

	assert.PanicsWithValue(t, "boom", func() {
		_ = m.Run(context.Background(), func(ctx context.Context) error {
			if err := insertImage(ctx, m.Executor(ctx), "a", "isbn-1"); err != nil {
				return err
			}
			panic("boom")
		})
	})

	assert.Equal(t, 0, countImages(t, db))

	// The single SQLite connection must be usable again.
	require.NoError(t, insertImage(context.Background(), db, "b", "isbn-2"))
}

func TestTxManager_NestedJoinsOuter(t *testing.T) {
	t.Parallel()

	db := openTestDB(t, nil)
	m := NewTxManager(db)
	outerFails := errors.New("outer failed")

	err := m.Run(context.Background(), func(ctx context.Context) error {
		outerTx := m.Executor(ctx)
		innerErr := m.Run(ctx, func(inner context.Context) error {
			assert.Same(t, outerTx, m.Executor(inner))
			return insertImage(inner, m.Executor(inner), "a", "isbn-1")
		})
		require.NoError(t, innerErr)
		return outerFails
	})

	assert.ErrorIs(t, err, outerFails)
	assert.Equal(t, 0, countImages(t, db), "inner work is undone with the outer unit")
}

func TestTxManager_ConcurrentReaderNeverSeesPartialWrite(t *testing.T) {
	t.Parallel()

	db := openTestDB(t, nil)
	m := NewTxManager(db)

	firstWritten := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- m.Run(context.Background(), func(ctx context.Context) error {
			if err := insertImage(ctx, m.Executor(ctx), "a", "isbn-1"); err != nil {
				return err
			}
			close(firstWritten)
			<-release
			return insertImage(ctx, m.Executor(ctx), "b", "isbn-2")
		})
	}()

	select {
	case <-firstWritten:
	case err := <-done:
		t.Fatalf("unit of work ended early: %v", err)
	}

	readers := map[string]func(ctx context.Context) (int, error){
		"plain read": func(ctx context.Context) (int, error) {
			var n int
			err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM images`).Scan(&n)
			return n, err
		},
		"concurrent unit of work": func(ctx context.Context) (int, error) {
			return RunResult(ctx, m, func(ctx context.Context) (int, error) {
				var n int
				err := m.Executor(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM images`).Scan(&n)
				return n, err
			})
		},
	}
	for name, read := range readers {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		n, err := read(ctx)
		cancel()
		if err != nil {
			assert.ErrorIs(t, err, context.DeadlineExceeded, name)
			continue
		}
		assert.Zero(t, n, "%s observed uncommitted rows", name)
	}

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 2, countImages(t, db))
}

func TestTxManager_ExecutorOutsideUnitOfWork(t *testing.T) {
	t.Parallel()

	db := openTestDB(t, nil)
	m := NewTxManager(db)

	assert.False(t, m.InTransaction(context.Background()))
	assert.Same(t, db, m.Executor(context.Background()))
	assert.Same(t, db, m.DB())
}

func TestRunResult(t *testing.T) {
	t.Parallel()

	db := openTestDB(t, nil)
	m := NewTxManager(db)
	ctx := context.Background()

	n, err := RunResult(ctx, m, func(ctx context.Context) (int, error) {
		if err := insertImage(ctx, m.Executor(ctx), "a", "isbn-1"); err != nil {
			return 0, err
		}
		var count int
		err := m.Executor(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM images`).Scan(&count)
		return count, err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = RunResult(ctx, m, func(context.Context) (int, error) {
		return 42, errors.New("nope")
	})
	assert.Error(t, err)
	assert.Zero(t, n)
}

type fakeLoader struct {
	empty bool
	added []string
}

func (f *fakeLoader) IsEmpty(context.Context) (bool, error) { return f.empty, nil }

func (f *fakeLoader) AddBatch(_ context.Context, items []string) (int, error) {
	f.added = append(f.added, items...)
	return len(items), nil
}

func TestSeed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "seed.json")
	require.NoError(t, os.WriteFile(path, []byte(`["a","b","c"]`), 0o600))

	t.Run("empty target is seeded", func(t *testing.T) {
		t.Parallel()
		l := &fakeLoader{empty: true}
		n, err := Seed[string](context.Background(), path, l)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Equal(t, []string{"a", "b", "c"}, l.added)
	})

	t.Run("populated target is left alone", func(t *testing.T) {
		t.Parallel()
		l := &fakeLoader{}
		n, err := Seed[string](context.Background(), path, l)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Empty(t, l.added)
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		n, err := Seed[string](context.Background(), filepath.Join(dir, "absent.json"), &fakeLoader{empty: true})
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("invalid json", func(t *testing.T) {
		t.Parallel()
		bad := filepath.Join(t.TempDir(), "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{`), 0o600))
		_, err := Seed[string](context.Background(), bad, &fakeLoader{empty: true})
		assert.Error(t, err)
	})

	t.Run("invalid record stores nothing", func(t *testing.T) {
		t.Parallel()
		l := &fakeLoader{empty: true}
		notB := func(s string) error {
			if s == "b" {
				return errors.New("b is not allowed")
			}
			return nil
		}
		n, err := Seed(context.Background(), path, l, notB)
		assert.ErrorIs(t, err, ErrInvalidSeed)
		assert.ErrorContains(t, err, "seed record 1: b is not allowed")
		assert.Zero(t, n)
		assert.Empty(t, l.added)
	})
}
