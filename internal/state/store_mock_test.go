package state

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Gracecr/sacred/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockSession(t *testing.T, dialect Dialect) (*Session, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectBegin()
	store := NewStoreWithDB(db, dialect, nil)
	sess, err := store.Begin(context.Background())
	require.NoError(t, err)
	return sess, mock
}

func TestDialect_Rebind(t *testing.T) {
	tests := []struct {
		name    string
		dialect Dialect
		in      string
		want    string
	}{
		{"sqlite untouched", DialectSQLite, "SELECT id FROM runs WHERE run_id = ? AND status = ?", "SELECT id FROM runs WHERE run_id = ? AND status = ?"},
		{"postgres numbered", DialectPostgres, "SELECT id FROM runs WHERE run_id = ? AND status = ?", "SELECT id FROM runs WHERE run_id = $1 AND status = $2"},
		{"no placeholders", DialectPostgres, "SELECT 1", "SELECT 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.dialect.rebind(tt.in))
		})
	}
}

func TestParseDialect(t *testing.T) {
	for in, want := range map[string]Dialect{
		"":           DialectSQLite,
		"sqlite":     DialectSQLite,
		"SQLite3":    DialectSQLite,
		"postgres":   DialectPostgres,
		"postgresql": DialectPostgres,
		"pgx":        DialectPostgres,
	} {
		got, err := ParseDialect(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseDialect("mysql")
	assert.EqualError(t, err, "unsupported driver: mysql")
}

func TestSession_GetOrCreateDependency_Postgres(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(mock sqlmock.Sqlmock)
		wantID  int64
		wantErr bool
	}{
		{
			name: "existing row",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM dependencies WHERE name = $1 AND version = $2`)).
					WithArgs("numpy", "1.26.0").
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
			},
			wantID: 7,
		},
		{
			name: "inserted on miss",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM dependencies`)).
					WillReturnError(sql.ErrNoRows)
				mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO dependencies (name, version) VALUES ($1, $2) ON CONFLICT DO NOTHING RETURNING id`)).
					WithArgs("numpy", "1.26.0").
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(8))
			},
			wantID: 8,
		},
		{
			name: "concurrent insert wins",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM dependencies`)).
					WillReturnError(sql.ErrNoRows)
				mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO dependencies`)).
					WillReturnRows(sqlmock.NewRows([]string{"id"}))
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM dependencies`)).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(9))
			},
			wantID: 9,
		},
		{
			name: "lookup error is wrapped",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM dependencies`)).
					WillReturnError(errors.New("connection reset"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess, mock := newMockSession(t, DialectPostgres)
			tt.setup(mock)

			dep, err := sess.GetOrCreateDependency(context.Background(), "numpy==1.26.0")
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "failed to get or create dependency")
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantID, dep.ID)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSession_CompleteRun_Postgres(t *testing.T) {
	stop := time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC)

	t.Run("running run completes", func(t *testing.T) {
		sess, mock := newMockSession(t, DialectPostgres)
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE runs SET status = $1, stop_time = $2, result = $3`)).
			WithArgs("COMPLETED", stop, nil, int64(3), "RUNNING").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, sess.CompleteRun(context.Background(), 3, stop, nil))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("finished run is rejected", func(t *testing.T) {
		sess, mock := newMockSession(t, DialectPostgres)
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE runs SET status = $1`)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT status FROM runs WHERE id = $1`)).
			WithArgs(int64(3)).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("FAILED"))

		err := sess.CompleteRun(context.Background(), 3, stop, nil)
		require.ErrorIs(t, err, core.ErrRunFinished)
		assert.Contains(t, err.Error(), "FAILED")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("exec error is wrapped", func(t *testing.T) {
		sess, mock := newMockSession(t, DialectPostgres)
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE runs`)).
			WillReturnError(errors.New("deadlock detected"))

		err := sess.CompleteRun(context.Background(), 3, stop, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to complete run: deadlock detected")
	})
}

func TestSession_CommitRollback(t *testing.T) {
	sess, mock := newMockSession(t, DialectSQLite)
	mock.ExpectCommit()
	require.NoError(t, sess.Commit())
	require.NoError(t, sess.Rollback(), "rollback after commit is a no-op")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSession_AppendMetrics_NonFinitePostgres(t *testing.T) {
	sess, mock := newMockSession(t, DialectPostgres)
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM metrics WHERE run_id = $1 AND name = $2`)).
		WithArgs(int64(3), "loss").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(9)))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE metrics SET units = $1 WHERE id = $2`)).
		WithArgs("", int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM metric_dependencies WHERE dependent_id = $1`)).
		WithArgs(int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	insert := regexp.QuoteMeta(`INSERT INTO metric_samples (metric_id, step, value, nonfinite, recorded_at) VALUES ($1, $2, $3, $4, $5)`)
	mock.ExpectExec(insert).WithArgs(int64(9), 0.0, 0.5, nil, ts).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(insert).WithArgs(int64(9), 1.0, nil, "NaN", ts).WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec(insert).WithArgs(int64(9), 2.0, nil, "-Inf", ts).WillReturnResult(sqlmock.NewResult(3, 1))

	err := sess.AppendMetrics(context.Background(), 3, map[string]core.MetricSeries{
		"loss": {
			Steps:      []float64{0, 1, 2},
			Values:     []float64{0.5, math.NaN(), math.Inf(-1)},
			Timestamps: []time.Time{ts, ts, ts},
		},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSession_IngestProgress_Postgres(t *testing.T) {
	ctx := context.Background()

	t.Run("upsert by path", func(t *testing.T) {
		sess, mock := newMockSession(t, DialectPostgres)
		mock.ExpectExec(`INSERT INTO ingest_progress \(path, run_id, events, prefix_md5, updated_at\)\s+VALUES \(\$1, \$2, \$3, \$4, \$5\)\s+ON CONFLICT \(path\) DO UPDATE SET`).
			WithArgs("/logs/a.jsonl", "run-1", 4, "abc", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, sess.SaveIngestProgress(ctx, IngestProgress{
			Path: "/logs/a.jsonl", Token: "run-1", Events: 4, PrefixDigest: "abc",
		}))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing progress", func(t *testing.T) {
		sess, mock := newMockSession(t, DialectPostgres)
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT run_id, events, prefix_md5 FROM ingest_progress WHERE path = $1`)).
			WithArgs("/logs/b.jsonl").
			WillReturnError(sql.ErrNoRows)

		p, found, err := sess.IngestProgress(ctx, "/logs/b.jsonl")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, p)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
