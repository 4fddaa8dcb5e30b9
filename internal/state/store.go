// Package state persists experiment runs, their metrics and the content
// they reference into a relational database.
//
// A Store owns the database connection. Writes happen inside a Session,
// which wraps one transaction and is shared by every observer of the runs
// being recorded. Identity-keyed rows (sources, resources, hosts,
// repositories, dependencies, experiments) are created lazily on first use
// and reused afterwards.
package state

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "modernc.org/sqlite"             // registers the "sqlite" driver
)

// Dialect names a supported SQL backend.
type Dialect string

// Supported dialects.
const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// ParseDialect maps a configured driver name to a Dialect.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "", "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pgx":
		return DialectPostgres, nil
	}
	return "", fmt.Errorf("unsupported driver: %s", name)
}

// rebind rewrites ? placeholders into the dialect's native form.
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

const pingTimeout = 5 * time.Second

// Store is a handle on the run database.
type Store struct {
	db      *sql.DB
	dialect Dialect
	path    string
	logger  *slog.Logger
}

// NewStore creates a new store. If logger is nil, a discard logger is used.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{logger: logger, dialect: DialectSQLite}
}

// NewStoreWithDB wraps an already opened database. Useful for tests and for
// callers that manage their own connection pool.
func NewStoreWithDB(db *sql.DB, dialect Dialect, logger *slog.Logger) *Store {
	s := NewStore(logger)
	s.db = db
	s.dialect = dialect
	return s
}

// Open opens a SQLite database at path. Use ":memory:" for an in-memory
// database.
func (s *Store) Open(path string) error {
	var dsn string
	if path == ":memory:" {
		dsn = "file::memory:?_pragma=foreign_keys(1)"
	} else {
		dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	}

	s.logger.Debug("opening sqlite store", slog.String("path", path))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s.db = db
	s.dialect = DialectSQLite
	s.path = path
	return nil
}

// OpenPostgres connects to a PostgreSQL database through pgx.
func (s *Store) OpenPostgres(ctx context.Context, dsn string) error {
	s.logger.Debug("opening postgres store")

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open postgres database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping postgres database: %w", err)
	}

	s.db = db
	s.dialect = DialectPostgres
	s.path = ""
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the SQL dialect of the open database.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Path returns the SQLite file path, or "" for other dialects.
func (s *Store) Path() string {
	return s.path
}

// Begin starts a write session. The caller owns the session and must end it
// with Commit or Rollback.
func (s *Store) Begin(ctx context.Context) (*Session, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin session: %w", err)
	}
	return &Session{store: s, q: tx, tx: tx, logger: s.logger}, nil
}

// InSession runs fn inside a new session, committing when fn succeeds and
// rolling back otherwise.
func (s *Store) InSession(ctx context.Context, fn func(*Session) error) error {
	sess, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = sess.Rollback() }()

	if err := fn(sess); err != nil {
		return err
	}
	return sess.Commit()
}

// reader returns a non-transactional session for read-only queries.
func (s *Store) reader() (*Session, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	return &Session{store: s, q: s.db, logger: s.logger}, nil
}
