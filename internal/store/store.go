package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/viewkit/internal/collate"
	"github.com/roach88/viewkit/internal/engine"
	"github.com/roach88/viewkit/internal/ir"
	"github.com/roach88/viewkit/internal/queryir"
	"github.com/roach88/viewkit/internal/querysql"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - view_state.signature replaces the per-design digest
const currentSchemaVersion = 1

// driverName is the database/sql driver carrying the VIEWKEY collation.
const driverName = "sqlite3_viewkit"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterCollation(querysql.Collation, compareKeys)
		},
	})
}

// compareKeys orders two JSON-encoded keys by the store key order.
// Undecodable text sorts bytewise after every valid key.
func compareKeys(a, b string) int {
	av, aerr := ir.Decode([]byte(a))
	bv, berr := ir.Decode([]byte(b))
	switch {
	case aerr != nil && berr != nil:
		return strings.Compare(a, b)
	case aerr != nil:
		return 1
	case berr != nil:
		return -1
	}
	return collate.Compare(av, bv)
}

// Store is the document store consumed by deployment, identifier
// resolution, migrations, and the ledger and chore views.
type Store interface {
	// Get returns the document with its _id and _rev fields set.
	// Absent and deleted documents are *Error with ReasonMissing or
	// ReasonDeleted.
	Get(ctx context.Context, id string) (ir.Object, error)

	// Put writes doc and returns the new revision. doc["_rev"] must match
	// the current revision; otherwise the result is *Error with
	// ReasonConflict.
	Put(ctx context.Context, doc ir.Object) (string, error)

	// QueryView runs q against subview view of design document design.
	QueryView(ctx context.Context, design, view string, q queryir.Query) ([]ir.Row, error)
}

// Local is an embedded Store backed by SQLite.
//
// Local is safe for concurrent use. Writes and index refreshes serialize
// through a single connection.
type Local struct {
	db       *sql.DB
	engine   *engine.Engine
	compiler *querysql.SQLCompiler
	logger   *slog.Logger

	// indexMu serializes index refreshes so two queries never fold the same
	// documents twice.
	indexMu sync.Mutex
}

var _ Store = (*Local)(nil)

// Option configures a Local store.
type Option func(*Local)

// WithEngine sets the engine that runs view programs. The default engine
// has an empty registry, so only builtin reducers over native maps
// registered elsewhere can run; callers normally pass their own.
func WithEngine(e *engine.Engine) Option {
	return func(l *Local) {
		l.engine = e
	}
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Local) {
		l.logger = logger
	}
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Local, error) {
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	l := &Local{
		db:       db,
		compiler: querysql.NewSQLCompiler(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.engine == nil {
		l.engine = engine.New(nil, engine.WithLogger(l.logger))
	}
	return l, nil
}

// Close closes the database connection.
func (l *Local) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Engine returns the engine running this store's views.
func (l *Local) Engine() *engine.Engine {
	return l.engine
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 drops index state keyed by the old per-design digest. Rows
// are rebuilt on the next query of each view.
func migrateToV1(db *sql.DB) error {
	stmts := []string{
		"DROP TABLE IF EXISTS view_index",
		"DELETE FROM view_rows WHERE NOT EXISTS (SELECT 1 FROM view_state s WHERE s.design = view_rows.design AND s.view = view_rows.view)",
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (l *Local) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := l.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
