// Package pan123index is the persistent local mirror of the upstream
// namespace: a SQLite-backed table of (file_id, parent_id, name, is_dir,
// size, etag) rows, unique on (parent_id, name), plus the singleton token
// row pan123.TokenStore persists through.
package pan123index

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // pure-Go driver, registers as "sqlite"

	"github.com/tonimelisma/restic-pan123-backend/internal/pan123"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// RootParentID is the synthetic parent_id denoting the upstream root.
const RootParentID int64 = 0

// bulkInsertChunkSize caps rows per INSERT statement: 50 rows × 7 columns =
// 350 bound parameters, safely under SQLite's default 999-parameter ceiling.
const bulkInsertChunkSize = 50

// Node mirrors one row of file_nodes — see package doc.
type Node struct {
	FileID    int64
	ParentID  int64
	Name      string
	IsDir     bool
	Size      int64
	ETag      string
	UpdatedAt time.Time
}

// Store is the SQLite-backed index. All methods are safe for concurrent
// use: reads run concurrently under WAL, writes serialize at the engine,
// and the unique index on (parent_id, name) arbitrates write-write races.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	stmts nodeStatements
}

type nodeStatements struct {
	child        *sql.Stmt
	findDirChild *sql.Stmt
	children     *sql.Stmt
	upsertByPK   *sql.Stmt
	deleteByID   *sql.Stmt
	count        *sql.Stmt
	getToken     *sql.Stmt
	saveToken    *sql.Stmt
}

// Open creates or opens the index database at path, applies pragmas and
// migrations, and prepares all repeated statements. Use ":memory:" for
// tests.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("opening index database", slog.String("path", path))

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := setPragmas(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, logger: logger}
	if err := s.prepareStatements(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("preparing statements: %w", err)
	}

	logger.Info("index database ready", slog.String("path", path))

	return s, nil
}

// setPragmas configures SQLite for a read-heavy, write-concurrent workload:
// WAL, relaxed durability, a large page cache, in-memory temp tables, and
// memory-mapped I/O.
func setPragmas(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	pragmas := []struct{ sql, desc string }{
		{"PRAGMA journal_mode = WAL", "WAL mode"},
		{"PRAGMA synchronous = NORMAL", "synchronous NORMAL"},
		{"PRAGMA cache_size = -262144", "256MiB page cache"},
		{"PRAGMA temp_store = MEMORY", "in-memory temp tables"},
		{"PRAGMA mmap_size = 268435456", "256MiB memory-mapped I/O"},
		{"PRAGMA foreign_keys = ON", "foreign keys"},
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.sql); err != nil {
			return fmt.Errorf("set pragma %s: %w", p.desc, err)
		}

		logger.Debug("pragma set", slog.String("pragma", p.desc))
	}

	return nil
}

// runMigrations applies all pending schema migrations via the goose v3
// Provider API (no global state, context-aware).
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	// Strip the "migrations/" prefix so goose sees files at the root of the FS.
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	for _, r := range results {
		logger.Debug("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

func (s *Store) prepareStatements(ctx context.Context) error {
	type prep struct {
		dst **sql.Stmt
		sql string
	}

	defs := []prep{
		{&s.stmts.child, sqlChild},
		{&s.stmts.findDirChild, sqlFindDirChild},
		{&s.stmts.children, sqlChildren},
		{&s.stmts.upsertByPK, sqlUpsertByPK},
		{&s.stmts.deleteByID, sqlDeleteByID},
		{&s.stmts.count, sqlCount},
		{&s.stmts.getToken, sqlGetToken},
		{&s.stmts.saveToken, sqlSaveToken},
	}

	for _, d := range defs {
		stmt, err := s.db.PrepareContext(ctx, d.sql)
		if err != nil {
			return fmt.Errorf("preparing statement %q: %w", d.sql, err)
		}

		*d.dst = stmt
	}

	return nil
}

// Close releases prepared statements and the underlying connection.
func (s *Store) Close() error {
	for _, stmt := range []*sql.Stmt{
		s.stmts.child, s.stmts.findDirChild, s.stmts.children,
		s.stmts.upsertByPK, s.stmts.deleteByID, s.stmts.count,
		s.stmts.getToken, s.stmts.saveToken,
	} {
		if stmt != nil {
			stmt.Close()
		}
	}

	return s.db.Close()
}

var _ pan123.TokenStore = (*Store)(nil)
