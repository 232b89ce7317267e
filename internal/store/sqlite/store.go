// Package sqlite stores documents as JSON rows in a local SQLite database. Each collection is a table
// with a unique hash column; other fields are indexed with json_extract expression indexes.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	json "github.com/goccy/go-json"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/fightgraph-crawler/internal/store"
)

// Config controls the SQLite store.
type Config struct {
	Path          string
	BusyTimeoutMS int
}

// Store implements store.Store on SQLite.
type Store struct {
	db     *sql.DB
	tables sync.Map
}

var _ store.Store = (*Store)(nil)

// Open creates the database file if needed and applies connection pragmas.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store.sqlite.path is required")
	}
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
	}
	// One connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	busy := cfg.BusyTimeoutMS
	if busy <= 0 {
		busy = 5000
	}
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy),
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) ensureTable(ctx context.Context, collection string) error {
	if _, ok := s.tables.Load(collection); ok {
		return nil
	}
	if err := store.ValidateName(collection); err != nil {
		return err
	}
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	hash TEXT NOT NULL UNIQUE,
	doc TEXT NOT NULL
)`, collection)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", collection, err)
	}
	s.tables.Store(collection, struct{}{})
	return nil
}

func fieldExpr(field string) string {
	if field == store.HashField {
		return "hash"
	}
	return fmt.Sprintf("json_extract(doc, '$.%s')", field)
}

// FindOne implements store.Finder.
func (s *Store) FindOne(ctx context.Context, collection, field, value string) (store.Document, bool, error) {
	if err := store.ValidateName(field); err != nil {
		return nil, false, err
	}
	if err := s.ensureTable(ctx, collection); err != nil {
		return nil, false, err
	}
	query := fmt.Sprintf(`SELECT doc FROM %s WHERE %s = ? LIMIT 1`, collection, fieldExpr(field))
	var raw string
	err := s.db.QueryRowContext(ctx, query, value).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("find %s.%s: %w", collection, field, err)
	}
	var doc store.Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, false, fmt.Errorf("decode %s document: %w", collection, err)
	}
	return doc, true, nil
}

// InsertMany writes docs in one transaction, skipping hash conflicts.
func (s *Store) InsertMany(ctx context.Context, collection string, docs []store.Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	if err := store.ValidateDocuments(docs); err != nil {
		return 0, err
	}
	if err := s.ensureTable(ctx, collection); err != nil {
		return 0, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin insert into %s: %w", collection, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (hash, doc) VALUES (?, ?) ON CONFLICT(hash) DO NOTHING`, collection))
	if err != nil {
		return 0, fmt.Errorf("prepare insert into %s: %w", collection, err)
	}
	defer func() { _ = stmt.Close() }()

	inserted := 0
	for _, doc := range docs {
		raw, err := json.Marshal(doc)
		if err != nil {
			return 0, fmt.Errorf("encode %s document: %w", collection, err)
		}
		res, err := stmt.ExecContext(ctx, doc.Hash(), string(raw))
		if err != nil {
			return 0, fmt.Errorf("insert into %s: %w", collection, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		inserted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit insert into %s: %w", collection, err)
	}
	return inserted, nil
}

// EnsureIndex creates an expression index on field. The hash column is always uniquely indexed.
func (s *Store) EnsureIndex(ctx context.Context, collection, field string) error {
	if err := store.ValidateName(field); err != nil {
		return err
	}
	if err := s.ensureTable(ctx, collection); err != nil {
		return err
	}
	if field == store.HashField {
		return nil
	}
	query := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_%s_idx ON %s (%s)`,
		collection, field, collection, fieldExpr(field))
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create index on %s.%s: %w", collection, field, err)
	}
	return nil
}

// Distinct returns the unique non-null string values of field in first-inserted order.
func (s *Store) Distinct(ctx context.Context, collection, field string) ([]string, error) {
	if err := store.ValidateName(field); err != nil {
		return nil, err
	}
	if err := s.ensureTable(ctx, collection); err != nil {
		return nil, err
	}
	expr := fieldExpr(field)
	query := fmt.Sprintf(`SELECT v FROM (
	SELECT %s AS v, MIN(id) AS first FROM %s WHERE %s IS NOT NULL GROUP BY v
) ORDER BY first`, expr, collection, expr)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("distinct %s.%s: %w", collection, field, err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan distinct %s.%s: %w", collection, field, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate distinct %s.%s: %w", collection, field, err)
	}
	return out, nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
