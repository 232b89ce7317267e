// Package postgres stores documents as JSONB rows in Postgres. Each collection is a table with a unique
// hash column; identifying-link lookups use expression indexes on the document.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/fightgraph-crawler/internal/store"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// maxRowsPerStatement keeps a single INSERT well under the 65535 bind parameter limit.
const maxRowsPerStatement = 1000

type execer interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
}

type pool interface {
	execer
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Ping(context.Context) error
	Close()
}

// Store implements store.Store on a pgx pool.
type Store struct {
	pool   pool
	tables sync.Map
}

var _ store.Store = (*Store)(nil)

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

func (s *Store) ensureTable(ctx context.Context, collection string) error {
	if _, ok := s.tables.Load(collection); ok {
		return nil
	}
	if err := store.ValidateName(collection); err != nil {
		return err
	}
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	hash TEXT NOT NULL UNIQUE,
	doc JSONB NOT NULL,
	inserted_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, collection)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", collection, err)
	}
	s.tables.Store(collection, struct{}{})
	return nil
}

func fieldExpr(field string) string {
	if field == store.HashField {
		return "hash"
	}
	return fmt.Sprintf("(doc->>'%s')", field)
}

// FindOne implements store.Finder.
func (s *Store) FindOne(ctx context.Context, collection, field, value string) (store.Document, bool, error) {
	if err := store.ValidateName(field); err != nil {
		return nil, false, err
	}
	if err := s.ensureTable(ctx, collection); err != nil {
		return nil, false, err
	}
	query := fmt.Sprintf(`SELECT doc FROM %s WHERE %s = $1 LIMIT 1`, collection, fieldExpr(field))
	var raw []byte
	err := s.pool.QueryRow(ctx, query, value).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("find %s.%s: %w", collection, field, err)
	}
	var doc store.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, false, fmt.Errorf("decode %s document: %w", collection, err)
	}
	return doc, true, nil
}

// InsertMany writes docs with multi-row statements, skipping hash conflicts. Batches larger than
// maxRowsPerStatement are split into chunks written in one transaction.
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
	if len(docs) <= maxRowsPerStatement {
		return insertRows(ctx, s.pool, collection, docs)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin insert into %s: %w", collection, err)
	}
	inserted := 0
	for start := 0; start < len(docs); start += maxRowsPerStatement {
		end := min(start+maxRowsPerStatement, len(docs))
		n, err := insertRows(ctx, tx, collection, docs[start:end])
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			return 0, err
		}
		inserted += n
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit insert into %s: %w", collection, err)
	}
	return inserted, nil
}

func insertRows(ctx context.Context, db execer, collection string, docs []store.Document) (int, error) {
	values := make([]string, 0, len(docs))
	args := make([]any, 0, len(docs)*2)
	for i, doc := range docs {
		raw, err := json.Marshal(doc)
		if err != nil {
			return 0, fmt.Errorf("encode %s document: %w", collection, err)
		}
		values = append(values, fmt.Sprintf("($%d, $%d::jsonb)", i*2+1, i*2+2))
		args = append(args, doc.Hash(), raw)
	}
	query := fmt.Sprintf(`INSERT INTO %s (hash, doc) VALUES %s ON CONFLICT (hash) DO NOTHING`,
		collection, strings.Join(values, ", "))
	tag, err := db.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", collection, err)
	}
	return int(tag.RowsAffected()), nil
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
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create index on %s.%s: %w", collection, field, err)
	}
	return nil
}

// Distinct returns the unique non-null values of field in first-inserted order.
func (s *Store) Distinct(ctx context.Context, collection, field string) ([]string, error) {
	if err := store.ValidateName(field); err != nil {
		return nil, err
	}
	if err := s.ensureTable(ctx, collection); err != nil {
		return nil, err
	}
	expr := fieldExpr(field)
	query := fmt.Sprintf(`SELECT %s AS v FROM %s WHERE %s IS NOT NULL GROUP BY v ORDER BY MIN(id)`,
		expr, collection, expr)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("distinct %s.%s: %w", collection, field, err)
	}
	defer rows.Close()

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

// Ping checks the pool.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
