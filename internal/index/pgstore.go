package index

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// PGStore persists index entries in Postgres with pgvector. Replace runs
// inside one transaction, so concurrent readers see either the old or
// the new entry set, never a mix.
type PGStore struct {
	pool *pgxpool.Pool
	dim  int
}

// NewPGStore connects to the database and applies the schema.
func NewPGStore(ctx context.Context, url string, dim int) (*PGStore, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := &PGStore{pool: p, dim: dim}
	if err := s.migrate(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

func (s *PGStore) Close() { s.pool.Close() }

// Ping checks the database connectivity.
func (s *PGStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

func (s *PGStore) migrate(ctx context.Context) error {
	q := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS index_entries (
  id           TEXT PRIMARY KEY,
  source       TEXT NOT NULL,
  start_offset INT NOT NULL,
  content      TEXT NOT NULL,
  embedding    vector(%d),
  created_at   TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE INDEX IF NOT EXISTS index_entries_embedding_idx
  ON index_entries USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
`
	_, err := s.pool.Exec(ctx, fmt.Sprintf(q, s.dim))
	return err
}

// Load reads all entries. An empty table counts as no index.
func (s *PGStore) Load(ctx context.Context) ([]Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, source, start_offset, content, embedding FROM index_entries ORDER BY source, start_offset`)
	if err != nil {
		return nil, &LoadError{Err: err}
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var vec pgvector.Vector
		if err := rows.Scan(&e.ID, &e.Source, &e.StartOffset, &e.Text, &vec); err != nil {
			return nil, &LoadError{Err: err}
		}
		e.Embedding = vec.Slice()
		if s.dim > 0 && len(e.Embedding) != s.dim {
			return nil, &LoadError{Err: fmt.Errorf("entry %s has dim %d, want %d", e.ID, len(e.Embedding), s.dim)}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &LoadError{Err: err}
	}
	if len(entries) == 0 {
		return nil, ErrNoIndex
	}
	return entries, nil
}

// Replace swaps the whole entry set in one transaction.
func (s *PGStore) Replace(ctx context.Context, entries []Entry) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `TRUNCATE index_entries`); err != nil {
		return fmt.Errorf("truncating entries: %w", err)
	}
	for _, e := range entries {
		_, err := tx.Exec(ctx,
			`INSERT INTO index_entries (id, source, start_offset, content, embedding) VALUES ($1,$2,$3,$4,$5)`,
			e.ID, e.Source, e.StartOffset, e.Text, pgvector.NewVector(e.Embedding))
		if err != nil {
			return fmt.Errorf("inserting entry %s: %w", e.ID, err)
		}
	}
	return tx.Commit(ctx)
}
