// Package postgres keeps the cat noise corpus in PostgreSQL with pgvector.
//
// A shared database lets several machines use one curated, pre-embedded
// corpus instead of shipping a JSON file with each install.
//
//	store, err := postgres.Open(ctx, dsn, 384)
//	corpus, err := store.Load(ctx)
//	idx, err := noise.Build(ctx, corpus, provider, custom, noise.BuildOptions{})
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/kittymode/pkg/noise"
)

// Store is a pgx-pool-backed noise corpus. It is safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
	dims int
}

// Open connects to dsn, registers the pgvector types on every connection and
// runs [Migrate]. dims fixes the vector column width.
func Open(ctx context.Context, dsn string, dims int) (*Store, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("noise postgres: dimensions must be positive, got %d", dims)
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("noise postgres: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("noise postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("noise postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool, dims); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool, dims: dims}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Load returns the stored corpus ordered by position. An empty table is a
// *noise.LoadError.
func (s *Store) Load(ctx context.Context) (*noise.Corpus, error) {
	const q = `
		SELECT text, category, base_noise, variation_type, model, embedding
		FROM   cat_noises
		ORDER  BY position`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, &noise.LoadError{Path: "postgres", Err: fmt.Errorf("query: %w", err)}
	}

	var model string
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (noise.Entry, error) {
		var (
			e        noise.Entry
			rowModel string
			vec      *pgvector.Vector
		)
		if err := row.Scan(&e.Text, &e.Category, &e.BaseNoise, &e.VariationType, &rowModel, &vec); err != nil {
			return noise.Entry{}, err
		}
		if vec != nil {
			e.Embedding = vec.Slice()
		}
		if rowModel != "" {
			model = rowModel
		}
		return e, nil
	})
	if err != nil {
		return nil, &noise.LoadError{Path: "postgres", Err: fmt.Errorf("scan rows: %w", err)}
	}
	if len(entries) == 0 {
		return nil, &noise.LoadError{Path: "postgres", Err: errors.New("cat_noises table is empty")}
	}
	return &noise.Corpus{Model: model, Dimensions: s.dims, Noises: entries, Source: "postgres"}, nil
}

// Store replaces the stored corpus with entries in a single transaction.
// Entries without an embedding are stored with a NULL vector.
func (s *Store) Store(ctx context.Context, model string, entries []noise.Entry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("noise postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx, `DELETE FROM cat_noises`); err != nil {
		return fmt.Errorf("noise postgres: clear: %w", err)
	}

	const q = `
		INSERT INTO cat_noises
		    (position, text, category, base_noise, variation_type, model, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	batch := &pgx.Batch{}
	for i, e := range entries {
		var vec *pgvector.Vector
		if len(e.Embedding) > 0 {
			if len(e.Embedding) != s.dims {
				return fmt.Errorf("noise postgres: entry %d (%q) has %d dimensions, column has %d", i, e.Text, len(e.Embedding), s.dims)
			}
			v := pgvector.NewVector(e.Embedding)
			vec = &v
		}
		batch.Queue(q, i, e.Text, e.Category, e.BaseNoise, e.VariationType, model, vec)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("noise postgres: insert: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("noise postgres: commit: %w", err)
	}
	return nil
}
