package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/MereWhiplash/embedsync/internal/types"
)

// Postgres implements Storage using PostgreSQL with pgvector
type Postgres struct {
	pool       *pgxpool.Pool
	dimensions int
}

// NewPostgres creates a new Postgres storage
func NewPostgres(ctx context.Context, dsn string, dimensions int) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	p := &Postgres{pool: pool, dimensions: dimensions}
	if err := p.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return p, nil
}

func (p *Postgres) initSchema(ctx context.Context) error {
	schema := `CREATE EXTENSION IF NOT EXISTS vector;`
	for _, kind := range types.Kinds {
		t := tables[kind]
		schema += fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id TEXT PRIMARY KEY,
			author_id TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			published BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS %[2]s (
			id BIGSERIAL PRIMARY KEY,
			%[3]s TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			content_chunk TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			embedding vector(%[4]d) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_%[2]s_parent_chunk ON %[2]s(%[3]s, chunk_index);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_published ON %[1]s(published);

		CREATE INDEX IF NOT EXISTS idx_%[2]s_vector
		ON %[2]s USING hnsw (embedding vector_cosine_ops);
		`, t.source, t.embeddings, t.parentCol, p.dimensions)
	}
	_, err := p.pool.Exec(ctx, schema)
	return err
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) PutSource(ctx context.Context, src types.Source) error {
	t, err := tablesFor(src.Kind)
	if err != nil {
		return err
	}

	_, err = p.pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, author_id, title, content, published, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 ON CONFLICT (id) DO UPDATE SET
		   author_id = EXCLUDED.author_id,
		   title = EXCLUDED.title,
		   content = EXCLUDED.content,
		   published = EXCLUDED.published,
		   updated_at = NOW()`, t.source),
		src.ID, src.OwnerID, src.Title, src.Content, src.Published,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert %s: %w", src.Kind, err)
	}
	return nil
}

func (p *Postgres) GetSource(ctx context.Context, kind types.Kind, id string) (*types.Source, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}

	src := types.Source{Kind: kind}
	err = p.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT id, author_id, title, content, published, updated_at FROM %s WHERE id = $1`, t.source),
		id,
	).Scan(&src.ID, &src.OwnerID, &src.Title, &src.Content, &src.Published, &src.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &src, nil
}

func (p *Postgres) ListSourceIDs(ctx context.Context, kind types.Kind, opts types.ListOpts) ([]string, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT id FROM %s WHERE 1=1`, t.source)
	args := []interface{}{}
	argNum := 1

	if opts.PublishedOnly {
		query += " AND published = TRUE"
	}
	query += " ORDER BY updated_at DESC, id"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, opts.Limit)
		argNum++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, opts.Offset)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *Postgres) DeleteEmbeddings(ctx context.Context, kind types.Kind, parentID string) (int64, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return 0, err
	}

	result, err := p.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, t.embeddings, t.parentCol), parentID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete embeddings: %w", err)
	}
	return result.RowsAffected(), nil
}

func (p *Postgres) InsertEmbedding(ctx context.Context, kind types.Kind, row types.EmbeddingRow) error {
	t, err := tablesFor(kind)
	if err != nil {
		return err
	}

	_, err = p.pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (%s, chunk_index, content_chunk, content_hash, embedding)
		 VALUES ($1, $2, $3, $4, $5)`, t.embeddings, t.parentCol),
		row.ParentID, row.ChunkIndex, row.Content, row.ContentHash, pgvector.NewVector(row.Embedding),
	)
	if err != nil {
		return fmt.Errorf("failed to insert embedding: %w", err)
	}
	return nil
}

func (p *Postgres) ChunkHashes(ctx context.Context, kind types.Kind, parentID string) (map[int]string, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}

	rows, err := p.pool.Query(ctx, fmt.Sprintf(
		`SELECT chunk_index, content_hash FROM %s WHERE %s = $1`, t.embeddings, t.parentCol), parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hashes := make(map[int]string)
	for rows.Next() {
		var idx int
		var hash string
		if err := rows.Scan(&idx, &hash); err != nil {
			return nil, err
		}
		hashes[idx] = hash
	}
	return hashes, rows.Err()
}

func (p *Postgres) ApplyEmbeddings(ctx context.Context, kind types.Kind, parentID string, upserts []types.EmbeddingRow, keep []int) (int64, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return 0, err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	survivors := retained(upserts, keep)
	indexes := make([]int32, len(survivors))
	for i, idx := range survivors {
		indexes[i] = int32(idx)
	}

	result, err := tx.Exec(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE %s = $1 AND NOT (chunk_index = ANY($2))`, t.embeddings, t.parentCol),
		parentID, indexes,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune embeddings: %w", err)
	}

	upsert := fmt.Sprintf(
		`INSERT INTO %[1]s (%[2]s, chunk_index, content_chunk, content_hash, embedding)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (%[2]s, chunk_index) DO UPDATE SET
		   content_chunk = EXCLUDED.content_chunk,
		   content_hash = EXCLUDED.content_hash,
		   embedding = EXCLUDED.embedding,
		   updated_at = NOW()`, t.embeddings, t.parentCol)
	for _, row := range upserts {
		if _, err := tx.Exec(ctx, upsert,
			parentID, row.ChunkIndex, row.Content, row.ContentHash, pgvector.NewVector(row.Embedding),
		); err != nil {
			return 0, fmt.Errorf("failed to upsert chunk %d: %w", row.ChunkIndex, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

func (p *Postgres) CountEmbeddings(ctx context.Context, kind types.Kind, parentID string) (int, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return 0, err
	}

	var n int
	err = p.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT COUNT(*) FROM %s WHERE %s = $1`, t.embeddings, t.parentCol), parentID,
	).Scan(&n)
	return n, err
}

func (p *Postgres) Search(ctx context.Context, kind types.Kind, embedding []float32, opts types.SearchOpts) ([]types.Match, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 5
	}

	query := fmt.Sprintf(`
		SELECT %s, chunk_index, content_chunk, embedding <=> $1 AS distance
		FROM %s
		WHERE 1=1
	`, t.parentCol, t.embeddings)
	args := []interface{}{pgvector.NewVector(embedding)}
	argNum := 2

	if opts.ParentID != "" {
		query += fmt.Sprintf(" AND %s = $%d", t.parentCol, argNum)
		args = append(args, opts.ParentID)
		argNum++
	}

	query += fmt.Sprintf(" ORDER BY distance LIMIT $%d", argNum)
	args = append(args, limit)

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []types.Match
	for rows.Next() {
		var m types.Match
		if err := rows.Scan(&m.ParentID, &m.ChunkIndex, &m.Content, &m.Distance); err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}
