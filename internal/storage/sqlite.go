//go:build cgo

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/MereWhiplash/embedsync/internal/types"
)

// SQLite implements Storage using SQLite with sqlite-vec
type SQLite struct {
	conn *sql.DB
}

// NewSQLite creates a new SQLite storage
func NewSQLite(path string) (*SQLite, error) {
	sqlite_vec.Auto()

	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite has a single writer; serialize access through one connection
	conn.SetMaxOpenConns(1)

	s := &SQLite{conn: conn}
	if err := s.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLite) initSchema() error {
	var schema string
	for _, kind := range types.Kinds {
		t := tables[kind]
		// embeddings are stored as JSON text, which vec_distance_cosine accepts directly
		schema += fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id TEXT PRIMARY KEY,
			author_id TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			published BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS %[2]s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			%[3]s TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			content_chunk TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			embedding TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_%[2]s_parent_chunk ON %[2]s(%[3]s, chunk_index);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_published ON %[1]s(published);
		`, t.source, t.embeddings, t.parentCol)
	}
	_, err := s.conn.Exec(schema)
	return err
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.conn.Close()
}

func (s *SQLite) PutSource(ctx context.Context, src types.Source) error {
	t, err := tablesFor(src.Kind)
	if err != nil {
		return err
	}

	_, err = s.conn.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, author_id, title, content, published, updated_at)
		 VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(id) DO UPDATE SET
		   author_id = excluded.author_id,
		   title = excluded.title,
		   content = excluded.content,
		   published = excluded.published,
		   updated_at = CURRENT_TIMESTAMP`, t.source),
		src.ID, src.OwnerID, src.Title, src.Content, src.Published,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert %s: %w", src.Kind, err)
	}
	return nil
}

func (s *SQLite) GetSource(ctx context.Context, kind types.Kind, id string) (*types.Source, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}

	src := types.Source{Kind: kind}
	err = s.conn.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT id, author_id, title, content, published, updated_at FROM %s WHERE id = ?`, t.source),
		id,
	).Scan(&src.ID, &src.OwnerID, &src.Title, &src.Content, &src.Published, &src.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &src, nil
}

func (s *SQLite) ListSourceIDs(ctx context.Context, kind types.Kind, opts types.ListOpts) ([]string, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT id FROM %s WHERE 1=1`, t.source)
	args := []interface{}{}

	if opts.PublishedOnly {
		query += " AND published = TRUE"
	}
	query += " ORDER BY updated_at DESC, id"
	if opts.Limit > 0 || opts.Offset > 0 {
		limit := opts.Limit
		if limit <= 0 {
			limit = -1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, opts.Offset)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
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

func (s *SQLite) DeleteEmbeddings(ctx context.Context, kind types.Kind, parentID string) (int64, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return 0, err
	}

	result, err := s.conn.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, t.embeddings, t.parentCol), parentID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete embeddings: %w", err)
	}
	return result.RowsAffected()
}

func (s *SQLite) InsertEmbedding(ctx context.Context, kind types.Kind, row types.EmbeddingRow) error {
	t, err := tablesFor(kind)
	if err != nil {
		return err
	}

	embeddingJSON, err := json.Marshal(row.Embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	_, err = s.conn.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (%s, chunk_index, content_chunk, content_hash, embedding) VALUES (?, ?, ?, ?, ?)`,
		t.embeddings, t.parentCol),
		row.ParentID, row.ChunkIndex, row.Content, row.ContentHash, string(embeddingJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert embedding: %w", err)
	}
	return nil
}

func (s *SQLite) ChunkHashes(ctx context.Context, kind types.Kind, parentID string) (map[int]string, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}

	rows, err := s.conn.QueryContext(ctx, fmt.Sprintf(
		`SELECT chunk_index, content_hash FROM %s WHERE %s = ?`, t.embeddings, t.parentCol), parentID)
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

func (s *SQLite) ApplyEmbeddings(ctx context.Context, kind types.Kind, parentID string, upserts []types.EmbeddingRow, keep []int) (int64, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return 0, err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	prune := fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, t.embeddings, t.parentCol)
	args := []interface{}{parentID}
	if survivors := retained(upserts, keep); len(survivors) > 0 {
		prune += " AND chunk_index NOT IN (?" + strings.Repeat(", ?", len(survivors)-1) + ")"
		for _, idx := range survivors {
			args = append(args, idx)
		}
	}

	result, err := tx.ExecContext(ctx, prune, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to prune embeddings: %w", err)
	}
	pruned, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	upsert := fmt.Sprintf(
		`INSERT INTO %[1]s (%[2]s, chunk_index, content_chunk, content_hash, embedding)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(%[2]s, chunk_index) DO UPDATE SET
		   content_chunk = excluded.content_chunk,
		   content_hash = excluded.content_hash,
		   embedding = excluded.embedding,
		   updated_at = CURRENT_TIMESTAMP`, t.embeddings, t.parentCol)
	for _, row := range upserts {
		embeddingJSON, err := json.Marshal(row.Embedding)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal embedding: %w", err)
		}
		if _, err := tx.ExecContext(ctx, upsert,
			parentID, row.ChunkIndex, row.Content, row.ContentHash, string(embeddingJSON),
		); err != nil {
			return 0, fmt.Errorf("failed to upsert chunk %d: %w", row.ChunkIndex, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return pruned, nil
}

func (s *SQLite) CountEmbeddings(ctx context.Context, kind types.Kind, parentID string) (int, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return 0, err
	}

	var n int
	err = s.conn.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT COUNT(*) FROM %s WHERE %s = ?`, t.embeddings, t.parentCol), parentID,
	).Scan(&n)
	return n, err
}

func (s *SQLite) Search(ctx context.Context, kind types.Kind, embedding []float32, opts types.SearchOpts) ([]types.Match, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 5
	}

	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s, chunk_index, content_chunk, vec_distance_cosine(embedding, ?) AS distance
		FROM %s
		WHERE 1=1
	`, t.parentCol, t.embeddings)
	args := []interface{}{string(embeddingJSON)}

	if opts.ParentID != "" {
		query += fmt.Sprintf(" AND %s = ?", t.parentCol)
		args = append(args, opts.ParentID)
	}

	query += " ORDER BY distance LIMIT ?"
	args = append(args, limit)

	rows, err := s.conn.QueryContext(ctx, query, args...)
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
