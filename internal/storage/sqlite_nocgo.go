//go:build !cgo

package storage

import (
	"context"
	"fmt"

	"github.com/MereWhiplash/embedsync/internal/types"
)

// SQLite is a stub for non-CGO builds
type SQLite struct{}

var errNoCGO = fmt.Errorf("SQLite storage requires CGO (build with CGO_ENABLED=1)")

// NewSQLite returns an error in non-CGO builds
func NewSQLite(path string) (*SQLite, error) {
	return nil, errNoCGO
}

func (s *SQLite) PutSource(ctx context.Context, src types.Source) error {
	return errNoCGO
}

func (s *SQLite) GetSource(ctx context.Context, kind types.Kind, id string) (*types.Source, error) {
	return nil, errNoCGO
}

func (s *SQLite) ListSourceIDs(ctx context.Context, kind types.Kind, opts types.ListOpts) ([]string, error) {
	return nil, errNoCGO
}

func (s *SQLite) DeleteEmbeddings(ctx context.Context, kind types.Kind, parentID string) (int64, error) {
	return 0, errNoCGO
}

func (s *SQLite) InsertEmbedding(ctx context.Context, kind types.Kind, row types.EmbeddingRow) error {
	return errNoCGO
}

func (s *SQLite) ChunkHashes(ctx context.Context, kind types.Kind, parentID string) (map[int]string, error) {
	return nil, errNoCGO
}

func (s *SQLite) ApplyEmbeddings(ctx context.Context, kind types.Kind, parentID string, upserts []types.EmbeddingRow, keep []int) (int64, error) {
	return 0, errNoCGO
}

func (s *SQLite) CountEmbeddings(ctx context.Context, kind types.Kind, parentID string) (int, error) {
	return 0, errNoCGO
}

func (s *SQLite) Search(ctx context.Context, kind types.Kind, embedding []float32, opts types.SearchOpts) ([]types.Match, error) {
	return nil, errNoCGO
}

func (s *SQLite) Ping(ctx context.Context) error {
	return errNoCGO
}

func (s *SQLite) Close() error {
	return nil
}
