package storage

import (
	"context"
	"fmt"

	"github.com/MereWhiplash/embedsync/internal/types"
)

// Storage defines the interface for parent content and embedding persistence.
// Every method is addressed by kind so posts and messages share one code path.
type Storage interface {
	PutSource(ctx context.Context, src types.Source) error
	GetSource(ctx context.Context, kind types.Kind, id string) (*types.Source, error)
	ListSourceIDs(ctx context.Context, kind types.Kind, opts types.ListOpts) ([]string, error)

	// DeleteEmbeddings removes every embedding row of a parent and reports how many were removed
	DeleteEmbeddings(ctx context.Context, kind types.Kind, parentID string) (int64, error)
	InsertEmbedding(ctx context.Context, kind types.Kind, row types.EmbeddingRow) error
	// ChunkHashes maps chunk index to content hash for a parent's current rows
	ChunkHashes(ctx context.Context, kind types.Kind, parentID string) (map[int]string, error)
	// ApplyEmbeddings upserts rows and prunes every other row of the parent
	// whose chunk index is not in keep, atomically where the driver allows it.
	ApplyEmbeddings(ctx context.Context, kind types.Kind, parentID string, upserts []types.EmbeddingRow, keep []int) (int64, error)
	CountEmbeddings(ctx context.Context, kind types.Kind, parentID string) (int, error)

	Search(ctx context.Context, kind types.Kind, embedding []float32, opts types.SearchOpts) ([]types.Match, error)
	Ping(ctx context.Context) error
	Close() error
}

// tableSet names the tables backing one kind
type tableSet struct {
	source     string
	embeddings string
	parentCol  string
}

var tables = map[types.Kind]tableSet{
	types.KindPost:    {source: "posts", embeddings: "post_embeddings", parentCol: "post_id"},
	types.KindMessage: {source: "chat_messages", embeddings: "message_embeddings", parentCol: "message_id"},
}

func tablesFor(kind types.Kind) (tableSet, error) {
	t, ok := tables[kind]
	if !ok {
		return tableSet{}, fmt.Errorf("invalid kind %q: must be post or message", kind)
	}
	return t, nil
}

// retained returns the chunk indexes that survive an ApplyEmbeddings call
func retained(upserts []types.EmbeddingRow, keep []int) []int {
	seen := make(map[int]bool, len(upserts)+len(keep))
	out := make([]int, 0, len(upserts)+len(keep))
	for _, i := range keep {
		if !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}
	for _, r := range upserts {
		if !seen[r.ChunkIndex] {
			seen[r.ChunkIndex] = true
			out = append(out, r.ChunkIndex)
		}
	}
	return out
}
