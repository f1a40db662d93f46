// internal/service/service.go
package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/MereWhiplash/embedsync/internal/embedder"
	"github.com/MereWhiplash/embedsync/internal/indexer"
	"github.com/MereWhiplash/embedsync/internal/storage"
	"github.com/MereWhiplash/embedsync/internal/types"
)

// MaxSearchLimit caps the number of matches returned by Search
const MaxSearchLimit = 50

// Service contains the business logic shared by every trigger surface
type Service struct {
	storage  storage.Storage
	embedder embedder.Embedder
	syncer   *indexer.Syncer
}

// New creates a new Service. The storage and embedder are owned by the caller.
func New(store storage.Storage, emb embedder.Embedder, opts indexer.Options) *Service {
	return &Service{
		storage:  store,
		embedder: emb,
		syncer:   indexer.New(store, emb, opts),
	}
}

// SyncPost re-syncs the embeddings of one blog post
func (s *Service) SyncPost(ctx context.Context, id string) (*types.SyncResult, error) {
	return s.syncer.SyncOne(ctx, types.KindPost, id)
}

// IndexMessage indexes a chat message, typically right after it was created
func (s *Service) IndexMessage(ctx context.Context, id string) (*types.SyncResult, error) {
	return s.syncer.SyncOne(ctx, types.KindMessage, id)
}

// Sync re-syncs one parent of any kind
func (s *Service) Sync(ctx context.Context, kind types.Kind, id string) (*types.SyncResult, error) {
	return s.syncer.SyncOne(ctx, kind, id)
}

// SyncAll re-syncs every parent of a kind sequentially
func (s *Service) SyncAll(ctx context.Context, kind types.Kind) (*types.BulkResult, error) {
	return s.syncer.SyncAll(ctx, kind)
}

// Search finds chunks by semantic similarity. parentID optionally restricts
// the search to one parent.
func (s *Service) Search(ctx context.Context, kind types.Kind, query string, limit int, parentID string) ([]types.Match, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}

	embedding, err := s.embedder.EmbedForSearch(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embedding: %w", err)
	}

	opts := types.SearchOpts{
		Limit:    limit,
		ParentID: parentID,
	}

	return s.storage.Search(ctx, kind, embedding, opts)
}

// Count returns the number of embedding rows stored for a parent
func (s *Service) Count(ctx context.Context, kind types.Kind, id string) (int, error) {
	if err := kind.Validate(); err != nil {
		return 0, err
	}
	return s.storage.CountEmbeddings(ctx, kind, id)
}

// PutSource creates or replaces a parent's stored content without syncing it
func (s *Service) PutSource(ctx context.Context, src types.Source) error {
	if err := src.Kind.Validate(); err != nil {
		return err
	}
	if src.ID == "" {
		return fmt.Errorf("source id is required")
	}
	return s.storage.PutSource(ctx, src)
}

// Ping checks the storage connection
func (s *Service) Ping(ctx context.Context) error {
	return s.storage.Ping(ctx)
}

// Mode reports the sync write mode
func (s *Service) Mode() indexer.Mode {
	return s.syncer.Mode()
}

// Close cleans up resources
func (s *Service) Close() error {
	return s.storage.Close()
}
