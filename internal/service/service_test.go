package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MereWhiplash/embedsync/internal/indexer"
	"github.com/MereWhiplash/embedsync/internal/service"
	"github.com/MereWhiplash/embedsync/internal/types"
)

// mockEmbedder implements embedder.Embedder for testing
type mockEmbedder struct {
	queries []string
	docs    int
}

func (m *mockEmbedder) EmbedForStorage(ctx context.Context, text string) ([]float32, error) {
	m.docs++
	return make([]float32, 4), nil
}

func (m *mockEmbedder) EmbedForSearch(ctx context.Context, query string) ([]float32, error) {
	m.queries = append(m.queries, query)
	return make([]float32, 4), nil
}

// mockStorage implements storage.Storage for testing
type mockStorage struct {
	sources    map[string]types.Source
	rows       map[string]int
	lastSearch types.SearchOpts
	pingErr    error
}

func newMockStorage() *mockStorage {
	return &mockStorage{sources: map[string]types.Source{}, rows: map[string]int{}}
}

func key(kind types.Kind, id string) string { return string(kind) + ":" + id }

func (m *mockStorage) PutSource(ctx context.Context, src types.Source) error {
	m.sources[key(src.Kind, src.ID)] = src
	return nil
}

func (m *mockStorage) GetSource(ctx context.Context, kind types.Kind, id string) (*types.Source, error) {
	src, ok := m.sources[key(kind, id)]
	if !ok {
		return nil, types.ErrNotFound
	}
	return &src, nil
}

func (m *mockStorage) ListSourceIDs(ctx context.Context, kind types.Kind, opts types.ListOpts) ([]string, error) {
	var ids []string
	for _, src := range m.sources {
		if src.Kind == kind && (!opts.PublishedOnly || src.Published) {
			ids = append(ids, src.ID)
		}
	}
	return ids, nil
}

func (m *mockStorage) DeleteEmbeddings(ctx context.Context, kind types.Kind, parentID string) (int64, error) {
	n := m.rows[key(kind, parentID)]
	delete(m.rows, key(kind, parentID))
	return int64(n), nil
}

func (m *mockStorage) InsertEmbedding(ctx context.Context, kind types.Kind, row types.EmbeddingRow) error {
	m.rows[key(kind, row.ParentID)]++
	return nil
}

func (m *mockStorage) ChunkHashes(ctx context.Context, kind types.Kind, parentID string) (map[int]string, error) {
	return map[int]string{}, nil
}

func (m *mockStorage) ApplyEmbeddings(ctx context.Context, kind types.Kind, parentID string, upserts []types.EmbeddingRow, keep []int) (int64, error) {
	m.rows[key(kind, parentID)] = len(upserts) + len(keep)
	return 0, nil
}

func (m *mockStorage) CountEmbeddings(ctx context.Context, kind types.Kind, parentID string) (int, error) {
	return m.rows[key(kind, parentID)], nil
}

func (m *mockStorage) Search(ctx context.Context, kind types.Kind, embedding []float32, opts types.SearchOpts) ([]types.Match, error) {
	m.lastSearch = opts
	return []types.Match{{ParentID: "p1", ChunkIndex: 0, Content: "hello", Distance: 0.1}}, nil
}

func (m *mockStorage) Ping(ctx context.Context) error {
	return m.pingErr
}

func (m *mockStorage) Close() error {
	return nil
}

func TestService_SyncPost(t *testing.T) {
	store := newMockStorage()
	emb := &mockEmbedder{}
	svc := service.New(store, emb, indexer.Options{ChunkSize: 4})

	ctx := context.Background()
	if err := svc.PutSource(ctx, types.Source{ID: "p1", Kind: types.KindPost, Content: "abcdefghij", Published: true}); err != nil {
		t.Fatalf("PutSource failed: %v", err)
	}

	res, err := svc.SyncPost(ctx, "p1")
	if err != nil {
		t.Fatalf("SyncPost failed: %v", err)
	}
	if res.Chunks != 3 || res.Embedded != 3 {
		t.Errorf("expected 3 chunks embedded, got %+v", res)
	}

	n, err := svc.Count(ctx, types.KindPost, "p1")
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 rows, got %d", n)
	}
}

func TestService_IndexMessage(t *testing.T) {
	store := newMockStorage()
	svc := service.New(store, &mockEmbedder{}, indexer.Options{})

	ctx := context.Background()
	_ = svc.PutSource(ctx, types.Source{ID: "m1", Kind: types.KindMessage, Content: "hi there"})

	res, err := svc.IndexMessage(ctx, "m1")
	if err != nil {
		t.Fatalf("IndexMessage failed: %v", err)
	}
	if res.Kind != types.KindMessage {
		t.Errorf("expected kind 'message', got %q", res.Kind)
	}

	_, err = svc.IndexMessage(ctx, "missing")
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestService_SyncAll(t *testing.T) {
	store := newMockStorage()
	emb := &mockEmbedder{}
	svc := service.New(store, emb, indexer.Options{})

	ctx := context.Background()
	_ = svc.PutSource(ctx, types.Source{ID: "p1", Kind: types.KindPost, Content: "one", Published: true})
	_ = svc.PutSource(ctx, types.Source{ID: "p2", Kind: types.KindPost, Content: "two"})

	bulk, err := svc.SyncAll(ctx, types.KindPost)
	if err != nil {
		t.Fatalf("SyncAll failed: %v", err)
	}
	if bulk.Parents != 1 {
		t.Errorf("expected only the published post, got %d parents", bulk.Parents)
	}
	if emb.docs != 1 {
		t.Errorf("expected 1 embedding call, got %d", emb.docs)
	}
}

func TestService_Search(t *testing.T) {
	store := newMockStorage()
	emb := &mockEmbedder{}
	svc := service.New(store, emb, indexer.Options{})

	ctx := context.Background()
	results, err := svc.Search(ctx, types.KindPost, "  jwt auth  ", 500, "p1")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if len(results) != 1 {
		t.Errorf("expected 1 result, got %d", len(results))
	}
	if len(emb.queries) != 1 || emb.queries[0] != "jwt auth" {
		t.Errorf("expected trimmed query, got %v", emb.queries)
	}
	if store.lastSearch.Limit != service.MaxSearchLimit {
		t.Errorf("expected limit clamped to %d, got %d", service.MaxSearchLimit, store.lastSearch.Limit)
	}
	if store.lastSearch.ParentID != "p1" {
		t.Errorf("expected parent filter 'p1', got %q", store.lastSearch.ParentID)
	}
}

func TestService_SearchValidation(t *testing.T) {
	svc := service.New(newMockStorage(), &mockEmbedder{}, indexer.Options{})
	ctx := context.Background()

	if _, err := svc.Search(ctx, types.KindPost, "   ", 5, ""); err == nil {
		t.Error("expected error for empty query")
	}
	if _, err := svc.Search(ctx, types.Kind("comment"), "q", 5, ""); err == nil {
		t.Error("expected error for invalid kind")
	}
}

func TestService_PutSourceValidation(t *testing.T) {
	svc := service.New(newMockStorage(), &mockEmbedder{}, indexer.Options{})
	ctx := context.Background()

	if err := svc.PutSource(ctx, types.Source{Kind: types.KindPost, Content: "x"}); err == nil {
		t.Error("expected error for missing id")
	}
	if err := svc.PutSource(ctx, types.Source{ID: "1", Kind: "comment"}); err == nil {
		t.Error("expected error for invalid kind")
	}
}

func TestService_Ping(t *testing.T) {
	store := newMockStorage()
	svc := service.New(store, &mockEmbedder{}, indexer.Options{})

	if err := svc.Ping(context.Background()); err != nil {
		t.Errorf("unexpected ping error: %v", err)
	}
	store.pingErr = errors.New("down")
	if err := svc.Ping(context.Background()); err == nil {
		t.Error("expected ping error")
	}
}
