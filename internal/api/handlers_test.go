// internal/api/handlers_test.go
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MereWhiplash/embedsync/internal/api"
	"github.com/MereWhiplash/embedsync/internal/apitypes"
	"github.com/MereWhiplash/embedsync/internal/indexer"
	"github.com/MereWhiplash/embedsync/internal/lock"
	"github.com/MereWhiplash/embedsync/internal/service"
	"github.com/MereWhiplash/embedsync/internal/types"
)

const adminToken = "s3cret"

type mockEmbedder struct{}

func (m *mockEmbedder) EmbedForStorage(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, 4), nil
}

func (m *mockEmbedder) EmbedForSearch(ctx context.Context, query string) ([]float32, error) {
	return make([]float32, 4), nil
}

type mockStorage struct {
	mu      sync.Mutex
	sources map[string]types.Source
	rows    map[string]int
	pingErr error

	listGate chan struct{} // when set, ListSourceIDs blocks until closed
}

func newMockStorage() *mockStorage {
	return &mockStorage{sources: map[string]types.Source{}, rows: map[string]int{}}
}

func key(kind types.Kind, id string) string { return string(kind) + ":" + id }

func (m *mockStorage) PutSource(ctx context.Context, src types.Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[key(src.Kind, src.ID)] = src
	return nil
}

func (m *mockStorage) GetSource(ctx context.Context, kind types.Kind, id string) (*types.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.sources[key(kind, id)]
	if !ok {
		return nil, types.ErrNotFound
	}
	return &src, nil
}

func (m *mockStorage) ListSourceIDs(ctx context.Context, kind types.Kind, opts types.ListOpts) ([]string, error) {
	if m.listGate != nil {
		select {
		case <-m.listGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, src := range m.sources {
		if src.Kind == kind && (!opts.PublishedOnly || src.Published) {
			ids = append(ids, src.ID)
		}
	}
	return ids, nil
}

func (m *mockStorage) DeleteEmbeddings(ctx context.Context, kind types.Kind, parentID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.rows[key(kind, parentID)]
	delete(m.rows, key(kind, parentID))
	return int64(n), nil
}

func (m *mockStorage) InsertEmbedding(ctx context.Context, kind types.Kind, row types.EmbeddingRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[key(kind, row.ParentID)]++
	return nil
}

func (m *mockStorage) ChunkHashes(ctx context.Context, kind types.Kind, parentID string) (map[int]string, error) {
	return map[int]string{}, nil
}

func (m *mockStorage) ApplyEmbeddings(ctx context.Context, kind types.Kind, parentID string, upserts []types.EmbeddingRow, keep []int) (int64, error) {
	return 0, nil
}

func (m *mockStorage) CountEmbeddings(ctx context.Context, kind types.Kind, parentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[key(kind, parentID)], nil
}

func (m *mockStorage) Search(ctx context.Context, kind types.Kind, embedding []float32, opts types.SearchOpts) ([]types.Match, error) {
	return []types.Match{{ParentID: "p1", Content: "hello", Distance: 0.2}}, nil
}

func (m *mockStorage) Ping(ctx context.Context) error { return m.pingErr }

func (m *mockStorage) Close() error { return nil }

type mockPublisher struct {
	published []string
	err       error
}

func (p *mockPublisher) PublishMessageCreated(ctx context.Context, messageID string) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, messageID)
	return nil
}

type testServer struct {
	store    *mockStorage
	handlers *api.Handlers
	router   http.Handler
	locker   *lock.Memory
}

func setupTestServer() *testServer {
	store := newMockStorage()
	locker := lock.NewMemory()
	svc := service.New(store, &mockEmbedder{}, indexer.Options{ChunkSize: 5, Locker: locker})
	handlers := api.NewHandlers(svc)

	return &testServer{
		store:    store,
		handlers: handlers,
		locker:   locker,
		router:   api.NewRouter(handlers, api.RouterOptions{AdminToken: adminToken}),
	}
}

func (ts *testServer) do(method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		reader = bytes.NewReader(jsonBody)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	ts.router.ServeHTTP(rr, req)
	return rr
}

var admin = map[string]string{"Authorization": "Bearer " + adminToken}

func TestHealth(t *testing.T) {
	ts := setupTestServer()

	rr := ts.do("GET", "/health", nil, nil)
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	var resp apitypes.HealthResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Status != "ok" {
		t.Errorf("expected status 'ok', got %q", resp.Status)
	}
	if resp.Mode != "replace" {
		t.Errorf("expected mode 'replace', got %q", resp.Mode)
	}
}

func TestHealth_Unhealthy(t *testing.T) {
	ts := setupTestServer()
	ts.store.pingErr = errors.New("connection refused")

	rr := ts.do("GET", "/health", nil, nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rr.Code)
	}
}

func TestSyncPost(t *testing.T) {
	ts := setupTestServer()
	ts.store.PutSource(context.Background(), types.Source{ID: "p1", Kind: types.KindPost, Content: "aaaaabbbbbcc", Published: true})

	rr := ts.do("POST", "/v1/posts/p1/sync", nil, admin)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp apitypes.SyncResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Result == nil || resp.Result.Chunks != 3 || resp.Result.Embedded != 3 {
		t.Errorf("expected 3 embedded chunks, got %+v", resp.Result)
	}
}

func TestSyncPost_RequiresAdminToken(t *testing.T) {
	ts := setupTestServer()

	rr := ts.do("POST", "/v1/posts/p1/sync", nil, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rr.Code)
	}

	rr = ts.do("POST", "/v1/posts/p1/sync", nil, map[string]string{"Authorization": "Bearer wrong"})
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rr.Code)
	}
}

func TestSyncPost_NotFound(t *testing.T) {
	ts := setupTestServer()

	rr := ts.do("POST", "/v1/posts/missing/sync", nil, admin)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rr.Code)
	}
}

func TestSyncPost_InProgress(t *testing.T) {
	ts := setupTestServer()
	ts.store.PutSource(context.Background(), types.Source{ID: "p1", Kind: types.KindPost, Content: "x"})

	release, err := ts.locker.Acquire(context.Background(), "post:p1", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	rr := ts.do("POST", "/v1/posts/p1/sync", nil, admin)
	if rr.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d", rr.Code)
	}
}

func TestIndexMessage(t *testing.T) {
	ts := setupTestServer()
	ts.store.PutSource(context.Background(), types.Source{ID: "m1", Kind: types.KindMessage, Content: "hello"})

	rr := ts.do("POST", "/v1/messages/m1/index", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = ts.do("GET", "/v1/messages/m1/embeddings", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp apitypes.CountResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Count != 1 || resp.Kind != types.KindMessage {
		t.Errorf("expected 1 message row, got %+v", resp)
	}
}

func TestIndexMessage_Async(t *testing.T) {
	ts := setupTestServer()

	rr := ts.do("POST", "/v1/messages/m9/index?async=true", nil, nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503 without publisher, got %d", rr.Code)
	}

	pub := &mockPublisher{}
	ts.handlers.SetPublisher(pub)

	rr = ts.do("POST", "/v1/messages/m9/index?async=true", nil, nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", rr.Code)
	}
	if len(pub.published) != 1 || pub.published[0] != "m9" {
		t.Errorf("expected m9 published, got %v", pub.published)
	}

	pub.err = errors.New("nats: connection closed")
	rr = ts.do("POST", "/v1/messages/m9/index?async=true", nil, nil)
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", rr.Code)
	}
}

func TestBulkSync(t *testing.T) {
	ts := setupTestServer()
	ctx := context.Background()
	ts.store.PutSource(ctx, types.Source{ID: "p1", Kind: types.KindPost, Content: "one", Published: true})
	ts.store.PutSource(ctx, types.Source{ID: "p2", Kind: types.KindPost, Content: "two", Published: true})
	ts.store.PutSource(ctx, types.Source{ID: "p3", Kind: types.KindPost, Content: "draft"})

	rr := ts.do("POST", "/v1/admin/sync", apitypes.BulkSyncRequest{Kind: "posts"}, admin)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp apitypes.BulkSyncResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Result.Parents != 2 || resp.Result.Succeeded != 2 {
		t.Errorf("expected 2 published posts synced, got %+v", resp.Result)
	}
}

func TestBulkSync_Validation(t *testing.T) {
	ts := setupTestServer()

	rr := ts.do("POST", "/v1/admin/sync", apitypes.BulkSyncRequest{Kind: "comments"}, admin)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}

	req := httptest.NewRequest("POST", "/v1/admin/sync", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for malformed body, got %d", rec.Code)
	}
}

func TestBulkSync_DisabledWithoutToken(t *testing.T) {
	store := newMockStorage()
	svc := service.New(store, &mockEmbedder{}, indexer.Options{})
	router := api.NewRouter(api.NewHandlers(svc), api.RouterOptions{})

	req := httptest.NewRequest("POST", "/v1/admin/sync", strings.NewReader(`{"kind":"post"}`))
	req.Header.Set("Authorization", "Bearer ")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Errorf("expected status 403, got %d", rr.Code)
	}
}

func TestSearch(t *testing.T) {
	ts := setupTestServer()

	rr := ts.do("POST", "/v1/search", apitypes.SearchRequest{Kind: "post", Query: "go generics", Limit: 3}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp apitypes.SearchResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if len(resp.Matches) != 1 || resp.Matches[0].ParentID != "p1" {
		t.Errorf("expected 1 match for p1, got %+v", resp.Matches)
	}
}

func TestSearch_Validation(t *testing.T) {
	ts := setupTestServer()

	tests := []struct {
		name string
		body apitypes.SearchRequest
	}{
		{"missing query", apitypes.SearchRequest{Kind: "post"}},
		{"bad kind", apitypes.SearchRequest{Kind: "comment", Query: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ts.do("POST", "/v1/search", tt.body, nil)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("expected status 400, got %d", rr.Code)
			}
		})
	}
}

func TestCount_InvalidKind(t *testing.T) {
	ts := setupTestServer()

	rr := ts.do("GET", "/v1/comments/1/embeddings", nil, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
}

func TestMetricsRoute(t *testing.T) {
	svc := service.New(newMockStorage(), &mockEmbedder{}, indexer.Options{})
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("embedsync_syncs_total 0\n"))
	})
	router := api.NewRouter(api.NewHandlers(svc), api.RouterOptions{Metrics: metricsHandler})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "embedsync_syncs_total") {
		t.Errorf("unexpected metrics response %d: %s", rr.Code, rr.Body.String())
	}
}

func TestBulkSync_OneRunPerKind(t *testing.T) {
	ts := setupTestServer()
	ts.store.listGate = make(chan struct{})
	ts.store.PutSource(context.Background(), types.Source{Kind: types.KindPost, ID: "p1", Published: true, Content: "alpha beta"})

	rr := ts.do("POST", "/v1/admin/sync?async=true", apitypes.BulkSyncRequest{Kind: "post"}, admin)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", rr.Code)
	}

	rr = ts.do("POST", "/v1/admin/sync?async=true", apitypes.BulkSyncRequest{Kind: "post"}, admin)
	if rr.Code != http.StatusConflict {
		t.Errorf("expected second async run to get 409, got %d", rr.Code)
	}
	rr = ts.do("POST", "/v1/admin/sync", apitypes.BulkSyncRequest{Kind: "post"}, admin)
	if rr.Code != http.StatusConflict {
		t.Errorf("expected inline run to get 409, got %d", rr.Code)
	}

	close(ts.store.listGate)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ts.handlers.Wait(ctx); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if n, _ := ts.store.CountEmbeddings(context.Background(), types.KindPost, "p1"); n == 0 {
		t.Error("expected background sync to have embedded p1 before Wait returned")
	}

	rr = ts.do("POST", "/v1/admin/sync", apitypes.BulkSyncRequest{Kind: "post"}, admin)
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200 once the background run finished, got %d", rr.Code)
	}
}

func TestHandlersWait_CancelsBackgroundSync(t *testing.T) {
	ts := setupTestServer()
	ts.store.listGate = make(chan struct{})

	rr := ts.do("POST", "/v1/admin/sync?async=true", apitypes.BulkSyncRequest{Kind: "message"}, admin)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", rr.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := ts.handlers.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}

	// the cancelled run has released its kind
	close(ts.store.listGate)
	rr = ts.do("POST", "/v1/admin/sync", apitypes.BulkSyncRequest{Kind: "message"}, admin)
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200 after cancellation, got %d", rr.Code)
	}
}
