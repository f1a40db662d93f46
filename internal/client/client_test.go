package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MereWhiplash/embedsync/internal/apitypes"
	"github.com/MereWhiplash/embedsync/internal/client"
	"github.com/MereWhiplash/embedsync/internal/types"
)

func TestClient_SyncPost_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/v1/posts/p-1/sync" {
			t.Errorf("expected /v1/posts/p-1/sync, got %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("expected bearer token, got %q", got)
		}

		json.NewEncoder(w).Encode(apitypes.SyncResponse{Result: &types.SyncResult{
			Kind: types.KindPost, ParentID: "p-1", Chunks: 2, Embedded: 2,
		}})
	}))
	defer server.Close()

	c := client.New(server.URL, "tok")
	result, err := c.SyncPost(context.Background(), "p-1")
	if err != nil {
		t.Fatalf("SyncPost failed: %v", err)
	}
	if result.Embedded != 2 {
		t.Errorf("expected 2 embedded, got %d", result.Embedded)
	}
}

func TestClient_SyncPost_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(apitypes.ErrorResponse{Error: "source not found"})
	}))
	defer server.Close()

	c := client.New(server.URL, "tok")
	_, err := c.SyncPost(context.Background(), "missing")
	if !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("expected APIError with 404, got %v", err)
	}
}

func TestClient_IndexMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages/m-1/index" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("expected no authorization header without token")
		}
		json.NewEncoder(w).Encode(apitypes.SyncResponse{Result: &types.SyncResult{Kind: types.KindMessage, ParentID: "m-1", Chunks: 1}})
	}))
	defer server.Close()

	c := client.New(server.URL, "")
	result, err := c.Sync(context.Background(), types.KindMessage, "m-1")
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if result.ParentID != "m-1" {
		t.Errorf("expected parent m-1, got %q", result.ParentID)
	}
}

func TestClient_Sync_InvalidKind(t *testing.T) {
	c := client.New("http://127.0.0.1:0", "")
	if _, err := c.Sync(context.Background(), types.Kind("comment"), "1"); err == nil {
		t.Error("expected error for invalid kind")
	}
}

func TestClient_SyncAll(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req apitypes.BulkSyncRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Kind != "post" {
			t.Errorf("expected kind 'post', got %q", req.Kind)
		}
		if r.URL.Query().Get("async") == "true" {
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(apitypes.AcceptedResponse{Status: "started", Kind: types.KindPost})
			return
		}
		json.NewEncoder(w).Encode(apitypes.BulkSyncResponse{Result: &types.BulkResult{Kind: types.KindPost, Parents: 3, Succeeded: 3}})
	}))
	defer server.Close()

	c := client.New(server.URL, "tok")
	result, err := c.SyncAll(context.Background(), types.KindPost)
	if err != nil {
		t.Fatalf("SyncAll failed: %v", err)
	}
	if result.Succeeded != 3 {
		t.Errorf("expected 3 succeeded, got %d", result.Succeeded)
	}

	if err := c.StartSyncAll(context.Background(), types.KindPost); err != nil {
		t.Errorf("StartSyncAll failed: %v", err)
	}
}

func TestClient_Search(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req apitypes.SearchRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Query != "vector search" || req.Limit != 3 || req.ParentID != "p-9" {
			t.Errorf("unexpected request %+v", req)
		}
		json.NewEncoder(w).Encode(apitypes.SearchResponse{Matches: []types.Match{
			{ParentID: "p-9", ChunkIndex: 0, Content: "vectors", Distance: 0.1},
		}})
	}))
	defer server.Close()

	c := client.New(server.URL, "")
	matches, err := c.Search(context.Background(), types.KindPost, "vector search", 3, "p-9")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(matches) != 1 || matches[0].Content != "vectors" {
		t.Errorf("unexpected matches %+v", matches)
	}
}

func TestClient_Search_Error(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(apitypes.ErrorResponse{Error: "query is required"})
	}))
	defer server.Close()

	c := client.New(server.URL, "")
	_, err := c.Search(context.Background(), types.KindPost, "", 5, "")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, types.ErrNotFound) {
		t.Error("400 should not match ErrNotFound")
	}
}

func TestClient_Count(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages/m-2/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(apitypes.CountResponse{Kind: types.KindMessage, ID: "m-2", Count: 4})
	}))
	defer server.Close()

	c := client.New(server.URL, "")
	n, err := c.Count(context.Background(), types.KindMessage, "m-2")
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 4 {
		t.Errorf("expected 4, got %d", n)
	}
}

func TestClient_Health(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(apitypes.HealthResponse{Status: "ok", Mode: "hash"})
	}))
	defer server.Close()

	c := client.New(server.URL, "")
	health, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Mode != "hash" {
		t.Errorf("expected mode 'hash', got %q", health.Mode)
	}
}
