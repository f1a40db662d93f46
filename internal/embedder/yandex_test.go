package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestYandex_ModelURI(t *testing.T) {
	y := NewYandex("", "key", "b1gfolder")

	if got := y.ModelURI(IntentDoc); got != "emb://b1gfolder/text-search-doc/latest" {
		t.Errorf("unexpected doc model URI: %s", got)
	}
	if got := y.ModelURI(IntentQuery); got != "emb://b1gfolder/text-search-query/latest" {
		t.Errorf("unexpected query model URI: %s", got)
	}
	if y.endpoint != DefaultYandexURL {
		t.Errorf("expected default endpoint, got %s", y.endpoint)
	}
}

func TestYandex_RequestShape(t *testing.T) {
	var got yandexRequest
	var auth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&got)

		w.Write([]byte(`{"embedding":[0.25,-0.5,1],"numTokens":"3","modelVersion":"x"}`))
	}))
	defer server.Close()

	y := NewYandex(server.URL, "secret", "folder1")
	ctx := context.Background()

	emb, err := y.EmbedForStorage(ctx, "chunk text")
	if err != nil {
		t.Fatalf("EmbedForStorage failed: %v", err)
	}
	if len(emb) != 3 || emb[0] != 0.25 || emb[1] != -0.5 {
		t.Errorf("unexpected embedding: %v", emb)
	}
	if auth != "Api-Key secret" {
		t.Errorf("expected Api-Key auth header, got %q", auth)
	}
	if got.ModelURI != "emb://folder1/text-search-doc/latest" || got.Text != "chunk text" {
		t.Errorf("unexpected request body: %+v", got)
	}

	if _, err := y.EmbedForSearch(ctx, "question"); err != nil {
		t.Fatalf("EmbedForSearch failed: %v", err)
	}
	if got.ModelURI != "emb://folder1/text-search-query/latest" {
		t.Errorf("expected query model, got %s", got.ModelURI)
	}
}

func TestYandex_Non2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer server.Close()

	y := NewYandex(server.URL, "secret", "folder1")
	if _, err := y.EmbedForStorage(context.Background(), "text"); err == nil {
		t.Error("expected error on HTTP 429")
	}
}

func TestYandex_EmptyEmbedding(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"embedding":[]}`))
	}))
	defer server.Close()

	y := NewYandex(server.URL, "secret", "folder1")
	if _, err := y.EmbedForStorage(context.Background(), "text"); err == nil {
		t.Error("expected error on empty embedding")
	}
}

func TestNew_FailsFast(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"unknown provider", Config{Provider: "nope"}},
		{"yandex without key", Config{Provider: "yandex", FolderID: "f"}},
		{"yandex without folder", Config{Provider: "yandex", APIKey: "k"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNew_Providers(t *testing.T) {
	emb, err := New(Config{Provider: "yandex", APIKey: "k", FolderID: "f"})
	if err != nil {
		t.Fatalf("yandex: %v", err)
	}
	if _, ok := emb.(*Yandex); !ok {
		t.Errorf("expected *Yandex, got %T", emb)
	}

	emb, err = New(Config{Provider: "ollama"})
	if err != nil {
		t.Fatalf("ollama: %v", err)
	}
	if o, ok := emb.(*Ollama); !ok || o.model != "nomic-embed-text" {
		t.Errorf("expected default ollama embedder, got %T", emb)
	}
}
