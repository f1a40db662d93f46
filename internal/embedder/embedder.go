package embedder

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Embedder generates vector embeddings for text
type Embedder interface {
	// EmbedForStorage creates an embedding optimized for document storage
	EmbedForStorage(ctx context.Context, text string) ([]float32, error)
	// EmbedForSearch creates an embedding optimized for search queries
	EmbedForSearch(ctx context.Context, query string) ([]float32, error)
}

// Intent selects the upstream model: documents are indexed with DOC,
// lookups are embedded with QUERY.
type Intent string

const (
	IntentDoc   Intent = "DOC"
	IntentQuery Intent = "QUERY"
)

// Config selects and configures an embedding provider
type Config struct {
	Provider string // "yandex", "ollama", "openai"
	BaseURL  string
	APIKey   string
	FolderID string // yandex only
	Model    string
	Timeout  time.Duration
}

// New creates an Embedder based on config
func New(cfg Config) (Embedder, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := newHTTPClient(timeout)

	switch cfg.Provider {
	case "yandex":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("yandex embedder requires an API key")
		}
		if cfg.FolderID == "" {
			return nil, fmt.Errorf("yandex embedder requires a folder ID")
		}
		return NewYandex(cfg.BaseURL, cfg.APIKey, cfg.FolderID, WithHTTPClient(client)), nil

	case "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		model := cfg.Model
		if model == "" {
			model = "nomic-embed-text"
		}
		return NewOllama(baseURL, model, WithHTTPClient(client)), nil

	case "openai":
		return NewOpenAI(cfg.BaseURL, cfg.APIKey, cfg.Model, client)

	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
}

// Option configures an HTTP-backed embedder
type Option func(*options)

type options struct {
	http *http.Client
}

// WithHTTPClient injects the HTTP client used for upstream calls
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.http = c
	}
}

func applyOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.http == nil {
		o.http = newHTTPClient(30 * time.Second)
	}
	return o
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}
