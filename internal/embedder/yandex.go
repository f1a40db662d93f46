package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// DefaultYandexURL is the Yandex Foundation Models text embedding endpoint
const DefaultYandexURL = "https://llm.api.cloud.yandex.net/foundationModels/v1/textEmbedding"

// Yandex implements Embedder using the Yandex Foundation Models API.
// Documents and queries go to different models in the same folder.
type Yandex struct {
	endpoint string
	apiKey   string
	folderID string
	http     *http.Client
}

type yandexRequest struct {
	ModelURI string `json:"modelUri"`
	Text     string `json:"text"`
}

type yandexResponse struct {
	Embedding []float64 `json:"embedding"`
}

// NewYandex creates a new Yandex embedder. An empty endpoint uses DefaultYandexURL.
func NewYandex(endpoint, apiKey, folderID string, opts ...Option) *Yandex {
	if endpoint == "" {
		endpoint = DefaultYandexURL
	}
	o := applyOptions(opts)
	return &Yandex{
		endpoint: endpoint,
		apiKey:   apiKey,
		folderID: folderID,
		http:     o.http,
	}
}

// ModelURI returns the model URI for an intent
func (y *Yandex) ModelURI(intent Intent) string {
	if intent == IntentQuery {
		return fmt.Sprintf("emb://%s/text-search-query/latest", y.folderID)
	}
	return fmt.Sprintf("emb://%s/text-search-doc/latest", y.folderID)
}

// Embed calls the endpoint once for text with the model selected by intent
func (y *Yandex) Embed(ctx context.Context, text string, intent Intent) ([]float32, error) {
	jsonBody, err := json.Marshal(yandexRequest{
		ModelURI: y.ModelURI(intent),
		Text:     text,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, y.endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Api-Key "+y.apiKey)

	resp, err := y.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call Yandex: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("yandex returned status %d: %s", resp.StatusCode, string(body))
	}

	var embResp yandexResponse
	if err := json.NewDecoder(resp.Body).Decode(&embResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(embResp.Embedding) == 0 {
		return nil, fmt.Errorf("yandex returned an empty embedding")
	}

	out := make([]float32, len(embResp.Embedding))
	for i, v := range embResp.Embedding {
		out[i] = float32(v)
	}
	return out, nil
}

func (y *Yandex) EmbedForStorage(ctx context.Context, text string) ([]float32, error) {
	return y.Embed(ctx, text, IntentDoc)
}

func (y *Yandex) EmbedForSearch(ctx context.Context, query string) ([]float32, error) {
	return y.Embed(ctx, query, IntentQuery)
}
