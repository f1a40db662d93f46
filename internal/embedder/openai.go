package embedder

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAI implements Embedder against any OpenAI-compatible endpoint
type OpenAI struct {
	embedder embeddings.Embedder
}

// NewOpenAI creates an embedder backed by langchaingo's OpenAI client.
// Local OpenAI-compatible servers usually accept any token, so an empty
// API key is sent as "none".
func NewOpenAI(baseURL, apiKey, model string, client *http.Client) (*OpenAI, error) {
	if apiKey == "" {
		apiKey = "none"
	}
	opts := []openai.Option{
		openai.WithToken(apiKey),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	if model != "" {
		opts = append(opts, openai.WithEmbeddingModel(model))
	}
	if client != nil {
		opts = append(opts, openai.WithHTTPClient(client))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}

	emb, err := embeddings.NewEmbedder(llm, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	return &OpenAI{embedder: emb}, nil
}

func (o *OpenAI) EmbedForStorage(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.embedder.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("failed to embed document: %w", err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("openai returned an empty embedding")
	}
	return vecs[0], nil
}

func (o *OpenAI) EmbedForSearch(ctx context.Context, query string) ([]float32, error) {
	vec, err := o.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("openai returned an empty embedding")
	}
	return vec, nil
}
