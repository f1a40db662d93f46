// internal/client/client.go
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/MereWhiplash/embedsync/internal/apitypes"
	"github.com/MereWhiplash/embedsync/internal/types"
)

// Client is an HTTP client for the embedsync API
type Client struct {
	baseURL    string
	adminToken string
	http       *http.Client
}

// APIError is returned for any non-success response
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// Unwrap lets errors.Is match types.ErrNotFound on 404 responses
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return types.ErrNotFound
	}
	return nil
}

// New creates a new API client. adminToken is only needed for sync endpoints.
func New(baseURL, adminToken string) *Client {
	return &Client{
		baseURL:    baseURL,
		adminToken: adminToken,
		http: &http.Client{
			// bulk syncs run inline and are paced, so they can take minutes
			Timeout: 15 * time.Minute,
		},
	}
}

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	if c.adminToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.adminToken)
	}

	return c.http.Do(req)
}

// call performs a request and decodes the response into out when the status matches
func (c *Client) call(ctx context.Context, method, path string, body interface{}, want int, out interface{}) error {
	resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		var errResp apitypes.ErrorResponse
		json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error == "" {
			errResp.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Health checks the server and returns its sync mode
func (c *Client) Health(ctx context.Context) (*apitypes.HealthResponse, error) {
	var result apitypes.HealthResponse
	if err := c.call(ctx, "GET", "/health", nil, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SyncAll re-syncs every parent of a kind and waits for the result
func (c *Client) SyncAll(ctx context.Context, kind types.Kind) (*types.BulkResult, error) {
	var result apitypes.BulkSyncResponse
	req := apitypes.BulkSyncRequest{Kind: string(kind)}
	if err := c.call(ctx, "POST", "/v1/admin/sync", req, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return result.Result, nil
}

// StartSyncAll starts a bulk sync in the background on the server
func (c *Client) StartSyncAll(ctx context.Context, kind types.Kind) error {
	req := apitypes.BulkSyncRequest{Kind: string(kind)}
	return c.call(ctx, "POST", "/v1/admin/sync?async=true", req, http.StatusAccepted, nil)
}

// SyncPost re-syncs one blog post
func (c *Client) SyncPost(ctx context.Context, id string) (*types.SyncResult, error) {
	var result apitypes.SyncResponse
	path := fmt.Sprintf("/v1/posts/%s/sync", url.PathEscape(id))
	if err := c.call(ctx, "POST", path, nil, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return result.Result, nil
}

// IndexMessage indexes one chat message inline
func (c *Client) IndexMessage(ctx context.Context, id string) (*types.SyncResult, error) {
	var result apitypes.SyncResponse
	path := fmt.Sprintf("/v1/messages/%s/index", url.PathEscape(id))
	if err := c.call(ctx, "POST", path, nil, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return result.Result, nil
}

// Sync re-syncs one parent of any kind
func (c *Client) Sync(ctx context.Context, kind types.Kind, id string) (*types.SyncResult, error) {
	switch kind {
	case types.KindPost:
		return c.SyncPost(ctx, id)
	case types.KindMessage:
		return c.IndexMessage(ctx, id)
	}
	return nil, kind.Validate()
}

// Search finds chunks by semantic similarity
func (c *Client) Search(ctx context.Context, kind types.Kind, query string, limit int, parentID string) ([]types.Match, error) {
	req := apitypes.SearchRequest{
		Kind:     string(kind),
		Query:    query,
		Limit:    limit,
		ParentID: parentID,
	}

	var result apitypes.SearchResponse
	if err := c.call(ctx, "POST", "/v1/search", req, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return result.Matches, nil
}

// Count returns the number of embedding rows stored for a parent
func (c *Client) Count(ctx context.Context, kind types.Kind, id string) (int, error) {
	var result apitypes.CountResponse
	path := fmt.Sprintf("/v1/%ss/%s/embeddings", kind, url.PathEscape(id))
	if err := c.call(ctx, "GET", path, nil, http.StatusOK, &result); err != nil {
		return 0, err
	}
	return result.Count, nil
}
