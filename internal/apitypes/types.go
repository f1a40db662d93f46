// Package apitypes holds the HTTP request and response bodies shared by the
// API server and its clients. It has no CGO dependencies.
package apitypes

import "github.com/MereWhiplash/embedsync/internal/types"

// BulkSyncRequest is the request body for POST /v1/admin/sync
type BulkSyncRequest struct {
	Kind string `json:"kind"`
}

// BulkSyncResponse is the response body for a finished bulk sync
type BulkSyncResponse struct {
	Result *types.BulkResult `json:"result"`
}

// SyncResponse is the response body for a single parent sync
type SyncResponse struct {
	Result *types.SyncResult `json:"result"`
}

// AcceptedResponse is returned when work was queued instead of run inline
type AcceptedResponse struct {
	Status string     `json:"status"`
	Kind   types.Kind `json:"kind"`
	ID     string     `json:"id,omitempty"`
}

// SearchRequest is the request body for POST /v1/search
type SearchRequest struct {
	Kind     string `json:"kind"`
	Query    string `json:"query"`
	Limit    int    `json:"limit,omitempty"`
	ParentID string `json:"parent_id,omitempty"`
}

// SearchResponse is the response body for POST /v1/search
type SearchResponse struct {
	Matches []types.Match `json:"matches"`
}

// CountResponse is the response body for GET /v1/{kind}/{id}/embeddings
type CountResponse struct {
	Kind  types.Kind `json:"kind"`
	ID    string     `json:"id"`
	Count int        `json:"count"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status string `json:"status"`
	Mode   string `json:"mode,omitempty"`
}
