// internal/mcptypes/types.go
// Package mcptypes contains shared MCP tool input/output types.
// These are used by both the direct MCP server (tools) and the shim proxy.
package mcptypes

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MereWhiplash/embedsync/internal/types"
)

// DefaultSearchLimit is used when a search omits limit
const DefaultSearchLimit = 5

// SearchInput defines the input schema for es_search
type SearchInput struct {
	Kind     string `json:"kind" jsonschema:"required" jsonschema_description:"What to search: post or message"`
	Query    string `json:"query" jsonschema:"required" jsonschema_description:"Search query to match against embedded chunks"`
	Limit    int    `json:"limit,omitempty" jsonschema_description:"Maximum number of results (default: 5, max: 50)"`
	ParentID string `json:"parent_id,omitempty" jsonschema_description:"Only search chunks of this post or message"`
}

// SearchOutput defines the output schema for es_search
type SearchOutput struct {
	Matches []types.Match `json:"matches"`
}

// SyncInput defines the input schema for es_sync
type SyncInput struct {
	Kind string `json:"kind" jsonschema:"required" jsonschema_description:"post or message"`
	ID   string `json:"id" jsonschema:"required" jsonschema_description:"ID of the post or message to re-embed"`
}

// SyncOutput defines the output schema for es_sync
type SyncOutput struct {
	Result *types.SyncResult `json:"result"`
}

// SyncAllInput defines the input schema for es_sync_all
type SyncAllInput struct {
	Kind string `json:"kind" jsonschema:"required" jsonschema_description:"post (published posts only) or message"`
}

// SyncAllOutput defines the output schema for es_sync_all
type SyncAllOutput struct {
	Result *types.BulkResult `json:"result"`
}

// CountInput defines the input schema for es_count
type CountInput struct {
	Kind string `json:"kind" jsonschema:"required" jsonschema_description:"post or message"`
	ID   string `json:"id" jsonschema:"required" jsonschema_description:"ID of the post or message"`
}

// CountOutput defines the output schema for es_count
type CountOutput struct {
	Count int `json:"count"`
}

// TextResult creates a successful MCP result with text content
func TextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// ErrorResult creates an error MCP result
func ErrorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		IsError: true,
	}
}

// Tool definitions (shared between server and shim)
var (
	SearchTool = &mcp.Tool{
		Name:        "es_search",
		Description: "Search embedded post or message chunks by semantic similarity",
	}

	SyncTool = &mcp.Tool{
		Name:        "es_sync",
		Description: "Re-chunk and re-embed one post or message",
	}

	SyncAllTool = &mcp.Tool{
		Name:        "es_sync_all",
		Description: "Re-embed every published post or every message, one at a time",
	}

	CountTool = &mcp.Tool{
		Name:        "es_count",
		Description: "Count the embedding rows stored for a post or message",
	}
)
