// Package tools exposes the sync service as MCP tools.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MereWhiplash/embedsync/internal/mcptypes"
	"github.com/MereWhiplash/embedsync/internal/service"
	"github.com/MereWhiplash/embedsync/internal/types"
)

// Handler holds dependencies for tool handlers
type Handler struct {
	svc *service.Service
}

// NewHandler creates tool handlers over svc
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register adds all embedsync tools to the MCP server
func Register(server *mcp.Server, svc *service.Service) {
	h := NewHandler(svc)

	mcp.AddTool(server, mcptypes.SearchTool, h.Search)
	mcp.AddTool(server, mcptypes.SyncTool, h.Sync)
	mcp.AddTool(server, mcptypes.SyncAllTool, h.SyncAll)
	mcp.AddTool(server, mcptypes.CountTool, h.Count)
}

func jsonResult(v interface{}) *mcp.CallToolResult {
	result, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcptypes.ErrorResult(fmt.Sprintf("failed to format response: %v", err))
	}
	return mcptypes.TextResult(string(result))
}

func (h *Handler) Search(ctx context.Context, req *mcp.CallToolRequest, input mcptypes.SearchInput) (*mcp.CallToolResult, mcptypes.SearchOutput, error) {
	if input.Query == "" {
		return mcptypes.ErrorResult("query is required"), mcptypes.SearchOutput{}, nil
	}
	kind, err := types.ParseKind(input.Kind)
	if err != nil {
		return mcptypes.ErrorResult(err.Error()), mcptypes.SearchOutput{}, nil
	}

	limit := input.Limit
	if limit <= 0 {
		limit = mcptypes.DefaultSearchLimit
	}

	matches, err := h.svc.Search(ctx, kind, input.Query, limit, input.ParentID)
	if err != nil {
		return mcptypes.ErrorResult(fmt.Sprintf("failed to search: %v", err)), mcptypes.SearchOutput{}, nil
	}

	if len(matches) == 0 {
		return mcptypes.TextResult("No matching chunks found."), mcptypes.SearchOutput{Matches: []types.Match{}}, nil
	}
	return jsonResult(matches), mcptypes.SearchOutput{Matches: matches}, nil
}

func (h *Handler) Sync(ctx context.Context, req *mcp.CallToolRequest, input mcptypes.SyncInput) (*mcp.CallToolResult, mcptypes.SyncOutput, error) {
	if input.ID == "" {
		return mcptypes.ErrorResult("id is required"), mcptypes.SyncOutput{}, nil
	}
	kind, err := types.ParseKind(input.Kind)
	if err != nil {
		return mcptypes.ErrorResult(err.Error()), mcptypes.SyncOutput{}, nil
	}

	result, err := h.svc.Sync(ctx, kind, input.ID)
	if errors.Is(err, types.ErrNotFound) {
		return mcptypes.ErrorResult(fmt.Sprintf("%s %s not found; any stale embeddings were removed", kind, input.ID)), mcptypes.SyncOutput{Result: result}, nil
	}
	if err != nil {
		return mcptypes.ErrorResult(fmt.Sprintf("failed to sync: %v", err)), mcptypes.SyncOutput{}, nil
	}

	return jsonResult(result), mcptypes.SyncOutput{Result: result}, nil
}

func (h *Handler) SyncAll(ctx context.Context, req *mcp.CallToolRequest, input mcptypes.SyncAllInput) (*mcp.CallToolResult, mcptypes.SyncAllOutput, error) {
	kind, err := types.ParseKind(input.Kind)
	if err != nil {
		return mcptypes.ErrorResult(err.Error()), mcptypes.SyncAllOutput{}, nil
	}

	result, err := h.svc.SyncAll(ctx, kind)
	if err != nil {
		return mcptypes.ErrorResult(fmt.Sprintf("failed to sync: %v", err)), mcptypes.SyncAllOutput{}, nil
	}

	return jsonResult(result), mcptypes.SyncAllOutput{Result: result}, nil
}

func (h *Handler) Count(ctx context.Context, req *mcp.CallToolRequest, input mcptypes.CountInput) (*mcp.CallToolResult, mcptypes.CountOutput, error) {
	if input.ID == "" {
		return mcptypes.ErrorResult("id is required"), mcptypes.CountOutput{}, nil
	}
	kind, err := types.ParseKind(input.Kind)
	if err != nil {
		return mcptypes.ErrorResult(err.Error()), mcptypes.CountOutput{}, nil
	}

	n, err := h.svc.Count(ctx, kind, input.ID)
	if err != nil {
		return mcptypes.ErrorResult(fmt.Sprintf("failed to count: %v", err)), mcptypes.CountOutput{}, nil
	}

	return mcptypes.TextResult(fmt.Sprintf("%s %s has %d embedding rows.", kind, input.ID, n)), mcptypes.CountOutput{Count: n}, nil
}
