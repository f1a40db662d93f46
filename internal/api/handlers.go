// internal/api/handlers.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/MereWhiplash/embedsync/internal/apitypes"
	"github.com/MereWhiplash/embedsync/internal/indexer"
	"github.com/MereWhiplash/embedsync/internal/service"
	"github.com/MereWhiplash/embedsync/internal/types"
)

// Publisher queues message indexing for an out-of-process worker
type Publisher interface {
	PublishMessageCreated(ctx context.Context, messageID string) error
}

// Handlers holds HTTP handler dependencies
type Handlers struct {
	svc         *service.Service
	publisher   Publisher
	healthCheck func(ctx context.Context) error
	logger      *slog.Logger

	bulkMu   sync.Mutex
	bulk     map[types.Kind]bool // kinds with a bulk sync running
	pending  sync.WaitGroup      // background bulk syncs
	bgCtx    context.Context
	bgCancel context.CancelFunc
}

// NewHandlers creates new API handlers
func NewHandlers(svc *service.Service) *Handlers {
	bgCtx, bgCancel := context.WithCancel(context.Background())
	return &Handlers{
		svc:         svc,
		healthCheck: svc.Ping,
		logger:      slog.Default().With("component", "api"),
		bulk:        make(map[types.Kind]bool),
		bgCtx:       bgCtx,
		bgCancel:    bgCancel,
	}
}

// Wait blocks until background bulk syncs have finished. If ctx ends first
// the syncs are cancelled, Wait still waits for them to return, and the
// ctx error is reported. Call it after the HTTP server has stopped and
// before closing storage.
func (h *Handlers) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		h.bgCancel()
		<-done
		return ctx.Err()
	}
}

// startBulk claims kind for one bulk sync; false means one is already running
func (h *Handlers) startBulk(kind types.Kind) bool {
	h.bulkMu.Lock()
	defer h.bulkMu.Unlock()
	if h.bulk[kind] {
		return false
	}
	h.bulk[kind] = true
	return true
}

func (h *Handlers) endBulk(kind types.Kind) {
	h.bulkMu.Lock()
	delete(h.bulk, kind)
	h.bulkMu.Unlock()
}

// SetHealthCheck replaces the check run by GET /health
func (h *Handlers) SetHealthCheck(fn func(ctx context.Context) error) {
	h.healthCheck = fn
}

// SetPublisher enables ?async=true on the message index endpoint
func (h *Handlers) SetPublisher(p Publisher) {
	h.publisher = p
}

// SetLogger replaces the handler logger
func (h *Handlers) SetLogger(l *slog.Logger) {
	h.logger = l.With("component", "api")
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, data)
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, msg string) {
	h.respondJSON(w, status, apitypes.ErrorResponse{Error: msg})
}

// respondServiceError maps service errors to status codes
func (h *Handlers) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, types.ErrNotFound):
		h.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, indexer.ErrSyncInProgress):
		h.respondError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("request failed", "path", r.URL.Path, "request_id", GetRequestID(r.Context()), "error", err)
		h.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// detached keeps request values but drops cancellation so a started sync
// runs to completion even if the client goes away
func detached(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

// Health handles GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if h.healthCheck != nil {
		if err := h.healthCheck(r.Context()); err != nil {
			h.respondJSON(w, http.StatusServiceUnavailable, apitypes.HealthResponse{Status: "unhealthy"})
			return
		}
	}
	h.respondJSON(w, http.StatusOK, apitypes.HealthResponse{Status: "ok", Mode: string(h.svc.Mode())})
}

// BulkSync handles POST /v1/admin/sync
func (h *Handlers) BulkSync(w http.ResponseWriter, r *http.Request) {
	var req apitypes.BulkSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	kind, err := types.ParseKind(req.Kind)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !h.startBulk(kind) {
		h.respondServiceError(w, r, indexer.ErrSyncInProgress)
		return
	}

	ctx := detached(r)

	if r.URL.Query().Get("async") == "true" {
		bg, cancel := context.WithCancel(ctx)
		stop := context.AfterFunc(h.bgCtx, cancel)
		h.pending.Add(1)
		go func() {
			defer h.pending.Done()
			defer h.endBulk(kind)
			defer stop()
			defer cancel()
			if _, err := h.svc.SyncAll(bg, kind); err != nil {
				h.logger.Error("background bulk sync failed", "kind", kind, "error", err)
			}
		}()
		h.respondJSON(w, http.StatusAccepted, apitypes.AcceptedResponse{Status: "started", Kind: kind})
		return
	}

	result, err := h.svc.SyncAll(ctx, kind)
	h.endBulk(kind)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, apitypes.BulkSyncResponse{Result: result})
}

// SyncPost handles POST /v1/posts/{id}/sync
func (h *Handlers) SyncPost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := h.svc.SyncPost(detached(r), id)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, apitypes.SyncResponse{Result: result})
}

// IndexMessage handles POST /v1/messages/{id}/index
func (h *Handlers) IndexMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if r.URL.Query().Get("async") == "true" {
		if h.publisher == nil {
			h.respondError(w, http.StatusServiceUnavailable, "async indexing is not configured")
			return
		}
		if err := h.publisher.PublishMessageCreated(r.Context(), id); err != nil {
			h.respondServiceError(w, r, err)
			return
		}
		h.respondJSON(w, http.StatusAccepted, apitypes.AcceptedResponse{Status: "queued", Kind: types.KindMessage, ID: id})
		return
	}

	result, err := h.svc.IndexMessage(detached(r), id)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, apitypes.SyncResponse{Result: result})
}

// Search handles POST /v1/search
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	var req apitypes.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Query == "" {
		h.respondError(w, http.StatusBadRequest, "query is required")
		return
	}

	kind, err := types.ParseKind(req.Kind)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 5
	}

	matches, err := h.svc.Search(r.Context(), kind, req.Query, limit, req.ParentID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if matches == nil {
		matches = []types.Match{}
	}

	h.respondJSON(w, http.StatusOK, apitypes.SearchResponse{Matches: matches})
}

// Count handles GET /v1/{kind}/{id}/embeddings
func (h *Handlers) Count(w http.ResponseWriter, r *http.Request) {
	kind, err := types.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := chi.URLParam(r, "id")

	n, err := h.svc.Count(r.Context(), kind, id)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, apitypes.CountResponse{Kind: kind, ID: id, Count: n})
}
