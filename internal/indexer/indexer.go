// Package indexer keeps each parent's embedding rows in step with its content.
//
// A sync runs extract, chunk, embed, write for one parent, one chunk at a
// time. Every embedding call waits on a shared limiter so a Syncer never
// exceeds one upstream request per pacing interval, no matter how many
// parents it is asked to process.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/MereWhiplash/embedsync/internal/chunker"
	"github.com/MereWhiplash/embedsync/internal/content"
	"github.com/MereWhiplash/embedsync/internal/embedder"
	"github.com/MereWhiplash/embedsync/internal/lock"
	"github.com/MereWhiplash/embedsync/internal/metrics"
	"github.com/MereWhiplash/embedsync/internal/storage"
	"github.com/MereWhiplash/embedsync/internal/types"
)

// ErrSyncInProgress is returned when another sync holds the parent's lock
var ErrSyncInProgress = errors.New("sync already in progress")

// Mode selects how rows are rewritten
type Mode string

const (
	// ModeReplace deletes every row and re-embeds every chunk
	ModeReplace Mode = "replace"
	// ModeHash re-embeds only chunks whose content hash changed and
	// applies the result in one transaction
	ModeHash Mode = "hash"
)

// ParseMode validates a mode name; empty means ModeReplace
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeReplace:
		return ModeReplace, nil
	case ModeHash:
		return ModeHash, nil
	}
	return "", fmt.Errorf("invalid sync mode %q: must be replace or hash", s)
}

// DefaultPacing is the gap between embedding calls used by the commands
const DefaultPacing = 200 * time.Millisecond

// Options configures a Syncer
type Options struct {
	ChunkSize int           // characters per chunk, 0 = chunker.DefaultSize
	Pacing    time.Duration // minimum gap between embedding calls, 0 = none
	Mode      Mode
	LockTTL   time.Duration // lifetime of the per-parent lock
	// Model identifies the embedding provider and model. It is folded into
	// every content hash, so switching models makes hash mode re-embed.
	Model string

	Locker  lock.Locker
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Syncer runs syncs against one storage and one embedder
type Syncer struct {
	store    storage.Storage
	embedder embedder.Embedder
	limiter  *rate.Limiter
	opts     Options
	logger   *slog.Logger
	tracer   trace.Tracer
}

// New creates a Syncer
func New(store storage.Storage, emb embedder.Embedder, opts Options) *Syncer {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = chunker.DefaultSize
	}
	if opts.Mode == "" {
		opts.Mode = ModeReplace
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Minute
	}
	if opts.Locker == nil {
		opts.Locker = lock.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	limit := rate.Inf
	if opts.Pacing > 0 {
		limit = rate.Every(opts.Pacing)
	}

	return &Syncer{
		store:    store,
		embedder: emb,
		limiter:  rate.NewLimiter(limit, 1),
		opts:     opts,
		logger:   opts.Logger.With("component", "indexer"),
		tracer:   otel.Tracer("embedsync/indexer"),
	}
}

// Mode reports the configured write mode
func (s *Syncer) Mode() Mode {
	return s.opts.Mode
}

// SyncOne makes the parent's embedding rows match its current content.
//
// A chunk whose embedding or insert fails is logged and skipped; the run
// continues with the next chunk and the failure is counted in the result.
// A missing parent has any orphaned rows removed and returns
// types.ErrNotFound. Storage failures outside the per-chunk loop abort the
// run and are returned.
func (s *Syncer) SyncOne(ctx context.Context, kind types.Kind, parentID string) (*types.SyncResult, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}
	if parentID == "" {
		return nil, fmt.Errorf("parent id is required")
	}

	ctx, span := s.tracer.Start(ctx, "indexer.SyncOne", trace.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("parent_id", parentID),
		attribute.String("mode", string(s.opts.Mode)),
	))
	defer span.End()

	release, err := s.opts.Locker.Acquire(ctx, string(kind)+":"+parentID, s.opts.LockTTL)
	if errors.Is(err, lock.ErrLocked) {
		span.SetStatus(codes.Error, ErrSyncInProgress.Error())
		return nil, fmt.Errorf("%s %s: %w", kind, parentID, ErrSyncInProgress)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer release()

	start := time.Now()
	res := &types.SyncResult{Kind: kind, ParentID: parentID, Mode: string(s.opts.Mode)}
	err = s.sync(ctx, res)
	took := time.Since(start)
	res.TookMS = took.Milliseconds()

	status := "ok"
	switch {
	case errors.Is(err, types.ErrNotFound):
		status = "not_found"
	case err != nil:
		status = "error"
	case res.Failed > 0:
		status = "partial"
	}
	s.opts.Metrics.Sync(string(kind), status, took)

	span.SetAttributes(
		attribute.Int("chunks", res.Chunks),
		attribute.Int("embedded", res.Embedded),
		attribute.Int("failed", res.Failed),
	)
	log := s.logger.With("kind", kind, "parent_id", parentID, "mode", s.opts.Mode)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn("sync failed", "status", status, "deleted", res.Deleted, "error", err)
		return res, err
	}

	log.Info("sync complete",
		"status", status,
		"chunks", res.Chunks,
		"embedded", res.Embedded,
		"reused", res.Reused,
		"failed", res.Failed,
		"deleted", res.Deleted,
		"took", took,
	)
	return res, nil
}

func (s *Syncer) sync(ctx context.Context, res *types.SyncResult) error {
	src, err := s.store.GetSource(ctx, res.Kind, res.ParentID)
	if errors.Is(err, types.ErrNotFound) {
		deleted, derr := s.store.DeleteEmbeddings(ctx, res.Kind, res.ParentID)
		if derr != nil {
			return fmt.Errorf("failed to delete orphaned embeddings: %w", derr)
		}
		res.Deleted = deleted
		return fmt.Errorf("%s %s: %w", res.Kind, res.ParentID, types.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", res.Kind, err)
	}

	if s.opts.Mode == ModeHash {
		return s.syncHash(ctx, res, src)
	}
	return s.syncReplace(ctx, res, src)
}

// syncReplace deletes every row, then embeds and inserts chunk by chunk.
// Readers can observe a partially written parent while it runs.
func (s *Syncer) syncReplace(ctx context.Context, res *types.SyncResult, src *types.Source) error {
	deleted, err := s.store.DeleteEmbeddings(ctx, res.Kind, res.ParentID)
	if err != nil {
		return fmt.Errorf("failed to delete embeddings: %w", err)
	}
	res.Deleted = deleted

	chunks := chunker.Split(content.ExtractRaw(src.Content), s.opts.ChunkSize)
	res.Chunks = len(chunks)

	for i, chunk := range chunks {
		vec, err := s.embed(ctx, chunk)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.chunkFailed(res, i, "embed", err)
			continue
		}

		row := types.EmbeddingRow{
			ParentID:    res.ParentID,
			ChunkIndex:  i,
			Content:     chunk,
			ContentHash: chunker.ModelHash(s.opts.Model, chunk),
			Embedding:   vec,
		}
		if err := s.store.InsertEmbedding(ctx, res.Kind, row); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.chunkFailed(res, i, "insert", err)
			continue
		}
		res.Embedded++
		s.opts.Metrics.Chunk(string(res.Kind), metrics.ChunkEmbedded)
	}
	return nil
}

// syncHash embeds only changed chunks and swaps the row set in one
// ApplyEmbeddings call. Rows of failed chunks are pruned with the rest.
func (s *Syncer) syncHash(ctx context.Context, res *types.SyncResult, src *types.Source) error {
	existing, err := s.store.ChunkHashes(ctx, res.Kind, res.ParentID)
	if err != nil {
		return fmt.Errorf("failed to load chunk hashes: %w", err)
	}

	chunks := chunker.Split(content.ExtractRaw(src.Content), s.opts.ChunkSize)
	res.Chunks = len(chunks)

	var upserts []types.EmbeddingRow
	var keep []int
	for i, chunk := range chunks {
		hash := chunker.ModelHash(s.opts.Model, chunk)
		if old, ok := existing[i]; ok && old == hash {
			keep = append(keep, i)
			res.Reused++
			s.opts.Metrics.Chunk(string(res.Kind), metrics.ChunkReused)
			continue
		}

		vec, err := s.embed(ctx, chunk)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.chunkFailed(res, i, "embed", err)
			continue
		}
		upserts = append(upserts, types.EmbeddingRow{
			ParentID:    res.ParentID,
			ChunkIndex:  i,
			Content:     chunk,
			ContentHash: hash,
			Embedding:   vec,
		})
	}

	pruned, err := s.store.ApplyEmbeddings(ctx, res.Kind, res.ParentID, upserts, keep)
	if err != nil {
		return fmt.Errorf("failed to apply embeddings: %w", err)
	}
	res.Deleted = pruned
	res.Embedded = len(upserts)
	for range upserts {
		s.opts.Metrics.Chunk(string(res.Kind), metrics.ChunkEmbedded)
	}
	return nil
}

func (s *Syncer) embed(ctx context.Context, text string) ([]float32, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	vec, err := s.embedder.EmbedForStorage(ctx, text)
	s.opts.Metrics.Embed(string(embedder.IntentDoc), time.Since(start))
	return vec, err
}

func (s *Syncer) chunkFailed(res *types.SyncResult, index int, stage string, err error) {
	res.Failed++
	s.opts.Metrics.Chunk(string(res.Kind), metrics.ChunkFailed)
	s.logger.Warn("chunk skipped",
		"kind", res.Kind,
		"parent_id", res.ParentID,
		"chunk_index", index,
		"stage", stage,
		"error", err,
	)
}

// SyncAll syncs every parent of a kind, strictly one after another.
// Posts are limited to published ones. A failing parent is recorded and the
// run moves on; only a listing error or cancellation stops it early.
func (s *Syncer) SyncAll(ctx context.Context, kind types.Kind) (*types.BulkResult, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "indexer.SyncAll", trace.WithAttributes(
		attribute.String("kind", string(kind)),
	))
	defer span.End()

	start := time.Now()
	ids, err := s.store.ListSourceIDs(ctx, kind, types.ListOpts{PublishedOnly: kind == types.KindPost})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to list %s ids: %w", kind, err)
	}

	bulk := &types.BulkResult{Kind: kind, Parents: len(ids)}
	s.logger.Info("bulk sync started", "kind", kind, "parents", len(ids))

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			bulk.TookMS = time.Since(start).Milliseconds()
			return bulk, err
		}

		res, err := s.SyncOne(ctx, kind, id)
		if res != nil {
			bulk.Chunks += res.Chunks
			bulk.Embedded += res.Embedded
			bulk.Reused += res.Reused
			bulk.Failed += res.Failed
		}
		if err != nil {
			bulk.Failures = append(bulk.Failures, types.SyncFailure{ParentID: id, Error: err.Error()})
			continue
		}
		bulk.Succeeded++
	}

	bulk.TookMS = time.Since(start).Milliseconds()
	span.SetAttributes(
		attribute.Int("parents", bulk.Parents),
		attribute.Int("failures", len(bulk.Failures)),
	)
	s.logger.Info("bulk sync complete",
		"kind", kind,
		"parents", bulk.Parents,
		"succeeded", bulk.Succeeded,
		"failures", len(bulk.Failures),
		"chunks", bulk.Chunks,
		"embedded", bulk.Embedded,
		"failed_chunks", bulk.Failed,
		"took_ms", bulk.TookMS,
	)
	return bulk, nil
}
