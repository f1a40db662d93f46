package storage_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MereWhiplash/embedsync/internal/storage"
	"github.com/MereWhiplash/embedsync/internal/types"
)

// unitVec returns a vector with a single hot dimension
func unitVec(hot int) []float32 {
	v := make([]float32, storage.DefaultDimensions)
	v[hot] = 1
	return v
}

func row(parent string, idx int, text string) types.EmbeddingRow {
	return types.EmbeddingRow{
		ParentID:    parent,
		ChunkIndex:  idx,
		Content:     text,
		ContentHash: "h-" + text,
		Embedding:   unitVec(idx),
	}
}

// testStorageContract exercises behavior every driver must share.
// parent IDs are prefixed so the suite can run against a shared database.
func testStorageContract(t *testing.T, store storage.Storage, prefix string) {
	ctx := context.Background()

	t.Run("source round trip", func(t *testing.T) {
		src := types.Source{ID: prefix + "p1", Kind: types.KindPost, OwnerID: "u1", Title: "T", Content: "hello", Published: true}
		require.NoError(t, store.PutSource(ctx, src))

		got, err := store.GetSource(ctx, types.KindPost, src.ID)
		require.NoError(t, err)
		assert.Equal(t, "hello", got.Content)
		assert.Equal(t, "u1", got.OwnerID)
		assert.True(t, got.Published)

		src.Content = "updated"
		require.NoError(t, store.PutSource(ctx, src))
		got, err = store.GetSource(ctx, types.KindPost, src.ID)
		require.NoError(t, err)
		assert.Equal(t, "updated", got.Content)
	})

	t.Run("missing source", func(t *testing.T) {
		_, err := store.GetSource(ctx, types.KindMessage, prefix+"nope")
		assert.True(t, errors.Is(err, types.ErrNotFound))
	})

	t.Run("invalid kind", func(t *testing.T) {
		_, err := store.GetSource(ctx, types.Kind("comment"), "x")
		assert.Error(t, err)
	})

	t.Run("insert count delete", func(t *testing.T) {
		parent := prefix + "m1"
		_, err := store.DeleteEmbeddings(ctx, types.KindMessage, parent)
		require.NoError(t, err)

		for i, text := range []string{"a", "b", "c"} {
			require.NoError(t, store.InsertEmbedding(ctx, types.KindMessage, row(parent, i, text)))
		}
		n, err := store.CountEmbeddings(ctx, types.KindMessage, parent)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		// kinds do not share rows
		n, err = store.CountEmbeddings(ctx, types.KindPost, parent)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		deleted, err := store.DeleteEmbeddings(ctx, types.KindMessage, parent)
		require.NoError(t, err)
		assert.Equal(t, int64(3), deleted)

		n, err = store.CountEmbeddings(ctx, types.KindMessage, parent)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("apply embeddings prunes and upserts", func(t *testing.T) {
		parent := prefix + "p2"
		_, err := store.DeleteEmbeddings(ctx, types.KindPost, parent)
		require.NoError(t, err)
		for i, text := range []string{"a", "b", "c"} {
			require.NoError(t, store.InsertEmbedding(ctx, types.KindPost, row(parent, i, text)))
		}

		// keep chunk 0, rewrite chunk 1, drop chunk 2
		pruned, err := store.ApplyEmbeddings(ctx, types.KindPost, parent, []types.EmbeddingRow{row(parent, 1, "B")}, []int{0})
		require.NoError(t, err)
		assert.Equal(t, int64(1), pruned)

		hashes, err := store.ChunkHashes(ctx, types.KindPost, parent)
		require.NoError(t, err)
		assert.Equal(t, map[int]string{0: "h-a", 1: "h-B"}, hashes)

		// empty upserts and keep clears the parent
		_, err = store.ApplyEmbeddings(ctx, types.KindPost, parent, nil, nil)
		require.NoError(t, err)
		n, err := store.CountEmbeddings(ctx, types.KindPost, parent)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("search orders by distance", func(t *testing.T) {
		parent := prefix + "p3"
		_, err := store.DeleteEmbeddings(ctx, types.KindPost, parent)
		require.NoError(t, err)
		for i, text := range []string{"zero", "one", "two"} {
			require.NoError(t, store.InsertEmbedding(ctx, types.KindPost, row(parent, i, text)))
		}

		matches, err := store.Search(ctx, types.KindPost, unitVec(1), types.SearchOpts{Limit: 2, ParentID: parent})
		require.NoError(t, err)
		require.Len(t, matches, 2)
		assert.Equal(t, "one", matches[0].Content)
		assert.InDelta(t, 0, matches[0].Distance, 1e-4)
		assert.LessOrEqual(t, matches[0].Distance, matches[1].Distance)
	})
}
