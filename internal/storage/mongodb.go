package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/MereWhiplash/embedsync/internal/types"
)

// MongoDB implements Storage using MongoDB with Atlas Vector Search.
// Rows of every kind use the same document shape; the collection names come from tables.
type MongoDB struct {
	client *mongo.Client
	db     *mongo.Database
}

// sourceDoc is the MongoDB document structure for posts and messages
type sourceDoc struct {
	ID        string    `bson:"_id"`
	AuthorID  string    `bson:"author_id"`
	Title     string    `bson:"title,omitempty"`
	Content   string    `bson:"content"`
	Published bool      `bson:"published"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// embeddingDoc is the MongoDB document structure for one chunk
type embeddingDoc struct {
	ParentID    string    `bson:"parent_id"`
	ChunkIndex  int       `bson:"chunk_index"`
	Content     string    `bson:"content_chunk"`
	ContentHash string    `bson:"content_hash"`
	Embedding   []float32 `bson:"embedding"`
	UpdatedAt   time.Time `bson:"updated_at"`
	Score       float64   `bson:"score,omitempty"`
}

// NewMongoDB creates a new MongoDB storage
func NewMongoDB(ctx context.Context, uri, database string) (*MongoDB, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	m := &MongoDB{
		client: client,
		db:     client.Database(database),
	}

	if err := m.initIndexes(ctx); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	return m, nil
}

func (m *MongoDB) initIndexes(ctx context.Context) error {
	for _, kind := range types.Kinds {
		t := tables[kind]
		_, err := m.db.Collection(t.embeddings).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: "parent_id", Value: 1}, {Key: "chunk_index", Value: 1}},
			Options: options.Index().SetUnique(true),
		})
		if err != nil {
			return err
		}
		_, err = m.db.Collection(t.source).Indexes().CreateMany(ctx, []mongo.IndexModel{
			{Keys: bson.D{{Key: "published", Value: 1}}},
			{Keys: bson.D{{Key: "updated_at", Value: -1}}},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *MongoDB) collections(kind types.Kind) (src, emb *mongo.Collection, err error) {
	t, err := tablesFor(kind)
	if err != nil {
		return nil, nil, err
	}
	return m.db.Collection(t.source), m.db.Collection(t.embeddings), nil
}

func (m *MongoDB) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

func (m *MongoDB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (m *MongoDB) PutSource(ctx context.Context, src types.Source) error {
	coll, _, err := m.collections(src.Kind)
	if err != nil {
		return err
	}

	doc := sourceDoc{
		ID:        src.ID,
		AuthorID:  src.OwnerID,
		Title:     src.Title,
		Content:   src.Content,
		Published: src.Published,
		UpdatedAt: time.Now().UTC(),
	}
	_, err = coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: src.ID}}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert %s: %w", src.Kind, err)
	}
	return nil
}

func (m *MongoDB) GetSource(ctx context.Context, kind types.Kind, id string) (*types.Source, error) {
	coll, _, err := m.collections(kind)
	if err != nil {
		return nil, err
	}

	var doc sourceDoc
	err = coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &types.Source{
		ID:        doc.ID,
		Kind:      kind,
		OwnerID:   doc.AuthorID,
		Title:     doc.Title,
		Content:   doc.Content,
		Published: doc.Published,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

func (m *MongoDB) ListSourceIDs(ctx context.Context, kind types.Kind, opts types.ListOpts) ([]string, error) {
	coll, _, err := m.collections(kind)
	if err != nil {
		return nil, err
	}

	filter := bson.D{}
	if opts.PublishedOnly {
		filter = append(filter, bson.E{Key: "published", Value: true})
	}

	findOpts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetProjection(bson.D{{Key: "_id", Value: 1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := coll.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var ids []string
	for cursor.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		ids = append(ids, doc.ID)
	}
	return ids, cursor.Err()
}

func (m *MongoDB) DeleteEmbeddings(ctx context.Context, kind types.Kind, parentID string) (int64, error) {
	_, coll, err := m.collections(kind)
	if err != nil {
		return 0, err
	}

	result, err := coll.DeleteMany(ctx, bson.D{{Key: "parent_id", Value: parentID}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete embeddings: %w", err)
	}
	return result.DeletedCount, nil
}

func (m *MongoDB) InsertEmbedding(ctx context.Context, kind types.Kind, row types.EmbeddingRow) error {
	_, coll, err := m.collections(kind)
	if err != nil {
		return err
	}

	_, err = coll.InsertOne(ctx, toEmbeddingDoc(row))
	if err != nil {
		return fmt.Errorf("failed to insert embedding: %w", err)
	}
	return nil
}

func (m *MongoDB) ChunkHashes(ctx context.Context, kind types.Kind, parentID string) (map[int]string, error) {
	_, coll, err := m.collections(kind)
	if err != nil {
		return nil, err
	}

	cursor, err := coll.Find(ctx, bson.D{{Key: "parent_id", Value: parentID}},
		options.Find().SetProjection(bson.D{{Key: "chunk_index", Value: 1}, {Key: "content_hash", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	hashes := make(map[int]string)
	for cursor.Next(ctx) {
		var doc embeddingDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		hashes[doc.ChunkIndex] = doc.ContentHash
	}
	return hashes, cursor.Err()
}

// ApplyEmbeddings prunes then upserts. Standalone MongoDB has no multi-document
// transactions, so a concurrent reader may briefly see the pruned state.
func (m *MongoDB) ApplyEmbeddings(ctx context.Context, kind types.Kind, parentID string, upserts []types.EmbeddingRow, keep []int) (int64, error) {
	_, coll, err := m.collections(kind)
	if err != nil {
		return 0, err
	}

	survivors := retained(upserts, keep)
	result, err := coll.DeleteMany(ctx, bson.D{
		{Key: "parent_id", Value: parentID},
		{Key: "chunk_index", Value: bson.D{{Key: "$nin", Value: survivors}}},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune embeddings: %w", err)
	}

	for _, row := range upserts {
		row.ParentID = parentID
		filter := bson.D{{Key: "parent_id", Value: parentID}, {Key: "chunk_index", Value: row.ChunkIndex}}
		if _, err := coll.ReplaceOne(ctx, filter, toEmbeddingDoc(row), options.Replace().SetUpsert(true)); err != nil {
			return 0, fmt.Errorf("failed to upsert chunk %d: %w", row.ChunkIndex, err)
		}
	}

	return result.DeletedCount, nil
}

func (m *MongoDB) CountEmbeddings(ctx context.Context, kind types.Kind, parentID string) (int, error) {
	_, coll, err := m.collections(kind)
	if err != nil {
		return 0, err
	}

	n, err := coll.CountDocuments(ctx, bson.D{{Key: "parent_id", Value: parentID}})
	return int(n), err
}

func (m *MongoDB) Search(ctx context.Context, kind types.Kind, embedding []float32, opts types.SearchOpts) ([]types.Match, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}
	coll := m.db.Collection(t.embeddings)

	limit := opts.Limit
	if limit <= 0 {
		limit = 5
	}

	filter := bson.D{}
	if opts.ParentID != "" {
		filter = append(filter, bson.E{Key: "parent_id", Value: opts.ParentID})
	}

	// Atlas Vector Search pipeline
	// Note: This requires an Atlas Vector Search index named "<collection>_vector_index"
	// For non-Atlas deployments, falls back to scoring in process
	stage := bson.D{
		{Key: "index", Value: t.embeddings + "_vector_index"},
		{Key: "path", Value: "embedding"},
		{Key: "queryVector", Value: embedding},
		{Key: "numCandidates", Value: limit * 10},
		{Key: "limit", Value: limit},
	}
	if len(filter) > 0 {
		stage = append(stage, bson.E{Key: "filter", Value: filter})
	}
	pipeline := mongo.Pipeline{
		{{Key: "$vectorSearch", Value: stage}},
		{{Key: "$addFields", Value: bson.D{{Key: "score", Value: bson.D{{Key: "$meta", Value: "vectorSearchScore"}}}}}},
	}

	cursor, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return m.searchFallback(ctx, coll, filter, embedding, limit)
	}
	defer cursor.Close(ctx)

	var matches []types.Match
	for cursor.Next(ctx) {
		var doc embeddingDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		// Atlas reports cosine similarity normalized to [0, 1] as (1 + cos) / 2
		matches = append(matches, types.Match{
			ParentID:   doc.ParentID,
			ChunkIndex: doc.ChunkIndex,
			Content:    doc.Content,
			Distance:   2 * (1 - doc.Score),
		})
	}
	return matches, cursor.Err()
}

func (m *MongoDB) searchFallback(ctx context.Context, coll *mongo.Collection, filter bson.D, embedding []float32, limit int) ([]types.Match, error) {
	cursor, err := coll.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var matches []types.Match
	for cursor.Next(ctx) {
		var doc embeddingDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		matches = append(matches, types.Match{
			ParentID:   doc.ParentID,
			ChunkIndex: doc.ChunkIndex,
			Content:    doc.Content,
			Distance:   cosineDistance(embedding, doc.Embedding),
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func toEmbeddingDoc(row types.EmbeddingRow) embeddingDoc {
	return embeddingDoc{
		ParentID:    row.ParentID,
		ChunkIndex:  row.ChunkIndex,
		Content:     row.Content,
		ContentHash: row.ContentHash,
		Embedding:   row.Embedding,
		UpdatedAt:   time.Now().UTC(),
	}
}

// cosineDistance returns 1 - cos(a, b); mismatched or zero vectors are maximally distant
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
