// Package types contains shared data types that have no CGO dependencies.
// This allows packages like the shim to use Source and Match without pulling in sqlite-vec.
package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a parent entity is not found
var ErrNotFound = errors.New("source not found")

// Kind identifies which parent entity an embedding row belongs to
type Kind string

const (
	KindPost    Kind = "post"
	KindMessage Kind = "message"
)

// Kinds lists every known Kind in a stable order
var Kinds = []Kind{KindPost, KindMessage}

// Valid returns true if the Kind is a known kind
func (k Kind) Valid() bool {
	switch k {
	case KindPost, KindMessage:
		return true
	}
	return false
}

// Validate returns an error if the Kind is invalid
func (k Kind) Validate() error {
	if !k.Valid() {
		return fmt.Errorf("invalid kind %q: must be post or message", k)
	}
	return nil
}

// ParseKind accepts "post", "posts", "message" or "messages" in any case.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s"))
	if err := k.Validate(); err != nil {
		return "", fmt.Errorf("invalid kind %q: must be post or message", s)
	}
	return k, nil
}

// Source is a parent entity whose content gets embedded: a blog post or a chat message.
// Content is stored raw and may be plain text, a serialized TipTap document or a
// serialized legacy block array.
type Source struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	OwnerID   string    `json:"owner_id,omitempty"`
	Title     string    `json:"title,omitempty"`
	Content   string    `json:"content"`
	Published bool      `json:"published"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EmbeddingRow is one embedded chunk of a parent's extracted text
type EmbeddingRow struct {
	ParentID    string    `json:"parent_id"`
	ChunkIndex  int       `json:"chunk_index"`
	Content     string    `json:"content_chunk"`
	ContentHash string    `json:"content_hash"`
	Embedding   []float32 `json:"-"`
}

// Match is a search hit
type Match struct {
	ParentID   string  `json:"parent_id"`
	ChunkIndex int     `json:"chunk_index"`
	Content    string  `json:"content_chunk"`
	Distance   float64 `json:"distance"`
}

// ListOpts configures source listing
type ListOpts struct {
	Limit         int
	Offset        int
	PublishedOnly bool
}

// SearchOpts configures search behavior
type SearchOpts struct {
	Limit    int
	ParentID string // restrict to one parent
}

// SyncResult summarizes one parent sync
type SyncResult struct {
	Kind     Kind   `json:"kind"`
	ParentID string `json:"parent_id"`
	Mode     string `json:"mode"`
	Chunks   int    `json:"chunks"`
	Embedded int    `json:"embedded"`
	Reused   int    `json:"reused"`
	Failed   int    `json:"failed"`
	Deleted  int64  `json:"deleted"`
	TookMS   int64  `json:"took_ms"`
}

// SyncFailure records a parent whose sync returned an error
type SyncFailure struct {
	ParentID string `json:"parent_id"`
	Error    string `json:"error"`
}

// BulkResult summarizes a sequential sync over every parent of a kind
type BulkResult struct {
	Kind      Kind          `json:"kind"`
	Parents   int           `json:"parents"`
	Succeeded int           `json:"succeeded"`
	Chunks    int           `json:"chunks"`
	Embedded  int           `json:"embedded"`
	Reused    int           `json:"reused"`
	Failed    int           `json:"failed_chunks"`
	Failures  []SyncFailure `json:"failures,omitempty"`
	TookMS    int64         `json:"took_ms"`
}
