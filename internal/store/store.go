// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quarry Contributors

// Package store defines the backend-agnostic contract for persisting
// and searching chunk records. Implementations live in subpackages;
// callers depend only on the Gateway interface.
package store

import "context"

// Metadata keys present on every chunk record.
const (
	MetaFileID       = "file_id"
	MetaBucket       = "bucket_name"
	MetaObjectPath   = "object_path"
	MetaFilename     = "filename"
	MetaContentType  = "file_content_type"
	MetaEntityID     = "entity_id"
	MetaUserID       = "user_id"
	MetaChunkIndex   = "chunk_index"
	MetaChunkDigest  = "chunk_digest"
	MetaVectorID     = "vector_id"
	MetaSizeBytes    = "size_bytes"
	MetaLastModified = "last_modified"
	MetaSource       = "source"
)

// ChunkRecord is the atomic stored unit: one embedded chunk of a file.
// VectorID is unique across the store and derived deterministically
// from the file identity and chunk digest.
type ChunkRecord struct {
	VectorID  string
	Content   string
	Embedding []float32
	Metadata  map[string]any
}

// ScoredChunk pairs a record with its similarity score. Scores are
// distances: lower means more similar, 0 is an exact match.
type ScoredChunk struct {
	Record ChunkRecord
	Score  float64
}

// SearchFilter restricts similarity search to records whose metadata
// matches every constraint. Equals are exact key/value matches; In are
// set-membership matches. A nil filter matches everything.
type SearchFilter struct {
	Equals map[string]string
	In     map[string][]string
}

// PageQuery describes one page of the chunk listing.
type PageQuery struct {
	Page     int
	PageSize int
	FileID   string
	EntityID string
	UserID   string
	OrderBy  string
	Sort     string
}

// PageItem is one listed chunk; embeddings are not materialized for
// listings.
type PageItem struct {
	VectorID string         `json:"vector_id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// Page is a single page of results plus the total match count.
type Page struct {
	Items    []PageItem `json:"items"`
	Total    int        `json:"total"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
}

// Gateway is the vector store contract. All operations may block on
// backend I/O; route them through the execution bridge (see Bridged)
// when serving concurrent requests.
type Gateway interface {
	// ListIDs returns every vector id in the store. Full scan.
	ListIDs(ctx context.Context) ([]string, error)

	// FilterExistingIDs returns the subset of ids present in the store.
	FilterExistingIDs(ctx context.Context, ids []string) ([]string, error)

	// GetByIDs returns records for the ids that exist; absent ids are
	// silently omitted.
	GetByIDs(ctx context.Context, ids []string) ([]ChunkRecord, error)

	// DeleteByIDs removes records by id. Unknown ids are a no-op. When
	// collectionOnly is set the delete is restricted to the gateway's
	// configured collection.
	DeleteByIDs(ctx context.Context, ids []string, collectionOnly bool) error

	// DeleteByFileIDs removes every record belonging to the given
	// files and returns the number removed. Empty input returns 0
	// without touching the backend.
	DeleteByFileIDs(ctx context.Context, fileIDs []string) (int, error)

	// ChunkDigestsByFileId maps vector id to chunk digest for all
	// records of a file; empty map if the file is unknown.
	ChunkDigestsByFileID(ctx context.Context, fileID string) (map[string]string, error)

	// AddRecords persists a batch in one transaction (all or nothing)
	// and returns the persisted vector ids in input order.
	AddRecords(ctx context.Context, records []ChunkRecord) ([]string, error)

	// SimilaritySearch returns the k nearest records matching filter,
	// ordered by ascending distance.
	SimilaritySearch(ctx context.Context, embedding []float32, k int, filter *SearchFilter) ([]ScoredChunk, error)

	// Paginate lists chunks with filtering, ordering, and clamped
	// pagination.
	Paginate(ctx context.Context, q PageQuery) (*Page, error)

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	Close() error
}
