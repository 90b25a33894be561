// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quarry Contributors

// Package ingest orchestrates the document ingestion pipeline: fetch
// from object storage, split into chunks, diff against the store,
// embed what is new, and persist.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/quarry-dev/quarry/internal/digest"
	"github.com/quarry-dev/quarry/internal/embedding"
	"github.com/quarry-dev/quarry/internal/objectstore"
	"github.com/quarry-dev/quarry/internal/splitter"
	"github.com/quarry-dev/quarry/internal/store"
	"github.com/quarry-dev/quarry/pkg/errors"
)

// CleanupMethod controls what happens to previously stored chunks of
// the same file before new ones are written.
type CleanupMethod string

const (
	// CleanupIncremental keeps existing chunks and embeds only the
	// chunks whose digest is not already stored for the file.
	CleanupIncremental CleanupMethod = "incremental"

	// CleanupFull deletes every stored chunk of the file first, so the
	// whole document is re-embedded.
	CleanupFull CleanupMethod = "full"
)

// Request describes one document to ingest.
type Request struct {
	FileID      string
	Bucket      string
	ObjectPath  string
	Filename    string
	ContentType string
	EntityID    string
	UserID      string
	Cleanup     CleanupMethod
}

// Result summarizes a completed ingestion.
type Result struct {
	FileID         string   `json:"file_id"`
	EmbeddedChunks int      `json:"embedded_chunks"`
	SkippedChunks  int      `json:"skipped_chunks"`
	VectorIDs      []string `json:"vector_ids"`
	Message        string   `json:"message,omitempty"`
}

// Ingestor runs the ingestion pipeline against its collaborators.
type Ingestor struct {
	objects  objectstore.Store
	split    *splitter.Splitter
	embedder embedding.Client
	gateway  store.Gateway
	logger   *slog.Logger

	mu    sync.Mutex
	files map[string]*sync.Mutex
}

// New wires an Ingestor. logger may be nil.
func New(objects objectstore.Store, split *splitter.Splitter, embedder embedding.Client, gateway store.Gateway, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		objects:  objects,
		split:    split,
		embedder: embedder,
		gateway:  gateway,
		logger:   logger.With("component", "ingest"),
		files:    make(map[string]*sync.Mutex),
	}
}

// IngestObject fetches, splits, embeds, and persists the document
// named by req. Concurrent calls for the same file id serialize; other
// files proceed in parallel.
func (in *Ingestor) IngestObject(ctx context.Context, req Request) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	cleanup := req.Cleanup
	if cleanup == "" {
		cleanup = CleanupIncremental
	}

	lock := in.fileLock(req.FileID)
	lock.Lock()
	defer lock.Unlock()

	log := in.logger.With(
		"ingestion_id", uuid.NewString(),
		"file_id", req.FileID,
		"bucket", req.Bucket,
		"object_path", req.ObjectPath,
	)
	log.Info("ingestion started", "cleanup", string(cleanup))

	// FETCH
	info, err := in.objects.Stat(ctx, req.Bucket, req.ObjectPath)
	if err != nil {
		return nil, err
	}
	data, err := in.objects.Fetch(ctx, req.Bucket, req.ObjectPath)
	if err != nil {
		return nil, err
	}
	text := strings.ToValidUTF8(string(data), "")
	if strings.TrimSpace(text) == "" {
		return nil, errors.New(errors.CodeIngestEmptyContent, "object has no text content",
			errors.FieldFileID(req.FileID))
	}

	// SPLIT
	chunks := in.split.Split(text)

	// DIFF
	known := make(map[string]struct{})
	switch cleanup {
	case CleanupFull:
		removed, err := in.gateway.DeleteByFileIDs(ctx, []string{req.FileID})
		if err != nil {
			return nil, err
		}
		log.Info("cleared existing chunks", "removed", removed)
	case CleanupIncremental:
		digests, err := in.gateway.ChunkDigestsByFileID(ctx, req.FileID)
		if err != nil {
			return nil, err
		}
		for _, d := range digests {
			known[d] = struct{}{}
		}
	}
	candidates, skipped := digest.Partition(known, chunks)

	if len(candidates) == 0 {
		log.Info("nothing new to embed", "skipped", skipped)
		return &Result{
			FileID:        req.FileID,
			SkippedChunks: skipped,
			Message:       "no new chunks; store unchanged",
		}, nil
	}

	// EMBED
	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Text
	}
	vectors, err := in.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(candidates) {
		return nil, errors.Errorf(errors.CodeEmbedUpstreamFailure,
			"embedding count mismatch: %d chunks, %d vectors", len(candidates), len(vectors))
	}

	// PERSIST
	records := make([]store.ChunkRecord, len(candidates))
	for i, c := range candidates {
		records[i] = store.ChunkRecord{
			VectorID:  digest.VectorID(req.FileID, c.Digest),
			Content:   c.Text,
			Embedding: vectors[i],
			Metadata:  in.metadata(req, info, c),
		}
	}
	ids, err := in.gateway.AddRecords(ctx, records)
	if err != nil {
		return nil, err
	}

	log.Info("ingestion complete", "embedded", len(ids), "skipped", skipped)
	return &Result{
		FileID:         req.FileID,
		EmbeddedChunks: len(ids),
		SkippedChunks:  skipped,
		VectorIDs:      ids,
	}, nil
}

func (in *Ingestor) metadata(req Request, info objectstore.ObjectInfo, c digest.Candidate) map[string]any {
	meta := map[string]any{
		store.MetaFileID:      req.FileID,
		store.MetaBucket:      req.Bucket,
		store.MetaObjectPath:  req.ObjectPath,
		store.MetaChunkIndex:  c.Index,
		store.MetaChunkDigest: c.Digest,
		store.MetaVectorID:    digest.VectorID(req.FileID, c.Digest),
		store.MetaSizeBytes:   info.Size,
		store.MetaSource:      fmt.Sprintf("minio://%s/%s", req.Bucket, req.ObjectPath),
	}
	if !info.LastModified.IsZero() {
		meta[store.MetaLastModified] = info.LastModified.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	if req.Filename != "" {
		meta[store.MetaFilename] = req.Filename
	}
	if req.ContentType != "" {
		meta[store.MetaContentType] = req.ContentType
	} else if info.ContentType != "" {
		meta[store.MetaContentType] = info.ContentType
	}
	if req.EntityID != "" {
		meta[store.MetaEntityID] = req.EntityID
	}
	if req.UserID != "" {
		meta[store.MetaUserID] = req.UserID
	}
	return meta
}

func (in *Ingestor) fileLock(fileID string) *sync.Mutex {
	in.mu.Lock()
	defer in.mu.Unlock()
	lock, ok := in.files[fileID]
	if !ok {
		lock = &sync.Mutex{}
		in.files[fileID] = lock
	}
	return lock
}

func validate(req Request) error {
	switch {
	case strings.TrimSpace(req.FileID) == "":
		return errors.New(errors.CodeIngestInvalidInput, "file_id is required")
	case strings.TrimSpace(req.Bucket) == "":
		return errors.New(errors.CodeIngestInvalidInput, "bucket is required")
	case strings.TrimSpace(req.ObjectPath) == "":
		return errors.New(errors.CodeIngestInvalidInput, "object_path is required")
	}
	switch req.Cleanup {
	case "", CleanupIncremental, CleanupFull:
	default:
		return errors.Errorf(errors.CodeIngestInvalidInput, "unknown cleanup_method %q", req.Cleanup)
	}
	return nil
}
