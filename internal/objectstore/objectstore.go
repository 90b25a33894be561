// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quarry Contributors

// Package objectstore abstracts the bucket storage that holds source
// documents before they are chunked and embedded.
package objectstore

import (
	"context"
	"time"
)

// ObjectInfo carries the subset of object metadata the ingestion
// pipeline records alongside each chunk.
type ObjectInfo struct {
	Size         int64
	ContentType  string
	LastModified time.Time
}

// Store reads source documents from bucket storage.
type Store interface {
	// Stat returns object metadata without downloading the body.
	// A missing object yields errors.CodeObjectNotFound.
	Stat(ctx context.Context, bucket, path string) (ObjectInfo, error)

	// Fetch downloads the full object body.
	Fetch(ctx context.Context, bucket, path string) ([]byte, error)
}
