// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quarry Contributors

package store

import (
	"context"

	"github.com/quarry-dev/quarry/internal/bridge"
)

// Compile-time interface check.
var _ Gateway = (*Bridged)(nil)

// Bridged routes every Gateway call through a bounded worker pool so a
// blocking backend serves concurrent requests without stalling them.
// The wrapped call runs on a detached context: abandoning the caller's
// request discards the result but never interrupts backend work.
type Bridged struct {
	inner Gateway
	pool  *bridge.Pool
}

// NewBridged wraps gw so its operations execute on pool workers.
func NewBridged(gw Gateway, pool *bridge.Pool) *Bridged {
	return &Bridged{inner: gw, pool: pool}
}

func (b *Bridged) ListIDs(ctx context.Context) ([]string, error) {
	inner := context.WithoutCancel(ctx)
	return bridge.Run(ctx, b.pool, func() ([]string, error) {
		return b.inner.ListIDs(inner)
	})
}

func (b *Bridged) FilterExistingIDs(ctx context.Context, ids []string) ([]string, error) {
	inner := context.WithoutCancel(ctx)
	return bridge.Run(ctx, b.pool, func() ([]string, error) {
		return b.inner.FilterExistingIDs(inner, ids)
	})
}

func (b *Bridged) GetByIDs(ctx context.Context, ids []string) ([]ChunkRecord, error) {
	inner := context.WithoutCancel(ctx)
	return bridge.Run(ctx, b.pool, func() ([]ChunkRecord, error) {
		return b.inner.GetByIDs(inner, ids)
	})
}

func (b *Bridged) DeleteByIDs(ctx context.Context, ids []string, collectionOnly bool) error {
	inner := context.WithoutCancel(ctx)
	return bridge.Do(ctx, b.pool, func() error {
		return b.inner.DeleteByIDs(inner, ids, collectionOnly)
	})
}

func (b *Bridged) DeleteByFileIDs(ctx context.Context, fileIDs []string) (int, error) {
	// Empty input short-circuits before consuming a worker slot.
	if len(fileIDs) == 0 {
		return 0, nil
	}
	inner := context.WithoutCancel(ctx)
	return bridge.Run(ctx, b.pool, func() (int, error) {
		return b.inner.DeleteByFileIDs(inner, fileIDs)
	})
}

func (b *Bridged) ChunkDigestsByFileID(ctx context.Context, fileID string) (map[string]string, error) {
	inner := context.WithoutCancel(ctx)
	return bridge.Run(ctx, b.pool, func() (map[string]string, error) {
		return b.inner.ChunkDigestsByFileID(inner, fileID)
	})
}

func (b *Bridged) AddRecords(ctx context.Context, records []ChunkRecord) ([]string, error) {
	inner := context.WithoutCancel(ctx)
	return bridge.Run(ctx, b.pool, func() ([]string, error) {
		return b.inner.AddRecords(inner, records)
	})
}

func (b *Bridged) SimilaritySearch(ctx context.Context, embedding []float32, k int, filter *SearchFilter) ([]ScoredChunk, error) {
	inner := context.WithoutCancel(ctx)
	return bridge.Run(ctx, b.pool, func() ([]ScoredChunk, error) {
		return b.inner.SimilaritySearch(inner, embedding, k, filter)
	})
}

func (b *Bridged) Paginate(ctx context.Context, q PageQuery) (*Page, error) {
	inner := context.WithoutCancel(ctx)
	return bridge.Run(ctx, b.pool, func() (*Page, error) {
		return b.inner.Paginate(inner, q)
	})
}

func (b *Bridged) Ping(ctx context.Context) error {
	inner := context.WithoutCancel(ctx)
	return bridge.Do(ctx, b.pool, func() error {
		return b.inner.Ping(inner)
	})
}

func (b *Bridged) Close() error {
	return b.inner.Close()
}
