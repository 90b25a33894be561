// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quarry Contributors

// Package embedding turns text into dense vectors via an external
// embeddings provider.
package embedding

import "context"

// Client produces embeddings for document chunks and queries.
type Client interface {
	// EmbedBatch embeds texts in order. The result has one vector per
	// input text, index-aligned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a single search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}
