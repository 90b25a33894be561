// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quarry Contributors

// Package query answers similarity searches over ingested chunks.
package query

import (
	"context"
	"log/slog"
	"strings"

	"github.com/quarry-dev/quarry/internal/embedding"
	"github.com/quarry-dev/quarry/internal/store"
	"github.com/quarry-dev/quarry/pkg/errors"
)

const (
	// DefaultTopK matches the retrieval depth used when the caller
	// does not ask for one.
	DefaultTopK = 4

	// MaxTopK caps a single search.
	MaxTopK = 100
)

// Request is a similarity search. FileID scopes Single; FileIDs scopes
// Multiple.
type Request struct {
	Query    string
	FileID   string
	FileIDs  []string
	EntityID string
	TopK     int
}

// Match is one retrieved chunk. Score is vector distance: lower means
// more similar.
type Match struct {
	VectorID string         `json:"vector_id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Score    float64        `json:"score"`
}

// Engine embeds queries and searches the store.
type Engine struct {
	embedder embedding.Client
	gateway  store.Gateway
	logger   *slog.Logger
}

// New wires an Engine. logger may be nil.
func New(embedder embedding.Client, gateway store.Gateway, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		embedder: embedder,
		gateway:  gateway,
		logger:   logger.With("component", "query"),
	}
}

// Single searches the chunks of one file.
func (e *Engine) Single(ctx context.Context, req Request) ([]Match, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, errors.New(errors.CodeQueryInvalidInput, "query must not be empty")
	}
	if strings.TrimSpace(req.FileID) == "" {
		return nil, errors.New(errors.CodeQueryInvalidInput, "file_id is required")
	}

	filter := store.SearchFilter{
		Equals: map[string]string{store.MetaFileID: req.FileID},
	}
	if req.EntityID != "" {
		filter.Equals[store.MetaEntityID] = req.EntityID
	}
	return e.search(ctx, req, &filter)
}

// Multiple searches across a set of files at once.
func (e *Engine) Multiple(ctx context.Context, req Request) ([]Match, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, errors.New(errors.CodeQueryInvalidInput, "query must not be empty")
	}
	if len(req.FileIDs) == 0 {
		return nil, errors.New(errors.CodeQueryInvalidInput, "file_ids must not be empty")
	}

	filter := store.SearchFilter{
		In: map[string][]string{store.MetaFileID: req.FileIDs},
	}
	return e.search(ctx, req, &filter)
}

func (e *Engine) search(ctx context.Context, req Request, filter *store.SearchFilter) ([]Match, error) {
	topK := clampTopK(req.TopK)

	vector, err := e.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	scored, err := e.gateway.SimilaritySearch(ctx, vector, topK, filter)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, len(scored))
	for i, s := range scored {
		matches[i] = Match{
			VectorID: s.Record.VectorID,
			Content:  s.Record.Content,
			Metadata: s.Record.Metadata,
			Score:    s.Score,
		}
	}
	e.logger.Debug("search complete", "top_k", topK, "matches", len(matches))
	return matches, nil
}

func clampTopK(k int) int {
	if k <= 0 {
		return DefaultTopK
	}
	return min(k, MaxTopK)
}
