// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quarry Contributors

// Package openai implements embedding.Client against the OpenAI
// embeddings API or any compatible endpoint.
package openai

import (
	"context"
	"strings"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/quarry-dev/quarry/internal/embedding"
	"github.com/quarry-dev/quarry/pkg/errors"
)

// DefaultBatchSize bounds a single API request when the config does
// not set one. Larger inputs are split into sequential requests.
const DefaultBatchSize = 256

// Config holds the provider connection settings.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	BatchSize  int
}

// Client calls an OpenAI-compatible embeddings endpoint.
type Client struct {
	client openaisdk.Client
	config Config
}

var _ embedding.Client = (*Client)(nil)

// New builds a Client from cfg. BaseURL is optional and defaults to
// the public OpenAI API. Dimensions of zero lets the model decide.
func New(cfg Config) (*Client, error) {
	if cfg.Model == "" {
		return nil, errors.New(errors.CodeEmbedUpstreamFailure, "embedding model is not configured")
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	client := openaisdk.NewClient(opts...)
	return &Client{client: client, config: cfg}, nil
}

func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.config.BatchSize {
		end := min(start+c.config.BatchSize, len(texts))
		vectors, err := c.embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *Client) embed(ctx context.Context, texts []string) ([][]float32, error) {
	// Some embedding models degrade on raw newlines.
	normalized := make([]string, len(texts))
	for i, t := range texts {
		normalized[i] = strings.ReplaceAll(t, "\n", " ")
	}

	params := openaisdk.EmbeddingNewParams{
		Input: openaisdk.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: normalized,
		},
		Model: openaisdk.EmbeddingModel(c.config.Model),
	}
	if c.config.Dimensions > 0 {
		params.Dimensions = openaisdk.Int(int64(c.config.Dimensions))
	}

	resp, err := c.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeEmbedUpstreamFailure, "embeddings request failed",
			errors.Field("model", c.config.Model), errors.Field("batch_size", len(texts)))
	}
	if len(resp.Data) != len(texts) {
		return nil, errors.Errorf(errors.CodeEmbedUpstreamFailure,
			"embeddings response size mismatch: sent %d, got %d", len(texts), len(resp.Data))
	}

	vectors := make([][]float32, len(resp.Data))
	for _, item := range resp.Data {
		vec := make([]float32, len(item.Embedding))
		for j, v := range item.Embedding {
			vec[j] = float32(v)
		}
		vectors[item.Index] = vec
	}
	return vectors, nil
}
