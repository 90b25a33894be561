// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quarry Contributors

package server

import (
	"context"

	"github.com/quarry-dev/quarry/internal/ingest"
	"github.com/quarry-dev/quarry/internal/query"
	"github.com/quarry-dev/quarry/internal/store"
	quarryerr "github.com/quarry-dev/quarry/pkg/errors"
)

// IngestService runs the document ingestion pipeline for REST handlers.
type IngestService interface {
	IngestObject(ctx context.Context, req ingest.Request) (*ingest.Result, error)
}

// QueryService answers similarity searches for REST handlers.
type QueryService interface {
	Single(ctx context.Context, req query.Request) ([]query.Match, error)
	Multiple(ctx context.Context, req query.Request) ([]query.Match, error)
}

// Services holds dependencies injected into route handlers.
// Each field is an interface so subsystems can be mocked in tests.
// Use NewServices constructor to ensure all required services are provided.
type Services struct {
	ingestor IngestService
	queries  QueryService
	gateway  store.Gateway
}

// NewServices creates a Services instance with validation.
// Returns an error if any required service is nil.
func NewServices(ingestor IngestService, queries QueryService, gateway store.Gateway) (*Services, error) {
	if ingestor == nil {
		return nil, quarryerr.New(quarryerr.CodeServerInternalFailure, "ingest service is required")
	}
	if queries == nil {
		return nil, quarryerr.New(quarryerr.CodeServerInternalFailure, "query service is required")
	}
	if gateway == nil {
		return nil, quarryerr.New(quarryerr.CodeServerInternalFailure, "store gateway is required")
	}
	return &Services{
		ingestor: ingestor,
		queries:  queries,
		gateway:  gateway,
	}, nil
}

// Ingestor returns the ingest service.
func (s *Services) Ingestor() IngestService {
	return s.ingestor
}

// Queries returns the query service.
func (s *Services) Queries() QueryService {
	return s.queries
}

// Gateway returns the vector store gateway.
func (s *Services) Gateway() store.Gateway {
	return s.gateway
}

// NewServicesForTest creates a Services instance for testing.
// It delegates to NewServices to enforce the same validation invariants
// as production code. Panics if any required service is nil.
func NewServicesForTest(ingestor IngestService, queries QueryService, gateway store.Gateway) *Services {
	svc, err := NewServices(ingestor, queries, gateway)
	if err != nil {
		panic(err) // Test setup should provide all required services
	}
	return svc
}
