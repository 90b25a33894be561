// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quarry Contributors

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/quarry-dev/quarry/internal/ingest"
	"github.com/quarry-dev/quarry/internal/query"
	"github.com/quarry-dev/quarry/internal/store"
	quarryerr "github.com/quarry-dev/quarry/pkg/errors"
	"github.com/quarry-dev/quarry/pkg/health"
)

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"system"},
	}, s.handleHealth)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-documents",
		Method:      http.MethodGet,
		Path:        "/documents",
		Summary:     "Fetch stored chunks by vector id",
		Tags:        []string{"documents"},
	}, s.handleGetDocuments)

	huma.Register(s.api, huma.Operation{
		OperationID: "delete-documents",
		Method:      http.MethodDelete,
		Path:        "/documents",
		Summary:     "Delete stored chunks by vector id",
		Tags:        []string{"documents"},
	}, s.handleDeleteDocuments)

	huma.Register(s.api, huma.Operation{
		OperationID: "list-chunks",
		Method:      http.MethodGet,
		Path:        "/chunks",
		Summary:     "List stored chunks with pagination",
		Tags:        []string{"documents"},
	}, s.handleListChunks)

	huma.Register(s.api, huma.Operation{
		OperationID: "query",
		Method:      http.MethodPost,
		Path:        "/query",
		Summary:     "Similarity search within one file",
		Tags:        []string{"query"},
	}, s.handleQuery)

	huma.Register(s.api, huma.Operation{
		OperationID: "query-multiple",
		Method:      http.MethodPost,
		Path:        "/query-multiple",
		Summary:     "Similarity search across several files",
		Tags:        []string{"query"},
	}, s.handleQueryMultiple)

	// Form-encoded ingestion endpoint, kept off huma so multipart and
	// urlencoded bodies both work.
	s.router.Post("/embed", s.handleEmbed)
}

// --- Request/Response types for huma ---

type healthOutput struct {
	Body health.Status
}

type getDocumentsInput struct {
	IDs []string `query:"ids" doc:"Vector ids to fetch"`
}
type getDocumentsOutput struct {
	Body struct {
		Documents []documentBody `json:"documents"`
	}
}

type documentBody struct {
	VectorID string         `json:"vector_id" doc:"Chunk vector id"`
	Content  string         `json:"content" doc:"Chunk text"`
	Metadata map[string]any `json:"metadata" doc:"Chunk metadata"`
}

type deleteDocumentsInput struct {
	Body struct {
		IDs []string `json:"ids" doc:"Vector ids to delete"`
	}
}
type deleteDocumentsOutput struct {
	Body struct {
		DeletedCount int `json:"deleted_count" doc:"Number of chunks removed"`
	}
}

type listChunksInput struct {
	Page     int    `query:"page" doc:"Page number, 1-based"`
	PageSize int    `query:"page_size" doc:"Page size, capped at 200"`
	FileID   string `query:"file_id" doc:"Filter by file id"`
	EntityID string `query:"entity_id" doc:"Filter by entity id"`
	UserID   string `query:"user_id" doc:"Filter by user id"`
	OrderBy  string `query:"order_by" doc:"Sort column"`
	Sort     string `query:"sort" doc:"asc or desc"`
}
type listChunksOutput struct {
	Body store.Page
}

type queryInput struct {
	Body struct {
		Query    string `json:"query" doc:"Search text"`
		FileID   string `json:"file_id" doc:"File to search"`
		EntityID string `json:"entity_id,omitempty" doc:"Optional entity scope"`
		TopK     int    `json:"top_k,omitempty" doc:"Result count, default 4"`
	}
}

type queryMultipleInput struct {
	Body struct {
		Query   string   `json:"query" doc:"Search text"`
		FileIDs []string `json:"file_ids" doc:"Files to search"`
		TopK    int      `json:"top_k,omitempty" doc:"Result count, default 4"`
	}
}

type queryOutput struct {
	Body struct {
		Matches []query.Match `json:"matches"`
	}
}

// --- Handlers ---

func (s *Server) handleHealth(ctx context.Context, _ *struct{}) (*healthOutput, error) {
	start := time.Now()
	err := s.services.Gateway().Ping(ctx)

	backend := health.Backend{
		Reachable: err == nil,
		CheckedAt: time.Now().UTC(),
		LatencyMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		backend.Error = err.Error()
	}

	status := health.Status{Status: "ok", Backend: backend}
	if !status.Healthy() {
		status.Status = "degraded"
	}
	return &healthOutput{Body: status}, nil
}

func (s *Server) handleGetDocuments(ctx context.Context, input *getDocumentsInput) (*getDocumentsOutput, error) {
	records, err := s.services.Gateway().GetByIDs(ctx, input.IDs)
	if err != nil {
		return nil, asAPIError(err)
	}

	out := &getDocumentsOutput{}
	out.Body.Documents = make([]documentBody, len(records))
	for i, rec := range records {
		out.Body.Documents[i] = documentBody{
			VectorID: rec.VectorID,
			Content:  rec.Content,
			Metadata: rec.Metadata,
		}
	}
	return out, nil
}

func (s *Server) handleDeleteDocuments(ctx context.Context, input *deleteDocumentsInput) (*deleteDocumentsOutput, error) {
	gw := s.services.Gateway()

	// Ids absent from the store are not an error; report how many
	// actually existed and were removed.
	existing, err := gw.FilterExistingIDs(ctx, input.Body.IDs)
	if err != nil {
		return nil, asAPIError(err)
	}
	if len(existing) > 0 {
		if err := gw.DeleteByIDs(ctx, existing, true); err != nil {
			return nil, asAPIError(err)
		}
	}

	out := &deleteDocumentsOutput{}
	out.Body.DeletedCount = len(existing)
	return out, nil
}

func (s *Server) handleListChunks(ctx context.Context, input *listChunksInput) (*listChunksOutput, error) {
	page, err := s.services.Gateway().Paginate(ctx, store.PageQuery{
		Page:     input.Page,
		PageSize: input.PageSize,
		FileID:   input.FileID,
		EntityID: input.EntityID,
		UserID:   input.UserID,
		OrderBy:  input.OrderBy,
		Sort:     input.Sort,
	})
	if err != nil {
		return nil, asAPIError(err)
	}
	return &listChunksOutput{Body: *page}, nil
}

func (s *Server) handleQuery(ctx context.Context, input *queryInput) (*queryOutput, error) {
	matches, err := s.services.Queries().Single(ctx, query.Request{
		Query:    input.Body.Query,
		FileID:   input.Body.FileID,
		EntityID: input.Body.EntityID,
		TopK:     input.Body.TopK,
	})
	if err != nil {
		return nil, asAPIError(err)
	}

	out := &queryOutput{}
	out.Body.Matches = matches
	return out, nil
}

func (s *Server) handleQueryMultiple(ctx context.Context, input *queryMultipleInput) (*queryOutput, error) {
	matches, err := s.services.Queries().Multiple(ctx, query.Request{
		Query:   input.Body.Query,
		FileIDs: input.Body.FileIDs,
		TopK:    input.Body.TopK,
	})
	if err != nil {
		return nil, asAPIError(err)
	}

	out := &queryOutput{}
	out.Body.Matches = matches
	return out, nil
}

// handleEmbed accepts multipart or urlencoded form fields and kicks
// off an ingestion.
func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(r); err != nil {
		writeError(w, err)
		return
	}

	req := ingest.Request{
		FileID:      strings.TrimSpace(r.FormValue("file_id")),
		Bucket:      strings.TrimSpace(r.FormValue("bucket")),
		ObjectPath:  strings.TrimSpace(r.FormValue("object_path")),
		Filename:    strings.TrimSpace(r.FormValue("filename")),
		ContentType: strings.TrimSpace(r.FormValue("content_type")),
		EntityID:    strings.TrimSpace(r.FormValue("entity_id")),
		UserID:      UserID(r.Context()),
		Cleanup:     ingest.CleanupMethod(strings.TrimSpace(r.FormValue("cleanup_method"))),
	}

	result, err := s.services.Ingestor().IngestObject(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(result)
}

func parseForm(r *http.Request) error {
	ct := r.Header.Get("Content-Type")
	var err error
	if strings.HasPrefix(ct, "multipart/form-data") {
		err = r.ParseMultipartForm(1 << 20)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		return quarryerr.Wrap(err, quarryerr.CodeServerRequestInvalid, "parsing form body")
	}
	return nil
}

// apiError carries a machine code into huma error responses.
type apiError struct {
	status int
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

func (e *apiError) Error() string  { return e.Detail }
func (e *apiError) GetStatus() int { return e.status }

func asAPIError(err error) error {
	return &apiError{
		status: quarryerr.HTTPStatus(err),
		Code:   string(quarryerr.CodeOf(err)),
		Detail: err.Error(),
	}
}
