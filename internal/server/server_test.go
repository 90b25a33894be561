// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quarry Contributors

package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarry-dev/quarry/internal/ingest"
	"github.com/quarry-dev/quarry/internal/query"
	"github.com/quarry-dev/quarry/internal/server"
	"github.com/quarry-dev/quarry/internal/store"
	quarryerr "github.com/quarry-dev/quarry/pkg/errors"
)

type fakeIngestor struct {
	got    ingest.Request
	result *ingest.Result
	err    error
}

func (f *fakeIngestor) IngestObject(_ context.Context, req ingest.Request) (*ingest.Result, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &ingest.Result{FileID: req.FileID}, nil
}

type fakeQueries struct {
	matches []query.Match
	err     error
}

func (f *fakeQueries) Single(_ context.Context, req query.Request) ([]query.Match, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, quarryerr.New(quarryerr.CodeQueryInvalidInput, "query must not be empty")
	}
	return f.matches, f.err
}

func (f *fakeQueries) Multiple(_ context.Context, req query.Request) ([]query.Match, error) {
	if len(req.FileIDs) == 0 {
		return nil, quarryerr.New(quarryerr.CodeQueryInvalidInput, "file_ids must not be empty")
	}
	return f.matches, f.err
}

type fakeGateway struct {
	store.Gateway

	records map[string]store.ChunkRecord
	pingErr error
	deleted []string
}

func (g *fakeGateway) Ping(context.Context) error { return g.pingErr }

func (g *fakeGateway) GetByIDs(_ context.Context, ids []string) ([]store.ChunkRecord, error) {
	var out []store.ChunkRecord
	for _, id := range ids {
		if rec, ok := g.records[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (g *fakeGateway) FilterExistingIDs(_ context.Context, ids []string) ([]string, error) {
	var out []string
	for _, id := range ids {
		if _, ok := g.records[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (g *fakeGateway) DeleteByIDs(_ context.Context, ids []string, _ bool) error {
	g.deleted = append(g.deleted, ids...)
	for _, id := range ids {
		delete(g.records, id)
	}
	return nil
}

func (g *fakeGateway) Paginate(_ context.Context, q store.PageQuery) (*store.Page, error) {
	return &store.Page{Items: []store.PageItem{}, Page: max(q.Page, 1), PageSize: q.PageSize}, nil
}

func newTestServer(t *testing.T, ing *fakeIngestor, q *fakeQueries, gw *fakeGateway) *server.Server {
	t.Helper()
	if ing == nil {
		ing = &fakeIngestor{}
	}
	if q == nil {
		q = &fakeQueries{}
	}
	if gw == nil {
		gw = &fakeGateway{records: map[string]store.ChunkRecord{}}
	}
	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0"}, server.NewServicesForTest(ing, q, gw), nil)
	require.NoError(t, err)
	return srv
}

func doRequest(t *testing.T, srv *server.Server, method, path string, body string, withUser bool) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if withUser {
		req.Header.Set(server.UserIDHeader, "u1")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewRequiresListenAndServices(t *testing.T) {
	_, err := server.New(server.Config{}, nil, nil)
	assert.Error(t, err)

	_, err = server.New(server.Config{ListenAddr: "127.0.0.1:0"}, nil, nil)
	assert.Error(t, err)
}

func TestHealthOpenWithoutUserHeader(t *testing.T) {
	srv := newTestServer(t, nil, nil, nil)

	rec := doRequest(t, srv, http.MethodGet, "/health", "", false)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status  string `json:"status"`
		Backend struct {
			Reachable bool `json:"reachable"`
		} `json:"backend"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.True(t, body.Backend.Reachable)
}

func TestHealthDegradedWhenBackendDown(t *testing.T) {
	gw := &fakeGateway{records: map[string]store.ChunkRecord{}, pingErr: quarryerr.New(quarryerr.CodeStoreDatabaseFailure, "locked")}
	srv := newTestServer(t, nil, nil, gw)

	rec := doRequest(t, srv, http.MethodGet, "/health", "", false)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
}

func TestMissingUserHeaderRejected(t *testing.T) {
	srv := newTestServer(t, nil, nil, nil)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/documents"},
		{http.MethodGet, "/chunks"},
		{http.MethodPost, "/embed"},
		{http.MethodPost, "/query"},
	} {
		rec := doRequest(t, srv, tc.method, tc.path, "", false)
		require.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", tc.method, tc.path)

		var body struct {
			Code string `json:"code"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, string(quarryerr.CodeServerAuthUnauthorized), body.Code)
	}
}

func TestGetDocuments(t *testing.T) {
	gw := &fakeGateway{records: map[string]store.ChunkRecord{
		"f1:a": {VectorID: "f1:a", Content: "alpha", Metadata: map[string]any{"file_id": "f1"}},
	}}
	srv := newTestServer(t, nil, nil, gw)

	rec := doRequest(t, srv, http.MethodGet, "/documents?ids=f1:a,f1:missing", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Documents []struct {
			VectorID string `json:"vector_id"`
			Content  string `json:"content"`
		} `json:"documents"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Documents, 1)
	assert.Equal(t, "f1:a", body.Documents[0].VectorID)
	assert.Equal(t, "alpha", body.Documents[0].Content)
}

func TestDeleteDocumentsCountsOnlyExisting(t *testing.T) {
	gw := &fakeGateway{records: map[string]store.ChunkRecord{
		"f1:a": {VectorID: "f1:a"},
	}}
	srv := newTestServer(t, nil, nil, gw)

	rec := doRequest(t, srv, http.MethodDelete, "/documents", `{"ids":["f1:a","f1:ghost"]}`, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		DeletedCount int `json:"deleted_count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.DeletedCount)
	assert.Equal(t, []string{"f1:a"}, gw.deleted)
}

func TestDeleteDocumentsUnknownIDs(t *testing.T) {
	srv := newTestServer(t, nil, nil, nil)

	rec := doRequest(t, srv, http.MethodDelete, "/documents", `{"ids":["nope"]}`, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		DeletedCount int `json:"deleted_count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 0, body.DeletedCount)
}

func TestQueryEmptyRejected(t *testing.T) {
	srv := newTestServer(t, nil, &fakeQueries{}, nil)

	rec := doRequest(t, srv, http.MethodPost, "/query", `{"query":"  ","file_id":"f1"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryReturnsMatches(t *testing.T) {
	q := &fakeQueries{matches: []query.Match{
		{VectorID: "f1:a", Content: "alpha", Score: 0.12},
	}}
	srv := newTestServer(t, nil, q, nil)

	rec := doRequest(t, srv, http.MethodPost, "/query", `{"query":"alpha","file_id":"f1","top_k":2}`, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Matches []query.Match `json:"matches"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Matches, 1)
	assert.Equal(t, "f1:a", body.Matches[0].VectorID)
}

func TestQueryMultiple(t *testing.T) {
	q := &fakeQueries{matches: []query.Match{{VectorID: "f1:a"}}}
	srv := newTestServer(t, nil, q, nil)

	rec := doRequest(t, srv, http.MethodPost, "/query-multiple", `{"query":"alpha","file_ids":["f1","f2"]}`, true)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/query-multiple", `{"query":"alpha","file_ids":[]}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEmbedFormRoute(t *testing.T) {
	ing := &fakeIngestor{result: &ingest.Result{FileID: "f1", EmbeddedChunks: 3}}
	srv := newTestServer(t, ing, nil, nil)

	form := url.Values{}
	form.Set("file_id", "f1")
	form.Set("bucket", "docs")
	form.Set("object_path", "a.txt")
	form.Set("cleanup_method", "full")

	req := httptest.NewRequest(http.MethodPost, "/embed", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(server.UserIDHeader, "u7")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "f1", ing.got.FileID)
	assert.Equal(t, "docs", ing.got.Bucket)
	assert.Equal(t, "a.txt", ing.got.ObjectPath)
	assert.Equal(t, ingest.CleanupFull, ing.got.Cleanup)
	assert.Equal(t, "u7", ing.got.UserID)

	var body ingest.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body.EmbeddedChunks)
}

func TestEmbedNotFoundMapsTo404(t *testing.T) {
	ing := &fakeIngestor{err: quarryerr.New(quarryerr.CodeObjectNotFound, "object not found")}
	srv := newTestServer(t, ing, nil, nil)

	form := url.Values{}
	form.Set("file_id", "f1")
	form.Set("bucket", "docs")
	form.Set("object_path", "missing.txt")

	req := httptest.NewRequest(http.MethodPost, "/embed", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(server.UserIDHeader, "u1")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)

	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(quarryerr.CodeObjectNotFound), body.Code)
}

func TestListChunksPassesFilters(t *testing.T) {
	srv := newTestServer(t, nil, nil, nil)

	rec := doRequest(t, srv, http.MethodGet, "/chunks?page=2&page_size=10&file_id=f1&order_by=created_at&sort=desc", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var body store.Page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Page)
}
