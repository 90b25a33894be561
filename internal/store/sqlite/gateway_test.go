// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quarry Contributors

package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarry-dev/quarry/internal/store"
	"github.com/quarry-dev/quarry/internal/store/sqlite"
	quarryerr "github.com/quarry-dev/quarry/pkg/errors"
)

const testDims = 4

func newGateway(t *testing.T) *sqlite.Gateway {
	t.Helper()
	g, err := sqlite.New(filepath.Join(t.TempDir(), "quarry.db"), "default", testDims)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func record(vectorID, fileID, content string, embedding []float32) store.ChunkRecord {
	return store.ChunkRecord{
		VectorID:  vectorID,
		Content:   content,
		Embedding: embedding,
		Metadata: map[string]any{
			store.MetaFileID:      fileID,
			store.MetaChunkDigest: vectorID[len(fileID)+1:],
			store.MetaEntityID:    "e1",
			store.MetaUserID:      "u1",
		},
	}
}

func seed(t *testing.T, g *sqlite.Gateway, records ...store.ChunkRecord) {
	t.Helper()
	ids, err := g.AddRecords(context.Background(), records)
	require.NoError(t, err)
	require.Len(t, ids, len(records))
}

func TestNewValidation(t *testing.T) {
	_, err := sqlite.New("", "default", testDims)
	require.Error(t, err)
	assert.True(t, quarryerr.IsNotConfigured(err))

	_, err = sqlite.New(filepath.Join(t.TempDir(), "q.db"), "default", 0)
	require.Error(t, err)
	assert.True(t, quarryerr.IsInvalidInput(err))
}

func TestPing(t *testing.T) {
	g := newGateway(t)
	assert.NoError(t, g.Ping(context.Background()))
}

func TestAddRecordsAndListIDs(t *testing.T) {
	g := newGateway(t)
	seed(t, g,
		record("f1:aaa", "f1", "alpha", []float32{1, 0, 0, 0}),
		record("f1:bbb", "f1", "beta", []float32{0, 1, 0, 0}),
	)

	ids, err := g.ListIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"f1:aaa", "f1:bbb"}, ids)
}

func TestAddRecordsRejectsWrongDimensions(t *testing.T) {
	g := newGateway(t)

	_, err := g.AddRecords(context.Background(), []store.ChunkRecord{
		record("f1:aaa", "f1", "alpha", []float32{1, 0}),
	})
	require.Error(t, err)
	assert.True(t, quarryerr.IsInvalidInput(err))

	ids, err := g.ListIDs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids, "failed batch must not persist anything")
}

func TestAddRecordsUpsert(t *testing.T) {
	g := newGateway(t)
	seed(t, g, record("f1:aaa", "f1", "alpha", []float32{1, 0, 0, 0}))
	seed(t, g, record("f1:aaa", "f1", "alpha v2", []float32{0, 0, 0, 1}))

	ids, err := g.ListIDs(context.Background())
	require.NoError(t, err)
	assert.Len(t, ids, 1)

	recs, err := g.GetByIDs(context.Background(), []string{"f1:aaa"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "alpha v2", recs[0].Content)
}

func TestFilterExistingIDs(t *testing.T) {
	g := newGateway(t)
	seed(t, g, record("f1:aaa", "f1", "alpha", []float32{1, 0, 0, 0}))

	existing, err := g.FilterExistingIDs(context.Background(), []string{"f1:aaa", "f1:ghost"})
	require.NoError(t, err)
	assert.Equal(t, []string{"f1:aaa"}, existing)

	existing, err = g.FilterExistingIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, existing)
}

func TestGetByIDsOmitsAbsent(t *testing.T) {
	g := newGateway(t)
	seed(t, g,
		record("f1:aaa", "f1", "alpha", []float32{1, 0, 0, 0}),
		record("f1:bbb", "f1", "beta", []float32{0, 1, 0, 0}),
	)

	recs, err := g.GetByIDs(context.Background(), []string{"f1:aaa", "f1:missing"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "f1:aaa", recs[0].VectorID)
	assert.Equal(t, "f1", recs[0].Metadata[store.MetaFileID])
}

func TestDeleteByIDs(t *testing.T) {
	g := newGateway(t)
	seed(t, g,
		record("f1:aaa", "f1", "alpha", []float32{1, 0, 0, 0}),
		record("f1:bbb", "f1", "beta", []float32{0, 1, 0, 0}),
	)

	require.NoError(t, g.DeleteByIDs(context.Background(), []string{"f1:aaa", "f1:ghost"}, false))

	ids, err := g.ListIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"f1:bbb"}, ids)

	// Empty input is a no-op.
	require.NoError(t, g.DeleteByIDs(context.Background(), nil, false))
}

func TestDeleteByIDsCollectionOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quarry.db")

	a, err := sqlite.New(path, "alpha", testDims)
	require.NoError(t, err)
	defer a.Close()
	seed(t, a, record("f1:aaa", "f1", "alpha", []float32{1, 0, 0, 0}))

	b, err := sqlite.New(path, "beta", testDims)
	require.NoError(t, err)
	defer b.Close()

	// A gateway scoped to another collection must not remove the record.
	require.NoError(t, b.DeleteByIDs(context.Background(), []string{"f1:aaa"}, true))
	ids, err := a.ListIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"f1:aaa"}, ids)

	require.NoError(t, a.DeleteByIDs(context.Background(), []string{"f1:aaa"}, true))
	ids, err = a.ListIDs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestDeleteByFileIDs(t *testing.T) {
	g := newGateway(t)
	seed(t, g,
		record("f1:aaa", "f1", "alpha", []float32{1, 0, 0, 0}),
		record("f1:bbb", "f1", "beta", []float32{0, 1, 0, 0}),
		record("f2:ccc", "f2", "gamma", []float32{0, 0, 1, 0}),
	)

	n, err := g.DeleteByFileIDs(context.Background(), []string{"f1"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ids, err := g.ListIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"f2:ccc"}, ids)
}

func TestDeleteByFileIDsEmptyInput(t *testing.T) {
	g := newGateway(t)

	n, err := g.DeleteByFileIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = g.DeleteByFileIDs(context.Background(), []string{"unknown"})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestChunkDigestsByFileID(t *testing.T) {
	g := newGateway(t)
	seed(t, g,
		record("f1:aaa", "f1", "alpha", []float32{1, 0, 0, 0}),
		record("f2:ccc", "f2", "gamma", []float32{0, 0, 1, 0}),
	)

	digests, err := g.ChunkDigestsByFileID(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"f1:aaa": "aaa"}, digests)

	digests, err = g.ChunkDigestsByFileID(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, digests)
}

func TestSimilaritySearchOrdersByDistance(t *testing.T) {
	g := newGateway(t)
	seed(t, g,
		record("f1:aaa", "f1", "alpha", []float32{1, 0, 0, 0}),
		record("f1:bbb", "f1", "beta", []float32{0, 1, 0, 0}),
		record("f1:ccc", "f1", "gamma", []float32{0.9, 0.1, 0, 0}),
	)

	results, err := g.SimilaritySearch(context.Background(), []float32{1, 0, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "f1:aaa", results[0].Record.VectorID)
	assert.Equal(t, "f1:ccc", results[1].Record.VectorID)
	assert.LessOrEqual(t, results[0].Score, results[1].Score)
}

func TestSimilaritySearchFileFilter(t *testing.T) {
	g := newGateway(t)
	seed(t, g,
		record("f1:aaa", "f1", "alpha", []float32{1, 0, 0, 0}),
		record("f2:ccc", "f2", "gamma", []float32{1, 0, 0, 0}),
	)

	filter := &store.SearchFilter{Equals: map[string]string{store.MetaFileID: "f2"}}
	results, err := g.SimilaritySearch(context.Background(), []float32{1, 0, 0, 0}, 10, filter)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "f2:ccc", results[0].Record.VectorID)
}

func TestSimilaritySearchSetMembershipFilter(t *testing.T) {
	g := newGateway(t)
	seed(t, g,
		record("f1:aaa", "f1", "alpha", []float32{1, 0, 0, 0}),
		record("f2:ccc", "f2", "gamma", []float32{0, 1, 0, 0}),
		record("f3:ddd", "f3", "delta", []float32{0, 0, 1, 0}),
	)

	filter := &store.SearchFilter{In: map[string][]string{store.MetaFileID: {"f1", "f2"}}}
	results, err := g.SimilaritySearch(context.Background(), []float32{1, 0, 0, 0}, 10, filter)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.NotEqual(t, "f3:ddd", r.Record.VectorID)
	}
}

func TestSimilaritySearchNoFilterMatches(t *testing.T) {
	g := newGateway(t)
	seed(t, g, record("f1:aaa", "f1", "alpha", []float32{1, 0, 0, 0}))

	filter := &store.SearchFilter{Equals: map[string]string{store.MetaFileID: "ghost"}}
	results, err := g.SimilaritySearch(context.Background(), []float32{1, 0, 0, 0}, 10, filter)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSimilaritySearchWrongDimensions(t *testing.T) {
	g := newGateway(t)

	_, err := g.SimilaritySearch(context.Background(), []float32{1, 0}, 4, nil)
	require.Error(t, err)
	assert.True(t, quarryerr.IsInvalidInput(err))
}

func TestPaginateClamps(t *testing.T) {
	g := newGateway(t)
	seed(t, g,
		record("f1:aaa", "f1", "alpha", []float32{1, 0, 0, 0}),
		record("f1:bbb", "f1", "beta", []float32{0, 1, 0, 0}),
	)

	page, err := g.Paginate(context.Background(), store.PageQuery{Page: 0, PageSize: 500})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 200, page.PageSize)
	assert.Equal(t, 2, page.Total)
	assert.Len(t, page.Items, 2)
}

func TestPaginateFiltersAndOrder(t *testing.T) {
	g := newGateway(t)
	seed(t, g,
		record("f1:aaa", "f1", "alpha", []float32{1, 0, 0, 0}),
		record("f1:bbb", "f1", "beta", []float32{0, 1, 0, 0}),
		record("f2:ccc", "f2", "gamma", []float32{0, 0, 1, 0}),
	)

	page, err := g.Paginate(context.Background(), store.PageQuery{
		Page: 1, PageSize: 10, FileID: "f1", OrderBy: "vector_id", Sort: "desc",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "f1:bbb", page.Items[0].VectorID)
	assert.Equal(t, "f1:aaa", page.Items[1].VectorID)
}

func TestPaginateUnknownOrderByFallsBack(t *testing.T) {
	g := newGateway(t)
	seed(t, g,
		record("f1:bbb", "f1", "beta", []float32{0, 1, 0, 0}),
		record("f1:aaa", "f1", "alpha", []float32{1, 0, 0, 0}),
	)

	page, err := g.Paginate(context.Background(), store.PageQuery{Page: 1, PageSize: 10, OrderBy: "evil; DROP TABLE chunks"})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "f1:aaa", page.Items[0].VectorID)
}

func TestPaginateSecondPage(t *testing.T) {
	g := newGateway(t)
	seed(t, g,
		record("f1:aaa", "f1", "alpha", []float32{1, 0, 0, 0}),
		record("f1:bbb", "f1", "beta", []float32{0, 1, 0, 0}),
		record("f1:ccc", "f1", "gamma", []float32{0, 0, 1, 0}),
	)

	page, err := g.Paginate(context.Background(), store.PageQuery{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "f1:ccc", page.Items[0].VectorID)
}
