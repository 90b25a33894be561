// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quarry Contributors

// Package sqlite implements store.Gateway backed by SQLite with the
// sqlite-vec extension. Embeddings live in a vec0 virtual table keyed
// by vector id; content and metadata live in a companion chunks table
// with a secondary index on file_id.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/quarry-dev/quarry/internal/store"
	quarryerr "github.com/quarry-dev/quarry/pkg/errors"
)

func init() {
	sqlite_vec.Auto()
}

// Compile-time interface check.
var _ store.Gateway = (*Gateway)(nil)

// Gateway implements store.Gateway over SQLite + sqlite-vec.
type Gateway struct {
	db         *sql.DB
	collection string
	dimensions int
}

// New opens (or creates) the database at dsn and initialises the vec0
// virtual table and companion chunks table. collection scopes records
// written by this gateway; dimensions fixes the embedding width.
func New(dsn, collection string, dimensions int) (*Gateway, error) {
	if dsn == "" {
		return nil, quarryerr.New(quarryerr.CodeStoreNotConfigured, "storage dsn is empty")
	}
	if dimensions <= 0 {
		return nil, quarryerr.Errorf(quarryerr.CodeStoreInvalidInput, "embedding dimensions must be positive, got %d", dimensions)
	}

	db, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "opening sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "pinging sqlite db: %w", err)
	}

	if err := migrate(db, dimensions); err != nil {
		_ = db.Close()
		return nil, quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "migrating chunk tables: %w", err)
	}

	return &Gateway{db: db, collection: collection, dimensions: dimensions}, nil
}

func migrate(db *sql.DB, dimensions int) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS chunks (
	vector_id  TEXT PRIMARY KEY,
	collection TEXT NOT NULL,
	file_id    TEXT NOT NULL,
	content    TEXT NOT NULL,
	metadata   TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chunks_file_id ON chunks(file_id);
CREATE INDEX IF NOT EXISTS idx_chunks_collection ON chunks(collection);
`
	if _, err := db.Exec(ddl); err != nil {
		return fmt.Errorf("creating chunks table: %w", err)
	}

	vecDDL := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS chunk_vectors USING vec0(vector_id TEXT PRIMARY KEY, embedding float[%d])`,
		dimensions,
	)
	if _, err := db.Exec(vecDDL); err != nil {
		return fmt.Errorf("creating chunk_vectors virtual table: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (g *Gateway) Close() error {
	return g.db.Close()
}

// Ping checks backend connectivity.
func (g *Gateway) Ping(ctx context.Context) error {
	if err := g.db.PingContext(ctx); err != nil {
		return quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "pinging backend: %w", err)
	}
	return nil
}

// ListIDs returns every vector id in the store.
func (g *Gateway) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := g.db.QueryContext(ctx, `SELECT vector_id FROM chunks ORDER BY vector_id`)
	if err != nil {
		return nil, quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "listing vector ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "scanning vector id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "iterating vector ids: %w", err)
	}
	return ids, nil
}

// FilterExistingIDs returns the subset of ids present in the store.
func (g *Gateway) FilterExistingIDs(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	q := `SELECT vector_id FROM chunks WHERE vector_id IN (` + placeholders(len(ids)) + `)`
	rows, err := g.db.QueryContext(ctx, q, toAny(ids)...)
	if err != nil {
		return nil, quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "filtering vector ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var existing []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "scanning vector id: %w", err)
		}
		existing = append(existing, id)
	}
	if err := rows.Err(); err != nil {
		return nil, quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "iterating vector ids: %w", err)
	}
	return existing, nil
}

// GetByIDs returns records for the ids that exist; absent ids are
// silently omitted. Embeddings are not materialized.
func (g *Gateway) GetByIDs(ctx context.Context, ids []string) ([]store.ChunkRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	q := `SELECT vector_id, content, metadata FROM chunks WHERE vector_id IN (` + placeholders(len(ids)) + `)`
	rows, err := g.db.QueryContext(ctx, q, toAny(ids)...)
	if err != nil {
		return nil, quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "getting chunks by ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []store.ChunkRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "iterating chunks: %w", err)
	}
	return records, nil
}

// DeleteByIDs removes records by id. Unknown ids are a no-op. When
// collectionOnly is set, only records in this gateway's collection are
// touched.
func (g *Gateway) DeleteByIDs(ctx context.Context, ids []string, collectionOnly bool) error {
	if len(ids) == 0 {
		return nil
	}

	target := ids
	if collectionOnly {
		q := `SELECT vector_id FROM chunks WHERE collection = ? AND vector_id IN (` + placeholders(len(ids)) + `)`
		args := append([]any{g.collection}, toAny(ids)...)
		rows, err := g.db.QueryContext(ctx, q, args...)
		if err != nil {
			return quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "scoping delete to collection: %w", err)
		}
		target = nil
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "scanning scoped id: %w", err)
			}
			target = append(target, id)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "iterating scoped ids: %w", err)
		}
		_ = rows.Close()
		if len(target) == 0 {
			return nil
		}
	}

	_, err := g.deleteIDsTx(ctx, target)
	return err
}

// DeleteByFileIDs removes every record belonging to the given files
// and returns the number removed.
func (g *Gateway) DeleteByFileIDs(ctx context.Context, fileIDs []string) (int, error) {
	if len(fileIDs) == 0 {
		return 0, nil
	}

	q := `SELECT vector_id FROM chunks WHERE file_id IN (` + placeholders(len(fileIDs)) + `)`
	rows, err := g.db.QueryContext(ctx, q, toAny(fileIDs)...)
	if err != nil {
		return 0, quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "finding chunks by file ids: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return 0, quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "scanning vector id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "iterating vector ids: %w", err)
	}
	_ = rows.Close()

	if len(ids) == 0 {
		return 0, nil
	}

	return g.deleteIDsTx(ctx, ids)
}

// deleteIDsTx removes the given ids from both tables in one
// transaction and returns how many chunk rows went away.
func (g *Gateway) deleteIDsTx(ctx context.Context, ids []string) (int, error) {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "beginning delete transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ph := placeholders(len(ids))
	args := toAny(ids)

	res, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE vector_id IN (`+ph+`)`, args...)
	if err != nil {
		return 0, quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "deleting chunks: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunk_vectors WHERE vector_id IN (`+ph+`)`, args...); err != nil {
		return 0, quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "deleting chunk vectors: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "committing delete: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "counting deleted rows: %w", err)
	}
	return int(n), nil
}

// ChunkDigestsByFileID maps vector id to chunk digest for all records
// of a file; empty map if the file is unknown.
func (g *Gateway) ChunkDigestsByFileID(ctx context.Context, fileID string) (map[string]string, error) {
	digests := make(map[string]string)
	if fileID == "" {
		return digests, nil
	}

	const q = `SELECT vector_id, json_extract(metadata, '$.chunk_digest') FROM chunks WHERE file_id = ?`
	rows, err := g.db.QueryContext(ctx, q, fileID)
	if err != nil {
		return nil, quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "getting chunk digests for %s: %w", fileID, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id string
		var d sql.NullString
		if err := rows.Scan(&id, &d); err != nil {
			return nil, quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "scanning chunk digest: %w", err)
		}
		if d.Valid && d.String != "" {
			digests[id] = d.String
		}
	}
	if err := rows.Err(); err != nil {
		return nil, quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "iterating chunk digests: %w", err)
	}
	return digests, nil
}

// AddRecords persists a batch in one transaction and returns the
// vector ids in input order. Existing ids are upserted.
func (g *Gateway) AddRecords(ctx context.Context, records []store.ChunkRecord) ([]string, error) {
	if len(records) == 0 {
		return nil, nil
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "beginning add transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	ids := make([]string, 0, len(records))

	for _, rec := range records {
		if rec.VectorID == "" {
			return nil, quarryerr.New(quarryerr.CodeStoreInvalidInput, "record is missing a vector id")
		}
		if len(rec.Embedding) != g.dimensions {
			return nil, quarryerr.Errorf(quarryerr.CodeStoreInvalidInput,
				"embedding for %s has %d dimensions, want %d", rec.VectorID, len(rec.Embedding), g.dimensions)
		}

		blob, err := sqlite_vec.SerializeFloat32(rec.Embedding)
		if err != nil {
			return nil, quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "serializing embedding %s: %w", rec.VectorID, err)
		}

		metaJSON := []byte("{}")
		if len(rec.Metadata) > 0 {
			metaJSON, err = json.Marshal(rec.Metadata)
			if err != nil {
				return nil, quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "marshalling metadata %s: %w", rec.VectorID, err)
			}
		}

		fileID, _ := rec.Metadata[store.MetaFileID].(string)

		const chunkQ = `INSERT INTO chunks (vector_id, collection, file_id, content, metadata, created_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(vector_id) DO UPDATE SET
	content = excluded.content,
	metadata = excluded.metadata`
		if _, err := tx.ExecContext(ctx, chunkQ, rec.VectorID, g.collection, fileID, rec.Content, string(metaJSON), now); err != nil {
			return nil, quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "inserting chunk %s: %w", rec.VectorID, err)
		}

		// vec0 does not support ON CONFLICT; delete first for upsert.
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunk_vectors WHERE vector_id = ?`, rec.VectorID); err != nil {
			return nil, quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "replacing vector %s: %w", rec.VectorID, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO chunk_vectors(vector_id, embedding) VALUES (?, ?)`, rec.VectorID, blob); err != nil {
			return nil, quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "inserting vector %s: %w", rec.VectorID, err)
		}

		ids = append(ids, rec.VectorID)
	}

	if err := tx.Commit(); err != nil {
		return nil, quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "committing add batch: %w", err)
	}
	return ids, nil
}

// SimilaritySearch returns the k nearest records matching filter,
// ordered by ascending distance (lower score = more similar).
func (g *Gateway) SimilaritySearch(ctx context.Context, embedding []float32, k int, filter *store.SearchFilter) ([]store.ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}
	if len(embedding) != g.dimensions {
		return nil, quarryerr.Errorf(quarryerr.CodeStoreInvalidInput,
			"query embedding has %d dimensions, want %d", len(embedding), g.dimensions)
	}

	blob, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return nil, quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "serializing query vector: %w", err)
	}

	// Metadata filtering happens against the chunks table first; the
	// KNN scan is then restricted to the matching ids.
	var candidateClause string
	var candidateArgs []any
	if filter != nil && (len(filter.Equals) > 0 || len(filter.In) > 0) {
		ids, err := g.filterIDs(ctx, filter)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return nil, nil
		}
		candidateClause = ` AND v.vector_id IN (` + placeholders(len(ids)) + `)`
		candidateArgs = toAny(ids)
	}

	q := `SELECT v.vector_id, v.distance, c.content, c.metadata
FROM chunk_vectors v
JOIN chunks c ON c.vector_id = v.vector_id
WHERE v.embedding MATCH ? AND k = ?` + candidateClause + `
ORDER BY v.distance`

	args := append([]any{blob, k}, candidateArgs...)
	rows, err := g.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "searching chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []store.ScoredChunk
	for rows.Next() {
		var sc store.ScoredChunk
		var metaStr string
		if err := rows.Scan(&sc.Record.VectorID, &sc.Score, &sc.Record.Content, &metaStr); err != nil {
			return nil, quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "scanning search result: %w", err)
		}
		if metaStr != "" && metaStr != "{}" {
			if err := json.Unmarshal([]byte(metaStr), &sc.Record.Metadata); err != nil {
				return nil, quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "unmarshalling result metadata: %w", err)
			}
		}
		results = append(results, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "iterating search results: %w", err)
	}
	return results, nil
}

// filterIDs resolves a SearchFilter to the matching vector ids.
// file_id constraints hit the indexed column; everything else goes
// through json_extract on the metadata blob.
func (g *Gateway) filterIDs(ctx context.Context, filter *store.SearchFilter) ([]string, error) {
	var qb strings.Builder
	var args []any

	qb.WriteString(`SELECT vector_id FROM chunks WHERE 1=1`)

	for key, val := range filter.Equals {
		if key == store.MetaFileID {
			qb.WriteString(` AND file_id = ?`)
			args = append(args, val)
			continue
		}
		qb.WriteString(` AND json_extract(metadata, ?) = ?`)
		args = append(args, "$."+key, val)
	}

	for key, vals := range filter.In {
		if len(vals) == 0 {
			return nil, nil
		}
		if key == store.MetaFileID {
			qb.WriteString(` AND file_id IN (` + placeholders(len(vals)) + `)`)
		} else {
			qb.WriteString(` AND json_extract(metadata, ?) IN (` + placeholders(len(vals)) + `)`)
			args = append(args, "$."+key)
		}
		args = append(args, toAny(vals)...)
	}

	rows, err := g.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "resolving search filter: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "scanning filtered id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "iterating filtered ids: %w", err)
	}
	return ids, nil
}

// Paginate lists chunks with filtering, ordering, and clamped
// pagination. page is clamped to >= 1, pageSize to [1,200]; unknown
// order_by columns fall back to vector_id; any sort other than "desc"
// is ascending.
func (g *Gateway) Paginate(ctx context.Context, q store.PageQuery) (*store.Page, error) {
	page := max(q.Page, 1)
	size := min(max(q.PageSize, 1), 200)

	var where strings.Builder
	var args []any
	where.WriteString(` WHERE 1=1`)

	if q.FileID != "" {
		where.WriteString(` AND file_id = ?`)
		args = append(args, q.FileID)
	}
	if q.EntityID != "" {
		where.WriteString(` AND json_extract(metadata, '$.entity_id') = ?`)
		args = append(args, q.EntityID)
	}
	if q.UserID != "" {
		where.WriteString(` AND json_extract(metadata, '$.user_id') = ?`)
		args = append(args, q.UserID)
	}

	var total int
	if err := g.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`+where.String(), args...).Scan(&total); err != nil {
		return nil, quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "counting chunks: %w", err)
	}

	orderCol := map[string]string{
		"vector_id":   "vector_id",
		"file_id":     "file_id",
		"created_at":  "created_at",
		"chunk_index": "CAST(json_extract(metadata, '$.chunk_index') AS INTEGER)",
	}[strings.ToLower(q.OrderBy)]
	if orderCol == "" {
		orderCol = "vector_id"
	}

	dir := "ASC"
	if strings.EqualFold(q.Sort, "desc") {
		dir = "DESC"
	}

	listQ := `SELECT vector_id, content, metadata FROM chunks` + where.String() +
		` ORDER BY ` + orderCol + ` ` + dir + ` LIMIT ? OFFSET ?`
	listArgs := append(append([]any{}, args...), size, (page-1)*size)

	rows, err := g.db.QueryContext(ctx, listQ, listArgs...)
	if err != nil {
		return nil, quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "listing chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	items := make([]store.PageItem, 0, size)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, store.PageItem{VectorID: rec.VectorID, Content: rec.Content, Metadata: rec.Metadata})
	}
	if err := rows.Err(); err != nil {
		return nil, quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "iterating chunk page: %w", err)
	}

	return &store.Page{Items: items, Total: total, Page: page, PageSize: size}, nil
}

func scanRecord(rows *sql.Rows) (store.ChunkRecord, error) {
	var rec store.ChunkRecord
	var metaStr string
	if err := rows.Scan(&rec.VectorID, &rec.Content, &metaStr); err != nil {
		return rec, quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "scanning chunk: %w", err)
	}
	if metaStr != "" && metaStr != "{}" {
		if err := json.Unmarshal([]byte(metaStr), &rec.Metadata); err != nil {
			return rec, quarryerr.Errorf(quarryerr.CodeStoreDatabaseFailure, "unmarshalling chunk metadata: %w", err)
		}
	}
	return rec, nil
}

func placeholders(n int) string {
	ph := strings.Repeat("?,", n)
	return ph[:len(ph)-1]
}

func toAny[S ~[]E, E any](vals S) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = v
	}
	return out
}
