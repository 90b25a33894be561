// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quarry Contributors

// Package digest computes stable content digests for chunks and diffs
// candidate chunk sequences against the digests already stored for a
// file. The digest doubles as the idempotency key: re-deriving it from
// identical content always yields the same vector id.
package digest

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// Candidate is a chunk accepted by Partition: new content that needs
// embedding and persistence.
type Candidate struct {
	Index  int    // position within the original chunk sequence, zero-based
	Text   string // trimmed chunk text
	Digest string
}

// Sum returns the hex digest of the trimmed chunk text. Trimming is the
// only normalization applied; interior whitespace is significant.
func Sum(text string) string {
	h := md5.Sum([]byte(strings.TrimSpace(text)))
	return hex.EncodeToString(h[:])
}

// VectorID derives the stable record key for a chunk of a file.
func VectorID(fileID, chunkDigest string) string {
	return fileID + ":" + chunkDigest
}

// Partition walks chunks in order and splits them into new candidates
// and a skipped count. A chunk is skipped when its digest is already in
// known; accepted digests are added to the working set, so duplicates
// within the same batch are skipped after their first occurrence.
// Whitespace-only chunks are dropped without counting either way.
// known is mutated.
func Partition(known map[string]struct{}, chunks []string) ([]Candidate, int) {
	var fresh []Candidate
	skipped := 0

	for i, chunk := range chunks {
		text := strings.TrimSpace(chunk)
		if text == "" {
			continue
		}

		d := Sum(text)
		if _, ok := known[d]; ok {
			skipped++
			continue
		}
		known[d] = struct{}{}

		fresh = append(fresh, Candidate{Index: i, Text: text, Digest: d})
	}

	return fresh, skipped
}
