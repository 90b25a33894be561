// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quarry Contributors

// Package splitter segments document text into overlapping chunks
// bounded by a maximum size. Splitting walks a layered separator
// hierarchy (paragraph, line, sentence, word, character) so chunk
// boundaries land on the most natural break available.
package splitter

import (
	"strings"

	quarryerr "github.com/quarry-dev/quarry/pkg/errors"
)

// separators is the split hierarchy, coarsest first. The empty string
// is the rune-level fallback for pathological unbroken text.
var separators = []string{"\n\n", "\n", ". ", " ", ""}

// Splitter produces deterministic chunk sequences: the same text and
// parameters always yield the same chunks in the same order.
type Splitter struct {
	maxSize int
	overlap int
}

// New validates the chunking parameters. maxSize must be positive and
// overlap strictly smaller than maxSize.
func New(maxSize, overlap int) (*Splitter, error) {
	if maxSize <= 0 {
		return nil, quarryerr.Errorf(quarryerr.CodeSplitInvalidInput, "chunk size must be positive, got %d", maxSize)
	}
	if overlap < 0 || overlap >= maxSize {
		return nil, quarryerr.Errorf(quarryerr.CodeSplitInvalidInput, "overlap %d must be in [0, %d)", overlap, maxSize)
	}
	return &Splitter{maxSize: maxSize, overlap: overlap}, nil
}

// Split segments text into chunks of at most maxSize characters, each
// chunk after the first sharing up to overlap trailing characters with
// its predecessor where piece boundaries allow. Whitespace-only input
// yields no chunks.
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	pieces := s.shatter(text, separators)
	return s.merge(pieces)
}

// shatter recursively breaks text into pieces no longer than maxSize,
// trying each separator in order. Separators stay attached to the end
// of the piece they terminate so no content is lost.
func (s *Splitter) shatter(text string, seps []string) []string {
	if len(text) <= s.maxSize {
		return []string{text}
	}

	sep, rest := nextSeparator(text, seps)
	if sep == "" {
		return splitRunes(text, s.maxSize)
	}

	var out []string
	for _, piece := range splitKeepEnd(text, sep) {
		if len(piece) <= s.maxSize {
			out = append(out, piece)
			continue
		}
		out = append(out, s.shatter(piece, rest)...)
	}
	return out
}

// merge greedily packs adjacent pieces into chunks bounded by maxSize,
// carrying trailing pieces totalling at most overlap characters into
// the next chunk.
func (s *Splitter) merge(pieces []string) []string {
	var chunks []string
	var window []string
	winLen := 0
	fresh := 0 // pieces added since the last flush

	flush := func() {
		chunk := strings.TrimSpace(strings.Join(window, ""))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		// Retain a suffix of the window as overlap for the next chunk.
		var kept []string
		keptLen := 0
		for i := len(window) - 1; i >= 0; i-- {
			if keptLen+len(window[i]) > s.overlap {
				break
			}
			keptLen += len(window[i])
			kept = append([]string{window[i]}, kept...)
		}
		window, winLen, fresh = kept, keptLen, 0
	}

	for _, piece := range pieces {
		if strings.TrimSpace(piece) == "" {
			continue
		}
		if winLen+len(piece) > s.maxSize && fresh > 0 {
			flush()
		}
		// Shed carried overlap when it alone would push the chunk past
		// maxSize; the new piece always gets in.
		for fresh == 0 && len(window) > 0 && winLen+len(piece) > s.maxSize {
			winLen -= len(window[0])
			window = window[1:]
		}
		window = append(window, piece)
		winLen += len(piece)
		fresh++
	}

	if fresh > 0 {
		chunk := strings.TrimSpace(strings.Join(window, ""))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
	}

	return chunks
}

// nextSeparator returns the first separator present in text and the
// remaining (finer) hierarchy below it.
func nextSeparator(text string, seps []string) (string, []string) {
	for i, sep := range seps {
		if sep == "" {
			return "", nil
		}
		if strings.Contains(text, sep) {
			return sep, seps[i+1:]
		}
	}
	return "", nil
}

// splitKeepEnd splits text on sep, re-attaching sep to the end of each
// piece except the last.
func splitKeepEnd(text, sep string) []string {
	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	for i, part := range parts {
		if i < len(parts)-1 {
			part += sep
		}
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// splitRunes chops text into rune-safe windows of at most size bytes.
func splitRunes(text string, size int) []string {
	var out []string
	var b strings.Builder
	for _, r := range text {
		if b.Len()+len(string(r)) > size && b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
		b.WriteRune(r)
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}
