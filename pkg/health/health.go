// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quarry Contributors

package health

import "time"

// Status is the overall service health reported by /health. All fields
// are point-in-time snapshots safe to serialize to JSON.
type Status struct {
	Status  string  `json:"status"`
	Backend Backend `json:"backend"`
}

// Backend describes storage-backend connectivity at check time.
type Backend struct {
	Reachable bool      `json:"reachable"`
	CheckedAt time.Time `json:"checked_at"`
	LatencyMS int64     `json:"latency_ms"`
	Error     string    `json:"error,omitempty"`
}

// Healthy reports whether the snapshot represents a serving state.
func (s Status) Healthy() bool {
	return s.Status == "ok" && s.Backend.Reachable
}
