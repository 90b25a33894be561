// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quarry Contributors

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	quarryerr "github.com/quarry-dev/quarry/pkg/errors"
)

// UserIDHeader identifies the calling user on every request.
const UserIDHeader = "X-User-ID"

type userIDKey struct{}

// UserID returns the caller identity stored by requireUserID, or "".
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}

// requireUserID rejects requests without the caller-identity header.
// Health and the OpenAPI docs stay open so probes and tooling work
// without credentials.
func requireUserID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if openPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if userID == "" {
			writeError(w, quarryerr.New(quarryerr.CodeServerAuthUnauthorized, "missing X-User-ID header"))
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey{}, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func openPath(path string) bool {
	switch path {
	case "/health", "/docs", "/openapi.json", "/openapi.yaml":
		return true
	}
	return strings.HasPrefix(path, "/schemas/")
}

// errorBody is the JSON error payload shared by middleware and raw
// chi handlers.
type errorBody struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(quarryerr.HTTPStatus(err))
	_ = json.NewEncoder(w).Encode(errorBody{
		Code:   string(quarryerr.CodeOf(err)),
		Detail: err.Error(),
	})
}
