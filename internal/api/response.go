// Recdeck - Ranked Recommendation Delivery Service
// Copyright 2026 Recdeck Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recdeck/recdeck

package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/recdeck/recdeck/internal/logging"
)

// APIResponse is the wrapper for every JSON endpoint.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

// APIError carries a machine-readable code and a human message.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(APIResponse{Success: true, Data: data}); err != nil {
		logging.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := APIResponse{Error: &APIError{Code: code, Message: message}}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logging.Error().Err(err).Msg("failed to encode error response")
	}
}
