// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/dailyreel/reelgate/internal/reviewerr"
)

type apiError struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeServiceError maps a reviewerr sentinel to its HTTP status (spec §7)
// and writes a small JSON body.
func writeServiceError(w http.ResponseWriter, err error) {
	writeJSON(w, reviewerr.StatusCode(err), apiError{Error: err.Error()})
}
