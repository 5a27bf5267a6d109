// Package handlers implements the HTTP handlers for the ingestion pipeline's
// upload endpoint and admin endpoints (spec.md §6).
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/cnabflow/ingestor/internal/cnab/apierr"
)

// Problem is an RFC 7807 "problem details" response body.
// https://tools.ietf.org/html/rfc7807
type Problem struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// ContentTypeProblemJSON is the Content-Type for RFC 7807 problem responses.
const ContentTypeProblemJSON = "application/problem+json"

// WriteProblem writes an RFC 7807 problem response.
func WriteProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", ContentTypeProblemJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{Type: "about:blank", Title: title, Status: status, Detail: detail})
}

// WriteAPIError translates an apierr.Kind-tagged error into the matching
// problem response from spec.md §7's error taxonomy. Errors not carrying a
// Kind are treated as an opaque internal error.
func WriteAPIError(w http.ResponseWriter, err error) {
	kind := apierr.KindOf(err)
	if kind == "" {
		WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", err.Error())
		return
	}
	WriteProblem(w, apierr.HTTPStatus(kind), string(kind), err.Error())
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
