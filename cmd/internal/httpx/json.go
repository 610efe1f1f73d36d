// Package httpx holds the JSON envelope shared by Courier's HTTP handlers.
package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// DefaultMaxBodyBytes bounds request bodies read by DecodeJSON.
const DefaultMaxBodyBytes int64 = 1 << 20

// APIError is the body of every error response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps APIError as {"error":{...}}.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// WriteJSON writes v with status and disables caching.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes the standard error envelope.
func WriteError(w http.ResponseWriter, status int, code, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: APIError{Code: code, Message: msg}})
}

// DecodeJSON reads exactly one JSON object into dst, rejecting unknown fields
// and trailing data. maxBytes <= 0 means DefaultMaxBodyBytes.
func DecodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer func() { _ = r.Body.Close() }()

	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("extra data after JSON object")
	}
	return nil
}
