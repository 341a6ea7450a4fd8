// Package api contains JSON helpers for the HTTP API.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/magnab/lifecycle/workflow"
)

// StatusCode maps the kind of err to an HTTP status code.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, workflow.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, workflow.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// JSONError encodes err as JSON to w.
// A statusCode less than 1 is derived from err with StatusCode.
func JSONError(w http.ResponseWriter, err error, statusCode int) {
	jsonErr := &struct {
		Err string `json:"error"`
	}{Err: err.Error()}
	w.Header().Set("Content-type", "application/json")
	if statusCode < 1 {
		statusCode = StatusCode(err)
	}
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(jsonErr)
}

// JSON encodes v as JSON to w with statusCode.
func JSON(w http.ResponseWriter, v interface{}, statusCode int) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode > 0 {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(v)
}
