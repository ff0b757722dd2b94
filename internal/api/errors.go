package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/soochol/convograph/internal/flow"
)

// statusFor maps a domain error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, flow.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, flow.ErrTemplateInvalid):
		return http.StatusBadRequest
	case errors.Is(err, flow.ErrAlreadyExists),
		errors.Is(err, flow.ErrVersionConflict),
		errors.Is(err, flow.ErrThreadBusy),
		errors.Is(err, flow.ErrNotInterrupted),
		errors.Is(err, flow.ErrInterrupted),
		errors.Is(err, flow.ErrCancelled):
		return http.StatusConflict
	case errors.Is(err, flow.ErrUnroutableResponse):
		return http.StatusUnprocessableEntity
	case errors.Is(err, flow.ErrProviderTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, flow.ErrProviderError),
		errors.Is(err, flow.ErrToolFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := map[string]any{"error": err.Error()}
	var te *flow.TemplateError
	if errors.As(err, &te) {
		body["problems"] = te.Problems
	}
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "status", status, "err", err)
	}
	writeJSON(w, status, body)
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeBody decodes a JSON request body into v. An empty body leaves v
// untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

// parsePagination extracts limit and offset query parameters with defaults.
func parsePagination(r *http.Request) (int, int) {
	limit := 20
	offset := 0

	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return limit, offset
}
