package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/muninndb/muninn/pkg/bulk"
	"github.com/muninndb/muninn/pkg/codec"
	"github.com/muninndb/muninn/pkg/coordinator"
	"github.com/muninndb/muninn/pkg/keys"
	"github.com/muninndb/muninn/pkg/store"
)

// apiKeyMiddleware validates the X-API-Key header
func apiKeyMiddleware(expectedKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if expectedKey == "" {
				// Auth disabled; typically local development.
				next.ServeHTTP(w, r)
				return
			}
			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				sendError(w, "Missing X-API-Key header", http.StatusUnauthorized)
				return
			}
			if apiKey != expectedKey {
				sendError(w, "Invalid API key", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// sendSuccess sends a successful JSON response
func sendSuccess(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	response := APIResponse{
		Success: true,
		Data:    data,
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// sendError sends an error JSON response
func sendError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := APIResponse{
		Success: false,
		Error:   message,
	}
	_ = json.NewEncoder(w).Encode(response)
}

// statusFor maps the store error taxonomy onto HTTP status codes. Retry
// decisions stay with the caller: conflicts are 409, backpressure is 429.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrRevisionConflict):
		return http.StatusConflict
	case errors.Is(err, coordinator.ErrOverloaded):
		return http.StatusTooManyRequests
	case errors.Is(err, codec.ErrUnsupportedType),
		errors.Is(err, codec.ErrCorruptEncoding),
		errors.Is(err, keys.ErrBadPartition),
		errors.Is(err, keys.ErrBadID),
		errors.Is(err, bulk.ErrBadHeader),
		errors.Is(err, bulk.ErrBadCell),
		errors.Is(err, bulk.ErrNotFlat):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func sendStoreError(w http.ResponseWriter, err error) {
	sendError(w, err.Error(), statusFor(err))
}
