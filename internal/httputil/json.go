package httputil

import (
	"encoding/json"
	"net/http"
)

// JSON writes v as a JSON response.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Error writes a generic JSON error body. Messages are deliberately
// coarse so rejections never reveal which check failed internally.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// RateLimited writes a 429 with a machine-readable reset hint so clients
// can back off without polling.
func RateLimited(w http.ResponseWriter, message, resetAt string) {
	JSON(w, http.StatusTooManyRequests, map[string]string{
		"error":    message,
		"reset_at": resetAt,
	})
}
