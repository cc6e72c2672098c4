package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error   string `json:"error"`             // Machine-readable error code
	Message string `json:"message"`           // Human-readable message
	Details string `json:"details,omitempty"` // Optional additional context

	LockUntil         *time.Time `json:"lock_until,omitempty"`
	AttemptsRemaining *int       `json:"attempts_remaining,omitempty"`
	RetryAfter        int        `json:"retry_after,omitempty"`
}

// WriteJSON writes v as a JSON body with the given status code
func WriteJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	WriteErrorWithDetails(w, statusCode, errorCode, message, "")
}

// WriteErrorWithDetails writes a JSON error response with additional details
func WriteErrorWithDetails(w http.ResponseWriter, statusCode int, errorCode, message, details string) {
	WriteJSON(w, statusCode, ErrorResponse{
		Error:   errorCode,
		Message: message,
		Details: details,
	})
}

func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "bad_request", message)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, "unauthorized", message)
}

func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, "not_found", message)
}

func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, "internal_error", message)
}

func WriteServiceUnavailable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusServiceUnavailable, "service_unavailable", message)
}

// WriteCSRFRejected answers a cross-site mutating request
func WriteCSRFRejected(w http.ResponseWriter) {
	WriteError(w, http.StatusForbidden, "csrf_rejected", "cross-site request rejected")
}

// WriteLocked answers a login attempt against a locked (email, ip) pair.
// details carries the human-readable remaining time.
func WriteLocked(w http.ResponseWriter, lockUntil time.Time, details string) {
	lockUntil = lockUntil.UTC()
	WriteJSON(w, http.StatusLocked, ErrorResponse{
		Error:     "locked",
		Message:   "too many failed attempts, try again later",
		Details:   details,
		LockUntil: &lockUntil,
	})
}

// WriteInvalidCode answers every rejected OTP verification with the same body.
// attemptsRemaining is only set when a code comparison took place.
func WriteInvalidCode(w http.ResponseWriter, attemptsRemaining *int) {
	WriteJSON(w, http.StatusUnauthorized, ErrorResponse{
		Error:             "invalid_or_expired_code",
		Message:           "invalid or expired code",
		AttemptsRemaining: attemptsRemaining,
	})
}

// WriteTooManyRequests sets Retry-After and writes a 429
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSeconds int) {
	if retryAfterSeconds < 1 {
		retryAfterSeconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	WriteJSON(w, http.StatusTooManyRequests, ErrorResponse{
		Error:      "rate_limit_exceeded",
		Message:    "too many requests",
		RetryAfter: retryAfterSeconds,
	})
}
