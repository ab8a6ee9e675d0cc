package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/helixml/vecsync/domain/vectorizer"
	"github.com/helixml/vecsync/infrastructure/api/jsonapi"
)

// APIError is an error with an HTTP status code.
type APIError struct {
	code    int
	message string
	cause   error
}

// NewAPIError creates an APIError.
func NewAPIError(code int, message string, cause error) *APIError {
	return &APIError{code: code, message: message, cause: cause}
}

// Code returns the HTTP status code.
func (e *APIError) Code() int { return e.code }

// Message returns the client-facing message.
func (e *APIError) Message() string { return e.message }

func (e *APIError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("api error %d: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("api error %d: %s", e.code, e.message)
}

// Unwrap returns the underlying cause.
func (e *APIError) Unwrap() error { return e.cause }

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var apiErr *APIError
	var numErr *strconv.NumError
	switch {
	case errors.As(err, &apiErr):
		return apiErr.Code()
	case errors.Is(err, vectorizer.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, vectorizer.ErrExists):
		return http.StatusConflict
	case errors.Is(err, vectorizer.ErrInvalidConfig), errors.As(err, &numErr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err as a JSON:API error document. Server errors are
// logged and their detail is withheld from the client.
func WriteError(w http.ResponseWriter, r *http.Request, err error, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	status := statusFor(err)
	detail := err.Error()
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		detail = "internal server error"
	}
	WriteJSON(w, status, jsonapi.NewErrorResponse(
		jsonapi.NewError(strconv.Itoa(status), http.StatusText(status), detail),
	))
}

// WriteJSON writes v as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/vnd.api+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
