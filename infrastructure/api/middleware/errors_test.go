package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixml/vecsync/domain/vectorizer"
	"github.com/helixml/vecsync/infrastructure/api/jsonapi"
)

func TestAPIError(t *testing.T) {
	err := NewAPIError(404, "resource not found", nil)

	assert.Equal(t, 404, err.Code())
	assert.Equal(t, "resource not found", err.Message())
	assert.Equal(t, "api error 404: resource not found", err.Error())
}

func TestAPIError_WithCause(t *testing.T) {
	cause := errors.New("underlying error")
	err := NewAPIError(500, "internal error", cause)

	assert.Equal(t, "api error 500: internal error: underlying error", err.Error())
	assert.Equal(t, cause, err.Unwrap())
}

func TestWriteError_StatusMapping(t *testing.T) {
	_, numErr := strconv.ParseInt("abc", 10, 64)

	tests := []struct {
		name   string
		err    error
		status int
		detail string
	}{
		{name: "not found", err: fmt.Errorf("get 7: %w", vectorizer.ErrNotFound), status: http.StatusNotFound},
		{name: "exists", err: vectorizer.ErrExists, status: http.StatusConflict},
		{name: "invalid config", err: vectorizer.ErrInvalidConfig, status: http.StatusBadRequest},
		{name: "bad id", err: numErr, status: http.StatusBadRequest},
		{name: "api error", err: NewAPIError(http.StatusTeapot, "short and stout", nil), status: http.StatusTeapot},
		{name: "unknown", err: errors.New("connection refused"), status: http.StatusInternalServerError, detail: "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/api/v1/vectorizers/7", nil)
			WriteError(w, r, tt.err, nil)

			assert.Equal(t, tt.status, w.Code)
			var doc jsonapi.Document
			require.NoError(t, json.NewDecoder(w.Body).Decode(&doc))
			require.Len(t, doc.Errors, 1)
			assert.Equal(t, strconv.Itoa(tt.status), doc.Errors[0].Status)
			if tt.detail != "" {
				assert.Equal(t, tt.detail, doc.Errors[0].Detail)
			}
		})
	}
}
