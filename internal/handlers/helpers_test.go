package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quarry/internal/models"
)

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"not found", fmt.Errorf("assignment asg_1: %w", models.ErrNotFound), http.StatusNotFound},
		{"configuration", models.NewConfigurationError("name", "required"), http.StatusBadRequest},
		{"already running", fmt.Errorf("launch: %w", models.ErrAlreadyRunning), http.StatusConflict},
		{"in use", fmt.Errorf("delete: %w", models.ErrInUse), http.StatusConflict},
		{"job state", &models.JobStateError{JobID: "job_1", Current: models.JobStatusCompleted, Attempted: "cancel"}, http.StatusConflict},
		{"no data", models.ErrNoDataExtracted, http.StatusUnprocessableEntity},
		{"fetch", &models.FetchError{Kind: models.FetchHTTPError, URL: "https://shop.test", StatusCode: 503}, http.StatusBadGateway},
		{"other", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, StatusForError(tt.err))
		})
	}
}

func TestWriteServiceError(t *testing.T) {
	logger := arbor.NewLogger()

	rec := httptest.NewRecorder()
	WriteServiceError(rec, logger, models.NewConfigurationError("cron_expression", "too frequent"), "create assignment")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "cron_expression", body["field"])
	assert.Equal(t, "error", body["status"])

	rec = httptest.NewRecorder()
	WriteServiceError(rec, logger, errors.New("badger: closed"), "list jobs")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Failed to list jobs", body["error"])
}

func TestDecodeJSON(t *testing.T) {
	var source models.WebSource

	req := httptest.NewRequest(http.MethodPost, "/api/sources", strings.NewReader(`{"name":"Shop","base_url":"https://shop.test"}`))
	assert.True(t, DecodeJSON(httptest.NewRecorder(), req, &source))
	assert.Equal(t, "Shop", source.Name)

	rec := httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/sources", strings.NewReader(`{"name":"Shop","colour":"red"}`))
	assert.False(t, DecodeJSON(rec, req, &source))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryParams(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/jobs?limit=20&offset=-1&active=true", nil)
	assert.Equal(t, 20, QueryInt(req, "limit", 50))
	assert.Equal(t, 0, QueryInt(req, "offset", 0))
	assert.Equal(t, 7, QueryInt(req, "missing", 7))
	assert.True(t, QueryBool(req, "active"))
	assert.False(t, QueryBool(req, "missing"))
}
