package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quarry/internal/models"
)

// maxBodyBytes caps request bodies
const maxBodyBytes = 1 << 20

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a standard success JSON response.
func WriteSuccess(w http.ResponseWriter, message string) error {
	return WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": message,
	})
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// StatusForError maps a service error onto an HTTP status code.
func StatusForError(err error) int {
	var cfgErr *models.ConfigurationError
	var stateErr *models.JobStateError
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &cfgErr):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrAlreadyRunning), errors.Is(err, models.ErrInUse), errors.As(err, &stateErr):
		return http.StatusConflict
	case errors.Is(err, models.ErrNoDataExtracted):
		return http.StatusUnprocessableEntity
	default:
		var fetchErr *models.FetchError
		if errors.As(err, &fetchErr) {
			return http.StatusBadGateway
		}
		return http.StatusInternalServerError
	}
}

// WriteServiceError writes err with its mapped status. Configuration errors
// also carry the offending field. Server errors are logged and their
// detail withheld.
func WriteServiceError(w http.ResponseWriter, logger arbor.ILogger, err error, action string) {
	status := StatusForError(err)
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Msg(fmt.Sprintf("Failed to %s", action))
		WriteError(w, status, fmt.Sprintf("Failed to %s", action))
		return
	}

	var cfgErr *models.ConfigurationError
	if errors.As(err, &cfgErr) && cfgErr.Field != "" {
		WriteJSON(w, status, map[string]string{
			"status": "error",
			"error":  err.Error(),
			"field":  cfgErr.Field,
		})
		return
	}
	if status == http.StatusBadGateway {
		logger.Warn().Err(err).Msg(fmt.Sprintf("Failed to %s", action))
	}
	WriteError(w, status, err.Error())
}

// DecodeJSON decodes a request body into v, rejecting unknown fields.
// It writes a 400 response and returns false on failure.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return false
	}
	return true
}

// QueryInt reads a non-negative integer query parameter, returning def when
// absent or malformed.
func QueryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// QueryBool reads a boolean query parameter
func QueryBool(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return b
}
