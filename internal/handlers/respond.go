package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/colsync/server/internal/models"
	"github.com/colsync/server/internal/observability"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 16 << 20

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, models.ErrorResponse{Error: message})
}

// decodeJSON reads a JSON request body into v
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// respondServiceError maps engine errors to HTTP responses
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		conflict *models.ConflictError
		upgrade  *models.UpgradeFailedError
		collErr  models.CollectionError
	)

	switch {
	case errors.As(err, &conflict):
		respondJSON(w, http.StatusUnprocessableEntity, models.ConflictErrorResponse{
			Error:     conflict.Error(),
			Conflicts: conflict.Report,
		})
	case errors.As(err, &upgrade):
		observability.WithContext(r.Context()).WithError(err).Error("Upgrade failed")
		respondJSON(w, http.StatusInternalServerError, models.UpgradeErrorResponse{
			Error:       "Upgrade failed",
			ID:          upgrade.ID,
			FromVersion: upgrade.FromVersion,
			ToVersion:   upgrade.ToVersion,
		})
	case errors.Is(err, models.ErrUnknownCollection), errors.Is(err, models.ErrRecordNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &collErr):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		observability.WithContext(r.Context()).WithError(err).Error("Request failed")
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}
