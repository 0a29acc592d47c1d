package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/colsync/server/internal/services"
)

// AdminHandler handles maintenance endpoints
type AdminHandler struct {
	cleanup     *services.CleanupService
	tombstones  *services.TombstoneLog
	collections *services.CollectionService
	pageSize    int
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(
	cleanup *services.CleanupService,
	tombstones *services.TombstoneLog,
	collections *services.CollectionService,
	pageSize int,
) *AdminHandler {
	return &AdminHandler{
		cleanup:     cleanup,
		tombstones:  tombstones,
		collections: collections,
		pageSize:    pageSize,
	}
}

// CleanupStatus returns the status of tombstone cleanup
// @Summary Get cleanup status
// @Tags admin
// @Produce json
// @Success 200 {object} services.CleanupStatus
// @Router /api/admin/cleanup [get]
func (h *AdminHandler) CleanupStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.cleanup.GetStatus())
}

// RunCleanup prunes tombstones down to the retention budget
// @Summary Run cleanup
// @Description Prunes the oldest tombstones beyond the retention budget. A no-op when retention is 0.
// @Tags admin
// @Produce json
// @Success 200 {object} services.CleanupStatus
// @Failure 500 {object} models.ErrorResponse
// @Router /api/admin/cleanup [post]
func (h *AdminHandler) RunCleanup(w http.ResponseWriter, r *http.Request) {
	if _, err := h.cleanup.Invoke(r.Context()); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.cleanup.GetStatus())
}

// TombstoneCountResponse for POST /api/admin/tombstones/recount
type TombstoneCountResponse struct {
	Count int64 `json:"count"`
}

// RecountTombstones recomputes the tombstone counter
// @Summary Recount tombstones
// @Tags admin
// @Produce json
// @Success 200 {object} TombstoneCountResponse
// @Router /api/admin/tombstones/recount [post]
func (h *AdminHandler) RecountTombstones(w http.ResponseWriter, r *http.Request) {
	count, err := h.tombstones.Recount(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, TombstoneCountResponse{Count: count})
}

// UpgradeCollection migrates every stored record of a collection
// @Summary Upgrade collection
// @Description Upgrades all stored records to the latest reachable version. Records whose upgrade fails are reported and left unchanged.
// @Tags admin
// @Produce json
// @Param name path string true "Collection name"
// @Param pageSize query int false "Records per batch"
// @Success 200 {object} models.UpgradeReport
// @Failure 404 {object} models.ErrorResponse
// @Router /api/admin/collections/{name}/upgrade [post]
func (h *AdminHandler) UpgradeCollection(w http.ResponseWriter, r *http.Request) {
	pageSize := h.pageSize
	if raw := r.URL.Query().Get("pageSize"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid query parameter: pageSize")
			return
		}
		pageSize = n
	}

	report, err := h.collections.UpgradeCollection(r.Context(), chi.URLParam(r, "name"), pageSize)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}
