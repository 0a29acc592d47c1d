package handlers

import (
	"context"
	"net/http"

	"github.com/colsync/server/internal/models"
)

// SyncComputer answers sync requests
type SyncComputer interface {
	ComputeSync(ctx context.Context, requests []models.ModuleSyncRequest) *models.SyncResponse
}

// SyncHandler handles the smart-sync endpoint
type SyncHandler struct {
	sync SyncComputer
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(sync SyncComputer) *SyncHandler {
	return &SyncHandler{sync: sync}
}

// Sync computes what each requested collection needs
// @Summary Smart sync
// @Description For every collection the client tracks, decide between no sync, a delta or a full resync. Unknown collections are left out of the response.
// @Tags sync
// @Accept json
// @Produce json
// @Param request body models.SyncRequest true "Client watermarks"
// @Success 200 {object} models.SyncResponse
// @Failure 400 {object} models.ErrorResponse
// @Router /api/sync [post]
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	var req models.SyncRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Modules) == 0 {
		respondError(w, http.StatusBadRequest, "At least one module is required")
		return
	}

	respondJSON(w, http.StatusOK, h.sync.ComputeSync(r.Context(), req.Modules))
}
