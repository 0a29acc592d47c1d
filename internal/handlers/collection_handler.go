package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/colsync/server/internal/models"
	"github.com/colsync/server/internal/services"
)

const (
	defaultTake = 100
	maxTake     = 1000
)

// CollectionHandler handles record endpoints of every collection
type CollectionHandler struct {
	collections *services.CollectionService
}

// NewCollectionHandler creates a new CollectionHandler
func NewCollectionHandler(collections *services.CollectionService) *CollectionHandler {
	return &CollectionHandler{collections: collections}
}

// List returns every registered collection
// @Summary List collections
// @Description Registered collections with their version chain, dependencies and watermark
// @Tags collections
// @Produce json
// @Success 200 {array} models.CollectionInfo
// @Router /api/collections [get]
func (h *CollectionHandler) List(w http.ResponseWriter, r *http.Request) {
	infos, err := h.collections.Collections(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, infos)
}

// ListRecords returns records of a collection
// @Summary List records
// @Description Records of a collection, optionally changed since a timestamp and filtered by field membership
// @Tags collections
// @Produce json
// @Param name path string true "Collection name"
// @Param since query int false "Only records with updatedAt >= since (Unix ms)"
// @Param filter query []string false "field:in:v1,v2 or field:intersects:v1,v2"
// @Param order query string false "updatedAt, -updatedAt or id"
// @Param skip query int false "Number of records to skip"
// @Param take query int false "Number of records to return (max 1000)"
// @Success 200 {object} models.RecordListResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /api/collections/{name}/records [get]
func (h *CollectionHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	q, err := parseQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.collections.Query(r.Context(), name, q)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	countQuery := q
	countQuery.Limit, countQuery.Offset = 0, 0
	total, err := h.collections.Count(r.Context(), name, countQuery)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	if records == nil {
		records = []*models.Record{}
	}
	respondJSON(w, http.StatusOK, models.RecordListResponse{
		Records:    records,
		TotalCount: total,
		Skip:       q.Offset,
		Take:       q.Limit,
	})
}

// GetRecord returns one record
// @Summary Get record
// @Tags collections
// @Produce json
// @Param name path string true "Collection name"
// @Param id path string true "Record ID"
// @Success 200 {object} models.Record
// @Failure 404 {object} models.ErrorResponse
// @Router /api/collections/{name}/records/{id} [get]
func (h *CollectionHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	record, err := h.collections.Get(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, record)
}

// PutRecords creates or replaces records
// @Summary Put records
// @Description Upserts records. Missing ids are generated and missing versions default to the latest one; older versions are upgraded before the write.
// @Tags collections
// @Accept json
// @Produce json
// @Param name path string true "Collection name"
// @Param request body models.PutRecordsRequest true "Records"
// @Success 200 {object} models.PutRecordsResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 500 {object} models.UpgradeErrorResponse
// @Router /api/collections/{name}/records [put]
func (h *CollectionHandler) PutRecords(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req models.PutRecordsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Records) == 0 {
		respondError(w, http.StatusBadRequest, "At least one record is required")
		return
	}

	records := make([]*models.Record, 0, len(req.Records))
	for _, in := range req.Records {
		records = append(records, models.NewRecord(in.ID, in.Version, in.Payload))
	}

	result, err := h.collections.Put(r.Context(), name, records)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, models.PutRecordsResponse{
		Records:     result.Written[name],
		LastUpdated: result.LastUpdated[name],
	})
}

// DeleteRecords deletes records, optionally with everything referencing them
// @Summary Delete records
// @Description Deletes records after checking that nothing references them. With cascade, referencing records are deleted first.
// @Tags collections
// @Accept json
// @Produce json
// @Param name path string true "Collection name"
// @Param request body models.DeleteRecordsRequest true "Ids to delete"
// @Success 200 {object} models.DeleteRecordsResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 422 {object} models.ConflictErrorResponse
// @Router /api/collections/{name}/delete [post]
func (h *CollectionHandler) DeleteRecords(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req models.DeleteRecordsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 {
		respondError(w, http.StatusBadRequest, "At least one id is required")
		return
	}

	var (
		result *services.WriteResult
		err    error
	)
	if req.Cascade {
		result, err = h.collections.DeleteCascade(r.Context(), name, req.IDs)
	} else {
		result, err = h.collections.Delete(r.Context(), name, req.IDs)
	}
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, deleteResponse(name, result))
}

// CheckDelete reports what a delete would conflict with
// @Summary Check delete
// @Description Dry run of a delete: returns the records that still reference the given ids
// @Tags collections
// @Accept json
// @Produce json
// @Param name path string true "Collection name"
// @Param request body models.CheckDeleteRequest true "Ids to check"
// @Success 200 {object} models.CheckDeleteResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /api/collections/{name}/check-delete [post]
func (h *CollectionHandler) CheckDelete(w http.ResponseWriter, r *http.Request) {
	var req models.CheckDeleteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	report, err := h.collections.CheckDelete(r.Context(), chi.URLParam(r, "name"), req.IDs)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if report == nil {
		report = models.ConflictReport{}
	}
	respondJSON(w, http.StatusOK, models.CheckDeleteResponse{
		Deletable: report.IsEmpty(),
		Conflicts: report,
	})
}

// Wipe deletes every record of a collection
// @Summary Wipe collection
// @Description Deletes all records and tombstones of a collection; every client falls back to a full sync
// @Tags collections
// @Produce json
// @Param name path string true "Collection name"
// @Success 200 {object} models.DeleteRecordsResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 422 {object} models.ConflictErrorResponse
// @Router /api/collections/{name} [delete]
func (h *CollectionHandler) Wipe(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	result, err := h.collections.Wipe(r.Context(), name)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, deleteResponse(name, result))
}

// Watermark returns the sync watermark of a collection
// @Summary Get watermark
// @Tags collections
// @Produce json
// @Param name path string true "Collection name"
// @Success 200 {object} models.SyncWatermark
// @Failure 404 {object} models.ErrorResponse
// @Router /api/collections/{name}/watermark [get]
func (h *CollectionHandler) Watermark(w http.ResponseWriter, r *http.Request) {
	wm, err := h.collections.Watermark(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, wm)
}

func deleteResponse(name string, result *services.WriteResult) models.DeleteRecordsResponse {
	deleted := result.Deleted
	if deleted == nil {
		deleted = map[string][]string{}
	}
	return models.DeleteRecordsResponse{
		Deleted:     deleted,
		LastUpdated: result.LastUpdated[name],
	}
}

// parseQuery builds a record query from URL parameters
func parseQuery(r *http.Request) (models.Query, error) {
	params := r.URL.Query()
	q := models.Query{Limit: defaultTake}

	if raw := params.Get("since"); raw != "" {
		since, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || since < 0 {
			return q, errInvalidParam("since")
		}
		q.UpdatedSince = &since
	}

	switch params.Get("order") {
	case "", "updatedAt":
		q.Order = models.OrderUpdatedAsc
	case "-updatedAt":
		q.Order = models.OrderUpdatedDesc
	case "id":
		q.Order = models.OrderByID
	default:
		return q, errInvalidParam("order")
	}

	if raw := params.Get("skip"); raw != "" {
		skip, err := strconv.Atoi(raw)
		if err != nil || skip < 0 {
			return q, errInvalidParam("skip")
		}
		q.Offset = skip
	}
	if raw := params.Get("take"); raw != "" {
		take, err := strconv.Atoi(raw)
		if err != nil || take <= 0 {
			return q, errInvalidParam("take")
		}
		q.Limit = min(take, maxTake)
	}

	for _, raw := range params["filter"] {
		parts := strings.SplitN(raw, ":", 3)
		if len(parts) != 3 {
			return q, errInvalidParam("filter")
		}
		op := models.FilterOp(parts[1])
		if op != models.OpIn && op != models.OpIntersects {
			return q, errInvalidParam("filter")
		}
		q.Filters = append(q.Filters, models.Filter{
			Field:  parts[0],
			Op:     op,
			Values: strings.Split(parts[2], ","),
		})
	}

	return q, q.Validate()
}

type errInvalidParam string

func (e errInvalidParam) Error() string {
	return "invalid query parameter: " + string(e)
}
