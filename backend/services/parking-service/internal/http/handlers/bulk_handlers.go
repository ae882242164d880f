package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"parkline/backend/services/parking-service/internal/http/middleware"
	"parkline/backend/services/parking-service/internal/models"
	"parkline/backend/services/parking-service/internal/service"
)

// BulkHandlers serves bulk chunk purchase and assignment.
type BulkHandlers struct {
	svc    *service.BulkService
	logger *zap.Logger
}

// NewBulkHandlers builds handler set.
func NewBulkHandlers(svc *service.BulkService, logger *zap.Logger) *BulkHandlers {
	return &BulkHandlers{svc: svc, logger: logger}
}

type createChunkRequest struct {
	PurchaserID   int64     `json:"purchaser_id"`
	FacilityID    int64     `json:"facility_id"`
	VehicleType   string    `json:"vehicle_type"`
	TotalSpots    int       `json:"total_spots"`
	ValidFrom     time.Time `json:"valid_from"`
	ValidTo       time.Time `json:"valid_to"`
	PaymentMethod string    `json:"payment_method"`
}

type assignRequest struct {
	AssigneeID int64     `json:"assignee_id"`
	Spots      int       `json:"spots"`
	ValidFrom  time.Time `json:"valid_from"`
	ValidTo    time.Time `json:"valid_to"`
}

// CreateChunk handles POST /bulk/chunks.
func (h *BulkHandlers) CreateChunk(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req createChunkRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.CreateChunk(r.Context(), service.CreateChunkInput{
		PurchaserID: subjectFor(id, req.PurchaserID),
		FacilityID:  req.FacilityID,
		VehicleType: models.VehicleType(req.VehicleType),
		TotalSpots:  req.TotalSpots,
		ValidFrom:   req.ValidFrom,
		ValidTo:     req.ValidTo,
		Method:      req.PaymentMethod,
	})
	if err != nil {
		writeServiceError(w, h.logger, "create chunk", err)
		return
	}
	body := map[string]interface{}{
		"chunk":       res.Chunk,
		"token":       res.Chunk.Token,
		"transaction": res.Transaction,
	}
	if res.Notice != service.NoticeNone {
		body["notice"] = res.Notice
	}
	writeJSON(w, http.StatusCreated, body)
}

// GetChunk handles GET /bulk/chunks/{id}.
func (h *BulkHandlers) GetChunk(w http.ResponseWriter, r *http.Request) {
	chunkID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	chunk, err := h.svc.GetChunk(r.Context(), chunkID)
	if err != nil {
		writeServiceError(w, h.logger, "get chunk", err)
		return
	}
	if !purchaserOf(w, r, chunk) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"chunk": chunk})
}

// Assign handles POST /bulk/chunks/{id}/assignments.
func (h *BulkHandlers) Assign(w http.ResponseWriter, r *http.Request) {
	chunkID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req assignRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !h.ownsChunk(w, r, chunkID, "assign spots") {
		return
	}
	res, err := h.svc.Assign(r.Context(), service.AssignInput{
		ChunkID:    chunkID,
		AssigneeID: req.AssigneeID,
		Spots:      req.Spots,
		ValidFrom:  req.ValidFrom,
		ValidTo:    req.ValidTo,
	})
	if err != nil {
		writeServiceError(w, h.logger, "assign spots", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"assignment": res.Assignment,
		"token":      res.Assignment.Token,
		"chunk":      res.Chunk,
	})
}

// ListAssignments handles GET /bulk/chunks/{id}/assignments.
func (h *BulkHandlers) ListAssignments(w http.ResponseWriter, r *http.Request) {
	chunkID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if !h.ownsChunk(w, r, chunkID, "list assignments") {
		return
	}
	list, err := h.svc.ListAssignments(r.Context(), chunkID)
	if err != nil {
		writeServiceError(w, h.logger, "list assignments", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"assignments": list})
}

// Release handles POST /bulk/assignments/{id}/release.
func (h *BulkHandlers) Release(w http.ResponseWriter, r *http.Request) {
	assignmentID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	chunk, err := h.svc.AssignmentChunk(r.Context(), assignmentID)
	if err != nil {
		writeServiceError(w, h.logger, "release assignment", err)
		return
	}
	if !purchaserOf(w, r, chunk) {
		return
	}
	res, err := h.svc.Release(r.Context(), assignmentID)
	if err != nil {
		writeServiceError(w, h.logger, "release assignment", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Reconcile handles POST /bulk/chunks/{id}/reconcile.
func (h *BulkHandlers) Reconcile(w http.ResponseWriter, r *http.Request) {
	chunkID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	chunk, err := h.svc.Reconcile(r.Context(), chunkID)
	if err != nil {
		writeServiceError(w, h.logger, "reconcile chunk", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"chunk": chunk})
}

func (h *BulkHandlers) ownsChunk(w http.ResponseWriter, r *http.Request, chunkID int64, op string) bool {
	chunk, err := h.svc.GetChunk(r.Context(), chunkID)
	if err != nil {
		writeServiceError(w, h.logger, op, err)
		return false
	}
	return purchaserOf(w, r, chunk)
}

// purchaserOf lets staff through and requires everyone else to have bought the chunk.
func purchaserOf(w http.ResponseWriter, r *http.Request, chunk *models.BulkChunk) bool {
	id, ok := identity(w, r)
	if !ok {
		return false
	}
	if id.HasRole(middleware.RoleStaff) || chunk.PurchaserID == id.UserID {
		return true
	}
	writeError(w, http.StatusForbidden, "forbidden")
	return false
}
