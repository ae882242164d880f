package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"parkline/backend/services/parking-service/internal/models"
	"parkline/backend/services/parking-service/internal/service"
)

// CapacityHandlers exposes the capacity ledger.
type CapacityHandlers struct {
	svc    *service.CapacityService
	logger *zap.Logger
}

// NewCapacityHandlers builds handler set.
func NewCapacityHandlers(svc *service.CapacityService, logger *zap.Logger) *CapacityHandlers {
	return &CapacityHandlers{svc: svc, logger: logger}
}

type adjustRequest struct {
	Quota string `json:"quota"`
	Delta int    `json:"delta"`
}

// Snapshot handles GET /facilities/{id}/capacity.
func (h *CapacityHandlers) Snapshot(w http.ResponseWriter, r *http.Request) {
	facilityID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	rows, err := h.svc.Snapshot(r.Context(), facilityID)
	if err != nil {
		writeServiceError(w, h.logger, "capacity snapshot", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"facility_id": facilityID, "capacity": rows})
}

// Provision handles POST /facilities/{id}/capacity/{vehicle}.
func (h *CapacityHandlers) Provision(w http.ResponseWriter, r *http.Request) {
	facilityID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	c, err := h.svc.Provision(r.Context(), facilityID, models.VehicleType(r.PathValue("vehicle")))
	if err != nil {
		writeServiceError(w, h.logger, "provision capacity", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"capacity": c})
}

// Adjust handles POST /facilities/{id}/capacity/{vehicle}/adjust.
func (h *CapacityHandlers) Adjust(w http.ResponseWriter, r *http.Request) {
	facilityID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req adjustRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.svc.Adjust(r.Context(), facilityID, models.VehicleType(r.PathValue("vehicle")), models.Quota(req.Quota), req.Delta)
	if err != nil {
		writeServiceError(w, h.logger, "adjust capacity", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"capacity": c})
}
