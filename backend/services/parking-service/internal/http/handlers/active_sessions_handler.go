package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"parkline/backend/services/parking-service/internal/service"
)

// NewActiveSessionsHandler returns GET /facilities/{id}/active-sessions handler.
func NewActiveSessionsHandler(svc *service.SessionsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		facilityID, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		sessions, err := svc.ActiveSessions(r.Context(), facilityID)
		if err != nil {
			writeServiceError(w, logger, "list active sessions", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"facility_id": facilityID,
			"sessions":    sessions,
		})
	}
}
