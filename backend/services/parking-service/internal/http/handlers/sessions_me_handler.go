package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"parkline/backend/services/parking-service/internal/models"
	"parkline/backend/services/parking-service/internal/service"
)

// NewSessionsMeHandler returns GET /sessions/me handler.
func NewSessionsMeHandler(svc *service.SessionsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := identity(w, r)
		if !ok {
			return
		}
		filter := models.SessionFilter{UserID: id.UserID}
		for _, s := range r.URL.Query()["state"] {
			filter.States = append(filter.States, models.SessionState(s))
		}

		sessions, err := svc.ListSessions(r.Context(), filter)
		if err != nil {
			writeServiceError(w, logger, "list own sessions", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"sessions": sessions,
		})
	}
}
