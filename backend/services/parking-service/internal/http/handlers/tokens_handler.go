package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"parkline/backend/services/parking-service/internal/service"
)

type decodeTokenRequest struct {
	Token string `json:"token"`
}

// NewDecodeTokenHandler returns POST /tokens/decode handler.
func NewDecodeTokenHandler(svc *service.TokenService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req decodeTokenRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		decoded, err := svc.Decode(r.Context(), req.Token)
		if err != nil {
			writeServiceError(w, logger, "decode token", err)
			return
		}
		writeJSON(w, http.StatusOK, decoded)
	}
}
