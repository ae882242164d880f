package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"parkline/backend/services/parking-service/internal/http/middleware"
	"parkline/backend/services/parking-service/internal/models"
	"parkline/backend/services/parking-service/internal/service"
)

// SessionsHandlers serves booking, walk-in and scanner endpoints.
type SessionsHandlers struct {
	svc    *service.SessionsService
	logger *zap.Logger
}

// NewSessionsHandlers builds handler set.
func NewSessionsHandlers(svc *service.SessionsService, logger *zap.Logger) *SessionsHandlers {
	return &SessionsHandlers{svc: svc, logger: logger}
}

type createBookingRequest struct {
	UserID         int64     `json:"user_id"`
	FacilityID     int64     `json:"facility_id"`
	VehicleType    string    `json:"vehicle_type"`
	ScheduledEntry time.Time `json:"scheduled_entry"`
	ScheduledExit  time.Time `json:"scheduled_exit"`
}

type createWalkInRequest struct {
	UserID      int64  `json:"user_id"`
	FacilityID  int64  `json:"facility_id"`
	VehicleType string `json:"vehicle_type"`
}

type exitRequest struct {
	PaymentMethod string `json:"payment_method"`
}

// CreateBooking handles POST /bookings.
func (h *SessionsHandlers) CreateBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req createBookingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	session, err := h.svc.CreateBooking(r.Context(), service.CreateBookingInput{
		FacilityID:     req.FacilityID,
		UserID:         subjectFor(id, req.UserID),
		VehicleType:    models.VehicleType(req.VehicleType),
		ScheduledEntry: req.ScheduledEntry,
		ScheduledExit:  req.ScheduledExit,
	})
	if err != nil {
		writeServiceError(w, h.logger, "create booking", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"session": session, "token": session.Token})
}

// CreateWalkIn handles POST /walkins.
func (h *SessionsHandlers) CreateWalkIn(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req createWalkInRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	session, err := h.svc.CreateWalkIn(r.Context(), service.CreateWalkInInput{
		FacilityID:  req.FacilityID,
		UserID:      subjectFor(id, req.UserID),
		VehicleType: models.VehicleType(req.VehicleType),
	})
	if err != nil {
		writeServiceError(w, h.logger, "create walk-in", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"session": session, "token": session.Token})
}

// Redeem handles GET /scan/{token}.
func (h *SessionsHandlers) Redeem(w http.ResponseWriter, r *http.Request) {
	session, err := h.svc.Redeem(r.Context(), r.PathValue("token"))
	if err != nil {
		writeServiceError(w, h.logger, "redeem token", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"session": session})
}

// PreviewFee handles GET /scan/{token}/fee. Customers may only preview their own sessions.
func (h *SessionsHandlers) PreviewFee(w http.ResponseWriter, r *http.Request) {
	tok := r.PathValue("token")
	if !h.ownsToken(w, r, tok, "preview fee") {
		return
	}
	preview, err := h.svc.PreviewFee(r.Context(), tok)
	if err != nil {
		writeServiceError(w, h.logger, "preview fee", err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// ConfirmEntry handles POST /scan/{token}/entry.
func (h *SessionsHandlers) ConfirmEntry(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ConfirmEntry(r.Context(), r.PathValue("token"))
	if err != nil {
		writeServiceError(w, h.logger, "confirm entry", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ConfirmExit handles POST /scan/{token}/exit. The body is optional.
func (h *SessionsHandlers) ConfirmExit(w http.ResponseWriter, r *http.Request) {
	var req exitRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	res, err := h.svc.ConfirmExit(r.Context(), r.PathValue("token"), req.PaymentMethod)
	if err != nil {
		writeServiceError(w, h.logger, "confirm exit", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Cancel handles POST /bookings/{token}/cancel. Customers may only cancel their own bookings.
func (h *SessionsHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	tok := r.PathValue("token")
	if !h.ownsToken(w, r, tok, "cancel booking") {
		return
	}
	res, err := h.svc.CancelBooking(r.Context(), tok)
	if err != nil {
		writeServiceError(w, h.logger, "cancel booking", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ownsToken lets staff through and checks that anyone else holds the session behind tok.
func (h *SessionsHandlers) ownsToken(w http.ResponseWriter, r *http.Request, tok, op string) bool {
	id, ok := identity(w, r)
	if !ok {
		return false
	}
	if id.HasRole(middleware.RoleStaff) {
		return true
	}
	session, err := h.svc.Redeem(r.Context(), tok)
	if err != nil {
		writeServiceError(w, h.logger, op, err)
		return false
	}
	if session.UserID != id.UserID {
		writeError(w, http.StatusForbidden, "forbidden")
		return false
	}
	return true
}

// Get handles GET /sessions/{id}.
func (h *SessionsHandlers) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	sessionID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	session, err := h.svc.Get(r.Context(), sessionID)
	if err != nil {
		writeServiceError(w, h.logger, "get session", err)
		return
	}
	if session.UserID != id.UserID && !id.HasRole(middleware.RoleStaff) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"session": session})
}

// List handles GET /sessions?user_id=&facility_id=&kind=&state=&limit=.
func (h *SessionsHandlers) List(w http.ResponseWriter, r *http.Request) {
	filter, ok := sessionFilter(w, r)
	if !ok {
		return
	}
	sessions, err := h.svc.ListSessions(r.Context(), filter)
	if err != nil {
		writeServiceError(w, h.logger, "list sessions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func sessionFilter(w http.ResponseWriter, r *http.Request) (models.SessionFilter, bool) {
	var f models.SessionFilter
	var ok bool
	if f.UserID, ok = queryInt64(w, r, "user_id"); !ok {
		return f, false
	}
	if f.FacilityID, ok = queryInt64(w, r, "facility_id"); !ok {
		return f, false
	}
	limit, ok := queryInt64(w, r, "limit")
	if !ok {
		return f, false
	}
	f.Limit = int(limit)
	q := r.URL.Query()
	if kind := q.Get("kind"); kind != "" {
		f.Kind = models.SessionKind(kind)
		if f.Kind != models.KindBooking && f.Kind != models.KindBilling {
			writeError(w, http.StatusBadRequest, "invalid kind")
			return f, false
		}
	}
	for _, s := range q["state"] {
		f.States = append(f.States, models.SessionState(s))
	}
	return f, true
}
