package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"parkline/backend/services/parking-service/internal/http/middleware"
	"parkline/backend/services/parking-service/internal/models"
	"parkline/backend/services/parking-service/internal/service"
)

// TransactionsHandlers serves the ledger.
type TransactionsHandlers struct {
	reconciler *service.Reconciler
	logger     *zap.Logger
}

// NewTransactionsHandlers builds handler set.
func NewTransactionsHandlers(reconciler *service.Reconciler, logger *zap.Logger) *TransactionsHandlers {
	return &TransactionsHandlers{reconciler: reconciler, logger: logger}
}

type statusRequest struct {
	Status string `json:"status"`
}

// Me handles GET /transactions/me.
func (h *TransactionsHandlers) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	h.list(w, r, models.TransactionFilter{UserID: id.UserID})
}

// List handles GET /transactions?user_id=&type=&status=&limit=.
func (h *TransactionsHandlers) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := queryInt64(w, r, "user_id")
	if !ok {
		return
	}
	limit, ok := queryInt64(w, r, "limit")
	if !ok {
		return
	}
	q := r.URL.Query()
	h.list(w, r, models.TransactionFilter{
		UserID: userID,
		Type:   models.TransactionType(q.Get("type")),
		Status: models.TransactionStatus(q.Get("status")),
		Limit:  int(limit),
	})
}

func (h *TransactionsHandlers) list(w http.ResponseWriter, r *http.Request, f models.TransactionFilter) {
	txs, err := h.reconciler.List(r.Context(), f)
	if err != nil {
		writeServiceError(w, h.logger, "list transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": txs})
}

// Get handles GET /transactions/{id}.
func (h *TransactionsHandlers) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	txID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	tx, err := h.reconciler.Get(r.Context(), txID)
	if err != nil {
		writeServiceError(w, h.logger, "get transaction", err)
		return
	}
	if tx.UserID != id.UserID && !id.HasRole(middleware.RoleStaff) {
		writeError(w, http.StatusNotFound, "transaction not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transaction": tx})
}

// SetStatus handles POST /transactions/{id}/status.
func (h *TransactionsHandlers) SetStatus(w http.ResponseWriter, r *http.Request) {
	txID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req statusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	tx, err := h.reconciler.SetStatus(r.Context(), txID, models.TransactionStatus(req.Status))
	if err != nil {
		writeServiceError(w, h.logger, "set transaction status", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transaction": tx})
}
