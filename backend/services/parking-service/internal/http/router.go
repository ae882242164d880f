package httpserver

import (
	"net/http"

	"parkline/backend/services/parking-service/internal/http/handlers"
	"parkline/backend/services/parking-service/internal/http/middleware"
)

// RouterDeps collects handler dependencies. Nil optional handlers are not mounted.
type RouterDeps struct {
	Sessions       *handlers.SessionsHandlers
	Bulk           *handlers.BulkHandlers
	Capacity       *handlers.CapacityHandlers
	Transactions   *handlers.TransactionsHandlers
	SessionsMe     http.HandlerFunc
	ActiveSessions http.HandlerFunc
	DecodeToken    http.HandlerFunc
	Health         http.HandlerFunc
	Metrics        http.Handler
	CapacityFeed   http.HandlerFunc
}

// NewRouter registers endpoints. auth authenticates the caller; role checks follow it.
func NewRouter(deps RouterDeps, auth func(http.Handler) http.Handler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("GET /health", deps.Health)
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics)
	}
	if deps.CapacityFeed != nil {
		mux.Handle("GET /ws/capacity", deps.CapacityFeed)
	}

	as := func(h http.HandlerFunc, roles ...middleware.Role) http.Handler {
		if len(roles) == 0 {
			return middleware.Chain(h, auth)
		}
		return middleware.Chain(h, auth, middleware.RequireRole(roles...))
	}
	const (
		customer = middleware.RoleCustomer
		staff    = middleware.RoleStaff
		org      = middleware.RoleOrg
		admin    = middleware.RoleAdmin
	)

	s := deps.Sessions
	mux.Handle("POST /bookings", as(s.CreateBooking, customer, staff))
	mux.Handle("POST /bookings/{token}/cancel", as(s.Cancel, customer, staff))
	mux.Handle("POST /walkins", as(s.CreateWalkIn, staff))
	mux.Handle("GET /scan/{token}", as(s.Redeem, staff))
	mux.Handle("GET /scan/{token}/fee", as(s.PreviewFee, staff, customer))
	mux.Handle("POST /scan/{token}/entry", as(s.ConfirmEntry, staff))
	mux.Handle("POST /scan/{token}/exit", as(s.ConfirmExit, staff))
	mux.Handle("GET /sessions", as(s.List, staff))
	mux.Handle("GET /sessions/me", as(deps.SessionsMe))
	mux.Handle("GET /sessions/{id}", as(s.Get))
	mux.Handle("GET /facilities/{id}/active-sessions", as(deps.ActiveSessions, staff))

	c := deps.Capacity
	mux.Handle("GET /facilities/{id}/capacity", as(c.Snapshot))
	mux.Handle("POST /facilities/{id}/capacity/{vehicle}", as(c.Provision, admin))
	mux.Handle("POST /facilities/{id}/capacity/{vehicle}/adjust", as(c.Adjust, admin))

	b := deps.Bulk
	mux.Handle("POST /bulk/chunks", as(b.CreateChunk, org))
	mux.Handle("GET /bulk/chunks/{id}", as(b.GetChunk, org, staff))
	mux.Handle("POST /bulk/chunks/{id}/assignments", as(b.Assign, org))
	mux.Handle("GET /bulk/chunks/{id}/assignments", as(b.ListAssignments, org, staff))
	mux.Handle("POST /bulk/chunks/{id}/reconcile", as(b.Reconcile, admin))
	mux.Handle("POST /bulk/assignments/{id}/release", as(b.Release, org))
	mux.Handle("POST /tokens/decode", as(deps.DecodeToken, staff, org))

	t := deps.Transactions
	mux.Handle("GET /transactions", as(t.List, admin))
	mux.Handle("GET /transactions/me", as(t.Me))
	mux.Handle("GET /transactions/{id}", as(t.Get))
	mux.Handle("POST /transactions/{id}/status", as(t.SetStatus, admin))

	return mux
}
