package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"parkline/backend/services/parking-service/internal/events"
	"parkline/backend/services/parking-service/internal/fee"
	"parkline/backend/services/parking-service/internal/lifecycle"
	"parkline/backend/services/parking-service/internal/metrics"
	"parkline/backend/services/parking-service/internal/models"
	redisstore "parkline/backend/services/parking-service/internal/redis"
	"parkline/backend/services/parking-service/internal/repository"
	"parkline/backend/services/parking-service/internal/token"
)

const reasonExpired = "expired before entry"

// SessionsDeps groups the collaborators of SessionsService. Active, Events and Metrics
// are optional.
type SessionsDeps struct {
	Sessions   SessionStore
	Capacity   *CapacityService
	Catalog    *CatalogService
	Reconciler *Reconciler
	Tokens     *token.Registry
	Active     ActiveCache
	Events     events.Publisher
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// SessionsService drives the booking and billing state machines.
type SessionsService struct {
	sessions   SessionStore
	capacity   *CapacityService
	catalog    *CatalogService
	reconciler *Reconciler
	tokens     *token.Registry
	active     ActiveCache
	events     events.Publisher
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// NewSessionsService builds service.
func NewSessionsService(deps SessionsDeps) *SessionsService {
	pub := deps.Events
	if pub == nil {
		pub = events.Noop{}
	}
	return &SessionsService{
		sessions:   deps.Sessions,
		capacity:   deps.Capacity,
		catalog:    deps.Catalog,
		reconciler: deps.Reconciler,
		tokens:     deps.Tokens,
		active:     deps.Active,
		events:     pub,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		now:        time.Now,
	}
}

// CreateBookingInput is a reservation request.
type CreateBookingInput struct {
	FacilityID     int64
	UserID         int64
	VehicleType    models.VehicleType
	ScheduledEntry time.Time
	ScheduledExit  time.Time
}

// CreateWalkInInput records an unplanned entry.
type CreateWalkInInput struct {
	FacilityID  int64
	UserID      int64
	VehicleType models.VehicleType
}

// SessionResult is a session plus the notice qualifying the call.
type SessionResult struct {
	Session *models.Session `json:"session"`
	Notice  Notice          `json:"notice,omitempty"`
}

// FeePreview is the side-effect-free fee quote for a session.
type FeePreview struct {
	Session *models.Session `json:"session"`
	Fees    fee.Breakdown   `json:"fees"`
	AsOf    time.Time       `json:"as_of"`
	Notice  Notice          `json:"notice,omitempty"`
}

// ExitResult is the settled session and its ledger entry.
type ExitResult struct {
	Session     *models.Session     `json:"session"`
	Transaction *models.Transaction `json:"transaction,omitempty"`
	Notice      Notice              `json:"notice,omitempty"`
}

// CreateBooking reserves a slot and creates an active booking priced for its window.
func (s *SessionsService) CreateBooking(ctx context.Context, in CreateBookingInput) (*models.Session, error) {
	now := s.now().UTC()
	if in.FacilityID <= 0 || in.UserID <= 0 {
		return nil, fmt.Errorf("%w: facility and user are required", ErrInvalidInput)
	}
	if !in.ScheduledExit.After(in.ScheduledEntry) {
		return nil, fmt.Errorf("%w: scheduled exit must be after scheduled entry", ErrInvalidInput)
	}
	if !in.ScheduledExit.After(now) {
		return nil, fmt.Errorf("%w: scheduled window is already over", ErrInvalidInput)
	}

	pricing, err := s.catalog.Pricing(ctx, in.FacilityID, in.VehicleType)
	if err != nil {
		return nil, err
	}
	if _, err := s.capacity.Take(ctx, in.FacilityID, in.VehicleType, models.QuotaReservation, 1); err != nil {
		return nil, err
	}

	entry, exit := in.ScheduledEntry.UTC(), in.ScheduledExit.UTC()
	session := &models.Session{
		Kind:           models.KindBooking,
		Token:          s.tokens.Issue(in.FacilityID, in.UserID, now),
		FacilityID:     in.FacilityID,
		UserID:         in.UserID,
		VehicleType:    in.VehicleType,
		State:          lifecycle.InitialState(models.KindBooking),
		PaymentStatus:  models.PaymentPending,
		ScheduledEntry: &entry,
		ScheduledExit:  &exit,
		PricePer30Min:  pricing.PricePer30Min,
		Fees:           fee.Reservation(entry, exit, pricing.PricePer30Min, pricing.FixedBookingFee),
		CreatedAt:      now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		s.giveBack(ctx, session, models.QuotaReservation)
		return nil, internalErr("create booking", err)
	}

	s.logger.Info("booking created",
		zap.Int64("session_id", session.ID),
		zap.Int64("facility_id", session.FacilityID),
		zap.Int64("user_id", session.UserID),
		zap.String("vehicle_type", string(session.VehicleType)),
		zap.Time("scheduled_exit", exit),
	)
	return session, nil
}

// CreateWalkIn records a walk-in entry as a pending billing and takes a walk-in slot.
func (s *SessionsService) CreateWalkIn(ctx context.Context, in CreateWalkInInput) (*models.Session, error) {
	now := s.now().UTC()
	if in.FacilityID <= 0 || in.UserID <= 0 {
		return nil, fmt.Errorf("%w: facility and user are required", ErrInvalidInput)
	}

	pricing, err := s.catalog.Pricing(ctx, in.FacilityID, in.VehicleType)
	if err != nil {
		return nil, err
	}
	if _, err := s.capacity.Take(ctx, in.FacilityID, in.VehicleType, models.QuotaWalkIn, 1); err != nil {
		return nil, err
	}

	session := &models.Session{
		Kind:          models.KindBilling,
		Token:         s.tokens.Issue(in.FacilityID, in.UserID, now),
		FacilityID:    in.FacilityID,
		UserID:        in.UserID,
		VehicleType:   in.VehicleType,
		State:         lifecycle.InitialState(models.KindBilling),
		PaymentStatus: models.PaymentPending,
		EntryTime:     &now,
		PricePer30Min: pricing.PricePer30Min,
		CreatedAt:     now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		s.giveBack(ctx, session, models.QuotaWalkIn)
		return nil, internalErr("create walk-in", err)
	}
	s.cacheActive(ctx, session)

	s.logger.Info("walk-in recorded",
		zap.Int64("session_id", session.ID),
		zap.Int64("facility_id", session.FacilityID),
		zap.String("vehicle_type", string(session.VehicleType)),
	)
	return session, nil
}

// Redeem resolves a token to its session. It never mutates anything.
func (s *SessionsService) Redeem(ctx context.Context, tok string) (*models.Session, error) {
	if !token.WellFormed(tok) {
		return nil, fmt.Errorf("%w: unknown token", ErrNotFound)
	}
	session, err := s.sessions.GetByToken(ctx, tok)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown token", ErrNotFound)
		}
		return nil, internalErr("redeem token", err)
	}
	return session, nil
}

// Get returns a session by id.
func (s *SessionsService) Get(ctx context.Context, id int64) (*models.Session, error) {
	session, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: session %d", ErrNotFound, id)
		}
		return nil, internalErr("get session", err)
	}
	return session, nil
}

// PreviewFee quotes what the session would cost if it ended now.
func (s *SessionsService) PreviewFee(ctx context.Context, tok string) (*FeePreview, error) {
	session, err := s.Redeem(ctx, tok)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	preview := &FeePreview{Session: session, AsOf: now}

	switch session.State {
	case models.StateCompleted:
		preview.Fees = session.Fees
		preview.Notice = NoticeAlreadyCompleted
	case models.StateCancelled:
		return nil, reject(RejectCancelled, session.State, "booking was cancelled")
	case models.StateActive:
		preview.Fees = session.Fees
	default:
		preview.Fees = s.settle(session, now)
	}
	return preview, nil
}

// ConfirmEntry records the entry scan of a booking. A booking scanned after its
// scheduled exit is cancelled and reported as expired.
func (s *SessionsService) ConfirmEntry(ctx context.Context, tok string) (*SessionResult, error) {
	session, err := s.Redeem(ctx, tok)
	if err != nil {
		return nil, err
	}
	if !session.IsBooking() {
		if session.State == models.StateCompleted {
			return nil, reject(RejectCompleted, session.State, "walk-in already paid")
		}
		// The walk-in was recorded at entry; nothing to do.
		return &SessionResult{Session: session}, nil
	}

	now := s.now().UTC()
	switch session.State {
	case models.StateOngoing:
		return &SessionResult{Session: session, Notice: NoticeAlreadyEntered}, nil
	case models.StateActive:
	default:
		return nil, s.terminalRejection(session)
	}

	if session.ScheduledExit != nil && now.After(*session.ScheduledExit) {
		return nil, s.expire(ctx, session, now)
	}

	updated, err := s.transition(ctx, session, lifecycle.EvEntryScanned, models.SessionUpdate{EntryTime: &now}, now)
	if err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			return s.entryAfterConflict(ctx, session.ID)
		}
		return nil, err
	}
	s.cacheActive(ctx, updated)
	s.logger.Info("booking entered", zap.Int64("session_id", updated.ID), zap.Time("entry_time", now))
	return &SessionResult{Session: updated}, nil
}

// ConfirmExit settles the session: fee, state, capacity release and ledger entry.
// Re-confirming a completed session returns the stored result unchanged.
func (s *SessionsService) ConfirmExit(ctx context.Context, tok, method string) (*ExitResult, error) {
	session, err := s.Redeem(ctx, tok)
	if err != nil {
		return nil, err
	}

	switch session.State {
	case models.StateCompleted:
		return s.completedResult(ctx, session, method)
	case models.StateCancelled:
		return nil, s.terminalRejection(session)
	case models.StateActive:
		return nil, reject(RejectNotCheckedIn, session.State, "booking has not been checked in")
	}

	now := s.now().UTC()
	fees := s.settle(session, now)
	paid := models.PaymentCompleted
	updated, err := s.transition(ctx, session, lifecycle.EvExitConfirmed, models.SessionUpdate{
		PaymentStatus: &paid,
		ExitTime:      &now,
		Fees:          &fees,
	}, now)
	if err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			latest, getErr := s.Get(ctx, session.ID)
			if getErr != nil {
				return nil, getErr
			}
			if latest.State == models.StateCompleted {
				return s.completedResult(ctx, latest, method)
			}
			return nil, s.terminalRejection(latest)
		}
		return nil, err
	}

	quota := models.QuotaWalkIn
	if updated.IsBooking() {
		quota = models.QuotaReservation
	}
	s.giveBack(ctx, updated, quota)

	tx, err := s.reconciler.Reconcile(ctx, LedgerRef{
		Type:        models.TxTypeFor(updated.Kind),
		ReferenceID: updated.ID,
		UserID:      updated.UserID,
	}, updated.Fees.TotalFee, method)
	if err != nil {
		return nil, err
	}
	updated.TransactionID = &tx.ID

	s.dropActive(ctx, updated)
	s.publish(ctx, events.SessionCompleted, updated, tx)
	s.logger.Info("session completed",
		zap.Int64("session_id", updated.ID),
		zap.String("kind", string(updated.Kind)),
		zap.String("total_fee", updated.Fees.TotalFee.StringFixed(2)),
		zap.Int("extra_minutes", updated.Fees.ExtraMinutes),
		zap.Int64("transaction_id", tx.ID),
	)
	return &ExitResult{Session: updated, Transaction: tx}, nil
}

// CancelBooking cancels a booking that hasn't been entered yet and frees its slot.
func (s *SessionsService) CancelBooking(ctx context.Context, tok string) (*SessionResult, error) {
	session, err := s.Redeem(ctx, tok)
	if err != nil {
		return nil, err
	}
	if !session.IsBooking() {
		return nil, reject(RejectNotABooking, session.State, "only bookings can be cancelled")
	}
	switch session.State {
	case models.StateCancelled:
		return &SessionResult{Session: session, Notice: NoticeAlreadyCancelled}, nil
	case models.StateActive:
	default:
		return nil, reject(RejectNotCancellable, session.State, "booking can no longer be cancelled")
	}

	now := s.now().UTC()
	reason := "cancelled by customer"
	updated, err := s.transition(ctx, session, lifecycle.EvCancelRequested, models.SessionUpdate{CancelReason: &reason}, now)
	if err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			latest, getErr := s.Get(ctx, session.ID)
			if getErr != nil {
				return nil, getErr
			}
			if latest.State == models.StateCancelled {
				return &SessionResult{Session: latest, Notice: NoticeAlreadyCancelled}, nil
			}
			return nil, reject(RejectNotCancellable, latest.State, "booking can no longer be cancelled")
		}
		return nil, err
	}
	s.giveBack(ctx, updated, models.QuotaReservation)
	s.publish(ctx, events.BookingCancelled, updated, nil)
	s.logger.Info("booking cancelled", zap.Int64("session_id", updated.ID))
	return &SessionResult{Session: updated}, nil
}

// ListSessions returns sessions matching the filter.
func (s *SessionsService) ListSessions(ctx context.Context, f models.SessionFilter) ([]models.Session, error) {
	out, err := s.sessions.List(ctx, f)
	if err != nil {
		return nil, internalErr("list sessions", err)
	}
	return out, nil
}

// ActiveSessions lists the vehicles currently inside a facility. The cache is preferred;
// the session store answers when the cache is absent or failing.
func (s *SessionsService) ActiveSessions(ctx context.Context, facilityID int64) ([]redisstore.ActiveSession, error) {
	if s.active != nil {
		cached, err := s.active.ListByFacility(ctx, facilityID)
		if err == nil {
			return cached, nil
		}
		s.logger.Warn("active session cache unavailable, falling back to store",
			zap.Int64("facility_id", facilityID), zap.Error(err))
	}

	rows, err := s.sessions.List(ctx, models.SessionFilter{
		FacilityID: facilityID,
		States:     []models.SessionState{models.StateOngoing, models.StatePending},
	})
	if err != nil {
		return nil, internalErr("list active sessions", err)
	}
	out := make([]redisstore.ActiveSession, 0, len(rows))
	for i := range rows {
		out = append(out, toActive(&rows[i]))
	}
	return out, nil
}

// settle prices the session as if it ended at exit.
func (s *SessionsService) settle(session *models.Session, exit time.Time) fee.Breakdown {
	var entry time.Time
	if session.EntryTime != nil {
		entry = *session.EntryTime
	}
	if !session.IsBooking() {
		return fee.WalkIn(entry, exit, session.PricePer30Min)
	}
	return fee.Settle(session.Fees, entry, *session.ScheduledExit, exit, session.PricePer30Min)
}

// transition applies the table edge for ev with a compare-and-set on the current state.
func (s *SessionsService) transition(ctx context.Context, session *models.Session, ev lifecycle.Event, upd models.SessionUpdate, now time.Time) (*models.Session, error) {
	tr, ok := lifecycle.TransitionFor(session.Kind, session.State, ev)
	if !ok {
		return nil, reject(RejectStatusTransition, session.State, fmt.Sprintf("%s not allowed", ev))
	}
	upd.State = tr.To
	updated, err := s.sessions.Transition(ctx, session.ID, tr.From, upd, now)
	if err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			return nil, err
		}
		return nil, internalErr("transition session", err)
	}
	s.metrics.Transition(session.Kind, tr.From, tr.To)
	return updated, nil
}

func (s *SessionsService) expire(ctx context.Context, session *models.Session, now time.Time) error {
	reason := reasonExpired
	updated, err := s.transition(ctx, session, lifecycle.EvEntryExpired, models.SessionUpdate{CancelReason: &reason}, now)
	switch {
	case err == nil:
		s.giveBack(ctx, updated, models.QuotaReservation)
		s.publish(ctx, events.BookingExpired, updated, nil)
		s.logger.Info("booking expired before entry", zap.Int64("session_id", updated.ID))
	case errors.Is(err, repository.ErrStateConflict):
		// Someone else moved it first; report expiry all the same.
	default:
		return err
	}
	s.metrics.Rejection(string(RejectExpired))
	return reject(RejectExpired, models.StateCancelled, reasonExpired)
}

func (s *SessionsService) entryAfterConflict(ctx context.Context, id int64) (*SessionResult, error) {
	latest, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if latest.State == models.StateOngoing {
		return &SessionResult{Session: latest, Notice: NoticeAlreadyEntered}, nil
	}
	return nil, s.terminalRejection(latest)
}

func (s *SessionsService) completedResult(ctx context.Context, session *models.Session, method string) (*ExitResult, error) {
	notice := NoticeAlreadyCompleted
	if !session.IsBooking() {
		notice = NoticeAlreadyPaid
	}
	typ := models.TxTypeFor(session.Kind)
	tx, err := s.reconciler.ForReference(ctx, typ, session.ID)
	if errors.Is(err, ErrNotFound) {
		// The terminal write landed but the ledger write didn't; finish it now.
		tx, err = s.reconciler.Reconcile(ctx, LedgerRef{Type: typ, ReferenceID: session.ID, UserID: session.UserID}, session.Fees.TotalFee, method)
	}
	if err != nil {
		return nil, err
	}
	s.metrics.Rejection(string(notice))
	return &ExitResult{Session: session, Transaction: tx, Notice: notice}, nil
}

func (s *SessionsService) terminalRejection(session *models.Session) error {
	var err error
	switch session.State {
	case models.StateCancelled:
		reason := "booking was cancelled"
		if session.CancelReason != "" {
			reason = "booking was cancelled: " + session.CancelReason
		}
		err = reject(RejectCancelled, session.State, reason)
	case models.StateCompleted:
		err = reject(RejectCompleted, session.State, "session already completed")
	default:
		err = reject(RejectStatusTransition, session.State, "operation not allowed in this state")
	}
	var rej *RejectionError
	if errors.As(err, &rej) {
		s.metrics.Rejection(string(rej.Code))
	}
	return err
}

// giveBack releases one slot. Failures are logged: the session outcome stands.
func (s *SessionsService) giveBack(ctx context.Context, session *models.Session, q models.Quota) {
	if _, err := s.capacity.Release(ctx, session.FacilityID, session.VehicleType, q, 1); err != nil {
		s.logger.Error("failed to release capacity",
			zap.Int64("session_id", session.ID),
			zap.Int64("facility_id", session.FacilityID),
			zap.String("quota", string(q)),
			zap.Error(err),
		)
	}
}

func (s *SessionsService) cacheActive(ctx context.Context, session *models.Session) {
	if s.active == nil {
		return
	}
	if err := s.active.Save(ctx, toActive(session)); err != nil {
		s.logger.Warn("failed to cache active session", zap.Int64("session_id", session.ID), zap.Error(err))
	}
}

func (s *SessionsService) dropActive(ctx context.Context, session *models.Session) {
	if s.active == nil {
		return
	}
	if err := s.active.Delete(ctx, session.FacilityID, session.Token); err != nil {
		s.logger.Warn("failed to drop active session", zap.Int64("session_id", session.ID), zap.Error(err))
	}
}

func (s *SessionsService) publish(ctx context.Context, routingKey string, session *models.Session, tx *models.Transaction) {
	evt := events.SessionEvent{
		SessionID:   session.ID,
		Kind:        string(session.Kind),
		State:       string(session.State),
		FacilityID:  session.FacilityID,
		UserID:      session.UserID,
		VehicleType: string(session.VehicleType),
		TotalFee:    session.Fees.TotalFee.StringFixed(2),
		Reason:      session.CancelReason,
	}
	if tx != nil {
		evt.TransactionID = tx.ID
	}
	if err := s.events.Publish(ctx, routingKey, evt); err != nil {
		s.logger.Warn("failed to publish session event",
			zap.String("routing_key", routingKey),
			zap.Int64("session_id", session.ID),
			zap.Error(err),
		)
	}
}

func toActive(session *models.Session) redisstore.ActiveSession {
	a := redisstore.ActiveSession{
		SessionID:   session.ID,
		Token:       session.Token,
		Kind:        string(session.Kind),
		FacilityID:  session.FacilityID,
		UserID:      session.UserID,
		VehicleType: string(session.VehicleType),
	}
	if session.EntryTime != nil {
		a.EntryTime = *session.EntryTime
	}
	return a
}
