// Package lifecycle holds the exhaustive transition tables for bookings and
// billings. Any (kind, state, event) triple missing from the table is rejected.
package lifecycle

import "parkline/backend/services/parking-service/internal/models"

// Event is what drives a session out of its current state.
type Event string

const (
	EvEntryScanned    Event = "entry_scanned"
	EvEntryExpired    Event = "entry_expired"
	EvCancelRequested Event = "cancel_requested"
	EvExitConfirmed   Event = "exit_confirmed"
)

// Transition is a single allowed edge.
type Transition struct {
	Kind  models.SessionKind
	From  models.SessionState
	To    models.SessionState
	Event Event
}

var transitionsTable = []Transition{
	{Kind: models.KindBooking, From: models.StateActive, To: models.StateOngoing, Event: EvEntryScanned},
	{Kind: models.KindBooking, From: models.StateActive, To: models.StateCancelled, Event: EvEntryExpired},
	{Kind: models.KindBooking, From: models.StateActive, To: models.StateCancelled, Event: EvCancelRequested},
	{Kind: models.KindBooking, From: models.StateOngoing, To: models.StateCompleted, Event: EvExitConfirmed},

	{Kind: models.KindBilling, From: models.StatePending, To: models.StateCompleted, Event: EvExitConfirmed},
}

var statesByKind = map[models.SessionKind][]models.SessionState{
	models.KindBooking: {models.StateActive, models.StateOngoing, models.StateCompleted, models.StateCancelled},
	models.KindBilling: {models.StatePending, models.StateCompleted},
}

// TransitionFor returns the allowed transition for kind+state+event.
func TransitionFor(kind models.SessionKind, from models.SessionState, ev Event) (Transition, bool) {
	for _, tr := range transitionsTable {
		if tr.Kind == kind && tr.From == from && tr.Event == ev {
			return tr, true
		}
	}
	return Transition{}, false
}

// InitialState is the state a freshly created session starts in.
func InitialState(kind models.SessionKind) models.SessionState {
	if kind == models.KindBooking {
		return models.StateActive
	}
	return models.StatePending
}

// ValidState reports whether state belongs to kind's state machine.
func ValidState(kind models.SessionKind, state models.SessionState) bool {
	for _, s := range statesByKind[kind] {
		if s == state {
			return true
		}
	}
	return false
}
