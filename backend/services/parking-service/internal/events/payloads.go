package events

// SessionEvent is published when a session reaches a terminal state.
type SessionEvent struct {
	SessionID     int64  `json:"session_id"`
	Kind          string `json:"kind"`
	State         string `json:"state"`
	FacilityID    int64  `json:"facility_id"`
	UserID        int64  `json:"user_id"`
	VehicleType   string `json:"vehicle_type"`
	TotalFee      string `json:"total_fee"`
	TransactionID int64  `json:"transaction_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// BulkAssignedEvent is published for every new sub-assignment.
type BulkAssignedEvent struct {
	ChunkID        int64  `json:"chunk_id"`
	AssignmentID   int64  `json:"assignment_id"`
	AssigneeID     int64  `json:"assignee_id"`
	AssignedSpots  int    `json:"assigned_spots"`
	AvailableSpots int    `json:"available_spots"`
	ChunkStatus    string `json:"chunk_status"`
}
