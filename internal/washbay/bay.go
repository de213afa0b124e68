package washbay

import (
	"time"

	"github.com/nerrad567/washbay-gateway/internal/bridges/modbus"
)

// State is a bay's position in the wash state machine.
type State string

// Bay states. STARTING and OFFLINE never come from the PLC.
const (
	StateIdle     State = modbus.StateIdle
	StateStarting State = "STARTING"
	StateWashing  State = modbus.StateWashing
	StateDone     State = modbus.StateDone
	StateCanceled State = modbus.StateCanceled
	StateError    State = modbus.StateError
	StateOffline  State = "OFFLINE"
)

// ErrorCodeOffline marks bays forced OFFLINE by a lost PLC link.
const ErrorCodeOffline = "PROTOCOL_OFFLINE"

// Active reports whether a wash is being started or running.
func (s State) Active() bool {
	return s == StateStarting || s == StateWashing
}

// Terminal reports whether s ends a wash session.
func (s State) Terminal() bool {
	switch s {
	case StateDone, StateCanceled, StateError, StateOffline:
		return true
	}
	return false
}

// Bay is the gateway's view of one wash station.
// Empty strings stand for null. LogID is non-nil exactly while a wash log
// for the bay is open.
type Bay struct {
	ID        string
	State     State
	Progress  int
	Course    string
	ErrorCode string
	SessionID string
	RequestID string
	LogID     *int64

	// UpdatedAt is when the bay was last published.
	UpdatedAt time.Time
}

func newBay(id string) *Bay {
	return &Bay{ID: id, State: StateIdle}
}

// clearCorrelation drops the session, request and log handles.
func (b *Bay) clearCorrelation() {
	b.SessionID = ""
	b.RequestID = ""
	b.LogID = nil
}

// BayView is a read-only copy of a bay handed out by Gateway.Bays.
type BayView struct {
	ID        string    `json:"bayId"`
	State     State     `json:"state"`
	Progress  int       `json:"progress"`
	Course    string    `json:"course,omitempty"`
	ErrorCode string    `json:"errorCode,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	RequestID string    `json:"requestId,omitempty"`
	LogOpen   bool      `json:"logOpen"`
	UpdatedAt time.Time `json:"updatedAt"`

	// LastCourse is the course from the persisted snapshot at startup.
	// Diagnostic only.
	LastCourse string `json:"lastCourse,omitempty"`
}
