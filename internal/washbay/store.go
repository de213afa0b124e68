package washbay

import (
	"context"
	"time"
)

// LogEntry opens a wash log. Empty strings are stored as NULL.
type LogEntry struct {
	BayID     string
	Course    string
	Status    State
	StartTime time.Time
	SessionID string
	RequestID string
}

// Snapshot is the last published view of a bay.
type Snapshot struct {
	BayID     string
	SessionID string
	RequestID string
	State     State
	Progress  int
	Course    string
	ErrorCode string
	UpdatedAt time.Time
}

// Store persists wash logs and bay snapshots.
//
// Failures are logged by the gateway and never alter bay state.
type Store interface {
	// CreateLog opens a wash log and returns its id.
	CreateLog(ctx context.Context, entry LogEntry) (int64, error)

	// CloseLog sets the end time, final state and error code of an open log.
	CloseLog(ctx context.Context, logID int64, finalState State, errorCode string, endTime time.Time) error

	// UpsertSnapshot replaces the bay's snapshot row.
	UpsertSnapshot(ctx context.Context, snap Snapshot) error
}

// SnapshotLoader is implemented by stores that can return the snapshots
// left by a previous run.
type SnapshotLoader interface {
	LoadSnapshots(ctx context.Context) ([]Snapshot, error)
}

// Publisher sends messages to the bus. *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// Telemetry receives time-series points. Optional.
type Telemetry interface {
	RecordBay(gatewayID string, b *Bay, ts time.Time)
	RecordConnection(gatewayID string, connected bool, backoff time.Duration)
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}
