package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementBay        = "wash_bay"
	MeasurementConnection = "modbus_connection"
)

// BayPoint is one published bay status, as recorded in wash_bay.
type BayPoint struct {
	GatewayID string
	BayID     string
	State     string
	Progress  int
	Course    string // empty when unknown
	ErrorCode string // empty when none
	Time      time.Time
}

// WriteBayState records a bay status publish.
//
// Tags: gateway, bay, state (low cardinality).
// Fields: progress, course, error_code, active (1 while STARTING/WASHING).
func (c *Client) WriteBayState(p BayPoint) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(bayPoint(p))
}

// WriteConnectionEvent records a Modbus connection transition.
//
// Parameters:
//   - gatewayID: Tag identifying this gateway
//   - connected: New connection state
//   - backoff: Delay until the next reconnect attempt (0 when connected)
func (c *Client) WriteConnectionEvent(gatewayID string, connected bool, backoff time.Duration) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(connectionPoint(gatewayID, connected, backoff, time.Now()))
}

// WritePoint writes a custom point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

func bayPoint(p BayPoint) *write.Point {
	ts := p.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	active := 0
	if p.State == "STARTING" || p.State == "WASHING" {
		active = 1
	}

	fields := map[string]any{
		"progress": p.Progress,
		"active":   active,
	}
	if p.Course != "" {
		fields["course"] = p.Course
	}
	if p.ErrorCode != "" {
		fields["error_code"] = p.ErrorCode
	}

	return write.NewPoint(
		MeasurementBay,
		map[string]string{
			"gateway": p.GatewayID,
			"bay":     p.BayID,
			"state":   p.State,
		},
		fields,
		ts,
	)
}

func connectionPoint(gatewayID string, connected bool, backoff time.Duration, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementConnection,
		map[string]string{"gateway": gatewayID},
		map[string]any{
			"connected":  connected,
			"backoff_ms": backoff.Milliseconds(),
		},
		ts,
	)
}
