package washbay

import (
	"time"

	"github.com/nerrad567/washbay-gateway/internal/infrastructure/influxdb"
)

// influxTelemetry writes bay and connection points to InfluxDB.
type influxTelemetry struct {
	client *influxdb.Client
}

// NewInfluxTelemetry adapts an InfluxDB client to Telemetry.
func NewInfluxTelemetry(client *influxdb.Client) Telemetry {
	return influxTelemetry{client: client}
}

func (t influxTelemetry) RecordBay(gatewayID string, b *Bay, ts time.Time) {
	t.client.WriteBayState(influxdb.BayPoint{
		GatewayID: gatewayID,
		BayID:     b.ID,
		State:     string(b.State),
		Progress:  b.Progress,
		Course:    b.Course,
		ErrorCode: b.ErrorCode,
		Time:      ts,
	})
}

func (t influxTelemetry) RecordConnection(gatewayID string, connected bool, backoff time.Duration) {
	t.client.WriteConnectionEvent(gatewayID, connected, backoff)
}
