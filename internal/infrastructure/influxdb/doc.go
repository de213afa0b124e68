// Package influxdb records gateway telemetry in InfluxDB v2.
//
// Two measurements are written:
//   - wash_bay: one point per bay status publish (state, progress, course)
//   - modbus_connection: one point per PLC link transition
//
// Writes go through the client library's non-blocking batched WriteAPI.
// Telemetry is optional; Connect returns ErrDisabled when influxdb.enabled
// is false and callers carry on without it.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	client.WriteBayState(influxdb.BayPoint{BayID: "bay1", State: "WASHING", Progress: 40})
package influxdb
