package influxdb

import "errors"

// Sentinel errors for InfluxDB operations. Check with errors.Is.
var (
	// ErrNotConnected indicates the client is closed or was never connected.
	ErrNotConnected = errors.New("influxdb: not connected")

	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrWriteFailed wraps asynchronous batch failures passed to SetOnError.
	ErrWriteFailed = errors.New("influxdb: write failed")

	// ErrDisabled indicates telemetry is turned off in config.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
