// Package api implements the gateway's read-only operations API.
//
// This package provides:
//   - Health of the PLC link, the MQTT bus and the database
//   - The live in-memory view of every bay
//   - Recent wash logs and wash statistics from SQLite
//   - Prometheus metrics at /metrics
//   - Middleware stack (request ID, logging, recovery)
//
// Commands never enter through HTTP; they arrive on the MQTT bus only.
package api
