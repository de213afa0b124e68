// Package logging provides structured logging for the wash bay gateway.
//
// It wraps log/slog with:
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Rotating file output through lumberjack
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, file
//	  file:
//	    path: "./logs/washbay-gateway.log"
//	    max_size: 10     # MB
//	    max_backups: 3
//	    max_age: 7       # days
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	defer logger.Close()
//	logger.Info("poll cycle aborted", "bay_id", "bay2", "error", err)
package logging
