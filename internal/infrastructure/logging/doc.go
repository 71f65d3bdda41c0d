// Package logging provides structured logging for the bridge and the device agent.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across both binaries.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "bridge", "1.0.0")
//	logger.Info("device status updated", "device_id", id)
//	logger.Error("failed to dispatch command", "command_id", cmdID, "error", err)
//
// Never log broker passwords or API tokens.
package logging
