// Package logging provides the bridge's structured logger.
//
// It wraps log/slog with the bridge's defaults: JSON records for log
// shippers (or text for a terminal), level filtering, and service and
// version fields stamped on every record.
//
// # Configuration
//
// The logging section of config.yaml drives everything:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("UDP listener started", "port", 1202)
//	logger.Warn("checksum mismatch", "cob_id", 16)
//
// Subsystems derive tagged children via With:
//
//	mqttLog := logger.With("component", "mqtt")
//
// Startup code that runs before configuration is parsed uses Default().
//
// Never log credentials: the config package renders itself with secrets
// masked, use that instead of logging raw sections.
package logging
