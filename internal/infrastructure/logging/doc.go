// Package logging provides structured logging for the vineyard registry.
//
// It wraps log/slog with JSON or text output, level filtering and default
// service and version fields on every entry.
//
// Logging is configured through the logging section:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	reg.SetLogger(logger.Component("registry"))
//	logger.Error("bootstrap failed", "error", err)
//
// Never log store DSNs, broker passwords or InfluxDB tokens.
package logging
