// Package logging provides structured logging for streamlink.
//
// It wraps log/slog with JSON or text output, level filtering, and the
// default fields service and version on every entry.
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
//	logger := logging.New(cfg.Logging, version)
//	client.SetLogger(logger.Component("realtime"))
//
// Never log service or broker passwords.
package logging
