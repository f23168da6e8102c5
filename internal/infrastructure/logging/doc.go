// Package logging provides structured logging for WattSync.
//
// It wraps log/slog so every component logs the same way:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Every entry carries service and version fields. Components receive a
// child logger tagged with their name:
//
//	log := logging.New(cfg.Logging, version)
//	subLog := log.With("component", "subscriber")
//	subLog.Warn("push channel dropped", "house_id", 7, "error", err)
//
// Never log the session credential. Use RedactToken when a token has to be
// correlated in logs.
package logging
