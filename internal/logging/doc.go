// Package logging provides structured logging with per-module log levels.
//
// Initialize the system once at startup, then fetch a logger per module:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"transmit": "debug",
//		},
//	})
//
//	logger := logging.GetLogger("capture")
//	logger.Info("Capture started", "fps", 30)
//
// Each module logger owns a slog.LevelVar, so calling Initialize again (the
// config watcher does this when the [logging] section changes) adjusts levels
// without replacing loggers already handed out.
//
// Output goes to stdout (text or json) when stdout is usable and to the
// systemd journal when journald is reachable; both are combined through
// MultiHandler. Journal entries use the identifier "screencast":
//
//	journalctl -t screencast MODULE=transmit
package logging
