// Package logging provides structured logging for the robot link tools.
//
// This package wraps a global zap logger with convenience functions for the
// logging patterns used across the link: lifecycle events, envelope hex
// dumps and discarded-frame accounting.
//
// # Log Levels
//
//   - Debug: Envelope hex dumps, discarded frames, resync events
//   - Info: Link open/close, robot connections, periodic counters
//   - Warn: Recoverable transport issues (timeouts, dropped clients)
//   - Error: Fatal link errors
//
// # Configuration
//
// Logging is silent unless a level is given, either explicitly or through
// the MBOTLINK_LOG_LEVEL environment variable:
//
//	if err := logging.Initialize("debug"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// Logs go to stderr so decoded messages printed on stdout stay pipeable.
//
// # Thread Safety
//
// All logging functions are safe for concurrent use once Initialize has run.
package logging
