// Package log provides the slog setup used by torswitch.
//
// It adds two things on top of log/slog:
//   - LevelTrace, the level at which the rotation engine reports every state
//     transition. It sits below slog.LevelDebug and is printed as "TRACE".
//   - SecureHandler, a handler wrapper that masks control-port passwords,
//     hashed passwords and authentication cookies before records reach the
//     underlying handler.
//
// # Usage
//
//	logger := log.NewSecureLogger(os.Stderr, true) // verbose enables TRACE
//	logger.Log(ctx, log.LevelTrace, "state changed", "state", "Authenticating")
//
// The logger is compatible with tornago through tornago.NewSlogAdapter.
package log
