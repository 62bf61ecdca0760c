// Package logger wraps zap with the conveniences the rollout binaries need:
//   - a shared global sugared logger with a console encoder,
//   - context helpers (ToContext/FromContext/WithName/WithKV/WithFields),
//   - level parsing for the --log-level flag,
//   - leveled convenience functions (Infof, ErrorKV, etc.).
//
// Every service takes a context and pulls its logger from it, so run-scoped
// fields such as the run ID follow an entire install.
package logger
