// Package logx configures wheeld's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Warn/Error bursts capped per second, with suppressed lines counted
package logx
