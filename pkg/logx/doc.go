// Package logx configures remindbot's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps call sites short:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured and rotated by lumberjack
//   - Optional Telegram sink (min-level + rate limiting)
package logx
