// Package logx configures postbot's structured logging.
//
// A thin value-type wrapper (logx.Logger) over zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional Telegram sink (min-level + rate limiting) for the log chat
package logx
