// Package logx configures capsuled's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional ops-alert sink (min-level + rate limiting), e.g. a Telegram chat
package logx
