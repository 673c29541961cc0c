// Package logx configures tweetfeeder's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Live reconfiguration through Service.Apply (config hot reload)
package logx
