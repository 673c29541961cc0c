// Package storage is the durable event log.
//
// Drivers:
//   - "file": append-only JSON Lines
//   - "sqlite": a single events table (modernc.org/sqlite, no cgo)
package storage
