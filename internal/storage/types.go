package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures the event log.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// EventRecord is one routed event as persisted. Keep it schema-stable.
type EventRecord struct {
	At       time.Time `json:"time"`
	Category string    `json:"category"`
	Severity string    `json:"severity"`
	Text     string    `json:"text"`
}
