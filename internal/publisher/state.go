package publisher

import "time"

type State int

const (
	StateIdle State = iota
	StateLoading
	StateWaiting
	StatePublishing
	StatePersisting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateWaiting:
		return "waiting"
	case StatePublishing:
		return "publishing"
	case StatePersisting:
		return "persisting"
	case StateStopped:
		return "stopped"
	default:
		return "idle"
	}
}

// StopReason says why Run returned.
type StopReason int

const (
	ReasonNone StopReason = iota
	ReasonExhausted
	ReasonFatal
	ReasonStoppedByOperator
)

func (r StopReason) String() string {
	switch r {
	case ReasonExhausted:
		return "exhausted"
	case ReasonFatal:
		return "fatal"
	case ReasonStoppedByOperator:
		return "stopped_by_operator"
	default:
		return "none"
	}
}

// Progress is a point-in-time view of the worker for status output.
type Progress struct {
	State      State
	Reason     StopReason
	FeedIndex  int
	FeedLength int
	NextFire   time.Time
	Published  int
	LastError  string
}
