package app

// StopReason records why the process is shutting down. It is logged and
// carried in the SYS.ShutDown event.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
	// StopIdle means the worker finished and nothing else keeps the process alive.
	StopIdle StopReason = "idle"
)
