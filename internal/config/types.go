package config

// Config is the on-disk configuration of a feeder bot instance.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Platform     PlatformConfig `json:"platform"`
	Feed         FeedConfig     `json:"feed"`
	Cursor       CursorConfig   `json:"cursor"`
	Schedule     ScheduleConfig `json:"schedule"`
	Capabilities Capabilities   `json:"capabilities"`
	Logging      LoggingConfig  `json:"logging"`
	Events       EventsConfig   `json:"events"`

	// Notifier controls the async alert pipeline. If omitted, runtime defaults apply.
	Notifier *NotifierConfig `json:"notifier,omitempty"`

	Stream        StreamConfig        `json:"stream,omitempty"`
	Report        ReportConfig        `json:"report,omitempty"`
	Observability ObservabilityConfig `json:"observability,omitempty"`
}

// PlatformConfig selects the publishing platform and the accounts the bot acts as.
//
// Driver values:
//   - "dryrun": log published text instead of sending (default)
//   - "telegram": post to Channel with a bot token; alerts go to OperatorID as DMs
type PlatformConfig struct {
	Driver  string `json:"driver"`
	Token   string `json:"token,omitempty"` // never logged
	Channel string `json:"channel,omitempty"`

	// AccountID is the bot's own account on the platform. Inbound callbacks
	// authored by or replying to this id are classified relative to it.
	AccountID int64 `json:"account_id"`
	// OperatorID receives alert messages.
	OperatorID int64 `json:"operator_id,omitempty"`

	PollTimeout string `json:"poll_timeout,omitempty"`
}

type FeedConfig struct {
	Path string `json:"path"`
}

type CursorConfig struct {
	Path string `json:"path"`
}

// ScheduleConfig holds the daily publish targets.
//
// Example:
//
//	"schedule": { "times": ["9:00", "12:02", "18:30"], "timezone": "Asia/Tokyo" }
type ScheduleConfig struct {
	Times    []string `json:"times"`
	Timezone string   `json:"timezone,omitempty"`

	// ImmediateDelay is the offset used when no times are configured and the
	// bot runs in rehearsal mode. Default "2s".
	ImmediateDelay string `json:"immediate_delay,omitempty"`
	// MinPublishDelay separates chained items of one batch. Default "10s".
	MinPublishDelay string `json:"min_publish_delay,omitempty"`
}

// Capabilities toggles independent behaviors of a bot instance.
type Capabilities struct {
	LogToFile      bool `json:"log_to_file"`
	PublishOffline bool `json:"publish_offline"`
	PublishOnline  bool `json:"publish_online"`
	SaveIndex      bool `json:"save_index"`
	SaveStats      bool `json:"save_stats"`
	WatchStream    bool `json:"watch_stream"`
	SendAlerts     bool `json:"send_alerts"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// EventsConfig configures the event router sinks beyond the console.
type EventsConfig struct {
	// Store is the durable event log. Nil or driver "none" disables it.
	Store *StorageConfig `json:"store,omitempty"`
	Alert AlertConfig    `json:"alert,omitempty"`
}

// AlertConfig lists the categories forwarded to the operator, e.g.
// ["NET.GetReply", "NET.GetQuoteRetweet"]. Empty means the default set.
type AlertConfig struct {
	Categories []string `json:"categories,omitempty"`
}

// StorageConfig controls the durable event log backend.
//
// Example:
//
//	"store": { "driver": "sqlite", "path": "./logs/bot_events.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// NotifierConfig controls the async alert pipeline.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
}

// StreamConfig points at the websocket endpoints delivering inbound callbacks.
// Hosts are tried in order on reconnect.
type StreamConfig struct {
	Hosts     []string `json:"hosts,omitempty"`
	UserAgent string   `json:"user_agent,omitempty"`
	Token     string   `json:"token,omitempty"` // sent as bearer; never logged
}

// ReportConfig schedules the periodic progress digest. Spec is a cron
// expression, e.g. "0 9 * * *".
type ReportConfig struct {
	Enabled bool   `json:"enabled"`
	Spec    string `json:"spec,omitempty"`
}

// ObservabilityConfig controls the optional HTTP server exposing /metrics
// and, when Pprof is set, /debug/pprof/.
//
// Prefer binding to localhost (default "127.0.0.1:9464").
type ObservabilityConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Pprof   bool   `json:"pprof,omitempty"`
}
