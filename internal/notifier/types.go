package notifier

import (
	"time"

	kit "tweetfeeder/internal/transport"
)

// Config controls the async alert pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

// Alert is one message for the operator. Priority 0 is low, 10 is high;
// it only affects the prefix glyph.
type Alert struct {
	Priority int
	Target   kit.ChatTarget
	Text     string
	Options  *kit.SendOptions
}

type HistoryItem struct {
	At   time.Time
	Text string
}
