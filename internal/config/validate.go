package config

import (
	"fmt"
	"strings"
	"time"

	"tweetfeeder/internal/schedule"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// Validate rejects configs that would fail at wiring time. It is used both
// at startup and as the hot-reload validator.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	switch d := strings.ToLower(strings.TrimSpace(cfg.Platform.Driver)); d {
	case "", "dryrun":
	case "telegram":
		if strings.TrimSpace(cfg.Platform.Token) == "" {
			return fmt.Errorf("platform.token is required when platform.driver=telegram")
		}
	default:
		return fmt.Errorf("platform.driver: unknown %q", cfg.Platform.Driver)
	}
	if _, err := ParseDurationField("platform.poll_timeout", cfg.Platform.PollTimeout); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Feed.Path) == "" {
		return fmt.Errorf("feed.path is required")
	}
	if strings.TrimSpace(cfg.Cursor.Path) == "" {
		return fmt.Errorf("cursor.path is required")
	}
	if _, err := schedule.Parse(cfg.Schedule.Times); err != nil {
		return fmt.Errorf("schedule.times: %w", err)
	}
	if tz := strings.TrimSpace(cfg.Schedule.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("schedule.timezone: invalid %q: %w", tz, err)
		}
	}
	if _, err := ParseDurationField("schedule.immediate_delay", cfg.Schedule.ImmediateDelay); err != nil {
		return err
	}
	if _, err := ParseDurationField("schedule.min_publish_delay", cfg.Schedule.MinPublishDelay); err != nil {
		return err
	}
	if st := cfg.Events.Store; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none", "file", "jsonl":
		case "sqlite", "sqlite3":
			if strings.TrimSpace(st.Path) == "" {
				return fmt.Errorf("events.store.path is required when driver=sqlite")
			}
		default:
			return fmt.Errorf("events.store.driver: unknown %q", st.Driver)
		}
		if _, err := ParseDurationField("events.store.busy_timeout", st.BusyTimeout); err != nil {
			return err
		}
	}
	if n := cfg.Notifier; n != nil {
		if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 || n.DedupMaxEntries < 0 {
			return fmt.Errorf("notifier: numeric fields must be >= 0")
		}
		for path, raw := range map[string]string{
			"notifier.retry_base":      n.RetryBase,
			"notifier.retry_max_delay": n.RetryMaxDelay,
			"notifier.dedup_window":    n.DedupWindow,
		} {
			if _, err := ParseDurationField(path, raw); err != nil {
				return err
			}
		}
	}
	if cfg.Capabilities.WatchStream && len(cfg.Stream.Hosts) == 0 {
		return fmt.Errorf("stream.hosts is required when capabilities.watch_stream is set")
	}
	if cfg.Report.Enabled && strings.TrimSpace(cfg.Report.Spec) == "" {
		return fmt.Errorf("report.spec is required when report.enabled is set")
	}
	return nil
}
