package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"tweetfeeder/internal/config"
	"tweetfeeder/internal/events"
	"tweetfeeder/internal/notifier"
	"tweetfeeder/internal/observability"
	"tweetfeeder/internal/publisher"
	"tweetfeeder/internal/report"
	"tweetfeeder/internal/schedule"
	"tweetfeeder/internal/storage"
	"tweetfeeder/internal/transport/stream"
	logx "tweetfeeder/pkg/logx"
)

const defaultEventLog = "logs/bot_events.jsonl"

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func loadLocation(cfg *config.Config) (*time.Location, error) {
	tz := strings.TrimSpace(cfg.Schedule.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("schedule.timezone: invalid %q: %w", tz, err)
	}
	return loc, nil
}

// mapWorkerConfig derives the publisher config. Without schedule times the
// worker only runs when rehearsing offline, and then fires ImmediateDelay
// after each batch.
func mapWorkerConfig(cfg *config.Config) (publisher.Config, error) {
	times, err := schedule.Parse(cfg.Schedule.Times)
	if err != nil {
		return publisher.Config{}, fmt.Errorf("schedule.times: %w", err)
	}
	immediate, err := config.ParseDurationOrDefault("schedule.immediate_delay", cfg.Schedule.ImmediateDelay, 2*time.Second)
	if err != nil {
		return publisher.Config{}, err
	}
	minDelay, err := config.ParseDurationOrDefault("schedule.min_publish_delay", cfg.Schedule.MinPublishDelay, 10*time.Second)
	if err != nil {
		return publisher.Config{}, err
	}
	caps := cfg.Capabilities
	return publisher.Config{
		Schedule:        times,
		Immediate:       caps.PublishOffline,
		ImmediateDelay:  immediate,
		MinPublishDelay: minDelay,
		PublishOnline:   caps.PublishOnline,
		PublishOffline:  caps.PublishOffline,
		SaveIndex:       caps.SaveIndex,
		SaveStats:       caps.SaveStats,
	}, nil
}

// mapStorageConfig resolves the durable event log. It is enabled by the
// log_to_file capability; events.store picks the backend and "none" turns
// it off explicitly.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || !cfg.Capabilities.LogToFile {
		return storage.Config{}, false, nil
	}
	sc := cfg.Events.Store
	if sc == nil {
		return storage.Config{Driver: "file", Path: defaultEventLog}, true, nil
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "none":
		return storage.Config{}, false, nil
	case "", "file", "jsonl":
		if path == "" {
			path = defaultEventLog
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("events.store.path is required when driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("events.store.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown events.store.driver: %s", sc.Driver)
	}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	out := notifier.Config{Enabled: cfg.Capabilities.SendAlerts && cfg.Platform.OperatorID != 0}
	n := cfg.Notifier
	if n == nil {
		return out, nil
	}
	out.Enabled = out.Enabled && n.Enabled
	out.Workers = n.Workers
	out.QueueSize = n.QueueSize
	out.RatePerSec = n.RatePerSec
	out.RetryMax = n.RetryMax
	out.DedupMaxEntries = n.DedupMaxEntries

	var err error
	if out.RetryBase, err = config.ParseDurationField("notifier.retry_base", n.RetryBase); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = config.ParseDurationField("notifier.dedup_window", n.DedupWindow); err != nil {
		return notifier.Config{}, err
	}
	return out, nil
}

// mapAlertCategories returns the alert allow-list. The status digest is
// added when reports are enabled since the operator is its only reader.
func mapAlertCategories(cfg *config.Config) ([]events.Category, error) {
	allow := events.DefaultAlertCategories
	if len(cfg.Events.Alert.Categories) > 0 {
		parsed, err := events.ParseCategories(cfg.Events.Alert.Categories)
		if err != nil {
			return nil, fmt.Errorf("events.alert.categories: %w", err)
		}
		allow = parsed
	}
	if cfg.Report.Enabled {
		allow = lo.Uniq(append(append([]events.Category{}, allow...), events.SysStatus))
	}
	return allow, nil
}

func mapStreamConfig(cfg *config.Config) stream.Config {
	return stream.Config{
		Hosts:     cfg.Stream.Hosts,
		UserAgent: cfg.Stream.UserAgent,
		Token:     cfg.Stream.Token,
	}
}

func mapReportConfig(cfg *config.Config, loc *time.Location) report.Config {
	return report.Config{Spec: cfg.Report.Spec, Location: loc}
}

func mapObservabilityConfig(cfg *config.Config) observability.Config {
	return observability.Config{Addr: cfg.Observability.Addr, Pprof: cfg.Observability.Pprof}
}

type capFlag struct {
	name string
	on   bool
}

// describeCapabilities renders the SYS.Setup text.
func describeCapabilities(cfg *config.Config, times schedule.Schedule) string {
	c := cfg.Capabilities
	flags := []capFlag{
		{"log_to_file", c.LogToFile},
		{"publish_offline", c.PublishOffline},
		{"publish_online", c.PublishOnline},
		{"save_index", c.SaveIndex},
		{"save_stats", c.SaveStats},
		{"watch_stream", c.WatchStream},
		{"send_alerts", c.SendAlerts},
	}
	on := lo.FilterMap(flags, func(f capFlag, _ int) (string, bool) { return f.name, f.on })
	if len(on) == 0 {
		on = []string{"none"}
	}
	driver := strings.TrimSpace(cfg.Platform.Driver)
	if driver == "" {
		driver = "dryrun"
	}
	sched := "none"
	if len(times) > 0 {
		sched = strings.Join(times.Strings(), ",")
	}
	return fmt.Sprintf("driver=%s capabilities=%s times=%s", driver, strings.Join(on, ","), sched)
}
