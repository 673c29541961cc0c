package config

import (
	"reflect"
	"sort"
	"strings"

	logx "tweetfeeder/pkg/logx"
)

// LiveSections are the config sections applied without a restart.
var LiveSections = map[string]bool{"logging": true}

// SummarizeConfigChange returns the sorted list of changed sections and safe
// structured attrs for logging. Secrets (tokens) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 8)

	op, np := oldCfg.Platform, newCfg.Platform
	if op.Driver != np.Driver || op.Channel != np.Channel || op.AccountID != np.AccountID ||
		op.OperatorID != np.OperatorID || op.PollTimeout != np.PollTimeout ||
		(strings.TrimSpace(op.Token) != "") != (strings.TrimSpace(np.Token) != "") {
		changed = append(changed, "platform")
		attrs = append(attrs,
			logx.String("platform.driver", np.Driver),
			logx.Bool("platform.token_set", strings.TrimSpace(np.Token) != ""),
		)
	}
	if oldCfg.Feed != newCfg.Feed {
		changed = append(changed, "feed")
	}
	if oldCfg.Cursor != newCfg.Cursor {
		changed = append(changed, "cursor")
	}
	if !reflect.DeepEqual(oldCfg.Schedule, newCfg.Schedule) {
		changed = append(changed, "schedule")
		attrs = append(attrs, logx.Int("schedule.times", len(newCfg.Schedule.Times)))
	}
	if oldCfg.Capabilities != newCfg.Capabilities {
		changed = append(changed, "capabilities")
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Events, newCfg.Events) {
		changed = append(changed, "events")
	}
	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
	}
	oldS, newS := oldCfg.Stream, newCfg.Stream
	if !reflect.DeepEqual(oldS.Hosts, newS.Hosts) || oldS.UserAgent != newS.UserAgent || oldS.Token != newS.Token {
		changed = append(changed, "stream")
		attrs = append(attrs, logx.Int("stream.hosts", len(newS.Hosts)))
	}
	if oldCfg.Report != newCfg.Report {
		changed = append(changed, "report")
	}
	if oldCfg.Observability != newCfg.Observability {
		changed = append(changed, "observability")
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired filters sections that cannot be applied live.
func RestartRequired(sections []string) []string {
	out := make([]string, 0, len(sections))
	for _, s := range sections {
		if !LiveSections[s] {
			out = append(out, s)
		}
	}
	return out
}
