package events

import (
	"context"

	"tweetfeeder/internal/notifier"
	"tweetfeeder/internal/storage"
	kit "tweetfeeder/internal/transport"
)

// JournalSink appends events to the durable store.
func JournalSink(st storage.Store) Sink {
	return SinkFunc(func(ctx context.Context, e Event) error {
		return st.AppendEvent(ctx, storage.EventRecord{
			At:       e.At,
			Category: e.Category.String(),
			Severity: e.Severity.String(),
			Text:     e.Text,
		})
	})
}

// Notifier is the part of notifier.Service the alert sink needs.
type Notifier interface {
	Notify(ctx context.Context, a notifier.Alert) error
}

// AlertSink forwards events as operator alerts to target.
func AlertSink(n Notifier, target kit.ChatTarget) Sink {
	return SinkFunc(func(ctx context.Context, e Event) error {
		return n.Notify(ctx, notifier.Alert{
			Priority: alertPriority(e.Severity),
			Target:   target,
			Text:     e.Line(),
		})
	})
}

func alertPriority(s Severity) int {
	switch s {
	case Error:
		return 9
	case Warn:
		return 7
	default:
		return 5
	}
}
