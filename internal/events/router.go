package events

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/samber/lo"

	logx "tweetfeeder/pkg/logx"
)

var (
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tweetfeeder_events_total",
		Help: "Routed events by category and severity.",
	}, []string{"category", "severity"})

	sinkFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tweetfeeder_event_sink_failures_total",
		Help: "Event deliveries that failed, by sink.",
	}, []string{"sink"})
)

// Event is immutable once emitted.
type Event struct {
	At       time.Time
	Category Category
	Severity Severity
	Text     string
}

// Line is the fixed-width "category: text" rendering.
func (e Event) Line() string { return fmt.Sprintf("%-18s: %s", e.Category, e.Text) }

// Sink receives routed events.
type Sink interface {
	Deliver(ctx context.Context, e Event) error
}

type SinkFunc func(ctx context.Context, e Event) error

func (f SinkFunc) Deliver(ctx context.Context, e Event) error { return f(ctx, e) }

type Config struct {
	// Console always receives every event. The zero Logger discards.
	Console logx.Logger
	// Durable is the optional append-only log.
	Durable Sink
	// Alert is the optional operator channel; it only sees AlertAllow.
	Alert Sink
	// AlertAllow defaults to DefaultAlertCategories when nil.
	AlertAllow []Category
	// Timeout bounds a single durable or alert delivery. Default 2s.
	Timeout time.Duration
	Now     func() time.Time
}

// Router is configured once and then only read, so Emit may be called from
// any goroutine.
type Router struct {
	console logx.Logger
	durable Sink
	alert   Sink
	allow   map[Category]struct{}
	timeout time.Duration
	now     func() time.Time
}

func NewRouter(cfg Config) *Router {
	r := &Router{
		console: cfg.Console,
		durable: cfg.Durable,
		alert:   cfg.Alert,
		timeout: cfg.Timeout,
		now:     cfg.Now,
	}
	if r.console.IsZero() {
		r.console = logx.Nop()
	}
	if r.timeout <= 0 {
		r.timeout = 2 * time.Second
	}
	if r.now == nil {
		r.now = time.Now
	}
	allow := cfg.AlertAllow
	if allow == nil {
		allow = DefaultAlertCategories
	}
	r.allow = lo.SliceToMap(allow, func(c Category) (Category, struct{}) { return c, struct{}{} })
	return r
}

// Alerts reports whether c is forwarded to the alert sink.
func (r *Router) Alerts(c Category) bool {
	if r.alert == nil {
		return false
	}
	_, ok := r.allow[c]
	return ok
}

// Emit stamps, formats and routes one event, returning it as delivered.
// Sink failures never propagate.
func (r *Router) Emit(c Category, text string) Event {
	e := Event{At: r.now(), Category: c, Severity: c.Severity(), Text: text}
	eventsTotal.WithLabelValues(c.String(), e.Severity.String()).Inc()

	r.console.Log(e.Severity.Level(), e.Line(), logx.String("family", string(c.Family())))

	if r.durable != nil {
		if err := r.deliver(r.durable, e); err != nil {
			sinkFailures.WithLabelValues("durable").Inc()
			r.console.Error("durable event log write failed", logx.Err(err), logx.String("category", c.String()))
		}
	}
	if r.Alerts(c) {
		if err := r.deliver(r.alert, e); err != nil {
			sinkFailures.WithLabelValues("alert").Inc()
			r.console.Debug("alert delivery failed", logx.Err(err), logx.String("category", c.String()))
		}
	}
	return e
}

func (r *Router) Emitf(c Category, format string, args ...any) Event {
	return r.Emit(c, fmt.Sprintf(format, args...))
}

func (r *Router) deliver(s Sink, e Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("sink panic: %v", p)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	return s.Deliver(ctx, e)
}
