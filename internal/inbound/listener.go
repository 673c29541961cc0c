package inbound

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"tweetfeeder/internal/events"
	logx "tweetfeeder/pkg/logx"
)

var callbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tweetfeeder_inbound_callbacks_total",
	Help: "Inbound callbacks by decoded kind.",
}, []string{"kind"})

// Emitter is the part of the event router the listener uses.
type Emitter interface {
	Emit(c events.Category, text string) events.Event
}

// Listener classifies every frame it receives and emits the result.
type Listener struct {
	classifier Classifier
	emit       Emitter
	log        logx.Logger
}

func NewListener(self int64, emit Emitter, log logx.Logger) *Listener {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Listener{classifier: Classifier{Self: self}, emit: emit, log: log}
}

// Run consumes frames until ctx is done or frames is closed.
func (l *Listener) Run(ctx context.Context, frames <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-frames:
			if !ok {
				return nil
			}
			l.Handle(raw)
		}
	}
}

// Handle decodes, classifies and emits one frame. Malformed frames and
// classifier panics become DBG.Warn events.
func (l *Listener) Handle(raw []byte) {
	defer func() {
		if p := recover(); p != nil {
			l.log.Error("inbound classification panicked", logx.Any("panic", p))
			l.emit.Emit(events.DbgWarn, fmt.Sprintf("classification panic: %v", p))
		}
	}()

	cb, err := Decode(raw)
	if err != nil {
		callbacksTotal.WithLabelValues("malformed").Inc()
		l.emit.Emit(events.DbgWarn, err.Error())
		return
	}
	callbacksTotal.WithLabelValues(cb.Kind.String()).Inc()

	cls, ok := l.classifier.Classify(cb)
	if !ok {
		l.log.Debug("callback suppressed", logx.String("kind", cb.Kind.String()))
		return
	}
	l.emit.Emit(cls.Category, cls.Text)
}
