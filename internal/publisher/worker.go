// Package publisher drives the publish loop: load the next batch, wait for
// its fire instant, publish each item, persist the cursor.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"tweetfeeder/internal/cursor"
	"tweetfeeder/internal/events"
	"tweetfeeder/internal/feed"
	"tweetfeeder/internal/platform"
	"tweetfeeder/internal/schedule"
	logx "tweetfeeder/pkg/logx"
)

var (
	ErrNoFireTime = errors.New("no resolvable publish time")
)

var (
	publishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tweetfeeder_published_items_total",
		Help: "Feed items handled by the worker, by mode (online, rehearsal).",
	}, []string{"mode"})
	cursorIndex = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tweetfeeder_cursor_feed_index",
		Help: "Index of the next unpublished feed item.",
	})
	nextFireSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tweetfeeder_next_fire_timestamp_seconds",
		Help: "Unix time of the next scheduled publish.",
	})
)

type Config struct {
	Schedule schedule.Schedule
	// Immediate publishes ImmediateDelay after each batch when Schedule is empty.
	Immediate       bool
	ImmediateDelay  time.Duration
	MinPublishDelay time.Duration

	PublishOnline  bool
	PublishOffline bool
	SaveIndex      bool
	SaveStats      bool
}

// Loader returns the batch at index and the feed length.
type Loader interface {
	LoadBatch(ctx context.Context, index int) (feed.Batch, bool, int, error)
}

// CursorStore is the durable cursor a worker claims for its lifetime.
type CursorStore interface {
	Claim() error
	Release()
	Load(ctx context.Context) (cursor.Cursor, error)
	Save(ctx context.Context, c cursor.Cursor) error
}

type Emitter interface {
	Emit(c events.Category, text string) events.Event
}

type Deps struct {
	Loader Loader
	Cursor CursorStore
	Client platform.Client
	Events Emitter
	Clock  schedule.Clock
	// Rehearsal receives one line per item when publishing offline. Default os.Stdout.
	Rehearsal io.Writer
	Log       logx.Logger
}

type Worker struct {
	cfg  Config
	deps Deps
	log  logx.Logger

	mu       sync.Mutex
	progress Progress
}

func New(cfg Config, deps Deps) *Worker {
	if deps.Clock == nil {
		deps.Clock = schedule.SystemClock{}
	}
	if deps.Rehearsal == nil {
		deps.Rehearsal = os.Stdout
	}
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Worker{cfg: cfg, deps: deps, log: log}
}

func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.progress.State
}

func (w *Worker) Progress() Progress {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.progress
}

func (w *Worker) update(fn func(p *Progress)) {
	w.mu.Lock()
	fn(&w.progress)
	w.mu.Unlock()
}

func (w *Worker) setState(s State) { w.update(func(p *Progress) { p.State = s }) }

// Run drives the loop until the feed is exhausted, a fatal condition occurs
// or ctx is cancelled. The returned error is non-nil only for ReasonFatal.
func (w *Worker) Run(ctx context.Context) (StopReason, error) {
	if err := w.deps.Cursor.Claim(); err != nil {
		return w.stop(ReasonFatal, events.SysLoadFailed, fmt.Errorf("claim cursor: %w", err))
	}
	defer w.deps.Cursor.Release()

	cur, err := w.deps.Cursor.Load(ctx)
	if err != nil {
		return w.stop(ReasonFatal, events.SysLoadFailed, fmt.Errorf("load cursor: %w", err))
	}
	w.update(func(p *Progress) { p.FeedIndex = cur.FeedIndex })
	cursorIndex.Set(float64(cur.FeedIndex))
	w.deps.Events.Emit(events.SysThreadStart, fmt.Sprintf("publishing from index %d", cur.FeedIndex))

	for {
		if ctx.Err() != nil {
			return w.stop(ReasonStoppedByOperator, events.SysStoppedByOperator, errors.New("stopped before loading next batch"))
		}

		w.setState(StateLoading)
		batch, ok, n, err := w.deps.Loader.LoadBatch(ctx, cur.FeedIndex)
		if err != nil {
			if ctx.Err() != nil {
				return w.stop(ReasonStoppedByOperator, events.SysStoppedByOperator, errors.New("stopped while loading"))
			}
			return w.stop(ReasonFatal, events.SysLoadFailed, fmt.Errorf("load feed: %w", err))
		}
		w.update(func(p *Progress) { p.FeedLength = n })
		if !ok {
			return w.stop(ReasonExhausted, events.SysNoTweetsFound, fmt.Errorf("feed exhausted at index %d of %d", cur.FeedIndex, n))
		}

		w.setState(StateWaiting)
		now := w.deps.Clock.Now()
		at, ok := schedule.NextFire(now, w.cfg.Schedule, w.cfg.Immediate, w.cfg.ImmediateDelay)
		if !ok {
			return w.stop(ReasonFatal, events.SysNoTimesFound, ErrNoFireTime)
		}
		w.update(func(p *Progress) { p.NextFire = at })
		nextFireSeconds.Set(float64(at.Unix()))
		w.log.Info("next batch scheduled", logx.Time("at", at), logx.Int("index", batch.Start), logx.Int("items", batch.Len()))
		if err := w.deps.Clock.Sleep(ctx, at.Sub(now)); err != nil {
			return w.stop(ReasonStoppedByOperator, events.SysStoppedByOperator, errors.New("stopped while waiting"))
		}

		w.setState(StatePublishing)
		w.deps.Events.Emit(events.SysLoadTweet, fmt.Sprintf("batch of %d at index %d (%d of %d)", batch.Len(), batch.Start, batch.Start+1, n))
		handled, stats, sendErr := w.publish(ctx, batch, n)

		w.setState(StatePersisting)
		if handled > 0 {
			next := cur.Clone()
			next.FeedIndex = batch.Start + handled
			if w.cfg.SaveStats && len(stats) > 0 {
				if next.TweetStats == nil {
					next.TweetStats = make(map[string]cursor.Stat, len(stats))
				}
				for id, st := range stats {
					next.TweetStats[id] = st
				}
			}
			if w.cfg.SaveIndex {
				// Persisting runs to completion regardless of cancellation.
				if err := w.deps.Cursor.Save(context.WithoutCancel(ctx), next); err != nil {
					return w.stop(ReasonFatal, events.SysPersistFailed, fmt.Errorf("persist cursor at %d: %w", next.FeedIndex, err))
				}
			}
			cur = next
			w.update(func(p *Progress) {
				p.FeedIndex = cur.FeedIndex
				p.Published += handled
			})
			cursorIndex.Set(float64(cur.FeedIndex))
		}

		switch {
		case sendErr == nil:
		case ctx.Err() != nil:
			return w.stop(ReasonStoppedByOperator, events.SysStoppedByOperator, fmt.Errorf("stopped mid-batch after %d of %d items", handled, batch.Len()))
		default:
			return w.stop(ReasonFatal, events.SysPublishFailed, sendErr)
		}
	}
}

// publish handles the items of one batch in order and reports how many were
// handled before the first failure.
func (w *Worker) publish(ctx context.Context, b feed.Batch, feedLen int) (int, map[string]cursor.Stat, error) {
	stats := map[string]cursor.Stat{}
	for i, item := range b.Items {
		pos := b.Start + i + 1
		text := fmt.Sprintf("%s\n%d of %d", item.Text, pos, feedLen)

		if !w.cfg.PublishOnline {
			if w.cfg.PublishOffline {
				fmt.Fprintf(w.deps.Rehearsal, "Tweet %d of %d: %s\n", pos, feedLen, item.Text)
			}
			publishedTotal.WithLabelValues("rehearsal").Inc()
			continue
		}

		if i > 0 {
			if err := w.deps.Clock.Sleep(ctx, w.cfg.MinPublishDelay); err != nil {
				return i, stats, err
			}
		}
		id, err := w.deps.Client.Publish(ctx, text)
		if err != nil {
			return i, stats, fmt.Errorf("publish item %d: %w", b.Start+i, err)
		}
		publishedTotal.WithLabelValues("online").Inc()
		stats[id] = cursor.Stat{Title: item.Title}
		w.deps.Events.Emit(events.NetSendTweet, fmt.Sprintf("sent %s (%d of %d)", id, pos, feedLen))
	}
	return b.Len(), stats, nil
}

// stop records the terminal state and emits the reason followed by ThreadStop.
func (w *Worker) stop(reason StopReason, c events.Category, cause error) (StopReason, error) {
	w.update(func(p *Progress) {
		p.State = StateStopped
		p.Reason = reason
		if reason != ReasonExhausted {
			p.LastError = cause.Error()
		}
	})
	w.deps.Events.Emit(c, cause.Error())
	w.deps.Events.Emit(events.SysThreadStop, "publish worker stopped: "+reason.String())
	if reason == ReasonFatal {
		return reason, cause
	}
	return reason, nil
}
