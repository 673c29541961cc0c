package app

import (
	"context"
	"fmt"
	"time"

	"tweetfeeder/internal/config"
	"tweetfeeder/internal/cursor"
	"tweetfeeder/internal/feed"
	"tweetfeeder/internal/publisher"
	rtsup "tweetfeeder/internal/runtime/supervisor"
	"tweetfeeder/internal/schedule"
	"tweetfeeder/internal/storage"
	logx "tweetfeeder/pkg/logx"
)

// Status is the JSON shape served on /status and printed by "feeder status".
type Status struct {
	State      string                `json:"state,omitempty"`
	Reason     string                `json:"reason,omitempty"`
	FeedIndex  int                   `json:"feed_index"`
	FeedLength int                   `json:"feed_length"`
	Published  int                   `json:"published"`
	Recorded   int                   `json:"recorded_tweets"`
	NextFire   *time.Time            `json:"next_fire,omitempty"`
	LastError  string                `json:"last_error,omitempty"`
	Tasks      []rtsup.TaskStats     `json:"tasks,omitempty"`
	Recent     []storage.EventRecord `json:"recent,omitempty"`
}

// Status reports the live worker and goroutine state.
func (a *App) Status() Status {
	p := a.worker.Progress()
	st := Status{
		State:      p.State.String(),
		FeedIndex:  p.FeedIndex,
		FeedLength: p.FeedLength,
		Published:  p.Published,
		LastError:  p.LastError,
		Tasks:      a.tasks(),
	}
	if p.Reason != publisher.ReasonNone {
		st.Reason = p.Reason.String()
	}
	if !p.NextFire.IsZero() {
		t := p.NextFire
		st.NextFire = &t
	}
	return st
}

// ReadStatus inspects the persisted state of a stopped (or running) bot: the
// cursor, the feed length, the next fire time after now and, when the event
// log is enabled, up to recent past events.
func ReadStatus(ctx context.Context, cfg *config.Config, now time.Time, recent int) (Status, error) {
	var st Status

	cur, err := cursor.NewStore(cfg.Cursor.Path).Load(ctx)
	if err != nil {
		return st, err
	}
	st.FeedIndex = cur.FeedIndex
	st.Recorded = len(cur.TweetStats)

	items, err := feed.NewFileStore(cfg.Feed.Path).Items(ctx)
	if err != nil {
		return st, fmt.Errorf("feed: %w", err)
	}
	st.FeedLength = len(items)

	wcfg, err := mapWorkerConfig(cfg)
	if err != nil {
		return st, err
	}
	loc, err := loadLocation(cfg)
	if err != nil {
		return st, err
	}
	if at, ok := schedule.NextFire(now.In(loc), wcfg.Schedule, wcfg.Immediate, wcfg.ImmediateDelay); ok && st.FeedIndex < st.FeedLength {
		st.NextFire = &at
	}

	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil || !enabled || recent <= 0 {
		return st, err
	}
	store, err := storage.Open(sc, logx.Nop())
	if err != nil {
		return st, err
	}
	defer store.Close()
	if st.Recent, err = store.Recent(ctx, recent); err != nil {
		return st, err
	}
	return st, nil
}

// CheckReport summarizes a config and its feed without publishing anything.
type CheckReport struct {
	Driver   string
	Items    int
	Batches  int
	Times    []string
	Location string
	Alerts   []string
}

// Check loads and validates the config at path and parses the feed it names.
func Check(ctx context.Context, path string) (CheckReport, error) {
	cfg, err := config.NewConfigManager(path).Load()
	if err != nil {
		return CheckReport{}, err
	}
	wcfg, err := mapWorkerConfig(cfg)
	if err != nil {
		return CheckReport{}, err
	}
	loc, err := loadLocation(cfg)
	if err != nil {
		return CheckReport{}, err
	}
	allow, err := mapAlertCategories(cfg)
	if err != nil {
		return CheckReport{}, err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return CheckReport{}, err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return CheckReport{}, err
	}

	items, err := feed.NewFileStore(cfg.Feed.Path).Items(ctx)
	if err != nil {
		return CheckReport{}, fmt.Errorf("feed: %w", err)
	}
	rep := CheckReport{
		Driver:   cfg.Platform.Driver,
		Items:    len(items),
		Times:    wcfg.Schedule.Strings(),
		Location: loc.String(),
	}
	if rep.Driver == "" {
		rep.Driver = "dryrun"
	}
	for i := 0; ; {
		b, ok := feed.BatchAt(items, i)
		if !ok {
			break
		}
		rep.Batches++
		i = b.Next()
	}
	for _, c := range allow {
		rep.Alerts = append(rep.Alerts, c.String())
	}
	return rep, nil
}
