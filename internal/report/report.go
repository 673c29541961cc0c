// Package report emits a periodic SYS.Status digest of publishing progress.
package report

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"tweetfeeder/internal/events"
	"tweetfeeder/internal/publisher"
	rtsup "tweetfeeder/internal/runtime/supervisor"
	logx "tweetfeeder/pkg/logx"
)

var ErrEmptySpec = errors.New("report spec is empty")

type Emitter interface {
	Emit(c events.Category, text string) events.Event
}

type Sources struct {
	Progress func() publisher.Progress
	// Tasks is optional; when set, inactive or restarted tasks are listed.
	Tasks func() []rtsup.TaskStats
}

type Config struct {
	// Spec is a 5-field cron expression or descriptor ("@hourly", "@every 6h").
	Spec     string
	Location *time.Location
}

type Reporter struct {
	cfg  Config
	src  Sources
	emit Emitter
	log  logx.Logger

	parser cron.Parser
	sched  cron.Schedule

	mu sync.Mutex
	c  *cron.Cron
}

func New(cfg Config, src Sources, emit Emitter, log logx.Logger) (*Reporter, error) {
	if strings.TrimSpace(cfg.Spec) == "" {
		return nil, ErrEmptySpec
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	p := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := p.Parse(strings.TrimSpace(cfg.Spec))
	if err != nil {
		return nil, fmt.Errorf("report spec %q: %w", cfg.Spec, err)
	}
	return &Reporter{cfg: cfg, src: src, emit: emit, log: log, parser: p, sched: sched}, nil
}

// Next returns the first digest time after t.
func (r *Reporter) Next(t time.Time) time.Time { return r.sched.Next(t.In(r.cfg.Location)) }

// Run triggers digests until ctx is done.
func (r *Reporter) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.c != nil {
		r.mu.Unlock()
		return errors.New("reporter already running")
	}
	c := cron.New(cron.WithParser(r.parser), cron.WithLocation(r.cfg.Location))
	c.Schedule(r.sched, cron.FuncJob(func() { r.Report() }))
	r.c = c
	r.mu.Unlock()

	c.Start()
	r.log.Info("reporter started", logx.String("spec", r.cfg.Spec), logx.Time("next", r.Next(time.Now())))

	<-ctx.Done()
	<-c.Stop().Done()

	r.mu.Lock()
	r.c = nil
	r.mu.Unlock()
	return ctx.Err()
}

// Report emits one digest now.
func (r *Reporter) Report() events.Event {
	var p publisher.Progress
	if r.src.Progress != nil {
		p = r.src.Progress()
	}
	var tasks []rtsup.TaskStats
	if r.src.Tasks != nil {
		tasks = r.src.Tasks()
	}
	return r.emit.Emit(events.SysStatus, Digest(p, tasks, r.cfg.Location))
}

// Digest renders progress and unhealthy tasks on one line.
func Digest(p publisher.Progress, tasks []rtsup.TaskStats, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "state=%s published=%d index=%d/%d", p.State, p.Published, p.FeedIndex, p.FeedLength)
	if p.Reason != publisher.ReasonNone {
		fmt.Fprintf(&b, " reason=%s", p.Reason)
	}
	if !p.NextFire.IsZero() {
		if loc == nil {
			loc = time.Local
		}
		fmt.Fprintf(&b, " next=%s", p.NextFire.In(loc).Format("2006-01-02 15:04"))
	}
	if p.LastError != "" {
		fmt.Fprintf(&b, " last_error=%q", p.LastError)
	}

	var flagged []string
	for _, t := range tasks {
		switch {
		case t.Panics > 0 || t.Restarts > 0:
			flagged = append(flagged, fmt.Sprintf("%s(restarts=%d panics=%d)", t.Name, t.Restarts, t.Panics))
		case !t.Active && t.LastErr != "":
			flagged = append(flagged, fmt.Sprintf("%s(down: %s)", t.Name, t.LastErr))
		}
	}
	if len(flagged) > 0 {
		sort.Strings(flagged)
		fmt.Fprintf(&b, " tasks=[%s]", strings.Join(flagged, " "))
	}
	return b.String()
}
