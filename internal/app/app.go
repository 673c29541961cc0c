package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"tweetfeeder/internal/config"
	"tweetfeeder/internal/cursor"
	"tweetfeeder/internal/events"
	"tweetfeeder/internal/feed"
	"tweetfeeder/internal/inbound"
	"tweetfeeder/internal/notifier"
	"tweetfeeder/internal/observability"
	"tweetfeeder/internal/platform"
	"tweetfeeder/internal/publisher"
	"tweetfeeder/internal/report"
	rtsup "tweetfeeder/internal/runtime/supervisor"
	"tweetfeeder/internal/schedule"
	"tweetfeeder/internal/storage"
	kit "tweetfeeder/internal/transport"
	"tweetfeeder/internal/transport/stream"
	"tweetfeeder/internal/transport/telegram"
	logx "tweetfeeder/pkg/logx"
)

type Option func(*options)

type options struct {
	console   io.Writer
	rehearsal io.Writer
}

// WithOutput sends console logs and rehearsal lines to w instead of stdout.
func WithOutput(w io.Writer) Option {
	return func(o *options) {
		o.console = w
		o.rehearsal = w
	}
}

type App struct {
	cfgm *config.ConfigManager
	cfg  *config.Config
	loc  *time.Location

	log  logx.Logger
	logs *logx.Service
	sup  *rtsup.Supervisor

	events *events.Router
	store  storage.Store
	notif  *notifier.Service
	sender kit.Sender
	tg     *telegram.Adapter

	cursor *cursor.Store
	worker *publisher.Worker

	wmu        sync.Mutex
	stopWorker context.CancelFunc

	stream   *stream.Client
	listener *inbound.Listener
	reporter *report.Reporter
	obs      *observability.Server

	commands chan kit.Command
}

func NewApp(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.NewWithConsole(mapLogConfig(cfg), o.console)
	a := &App{
		cfgm:     cfgm,
		cfg:      cfg,
		log:      log.With(logx.String("comp", "app")),
		logs:     logSvc,
		commands: make(chan kit.Command, 64),
	}
	fail := func(err error) (*App, error) {
		if a.store != nil {
			_ = a.store.Close()
		}
		_ = logSvc.Close()
		return nil, err
	}

	if a.loc, err = loadLocation(cfg); err != nil {
		return fail(err)
	}
	wcfg, err := mapWorkerConfig(cfg)
	if err != nil {
		return fail(err)
	}

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return fail(err)
	} else if enabled {
		if a.store, err = storage.Open(sc, log.With(logx.String("comp", "storage"))); err != nil {
			return fail(err)
		}
		a.log.Info("event log enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	var client platform.Client
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Platform.Driver)); driver {
	case "", "dryrun":
		dry := platform.NewDryRun(log.With(logx.String("comp", "platform")))
		client, a.sender = dry, dry
	case "telegram":
		pollTimeout, err := config.ParseDurationOrDefault("platform.poll_timeout", cfg.Platform.PollTimeout, 10*time.Second)
		if err != nil {
			return fail(err)
		}
		a.tg, err = telegram.New(telegram.Config{
			Token:       cfg.Platform.Token,
			Channel:     cfg.Platform.Channel,
			PollTimeout: pollTimeout,
		}, log.With(logx.String("comp", "telegram")))
		if err != nil {
			return fail(err)
		}
		client, a.sender = a.tg, a.tg
	default:
		return fail(fmt.Errorf("%w: %s", platform.ErrUnknownDriver, cfg.Platform.Driver))
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return fail(err)
	}
	a.notif = notifier.New(ncfg, a.sender, log.With(logx.String("comp", "notifier")))

	allow, err := mapAlertCategories(cfg)
	if err != nil {
		return fail(err)
	}
	rcfg := events.Config{
		Console:    log.With(logx.String("comp", "events")),
		AlertAllow: allow,
	}
	if a.store != nil {
		rcfg.Durable = events.JournalSink(a.store)
	}
	if ncfg.Enabled {
		rcfg.Alert = events.AlertSink(a.notif, kit.ChatTarget{ChatID: cfg.Platform.OperatorID})
	}
	a.events = events.NewRouter(rcfg)

	a.cursor = cursor.NewStore(cfg.Cursor.Path)
	a.worker = publisher.New(wcfg, publisher.Deps{
		Loader:    feed.NewLoader(feed.NewFileStore(cfg.Feed.Path)),
		Cursor:    a.cursor,
		Client:    client,
		Events:    a.events,
		Clock:     schedule.SystemClock{Location: a.loc},
		Rehearsal: o.rehearsal,
		Log:       log.With(logx.String("comp", "publisher")),
	})

	if cfg.Capabilities.WatchStream {
		scfg := mapStreamConfig(cfg)
		scfg.OnConnect = func(host string) {
			a.events.Emit(events.SysConnect, "stream connected: "+host)
		}
		scfg.OnDisconnect = func(host string, err error) {
			a.events.Emit(events.SysDisconnect, fmt.Sprintf("stream %s: %v", host, err))
		}
		if a.stream, err = stream.New(scfg, log.With(logx.String("comp", "stream"))); err != nil {
			return fail(err)
		}
		a.listener = inbound.NewListener(cfg.Platform.AccountID, a.events, log.With(logx.String("comp", "inbound")))
	}

	if cfg.Report.Enabled {
		a.reporter, err = report.New(mapReportConfig(cfg, a.loc), report.Sources{
			Progress: a.worker.Progress,
			Tasks:    a.tasks,
		}, a.events, log.With(logx.String("comp", "report")))
		if err != nil {
			return fail(err)
		}
	}

	if cfg.Observability.Enabled {
		a.obs = observability.New(mapObservabilityConfig(cfg), func() any { return a.Status() }, log.With(logx.String("comp", "observability")))
	}

	return a, nil
}

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) tasks() []rtsup.TaskStats {
	if a.sup == nil {
		return nil
	}
	return a.sup.Snapshot()
}

// longLived reports whether anything besides the worker keeps the process up.
func (a *App) longLived() bool {
	return a.listener != nil || a.acceptsCommands() || a.obs != nil
}

// publishes reports whether any publish capability is on. Without one the
// worker would advance the cursor over items it never delivers.
func (a *App) publishes() bool {
	return a.cfg.Capabilities.PublishOnline || a.cfg.Capabilities.PublishOffline
}

func (a *App) acceptsCommands() bool {
	return a.tg != nil && a.cfg.Platform.OperatorID != 0
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapWorkerConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapNotifierConfig(cfg); err != nil {
			return err
		}
		_, err := mapAlertCategories(cfg)
		return err
	})

	wcfg, _ := mapWorkerConfig(a.cfg)
	a.events.Emit(events.SysSetup, describeCapabilities(a.cfg, wcfg.Schedule))

	if a.notif.Enabled() {
		// Detached so alerts raised during shutdown still drain in Stop.
		a.notif.Start(context.WithoutCancel(a.sup.Context()))
	}

	if a.acceptsCommands() {
		if err := a.tg.Start(a.sup.Context(), a.commands); err != nil {
			return err
		}
		a.sup.Go("commands.dispatch", a.dispatchLoop)
	}

	if a.stream != nil {
		frames := make(chan []byte, 256)
		a.sup.GoRestart("stream", func(c context.Context) error { return a.stream.Run(c, frames) },
			rtsup.WithRestartBackoff(time.Second, time.Minute))
		a.sup.Go("inbound", func(c context.Context) error { return a.listener.Run(c, frames) })
	}

	if a.reporter != nil {
		a.sup.Go("report", a.reporter.Run)
	}
	if a.obs != nil {
		a.sup.GoRestart("observability", a.obs.Run, rtsup.WithRestartBackoff(time.Second, 30*time.Second))
	}

	if a.publishes() {
		a.startPublisher()
	} else {
		a.events.Emit(events.SysThreadStop, "publishing disabled: neither publish_online nor publish_offline is set")
		if !a.longLived() {
			a.log.Info("nothing to publish or serve; shutting down")
			a.sup.Cancel()
		}
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started")
	return nil
}

func (a *App) startPublisher() {
	wctx, cancel := context.WithCancel(a.sup.Context())
	a.wmu.Lock()
	a.stopWorker = cancel
	a.wmu.Unlock()
	a.sup.Go("publisher", func(context.Context) error {
		defer cancel()
		reason, err := a.worker.Run(wctx)
		if err != nil {
			a.log.Error("publisher stopped", logx.String("reason", reason.String()), logx.Err(err))
		} else {
			a.log.Info("publisher stopped", logx.String("reason", reason.String()))
		}
		if !a.longLived() && a.sup.Context().Err() == nil {
			a.log.Info("nothing left to serve; shutting down")
			a.sup.Cancel()
		}
		return nil
	})
}

// StopWorker cancels the publish worker only; the rest of the app keeps running.
func (a *App) StopWorker() bool {
	a.wmu.Lock()
	defer a.wmu.Unlock()
	if a.stopWorker == nil {
		return false
	}
	a.stopWorker()
	return true
}

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}

			sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
			lastApplied = newCfg
			if len(sections) == 0 {
				a.log.Info("config reloaded (no changes)")
				continue
			}
			a.logs.Apply(mapLogConfig(newCfg))
			if pending := config.RestartRequired(sections); len(pending) > 0 {
				a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(pending, ",")))
			}
			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	// step runs one shutdown action bounded by max and the caller's deadline.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// The worker persists before honouring cancellation, so wait for it first.
	step("supervisor", 5*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.events.Emit(events.SysShutDown, "shutting down: "+string(reason))
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("telegram", 2*time.Second, func(c context.Context) error {
		if a.tg != nil {
			return a.tg.Stop(c)
		}
		return nil
	})
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	return a.logs.Close()
}
