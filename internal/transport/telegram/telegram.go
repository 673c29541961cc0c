// Package telegram publishes feed items to a Telegram channel, delivers
// operator alerts as direct messages and forwards operator commands.
package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "tweetfeeder/internal/runtime/supervisor"
	kit "tweetfeeder/internal/transport"
	logx "tweetfeeder/pkg/logx"
)

var ErrNoChannel = errors.New("telegram channel is not configured")

type Config struct {
	Token string
	// Channel is a numeric chat id or an @username.
	Channel     string
	PollTimeout time.Duration
	// Offline skips the getMe call at construction. Used by tests.
	Offline bool
}

type Adapter struct {
	cfg     Config
	log     logx.Logger
	bot     *tele.Bot
	channel tele.Recipient

	out     atomic.Value // chan<- kit.Command
	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	dropped uint64
}

type recipient string

func (r recipient) Recipient() string { return string(r) }

// parseChannel accepts "-100123", "123" or "@name".
func parseChannel(s string) (tele.Recipient, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrNoChannel
	}
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		return tele.ChatID(id), nil
	}
	if !strings.HasPrefix(s, "@") {
		s = "@" + s
	}
	return recipient(s), nil
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: timeout},
		Offline: cfg.Offline,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	if strings.TrimSpace(cfg.Channel) != "" {
		if a.channel, err = parseChannel(cfg.Channel); err != nil {
			return nil, err
		}
	}
	var nilOut chan<- kit.Command
	a.out.Store(nilOut)

	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil || m.Chat == nil {
			return nil
		}
		a.forward(kit.Command{ChatID: m.Chat.ID, FromID: m.Sender.ID, FromUsername: m.Sender.Username, Text: m.Text})
		return nil
	})
	return a, nil
}

func (a *Adapter) forward(cmd kit.Command) {
	out, _ := a.out.Load().(chan<- kit.Command)
	if out == nil {
		return
	}
	select {
	case out <- cmd:
	default:
		atomic.AddUint64(&a.dropped, 1)
	}
}

// Start begins long polling; received text messages are forwarded to out.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Command) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log))
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// telebot's Start blocks until Stop; restart it if it returns early.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped", logx.Uint64("dropped_commands", atomic.SwapUint64(&a.dropped, 0)))
		return nil
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Command
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	sup.Cancel()

	// Long polling may hold getUpdates open; cap the wait.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		a.log.Debug("telegram stopped with error", logx.Err(err))
	}
	return nil
}

// Publish posts text to the configured channel and returns the message id.
func (a *Adapter) Publish(ctx context.Context, text string) (string, error) {
	if a.channel == nil {
		return "", ErrNoChannel
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	msg, err := a.bot.Send(a.channel, text)
	if err != nil {
		return "", err
	}
	return strconv.Itoa(msg.ID), nil
}

const textLimit = 4000

// splitText cuts s into chunks of at most limit runes, preferring newline
// boundaries and avoiding cuts inside an HTML tag when parseMode is HTML.
func splitText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		if strings.EqualFold(parseMode, "HTML") && end < len(rs) {
			lastOpen, lastClose := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					lastOpen = i
				case '>':
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start+1 {
				end = lastOpen
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

// SendText delivers text to a chat, split into several messages if needed.
// The returned ref points at the first message.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range splitText(text, textLimit, opt.ParseMode) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
		})
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}
		}
	}
	return first, nil
}
