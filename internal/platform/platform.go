// Package platform defines the publishing client the worker posts through.
package platform

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	kit "tweetfeeder/internal/transport"
	logx "tweetfeeder/pkg/logx"
)

var ErrUnknownDriver = errors.New("unknown platform driver")

// Client publishes one item and returns the platform's id for it.
type Client interface {
	Publish(ctx context.Context, text string) (id string, err error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, text string) (string, error)

func (f ClientFunc) Publish(ctx context.Context, text string) (string, error) { return f(ctx, text) }

// DryRun logs every published text and hands out sequential ids.
type DryRun struct {
	log logx.Logger
	seq atomic.Int64
}

func NewDryRun(log logx.Logger) *DryRun {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &DryRun{log: log}
}

func (d *DryRun) Publish(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := fmt.Sprintf("dryrun-%d", d.seq.Add(1))
	d.log.Info("publish (dry run)", logx.String("id", id), logx.String("text", text))
	return id, nil
}

// SendText logs alerts instead of delivering them, so DryRun can stand in
// for the Telegram adapter as a notifier sender.
func (d *DryRun) SendText(ctx context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	d.log.Info("alert (dry run)", logx.Int64("chat_id", to.ChatID), logx.String("text", text))
	return kit.MessageRef{ChatID: to.ChatID, MessageID: int(d.seq.Add(1))}, nil
}
