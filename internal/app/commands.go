package app

import (
	"context"
	"fmt"

	"tweetfeeder/internal/events"
	"tweetfeeder/internal/report"
	kit "tweetfeeder/internal/transport"
	logx "tweetfeeder/pkg/logx"
)

const helpText = "/status - publishing progress\n/stop - stop publishing (inbound events keep flowing)"

func (a *App) dispatchLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-a.commands:
			a.handleCommand(ctx, cmd)
		}
	}
}

// handleCommand answers the operator. Messages from anyone else are ignored.
func (a *App) handleCommand(ctx context.Context, cmd kit.Command) {
	name := cmd.Name()
	if name == "" {
		return
	}
	if cmd.FromID != a.cfg.Platform.OperatorID {
		a.log.Debug("command from non-operator ignored", logx.Int64("from", cmd.FromID), logx.String("cmd", name))
		return
	}
	a.events.Emit(events.SysCommand, fmt.Sprintf("/%s from %d", name, cmd.FromID))

	var reply string
	switch name {
	case "status":
		reply = report.Digest(a.worker.Progress(), a.tasks(), a.loc)
	case "stop":
		if a.StopWorker() {
			reply = "stopping publisher"
		} else {
			reply = "publisher is not running"
		}
	case "start", "help":
		reply = helpText
	default:
		reply = "unknown command /" + name + "\n" + helpText
	}
	if _, err := a.sender.SendText(ctx, kit.ChatTarget{ChatID: cmd.ChatID}, reply, nil); err != nil {
		a.log.Warn("command reply failed", logx.String("cmd", name), logx.Err(err))
	}
}
