// Package transport holds the messaging types shared by the Telegram adapter,
// the alert notifier and the operator command handler.
package transport

import "context"

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Sender delivers plain text to a chat.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// Command is a text message received from a chat, typically "/status".
type Command struct {
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
}

// Name returns the command word without the leading slash or a @bot suffix.
func (c Command) Name() string {
	s := c.Text
	for i, r := range s {
		if r == ' ' || r == '\n' {
			s = s[:i]
			break
		}
	}
	if len(s) == 0 || s[0] != '/' {
		return ""
	}
	s = s[1:]
	for i, r := range s {
		if r == '@' {
			return s[:i]
		}
	}
	return s
}
