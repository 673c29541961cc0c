// Package inbound decodes platform callbacks delivered on the user stream and
// classifies them into event categories.
package inbound

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMalformed = errors.New("malformed callback")

type Kind int

const (
	KindUnknown Kind = iota
	KindStatus
	KindEvent
	KindDirectMessage
	KindConnect
	KindDisconnect
)

func (k Kind) String() string {
	switch k {
	case KindStatus:
		return "status"
	case KindEvent:
		return "event"
	case KindDirectMessage:
		return "direct_message"
	case KindConnect:
		return "connect"
	case KindDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

type User struct {
	ID         int64  `json:"id"`
	ScreenName string `json:"screen_name"`
}

func (u User) handle() string {
	if u.ScreenName != "" {
		return "@" + u.ScreenName
	}
	return fmt.Sprintf("user %d", u.ID)
}

type Status struct {
	ID              int64   `json:"id"`
	Text            string  `json:"text"`
	User            User    `json:"user"`
	InReplyToUserID *int64  `json:"in_reply_to_user_id"`
	InReplyToStatus *int64  `json:"in_reply_to_status_id"`
	RetweetedStatus *Status `json:"retweeted_status"`
	IsQuoteStatus   bool    `json:"is_quote_status"`
	QuotedStatus    *Status `json:"quoted_status"`
}

// StreamEvent is a tagged notification such as "favorite" or "quoted_tweet".
type StreamEvent struct {
	Event        string  `json:"event"`
	Source       User    `json:"source"`
	Target       User    `json:"target"`
	TargetObject *Status `json:"target_object"`
}

type DirectMessage struct {
	ID          int64  `json:"id"`
	Text        string `json:"text"`
	SenderID    int64  `json:"sender_id"`
	Sender      User   `json:"sender"`
	RecipientID int64  `json:"recipient_id"`
}

type Disconnect struct {
	Code       int    `json:"code"`
	StreamName string `json:"stream_name"`
	Reason     string `json:"reason"`
}

// Callback is one decoded stream frame. Exactly one payload pointer matching
// Kind is set; Raw always holds the original bytes.
type Callback struct {
	Kind       Kind
	Status     *Status
	Event      *StreamEvent
	DM         *DirectMessage
	Disconnect *Disconnect
	Raw        json.RawMessage
}

// Decode infers the callback kind from the frame's top-level keys. Frames of
// an unrecognized shape decode to KindUnknown; only invalid JSON or a known
// key with an invalid body is an error.
func Decode(raw []byte) (Callback, error) {
	raw = bytes.TrimSpace(raw)
	cb := Callback{Raw: append(json.RawMessage(nil), raw...)}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return cb, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	has := func(k string) bool { _, ok := top[k]; return ok }

	var err error
	switch {
	case has("event"):
		cb.Kind, cb.Event = KindEvent, &StreamEvent{}
		err = json.Unmarshal(raw, cb.Event)
	case has("direct_message"):
		cb.Kind, cb.DM = KindDirectMessage, &DirectMessage{}
		err = json.Unmarshal(top["direct_message"], cb.DM)
	case has("disconnect"):
		cb.Kind, cb.Disconnect = KindDisconnect, &Disconnect{}
		err = json.Unmarshal(top["disconnect"], cb.Disconnect)
	case has("friends"), has("friends_str"), has("connected"):
		cb.Kind = KindConnect
	case has("id") && has("text"):
		cb.Kind, cb.Status = KindStatus, &Status{}
		err = json.Unmarshal(raw, cb.Status)
	default:
		cb.Kind = KindUnknown
	}
	if err != nil {
		return cb, fmt.Errorf("%w: %s body: %v", ErrMalformed, cb.Kind, err)
	}
	return cb, nil
}
