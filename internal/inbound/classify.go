package inbound

import (
	"fmt"
	"strings"

	"tweetfeeder/internal/events"
)

// Classification is the category and text an inbound callback maps to.
type Classification struct {
	Category events.Category
	Text     string
}

// Classifier maps callbacks to categories relative to the bot's own account.
type Classifier struct {
	Self int64
}

// Classify returns false for callbacks that are deliberately not emitted:
// quote statuses (reported through the quoted_tweet event), unfavorites and
// the bot's own direct messages.
func (c Classifier) Classify(cb Callback) (Classification, bool) {
	switch cb.Kind {
	case KindStatus:
		if cb.Status != nil {
			return c.status(cb)
		}
	case KindEvent:
		if cb.Event != nil {
			return c.event(cb)
		}
	case KindDirectMessage:
		if cb.DM != nil {
			if cb.DM.SenderID == c.Self || cb.DM.Sender.ID == c.Self {
				return Classification{}, false
			}
			return Classification{events.NetGetDM, fmt.Sprintf("%s: %s", senderOf(cb.DM), cb.DM.Text)}, true
		}
	case KindConnect:
		return Classification{events.SysConnect, "user stream connected"}, true
	case KindDisconnect:
		if d := cb.Disconnect; d != nil {
			return Classification{events.SysDisconnect, fmt.Sprintf("code %d: %s", d.Code, d.Reason)}, true
		}
		return Classification{events.SysDisconnect, "stream disconnected"}, true
	}
	return unknown(cb), true
}

func (c Classifier) status(cb Callback) (Classification, bool) {
	s := cb.Status
	switch {
	case s.RetweetedStatus != nil:
		return Classification{events.NetGetRetweet, fmt.Sprintf("%s retweeted: %s", s.User.handle(), s.RetweetedStatus.Text)}, true
	case s.IsQuoteStatus:
		return Classification{}, false
	case s.InReplyToUserID != nil && *s.InReplyToUserID == c.Self:
		return Classification{events.NetGetReply, fmt.Sprintf("%s: %s", s.User.handle(), s.Text)}, true
	case s.User.ID == c.Self && s.InReplyToUserID == nil:
		return Classification{events.NetSendTweet, fmt.Sprintf("observed %d: %s", s.ID, s.Text)}, true
	}
	return unknown(cb), true
}

func (c Classifier) event(cb Callback) (Classification, bool) {
	e := cb.Event
	text := ""
	if e.TargetObject != nil {
		text = e.TargetObject.Text
	}
	switch e.Event {
	case "favorite":
		return Classification{events.NetGetFavorite, fmt.Sprintf("%s liked: %s", e.Source.handle(), text)}, true
	case "quoted_tweet":
		return Classification{events.NetGetQuoteRetweet, fmt.Sprintf("%s quoted: %s", e.Source.handle(), text)}, true
	case "unfavorite":
		return Classification{}, false
	}
	return unknown(cb), true
}

func senderOf(dm *DirectMessage) string {
	if dm.Sender.ID == 0 && dm.Sender.ScreenName == "" {
		return User{ID: dm.SenderID}.handle()
	}
	return dm.Sender.handle()
}

// unknown carries the whole payload so the durable record can be triaged
// later. Invalid UTF-8 is replaced since the text reaches JSON sinks.
func unknown(cb Callback) Classification {
	raw := strings.ToValidUTF8(string(cb.Raw), "\uFFFD")
	return Classification{events.NetGetUnknown, fmt.Sprintf("%s: %s", cb.Kind, raw)}
}
