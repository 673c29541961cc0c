package inbound

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tweetfeeder/internal/events"
	logx "tweetfeeder/pkg/logx"
)

const self = 1000

func classify(t *testing.T, raw string) (Classification, bool) {
	t.Helper()
	cb, err := Decode([]byte(raw))
	require.NoError(t, err)
	return Classifier{Self: self}.Classify(cb)
}

func TestDecodeKinds(t *testing.T) {
	tests := []struct {
		raw  string
		want Kind
	}{
		{`{"event":"favorite","source":{"id":1}}`, KindEvent},
		{`{"direct_message":{"id":5,"text":"hi","sender_id":2}}`, KindDirectMessage},
		{`{"disconnect":{"code":4,"reason":"stall"}}`, KindDisconnect},
		{`{"friends":[1,2,3]}`, KindConnect},
		{`{"id":9,"text":"hello","user":{"id":3}}`, KindStatus},
		{`{"limit":{"track":12}}`, KindUnknown},
	}
	for _, tt := range tests {
		cb, err := Decode([]byte(tt.raw))
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, cb.Kind, tt.raw)
		assert.JSONEq(t, tt.raw, string(cb.Raw))
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, raw := range []string{`{"id":`, `[1,2]`, `{"direct_message":"nope"}`} {
		_, err := Decode([]byte(raw))
		assert.ErrorIs(t, err, ErrMalformed, raw)
	}
}

func TestClassifyEvents(t *testing.T) {
	c, ok := classify(t, `{"event":"quoted_tweet","source":{"id":7,"screen_name":"amy"},"target_object":{"id":1,"text":"so true"}}`)
	require.True(t, ok)
	assert.Equal(t, events.NetGetQuoteRetweet, c.Category)
	assert.Equal(t, "@amy quoted: so true", c.Text)

	_, ok = classify(t, `{"event":"unfavorite","source":{"id":7}}`)
	assert.False(t, ok, "unfavorite is suppressed, not unknown")

	c, ok = classify(t, `{"event":"favorite","source":{"id":7,"screen_name":"amy"},"target_object":{"id":1,"text":"t"}}`)
	require.True(t, ok)
	assert.Equal(t, events.NetGetFavorite, c.Category)

	c, ok = classify(t, `{"event":"follow","source":{"id":7}}`)
	require.True(t, ok)
	assert.Equal(t, events.NetGetUnknown, c.Category)
	assert.Contains(t, c.Text, `"follow"`)
}

func TestClassifyUnknownKeepsWholePayload(t *testing.T) {
	raw := `{"xy":"` + strings.Repeat("é…×", 200) + `"}`
	c, ok := classify(t, raw)
	require.True(t, ok)
	assert.Equal(t, events.NetGetUnknown, c.Category)
	assert.True(t, utf8.ValidString(c.Text))
	assert.True(t, strings.HasSuffix(c.Text, raw), "payload must survive intact")

	cb := Callback{Kind: KindUnknown, Raw: []byte("{\"a\":\"\xff\"}")}
	c, ok = Classifier{Self: self}.Classify(cb)
	require.True(t, ok)
	assert.True(t, utf8.ValidString(c.Text))
	assert.Contains(t, c.Text, "\uFFFD")
}

func TestClassifyStatuses(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want events.Category
		ok   bool
	}{
		{"retweet", `{"id":1,"text":"RT","user":{"id":5},"retweeted_status":{"id":2,"text":"orig"}}`, events.NetGetRetweet, true},
		{"quote suppressed", `{"id":1,"text":"q","user":{"id":5},"is_quote_status":true,"in_reply_to_user_id":1000}`, 0, false},
		{"reply to bot", `{"id":1,"text":"@bot hi","user":{"id":5},"in_reply_to_user_id":1000}`, events.NetGetReply, true},
		{"own publish", `{"id":1,"text":"mine","user":{"id":1000},"in_reply_to_user_id":null}`, events.NetSendTweet, true},
		{"own reply to someone", `{"id":1,"text":"mine","user":{"id":1000},"in_reply_to_user_id":5}`, events.NetGetUnknown, true},
		{"stranger", `{"id":1,"text":"meh","user":{"id":5}}`, events.NetGetUnknown, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ok := classify(t, tt.raw)
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, c.Category)
			}
		})
	}
}

func TestClassifyDirectMessages(t *testing.T) {
	_, ok := classify(t, `{"direct_message":{"id":5,"text":"note to self","sender_id":1000}}`)
	assert.False(t, ok)

	c, ok := classify(t, `{"direct_message":{"id":5,"text":"hey","sender_id":2,"sender":{"id":2,"screen_name":"zed"}}}`)
	require.True(t, ok)
	assert.Equal(t, events.NetGetDM, c.Category)
	assert.Equal(t, "@zed: hey", c.Text)
}

func TestClassifyStreamLifecycle(t *testing.T) {
	c, ok := classify(t, `{"friends":[]}`)
	require.True(t, ok)
	assert.Equal(t, events.SysConnect, c.Category)

	c, ok = classify(t, `{"disconnect":{"code":7,"reason":"admin logout"}}`)
	require.True(t, ok)
	assert.Equal(t, events.SysDisconnect, c.Category)
	assert.Equal(t, events.Warn, c.Category.Severity())
	assert.Equal(t, "code 7: admin logout", c.Text)
}

type emitted struct {
	mu   sync.Mutex
	cats []events.Category
}

func (e *emitted) Emit(c events.Category, text string) events.Event {
	e.mu.Lock()
	e.cats = append(e.cats, c)
	e.mu.Unlock()
	return events.Event{Category: c, Text: text}
}

func (e *emitted) list() []events.Category {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]events.Category(nil), e.cats...)
}

func TestListenerRun(t *testing.T) {
	em := &emitted{}
	l := NewListener(self, em, logx.Nop())

	frames := make(chan []byte, 4)
	frames <- []byte(`{"event":"quoted_tweet","source":{"id":7}}`)
	frames <- []byte(`{"event":"unfavorite","source":{"id":7}}`)
	frames <- []byte(`not json`)
	frames <- []byte(`{"id":1,"text":"hi","user":{"id":5},"in_reply_to_user_id":1000}`)
	close(frames)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, l.Run(ctx, frames))
	assert.Equal(t, []events.Category{events.NetGetQuoteRetweet, events.DbgWarn, events.NetGetReply}, em.list())
}

func TestListenerStopsOnCancel(t *testing.T) {
	l := NewListener(self, &emitted{}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Run(ctx, make(chan []byte)), context.Canceled)
}
