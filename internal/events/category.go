// Package events is the runtime event taxonomy and the router that fans
// events out to the console, the durable log and the operator alert channel.
package events

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"

	logx "tweetfeeder/pkg/logx"
)

var ErrUnknownCategory = errors.New("unknown event category")

type Family string

const (
	FamilySYS Family = "SYS"
	FamilyNET Family = "NET"
	FamilyDBG Family = "DBG"
)

type Severity int

const (
	Info Severity = iota
	Warn
	Error
)

func (s Severity) String() string {
	switch s {
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "info"
	}
}

// Level maps the severity onto the console log level.
func (s Severity) Level() logx.Level {
	switch s {
	case Warn:
		return logx.LevelWarn
	case Error:
		return logx.LevelError
	default:
		return logx.LevelInfo
	}
}

// Category is one entry of the taxonomy. Its family, name and severity are
// fixed at declaration.
type Category int

const (
	SysSetup Category = iota
	SysThreadStart
	SysThreadStop
	SysCommand
	SysLoadTweet
	SysShutDown
	SysConnect
	SysDisconnect
	SysStatus
	SysNoTweetsFound
	SysStoppedByOperator
	SysNoTimesFound
	SysLoadFailed
	SysPublishFailed
	SysPersistFailed

	NetSendTweet
	NetSendReply
	NetSendDM
	NetGetRetweet
	NetGetQuoteRetweet
	NetGetReply
	NetGetDM
	NetGetFavorite
	NetGetUnknown

	DbgInfo
	DbgWarn
	DbgError

	numCategories
)

type declaration struct {
	family   Family
	name     string
	severity Severity
}

var declarations = [numCategories]declaration{
	SysSetup:             {FamilySYS, "Setup", Info},
	SysThreadStart:       {FamilySYS, "ThreadStart", Info},
	SysThreadStop:        {FamilySYS, "ThreadStop", Info},
	SysCommand:           {FamilySYS, "Command", Info},
	SysLoadTweet:         {FamilySYS, "LoadTweet", Info},
	SysShutDown:          {FamilySYS, "ShutDown", Info},
	SysConnect:           {FamilySYS, "Connect", Info},
	SysDisconnect:        {FamilySYS, "Disconnect", Warn},
	SysStatus:            {FamilySYS, "Status", Info},
	SysNoTweetsFound:     {FamilySYS, "NoTweetsFound", Info},
	SysStoppedByOperator: {FamilySYS, "StoppedByOperator", Warn},
	SysNoTimesFound:      {FamilySYS, "NoTimesFound", Error},
	SysLoadFailed:        {FamilySYS, "LoadFailed", Error},
	SysPublishFailed:     {FamilySYS, "PublishFailed", Error},
	SysPersistFailed:     {FamilySYS, "PersistFailed", Error},

	NetSendTweet:       {FamilyNET, "SendTweet", Info},
	NetSendReply:       {FamilyNET, "SendReply", Info},
	NetSendDM:          {FamilyNET, "SendDM", Info},
	NetGetRetweet:      {FamilyNET, "GetRetweet", Info},
	NetGetQuoteRetweet: {FamilyNET, "GetQuoteRetweet", Info},
	NetGetReply:        {FamilyNET, "GetReply", Info},
	NetGetDM:           {FamilyNET, "GetDM", Info},
	NetGetFavorite:     {FamilyNET, "GetFavorite", Info},
	NetGetUnknown:      {FamilyNET, "GetUnknown", Warn},

	DbgInfo:  {FamilyDBG, "Info", Info},
	DbgWarn:  {FamilyDBG, "Warn", Warn},
	DbgError: {FamilyDBG, "Err", Error},
}

func (c Category) Valid() bool { return c >= 0 && c < numCategories }

func (c Category) Family() Family {
	if !c.Valid() {
		return FamilyDBG
	}
	return declarations[c].family
}

func (c Category) Severity() Severity {
	if !c.Valid() {
		return Warn
	}
	return declarations[c].severity
}

// String returns the qualified name, e.g. "NET.GetReply".
func (c Category) String() string {
	if !c.Valid() {
		return fmt.Sprintf("DBG.Category(%d)", int(c))
	}
	d := declarations[c]
	return string(d.family) + "." + d.name
}

// All lists every declared category in declaration order.
func All() []Category {
	return lo.Times(int(numCategories), func(i int) Category { return Category(i) })
}

var byName = lo.SliceToMap(All(), func(c Category) (string, Category) {
	return strings.ToLower(c.String()), c
})

// ParseCategory accepts qualified names case-insensitively ("net.getreply").
func ParseCategory(s string) (Category, error) {
	if c, ok := byName[strings.ToLower(strings.TrimSpace(s))]; ok {
		return c, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

// ParseCategories parses a config allow-list.
func ParseCategories(names []string) ([]Category, error) {
	out := make([]Category, 0, len(names))
	for _, n := range names {
		c, err := ParseCategory(n)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return lo.Uniq(out), nil
}

// DefaultAlertCategories are forwarded to the operator when no allow-list is configured.
var DefaultAlertCategories = []Category{NetGetReply, NetGetQuoteRetweet}
