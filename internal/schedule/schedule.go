// Package schedule parses daily publish targets and computes when the next
// batch fires.
package schedule

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is one daily publish target.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// Schedule is an ordered set of daily targets. The zero value is valid and
// means "no fixed times".
type Schedule []TimeOfDay

func (s Schedule) Strings() []string {
	out := make([]string, len(s))
	for i, t := range s {
		out[i] = t.String()
	}
	return out
}

var ErrInvalidTime = errors.New("invalid time of day")

// Leading zeros are optional: "9:5", "09:05" and "9:05" are the same target.
var reTimeOfDay = regexp.MustCompile(`^\s*0?([12]?\d):0?([1-5]?\d)\s*$`)

// ParseTimeOfDay parses "H:MM"-like strings. Hours up to 24 are accepted;
// 24:MM rolls over into the next day when resolved.
func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	m := reTimeOfDay.FindStringSubmatch(raw)
	if len(m) != 3 {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTime, raw)
	}
	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if h > 24 || mm > 59 {
		return TimeOfDay{}, fmt.Errorf("%w: %q out of range", ErrInvalidTime, raw)
	}
	return TimeOfDay{Hour: h, Minute: mm}, nil
}

// Parse converts configured strings into a sorted, de-duplicated Schedule.
// The schedule order NextFire walks, and so its final target, is this sorted
// order rather than the order the times were configured in.
func Parse(raw []string) (Schedule, error) {
	out := make(Schedule, 0, len(raw))
	seen := make(map[TimeOfDay]struct{}, len(raw))
	for _, r := range raw {
		if strings.TrimSpace(r) == "" {
			continue
		}
		t, err := ParseTimeOfDay(r)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Hour != out[j].Hour {
			return out[i].Hour < out[j].Hour
		}
		return out[i].Minute < out[j].Minute
	})
	return out, nil
}

// NextFire returns the next instant a batch should be published.
//
// With an empty schedule it returns now+delay in immediate mode and false
// otherwise. With targets, the final target anchors the scheduling day: once
// now reaches it, the day moves to tomorrow. The first target (in schedule
// order) strictly after now on that day wins, with seconds zeroed.
//
// NextFire is pure; calendar math uses now's location.
func NextFire(now time.Time, s Schedule, immediate bool, delay time.Duration) (time.Time, bool) {
	if len(s) == 0 {
		if immediate {
			return now.Add(delay), true
		}
		return time.Time{}, false
	}

	y, m, d := now.Date()
	slot := func(offset int, t TimeOfDay) time.Time {
		return time.Date(y, m, d+offset, t.Hour, t.Minute, 0, 0, now.Location())
	}
	// Day offset is tracked apart from each slot's own rollover so a 24:MM
	// final target does not drag the earlier targets into tomorrow.
	offset := 0
	if !slot(0, s[len(s)-1]).After(now) {
		offset = 1
	}
	for _, t := range s {
		if c := slot(offset, t); c.After(now) {
			return c, true
		}
	}
	return time.Time{}, false
}
