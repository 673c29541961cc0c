package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(h, m, s int) time.Time {
	return time.Date(2024, 3, 10, h, m, s, 0, time.UTC)
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		want    Schedule
		wantErr bool
	}{
		{name: "empty", in: nil, want: Schedule{}},
		{name: "leading zeros optional", in: []string{"9:5", "09:05", "12:02"}, want: Schedule{{9, 5}, {12, 2}}},
		{name: "sorted", in: []string{"18:30", "7:00", "12:00"}, want: Schedule{{7, 0}, {12, 0}, {18, 30}}},
		{name: "midnight sorts last", in: []string{"24:00", "12:00"}, want: Schedule{{12, 0}, {24, 0}}},
		{name: "blank skipped", in: []string{" ", "8:15"}, want: Schedule{{8, 15}}},
		{name: "minute out of range", in: []string{"10:60"}, wantErr: true},
		{name: "hour out of range", in: []string{"25:00"}, wantErr: true},
		{name: "garbage", in: []string{"noon"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidTime)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextFire(t *testing.T) {
	tests := []struct {
		name      string
		now       time.Time
		sched     Schedule
		immediate bool
		want      time.Time
		ok        bool
	}{
		{name: "scenario A later today", now: day(11, 0, 0), sched: Schedule{{12, 2}}, want: day(12, 2, 0), ok: true},
		{name: "scenario B tomorrow", now: day(12, 5, 0), sched: Schedule{{12, 2}}, want: day(12, 2, 0).AddDate(0, 0, 1), ok: true},
		{name: "scenario C immediate", now: day(8, 0, 30), immediate: true, want: day(8, 0, 32), ok: true},
		{name: "empty not immediate", now: day(8, 0, 0), ok: false},
		{name: "exactly at final slot", now: day(12, 2, 0), sched: Schedule{{12, 2}}, want: day(12, 2, 0).AddDate(0, 0, 1), ok: true},
		{name: "within slot minute", now: day(12, 2, 30), sched: Schedule{{12, 2}}, want: day(12, 2, 0).AddDate(0, 0, 1), ok: true},
		{name: "middle slot", now: day(10, 0, 0), sched: Schedule{{9, 0}, {12, 0}, {18, 0}}, want: day(12, 0, 0), ok: true},
		{name: "first slot tomorrow", now: day(19, 0, 0), sched: Schedule{{9, 0}, {12, 0}, {18, 0}}, want: day(9, 0, 0).AddDate(0, 0, 1), ok: true},
		{name: "before first slot", now: day(1, 0, 0), sched: Schedule{{9, 0}, {18, 0}}, want: day(9, 0, 0), ok: true},
		{name: "midnight final keeps today", now: day(9, 0, 0), sched: Schedule{{12, 0}, {24, 0}}, want: day(12, 0, 0), ok: true},
		{name: "midnight final after last slot", now: day(13, 0, 0), sched: Schedule{{12, 0}, {24, 0}}, want: day(0, 0, 0).AddDate(0, 0, 1), ok: true},
		{name: "past midnight final", now: day(0, 0, 0).AddDate(0, 0, 1), sched: Schedule{{12, 0}, {24, 0}}, want: day(12, 0, 0).AddDate(0, 0, 1), ok: true},
		{name: "schedule ignores immediate", now: day(1, 0, 0), sched: Schedule{{9, 0}}, immediate: true, want: day(9, 0, 0), ok: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NextFire(tt.now, tt.sched, tt.immediate, 2*time.Second)
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.True(t, tt.want.Equal(got), "want %s got %s", tt.want, got)
				if len(tt.sched) > 0 {
					assert.Zero(t, got.Second())
				}
			}
		})
	}
}

func TestNextFireIsPure(t *testing.T) {
	now := day(13, 37, 12)
	s := Schedule{{8, 0}, {13, 30}, {21, 45}}
	a, okA := NextFire(now, s, false, 0)
	b, okB := NextFire(now, s, false, 0)
	require.True(t, okA)
	require.True(t, okB)
	assert.True(t, a.Equal(b))
	assert.Equal(t, Schedule{{8, 0}, {13, 30}, {21, 45}}, s)
}

func TestNextFireUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*3600)
	now := time.Date(2024, 3, 10, 23, 0, 0, 0, loc)
	got, ok := NextFire(now, Schedule{{6, 0}}, false, 0)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 11, 6, 0, 0, 0, loc), got)
}
