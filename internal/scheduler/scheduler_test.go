package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tkilaker/feedkiln/internal/config"
	"github.com/tkilaker/feedkiln/internal/jobs"
)

// 2024-06-05 is a Wednesday.
var wednesday = time.Date(2024, 6, 5, 10, 30, 0, 0, time.UTC)

func TestDailyNext(t *testing.T) {
	d := Daily{Hour: 6}
	assert.Equal(t, time.Date(2024, 6, 6, 6, 0, 0, 0, time.UTC), d.Next(wednesday))

	early := time.Date(2024, 6, 5, 5, 59, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 6, 5, 6, 0, 0, 0, time.UTC), d.Next(early))

	exact := time.Date(2024, 6, 5, 6, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 6, 6, 6, 0, 0, 0, time.UTC), d.Next(exact))
}

func TestWeeklyNext(t *testing.T) {
	tests := []struct {
		name    string
		cadence Weekly
		from    time.Time
		want    time.Time
	}{
		{name: "later this week", cadence: Weekly{Day: time.Sunday, Hour: 3}, from: wednesday, want: time.Date(2024, 6, 9, 3, 0, 0, 0, time.UTC)},
		{name: "later today", cadence: Weekly{Day: time.Wednesday, Hour: 12}, from: wednesday, want: time.Date(2024, 6, 5, 12, 0, 0, 0, time.UTC)},
		{name: "earlier today wraps", cadence: Weekly{Day: time.Wednesday, Hour: 2}, from: wednesday, want: time.Date(2024, 6, 12, 2, 0, 0, 0, time.UTC)},
		{name: "earlier in week", cadence: Weekly{Day: time.Monday, Hour: 0}, from: wednesday, want: time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cadence.Next(tt.from))
		})
	}
}

func TestIntervalNextAlignsToMidnight(t *testing.T) {
	six := Interval{Every: 6 * time.Hour}
	assert.Equal(t, time.Date(2024, 6, 5, 12, 0, 0, 0, time.UTC), six.Next(wednesday))
	assert.Equal(t, time.Date(2024, 6, 5, 18, 0, 0, 0, time.UTC), six.Next(time.Date(2024, 6, 5, 12, 0, 0, 0, time.UTC)))
	assert.Equal(t, time.Date(2024, 6, 6, 0, 0, 0, 0, time.UTC), six.Next(time.Date(2024, 6, 5, 23, 0, 0, 0, time.UTC)))

	// 7h does not divide a day; slots restart at midnight
	seven := Interval{Every: 7 * time.Hour}
	assert.Equal(t, time.Date(2024, 6, 6, 0, 0, 0, 0, time.UTC), seven.Next(time.Date(2024, 6, 5, 21, 30, 0, 0, time.UTC)))
}

func TestCadenceUsesLocation(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Stockholm")
	require.NoError(t, err)

	next := Daily{Hour: 6}.Next(wednesday.In(loc))
	assert.Equal(t, 6, next.Hour())
	assert.Equal(t, loc, next.Location())
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	kinds []jobs.Kind
}

func (f *fakeEnqueuer) Enqueue(kind jobs.Kind, params jobs.Params) (*jobs.Job, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kinds = append(f.kinds, kind)
	return &jobs.Job{ID: string(kind), Kind: kind, State: jobs.StateQueued}, false, nil
}

func TestTickFiresDueEntriesOnce(t *testing.T) {
	enq := &fakeEnqueuer{}
	s := New(enq, []Entry{
		{Name: "daily", Kind: jobs.KindDailyFetch, Cadence: Daily{Hour: 6}},
		{Name: "report", Kind: jobs.KindReport, Cadence: Interval{Every: 6 * time.Hour}},
	}, time.UTC)

	start := time.Date(2024, 6, 5, 5, 0, 0, 0, time.UTC)
	s.next[0] = Daily{Hour: 6}.Next(start)
	s.next[1] = Interval{Every: 6 * time.Hour}.Next(start)

	assert.Empty(t, s.tick(start.Add(30*time.Minute)))

	// both due; the report missed the 06:00 and 12:00 slots but fires once
	fired := s.tick(time.Date(2024, 6, 5, 13, 0, 0, 0, time.UTC))
	assert.Equal(t, []string{"daily", "report"}, fired)
	assert.Equal(t, []jobs.Kind{jobs.KindDailyFetch, jobs.KindReport}, enq.kinds)

	assert.Equal(t, time.Date(2024, 6, 6, 6, 0, 0, 0, time.UTC), s.next[0])
	assert.Equal(t, time.Date(2024, 6, 5, 18, 0, 0, 0, time.UTC), s.next[1])

	assert.Empty(t, s.tick(time.Date(2024, 6, 5, 13, 1, 0, 0, time.UTC)))
}

func TestStartStop(t *testing.T) {
	enq := &fakeEnqueuer{}
	s := New(enq, []Entry{{Name: "daily", Kind: jobs.KindDailyFetch, Cadence: Daily{Hour: 6}}}, time.UTC)

	s.Start(context.Background())
	upcoming := s.Upcoming()
	require.Len(t, upcoming, 1)
	assert.Equal(t, "daily", upcoming[0].Name)
	assert.True(t, upcoming[0].Next.After(time.Now()))

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Empty(t, enq.kinds)
}

func TestDefaultEntries(t *testing.T) {
	cfg := &config.Config{
		DailyFetchHour:  6,
		WeeklyFetchDay:  0,
		WeeklyFetchHour: 3,
		CleanupDay:      0,
		CleanupHour:     2,
		RetentionDays:   30,
		ReportInterval:  6 * time.Hour,
	}
	entries := DefaultEntries(cfg)
	require.Len(t, entries, 4)

	kinds := make([]jobs.Kind, 0, len(entries))
	for _, e := range entries {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []jobs.Kind{jobs.KindDailyFetch, jobs.KindFullFetch, jobs.KindCleanup, jobs.KindReport}, kinds)
	assert.True(t, entries[1].Params.FetchContent)
	assert.Equal(t, 30, entries[2].Params.DaysToKeep)
	assert.Equal(t, "weekly on Sunday at 02:00", entries[2].Cadence.String())
}
