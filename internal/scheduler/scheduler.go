// Package scheduler triggers the recurring jobs. It only decides when; all
// work is dispatched through the job runner.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tkilaker/feedkiln/internal/config"
	"github.com/tkilaker/feedkiln/internal/jobs"
)

// maxSleep bounds a single wait so wall clock jumps are noticed.
const maxSleep = time.Minute

// Enqueuer accepts jobs without blocking.
type Enqueuer interface {
	Enqueue(kind jobs.Kind, params jobs.Params) (*jobs.Job, bool, error)
}

// Entry is one recurring job definition.
type Entry struct {
	Name    string
	Kind    jobs.Kind
	Params  jobs.Params
	Cadence Cadence
}

// DefaultEntries builds the daily fetch, weekly full fetch, weekly cleanup
// and periodic report from configuration.
func DefaultEntries(cfg *config.Config) []Entry {
	return []Entry{
		{
			Name:    "daily_fetch",
			Kind:    jobs.KindDailyFetch,
			Cadence: Daily{Hour: cfg.DailyFetchHour},
		},
		{
			Name:    "weekly_full_fetch",
			Kind:    jobs.KindFullFetch,
			Params:  jobs.Params{FetchContent: true},
			Cadence: Weekly{Day: time.Weekday(cfg.WeeklyFetchDay), Hour: cfg.WeeklyFetchHour},
		},
		{
			Name:    "weekly_cleanup",
			Kind:    jobs.KindCleanup,
			Params:  jobs.Params{DaysToKeep: cfg.RetentionDays},
			Cadence: Weekly{Day: time.Weekday(cfg.CleanupDay), Hour: cfg.CleanupHour},
		},
		{
			Name:    "status_report",
			Kind:    jobs.KindReport,
			Params:  jobs.Params{WindowHours: 24},
			Cadence: Interval{Every: cfg.ReportInterval},
		},
	}
}

// Upcoming describes the next trigger of an entry.
type Upcoming struct {
	Name    string    `json:"name"`
	Kind    jobs.Kind `json:"kind"`
	Cadence string    `json:"cadence"`
	Next    time.Time `json:"next_run"`
}

// Scheduler fires entries on their cadence.
type Scheduler struct {
	enqueuer Enqueuer
	entries  []Entry
	loc      *time.Location
	now      func() time.Time

	mu     sync.Mutex
	next   []time.Time
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a scheduler evaluating cadences in loc.
func New(enqueuer Enqueuer, entries []Entry, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		enqueuer: enqueuer,
		entries:  entries,
		loc:      loc,
		now:      time.Now,
		next:     make([]time.Time, len(entries)),
	}
}

// Start plans the next trigger of every entry and runs the loop until ctx is
// done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	now := s.now().In(s.loc)
	for i, e := range s.entries {
		s.next[i] = e.Cadence.Next(now)
		log.Info().Str("job", e.Name).Str("cadence", e.Cadence.String()).Time("next_run", s.next[i]).Msg("Scheduled job")
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(s.untilNext())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.tick(s.now())
			timer.Reset(s.untilNext())
		}
	}
}

func (s *Scheduler) untilNext() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	wait := maxSleep
	now := s.now()
	for _, next := range s.next {
		if d := next.Sub(now); d < wait {
			wait = d
		}
	}
	return max(wait, 0)
}

// tick enqueues every entry due at now. An entry that missed several slots
// fires once and is rescheduled from now.
func (s *Scheduler) tick(now time.Time) []string {
	now = now.In(s.loc)

	s.mu.Lock()
	var due []int
	for i, e := range s.entries {
		if !s.next[i].After(now) {
			due = append(due, i)
			s.next[i] = e.Cadence.Next(now)
		}
	}
	s.mu.Unlock()

	fired := make([]string, 0, len(due))
	for _, i := range due {
		e := s.entries[i]
		job, coalesced, err := s.enqueuer.Enqueue(e.Kind, e.Params)
		if err != nil {
			log.Error().Err(err).Str("job", e.Name).Msg("Failed to enqueue scheduled job")
			continue
		}
		log.Info().
			Str("job", e.Name).
			Str("job_id", job.ID).
			Bool("coalesced", coalesced).
			Msg("Scheduled job triggered")
		fired = append(fired, e.Name)
	}
	return fired
}

// Upcoming lists the next trigger of every entry, soonest first.
func (s *Scheduler) Upcoming() []Upcoming {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Upcoming, 0, len(s.entries))
	for i, e := range s.entries {
		next := s.next[i]
		if next.IsZero() {
			next = e.Cadence.Next(s.now().In(s.loc))
		}
		out = append(out, Upcoming{Name: e.Name, Kind: e.Kind, Cadence: e.Cadence.String(), Next: next})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Next.Before(out[j].Next) })
	return out
}

// Stop ends the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Info().Msg("Scheduler stopped")
}
