package scheduler

import (
	"fmt"
	"time"
)

// Cadence decides when an entry is due. Next returns the first trigger
// strictly after t, in t's location.
type Cadence interface {
	Next(t time.Time) time.Time
	String() string
}

// Daily triggers once a day at Hour:00.
type Daily struct {
	Hour int
}

func (d Daily) Next(t time.Time) time.Time {
	next := time.Date(t.Year(), t.Month(), t.Day(), d.Hour, 0, 0, 0, t.Location())
	if !next.After(t) {
		next = time.Date(t.Year(), t.Month(), t.Day()+1, d.Hour, 0, 0, 0, t.Location())
	}
	return next
}

func (d Daily) String() string {
	return fmt.Sprintf("daily at %02d:00", d.Hour)
}

// Weekly triggers once a week on Day at Hour:00.
type Weekly struct {
	Day  time.Weekday
	Hour int
}

func (w Weekly) Next(t time.Time) time.Time {
	days := (int(w.Day) - int(t.Weekday()) + 7) % 7
	next := time.Date(t.Year(), t.Month(), t.Day()+days, w.Hour, 0, 0, 0, t.Location())
	if !next.After(t) {
		next = time.Date(t.Year(), t.Month(), t.Day()+days+7, w.Hour, 0, 0, 0, t.Location())
	}
	return next
}

func (w Weekly) String() string {
	return fmt.Sprintf("weekly on %s at %02d:00", w.Day, w.Hour)
}

// Interval triggers every Every, aligned to local midnight: a 6h interval
// fires at 00:00, 06:00, 12:00 and 18:00.
type Interval struct {
	Every time.Duration
}

func (i Interval) Next(t time.Time) time.Time {
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	nextMidnight := time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
	if i.Every <= 0 {
		return nextMidnight
	}

	slots := t.Sub(midnight)/i.Every + 1
	next := midnight.Add(slots * i.Every)
	if !next.Before(nextMidnight) {
		return nextMidnight
	}
	return next
}

func (i Interval) String() string {
	return "every " + i.Every.String()
}
