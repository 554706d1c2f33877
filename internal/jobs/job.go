// Package jobs decouples triggering work from executing it and tracks every
// job through QUEUED, RUNNING and a terminal state.
package jobs

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind identifies what a job does.
type Kind string

const (
	KindDailyFetch Kind = "DAILY_FETCH"
	KindFullFetch  Kind = "FULL_FETCH"
	KindCleanup    Kind = "CLEANUP"
	KindReport     Kind = "REPORT"
)

// Kinds lists every job kind.
var Kinds = []Kind{KindDailyFetch, KindFullFetch, KindCleanup, KindReport}

// ParseKind accepts a kind in any case.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// State is where a job is in its lifecycle.
type State string

const (
	StateQueued    State = "QUEUED"
	StateRunning   State = "RUNNING"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Params are the job arguments. Unused fields are ignored by a kind.
type Params struct {
	FetchContent bool `json:"fetch_content,omitempty"`
	DaysToKeep   int  `json:"days_to_keep,omitempty"`
	WindowHours  int  `json:"window_hours,omitempty"`
}

// Progress is the live position of a running job.
type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Message string `json:"message,omitempty"`
}

// Job is one tracked unit of work.
type Job struct {
	ID          string          `json:"job_id"`
	Kind        Kind            `json:"kind"`
	State       State           `json:"status"`
	Params      Params          `json:"params"`
	RequestedAt time.Time       `json:"requested_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	Progress    *Progress       `json:"progress,omitempty"`
}

func (j *Job) clone() *Job {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.Result != nil {
		c.Result = append(json.RawMessage(nil), j.Result...)
	}
	if j.Progress != nil {
		p := *j.Progress
		c.Progress = &p
	}
	return &c
}
