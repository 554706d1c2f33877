// Package pipeline ties fetching, persistence and fetch logging into runs,
// and implements the maintenance jobs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tkilaker/feedkiln/internal/database"
	"github.com/tkilaker/feedkiln/internal/fetcher"
	"github.com/tkilaker/feedkiln/internal/jobs"
	"github.com/tkilaker/feedkiln/internal/sources"
)

// Fetcher runs one fetch cycle.
type Fetcher interface {
	RunFetch(ctx context.Context, srcs []sources.Source, full bool, observe fetcher.Observer) *fetcher.Result
}

// Options tune persistence and retention.
type Options struct {
	PersistTimeout   time.Duration
	RetentionDays    int
	LogRetentionDays int
	ReportWindow     time.Duration
	StatsWindow      time.Duration
	Location         *time.Location
}

// Pipeline runs fetch cycles against a store.
type Pipeline struct {
	fetcher  Fetcher
	store    database.Store
	registry *sources.Registry
	opts     Options

	now      func() time.Time
	newRunID func() string
}

// New creates a pipeline. Zero options get defaults.
func New(f Fetcher, store database.Store, registry *sources.Registry, opts Options) *Pipeline {
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 2 * time.Minute
	}
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = 30
	}
	if opts.LogRetentionDays <= 0 {
		opts.LogRetentionDays = 90
	}
	if opts.ReportWindow <= 0 {
		opts.ReportWindow = 24 * time.Hour
	}
	if opts.StatsWindow <= 0 {
		opts.StatsWindow = 7 * 24 * time.Hour
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	return &Pipeline{
		fetcher:  f,
		store:    store,
		registry: registry,
		opts:     opts,
		now:      time.Now,
		newRunID: uuid.NewString,
	}
}

// SourceSummary is the outcome of one source within a run.
type SourceSummary struct {
	Source    string             `json:"source"`
	Status    database.LogStatus `json:"status"`
	ItemsSeen int                `json:"items_fetched"`
	New       int                `json:"items_new"`
	Duplicate int                `json:"items_duplicate"`
	Failed    int                `json:"items_failed"`
	Error     string             `json:"error,omitempty"`
}

// RunSummary is the result of one fetch run.
type RunSummary struct {
	RunID          string             `json:"run_id"`
	Kind           jobs.Kind          `json:"kind"`
	FullContent    bool               `json:"fetch_content"`
	Status         database.LogStatus `json:"status"`
	Sources        int                `json:"sources"`
	SourcesFailed  int                `json:"sources_failed"`
	ItemsSeen      int                `json:"items_fetched"`
	New            int                `json:"items_new"`
	Duplicate      int                `json:"items_duplicate"`
	Errors         int                `json:"items_failed"`
	WebsiteRecords int                `json:"website_records"`
	StartedAt      time.Time          `json:"started_at"`
	FinishedAt     time.Time          `json:"finished_at"`
	PerSource      []SourceSummary    `json:"per_source"`
}

// ProgressFunc receives fetch progress as sources complete.
type ProgressFunc func(current, total int, message string)

// Run fetches every registered source, persists the results and writes the
// run's fetch logs last.
//
// When ctx is cancelled the completed fetch results are still persisted and
// logged, and the summary is returned together with the cancel cause. A
// cancel caused by jobs.ErrHardAbort skips persistence entirely.
func (p *Pipeline) Run(ctx context.Context, kind jobs.Kind, full bool, progress ProgressFunc) (*RunSummary, error) {
	runID := p.newRunID()
	started := p.now().UTC()
	srcs := p.registry.All()

	logger := log.With().Str("run_id", runID).Str("kind", string(kind)).Logger()
	logger.Info().Int("sources", len(srcs)).Bool("full", full).Msg("Fetch run started")

	result := p.fetcher.RunFetch(ctx, srcs, full, func(done, total int, outcome fetcher.SourceOutcome) {
		if progress != nil {
			progress(done, total, outcome.SourceID)
		}
	})

	cause := context.Cause(ctx)
	if errors.Is(cause, jobs.ErrHardAbort) {
		logger.Warn().Msg("Fetch run aborted, discarding results")
		return nil, cause
	}

	// completed work is flushed even when the run was cancelled
	persistCtx := context.WithoutCancel(ctx)

	persisted, err := p.Persist(persistCtx, result.Records)
	if err != nil {
		logger.Error().Err(err).Msg("Persistence failed, no fetch logs written")
		return nil, err
	}
	if err := p.storeWebsite(persistCtx, result.Website); err != nil {
		logger.Error().Err(err).Msg("Persistence failed, no fetch logs written")
		return nil, err
	}

	summary := p.summarize(runID, kind, full, started, result, persisted)

	if err := p.writeLogs(persistCtx, summary, result.Outcomes); err != nil {
		logger.Error().Err(err).Msg("Failed to write fetch logs")
		return nil, err
	}

	logger.Info().
		Str("status", string(summary.Status)).
		Int("items_new", summary.New).
		Int("items_duplicate", summary.Duplicate).
		Int("sources_failed", summary.SourcesFailed).
		Dur("duration", summary.FinishedAt.Sub(summary.StartedAt)).
		Msg("Fetch run finished")

	if ctx.Err() != nil {
		if cause == nil {
			cause = ctx.Err()
		}
		return summary, cause
	}
	if summary.Status == database.LogFailure {
		return summary, ErrAllSourcesFailed
	}
	return summary, nil
}

func (p *Pipeline) summarize(runID string, kind jobs.Kind, full bool, started time.Time, result *fetcher.Result, persisted *PersistResult) *RunSummary {
	s := &RunSummary{
		RunID:          runID,
		Kind:           kind,
		FullContent:    full,
		Sources:        len(result.Outcomes),
		SourcesFailed:  result.Failed(),
		New:            persisted.New,
		Duplicate:      persisted.Duplicate,
		Errors:         persisted.Errors,
		WebsiteRecords: len(result.Website),
		StartedAt:      started,
		PerSource:      make([]SourceSummary, 0, len(result.Outcomes)),
	}

	for _, o := range result.Outcomes {
		counts := persisted.BySource[o.SourceID]
		if counts == nil {
			counts = &SourceCounts{}
		}
		s.ItemsSeen += o.ItemsSeen
		s.PerSource = append(s.PerSource, SourceSummary{
			Source:    o.SourceID,
			Status:    sourceStatus(o, counts),
			ItemsSeen: o.ItemsSeen,
			New:       counts.New,
			Duplicate: counts.Duplicate,
			Failed:    counts.Failed,
			Error:     o.Error,
		})
	}

	s.Status = runStatus(len(result.Outcomes), s.SourcesFailed)
	s.FinishedAt = p.now().UTC()
	return s
}

func sourceStatus(o fetcher.SourceOutcome, counts *SourceCounts) database.LogStatus {
	switch {
	case o.Status == fetcher.StatusFailure:
		return database.LogFailure
	case counts.Failed > 0:
		return database.LogPartial
	default:
		return database.LogSuccess
	}
}

// runStatus is SUCCESS with no failed sources, FAILURE when every source
// failed and PARTIAL otherwise.
func runStatus(total, failed int) database.LogStatus {
	switch {
	case failed == 0:
		return database.LogSuccess
	case failed >= total:
		return database.LogFailure
	default:
		return database.LogPartial
	}
}

// writeLogs stores one row per source plus the run summary row, all or none.
func (p *Pipeline) writeLogs(ctx context.Context, s *RunSummary, outcomes []fetcher.SourceOutcome) error {
	ctx, cancel := context.WithTimeout(ctx, p.opts.PersistTimeout)
	defer cancel()

	logs := make([]*database.FetchLog, 0, len(outcomes)+1)
	var failures []string
	for i, o := range outcomes {
		per := s.PerSource[i]
		sourceID := o.SourceID
		logs = append(logs, &database.FetchLog{
			RunID:        s.RunID,
			JobKind:      string(s.Kind),
			SourceID:     &sourceID,
			StartedAt:    o.StartedAt.Truncate(time.Microsecond),
			FinishedAt:   o.FinishedAt.Truncate(time.Microsecond),
			ItemsSeen:    o.ItemsSeen,
			ItemsNew:     per.New,
			ItemsFailed:  per.Failed,
			Status:       per.Status,
			ErrorSummary: optional(o.Error),
		})
		if o.Error != "" {
			failures = append(failures, o.SourceID+": "+o.Error)
		}
	}

	var summaryErr *string
	if len(failures) > 0 {
		msg := fmt.Sprintf("%d/%d sources failed: %s", len(failures), len(outcomes), strings.Join(failures, "; "))
		summaryErr = &msg
	}
	logs = append(logs, &database.FetchLog{
		RunID:        s.RunID,
		JobKind:      string(s.Kind),
		StartedAt:    s.StartedAt.Truncate(time.Microsecond),
		FinishedAt:   s.FinishedAt.Truncate(time.Microsecond),
		ItemsSeen:    s.ItemsSeen,
		ItemsNew:     s.New,
		ItemsFailed:  s.Errors,
		Status:       s.Status,
		ErrorSummary: summaryErr,
	})

	if err := p.store.InsertFetchLogs(ctx, logs); err != nil {
		return fmt.Errorf("failed to store fetch logs: %w", err)
	}
	return nil
}
