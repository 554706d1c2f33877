package pipeline

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tkilaker/feedkiln/internal/database"
)

// Cleanup deletes articles and website data older than daysToKeep days and
// fetch logs past the log retention. Rows exactly at a cutoff are kept.
func (p *Pipeline) Cleanup(ctx context.Context, daysToKeep int) (*database.CleanupResult, error) {
	if daysToKeep <= 0 {
		daysToKeep = p.opts.RetentionDays
	}

	now := p.now().UTC()
	cutoff := now.AddDate(0, 0, -daysToKeep)
	logCutoff := now.AddDate(0, 0, -p.opts.LogRetentionDays)

	ctx, cancel := context.WithTimeout(ctx, p.opts.PersistTimeout)
	defer cancel()

	res, err := p.store.DeleteBefore(ctx, cutoff, logCutoff)
	if err != nil {
		return nil, fmt.Errorf("cleanup failed: %w", err)
	}

	log.Info().
		Int("days_to_keep", daysToKeep).
		Int64("articles", res.ArticlesDeleted).
		Int64("website_data", res.WebsiteDataDeleted).
		Int64("logs", res.LogsDeleted).
		Msg("Cleanup finished")
	return res, nil
}

// SourceReport aggregates the per-source fetch logs of a report window.
type SourceReport struct {
	Source      string     `json:"source"`
	Attempts    int        `json:"attempts"`
	Successes   int        `json:"successes"`
	Failures    int        `json:"failures"`
	ItemsSeen   int        `json:"items_fetched"`
	ItemsNew    int        `json:"items_new"`
	SuccessRate float64    `json:"success_rate"`
	LastStatus  string     `json:"last_status"`
	LastRun     time.Time  `json:"last_run"`
	LastError   *string    `json:"last_error,omitempty"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
}

// Report is the periodic status report.
type Report struct {
	GeneratedAt  time.Time      `json:"generated_at"`
	Since        time.Time      `json:"since"`
	Window       string         `json:"window"`
	Runs         int            `json:"runs"`
	RunsByStatus map[string]int `json:"runs_by_status"`
	ItemsSeen    int            `json:"items_fetched"`
	ItemsNew     int            `json:"items_new"`
	SuccessRate  float64        `json:"success_rate"`
	Sources      []SourceReport `json:"sources"`
}

// Report aggregates the fetch logs of the last window. A non-positive window
// uses the configured default.
func (p *Pipeline) Report(ctx context.Context, window time.Duration) (*Report, error) {
	if window <= 0 {
		window = p.opts.ReportWindow
	}
	now := p.now().UTC()
	since := now.Add(-window)

	logs, err := p.store.FetchLogsSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load fetch logs: %w", err)
	}

	report := &Report{
		GeneratedAt:  now,
		Since:        since,
		Window:       window.String(),
		RunsByStatus: make(map[string]int),
	}

	bySource := make(map[string]*SourceReport)
	attempts, successes := 0, 0
	// logs arrive newest first, so the first row seen per source is its latest
	for _, l := range logs {
		if l.IsSummary() {
			report.Runs++
			report.RunsByStatus[string(l.Status)]++
			report.ItemsSeen += l.ItemsSeen
			report.ItemsNew += l.ItemsNew
			continue
		}

		sr, ok := bySource[*l.SourceID]
		if !ok {
			sr = &SourceReport{
				Source:     *l.SourceID,
				LastStatus: string(l.Status),
				LastRun:    l.StartedAt,
			}
			bySource[*l.SourceID] = sr
		}
		sr.Attempts++
		sr.ItemsSeen += l.ItemsSeen
		sr.ItemsNew += l.ItemsNew
		attempts++

		if l.Status == database.LogFailure {
			sr.Failures++
			if sr.LastError == nil {
				sr.LastError = l.ErrorSummary
			}
			continue
		}
		sr.Successes++
		successes++
		if sr.LastSuccess == nil {
			t := l.FinishedAt
			sr.LastSuccess = &t
		}
	}

	report.SuccessRate = rate(successes, attempts)
	for _, sr := range bySource {
		sr.SuccessRate = rate(sr.Successes, sr.Attempts)
		report.Sources = append(report.Sources, *sr)
	}
	sort.Slice(report.Sources, func(i, j int) bool {
		return report.Sources[i].Source < report.Sources[j].Source
	})

	log.Info().
		Str("window", report.Window).
		Int("runs", report.Runs).
		Int("items_new", report.ItemsNew).
		Float64("success_rate", report.SuccessRate).
		Msg("Status report")
	for _, sr := range report.Sources {
		if sr.Failures > 0 {
			log.Warn().
				Str("source", sr.Source).
				Int("failures", sr.Failures).
				Int("attempts", sr.Attempts).
				Msg("Source failing in report window")
		}
	}

	return report, nil
}

// Stats are the aggregate counts shown on the control surface.
type Stats struct {
	TotalArticles    int64                 `json:"total_articles"`
	ArticlesToday    int64                 `json:"articles_today"`
	ArticlesThisWeek int64                 `json:"articles_this_week"`
	Sources          int                   `json:"sources_count"`
	LastFetch        *time.Time            `json:"last_fetch"`
	SuccessRate      float64               `json:"success_rate"`
	BySource         []database.GroupCount `json:"by_source"`
}

// Stats computes article counts and the per-source fetch success rate over
// the stats window.
func (p *Pipeline) Stats(ctx context.Context) (*Stats, error) {
	now := p.now().In(p.opts.Location)
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, p.opts.Location)

	total, err := p.store.CountArticles(ctx, time.Time{})
	if err != nil {
		return nil, err
	}
	today, err := p.store.CountArticles(ctx, startOfDay)
	if err != nil {
		return nil, err
	}
	week, err := p.store.CountArticles(ctx, now.AddDate(0, 0, -7))
	if err != nil {
		return nil, err
	}
	bySource, err := p.store.CountBySource(ctx)
	if err != nil {
		return nil, err
	}
	lastFetch, err := p.store.LastSuccessfulRun(ctx)
	if err != nil {
		return nil, err
	}
	logs, err := p.store.FetchLogsSince(ctx, now.Add(-p.opts.StatsWindow))
	if err != nil {
		return nil, err
	}

	attempts, successes := 0, 0
	for _, l := range logs {
		if l.IsSummary() {
			continue
		}
		attempts++
		if l.Status != database.LogFailure {
			successes++
		}
	}

	return &Stats{
		TotalArticles:    total,
		ArticlesToday:    today,
		ArticlesThisWeek: week,
		Sources:          len(bySource),
		LastFetch:        lastFetch,
		SuccessRate:      rate(successes, attempts),
		BySource:         bySource,
	}, nil
}

// rate is a percentage rounded to two decimals; zero attempts give zero.
func rate(successes, attempts int) float64 {
	if attempts == 0 {
		return 0
	}
	return math.Round(float64(successes)/float64(attempts)*10000) / 100
}
