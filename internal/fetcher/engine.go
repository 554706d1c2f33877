// Package fetcher retrieves and normalizes content from configured sources.
// It never touches storage.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tkilaker/feedkiln/internal/sources"
	"golang.org/x/sync/errgroup"
)

const maxBodyBytes = 10 << 20

// Engine runs one fetch cycle across a set of sources.
type Engine struct {
	client           *http.Client
	maxConcurrent    int
	contentPerSource int
	contentMaxChars  int
	contentTimeout   time.Duration
	userAgent        string
	now              func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.client = c }
}

// WithMaxConcurrent bounds how many sources are fetched at once.
func WithMaxConcurrent(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxConcurrent = n
		}
	}
}

// WithContentLimits sets how many entries per source get their page fetched
// on a full run, and how many characters of extracted text are kept.
func WithContentLimits(perSource, maxChars int) Option {
	return func(e *Engine) {
		e.contentPerSource = perSource
		e.contentMaxChars = maxChars
	}
}

// WithContentTimeout sets the timeout of a single article page request.
func WithContentTimeout(d time.Duration) Option {
	return func(e *Engine) { e.contentTimeout = d }
}

// WithUserAgent sets the User-Agent header sent to sources.
func WithUserAgent(ua string) Option {
	return func(e *Engine) { e.userAgent = ua }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		client:           &http.Client{},
		maxConcurrent:    8,
		contentPerSource: 5,
		contentMaxChars:  5000,
		contentTimeout:   20 * time.Second,
		userAgent:        "feedkiln/1.0",
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Observer is told about every finished source.
type Observer func(done, total int, outcome SourceOutcome)

// RunFetch fetches every source concurrently. A failing source is recorded
// in its outcome and never aborts the others; no request is retried.
func (e *Engine) RunFetch(ctx context.Context, srcs []sources.Source, full bool, observe Observer) *Result {
	type sourceResult struct {
		records []Record
		website []WebsiteRecord
		outcome SourceOutcome
	}

	results := make([]sourceResult, len(srcs))
	done := make(chan SourceOutcome, len(srcs))

	var g errgroup.Group
	g.SetLimit(e.maxConcurrent)

	for i, src := range srcs {
		g.Go(func() error {
			res := &results[i]
			res.outcome = SourceOutcome{
				SourceID:  src.ID,
				StartedAt: e.now().UTC(),
			}

			defer func() {
				if r := recover(); r != nil {
					log.Error().Str("source", src.ID).Interface("panic", r).Msg("Source fetch panicked")
					res.records, res.website = nil, nil
					res.outcome.Status = StatusFailure
					res.outcome.Error = fmt.Sprintf("panic: %v", r)
				}
				res.outcome.FinishedAt = e.now().UTC()
				done <- res.outcome
			}()

			var err error
			switch src.Kind {
			case sources.KindGeneric:
				res.website, res.outcome.ItemsSeen, err = e.fetchGeneric(ctx, src)
			default:
				res.records, res.outcome.ItemsSeen, err = e.fetchRSS(ctx, src, full)
			}

			if err != nil {
				res.outcome.Status = StatusFailure
				res.outcome.Error = summarize(err)
				log.Warn().Err(err).Str("source", src.ID).Msg("Source fetch failed")
				return nil
			}

			res.outcome.Status = StatusSuccess
			log.Debug().Str("source", src.ID).Int("items", res.outcome.ItemsSeen).Msg("Source fetched")
			return nil
		})
	}

	go func() {
		_ = g.Wait()
		close(done)
	}()

	n := 0
	for outcome := range done {
		n++
		if observe != nil {
			observe(n, len(srcs), outcome)
		}
	}

	out := &Result{Outcomes: make([]SourceOutcome, 0, len(srcs))}
	for _, r := range results {
		out.Records = append(out.Records, r.records...)
		out.Website = append(out.Website, r.website...)
		out.Outcomes = append(out.Outcomes, r.outcome)
	}
	return out
}

// get retrieves url within timeout and returns the body.
func (e *Engine) get(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", e.userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	return body, nil
}
