package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tkilaker/feedkiln/internal/database"
	"github.com/tkilaker/feedkiln/internal/fetcher"
)

const persistBatchSize = 200

// SourceCounts is the persistence outcome for one source.
type SourceCounts struct {
	New       int `json:"new"`
	Duplicate int `json:"duplicate"`
	Failed    int `json:"failed"`
}

// PersistResult counts what happened to a set of records.
type PersistResult struct {
	New       int                      `json:"new"`
	Duplicate int                      `json:"duplicate"`
	Errors    int                      `json:"errors"`
	BySource  map[string]*SourceCounts `json:"by_source,omitempty"`
}

func (r *PersistResult) source(id string) *SourceCounts {
	c, ok := r.BySource[id]
	if !ok {
		c = &SourceCounts{}
		r.BySource[id] = c
	}
	return c
}

// Persist stores records whose URL is not yet known. Invalid records are
// counted and skipped. Any storage error fails the whole call.
func (p *Pipeline) Persist(ctx context.Context, records []fetcher.Record) (*PersistResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.PersistTimeout)
	defer cancel()

	result := &PersistResult{BySource: make(map[string]*SourceCounts)}

	valid := make([]*database.Article, 0, len(records))
	for i := range records {
		rec := &records[i]
		if err := validateRecord(rec); err != nil {
			result.Errors++
			result.source(rec.SourceID).Failed++
			log.Debug().Err(err).Str("source", rec.SourceID).Str("url", rec.URL).Msg("Skipping invalid record")
			continue
		}
		valid = append(valid, toArticle(rec))
	}

	for start := 0; start < len(valid); start += persistBatchSize {
		batch := valid[start:min(start+persistBatchSize, len(valid))]
		inserted, err := p.store.InsertArticles(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("failed to store articles: %w", err)
		}
		for i, a := range batch {
			if inserted[i] {
				result.New++
				result.source(a.SourceID).New++
			} else {
				result.Duplicate++
				result.source(a.SourceID).Duplicate++
			}
		}
	}

	return result, nil
}

func validateRecord(rec *fetcher.Record) error {
	if strings.TrimSpace(rec.SourceID) == "" {
		return fmt.Errorf("%w: missing source", ErrInvalidRecord)
	}
	if strings.TrimSpace(rec.Title) == "" {
		return fmt.Errorf("%w: missing title", ErrInvalidRecord)
	}
	if rec.URL == "" {
		return fmt.Errorf("%w: missing url", ErrInvalidRecord)
	}
	u, err := url.Parse(rec.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url %q is not an absolute http(s) url", ErrInvalidRecord, rec.URL)
	}
	return nil
}

func toArticle(rec *fetcher.Record) *database.Article {
	a := &database.Article{
		SourceID:    rec.SourceID,
		URL:         rec.URL,
		Title:       rec.Title,
		Summary:     optional(rec.Summary),
		Author:      optional(rec.Author),
		Category:    optional(rec.Category),
		Tags:        rec.Tags,
		RawContent:  optional(rec.RawContent),
		FetchedAt:   rec.FetchedAt.UTC().Truncate(time.Microsecond),
		PublishedAt: rec.PublishedAt,
	}
	if a.PublishedAt != nil {
		t := a.PublishedAt.UTC().Truncate(time.Microsecond)
		a.PublishedAt = &t
	}
	return a
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// storeWebsite appends generic records. They are never deduplicated.
func (p *Pipeline) storeWebsite(ctx context.Context, records []fetcher.WebsiteRecord) error {
	if len(records) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.opts.PersistTimeout)
	defer cancel()

	rows := make([]*database.WebsiteData, 0, len(records))
	for _, rec := range records {
		payload, err := json.Marshal(rec.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode payload from %s: %w", rec.SourceID, err)
		}
		dataType := ""
		if rec.Payload != nil {
			dataType = rec.Payload.DataType()
		}
		rows = append(rows, &database.WebsiteData{
			SourceName: rec.SourceID,
			SourceURL:  rec.SourceURL,
			DataType:   dataType,
			Title:      optional(rec.Title),
			Payload:    payload,
			FetchedAt:  rec.FetchedAt.UTC().Truncate(time.Microsecond),
		})
	}

	if err := p.store.InsertWebsiteData(ctx, rows); err != nil {
		return fmt.Errorf("failed to store website data: %w", err)
	}
	return nil
}
