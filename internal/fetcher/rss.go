package fetcher

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog/log"
	"github.com/tkilaker/feedkiln/internal/sources"
	"golang.org/x/sync/errgroup"
)

// contentSelectors are tried in order when readability finds nothing.
var contentSelectors = []string{
	"article",
	".article-content",
	".entry-content",
	".post-content",
	".content",
	"main",
	".article-body",
}

func (e *Engine) fetchRSS(ctx context.Context, src sources.Source, full bool) ([]Record, int, error) {
	body, err := e.get(ctx, src.Endpoint, src.Timeout)
	if err != nil {
		return nil, 0, err
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, 0, &ParseError{Err: err}
	}

	fetchedAt := e.now().UTC()
	records := make([]Record, 0, len(feed.Items))
	for _, item := range feed.Items {
		summary := item.Description
		if summary == "" {
			summary = item.Content
		}

		rec := Record{
			SourceID:  src.ID,
			URL:       strings.TrimSpace(item.Link),
			Title:     cleanHTML(item.Title),
			Summary:   cleanHTML(summary),
			Author:    authorOf(item),
			Category:  src.Category,
			Tags:      normalizeTags(item.Categories),
			FetchedAt: fetchedAt,
		}
		if item.PublishedParsed != nil {
			t := item.PublishedParsed.UTC()
			rec.PublishedAt = &t
		} else if item.UpdatedParsed != nil {
			t := item.UpdatedParsed.UTC()
			rec.PublishedAt = &t
		}
		records = append(records, rec)
	}

	if full {
		e.fetchContents(ctx, src, records)
	}

	return records, len(feed.Items), nil
}

func authorOf(item *gofeed.Item) string {
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		if name := strings.TrimSpace(item.Authors[0].Name); name != "" {
			return name
		}
		return strings.TrimSpace(item.Authors[0].Email)
	}
	return ""
}

// fetchContents fills RawContent for the first contentPerSource records.
// A failed page leaves the record without content.
func (e *Engine) fetchContents(ctx context.Context, src sources.Source, records []Record) {
	limit := min(e.contentPerSource, len(records))
	if limit <= 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(src.MaxConcurrent)

	for i := range records[:limit] {
		rec := &records[i]
		if rec.URL == "" {
			continue
		}
		g.Go(func() error {
			content, err := e.fetchContent(ctx, rec.URL)
			if err != nil {
				log.Debug().Err(err).Str("source", src.ID).Str("url", rec.URL).Msg("Failed to fetch article content")
				return nil
			}
			rec.RawContent = content
			return nil
		})
	}
	_ = g.Wait()
}

func (e *Engine) fetchContent(ctx context.Context, pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", err
	}

	body, err := e.get(ctx, pageURL, e.contentTimeout)
	if err != nil {
		return "", err
	}

	return truncate(extractText(body, u), e.contentMaxChars), nil
}

// extractText returns the main text of an HTML page: readability first, then
// the first non-empty content selector, then every paragraph.
func extractText(body []byte, pageURL *url.URL) string {
	if article, err := readability.FromReader(bytes.NewReader(body), pageURL); err == nil {
		if text := collapse(article.TextContent); text != "" {
			return text
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	doc.Find("script, style, nav, header, footer, aside").Remove()

	for _, sel := range contentSelectors {
		if text := collapse(doc.Find(sel).First().Text()); text != "" {
			return text
		}
	}

	var paragraphs []string
	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		if text := collapse(s.Text()); text != "" {
			paragraphs = append(paragraphs, text)
		}
	})
	return strings.Join(paragraphs, "\n\n")
}
