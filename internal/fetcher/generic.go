package fetcher

import (
	"bytes"
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tkilaker/feedkiln/internal/sources"
)

func (e *Engine) fetchGeneric(ctx context.Context, src sources.Source) ([]WebsiteRecord, int, error) {
	body, err := e.get(ctx, src.Endpoint, src.Timeout)
	if err != nil {
		return nil, 0, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, 0, &ParseError{Err: err}
	}

	fetchedAt := e.now().UTC()
	items := extractItems(doc, src.Extract)

	records := make([]WebsiteRecord, 0, len(items))
	for _, fields := range items {
		title := fields["title"]
		if title == "" {
			title = src.Name()
		}
		records = append(records, WebsiteRecord{
			SourceID:  src.ID,
			SourceURL: src.Endpoint,
			Title:     title,
			Payload:   BuildPayload(src.DataType, fields),
			FetchedAt: fetchedAt,
		})
	}
	return records, len(items), nil
}

// extractItems applies rule to doc. Without a rule the page title and meta
// description form a single item.
func extractItems(doc *goquery.Document, rule *sources.ExtractRule) []map[string]string {
	if rule == nil || len(rule.Fields) == 0 {
		fields := map[string]string{"title": collapse(doc.Find("title").First().Text())}
		if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
			fields["description"] = collapse(desc)
		}
		return []map[string]string{fields}
	}

	var roots *goquery.Selection
	if rule.Item == "" {
		roots = doc.Selection
	} else {
		roots = doc.Find(rule.Item)
	}

	var items []map[string]string
	roots.Each(func(_ int, s *goquery.Selection) {
		fields := make(map[string]string, len(rule.Fields))
		empty := true
		for name, selector := range rule.Fields {
			value := extractField(s, selector)
			if value != "" {
				empty = false
			}
			fields[name] = value
		}
		if !empty {
			items = append(items, fields)
		}
	})
	return items
}

// extractField reads "selector" text or "selector@attr". An empty selector
// refers to the item element itself.
func extractField(s *goquery.Selection, selector string) string {
	sel, attr, _ := strings.Cut(selector, "@")
	sel = strings.TrimSpace(sel)

	target := s
	if sel != "" {
		target = s.Find(sel).First()
	}
	if attr != "" {
		return strings.TrimSpace(target.AttrOr(strings.TrimSpace(attr), ""))
	}
	return collapse(target.Text())
}
