package fetcher

import (
	"encoding/json"
	"time"
)

// Record is one normalized news entry. URL is its identity.
type Record struct {
	SourceID    string
	URL         string
	Title       string
	Summary     string
	Author      string
	Category    string
	Tags        []string
	PublishedAt *time.Time
	RawContent  string
	FetchedAt   time.Time
}

// WebsiteRecord is one record extracted from a generic source.
type WebsiteRecord struct {
	SourceID  string
	SourceURL string
	Title     string
	Payload   Payload
	FetchedAt time.Time
}

// Payload is the structured body of a WebsiteRecord, keyed by data type.
type Payload interface {
	DataType() string
}

// ArticlePayload is used by generic sources that publish news-like listings.
type ArticlePayload struct {
	URL       string `json:"url,omitempty"`
	Summary   string `json:"summary,omitempty"`
	Published string `json:"published,omitempty"`
}

func (ArticlePayload) DataType() string { return "news" }

// PricePayload is a quote scraped from a price board.
type PricePayload struct {
	Symbol   string `json:"symbol"`
	Price    string `json:"price"`
	Currency string `json:"currency,omitempty"`
}

func (PricePayload) DataType() string { return "price" }

// FieldsPayload carries whatever fields a source defines.
type FieldsPayload struct {
	Type   string
	Fields map[string]string
}

func (p FieldsPayload) DataType() string { return p.Type }

func (p FieldsPayload) MarshalJSON() ([]byte, error) {
	if p.Fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p.Fields)
}

// BuildPayload maps extracted fields onto the payload type for dataType.
func BuildPayload(dataType string, fields map[string]string) Payload {
	switch dataType {
	case "news":
		return ArticlePayload{
			URL:       fields["url"],
			Summary:   fields["summary"],
			Published: fields["published"],
		}
	case "price":
		return PricePayload{
			Symbol:   fields["symbol"],
			Price:    fields["price"],
			Currency: fields["currency"],
		}
	default:
		return FieldsPayload{Type: dataType, Fields: fields}
	}
}

// Status is the outcome of fetching one source.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// SourceOutcome records how one source fared in a run.
type SourceOutcome struct {
	SourceID   string
	Status     Status
	ItemsSeen  int
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Result is everything a run produced, in source definition order.
type Result struct {
	Records  []Record
	Website  []WebsiteRecord
	Outcomes []SourceOutcome
}

// Succeeded counts sources that were fetched and parsed.
func (r *Result) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == StatusSuccess {
			n++
		}
	}
	return n
}

// Failed counts sources that produced a FAILURE outcome.
func (r *Result) Failed() int {
	return len(r.Outcomes) - r.Succeeded()
}
