package database

import "time"

// Article is a persisted news item. URL is unique across all rows.
type Article struct {
	ID             int64      `db:"id" json:"id"`
	SourceID       string     `db:"source_id" json:"source"`
	URL            string     `db:"external_url" json:"url"`
	Title          string     `db:"title" json:"title"`
	Summary        *string    `db:"summary" json:"description"`
	Author         *string    `db:"author" json:"author"`
	Category       *string    `db:"category" json:"category"`
	Tags           []string   `db:"tags" json:"tags"`
	PublishedAt    *time.Time `db:"published_at" json:"published_date"`
	RawContent     *string    `db:"raw_content" json:"content,omitempty"`
	FetchedAt      time.Time  `db:"fetched_at" json:"fetch_date"`
	Processed      bool       `db:"processed" json:"processed"`
	SentimentScore *float64   `db:"sentiment_score" json:"sentiment_score"`
}

// WebsiteData is a generic, schemaless record from a non-news source.
type WebsiteData struct {
	ID         int64     `db:"id" json:"id"`
	SourceName string    `db:"source_name" json:"source_name"`
	SourceURL  string    `db:"source_url" json:"source_url"`
	DataType   string    `db:"data_type" json:"data_type"`
	Title      *string   `db:"title" json:"title"`
	Payload    []byte    `db:"payload" json:"payload"`
	FetchedAt  time.Time `db:"fetched_at" json:"fetch_date"`
}

// LogStatus is the outcome recorded on a FetchLog row.
type LogStatus string

const (
	LogSuccess LogStatus = "SUCCESS"
	LogPartial LogStatus = "PARTIAL"
	LogFailure LogStatus = "FAILURE"
)

// FetchLog records one source (or, with a nil SourceID, a whole run).
type FetchLog struct {
	ID           int64     `db:"id" json:"id"`
	RunID        string    `db:"run_id" json:"run_id"`
	JobKind      string    `db:"job_kind" json:"task_name"`
	SourceID     *string   `db:"source_id" json:"source"`
	StartedAt    time.Time `db:"started_at" json:"start_time"`
	FinishedAt   time.Time `db:"finished_at" json:"end_time"`
	ItemsSeen    int       `db:"items_seen" json:"items_fetched"`
	ItemsNew     int       `db:"items_new" json:"items_new"`
	ItemsFailed  int       `db:"items_failed" json:"items_failed"`
	Status       LogStatus `db:"status" json:"status"`
	ErrorSummary *string   `db:"error_summary" json:"error_message"`
}

// ExecutionTime is the wall time the logged work took.
func (l *FetchLog) ExecutionTime() time.Duration {
	return l.FinishedAt.Sub(l.StartedAt)
}

// IsSummary reports whether the row covers a whole run.
func (l *FetchLog) IsSummary() bool {
	return l.SourceID == nil
}
