package sqlitedb

import (
	"encoding/json"
	"time"

	"github.com/tkilaker/feedkiln/internal/database"
	"gorm.io/datatypes"
)

type articleRow struct {
	ID             int64  `gorm:"primaryKey"`
	SourceID       string `gorm:"not null;index"`
	ExternalURL    string `gorm:"not null;uniqueIndex"`
	Title          string `gorm:"not null"`
	Summary        *string
	Author         *string
	Category       *string `gorm:"index"`
	Tags           datatypes.JSON
	PublishedAt    *time.Time
	RawContent     *string
	FetchedAt      time.Time `gorm:"not null;index"`
	Processed      bool      `gorm:"not null;default:false"`
	SentimentScore *float64
}

func (articleRow) TableName() string { return "news_articles" }

type websiteRow struct {
	ID         int64  `gorm:"primaryKey"`
	SourceName string `gorm:"not null;index"`
	SourceURL  string `gorm:"not null"`
	DataType   string `gorm:"not null;index"`
	Title      *string
	Payload    datatypes.JSON
	FetchedAt  time.Time `gorm:"not null;index"`
}

func (websiteRow) TableName() string { return "website_data" }

type logRow struct {
	ID           int64     `gorm:"primaryKey"`
	RunID        string    `gorm:"not null;index"`
	JobKind      string    `gorm:"not null"`
	SourceID     *string   `gorm:"index"`
	StartedAt    time.Time `gorm:"not null;index"`
	FinishedAt   time.Time `gorm:"not null"`
	ItemsSeen    int
	ItemsNew     int
	ItemsFailed  int
	Status       string `gorm:"not null;index"`
	ErrorSummary *string
}

func (logRow) TableName() string { return "fetch_logs" }

func toArticleRow(a *database.Article) (*articleRow, error) {
	tags := a.Tags
	if tags == nil {
		tags = []string{}
	}
	encoded, err := json.Marshal(tags)
	if err != nil {
		return nil, err
	}
	return &articleRow{
		SourceID:       a.SourceID,
		ExternalURL:    a.URL,
		Title:          a.Title,
		Summary:        a.Summary,
		Author:         a.Author,
		Category:       a.Category,
		Tags:           datatypes.JSON(encoded),
		PublishedAt:    utcPtr(a.PublishedAt),
		RawContent:     a.RawContent,
		FetchedAt:      a.FetchedAt.UTC(),
		Processed:      a.Processed,
		SentimentScore: a.SentimentScore,
	}, nil
}

func (r *articleRow) toArticle() *database.Article {
	var tags []string
	if len(r.Tags) > 0 {
		_ = json.Unmarshal(r.Tags, &tags)
	}
	return &database.Article{
		ID:             r.ID,
		SourceID:       r.SourceID,
		URL:            r.ExternalURL,
		Title:          r.Title,
		Summary:        r.Summary,
		Author:         r.Author,
		Category:       r.Category,
		Tags:           tags,
		PublishedAt:    r.PublishedAt,
		RawContent:     r.RawContent,
		FetchedAt:      r.FetchedAt,
		Processed:      r.Processed,
		SentimentScore: r.SentimentScore,
	}
}

func toLogRow(l *database.FetchLog) *logRow {
	return &logRow{
		RunID:        l.RunID,
		JobKind:      l.JobKind,
		SourceID:     l.SourceID,
		StartedAt:    l.StartedAt.UTC(),
		FinishedAt:   l.FinishedAt.UTC(),
		ItemsSeen:    l.ItemsSeen,
		ItemsNew:     l.ItemsNew,
		ItemsFailed:  l.ItemsFailed,
		Status:       string(l.Status),
		ErrorSummary: l.ErrorSummary,
	}
}

func (r *logRow) toFetchLog() *database.FetchLog {
	return &database.FetchLog{
		ID:           r.ID,
		RunID:        r.RunID,
		JobKind:      r.JobKind,
		SourceID:     r.SourceID,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
		ItemsSeen:    r.ItemsSeen,
		ItemsNew:     r.ItemsNew,
		ItemsFailed:  r.ItemsFailed,
		Status:       database.LogStatus(r.Status),
		ErrorSummary: r.ErrorSummary,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
