package database

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store is the persistence contract of the ingestion pipeline.
//
// InsertArticles must be insert-or-ignore on the article URL: a conflicting
// row is reported as not inserted, never as an error. InsertFetchLogs writes
// all rows or none.
type Store interface {
	InsertArticles(ctx context.Context, articles []*Article) ([]bool, error)
	InsertWebsiteData(ctx context.Context, rows []*WebsiteData) error
	InsertFetchLogs(ctx context.Context, logs []*FetchLog) error

	GetArticle(ctx context.Context, id int64) (*Article, error)
	ListArticles(ctx context.Context, filter ArticleFilter) ([]*Article, error)
	CountArticles(ctx context.Context, since time.Time) (int64, error)
	CountBySource(ctx context.Context) ([]GroupCount, error)
	CountByCategory(ctx context.Context) ([]GroupCount, error)

	ListFetchLogs(ctx context.Context, filter LogFilter) ([]*FetchLog, error)
	FetchLogsSince(ctx context.Context, since time.Time) ([]*FetchLog, error)
	LastSuccessfulRun(ctx context.Context) (*time.Time, error)

	DeleteBefore(ctx context.Context, dataCutoff, logCutoff time.Time) (*CleanupResult, error)

	Ping(ctx context.Context) error
	Close()
}

// ArticleFilter narrows an article listing. Zero values mean "no filter".
type ArticleFilter struct {
	Skip     int
	Limit    int
	Source   string
	Category string
	Search   string
	From     *time.Time
	To       *time.Time
}

// LogFilter narrows a fetch log listing.
type LogFilter struct {
	Skip   int
	Limit  int
	Status string
	Source string
}

// GroupCount is an article count for one source or category.
type GroupCount struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// CleanupResult reports what a retention pass removed.
type CleanupResult struct {
	ArticlesDeleted    int64     `json:"old_news_deleted"`
	WebsiteDataDeleted int64     `json:"old_website_data_deleted"`
	LogsDeleted        int64     `json:"old_logs_deleted"`
	Cutoff             time.Time `json:"cutoff_date"`
	LogCutoff          time.Time `json:"log_cutoff_date"`
}
