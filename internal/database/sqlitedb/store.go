// Package sqlitedb is an embedded SQLite implementation of database.Store,
// used for single-node deployments and as the test substrate.
package sqlitedb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tkilaker/feedkiln/internal/database"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store persists pipeline data in a SQLite file through gorm.
type Store struct {
	db *gorm.DB
}

var _ database.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and migrates the tables.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_busy_timeout=5000&_journal_mode=WAL"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sqlite handle: %w", err)
	}
	// SQLite has a single writer; one connection serializes writers instead of
	// surfacing "database is locked".
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&articleRow{}, &websiteRow{}, &logRow{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate sqlite database: %w", err)
	}

	return &Store{db: db}, nil
}

// InsertArticles inserts each article unless its URL is already stored.
func (s *Store) InsertArticles(ctx context.Context, articles []*database.Article) ([]bool, error) {
	inserted := make([]bool, len(articles))
	if len(articles) == 0 {
		return inserted, nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, a := range articles {
			row, err := toArticleRow(a)
			if err != nil {
				return fmt.Errorf("failed to encode article %s: %w", a.URL, err)
			}
			res := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "external_url"}},
				DoNothing: true,
			}).Create(row)
			if res.Error != nil {
				return fmt.Errorf("failed to insert article %s: %w", a.URL, res.Error)
			}
			if res.RowsAffected == 1 {
				a.ID = row.ID
				inserted[i] = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

// InsertWebsiteData appends generic records.
func (s *Store) InsertWebsiteData(ctx context.Context, rows []*database.WebsiteData) error {
	if len(rows) == 0 {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, w := range rows {
			payload := w.Payload
			if len(payload) == 0 {
				payload = []byte("{}")
			}
			row := &websiteRow{
				SourceName: w.SourceName,
				SourceURL:  w.SourceURL,
				DataType:   w.DataType,
				Title:      w.Title,
				Payload:    payload,
				FetchedAt:  w.FetchedAt.UTC(),
			}
			if err := tx.Create(row).Error; err != nil {
				return fmt.Errorf("failed to insert website data from %s: %w", w.SourceName, err)
			}
			w.ID = row.ID
		}
		return nil
	})
}

// InsertFetchLogs writes all rows in one transaction.
func (s *Store) InsertFetchLogs(ctx context.Context, logs []*database.FetchLog) error {
	if len(logs) == 0 {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, l := range logs {
			row := toLogRow(l)
			if err := tx.Create(row).Error; err != nil {
				return fmt.Errorf("failed to insert fetch log for run %s: %w", l.RunID, err)
			}
			l.ID = row.ID
		}
		return nil
	})
}

// GetArticle retrieves an article by id.
func (s *Store) GetArticle(ctx context.Context, id int64) (*database.Article, error) {
	var row articleRow
	err := s.db.WithContext(ctx).First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("article %d: %w", id, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get article: %w", err)
	}
	return row.toArticle(), nil
}

// ListArticles returns articles newest first by fetch time.
func (s *Store) ListArticles(ctx context.Context, filter database.ArticleFilter) ([]*database.Article, error) {
	query := s.db.WithContext(ctx).Model(&articleRow{})

	if filter.Source != "" {
		query = query.Where("source_id = ?", filter.Source)
	}
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}
	if filter.From != nil {
		query = query.Where("fetched_at >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		query = query.Where("fetched_at <= ?", filter.To.UTC())
	}
	if filter.Search != "" {
		term := "%" + strings.ToLower(filter.Search) + "%"
		query = query.Where("(LOWER(title) LIKE ? OR LOWER(COALESCE(summary, '')) LIKE ?)", term, term)
	}

	var rows []articleRow
	err := query.Order("fetched_at DESC").Order("id DESC").
		Offset(filter.Skip).Limit(filter.Limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query articles: %w", err)
	}

	articles := make([]*database.Article, 0, len(rows))
	for i := range rows {
		articles = append(articles, rows[i].toArticle())
	}
	return articles, nil
}

// CountArticles counts articles fetched at or after since.
func (s *Store) CountArticles(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&articleRow{}).
		Where("fetched_at >= ?", since.UTC()).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count articles: %w", err)
	}
	return count, nil
}

// CountBySource groups article counts by source.
func (s *Store) CountBySource(ctx context.Context) ([]database.GroupCount, error) {
	return s.groupCounts(ctx, "source_id")
}

// CountByCategory groups article counts by category.
func (s *Store) CountByCategory(ctx context.Context) ([]database.GroupCount, error) {
	return s.groupCounts(ctx, "COALESCE(category, '')")
}

func (s *Store) groupCounts(ctx context.Context, expr string) ([]database.GroupCount, error) {
	var counts []database.GroupCount
	err := s.db.WithContext(ctx).Model(&articleRow{}).
		Select(expr + " AS key, COUNT(*) AS count").
		Group("key").
		Order("count DESC").Order("key").
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to group articles: %w", err)
	}
	return counts, nil
}

// ListFetchLogs returns log rows newest first.
func (s *Store) ListFetchLogs(ctx context.Context, filter database.LogFilter) ([]*database.FetchLog, error) {
	query := s.db.WithContext(ctx).Model(&logRow{})
	if filter.Status != "" {
		query = query.Where("status = ?", strings.ToUpper(filter.Status))
	}
	if filter.Source != "" {
		query = query.Where("source_id = ?", filter.Source)
	}

	var rows []logRow
	err := query.Order("started_at DESC").Order("id DESC").
		Offset(filter.Skip).Limit(filter.Limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query fetch logs: %w", err)
	}
	return toFetchLogs(rows), nil
}

// FetchLogsSince returns all log rows started at or after since, newest first.
func (s *Store) FetchLogsSince(ctx context.Context, since time.Time) ([]*database.FetchLog, error) {
	var rows []logRow
	err := s.db.WithContext(ctx).
		Where("started_at >= ?", since.UTC()).
		Order("started_at DESC").Order("id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query fetch logs: %w", err)
	}
	return toFetchLogs(rows), nil
}

// LastSuccessfulRun returns the finish time of the newest successful run summary.
func (s *Store) LastSuccessfulRun(ctx context.Context) (*time.Time, error) {
	var rows []logRow
	err := s.db.WithContext(ctx).
		Where("source_id IS NULL AND status = ?", string(database.LogSuccess)).
		Order("finished_at DESC").Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query last successful run: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0].FinishedAt, nil
}

// DeleteBefore removes rows strictly older than the cutoffs.
func (s *Store) DeleteBefore(ctx context.Context, dataCutoff, logCutoff time.Time) (*database.CleanupResult, error) {
	result := &database.CleanupResult{Cutoff: dataCutoff, LogCutoff: logCutoff}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("fetched_at < ?", dataCutoff.UTC()).Delete(&articleRow{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete old articles: %w", res.Error)
		}
		result.ArticlesDeleted = res.RowsAffected

		res = tx.Where("fetched_at < ?", dataCutoff.UTC()).Delete(&websiteRow{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete old website data: %w", res.Error)
		}
		result.WebsiteDataDeleted = res.RowsAffected

		res = tx.Where("started_at < ?", logCutoff.UTC()).Delete(&logRow{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete old fetch logs: %w", res.Error)
		}
		result.LogsDeleted = res.RowsAffected
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// WebsiteData returns stored generic records for a source, oldest first.
func (s *Store) WebsiteData(ctx context.Context, sourceName string) ([]*database.WebsiteData, error) {
	var rows []websiteRow
	err := s.db.WithContext(ctx).
		Where("source_name = ?", sourceName).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query website data: %w", err)
	}

	out := make([]*database.WebsiteData, 0, len(rows))
	for _, r := range rows {
		out = append(out, &database.WebsiteData{
			ID:         r.ID,
			SourceName: r.SourceName,
			SourceURL:  r.SourceURL,
			DataType:   r.DataType,
			Title:      r.Title,
			Payload:    r.Payload,
			FetchedAt:  r.FetchedAt,
		})
	}
	return out, nil
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying database.
func (s *Store) Close() {
	if sqlDB, err := s.db.DB(); err == nil {
		sqlDB.Close()
	}
}

func toFetchLogs(rows []logRow) []*database.FetchLog {
	logs := make([]*database.FetchLog, 0, len(rows))
	for i := range rows {
		logs = append(logs, rows[i].toFetchLog())
	}
	return logs
}
