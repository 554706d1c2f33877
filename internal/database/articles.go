package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

const articleColumns = `id, source_id, external_url, title, summary, author, category, tags,
	published_at, raw_content, fetched_at, processed, sentiment_score`

const insertArticleSQL = `
	INSERT INTO news_articles (source_id, external_url, title, summary, author, category, tags,
		published_at, raw_content, fetched_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (external_url) DO NOTHING
	RETURNING id
`

// InsertArticles inserts articles in one batch, skipping URLs that already exist.
// The returned slice reports, per input, whether a new row was written.
func (db *DB) InsertArticles(ctx context.Context, articles []*Article) ([]bool, error) {
	inserted := make([]bool, len(articles))
	if len(articles) == 0 {
		return inserted, nil
	}

	batch := &pgx.Batch{}
	for _, a := range articles {
		tags := a.Tags
		if tags == nil {
			tags = []string{}
		}
		batch.Queue(insertArticleSQL,
			a.SourceID,
			a.URL,
			a.Title,
			a.Summary,
			a.Author,
			a.Category,
			tags,
			a.PublishedAt,
			a.RawContent,
			a.FetchedAt,
		)
	}

	br := db.pool.SendBatch(ctx, batch)
	for i, a := range articles {
		err := br.QueryRow().Scan(&a.ID)
		if errors.Is(err, pgx.ErrNoRows) {
			continue // URL already stored
		}
		if err != nil {
			br.Close()
			return nil, fmt.Errorf("failed to insert article %s: %w", a.URL, err)
		}
		inserted[i] = true
	}

	if err := br.Close(); err != nil {
		return nil, fmt.Errorf("failed to insert articles: %w", err)
	}
	return inserted, nil
}

// GetArticle retrieves an article by its ID
func (db *DB) GetArticle(ctx context.Context, id int64) (*Article, error) {
	query := `SELECT ` + articleColumns + ` FROM news_articles WHERE id = $1`

	article, err := scanArticle(db.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("article %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get article: %w", err)
	}

	return article, nil
}

// ListArticles retrieves articles newest first by fetch time
func (db *DB) ListArticles(ctx context.Context, filter ArticleFilter) ([]*Article, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Source != "" {
		where = append(where, "source_id = "+arg(filter.Source))
	}
	if filter.Category != "" {
		where = append(where, "category = "+arg(filter.Category))
	}
	if filter.From != nil {
		where = append(where, "fetched_at >= "+arg(*filter.From))
	}
	if filter.To != nil {
		where = append(where, "fetched_at <= "+arg(*filter.To))
	}
	if filter.Search != "" {
		p := arg("%" + filter.Search + "%")
		where = append(where, "(title ILIKE "+p+" OR summary ILIKE "+p+")")
	}

	query := `SELECT ` + articleColumns + ` FROM news_articles`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY fetched_at DESC, id DESC"
	query += " OFFSET " + arg(filter.Skip) + " LIMIT " + arg(filter.Limit)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query articles: %w", err)
	}
	defer rows.Close()

	var articles []*Article
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan article: %w", err)
		}
		articles = append(articles, article)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating articles: %w", err)
	}

	return articles, nil
}

// CountArticles counts articles fetched at or after since. A zero since counts all.
func (db *DB) CountArticles(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM news_articles WHERE fetched_at >= $1`, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count articles: %w", err)
	}
	return count, nil
}

// CountBySource groups article counts by source
func (db *DB) CountBySource(ctx context.Context) ([]GroupCount, error) {
	return db.groupCounts(ctx, "source_id")
}

// CountByCategory groups article counts by category
func (db *DB) CountByCategory(ctx context.Context) ([]GroupCount, error) {
	return db.groupCounts(ctx, "COALESCE(category, '')")
}

func (db *DB) groupCounts(ctx context.Context, expr string) ([]GroupCount, error) {
	query := `SELECT ` + expr + ` AS key, COUNT(*) FROM news_articles GROUP BY key ORDER BY COUNT(*) DESC, key`

	rows, err := db.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to group articles: %w", err)
	}

	counts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (GroupCount, error) {
		var gc GroupCount
		err := row.Scan(&gc.Key, &gc.Count)
		return gc, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan group counts: %w", err)
	}
	return counts, nil
}

func scanArticle(row pgx.Row) (*Article, error) {
	var article Article
	err := row.Scan(
		&article.ID,
		&article.SourceID,
		&article.URL,
		&article.Title,
		&article.Summary,
		&article.Author,
		&article.Category,
		&article.Tags,
		&article.PublishedAt,
		&article.RawContent,
		&article.FetchedAt,
		&article.Processed,
		&article.SentimentScore,
	)
	if err != nil {
		return nil, err
	}
	return &article, nil
}
