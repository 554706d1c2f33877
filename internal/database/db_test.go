package database

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestDB connects to TEST_DATABASE_URL and resets the tables.
func openTestDB(t *testing.T) *DB {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, db.EnsureSchema(ctx))
	_, err = db.pool.Exec(ctx, `TRUNCATE news_articles, website_data, fetch_logs RESTART IDENTITY`)
	require.NoError(t, err)
	return db
}

func TestPostgresInsertArticlesIgnoresConflicts(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	first, err := db.InsertArticles(ctx, []*Article{
		{SourceID: "bbc", URL: "https://example.com/a", Title: "A", FetchedAt: now},
		{SourceID: "bbc", URL: "https://example.com/b", Title: "B", FetchedAt: now},
	})
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true}, first)

	second, err := db.InsertArticles(ctx, []*Article{
		{SourceID: "bbc", URL: "https://example.com/a", Title: "A again", FetchedAt: now},
		{SourceID: "bbc", URL: "https://example.com/c", Title: "C", FetchedAt: now},
	})
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true}, second)

	stored, err := db.ListArticles(ctx, ArticleFilter{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestPostgresConcurrentInserts(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	const workers = 4
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			batch := make([]*Article, 10)
			for i := range batch {
				batch[i] = &Article{SourceID: "s", URL: fmt.Sprintf("https://example.com/%d", i), Title: "t", FetchedAt: now}
			}
			inserted, err := db.InsertArticles(ctx, batch)
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			for _, ok := range inserted {
				if ok {
					total++
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, total)
	count, err := db.CountArticles(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(10), count)
}
