package sqlitedb

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tkilaker/feedkiln/internal/database"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func strPtr(s string) *string { return &s }

func TestInsertArticlesIgnoresDuplicateURLs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	first, err := s.InsertArticles(ctx, []*database.Article{
		{SourceID: "bbc", URL: "https://example.com/a", Title: "A", Tags: []string{"world"}, FetchedAt: now},
		{SourceID: "bbc", URL: "https://example.com/b", Title: "B", FetchedAt: now},
	})
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true}, first)

	dup := &database.Article{SourceID: "cnn", URL: "https://example.com/a", Title: "A from elsewhere", FetchedAt: now}
	second, err := s.InsertArticles(ctx, []*database.Article{
		dup,
		{SourceID: "cnn", URL: "https://example.com/c", Title: "C", FetchedAt: now},
	})
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true}, second)
	assert.Zero(t, dup.ID)

	count, err := s.CountArticles(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	stored, err := s.ListArticles(ctx, database.ArticleFilter{Source: "bbc", Limit: 10})
	require.NoError(t, err)
	require.Len(t, stored, 2)

	a, err := s.GetArticle(ctx, stored[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "A", a.Title)
	assert.Equal(t, []string{"world"}, a.Tags)
}

func TestConcurrentInsertsKeepOneRowPerURL(t *testing.T) {
	s := openTestStore(t)
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
			batch := make([]*database.Article, 10)
			for i := range batch {
				batch[i] = &database.Article{SourceID: "s", URL: fmt.Sprintf("https://example.com/%d", i), Title: "t", FetchedAt: now}
			}
			inserted, err := s.InsertArticles(ctx, batch)
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
	count, err := s.CountArticles(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(10), count)
}

func TestGetArticleNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetArticle(context.Background(), 42)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestListArticlesFilters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.InsertArticles(ctx, []*database.Article{
		{SourceID: "bbc", URL: "https://example.com/1", Title: "Markets rally", Category: strPtr("business"), FetchedAt: base},
		{SourceID: "bbc", URL: "https://example.com/2", Title: "Storm warning", Category: strPtr("general"), FetchedAt: base.Add(time.Hour)},
		{SourceID: "techcrunch", URL: "https://example.com/3", Title: "New chip", Summary: strPtr("markets react"), Category: strPtr("technology"), FetchedAt: base.Add(2 * time.Hour)},
	})
	require.NoError(t, err)

	tests := []struct {
		name   string
		filter database.ArticleFilter
		want   []string
	}{
		{name: "all newest first", filter: database.ArticleFilter{Limit: 10}, want: []string{"New chip", "Storm warning", "Markets rally"}},
		{name: "paging", filter: database.ArticleFilter{Skip: 1, Limit: 1}, want: []string{"Storm warning"}},
		{name: "source", filter: database.ArticleFilter{Source: "techcrunch", Limit: 10}, want: []string{"New chip"}},
		{name: "category", filter: database.ArticleFilter{Category: "business", Limit: 10}, want: []string{"Markets rally"}},
		{name: "search matches title and summary", filter: database.ArticleFilter{Search: "MARKETS", Limit: 10}, want: []string{"New chip", "Markets rally"}},
		{name: "date range", filter: database.ArticleFilter{From: timePtr(base.Add(30 * time.Minute)), To: timePtr(base.Add(90 * time.Minute)), Limit: 10}, want: []string{"Storm warning"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListArticles(ctx, tt.filter)
			require.NoError(t, err)
			titles := make([]string, 0, len(got))
			for _, a := range got {
				titles = append(titles, a.Title)
			}
			assert.Equal(t, tt.want, titles)
		})
	}

	bySource, err := s.CountBySource(ctx)
	require.NoError(t, err)
	assert.Equal(t, []database.GroupCount{{Key: "bbc", Count: 2}, {Key: "techcrunch", Count: 1}}, bySource)
}

func TestDeleteBeforeIsStrict(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	cutoff := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	_, err := s.InsertArticles(ctx, []*database.Article{
		{SourceID: "a", URL: "https://example.com/old", Title: "old", FetchedAt: cutoff.Add(-time.Second)},
		{SourceID: "a", URL: "https://example.com/edge", Title: "edge", FetchedAt: cutoff},
		{SourceID: "a", URL: "https://example.com/new", Title: "new", FetchedAt: cutoff.Add(time.Hour)},
	})
	require.NoError(t, err)
	require.NoError(t, s.InsertWebsiteData(ctx, []*database.WebsiteData{
		{SourceName: "prices", SourceURL: "https://example.com/p", DataType: "price", Payload: []byte(`{"price":1}`), FetchedAt: cutoff.Add(-time.Hour)},
	}))
	require.NoError(t, s.InsertFetchLogs(ctx, []*database.FetchLog{
		{RunID: "r1", JobKind: "DAILY_FETCH", StartedAt: cutoff.Add(-48 * time.Hour), FinishedAt: cutoff.Add(-47 * time.Hour), Status: database.LogSuccess},
	}))

	res, err := s.DeleteBefore(ctx, cutoff, cutoff.Add(-72*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.ArticlesDeleted)
	assert.Equal(t, int64(1), res.WebsiteDataDeleted)
	assert.Equal(t, int64(0), res.LogsDeleted)

	left, err := s.ListArticles(ctx, database.ArticleFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.Equal(t, "new", left[0].Title)
	assert.Equal(t, "edge", left[1].Title)
}

func TestFetchLogs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)

	logs := []*database.FetchLog{
		{RunID: "r1", JobKind: "DAILY_FETCH", SourceID: strPtr("bbc"), StartedAt: start, FinishedAt: start.Add(time.Second), ItemsSeen: 10, ItemsNew: 4, Status: database.LogSuccess},
		{RunID: "r1", JobKind: "DAILY_FETCH", SourceID: strPtr("cnn"), StartedAt: start, FinishedAt: start.Add(2 * time.Second), Status: database.LogFailure, ErrorSummary: strPtr("timeout")},
		{RunID: "r1", JobKind: "DAILY_FETCH", StartedAt: start, FinishedAt: start.Add(3 * time.Second), ItemsSeen: 10, ItemsNew: 4, Status: database.LogPartial},
		{RunID: "r2", JobKind: "DAILY_FETCH", StartedAt: start.Add(time.Hour), FinishedAt: start.Add(time.Hour + time.Second), Status: database.LogSuccess},
	}
	require.NoError(t, s.InsertFetchLogs(ctx, logs))

	failures, err := s.ListFetchLogs(ctx, database.LogFilter{Status: "failure", Limit: 10})
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "timeout", *failures[0].ErrorSummary)

	bbc, err := s.ListFetchLogs(ctx, database.LogFilter{Source: "bbc", Limit: 10})
	require.NoError(t, err)
	require.Len(t, bbc, 1)
	assert.Equal(t, time.Second, bbc[0].ExecutionTime())

	last, err := s.LastSuccessfulRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.Equal(start.Add(time.Hour+time.Second)))

	recent, err := s.FetchLogsSince(ctx, start.Add(30*time.Minute))
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.True(t, recent[0].IsSummary())
}

func TestWebsiteDataIsAppendOnly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	row := func() *database.WebsiteData {
		return &database.WebsiteData{SourceName: "prices", SourceURL: "https://example.com/p", DataType: "price", Payload: []byte(`{"price":"1.00"}`), FetchedAt: now}
	}
	require.NoError(t, s.InsertWebsiteData(ctx, []*database.WebsiteData{row()}))
	require.NoError(t, s.InsertWebsiteData(ctx, []*database.WebsiteData{row()}))

	stored, err := s.WebsiteData(ctx, "prices")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.JSONEq(t, `{"price":"1.00"}`, string(stored[0].Payload))
}

func timePtr(t time.Time) *time.Time { return &t }
