package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tkilaker/feedkiln/internal/database"
	"github.com/tkilaker/feedkiln/internal/jobs"
)

func strPtr(s string) *string { return &s }

func TestCleanupBoundary(t *testing.T) {
	store := openStore(t)
	p := newTestPipeline(t, &fakeFetcher{}, store, testRegistry(t, "a"))
	ctx := context.Background()
	cutoff := testNow.AddDate(0, 0, -30)

	_, err := store.InsertArticles(ctx, []*database.Article{
		{SourceID: "a", URL: "https://a.example/before", Title: "before", FetchedAt: cutoff.Add(-time.Second)},
		{SourceID: "a", URL: "https://a.example/at", Title: "at", FetchedAt: cutoff},
		{SourceID: "a", URL: "https://a.example/after", Title: "after", FetchedAt: cutoff.Add(time.Second)},
	})
	require.NoError(t, err)
	require.NoError(t, store.InsertFetchLogs(ctx, []*database.FetchLog{
		{RunID: "old", JobKind: "DAILY_FETCH", StartedAt: testNow.AddDate(0, 0, -91), FinishedAt: testNow.AddDate(0, 0, -91), Status: database.LogSuccess},
		{RunID: "recent", JobKind: "DAILY_FETCH", StartedAt: testNow.AddDate(0, 0, -60), FinishedAt: testNow.AddDate(0, 0, -60), Status: database.LogSuccess},
	}))

	res, err := p.Cleanup(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.ArticlesDeleted)
	assert.Equal(t, int64(1), res.LogsDeleted)
	assert.True(t, res.Cutoff.Equal(cutoff))

	left, err := store.ListArticles(ctx, database.ArticleFilter{Limit: 10})
	require.NoError(t, err)
	titles := []string{}
	for _, a := range left {
		titles = append(titles, a.Title)
	}
	assert.ElementsMatch(t, []string{"at", "after"}, titles)
}

func TestCleanupDefaultsToRetention(t *testing.T) {
	store := openStore(t)
	p := newTestPipeline(t, &fakeFetcher{}, store, testRegistry(t, "a"))

	res, err := p.Cleanup(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, res.Cutoff.Equal(testNow.AddDate(0, 0, -30)))
	assert.True(t, res.LogCutoff.Equal(testNow.AddDate(0, 0, -90)))
}

func seedLogs(t *testing.T, store database.Store) {
	t.Helper()
	at := func(h int) time.Time { return testNow.Add(-time.Duration(h) * time.Hour) }
	require.NoError(t, store.InsertFetchLogs(context.Background(), []*database.FetchLog{
		{RunID: "r1", JobKind: "DAILY_FETCH", SourceID: strPtr("bbc"), StartedAt: at(10), FinishedAt: at(10), ItemsSeen: 10, ItemsNew: 4, Status: database.LogSuccess},
		{RunID: "r1", JobKind: "DAILY_FETCH", SourceID: strPtr("cnn"), StartedAt: at(10), FinishedAt: at(10), Status: database.LogFailure, ErrorSummary: strPtr("timeout")},
		{RunID: "r1", JobKind: "DAILY_FETCH", StartedAt: at(10), FinishedAt: at(10), ItemsSeen: 10, ItemsNew: 4, Status: database.LogPartial},
		{RunID: "r2", JobKind: "DAILY_FETCH", SourceID: strPtr("bbc"), StartedAt: at(2), FinishedAt: at(2), ItemsSeen: 10, ItemsNew: 1, Status: database.LogSuccess},
		{RunID: "r2", JobKind: "DAILY_FETCH", SourceID: strPtr("cnn"), StartedAt: at(2), FinishedAt: at(2), ItemsSeen: 5, ItemsNew: 5, Status: database.LogSuccess},
		{RunID: "r2", JobKind: "DAILY_FETCH", StartedAt: at(2), FinishedAt: at(2), ItemsSeen: 15, ItemsNew: 6, Status: database.LogSuccess},
		{RunID: "r0", JobKind: "FULL_FETCH", SourceID: strPtr("cnn"), StartedAt: at(24 * 10), FinishedAt: at(24 * 10), Status: database.LogFailure},
	}))
}

func TestReport(t *testing.T) {
	store := openStore(t)
	p := newTestPipeline(t, &fakeFetcher{}, store, testRegistry(t, "bbc", "cnn"))
	seedLogs(t, store)

	report, err := p.Report(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "24h0m0s", report.Window)
	assert.Equal(t, 2, report.Runs)
	assert.Equal(t, map[string]int{"PARTIAL": 1, "SUCCESS": 1}, report.RunsByStatus)
	assert.Equal(t, 10, report.ItemsNew)
	assert.Equal(t, 75.0, report.SuccessRate)

	require.Len(t, report.Sources, 2)
	bbc, cnn := report.Sources[0], report.Sources[1]
	assert.Equal(t, "bbc", bbc.Source)
	assert.Equal(t, 100.0, bbc.SuccessRate)
	assert.Equal(t, "cnn", cnn.Source)
	assert.Equal(t, 1, cnn.Failures)
	assert.Equal(t, "SUCCESS", cnn.LastStatus)
	require.NotNil(t, cnn.LastError)
	assert.Equal(t, "timeout", *cnn.LastError)
}

func TestStats(t *testing.T) {
	store := openStore(t)
	p := newTestPipeline(t, &fakeFetcher{}, store, testRegistry(t, "bbc", "cnn"))
	ctx := context.Background()
	seedLogs(t, store)

	_, err := store.InsertArticles(ctx, []*database.Article{
		{SourceID: "bbc", URL: "https://bbc.example/today", Title: "t", FetchedAt: testNow.Add(-time.Hour)},
		{SourceID: "bbc", URL: "https://bbc.example/week", Title: "w", FetchedAt: testNow.AddDate(0, 0, -3)},
		{SourceID: "cnn", URL: "https://cnn.example/old", Title: "o", FetchedAt: testNow.AddDate(0, 0, -20)},
	})
	require.NoError(t, err)

	stats, err := p.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalArticles)
	assert.Equal(t, int64(1), stats.ArticlesToday)
	assert.Equal(t, int64(2), stats.ArticlesThisWeek)
	assert.Equal(t, 2, stats.Sources)
	require.NotNil(t, stats.LastFetch)
	assert.True(t, stats.LastFetch.Equal(testNow.Add(-2*time.Hour)))
	// 3 of 4 per-source rows in the last 7 days succeeded
	assert.Equal(t, 75.0, stats.SuccessRate)
}

func TestRate(t *testing.T) {
	assert.Equal(t, 0.0, rate(0, 0))
	assert.Equal(t, 66.67, rate(2, 3))
	assert.Equal(t, 100.0, rate(5, 5))
}

func TestJobHandlers(t *testing.T) {
	store := openStore(t)
	f := &fakeFetcher{result: partialResult()}
	p := newTestPipeline(t, f, store, testRegistry(t, "bbc", "bad"))

	handlers := p.JobHandlers()
	require.Len(t, handlers, len(jobs.Kinds))

	res, err := handlers[jobs.KindDailyFetch](context.Background(), &jobs.Task{Kind: jobs.KindDailyFetch})
	require.NoError(t, err)
	summary, ok := res.(*RunSummary)
	require.True(t, ok)
	assert.Equal(t, jobs.KindDailyFetch, summary.Kind)
	assert.False(t, summary.FullContent)

	res, err = handlers[jobs.KindCleanup](context.Background(), &jobs.Task{Kind: jobs.KindCleanup, Params: jobs.Params{DaysToKeep: 7}})
	require.NoError(t, err)
	cleanup, ok := res.(*database.CleanupResult)
	require.True(t, ok)
	assert.True(t, cleanup.Cutoff.Equal(testNow.AddDate(0, 0, -7)))

	res, err = handlers[jobs.KindReport](context.Background(), &jobs.Task{Kind: jobs.KindReport, Params: jobs.Params{WindowHours: 1}})
	require.NoError(t, err)
	assert.Equal(t, "1h0m0s", res.(*Report).Window)
}
