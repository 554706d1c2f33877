package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tkilaker/feedkiln/internal/config"
	"github.com/tkilaker/feedkiln/internal/database"
	"github.com/tkilaker/feedkiln/internal/database/sqlitedb"
	"github.com/tkilaker/feedkiln/internal/jobs"
	"github.com/tkilaker/feedkiln/internal/pipeline"
	"github.com/tkilaker/feedkiln/internal/scheduler"
	"github.com/tkilaker/feedkiln/internal/sources"
)

type fakeStats struct{}

func (fakeStats) Stats(ctx context.Context) (*pipeline.Stats, error) {
	return &pipeline.Stats{TotalArticles: 3, Sources: 2, SuccessRate: 50}, nil
}

type fakeSchedule struct{}

func (fakeSchedule) Upcoming() []scheduler.Upcoming {
	return []scheduler.Upcoming{{Name: "daily_fetch", Kind: jobs.KindDailyFetch, Cadence: "daily at 06:00"}}
}

type testEnv struct {
	srv    *Server
	store  *sqlitedb.Store
	runner *jobs.Runner
	// release unblocks the blocking fetch handler
	release chan struct{}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := sqlitedb.Open(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(store.Close)

	release := make(chan struct{})
	handlers := map[jobs.Kind]jobs.Handler{
		jobs.KindDailyFetch: func(ctx context.Context, task *jobs.Task) (any, error) {
			task.Progress(1, 2, "bbc")
			select {
			case <-release:
				return map[string]int{"items_new": 1}, nil
			case <-ctx.Done():
				return nil, context.Cause(ctx)
			}
		},
		jobs.KindFullFetch: func(ctx context.Context, task *jobs.Task) (any, error) {
			return nil, nil
		},
		jobs.KindCleanup: func(ctx context.Context, task *jobs.Task) (any, error) {
			return map[string]int{"days_to_keep": task.Params.DaysToKeep}, nil
		},
		jobs.KindReport: func(ctx context.Context, task *jobs.Task) (any, error) {
			return nil, nil
		},
	}
	runner, err := jobs.NewRunner(jobs.NewMemoryStore(), handlers, jobs.Options{PoolSize: 2})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = runner.Stop(ctx)
	})

	registry := sources.Builtin(sources.Defaults{Timeout: time.Second, MaxConcurrent: 1})
	cfg := &config.Config{
		RetentionDays:    30,
		ScheduleTimezone: "UTC",
		FeedTitle:        "Feedkiln",
		FeedLink:         "http://localhost:8080",
		FeedDescription:  "test",
		FeedAuthor:       "test",
	}

	srv := New(Deps{
		Store:    store,
		Jobs:     runner,
		Stats:    fakeStats{},
		Schedule: fakeSchedule{},
		Registry: registry,
	}, cfg)

	return &testEnv{srv: srv, store: store, runner: runner, release: release}
}

func (e *testEnv) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	e.srv.Router().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) seedArticles(t *testing.T) {
	t.Helper()
	base := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	tech := "technology"
	summary := "Go release notes"
	_, err := e.store.InsertArticles(context.Background(), []*database.Article{
		{SourceID: "bbc", URL: "https://example.com/1", Title: "Election results", FetchedAt: base, PublishedAt: &base},
		{SourceID: "techcrunch", URL: "https://example.com/2", Title: "New Go version", Summary: &summary, Category: &tech, FetchedAt: base.Add(time.Hour)},
		{SourceID: "bbc", URL: "https://example.com/3", Title: "Weather", FetchedAt: base.AddDate(0, 0, 2)},
	})
	require.NoError(t, err)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestNewsList(t *testing.T) {
	env := newTestEnv(t)
	env.seedArticles(t)

	tests := []struct {
		name   string
		query  string
		titles []string
	}{
		{name: "all", query: "", titles: []string{"Weather", "New Go version", "Election results"}},
		{name: "limit and skip", query: "?skip=1&limit=1", titles: []string{"New Go version"}},
		{name: "by source", query: "?source=bbc", titles: []string{"Weather", "Election results"}},
		{name: "by category", query: "?category=technology", titles: []string{"New Go version"}},
		{name: "search summary", query: "?search=release", titles: []string{"New Go version"}},
		{name: "date only to covers whole day", query: "?from_date=2024-03-10&to_date=2024-03-10", titles: []string{"New Go version", "Election results"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/news"+tt.query)
			require.Equal(t, http.StatusOK, rec.Code)

			page := decode[newsPage](t, rec)
			titles := make([]string, 0, len(page.Items))
			for _, a := range page.Items {
				titles = append(titles, a.Title)
			}
			assert.Equal(t, tt.titles, titles)
			assert.Equal(t, len(tt.titles), page.Count)
		})
	}
}

func TestNewsListRejectsBadParameters(t *testing.T) {
	env := newTestEnv(t)

	for _, q := range []string{"?limit=0", "?limit=101", "?skip=-1", "?from_date=yesterday", "?to_date=2024-13-01"} {
		t.Run(q, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/news"+q)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestNewsDetail(t *testing.T) {
	env := newTestEnv(t)
	env.seedArticles(t)

	list := decode[newsPage](t, env.do(t, http.MethodGet, "/news?limit=1"))
	require.Len(t, list.Items, 1)

	rec := env.do(t, http.MethodGet, fmt.Sprintf("/news/%d", list.Items[0].ID))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Weather", decode[database.Article](t, rec).Title)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/news/9999").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/news/abc").Code)
}

func TestSourcesIncludeCounts(t *testing.T) {
	env := newTestEnv(t)
	env.seedArticles(t)

	rec := env.do(t, http.MethodGet, "/sources")
	require.Equal(t, http.StatusOK, rec.Code)

	views := decode[[]sourceView](t, rec)
	require.Len(t, views, 5)
	counts := map[string]int64{}
	for _, v := range views {
		counts[v.ID] = v.Articles
	}
	assert.Equal(t, int64(2), counts["bbc"])
	assert.Equal(t, int64(1), counts["techcrunch"])
	assert.Zero(t, counts["cnn"])
}

func TestLogs(t *testing.T) {
	env := newTestEnv(t)
	start := time.Date(2024, 3, 10, 6, 0, 0, 0, time.UTC)
	bbc := "bbc"
	require.NoError(t, env.store.InsertFetchLogs(context.Background(), []*database.FetchLog{
		{RunID: "r1", JobKind: "DAILY_FETCH", SourceID: &bbc, StartedAt: start, FinishedAt: start.Add(1500 * time.Millisecond), ItemsSeen: 4, Status: database.LogSuccess},
		{RunID: "r1", JobKind: "DAILY_FETCH", StartedAt: start, FinishedAt: start.Add(2 * time.Second), ItemsSeen: 4, Status: database.LogPartial},
	}))

	rec := env.do(t, http.MethodGet, "/logs?status=partial")
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "PARTIAL", rows[0]["status"])
	assert.InDelta(t, 2.0, rows[0]["execution_time"], 0.001)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/logs?status=broken").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/logs?limit=500").Code)
}

func TestStatsAndSchedule(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(3), decode[pipeline.Stats](t, rec).TotalArticles)

	rec = env.do(t, http.MethodGet, "/schedule")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "daily_fetch")
}

func TestManualFetchCoalesces(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/fetch/manual")
	require.Equal(t, http.StatusAccepted, rec.Code)
	first := decode[enqueueResponse](t, rec)
	assert.Equal(t, jobs.KindDailyFetch, first.Kind)
	assert.False(t, first.Coalesced)
	assert.NotEmpty(t, first.JobID)

	rec = env.do(t, http.MethodPost, "/fetch/manual?fetch_content=false")
	require.Equal(t, http.StatusAccepted, rec.Code)
	second := decode[enqueueResponse](t, rec)
	assert.True(t, second.Coalesced)
	assert.Equal(t, first.JobID, second.JobID)

	close(env.release)
	require.Eventually(t, func() bool {
		job, err := env.runner.GetStatus(first.JobID)
		return err == nil && job.State == jobs.StateSucceeded
	}, 5*time.Second, 10*time.Millisecond)

	rec = env.do(t, http.MethodGet, "/task/"+first.JobID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"items_new":1}`, string(decode[jobs.Job](t, rec).Result))

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/fetch/manual?fetch_content=maybe").Code)
}

func TestCleanupDefaultsAndValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/cleanup")
	require.Equal(t, http.StatusAccepted, rec.Code)
	id := decode[enqueueResponse](t, rec).JobID

	require.Eventually(t, func() bool {
		job, err := env.runner.GetStatus(id)
		return err == nil && job.State.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	job, err := env.runner.GetStatus(id)
	require.NoError(t, err)
	assert.Equal(t, 30, job.Params.DaysToKeep)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/cleanup?days_to_keep=0").Code)
}

func TestTaskCancel(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/task/missing").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/task/missing").Code)

	id := decode[enqueueResponse](t, env.do(t, http.MethodPost, "/fetch/manual")).JobID

	rec := env.do(t, http.MethodDelete, "/task/"+id)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		job, err := env.runner.GetStatus(id)
		return err == nil && job.State == jobs.StateFailed
	}, 5*time.Second, 10*time.Millisecond)

	job, err := env.runner.GetStatus(id)
	require.NoError(t, err)
	assert.Equal(t, jobs.ErrCancelled.Error(), job.Error)

	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodDelete, "/task/"+id).Code)
}

func TestTaskEventsStreamsUntilDone(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	id := decode[enqueueResponse](t, env.do(t, http.MethodPost, "/fetch/manual")).JobID

	resp, err := http.Get(ts.URL + "/task/" + id + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	close(env.release)

	var events []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if name, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
			events = append(events, name)
		}
	}
	require.NotEmpty(t, events)
	assert.Equal(t, "done", events[len(events)-1])
}

func TestTaskEventsForFinishedJob(t *testing.T) {
	env := newTestEnv(t)

	id := decode[enqueueResponse](t, env.do(t, http.MethodPost, "/report")).JobID
	require.Eventually(t, func() bool {
		job, err := env.runner.GetStatus(id)
		return err == nil && job.State.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	rec := env.do(t, http.MethodGet, "/task/"+id+"/events")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "event: done", strings.SplitN(rec.Body.String(), "\n", 2)[0])
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["database"])
}

func TestRSSFeed(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now().UTC()
	_, err := env.store.InsertArticles(context.Background(), []*database.Article{
		{SourceID: "bbc", URL: "https://example.com/fresh", Title: "Fresh story", FetchedAt: now},
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/rss.xml")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/rss+xml")
	assert.Contains(t, rec.Body.String(), "Fresh story")
}
