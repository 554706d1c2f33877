package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/tkilaker/feedkiln/internal/database"
	"github.com/tkilaker/feedkiln/internal/scheduler"
)

type newsPage struct {
	Items []*database.Article `json:"items"`
	Skip  int                 `json:"skip"`
	Limit int                 `json:"limit"`
	Count int                 `json:"count"`
}

// handleNewsList pages through articles, newest first
func (s *Server) handleNewsList(w http.ResponseWriter, r *http.Request) {
	skip, err := queryInt(r, "skip", 0, 0, 1<<31-1)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryInt(r, "limit", 20, 1, 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	from, err := queryTime(r, "from_date", false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := queryTime(r, "to_date", true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	q := r.URL.Query()
	articles, err := s.deps.Store.ListArticles(r.Context(), database.ArticleFilter{
		Skip:     skip,
		Limit:    limit,
		Source:   q.Get("source"),
		Category: q.Get("category"),
		Search:   strings.TrimSpace(q.Get("search")),
		From:     from,
		To:       to,
	})
	if err != nil {
		internalError(w, r, "Failed to fetch articles", err)
		return
	}

	writeJSON(w, http.StatusOK, newsPage{Items: articles, Skip: skip, Limit: limit, Count: len(articles)})
}

// handleNewsDetail returns a single article
func (s *Server) handleNewsDetail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid article ID")
		return
	}

	article, err := s.deps.Store.GetArticle(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Article not found")
		return
	}
	if err != nil {
		internalError(w, r, "Failed to fetch article", err)
		return
	}

	writeJSON(w, http.StatusOK, article)
}

type sourceView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Category string `json:"category"`
	Endpoint string `json:"endpoint"`
	Articles int64  `json:"articles"`
}

// handleSources lists configured sources with their article counts
func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	counts, err := s.deps.Store.CountBySource(r.Context())
	if err != nil {
		internalError(w, r, "Failed to count articles", err)
		return
	}
	bySource := make(map[string]int64, len(counts))
	for _, c := range counts {
		bySource[c.Key] = c.Count
	}

	all := s.deps.Registry.All()
	views := make([]sourceView, 0, len(all))
	for _, src := range all {
		views = append(views, sourceView{
			ID:       src.ID,
			Name:     src.Name(),
			Kind:     string(src.Kind),
			Category: src.Category,
			Endpoint: src.Endpoint,
			Articles: bySource[src.ID],
		})
	}

	writeJSON(w, http.StatusOK, views)
}

// handleCategories returns article counts per category
func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	counts, err := s.deps.Store.CountByCategory(r.Context())
	if err != nil {
		internalError(w, r, "Failed to count articles", err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// handleStats returns aggregate counts and the recent success rate
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Stats.Stats(r.Context())
	if err != nil {
		internalError(w, r, "Failed to compute stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type logView struct {
	*database.FetchLog
	ExecutionTime float64 `json:"execution_time"`
}

// handleLogs returns recent fetch logs, newest first
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	skip, err := queryInt(r, "skip", 0, 0, 1<<31-1)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryInt(r, "limit", 50, 1, 200)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	status := strings.ToUpper(r.URL.Query().Get("status"))
	switch database.LogStatus(status) {
	case "", database.LogSuccess, database.LogPartial, database.LogFailure:
	default:
		writeError(w, http.StatusBadRequest, "status must be SUCCESS, PARTIAL or FAILURE")
		return
	}

	logs, err := s.deps.Store.ListFetchLogs(r.Context(), database.LogFilter{
		Skip:   skip,
		Limit:  limit,
		Status: status,
		Source: r.URL.Query().Get("source"),
	})
	if err != nil {
		internalError(w, r, "Failed to fetch logs", err)
		return
	}

	views := make([]logView, 0, len(logs))
	for _, l := range logs {
		views = append(views, logView{FetchLog: l, ExecutionTime: l.ExecutionTime().Seconds()})
	}
	writeJSON(w, http.StatusOK, views)
}

// handleSchedule lists the next scheduled runs
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	upcoming := []scheduler.Upcoming{}
	if s.deps.Schedule != nil {
		upcoming = s.deps.Schedule.Upcoming()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":  s.deps.Schedule != nil,
		"timezone": s.config.ScheduleTimezone,
		"jobs":     upcoming,
	})
}
