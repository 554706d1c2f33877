package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/tkilaker/feedkiln/internal/jobs"
)

type enqueueResponse struct {
	JobID     string    `json:"job_id"`
	Status    string    `json:"status"`
	Kind      jobs.Kind `json:"kind"`
	Coalesced bool      `json:"coalesced"`
}

// handleManualFetch queues a light fetch, or a full fetch with fetch_content
func (s *Server) handleManualFetch(w http.ResponseWriter, r *http.Request) {
	full, err := queryBool(r, "fetch_content")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	kind := jobs.KindDailyFetch
	if full {
		kind = jobs.KindFullFetch
	}
	s.enqueue(w, r, kind, jobs.Params{FetchContent: full})
}

// handleCleanup queues a retention cleanup
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days_to_keep", s.config.RetentionDays, 1, 3650)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.enqueue(w, r, jobs.KindCleanup, jobs.Params{DaysToKeep: days})
}

// handleReport queues a status report
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	hours, err := queryInt(r, "window_hours", 24, 1, 24*90)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.enqueue(w, r, jobs.KindReport, jobs.Params{WindowHours: hours})
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request, kind jobs.Kind, params jobs.Params) {
	job, coalesced, err := s.deps.Jobs.Enqueue(kind, params)
	if errors.Is(err, jobs.ErrRunnerStopped) {
		writeError(w, http.StatusServiceUnavailable, "Job runner is shutting down")
		return
	}
	if err != nil {
		internalError(w, r, "Failed to queue job", err)
		return
	}

	writeJSON(w, http.StatusAccepted, enqueueResponse{
		JobID:     job.ID,
		Status:    strings.ToLower(string(job.State)),
		Kind:      job.Kind,
		Coalesced: coalesced,
	})
}

// handleTaskList returns retained jobs, newest first
func (s *Server) handleTaskList(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Jobs.List()
	if err != nil {
		internalError(w, r, "Failed to list jobs", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleTaskStatus returns the current state of a job
func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Jobs.GetStatus(chi.URLParam(r, "id"))
	if errors.Is(err, jobs.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		internalError(w, r, "Failed to read job", err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleTaskCancel cancels a queued or running job
func (s *Server) handleTaskCancel(w http.ResponseWriter, r *http.Request) {
	hard, err := queryBool(r, "hard")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := s.deps.Jobs.Cancel(chi.URLParam(r, "id"), hard)
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "Job not found")
	case errors.Is(err, jobs.ErrJobFinished):
		writeError(w, http.StatusConflict, "Job already finished")
	case err != nil:
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeJSON(w, http.StatusAccepted, job)
	}
}

// handleTaskEvents streams job progress as server-sent events and ends with
// the final job state
func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	updates, unsubscribe, err := s.deps.Jobs.Subscribe(id)
	if errors.Is(err, jobs.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil && !errors.Is(err, jobs.ErrJobFinished) {
		internalError(w, r, "Failed to subscribe to job", err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if updates != nil {
		defer unsubscribe()
	stream:
		for {
			select {
			case <-r.Context().Done():
				return
			case update, ok := <-updates:
				if !ok {
					break stream
				}
				writeEvent(w, "progress", update)
				flusher.Flush()
			}
		}
	}

	job, err := s.deps.Jobs.GetStatus(id)
	if err != nil {
		log.Error().Err(err).Str("job_id", id).Msg("Failed to read job after stream")
		return
	}
	writeEvent(w, "done", job)
	flusher.Flush()
}

func writeEvent(w http.ResponseWriter, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode event")
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
