package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/Gracecr/sacred/internal/state"
	"github.com/Gracecr/sacred/pkg/core"
	"github.com/go-chi/chi/v5"
	"github.com/starfederation/datastar-go/datastar"
)

// maxListLimit caps the limit query parameter of /api/runs.
const maxListLimit = 1000

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", slog.Any("error", err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrRunNotFound), errors.Is(err, state.ErrArtifactNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	default:
		s.logger.Error("request failed", slog.Any("error", err))
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

var errBadRequest = errors.New("bad request")

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DB().PingContext(r.Context()); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func parseRunFilter(r *http.Request) (core.RunFilter, error) {
	q := r.URL.Query()
	filter := core.RunFilter{Experiment: q.Get("experiment")}

	if v := q.Get("status"); v != "" {
		status := core.RunStatus(strings.ToUpper(v))
		if !status.Valid() {
			return filter, fmt.Errorf("%w: unknown status %q", errBadRequest, v)
		}
		filter.Status = status
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxListLimit {
			return filter, fmt.Errorf("%w: limit must be between 1 and %d", errBadRequest, maxListLimit)
		}
		filter.Limit = n
	}
	return filter, nil
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	filter, err := parseRunFilter(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if runs == nil {
		runs = []core.RunSummary{}
	}
	s.writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.GetRun(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleRunMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := s.store.MetricSeries(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if metrics == nil {
		metrics = []core.MetricDocument{}
	}
	s.writeJSON(w, http.StatusOK, metrics)
}

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: invalid artifact id", errBadRequest))
		return
	}
	art, err := s.store.Artifact(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	contentType := art.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(art.Content)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", art.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(art.Content)))
	_, _ = w.Write(art.Content)
}

// runEvent is the server-sent event type carrying a run token.
const runEvent datastar.EventType = "run"

// handleEvents streams the tokens of newly ingested runs as server-sent
// events until the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ch := s.notifier.Subscribe()
	defer s.notifier.Unsubscribe(ch)

	sse := datastar.NewSSE(w, r)
	for {
		select {
		case <-r.Context().Done():
			return
		case token, ok := <-ch:
			if !ok {
				return
			}
			if err := sse.Send(runEvent, []string{token}); err != nil {
				s.logger.Debug("event stream closed", slog.Any("error", err))
				return
			}
		}
	}
}
