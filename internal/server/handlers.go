package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"infodigest/internal/core"
	"infodigest/internal/feeds"
	"infodigest/internal/logger"
	"infodigest/internal/pipeline"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"running":     s.svc.Running(),
		"stats":       stats,
		"ws_clients":  s.logsHub.ClientCount() + s.progressHub.ClientCount(),
		"server_time": time.Now().UTC(),
	})
}

// handleRun starts a fetch-and-analyze run in the background. A run already
// in progress is a client error, not a queue.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.svc.Running() {
		writeError(w, http.StatusBadRequest, "a run is already in progress")
		return
	}
	var req struct {
		Mode  string `json:"mode"`
		Limit int    `json:"limit"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	mode := core.ParseAnalysisMode(req.Mode)

	// The run outlives the request; it gets its own context.
	go func() {
		if _, err := s.svc.FetchAndAnalyze(context.Background(), mode, req.Limit); err != nil {
			if !errors.Is(err, pipeline.ErrAlreadyRunning) {
				logger.Error("background run failed", "error", err.Error())
			}
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "mode": string(mode)})
}

func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	dryRun := r.URL.Query().Get("dry_run") == "true"
	digest, err := s.svc.SendDailyDigest(r.Context(), dryRun)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, digest)
}

func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	processed, err := s.svc.BackfillEntities(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"processed": processed})
}

func (s *Server) handleListArticles(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	articles, err := s.svc.Articles().List(limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"articles": articles, "count": len(articles)})
}

func (s *Server) handleDeleteArticle(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "article id must be numeric")
		return
	}
	if err := s.svc.Articles().Delete(id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "article not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": id})
}

func (s *Server) handleListUnits(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	units, err := s.svc.Units().GetUnsent(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"units": units, "count": len(units)})
}

func (s *Server) handleGetUnit(w http.ResponseWriter, r *http.Request) {
	unit, err := s.svc.Units().Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if unit == nil {
		writeError(w, http.StatusNotFound, "unit not found")
		return
	}
	writeJSON(w, http.StatusOK, unit)
}

func (s *Server) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"feeds": s.svc.Feeds().List()})
}

func (s *Server) handleAddFeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		URL      string `json:"url"`
		Category string `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "name and url are required")
		return
	}
	if err := s.svc.Feeds().Add(req.Name, req.URL, req.Category); err != nil {
		if errors.Is(err, feeds.ErrDuplicateFeed) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"added": req.URL})
}

func (s *Server) handleRemoveFeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identifier string `json:"identifier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Identifier == "" {
		writeError(w, http.StatusBadRequest, "identifier is required")
		return
	}
	id := req.Identifier
	if err := s.svc.Feeds().Remove(id); err != nil {
		if errors.Is(err, feeds.ErrFeedNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"removed": id})
}

func (s *Server) handleToggleFeed(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}
	if err := s.svc.Feeds().SetEnabled(id, req.Enabled); err != nil {
		if errors.Is(err, feeds.ErrFeedNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"feed": id, "enabled": req.Enabled})
}

func (s *Server) handleHotEntities(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 7)
	limit := queryInt(r, "limit", 10)
	hot, err := s.svc.Entities().GetHotEntities(days, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": hot, "window_days": days})
}

func (s *Server) handleEntityTimeline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := queryInt(r, "limit", 50)
	timeline, err := s.svc.Entities().GetEntityTimeline(id, time.Time{}, time.Time{}, nil, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entity_id": id, "timeline": timeline})
}

func (s *Server) handleEntityNetwork(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	depth := queryInt(r, "depth", 1)
	network, err := s.svc.Entities().GetEntityNetwork(id, depth)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, network)
}

func (s *Server) handleProgressState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Progress().State())
}

func queryInt(r *http.Request, name string, def int) int {
	if raw := r.URL.Query().Get(name); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return def
}
