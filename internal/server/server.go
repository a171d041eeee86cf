// Package server is the admin surface: a JSON API over the pipeline plus
// websocket streams for logs and run progress.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"infodigest/internal/config"
	"infodigest/internal/logger"
	"infodigest/internal/pipeline"
)

// Server hosts the admin API.
type Server struct {
	cfg         config.Server
	svc         *pipeline.Service
	logsHub     *Hub
	progressHub *Hub
	httpServer  *http.Server
}

// New builds the admin server over a pipeline service.
func New(cfg config.Server, svc *pipeline.Service) *Server {
	maxConns := cfg.MaxWSConnections
	if maxConns <= 0 {
		maxConns = 100
	}
	s := &Server{
		cfg:         cfg,
		svc:         svc,
		logsHub:     NewHub(maxConns),
		progressHub: NewHub(maxConns),
	}
	logger.AddSink(s.logsHub)
	return s
}

// Router assembles the chi routing tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/run", s.handleRun)
		r.Post("/digest", s.handleDigest)
		r.Post("/backfill", s.handleBackfill)

		r.Get("/articles", s.handleListArticles)
		r.Delete("/articles/{id}", s.handleDeleteArticle)

		r.Get("/units", s.handleListUnits)
		r.Get("/units/{id}", s.handleGetUnit)

		r.Get("/feeds", s.handleListFeeds)
		r.Post("/feeds", s.handleAddFeed)
		r.Delete("/feeds", s.handleRemoveFeed)
		r.Patch("/feeds/{id}", s.handleToggleFeed)

		r.Get("/entities/hot", s.handleHotEntities)
		r.Get("/entities/{id}/timeline", s.handleEntityTimeline)
		r.Get("/entities/{id}/network", s.handleEntityNetwork)

		r.Get("/progress/state", s.handleProgressState)
	})

	r.Get("/ws/logs", s.handleLogsWS)
	r.Get("/ws/progress", s.handleProgressWS)
	return r
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	go s.pumpProgress(ctx)

	s.httpServer = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("admin server listening", "addr", s.cfg.ListenAddr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// pumpProgress forwards tracker updates to the progress websocket hub.
func (s *Server) pumpProgress(ctx context.Context) {
	ch := s.svc.Progress().Subscribe()
	defer s.svc.Progress().Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case state, ok := <-ch:
			if !ok {
				return
			}
			if data, err := json.Marshal(state); err == nil {
				s.progressHub.Broadcast(data)
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
