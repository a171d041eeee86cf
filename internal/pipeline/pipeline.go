// Package pipeline is the service layer driving full runs: fetch feeds,
// extract and deduplicate information units, maintain the entity graph, and
// send the daily digest.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"infodigest/internal/agents"
	"infodigest/internal/config"
	"infodigest/internal/core"
	"infodigest/internal/email"
	"infodigest/internal/entitystore"
	"infodigest/internal/feeds"
	"infodigest/internal/fetch"
	"infodigest/internal/infostore"
	"infodigest/internal/logger"
	"infodigest/internal/orchestrator"
	"infodigest/internal/store"
)

// ErrAlreadyRunning is returned when a run is requested while another is in
// progress.
var ErrAlreadyRunning = errors.New("a pipeline run is already in progress")

// RunStats summarizes one fetch-and-analyze run.
type RunStats struct {
	FeedsPolled   int           `json:"feeds_polled"`
	Fetched       int           `json:"fetched"`
	NewArticles   int           `json:"new_articles"`
	Processed     int           `json:"processed"`
	UnitsNew      int           `json:"units_new"`
	UnitsMerged   int           `json:"units_merged"`
	Duration      time.Duration `json:"-"`
	DurationHuman string        `json:"duration"`
}

// Service wires the stores, the fetcher, and the orchestrator into the
// operations the CLI, scheduler, and admin server call.
type Service struct {
	cfg      *config.Config
	registry *feeds.Registry
	fetcher  *fetch.Fetcher
	articles *store.Store
	units    *infostore.Store
	entities *entitystore.Store
	orch     *orchestrator.Orchestrator
	curator  *agents.Curator
	sender   *email.Sender
	progress *Tracker

	mu      sync.Mutex
	running bool
}

// NewService assembles the pipeline from already-constructed components.
func NewService(cfg *config.Config, registry *feeds.Registry, fetcher *fetch.Fetcher,
	articles *store.Store, units *infostore.Store, entities *entitystore.Store,
	orch *orchestrator.Orchestrator, curator *agents.Curator, sender *email.Sender) *Service {
	return &Service{
		cfg:      cfg,
		registry: registry,
		fetcher:  fetcher,
		articles: articles,
		units:    units,
		entities: entities,
		orch:     orch,
		curator:  curator,
		sender:   sender,
		progress: NewTracker(),
	}
}

// Progress exposes the run tracker for the admin surface.
func (s *Service) Progress() *Tracker {
	return s.progress
}

// Running reports whether a run is in flight.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Service) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	s.running = true
	return nil
}

func (s *Service) release() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.progress.Set(false, "idle", "", 0, 0)
}

// FetchAndAnalyze polls every enabled feed, stores new articles, and runs
// them through the unit-extraction pipeline. limit > 0 caps how many new
// articles are analyzed this run.
func (s *Service) FetchAndAnalyze(ctx context.Context, mode core.AnalysisMode, limit int) (*RunStats, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()

	start := time.Now()
	stats := &RunStats{}

	enabled := s.registry.Enabled()
	stats.FeedsPolled = len(enabled)
	s.progress.Set(true, "fetching", fmt.Sprintf("%d feeds", len(enabled)), 0, len(enabled))

	articles, err := s.fetcher.FetchAll(ctx, enabled)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	stats.Fetched = len(articles)

	var fresh []core.Article
	for _, article := range articles {
		exists, err := s.articles.Exists(article.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to check article %s: %w", article.URL, err)
		}
		if exists {
			continue
		}
		if err := s.articles.Upsert(article); err != nil {
			return nil, fmt.Errorf("failed to store article %s: %w", article.URL, err)
		}
		fresh = append(fresh, article)
		if limit > 0 && len(fresh) >= limit {
			break
		}
	}
	stats.NewArticles = len(fresh)
	logger.Info("fetch complete", "fetched", stats.Fetched, "new", stats.NewArticles)

	s.progress.Set(true, "analyzing", "", 0, len(fresh))
	results := s.orch.ProcessArticles(ctx, fresh, mode)
	for i, r := range results {
		stats.Processed++
		stats.UnitsNew += r.NewUnits
		stats.UnitsMerged += r.MergedUnits
		s.progress.Set(true, "analyzing", r.Article.Title, i+1, len(fresh))
	}

	if days := s.cfg.Storage.ArticleRetentionDays; days > 0 {
		if removed, err := s.articles.Cleanup(days); err != nil {
			logger.Warn("article cleanup failed", "error", err.Error())
		} else if removed > 0 {
			logger.Info("expired articles removed", "count", removed)
		}
	}

	stats.Duration = time.Since(start)
	stats.DurationHuman = stats.Duration.Round(time.Millisecond).String()
	logger.Info("run complete",
		"processed", stats.Processed,
		"units_new", stats.UnitsNew,
		"units_merged", stats.UnitsMerged,
		"duration", stats.DurationHuman)
	return stats, nil
}

// SendDailyDigest curates the unsent units into a digest and delivers it.
// With dryRun set, the digest is built and returned but nothing is sent and
// nothing is marked sent.
func (s *Service) SendDailyDigest(ctx context.Context, dryRun bool) (*core.Digest, error) {
	unsent, err := s.units.GetUnsent(s.cfg.Filter.MaxArticlesPerDigest * 5)
	if err != nil {
		return nil, fmt.Errorf("failed to load unsent units: %w", err)
	}
	if len(unsent) == 0 {
		logger.Info("no unsent units, skipping digest")
		return &core.Digest{Date: time.Now().UTC()}, nil
	}

	recentTitles, err := s.units.GetRecentSentTitles(20)
	if err != nil {
		logger.Warn("failed to load recent titles", "error", err.Error())
	}

	selection, err := s.curator.Curate(ctx, unsent, recentTitles)
	if err != nil {
		return nil, fmt.Errorf("curation failed: %w", err)
	}

	articleStats, err := s.articles.Stats()
	if err != nil {
		logger.Warn("failed to load article stats", "error", err.Error())
		articleStats = map[string]int{}
	}

	digest := &core.Digest{
		Date:          time.Now().UTC(),
		TopPicks:      selection.TopPicks,
		QuickReads:    selection.QuickReads,
		DailySummary:  selection.DailySummary,
		TotalFetched:  articleStats["total"],
		TotalAnalyzed: len(unsent),
		TotalFiltered: len(selection.TopPicks) + len(selection.QuickReads),
	}

	if dryRun {
		logger.Info("dry run, digest not sent",
			"top_picks", len(digest.TopPicks), "quick_reads", len(digest.QuickReads))
		return digest, nil
	}

	chart := email.RenderTrendChart(digest.TopPicks)
	view := email.BuildDigestView(*digest, digest.DailySummary, digest.TopPicks, digest.QuickReads, chart != nil)
	html, err := email.RenderHTML(view, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to render digest: %w", err)
	}
	if err := s.sender.Send(ctx, email.Subject(view.Date), html, chart); err != nil {
		return nil, fmt.Errorf("failed to send digest: %w", err)
	}

	ids := make([]string, 0, digest.TotalFiltered)
	for _, u := range digest.TopPicks {
		ids = append(ids, u.ID)
	}
	for _, u := range digest.QuickReads {
		ids = append(ids, u.ID)
	}
	if err := s.units.MarkSent(ids); err != nil {
		return nil, fmt.Errorf("digest sent but failed to mark units: %w", err)
	}
	logger.Info("digest sent", "top_picks", len(digest.TopPicks), "quick_reads", len(digest.QuickReads))
	return digest, nil
}

// BackfillEntities sweeps units with pending entity processing.
func (s *Service) BackfillEntities(ctx context.Context, limit int) (int, error) {
	return s.orch.BackfillEntities(ctx, limit)
}

// Stats aggregates store counts for the status endpoint.
func (s *Service) Stats() (map[string]int, error) {
	stats, err := s.articles.Stats()
	if err != nil {
		return nil, err
	}
	unitCount, err := s.units.Count()
	if err != nil {
		return nil, err
	}
	stats["units"] = unitCount
	if s.entities != nil {
		entities, mentions, relations, err := s.entities.Counts()
		if err != nil {
			return nil, err
		}
		stats["entities"] = entities
		stats["entity_mentions"] = mentions
		stats["entity_relations"] = relations
	}
	return stats, nil
}

// Articles exposes the article store to the admin surface.
func (s *Service) Articles() *store.Store { return s.articles }

// Units exposes the unit store to the admin surface.
func (s *Service) Units() *infostore.Store { return s.units }

// Entities exposes the entity store to the admin surface.
func (s *Service) Entities() *entitystore.Store { return s.entities }

// Feeds exposes the feed registry to the admin surface.
func (s *Service) Feeds() *feeds.Registry { return s.registry }
