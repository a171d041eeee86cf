// Package orchestrator sequences the agents over articles: the legacy
// article-centric analysis and the information-centric extraction pipeline
// with exact and semantic deduplication.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"infodigest/internal/agents"
	"infodigest/internal/core"
	"infodigest/internal/entitystore"
	"infodigest/internal/infostore"
	"infodigest/internal/logger"
	"infodigest/internal/telemetry"
	"infodigest/internal/vectorindex"
)

const (
	// SemanticThreshold is the minimum cosine similarity for a semantic
	// duplicate.
	SemanticThreshold = 0.6
	// SemanticTopK bounds the semantic dedup candidate set.
	SemanticTopK = 3
	// DefaultConcurrency is how many articles are analyzed in parallel.
	DefaultConcurrency = 5
)

// Orchestrator owns the agent ensemble and runs articles through it.
type Orchestrator struct {
	collector *agents.Collector
	librarian *agents.Librarian
	analysts  []*agents.Analyst
	editor    *agents.Editor
	extractor *agents.Extractor

	units       *infostore.Store
	entities    *entitystore.Store
	concurrency int
}

// New builds an orchestrator with the full agent ensemble.
func New(gateway agents.Gateway, index vectorindex.Index, units *infostore.Store,
	entities *entitystore.Store, l3Roots []string, concurrency int) *Orchestrator {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Orchestrator{
		collector: agents.NewCollector(gateway),
		librarian: agents.NewLibrarian(gateway, index),
		analysts: []*agents.Analyst{
			agents.NewSkeptic(gateway),
			agents.NewEconomist(gateway),
			agents.NewDetective(gateway),
		},
		editor:      agents.NewEditor(gateway),
		extractor:   agents.NewExtractor(gateway, l3Roots),
		units:       units,
		entities:    entities,
		concurrency: concurrency,
	}
}

// AnalyzeArticle runs the legacy article-centric analysis. QUICK stops after
// collection, STANDARD adds the librarian, DEEP adds the analyst panel. The
// editor always has the last word, and the article is remembered in the index
// afterwards.
func (o *Orchestrator) AnalyzeArticle(ctx context.Context, article core.Article, mode core.AnalysisMode) (*core.EnrichedArticle, error) {
	ctx = telemetry.WithSession(ctx, uuid.NewString())
	actx := core.NewAnalysisContext(article, mode)

	if err := o.collector.Extract(ctx, actx); err != nil {
		return nil, err
	}
	if mode != core.ModeQuick {
		if err := o.librarian.Contextualize(ctx, actx); err != nil {
			return nil, err
		}
	}
	if mode == core.ModeDeep {
		o.runAnalystPanel(ctx, actx)
	}

	enriched, err := o.editor.Finalize(ctx, actx)
	if err != nil {
		return nil, err
	}
	if err := o.librarian.Remember(ctx, actx); err != nil {
		logger.Warn("failed to index analyzed article", "url", article.URL, "error", err.Error())
	}
	return enriched, nil
}

// runAnalystPanel runs the analysts in parallel. A failed analyst leaves its
// slot empty; the panel itself never fails the analysis.
func (o *Orchestrator) runAnalystPanel(ctx context.Context, actx *core.AnalysisContext) {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, analyst := range o.analysts {
		analyst := analyst
		g.Go(func() error {
			report, trace, err := analyst.Analyze(gctx, actx)
			mu.Lock()
			defer mu.Unlock()
			actx.AppendTrace(trace)
			if err != nil {
				logger.Warn("analyst failed", "analyst", analyst.Name(), "error", err.Error())
				return nil
			}
			actx.AnalystReports[analyst.Name()] = report
			return nil
		})
	}
	_ = g.Wait()
}

// ArticleResult summarizes one article's trip through the unit pipeline.
type ArticleResult struct {
	Article     core.Article
	Units       []core.InformationUnit
	NewUnits    int
	MergedUnits int
}

// ProcessArticle runs the information-centric pipeline on one article:
// extract candidate units, deduplicate each against the store (exact
// fingerprint first, then semantic similarity), persist, then resolve
// entities. Candidates are handled sequentially so two candidates from the
// same article cannot race on the same stored unit.
func (o *Orchestrator) ProcessArticle(ctx context.Context, article core.Article, mode core.AnalysisMode) (*ArticleResult, error) {
	ctx = telemetry.WithSession(ctx, uuid.NewString())

	var reports map[string]*core.AnalystReport
	if mode == core.ModeDeep {
		actx := core.NewAnalysisContext(article, mode)
		if err := o.collector.Extract(ctx, actx); err == nil {
			o.runAnalystPanel(ctx, actx)
			reports = actx.AnalystReports
		}
	}

	candidates, _, err := o.extractor.Extract(ctx, article, reports)
	if err != nil {
		return nil, fmt.Errorf("failed to extract units from %s: %w", article.URL, err)
	}

	result := &ArticleResult{Article: article}
	for _, candidate := range candidates {
		unit, merged, err := o.resolveCandidate(ctx, candidate)
		if err != nil {
			logger.Error("failed to persist unit", "fingerprint", candidate.Fingerprint, "error", err.Error())
			continue
		}
		if merged {
			result.MergedUnits++
		} else {
			result.NewUnits++
		}
		o.processEntities(unit)
		result.Units = append(result.Units, *unit)
	}
	return result, nil
}

// resolveCandidate deduplicates one candidate unit and persists the outcome.
// Exact fingerprint match merges in place. Otherwise the semantic pass runs,
// and the candidate merges with every hit above the threshold, folded into the
// most similar existing unit (earliest created on ties), which keeps its
// identity. A miss persists the candidate as a novel unit.
func (o *Orchestrator) resolveCandidate(ctx context.Context, candidate core.InformationUnit) (*core.InformationUnit, bool, error) {
	now := time.Now().UTC()

	existing, err := o.units.GetByFingerprint(candidate.Fingerprint)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		merged := agents.MergeUnits(*existing, candidate, now)
		if err := o.units.Save(ctx, &merged); err != nil {
			return nil, false, err
		}
		return &merged, true, nil
	}

	similar, err := o.units.FindSimilar(ctx, &candidate, SemanticThreshold, SemanticTopK)
	if err != nil {
		logger.Warn("semantic dedup failed, treating unit as novel", "error", err.Error())
	}
	if len(similar) > 0 {
		merged := *similar[0].Unit
		for _, hit := range similar[1:] {
			merged = agents.MergeUnits(merged, *hit.Unit, now)
		}
		merged = agents.MergeUnits(merged, candidate, now)
		if err := o.units.Save(ctx, &merged); err != nil {
			return nil, false, err
		}
		return &merged, true, nil
	}

	if err := o.units.Save(ctx, &candidate); err != nil {
		return nil, false, err
	}
	return &candidate, false, nil
}

// processEntities resolves the unit's extracted entities into the knowledge
// graph. The unit is marked entity-processed regardless of outcome, including
// when it carries no entities at all, so the backfill sweep converges.
func (o *Orchestrator) processEntities(unit *core.InformationUnit) {
	if o.entities != nil && len(unit.ExtractedEntities) > 0 {
		eventTime := unit.ReportTime
		if eventTime.IsZero() {
			eventTime = unit.CreatedAt
		}
		if _, err := o.entities.ProcessExtracted(unit.ID, unit.ExtractedEntities, unit.ExtractedRelations, eventTime); err != nil {
			logger.Error("entity processing failed", "unit", unit.ID, "error", err.Error())
		}
	}
	if err := o.units.MarkEntityProcessed(unit.ID); err != nil {
		logger.Error("failed to mark unit entity-processed", "unit", unit.ID, "error", err.Error())
	}
}

// ProcessArticles runs the unit pipeline over many articles with bounded
// parallelism. One article's failure does not stop the batch.
func (o *Orchestrator) ProcessArticles(ctx context.Context, articles []core.Article, mode core.AnalysisMode) []ArticleResult {
	var mu sync.Mutex
	var results []ArticleResult

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for _, article := range articles {
		article := article
		g.Go(func() error {
			result, err := o.ProcessArticle(gctx, article, mode)
			if err != nil {
				logger.Error("article processing failed", "url", article.URL, "error", err.Error())
				return nil
			}
			mu.Lock()
			results = append(results, *result)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// BackfillEntities sweeps units whose entity processing is still pending and
// resolves them into the knowledge graph. Every swept unit is marked
// processed, so a unit without entities is not revisited forever.
func (o *Orchestrator) BackfillEntities(ctx context.Context, limit int) (int, error) {
	pending, err := o.units.GetPendingEntityUnits(limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending units: %w", err)
	}
	for i := range pending {
		select {
		case <-ctx.Done():
			return i, ctx.Err()
		default:
		}
		o.processEntities(&pending[i])
	}
	return len(pending), nil
}
