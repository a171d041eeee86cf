package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"infodigest/internal/core"
	"infodigest/internal/llm"
	"infodigest/internal/telemetry"
)

// Editor makes the final call on an article: the overall score, whether it is
// a top pick, and the reasoning readers see.
type Editor struct {
	llm Gateway
}

// NewEditor builds the editor agent.
func NewEditor(gateway Gateway) *Editor {
	return &Editor{llm: gateway}
}

const editorSystem = `You are the editor-in-chief of a daily tech and business digest. Given an article's summary, context, and any analyst reports, decide how valuable it is to a busy professional reader.
Return a JSON object:
  "overall_score": 1-10 where 10 is must-read,
  "is_top_pick": true if this belongs in today's top picks,
  "reasoning": 1-2 sentences a reader would see explaining the score,
  "tags": 3-6 short topical tags.`

// Finalize produces the enriched article from the accumulated analysis
// context. The editor's verdict is required; its failure fails the analysis.
func (e *Editor) Finalize(ctx context.Context, actx *core.AnalysisContext) (*core.EnrichedArticle, error) {
	start := time.Now().UTC()
	trace := core.AgentTrace{AgentName: "editor", InputSummary: actx.Article.Title}
	ctx = telemetry.WithAgent(ctx, "editor")

	var reports strings.Builder
	for name, r := range actx.AnalystReports {
		if r == nil {
			continue
		}
		fmt.Fprintf(&reports, "[%s] %s\n", name, r.Assessment)
	}
	if reports.Len() == 0 {
		reports.WriteString("(no analyst reports)")
	}

	user := fmt.Sprintf("Title: %s\nSource: %s\n\nSummary:\n%s\n\nHistorical context:\n%s\n\nAnalyst reports:\n%s",
		actx.Article.Title, actx.Article.Source, actx.Extracted.CoreSummary,
		actx.HistoricalContext, reports.String())

	raw, usage, err := e.llm.ChatJSON(ctx, llm.BuildMessages(editorSystem, user), llm.CallOptions{})
	if err != nil {
		finishTrace(&trace, start, usage, err)
		actx.AppendTrace(trace)
		return nil, fmt.Errorf("editorial decision failed: %w", err)
	}

	var verdict struct {
		OverallScore float64  `json:"overall_score"`
		IsTopPick    bool     `json:"is_top_pick"`
		Reasoning    string   `json:"reasoning"`
		Tags         []string `json:"tags"`
	}
	if raw != nil {
		_ = json.Unmarshal(raw, &verdict)
	}

	enriched := &core.EnrichedArticle{
		Article:           actx.Article,
		CoreSummary:       actx.Extracted.CoreSummary,
		Extracted:         actx.Extracted,
		HistoricalContext: actx.HistoricalContext,
		KnowledgeGraph:    actx.KnowledgeGraph,
		AnalystReports:    actx.AnalystReports,
		OverallScore:      core.NormalizeScore(verdict.OverallScore),
		IsTopPick:         verdict.IsTopPick,
		Reasoning:         verdict.Reasoning,
		Tags:              verdict.Tags,
		AnalyzedAt:        time.Now().UTC(),
	}
	if len(enriched.Tags) == 0 {
		enriched.Tags = actx.Extracted.Tags
	}

	trace.OutputSummary = fmt.Sprintf("score %.1f, top pick %v", enriched.OverallScore, enriched.IsTopPick)
	finishTrace(&trace, start, usage, nil)
	actx.AppendTrace(trace)
	enriched.Traces = actx.Traces
	return enriched, nil
}
