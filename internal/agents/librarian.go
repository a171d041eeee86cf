package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"infodigest/internal/core"
	"infodigest/internal/llm"
	"infodigest/internal/logger"
	"infodigest/internal/telemetry"
	"infodigest/internal/vectorindex"
)

// relatedTopK is how many prior articles the librarian retrieves for context.
const relatedTopK = 5

// Librarian connects the current article to what came before it: it retrieves
// related prior articles from the vector index, writes a historical-context
// note, and sketches a knowledge graph of the story.
type Librarian struct {
	llm   Gateway
	index vectorindex.Index
}

// NewLibrarian builds the librarian agent.
func NewLibrarian(gateway Gateway, index vectorindex.Index) *Librarian {
	return &Librarian{llm: gateway, index: index}
}

const librarianSystem = `You are a research librarian. Given an article summary and excerpts of related prior coverage, produce:
  "historical_context": 2-4 sentences placing this story in the context of prior coverage (or stating it appears to be new),
  "knowledge_graph": {"nodes": [{"id", "name", "type"}], "edges": [{"source", "target", "relation"}]} capturing the entities and relationships in the story.
Return a single JSON object with those two fields.`

// Contextualize retrieves related coverage and asks the model for historical
// context plus a knowledge graph. Retrieval failures degrade to an
// empty-context analysis rather than failing it.
func (l *Librarian) Contextualize(ctx context.Context, actx *core.AnalysisContext) error {
	start := time.Now().UTC()
	trace := core.AgentTrace{AgentName: "librarian", InputSummary: actx.Article.Title}
	ctx = telemetry.WithAgent(ctx, "librarian")

	query := l.buildQuery(actx)
	if l.index != nil {
		hits, err := l.index.Search(ctx, query, relatedTopK)
		if err != nil {
			logger.Warn("related-article search failed", "error", err.Error())
		}
		for _, hit := range hits {
			if hit.ID == actx.Article.ID {
				continue
			}
			actx.RelatedArticles = append(actx.RelatedArticles, core.RelatedArticle{
				ID:    hit.ID,
				Title: hit.Metadata["title"],
				Score: hit.Score,
			})
		}
	}

	var related strings.Builder
	for i, r := range actx.RelatedArticles {
		fmt.Fprintf(&related, "%d. %s (similarity %.2f)\n", i+1, r.Title, r.Score)
	}
	if related.Len() == 0 {
		related.WriteString("(no related prior coverage found)")
	}

	user := fmt.Sprintf("Article summary:\n%s\n\nRelated prior coverage:\n%s",
		actx.Extracted.CoreSummary, related.String())

	raw, usage, err := l.llm.ChatJSON(ctx, llm.BuildMessages(librarianSystem, user), llm.CallOptions{})
	if err == nil && raw != nil {
		var parsed struct {
			HistoricalContext string               `json:"historical_context"`
			KnowledgeGraph    *core.KnowledgeGraph `json:"knowledge_graph"`
		}
		if parseErr := json.Unmarshal(raw, &parsed); parseErr == nil {
			actx.HistoricalContext = parsed.HistoricalContext
			actx.KnowledgeGraph = parsed.KnowledgeGraph
		}
	}
	trace.OutputSummary = summarizeOutput(actx.HistoricalContext)
	finishTrace(&trace, start, usage, err)
	actx.AppendTrace(trace)
	return nil
}

// Remember indexes the analyzed article so future analyses can retrieve it.
func (l *Librarian) Remember(ctx context.Context, actx *core.AnalysisContext) error {
	if l.index == nil {
		return nil
	}
	meta := map[string]string{"title": actx.Article.Title, "url": actx.Article.URL}
	content := actx.Extracted.CoreSummary
	if content == "" {
		content = clip(actx.CleanedContent, 500)
	}
	return l.index.Add(ctx, actx.Article.ID, actx.Article.Title, content, meta)
}

// buildQuery forms the retrieval query: the title plus the first few entity
// names the collector spotted.
func (l *Librarian) buildQuery(actx *core.AnalysisContext) string {
	parts := []string{actx.Article.Title}
	for i, e := range actx.Entities {
		if i >= 5 {
			break
		}
		parts = append(parts, e.Name)
	}
	return strings.Join(parts, " ")
}
