package core

import "time"

// AgentTrace records one agent's execution for audit.
type AgentTrace struct {
	AgentName     string     `json:"agent_name"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    time.Time  `json:"finished_at"`
	DurationMs    int64      `json:"duration_ms"`
	TokenUsage    TokenUsage `json:"token_usage"`
	InputSummary  string     `json:"input_summary"`
	OutputSummary string     `json:"output_summary"`
	Error         string     `json:"error,omitempty"`
}

// TokenUsage is the per-call or per-agent token accounting.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// Add accumulates another usage into this one.
func (t *TokenUsage) Add(other TokenUsage) {
	t.Prompt += other.Prompt
	t.Completion += other.Completion
	t.Total += other.Total
}

// SimpleEntity is the collector's lightweight entity sighting, prior to the
// knowledge-graph pipeline.
type SimpleEntity struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// TimelineEvent is one point on the collector's extracted timeline.
type TimelineEvent struct {
	Time       string `json:"time"`
	Event      string `json:"event"`
	Importance string `json:"importance"`
}

// FiveW1H is the structured summary the collector distills from an article.
type FiveW1H struct {
	Who         []string        `json:"who"`
	What        string          `json:"what"`
	When        string          `json:"when"`
	Where       string          `json:"where"`
	Why         string          `json:"why"`
	How         string          `json:"how"`
	CoreSummary string          `json:"core_summary"`
	Entities    []SimpleEntity  `json:"entities"`
	Timeline    []TimelineEvent `json:"timeline"`
	Tags        []string        `json:"tags"`
}

// KnowledgeGraphNode is one node of the librarian's inferred graph.
type KnowledgeGraphNode struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// KnowledgeGraphEdge is one inferred edge of the librarian's graph.
type KnowledgeGraphEdge struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Relation string `json:"relation"`
}

// KnowledgeGraph is the librarian's entity/relation sketch for one article.
type KnowledgeGraph struct {
	Nodes []KnowledgeGraphNode `json:"nodes"`
	Edges []KnowledgeGraphEdge `json:"edges"`
}

// RelatedArticle is one vector-index hit attached to the analysis context.
type RelatedArticle struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// AnalystReport is the fixed-schema output of one analyst.
type AnalystReport struct {
	Analyst    string   `json:"analyst"`
	Findings   []string `json:"findings"`
	Assessment string   `json:"assessment"`
	Confidence float64  `json:"confidence"`
	Raw        string   `json:"raw,omitempty"`
}

// AnalysisContext is the mutable state threaded through one article's
// analysis. It exists only for the duration of that analysis.
type AnalysisContext struct {
	Article           Article
	Mode              AnalysisMode
	CleanedContent    string
	Extracted         FiveW1H
	Entities          []SimpleEntity
	HistoricalContext string
	KnowledgeGraph    *KnowledgeGraph
	RelatedArticles   []RelatedArticle
	AnalystReports    map[string]*AnalystReport
	Traces            []AgentTrace
}

// NewAnalysisContext builds a fresh context for one article.
func NewAnalysisContext(article Article, mode AnalysisMode) *AnalysisContext {
	return &AnalysisContext{
		Article:        article,
		Mode:           mode,
		AnalystReports: make(map[string]*AnalystReport),
	}
}

// AppendTrace records an agent trace on the context.
func (c *AnalysisContext) AppendTrace(trace AgentTrace) {
	c.Traces = append(c.Traces, trace)
}

// EnrichedArticle is the legacy article-centric analysis result.
type EnrichedArticle struct {
	Article           Article                   `json:"article"`
	CoreSummary       string                    `json:"core_summary"`
	Extracted         FiveW1H                   `json:"extracted"`
	HistoricalContext string                    `json:"historical_context"`
	KnowledgeGraph    *KnowledgeGraph           `json:"knowledge_graph,omitempty"`
	AnalystReports    map[string]*AnalystReport `json:"analyst_reports,omitempty"`
	OverallScore      float64                   `json:"overall_score"`
	IsTopPick         bool                      `json:"is_top_pick"`
	Reasoning         string                    `json:"reasoning"`
	Tags              []string                  `json:"tags"`
	Traces            []AgentTrace              `json:"traces,omitempty"`
	AnalyzedAt        time.Time                 `json:"analyzed_at"`
}
