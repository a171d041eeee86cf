// Package core contains the shared domain types used across the application.
package core

import "time"

// Article represents a single fetched article. The canonical URL is its
// identity: two articles with the same URL are the same article.
type Article struct {
	ID          string    `json:"id"`           // Deterministic ID derived from the URL
	URL         string    `json:"url"`          // Canonical link to the article
	Title       string    `json:"title"`        // Title from the feed entry
	Content     string    `json:"content"`      // Full content (feed-provided or extracted)
	Summary     string    `json:"summary"`      // Feed-provided summary or description
	Source      string    `json:"source"`       // Feed name the article came from
	Category    string    `json:"category"`     // Feed category
	Author      string    `json:"author"`       // Optional author
	PublishedAt time.Time `json:"published_at"` // Publish time normalized to UTC; zero when absent
	FetchedAt   time.Time `json:"fetched_at"`   // When the fetcher produced this article
}

// AnalyzedArticle is an Article enriched by the legacy article-centric path.
type AnalyzedArticle struct {
	Article
	Score      float64   `json:"score"`       // Overall score in [0,10]
	AISummary  string    `json:"ai_summary"`  // Editor-produced summary
	IsTopPick  bool      `json:"is_top_pick"` // Editor threshold decision
	Reasoning  string    `json:"reasoning"`   // Why the score was assigned
	Tags       []string  `json:"tags"`        // Macro-to-micro topic tags
	AnalyzedAt time.Time `json:"analyzed_at"` // When analysis completed
	SentAt     time.Time `json:"sent_at"`     // Zero until included in a digest
}

// Digest is the curated output delivered by the notifier.
type Digest struct {
	Date          time.Time         `json:"date"`
	TopPicks      []InformationUnit `json:"top_picks"`
	QuickReads    []InformationUnit `json:"quick_reads"`
	DailySummary  string            `json:"daily_summary"`
	TotalFetched  int               `json:"total_fetched"`
	TotalAnalyzed int               `json:"total_analyzed"`
	TotalFiltered int               `json:"total_filtered"`
}

// Feed describes one entry in the feed catalog.
type Feed struct {
	Name     string `json:"name" yaml:"name"`
	URL      string `json:"url" yaml:"url"`
	Category string `json:"category" yaml:"category"`
	Enabled  bool   `json:"enabled" yaml:"enabled"`
}

// AnalysisMode selects how many agents run over each article.
type AnalysisMode string

const (
	ModeQuick    AnalysisMode = "quick"    // Collector only
	ModeStandard AnalysisMode = "standard" // Collector + Librarian
	ModeDeep     AnalysisMode = "deep"     // Collector + Librarian + parallel analysts
)

// ParseAnalysisMode maps a CLI string to an AnalysisMode, defaulting to standard.
func ParseAnalysisMode(s string) AnalysisMode {
	switch AnalysisMode(s) {
	case ModeQuick, ModeStandard, ModeDeep:
		return AnalysisMode(s)
	default:
		return ModeStandard
	}
}
