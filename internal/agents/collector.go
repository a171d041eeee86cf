package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"infodigest/internal/core"
	"infodigest/internal/llm"
	"infodigest/internal/logger"
	"infodigest/internal/telemetry"
)

// Collector cleans raw article text and distills it into a structured 5W1H
// summary with a first-pass entity list. It never fails an analysis: when the
// model call breaks down it falls back to a heuristic summary.
type Collector struct {
	llm Gateway
}

// NewCollector builds the collector agent.
func NewCollector(gateway Gateway) *Collector {
	return &Collector{llm: gateway}
}

var (
	htmlTagPattern    = regexp.MustCompile(`<[^>]+>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// boilerplatePatterns are line-level noise stripped before analysis.
var boilerplatePatterns = []string{
	"subscribe to our newsletter",
	"sign up for",
	"advertisement",
	"cookie policy",
	"all rights reserved",
	"read more:",
	"related articles",
	"share this article",
}

// CleanContent strips markup, collapses whitespace, and drops boilerplate
// lines from raw article text.
func CleanContent(raw string) string {
	text := htmlTagPattern.ReplaceAllString(raw, " ")
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		noise := false
		for _, p := range boilerplatePatterns {
			if strings.Contains(lower, p) {
				noise = true
				break
			}
		}
		if !noise {
			kept = append(kept, line)
		}
	}
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(strings.Join(kept, "\n"), " "))
}

const collectorSystem = `You are a news information collector. Given an article, extract a structured summary.
Return a JSON object with fields:
  "who": list of the people and organizations acting in the story,
  "what": one sentence stating what happened,
  "when": when it happened, as stated in the article,
  "where": where it happened,
  "why": why it happened or why it matters,
  "how": how it happened or was done,
  "core_summary": 2-3 sentence summary of the article,
  "entities": list of {"name", "type", "description"} for the notable entities,
  "timeline": list of {"time", "event", "importance"} for events the article mentions,
  "tags": 3-6 short topical tags.
Use empty strings or empty lists for anything the article does not state.`

// Extract runs the collector over the article in the context: clean, distill,
// record. The fallback path marks the trace with the error but still leaves a
// usable core summary behind.
func (c *Collector) Extract(ctx context.Context, actx *core.AnalysisContext) error {
	start := time.Now().UTC()
	trace := core.AgentTrace{AgentName: "collector", InputSummary: actx.Article.Title}
	ctx = telemetry.WithAgent(ctx, "collector")

	actx.CleanedContent = CleanContent(actx.Article.Content)

	user := fmt.Sprintf("Title: %s\nSource: %s\nPublished: %s\n\n%s",
		actx.Article.Title, actx.Article.Source, actx.Article.PublishedAt.Format("2006-01-02"),
		clip(actx.CleanedContent, promptContentLimit))

	raw, usage, err := c.llm.ChatJSON(ctx, llm.BuildMessages(collectorSystem, user), llm.CallOptions{})
	if err == nil && raw != nil {
		var extracted core.FiveW1H
		if parseErr := json.Unmarshal(raw, &extracted); parseErr == nil {
			actx.Extracted = extracted
			actx.Entities = extracted.Entities
			trace.OutputSummary = summarizeOutput(extracted.CoreSummary)
			finishTrace(&trace, start, usage, nil)
			actx.AppendTrace(trace)
			return nil
		}
	}

	// Fallback: the pipeline continues on a heuristic summary.
	if err != nil {
		logger.Warn("collector fell back to heuristic summary", "article", actx.Article.URL, "error", err.Error())
	}
	actx.Extracted = core.FiveW1H{
		What:        actx.Article.Title,
		CoreSummary: clip(actx.CleanedContent, 300),
	}
	trace.OutputSummary = "heuristic fallback"
	finishTrace(&trace, start, usage, err)
	actx.AppendTrace(trace)
	return nil
}
