package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"infodigest/internal/core"
	"infodigest/internal/llm"
	"infodigest/internal/telemetry"
)

// Analyst is one member of the deep-analysis panel. All analysts share a
// schema; they differ in persona and focus.
type Analyst struct {
	llm    Gateway
	name   string
	system string
}

// NewSkeptic questions the claims: sourcing, missing context, and what the
// article conveniently leaves out.
func NewSkeptic(gateway Gateway) *Analyst {
	return &Analyst{
		llm:  gateway,
		name: "skeptic",
		system: `You are a skeptical analyst. Examine the article for weak sourcing, unsupported claims, missing context, and motivated framing.
Return a JSON object: {"findings": ["..."], "assessment": "one-paragraph skeptical read", "confidence": 0.0-1.0}.`,
	}
}

// NewEconomist reads the story through markets, incentives, and capital flows.
func NewEconomist(gateway Gateway) *Analyst {
	return &Analyst{
		llm:  gateway,
		name: "economist",
		system: `You are an economic analyst. Examine the article for market impact, incentive structures, capital flows, and second-order economic effects.
Return a JSON object: {"findings": ["..."], "assessment": "one-paragraph economic read", "confidence": 0.0-1.0}.`,
	}
}

// NewDetective looks for the story behind the story: timing, actors, and
// connections to prior events.
func NewDetective(gateway Gateway) *Analyst {
	return &Analyst{
		llm:  gateway,
		name: "detective",
		system: `You are an investigative analyst. Examine the article for non-obvious connections, suspicious timing, who benefits, and links to prior events.
Return a JSON object: {"findings": ["..."], "assessment": "one-paragraph investigative read", "confidence": 0.0-1.0}.`,
	}
}

// Name identifies the analyst in reports and traces.
func (a *Analyst) Name() string { return a.name }

// Analyze produces this analyst's report on the article in the context. The
// report and the trace are returned rather than written to the context so the
// caller can run analysts in parallel and join safely.
func (a *Analyst) Analyze(ctx context.Context, actx *core.AnalysisContext) (*core.AnalystReport, core.AgentTrace, error) {
	start := time.Now().UTC()
	trace := core.AgentTrace{AgentName: a.name, InputSummary: actx.Article.Title}
	ctx = telemetry.WithAgent(ctx, a.name)

	user := fmt.Sprintf("Title: %s\n\nSummary:\n%s\n\nHistorical context:\n%s\n\nContent:\n%s",
		actx.Article.Title, actx.Extracted.CoreSummary, actx.HistoricalContext,
		clip(actx.CleanedContent, promptContentLimit))

	raw, usage, err := a.llm.ChatJSON(ctx, llm.BuildMessages(a.system, user), llm.CallOptions{})
	if err != nil {
		finishTrace(&trace, start, usage, err)
		return nil, trace, fmt.Errorf("%s analysis failed: %w", a.name, err)
	}

	report := &core.AnalystReport{Analyst: a.name}
	if raw != nil {
		if parseErr := json.Unmarshal(raw, report); parseErr != nil {
			report.Raw = string(raw)
		}
		report.Analyst = a.name
	}
	trace.OutputSummary = summarizeOutput(report.Assessment)
	finishTrace(&trace, start, usage, nil)
	return report, trace, nil
}
