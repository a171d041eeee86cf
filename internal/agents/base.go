// Package agents contains the specialized LLM agents of the analysis
// pipeline. Each agent owns one prompt and one output schema; orchestration
// order lives elsewhere.
package agents

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"infodigest/internal/core"
	"infodigest/internal/llm"
	"infodigest/internal/telemetry"
)

// Gateway is the slice of the LLM client the agents depend on. Tests swap in
// a mock.
type Gateway interface {
	Chat(ctx context.Context, messages []telemetry.Message, opts llm.CallOptions) (string, core.TokenUsage, error)
	ChatJSON(ctx context.Context, messages []telemetry.Message, opts llm.CallOptions) (json.RawMessage, core.TokenUsage, error)
}

// promptContentLimit caps how much article text goes into a prompt.
const promptContentLimit = 3000

// clip truncates text to at most max bytes on a rune boundary.
func clip(text string, max int) string {
	if len(text) <= max {
		return text
	}
	runes := []rune(text)
	for len(string(runes)) > max {
		runes = runes[:len(runes)-1]
	}
	return string(runes)
}

// finishTrace fills in the timing fields of a trace started at start.
func finishTrace(trace *core.AgentTrace, start time.Time, usage core.TokenUsage, err error) {
	trace.StartedAt = start
	trace.FinishedAt = time.Now().UTC()
	trace.DurationMs = trace.FinishedAt.Sub(start).Milliseconds()
	trace.TokenUsage = usage
	if err != nil {
		trace.Error = err.Error()
	}
}

// summarizeOutput produces a short trace summary of an agent's output.
func summarizeOutput(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return clip(s, 200)
}
