package agents

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"infodigest/internal/core"
)

func TestCleanContent(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "markup stripped",
			input: "<p>Hello <b>world</b></p>",
			want:  "Hello world",
		},
		{
			name:  "boilerplate lines dropped",
			input: "Real sentence one.\nSubscribe to our newsletter today!\nReal sentence two.",
			want:  "Real sentence one. Real sentence two.",
		},
		{
			name:  "whitespace collapsed",
			input: "spaced    out\n\n\ntext",
			want:  "spaced out text",
		},
		{
			name:  "empty",
			input: "",
			want:  "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanContent(tt.input); got != tt.want {
				t.Errorf("CleanContent(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestCollectorExtract(t *testing.T) {
	response := `{
		"who": ["Acme Semi"],
		"what": "Acme raised guidance.",
		"core_summary": "Acme Semi raised its full-year guidance on AI demand.",
		"entities": [{"name": "Acme Semi", "type": "COMPANY", "description": "chipmaker"}],
		"tags": ["chips", "earnings"]
	}`
	mock := &mockGateway{jsonResponse: json.RawMessage(response)}
	collector := NewCollector(mock)

	actx := core.NewAnalysisContext(core.Article{
		Title:   "Chipmaker raises guidance",
		Content: "<p>Acme Semi raised guidance.</p>\nAdvertisement\nAI demand is surging.",
	}, core.ModeStandard)

	if err := collector.Extract(context.Background(), actx); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if strings.Contains(actx.CleanedContent, "Advertisement") {
		t.Errorf("CleanedContent still carries boilerplate: %q", actx.CleanedContent)
	}
	if actx.Extracted.What != "Acme raised guidance." {
		t.Errorf("Extracted.What = %q", actx.Extracted.What)
	}
	if len(actx.Entities) != 1 || actx.Entities[0].Name != "Acme Semi" {
		t.Errorf("Entities = %+v", actx.Entities)
	}
	if len(actx.Traces) != 1 || actx.Traces[0].AgentName != "collector" {
		t.Errorf("Traces = %+v", actx.Traces)
	}
	if actx.Traces[0].Error != "" {
		t.Errorf("trace error = %q, want none", actx.Traces[0].Error)
	}
}

func TestCollectorFallsBackOnGatewayFailure(t *testing.T) {
	mock := &mockGateway{jsonErr: errors.New("model unavailable")}
	collector := NewCollector(mock)

	actx := core.NewAnalysisContext(core.Article{
		Title:   "Headline",
		Content: "Body of the story.",
	}, core.ModeStandard)

	if err := collector.Extract(context.Background(), actx); err != nil {
		t.Fatalf("Extract() must not fail the analysis, got %v", err)
	}
	if actx.Extracted.What != "Headline" {
		t.Errorf("fallback What = %q, want the article title", actx.Extracted.What)
	}
	if actx.Extracted.CoreSummary != "Body of the story." {
		t.Errorf("fallback CoreSummary = %q", actx.Extracted.CoreSummary)
	}
	if len(actx.Traces) != 1 || actx.Traces[0].Error == "" {
		t.Error("fallback must record the failure on the trace")
	}
}
