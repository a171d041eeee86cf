package agents

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"infodigest/internal/core"
)

var extractorArticle = core.Article{
	ID:          "art_1",
	Title:       "Chipmaker raises guidance",
	URL:         "https://example.com/chips",
	Source:      "Tech Wire",
	Summary:     "Guidance raised on AI demand.",
	Content:     "Full article body about the guidance raise.",
	PublishedAt: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
}

const extractorResponse = `{
  "units": [
    {
      "type": "fact",
      "title": "Guidance raised 20 percent",
      "content": "The chipmaker raised full-year guidance by 20 percent.",
      "summary": "Guidance up 20 percent.",
      "time_sensitivity": "URGENT",
      "information_gain": 0.7,
      "actionability": 6,
      "scarcity": 14,
      "impact_magnitude": -3,
      "state_change_type": "capital",
      "entity_hierarchy": [
        {"l1_name": "Acme Semi", "l2_sector": "Semiconductors", "l3_root": "semiconductors news", "confidence": 0.9}
      ],
      "extraction_confidence": 1.7,
      "tags": ["chips", "earnings"],
      "entities": [
        {"name": "Acme Semi", "type": "COMPANY", "role": "protagonist",
         "state_change": {"dimension": "weather", "delta": "up"}},
        {"name": "Jane CEO", "type": "PERSON", "role": "supporting",
         "state_change": {"dimension": "sentiment", "delta": "up"}}
      ],
      "relations": [
        {"source": "Jane CEO", "target": "Acme Semi", "relation": "ceo_of", "evidence": "said CEO Jane"}
      ]
    },
    {
      "type": "opinion",
      "title": "",
      "content": "dropped because it has no title"
    },
    {
      "type": "event",
      "title": "dropped because it has no content",
      "content": "   "
    }
  ]
}`

func TestExtractorRepair(t *testing.T) {
	mock := &mockGateway{jsonResponse: json.RawMessage(extractorResponse)}
	ex := NewExtractor(mock, nil)

	units, trace, err := ex.Extract(context.Background(), extractorArticle, nil)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if trace.AgentName != "extractor" {
		t.Errorf("trace agent = %q", trace.AgentName)
	}
	if len(units) != 1 {
		t.Fatalf("got %d units, want 1 (titleless and contentless units dropped)", len(units))
	}
	u := units[0]

	wantFP := core.Fingerprint("Guidance raised 20 percent", "The chipmaker raised full-year guidance by 20 percent.")
	if u.Fingerprint != wantFP {
		t.Errorf("Fingerprint = %s, want %s", u.Fingerprint, wantFP)
	}
	if u.ID != core.UnitIDFromFingerprint(wantFP) {
		t.Errorf("ID = %s, not derived from fingerprint", u.ID)
	}

	// Score repair: unit-scale rescaled, out-of-range clamped.
	if u.InformationGain != 7.0 {
		t.Errorf("InformationGain = %v, want 7.0", u.InformationGain)
	}
	if u.Actionability != 6.0 {
		t.Errorf("Actionability = %v, want 6.0", u.Actionability)
	}
	if u.Scarcity != 10.0 {
		t.Errorf("Scarcity = %v, want clamp to 10", u.Scarcity)
	}
	if u.ImpactMagnitude != 1.0 {
		t.Errorf("ImpactMagnitude = %v, want clamp to 1", u.ImpactMagnitude)
	}
	if u.ExtractionConfidence != 1.0 {
		t.Errorf("ExtractionConfidence = %v, want clamp to 1", u.ExtractionConfidence)
	}

	if u.TimeSensitivity != core.SensitivityUrgent {
		t.Errorf("TimeSensitivity = %q, want urgent (case-folded)", u.TimeSensitivity)
	}
	if u.StateChangeType != core.StateCapital {
		t.Errorf("StateChangeType = %q, want CAPITAL", u.StateChangeType)
	}
	if len(u.EntityHierarchy) != 1 || u.EntityHierarchy[0].L3Root != "Semiconductors" {
		t.Errorf("EntityHierarchy = %+v, want l3_root normalized to Semiconductors", u.EntityHierarchy)
	}

	// Entity state changes: invalid dimension dropped, valid one upper-cased.
	if u.ExtractedEntities[0].StateChange != nil {
		t.Error("invalid state-change dimension must be dropped")
	}
	if sc := u.ExtractedEntities[1].StateChange; sc == nil || sc.Dimension != "SENTIMENT" {
		t.Errorf("valid state change = %+v, want dimension SENTIMENT", sc)
	}
	if len(u.Entities) != 2 || u.Entities[0] != "Acme Semi" {
		t.Errorf("Entities = %v", u.Entities)
	}

	// Source reference comes from the article.
	if len(u.Sources) != 1 {
		t.Fatalf("got %d sources, want 1", len(u.Sources))
	}
	src := u.Sources[0]
	if src.URL != extractorArticle.URL || src.SourceName != "Tech Wire" {
		t.Errorf("source = %+v", src)
	}
	if src.Excerpt != "Guidance raised on AI demand." {
		t.Errorf("Excerpt = %q, want the article summary", src.Excerpt)
	}
	if src.CredibilityTier != "unknown" {
		t.Errorf("CredibilityTier = %q, want unknown", src.CredibilityTier)
	}
	if !u.ReportTime.Equal(extractorArticle.PublishedAt) {
		t.Errorf("ReportTime = %v, want the publish time", u.ReportTime)
	}
	if u.MergedCount != 1 {
		t.Errorf("MergedCount = %d, want 1", u.MergedCount)
	}
}

func TestExtractorGatewayFailure(t *testing.T) {
	mock := &mockGateway{jsonErr: errors.New("model unavailable")}
	ex := NewExtractor(mock, nil)

	units, trace, err := ex.Extract(context.Background(), extractorArticle, nil)
	if err == nil {
		t.Fatal("Extract() should propagate a terminal gateway failure")
	}
	if units != nil {
		t.Errorf("got %d units on failure, want none", len(units))
	}
	if trace.Error == "" {
		t.Error("trace must record the failure")
	}
}

func TestExtractorUnparseableResponse(t *testing.T) {
	mock := &mockGateway{jsonResponse: nil} // recovery ladder found nothing
	ex := NewExtractor(mock, nil)

	units, _, err := ex.Extract(context.Background(), extractorArticle, nil)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(units) != 0 {
		t.Errorf("got %d units from an empty response, want 0", len(units))
	}
}

func TestExtractorFoldsConsultantNotes(t *testing.T) {
	mock := &mockGateway{jsonResponse: json.RawMessage(`{"units": []}`)}
	ex := NewExtractor(mock, nil)

	reports := map[string]*core.AnalystReport{
		"skeptic": {Analyst: "skeptic", Assessment: "The sourcing is thin."},
	}
	if _, _, err := ex.Extract(context.Background(), extractorArticle, reports); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	user := mock.lastMessages[len(mock.lastMessages)-1].Content
	if !strings.Contains(user, "Consultant notes") || !strings.Contains(user, "The sourcing is thin.") {
		t.Errorf("consultant notes not folded into the prompt:\n%s", user)
	}
}
