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

// extractorContentLimit is more generous than the analyst prompt cap: unit
// extraction degrades fast when the tail of an article is cut.
const extractorContentLimit = 6000

// Extractor turns an article into atomic information units: discrete,
// self-contained assertions with scores, entity anchors, and a content
// fingerprint that serves as the unit's identity.
type Extractor struct {
	llm     Gateway
	l3Roots []string
}

// NewExtractor builds the extractor. l3Roots overrides the preset root
// category list; nil keeps the defaults.
func NewExtractor(gateway Gateway, l3Roots []string) *Extractor {
	if len(l3Roots) == 0 {
		l3Roots = core.DefaultL3Roots
	}
	return &Extractor{llm: gateway, l3Roots: l3Roots}
}

const extractorSystemTemplate = `You are an information extraction specialist. Break the article into discrete information units. Each unit is one self-contained assertion (a fact, an opinion, an event, or a data point) that stands on its own without the article.

Return a JSON object: {"units": [ ... ]} where each unit has:
  "type": one of "fact", "opinion", "event", "data",
  "title": a one-line headline for the unit,
  "content": the full assertion, self-contained, 1-3 sentences,
  "summary": a one-sentence version,
  "event_time": when the asserted thing happened, as stated (may be relative),
  "time_sensitivity": "urgent", "normal", or "evergreen",
  "analysis_content": 2-4 sentences of analysis of why this matters,
  "key_insights": up to 3 short insight strings,
  "information_gain": 1-10, how much this adds over common knowledge,
  "actionability": 1-10, how directly a reader can act on it,
  "scarcity": 1-10, how hard this information is to find elsewhere,
  "impact_magnitude": 1-10, how large the consequences are,
  "state_change_type": one of TECH, CAPITAL, REGULATION, ORG, RISK, SENTIMENT, or "" if none,
  "state_change_subtypes": optional list of finer labels,
  "entity_hierarchy": [{"l1_name": entity, "l1_role": its role, "l2_sector": its sector, "l3_root": one of the root categories below, "confidence": 0-1}],
  "who", "what", "when", "where", "why", "how": the unit's own 5W1H (strings; "who" is a list),
  "sentiment": "positive", "negative", "neutral", or "mixed",
  "impact_assessment": one sentence on who is affected and how,
  "extraction_confidence": 0-1,
  "tags": 2-5 short tags,
  "entities": [{"name", "aliases", "type": COMPANY|PERSON|PRODUCT|ORG|CONCEPT|LOCATION|EVENT, "role": protagonist|supporting|mentioned, "state_change": {"dimension", "delta"} or null}],
  "relations": [{"source", "target", "relation": parent_of|subsidiary_of|competitor|partner|peer|supplier|customer|investor|ceo_of|founder_of|employee_of, "evidence": quote or paraphrase}]

Root categories for "l3_root": %s

Extract 1-5 units per article. Prefer fewer, denser units over many shallow ones.`

// rawUnit is the wire shape of one extracted unit before repair.
type rawUnit struct {
	Type                string                   `json:"type"`
	Title               string                   `json:"title"`
	Content             string                   `json:"content"`
	Summary             string                   `json:"summary"`
	EventTime           string                   `json:"event_time"`
	TimeSensitivity     string                   `json:"time_sensitivity"`
	AnalysisContent     string                   `json:"analysis_content"`
	KeyInsights         []string                 `json:"key_insights"`
	InformationGain     float64                  `json:"information_gain"`
	Actionability       float64                  `json:"actionability"`
	Scarcity            float64                  `json:"scarcity"`
	ImpactMagnitude     float64                  `json:"impact_magnitude"`
	StateChangeType     string                   `json:"state_change_type"`
	StateChangeSubtypes []string                 `json:"state_change_subtypes"`
	EntityHierarchy     []core.EntityAnchor      `json:"entity_hierarchy"`
	Who                 []string                 `json:"who"`
	What                string                   `json:"what"`
	When                string                   `json:"when"`
	Where               string                   `json:"where"`
	Why                 string                   `json:"why"`
	How                 string                   `json:"how"`
	Sentiment           string                   `json:"sentiment"`
	ImpactAssessment    string                   `json:"impact_assessment"`
	Confidence          float64                  `json:"extraction_confidence"`
	Tags                []string                 `json:"tags"`
	Entities            []core.ExtractedEntity   `json:"entities"`
	Relations           []core.ExtractedRelation `json:"relations"`
}

// Extract produces candidate units from one article. Consultant reports, when
// present, are folded into the prompt so deep-mode extraction benefits from
// the panel. Units missing a title or content are dropped; everything else is
// repaired rather than rejected.
func (e *Extractor) Extract(ctx context.Context, article core.Article, reports map[string]*core.AnalystReport) ([]core.InformationUnit, core.AgentTrace, error) {
	start := time.Now().UTC()
	trace := core.AgentTrace{AgentName: "extractor", InputSummary: article.Title}
	ctx = telemetry.WithAgent(ctx, "extractor")

	system := fmt.Sprintf(extractorSystemTemplate, strings.Join(e.l3Roots, ", "))

	var sb strings.Builder
	fmt.Fprintf(&sb, "Title: %s\nSource: %s\nPublished: %s\nURL: %s\n\n%s",
		article.Title, article.Source, article.PublishedAt.Format("2006-01-02"),
		article.URL, clip(CleanContent(article.Content), extractorContentLimit))
	if len(reports) > 0 {
		sb.WriteString("\n\nConsultant notes:\n")
		for name, r := range reports {
			if r != nil && r.Assessment != "" {
				fmt.Fprintf(&sb, "[%s] %s\n", name, r.Assessment)
			}
		}
	}

	raw, usage, err := e.llm.ChatJSON(ctx, llm.BuildMessages(system, sb.String()), llm.CallOptions{})
	if err != nil {
		finishTrace(&trace, start, usage, err)
		return nil, trace, fmt.Errorf("unit extraction failed: %w", err)
	}

	var parsed struct {
		Units []rawUnit `json:"units"`
	}
	if raw != nil {
		_ = json.Unmarshal(raw, &parsed)
	}

	units := make([]core.InformationUnit, 0, len(parsed.Units))
	for _, r := range parsed.Units {
		if strings.TrimSpace(r.Title) == "" || strings.TrimSpace(r.Content) == "" {
			continue
		}
		units = append(units, e.repair(r, article))
	}

	trace.OutputSummary = fmt.Sprintf("%d units", len(units))
	finishTrace(&trace, start, usage, nil)
	return units, trace, nil
}

// repair converts a raw unit into a valid InformationUnit: scores normalized,
// enumerations validated, identity derived, and the source reference attached.
func (e *Extractor) repair(r rawUnit, article core.Article) core.InformationUnit {
	now := time.Now().UTC()
	fingerprint := core.Fingerprint(r.Title, r.Content)

	sensitivity := core.SensitivityNormal
	switch core.TimeSensitivity(strings.ToLower(strings.TrimSpace(r.TimeSensitivity))) {
	case core.SensitivityUrgent:
		sensitivity = core.SensitivityUrgent
	case core.SensitivityEvergreen:
		sensitivity = core.SensitivityEvergreen
	}

	hierarchy := make([]core.EntityAnchor, 0, len(r.EntityHierarchy))
	for _, anchor := range r.EntityHierarchy {
		anchor.L3Root = core.NormalizeL3Root(anchor.L3Root, e.l3Roots)
		hierarchy = append(hierarchy, anchor)
	}

	for i := range r.Entities {
		if r.Entities[i].StateChange != nil {
			dim := core.ValidStateChangeType(r.Entities[i].StateChange.Dimension)
			if dim == "" {
				r.Entities[i].StateChange = nil
			} else {
				r.Entities[i].StateChange.Dimension = string(dim)
			}
		}
	}

	excerpt := article.Summary
	if excerpt == "" {
		excerpt = CleanContent(article.Content)
	}

	reportTime := article.PublishedAt
	if reportTime.IsZero() {
		reportTime = now
	}

	entityNames := make([]string, 0, len(r.Entities))
	for _, ent := range r.Entities {
		if ent.Name != "" {
			entityNames = append(entityNames, ent.Name)
		}
	}

	return core.InformationUnit{
		ID:          core.UnitIDFromFingerprint(fingerprint),
		Fingerprint: fingerprint,
		Type:        core.ParseUnitType(r.Type),
		Title:       strings.TrimSpace(r.Title),
		Content:     strings.TrimSpace(r.Content),
		Summary:     strings.TrimSpace(r.Summary),

		EventTime:       r.EventTime,
		ReportTime:      reportTime,
		TimeSensitivity: sensitivity,

		AnalysisContent: r.AnalysisContent,
		KeyInsights:     r.KeyInsights,

		InformationGain: core.NormalizeScore(r.InformationGain),
		Actionability:   core.NormalizeScore(r.Actionability),
		Scarcity:        core.NormalizeScore(r.Scarcity),
		ImpactMagnitude: core.NormalizeScore(r.ImpactMagnitude),

		StateChangeType:     core.ValidStateChangeType(r.StateChangeType),
		StateChangeSubtypes: r.StateChangeSubtypes,
		EntityHierarchy:     hierarchy,

		Who:   r.Who,
		What:  r.What,
		When:  r.When,
		Where: r.Where,
		Why:   r.Why,
		How:   r.How,

		Sources: []core.SourceReference{{
			URL:             article.URL,
			Title:           article.Title,
			SourceName:      article.Source,
			PublishedAt:     article.PublishedAt,
			Excerpt:         clip(excerpt, 200),
			CredibilityTier: "unknown",
		}},
		PrimarySource:        article.URL,
		ExtractionConfidence: clamp01(r.Confidence),
		Sentiment:            r.Sentiment,
		ImpactAssessment:     r.ImpactAssessment,

		Entities: entityNames,
		Tags:     r.Tags,

		ExtractedEntities:  r.Entities,
		ExtractedRelations: r.Relations,

		MergedCount: 1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
