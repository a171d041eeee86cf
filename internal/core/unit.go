package core

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// UnitType classifies the kind of assertion an information unit carries.
type UnitType string

const (
	UnitFact    UnitType = "fact"
	UnitOpinion UnitType = "opinion"
	UnitEvent   UnitType = "event"
	UnitData    UnitType = "data"
)

// ParseUnitType maps a raw string to a UnitType, defaulting to fact.
func ParseUnitType(s string) UnitType {
	switch UnitType(strings.ToLower(strings.TrimSpace(s))) {
	case UnitFact, UnitOpinion, UnitEvent, UnitData:
		return UnitType(strings.ToLower(strings.TrimSpace(s)))
	default:
		return UnitFact
	}
}

// TimeSensitivity describes how quickly a unit loses value.
type TimeSensitivity string

const (
	SensitivityUrgent    TimeSensitivity = "urgent"
	SensitivityNormal    TimeSensitivity = "normal"
	SensitivityEvergreen TimeSensitivity = "evergreen"
)

// StateChangeType is the six-way HEX classification of the state transition a
// unit asserts. Empty means no classified transition.
type StateChangeType string

const (
	StateTech       StateChangeType = "TECH"
	StateCapital    StateChangeType = "CAPITAL"
	StateRegulation StateChangeType = "REGULATION"
	StateOrg        StateChangeType = "ORG"
	StateRisk       StateChangeType = "RISK"
	StateSentiment  StateChangeType = "SENTIMENT"
)

// ValidStateChangeType maps a raw string onto the HEX set; anything else
// collapses to the empty string.
func ValidStateChangeType(s string) StateChangeType {
	switch StateChangeType(strings.ToUpper(strings.TrimSpace(s))) {
	case StateTech, StateCapital, StateRegulation, StateOrg, StateRisk, StateSentiment:
		return StateChangeType(strings.ToUpper(strings.TrimSpace(s)))
	default:
		return ""
	}
}

// L3Other is the catch-all root category for entity anchors whose declared
// root is not in the configured preset list.
const L3Other = "Other"

// DefaultL3Roots is the preset list of root categories for the L3 tier of an
// entity anchor. Overridable through configuration.
var DefaultL3Roots = []string{
	"AI",
	"Semiconductors",
	"Consumer Electronics",
	"Cloud & Data Centers",
	"Software & Dev Tools",
	"Blockchain & Crypto",
	"Cybersecurity",
	"E-commerce & Retail",
	"Social Media",
	"Gaming & Entertainment",
	"Content & Streaming",
	"Finance & Banking",
	"Automotive & Mobility",
	"Energy & Environment",
	"Healthcare & Biotech",
	"Manufacturing & Industrials",
	"Macroeconomics",
	"Geopolitics",
}

// NormalizeL3Root validates a root category against the preset list. Exact
// match wins; otherwise a case-insensitive substring match in either direction
// is accepted; anything else maps to L3Other. An empty input stays empty.
func NormalizeL3Root(root string, presets []string) string {
	root = strings.TrimSpace(root)
	if root == "" {
		return ""
	}
	if len(presets) == 0 {
		presets = DefaultL3Roots
	}
	for _, p := range presets {
		if root == p {
			return p
		}
	}
	lower := strings.ToLower(root)
	for _, p := range presets {
		pl := strings.ToLower(p)
		if strings.Contains(pl, lower) || strings.Contains(lower, pl) {
			return p
		}
	}
	return L3Other
}

// EntityAnchor places a concrete entity (L1) inside a sector (L2) under one of
// the preset root categories (L3).
type EntityAnchor struct {
	L1Name     string  `json:"l1_name"`
	L1Role     string  `json:"l1_role"`
	L2Sector   string  `json:"l2_sector"`
	L3Root     string  `json:"l3_root"`
	Confidence float64 `json:"confidence"`
}

// SourceReference records one source article a unit was derived or merged
// from. Equality is by URL only.
type SourceReference struct {
	URL             string    `json:"url"`
	Title           string    `json:"title"`
	SourceName      string    `json:"source_name"`
	PublishedAt     time.Time `json:"published_at"`
	Excerpt         string    `json:"excerpt"`
	CredibilityTier string    `json:"credibility_tier"`
}

// InformationUnit is an atomic assertion extracted from an article. Its
// fingerprint is its identity: two units with the same fingerprint are the
// same unit and must be merged, never duplicated.
type InformationUnit struct {
	ID          string   `json:"id"`          // "iu_" + first 16 hex chars of the fingerprint
	Fingerprint string   `json:"fingerprint"` // md5 over normalized title + content
	Type        UnitType `json:"type"`
	Title       string   `json:"title"`
	Content     string   `json:"content"`
	Summary     string   `json:"summary"`

	EventTime       string          `json:"event_time"` // As reported; may be relative ("yesterday")
	ReportTime      time.Time       `json:"report_time"`
	TimeSensitivity TimeSensitivity `json:"time_sensitivity"`

	AnalysisContent    string   `json:"analysis_content"`
	KeyInsights        []string `json:"key_insights"`
	AnalysisDepthScore float64  `json:"analysis_depth_score"`

	InformationGain float64 `json:"information_gain"` // [1,10]
	Actionability   float64 `json:"actionability"`    // [1,10]
	Scarcity        float64 `json:"scarcity"`         // [1,10]
	ImpactMagnitude float64 `json:"impact_magnitude"` // [1,10]

	StateChangeType     StateChangeType `json:"state_change_type"`
	StateChangeSubtypes []string        `json:"state_change_subtypes"`
	EntityHierarchy     []EntityAnchor  `json:"entity_hierarchy"`

	Who   []string `json:"who"`
	What  string   `json:"what"`
	When  string   `json:"when"`
	Where string   `json:"where"`
	Why   string   `json:"why"`
	How   string   `json:"how"`

	Sources              []SourceReference `json:"sources"`
	PrimarySource        string            `json:"primary_source"`
	ExtractionConfidence float64           `json:"extraction_confidence"`
	CredibilityScore     float64           `json:"credibility_score"`
	ImportanceScore      float64           `json:"importance_score"`
	Sentiment            string            `json:"sentiment"`
	ImpactAssessment     string            `json:"impact_assessment"`

	RelatedUnitIDs []string `json:"related_unit_ids"`
	Entities       []string `json:"entities"`
	Tags           []string `json:"tags"`

	ExtractedEntities  []ExtractedEntity   `json:"extracted_entities"`
	ExtractedRelations []ExtractedRelation `json:"extracted_relations"`

	MergedCount     int       `json:"merged_count"` // Always |unique-by-URL sources|
	IsSent          bool      `json:"is_sent"`
	EntityProcessed bool      `json:"entity_processed"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Fingerprint computes the content fingerprint over a normalized title and
// content pair.
func Fingerprint(title, content string) string {
	normalized := strings.TrimSpace(title) + strings.TrimSpace(content)
	sum := md5.Sum([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// UnitIDFromFingerprint derives the unit id from a fingerprint.
func UnitIDFromFingerprint(fingerprint string) string {
	if len(fingerprint) < 16 {
		return "iu_" + fingerprint
	}
	return "iu_" + fingerprint[:16]
}

// NormalizeScore repairs a raw value score. Values in (0,1] are treated as a
// unit scale and rescaled by 10; the result is clamped to [1,10].
func NormalizeScore(raw float64) float64 {
	if raw > 0 && raw <= 1 {
		raw *= 10
	}
	if raw < 1 {
		return 1
	}
	if raw > 10 {
		return 10
	}
	return raw
}

// ValueScore is the weighted aggregate used for curation. It is derived, never
// stored.
func (u *InformationUnit) ValueScore() float64 {
	return 0.30*u.InformationGain + 0.25*u.Actionability + 0.20*u.Scarcity + 0.25*u.ImpactMagnitude
}

// DedupSources deduplicates the source list by URL, first occurrence wins, and
// resets MergedCount to the unique-source count.
func (u *InformationUnit) DedupSources() {
	seen := make(map[string]bool, len(u.Sources))
	out := u.Sources[:0]
	for _, s := range u.Sources {
		if s.URL == "" || seen[s.URL] {
			continue
		}
		seen[s.URL] = true
		out = append(out, s)
	}
	u.Sources = out
	u.MergedCount = len(u.Sources)
	if u.MergedCount < 1 {
		u.MergedCount = 1
	}
}

// SearchText is the text fed to the vector index for semantic dedup: title,
// summary, and up to three key insights.
func (u *InformationUnit) SearchText() string {
	parts := []string{u.Title, u.Summary}
	n := len(u.KeyInsights)
	if n > 3 {
		n = 3
	}
	parts = append(parts, u.KeyInsights[:n]...)
	return strings.TrimSpace(strings.Join(parts, " "))
}

// SortUnitsByValue orders units by descending value score, stable on input
// order for ties.
func SortUnitsByValue(units []InformationUnit) {
	sort.SliceStable(units, func(i, j int) bool {
		return units[i].ValueScore() > units[j].ValueScore()
	})
}
