package agents

import (
	"strings"
	"time"

	"infodigest/internal/core"
)

// MergeUnits folds an incoming duplicate into an existing unit. The existing
// unit's identity (id, fingerprint, created_at) always survives; scores
// combine so that repetition raises confidence without inflating value:
// information gain and actionability take a scarcity-weighted average, while
// scarcity and impact take the max. Sources union by URL and the merged count
// is always the unique-source count.
func MergeUnits(existing, incoming core.InformationUnit, now time.Time) core.InformationUnit {
	merged := existing

	ws1, ws2 := existing.Scarcity, incoming.Scarcity
	if ws1+ws2 > 0 {
		merged.InformationGain = (existing.InformationGain*ws1 + incoming.InformationGain*ws2) / (ws1 + ws2)
		merged.Actionability = (existing.Actionability*ws1 + incoming.Actionability*ws2) / (ws1 + ws2)
	}
	merged.Scarcity = maxFloat(existing.Scarcity, incoming.Scarcity)
	merged.ImpactMagnitude = maxFloat(existing.ImpactMagnitude, incoming.ImpactMagnitude)

	merged.Content = mergeSentences(existing.Content, incoming.Content)
	merged.KeyInsights = unionPreserveOrder(existing.KeyInsights, incoming.KeyInsights)
	merged.Tags = unionPreserveOrder(existing.Tags, incoming.Tags)
	merged.Entities = unionPreserveOrder(existing.Entities, incoming.Entities)

	merged.Sources = append(append([]core.SourceReference{}, existing.Sources...), incoming.Sources...)
	merged.DedupSources()

	if merged.Summary == "" {
		merged.Summary = incoming.Summary
	}
	if merged.AnalysisContent == "" {
		merged.AnalysisContent = incoming.AnalysisContent
	}
	if merged.EventTime == "" {
		merged.EventTime = incoming.EventTime
	}
	if merged.ImpactAssessment == "" {
		merged.ImpactAssessment = incoming.ImpactAssessment
	}
	if merged.StateChangeType == "" {
		merged.StateChangeType = incoming.StateChangeType
	}
	if len(merged.EntityHierarchy) == 0 {
		merged.EntityHierarchy = incoming.EntityHierarchy
	}

	merged.ExtractedEntities = mergeExtractedEntities(existing.ExtractedEntities, incoming.ExtractedEntities)
	merged.ExtractedRelations = mergeExtractedRelations(existing.ExtractedRelations, incoming.ExtractedRelations)

	if incoming.ExtractionConfidence > merged.ExtractionConfidence {
		merged.ExtractionConfidence = incoming.ExtractionConfidence
	}

	merged.UpdatedAt = now
	return merged
}

// mergeSentences unions two texts at the sentence level, order-insensitive:
// the existing text's sentences keep their order and the incoming text
// contributes only sentences not already present.
func mergeSentences(a, b string) string {
	sentencesA := splitSentences(a)
	sentencesB := splitSentences(b)

	seen := make(map[string]bool, len(sentencesA))
	for _, s := range sentencesA {
		seen[sentenceKey(s)] = true
	}
	out := sentencesA
	for _, s := range sentencesB {
		if key := sentenceKey(s); !seen[key] {
			seen[key] = true
			out = append(out, s)
		}
	}
	return strings.Join(out, " ")
}

// splitSentences breaks text on terminal punctuation, keeping the punctuation
// with its sentence.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	for _, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '。' || r == '！' || r == '？' {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func sentenceKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func unionPreserveOrder(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, v := range append(append([]string{}, a...), b...) {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}

func mergeExtractedEntities(a, b []core.ExtractedEntity) []core.ExtractedEntity {
	seen := make(map[string]bool, len(a))
	out := append([]core.ExtractedEntity{}, a...)
	for _, e := range a {
		seen[core.NormalizeAlias(e.Name)] = true
	}
	for _, e := range b {
		if key := core.NormalizeAlias(e.Name); key != "" && !seen[key] {
			seen[key] = true
			out = append(out, e)
		}
	}
	return out
}

func mergeExtractedRelations(a, b []core.ExtractedRelation) []core.ExtractedRelation {
	key := func(r core.ExtractedRelation) string {
		return core.NormalizeAlias(r.Source) + "|" + core.NormalizeAlias(r.Target) + "|" + strings.ToLower(r.Relation)
	}
	seen := make(map[string]bool, len(a))
	out := append([]core.ExtractedRelation{}, a...)
	for _, r := range a {
		seen[key(r)] = true
	}
	for _, r := range b {
		if k := key(r); !seen[k] {
			seen[k] = true
			out = append(out, r)
		}
	}
	return out
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
