package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"infodigest/internal/core"
	"infodigest/internal/llm"
	"infodigest/internal/logger"
	"infodigest/internal/telemetry"
)

const (
	topPickThreshold  = 8.0
	quickReadFloor    = 5.0
	minTopPicks       = 3
	maxTopPicks       = 10
	maxQuickReads     = 20
	historyWindowSize = 20
	candidateWindow   = 25
)

// Selection is the curated content of one digest.
type Selection struct {
	TopPicks     []core.InformationUnit
	QuickReads   []core.InformationUnit
	DailySummary string
}

// Curator selects what goes into a digest and writes its opening summary.
// Selection is model-curated over the best-scored candidates with the recent
// history as an avoid list; a failed or unusable model response degrades to
// the deterministic threshold selection, and a failed summary degrades to a
// plain counted one.
type Curator struct {
	llm          Gateway
	topPickCount int
}

// NewCurator builds the curator. topPickCount is the fallback pick count when
// too few units clear the top-pick threshold.
func NewCurator(gateway Gateway, topPickCount int) *Curator {
	if topPickCount <= 0 {
		topPickCount = 5
	}
	return &Curator{llm: gateway, topPickCount: topPickCount}
}

// Curate selects top picks and quick reads from the unsent units and produces
// the daily summary. recentTitles are titles of recently sent units: the model
// is told to skip near-duplicates of them, and the summary is steered away
// from repeating earlier digests.
func (c *Curator) Curate(ctx context.Context, units []core.InformationUnit, recentTitles []string) (*Selection, error) {
	sorted := append([]core.InformationUnit{}, units...)
	core.SortUnitsByValue(sorted)

	selection := c.selectWithModel(ctx, sorted, recentTitles)
	if selection == nil {
		selection = c.selectByScore(sorted)
	}
	selection.DailySummary = c.writeDailySummary(ctx, selection, recentTitles)
	return selection, nil
}

// selectByScore is the deterministic selection: threshold picks plus
// quick reads by score band.
func (c *Curator) selectByScore(sorted []core.InformationUnit) *Selection {
	picks := c.selectTopPicks(sorted)
	picked := make(map[string]bool, len(picks))
	for _, u := range picks {
		picked[u.ID] = true
	}

	var quickReads []core.InformationUnit
	for _, u := range sorted {
		if picked[u.ID] || u.ValueScore() < quickReadFloor {
			continue
		}
		quickReads = append(quickReads, u)
		if len(quickReads) >= maxQuickReads {
			break
		}
	}
	return &Selection{TopPicks: picks, QuickReads: quickReads}
}

const selectionSystem = `You are the curator of a daily intelligence digest. From the candidate list, pick the highest-value items for a busy professional reader.
Rules:
- top_picks: the strongest items, at most the stated limit. quick_reads: worthwhile but lighter items, at most the stated limit.
- Keep only one item per underlying event; drop near-duplicates.
- Skip items that rehash anything in the recently covered list.
- Prefer covering distinct topic areas over stacking one theme.
Return a JSON object: {"top_picks": ["<id>", ...], "quick_reads": ["<id>", ...]} using only ids from the candidate list.`

// selectWithModel asks the model to curate the best-scored candidates. It
// returns nil when the call fails or the response references no usable ids,
// which sends selection down the deterministic path.
func (c *Curator) selectWithModel(ctx context.Context, sorted []core.InformationUnit, recentTitles []string) *Selection {
	ctx = telemetry.WithAgent(ctx, "curator")

	candidates := sorted
	if len(candidates) > candidateWindow {
		candidates = candidates[:candidateWindow]
	}
	if len(candidates) == 0 {
		return &Selection{}
	}
	byID := make(map[string]core.InformationUnit, len(candidates))

	type candidateEntry struct {
		ID         string   `json:"id"`
		Title      string   `json:"title"`
		Summary    string   `json:"summary,omitempty"`
		Root       string   `json:"topic,omitempty"`
		ValueScore float64  `json:"value_score"`
		Insights   []string `json:"key_insights,omitempty"`
	}
	entries := make([]candidateEntry, 0, len(candidates))
	for _, u := range candidates {
		byID[u.ID] = u
		entries = append(entries, candidateEntry{
			ID:         u.ID,
			Title:      u.Title,
			Summary:    clip(u.Summary, 300),
			Root:       primaryRoot(u),
			ValueScore: u.ValueScore(),
			Insights:   u.KeyInsights,
		})
	}
	listing, err := json.Marshal(entries)
	if err != nil {
		return nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Select at most %d top picks and %d quick reads.\n", maxTopPicks, maxQuickReads)
	if n := len(recentTitles); n > 0 {
		if n > historyWindowSize {
			recentTitles = recentTitles[:historyWindowSize]
		}
		sb.WriteString("\nRecently covered (skip near-duplicates):\n")
		for _, t := range recentTitles {
			fmt.Fprintf(&sb, "- %s\n", t)
		}
	}
	sb.WriteString("\nCandidates:\n")
	sb.Write(listing)

	raw, _, err := c.llm.ChatJSON(ctx, llm.BuildMessages(selectionSystem, sb.String()), llm.CallOptions{})
	if err != nil || raw == nil {
		if err != nil {
			logger.Warn("model curation failed, selecting by score", "error", err.Error())
		}
		return nil
	}
	var parsed struct {
		TopPicks   []string `json:"top_picks"`
		QuickReads []string `json:"quick_reads"`
	}
	if json.Unmarshal(raw, &parsed) != nil {
		return nil
	}

	sel := &Selection{}
	taken := make(map[string]bool)
	for _, id := range parsed.TopPicks {
		u, ok := byID[id]
		if !ok || taken[id] || len(sel.TopPicks) >= maxTopPicks {
			continue
		}
		taken[id] = true
		sel.TopPicks = append(sel.TopPicks, u)
	}
	for _, id := range parsed.QuickReads {
		u, ok := byID[id]
		if !ok || taken[id] || len(sel.QuickReads) >= maxQuickReads {
			continue
		}
		taken[id] = true
		sel.QuickReads = append(sel.QuickReads, u)
	}
	if len(sel.TopPicks) == 0 {
		return nil
	}
	return sel
}

// selectTopPicks takes the units clearing the top-pick threshold, bounded to
// [minTopPicks, maxTopPicks]; when too few clear it, the top units by score
// fill in. Among equal scores, a unit introducing a new root category is
// preferred so one story cannot monopolize the picks.
func (c *Curator) selectTopPicks(sorted []core.InformationUnit) []core.InformationUnit {
	var candidates []core.InformationUnit
	for _, u := range sorted {
		if u.ValueScore() >= topPickThreshold {
			candidates = append(candidates, u)
		}
	}
	if len(candidates) < minTopPicks {
		n := c.topPickCount
		if n > len(sorted) {
			n = len(sorted)
		}
		candidates = append([]core.InformationUnit{}, sorted[:n]...)
	}

	limit := maxTopPicks
	if len(candidates) <= limit {
		limit = len(candidates)
	}
	return diversify(candidates, limit)
}

// diversify picks up to limit units from the score-sorted candidates,
// preferring an unseen root category among units tied on score.
func diversify(sorted []core.InformationUnit, limit int) []core.InformationUnit {
	seen := make(map[string]bool)
	used := make([]bool, len(sorted))
	var out []core.InformationUnit

	for len(out) < limit {
		best := -1
		for i, u := range sorted {
			if used[i] {
				continue
			}
			if best < 0 {
				best = i
				continue
			}
			// Same score, different root coverage: prefer the new root.
			if u.ValueScore() == sorted[best].ValueScore() &&
				seen[primaryRoot(sorted[best])] && !seen[primaryRoot(u)] {
				best = i
			}
		}
		if best < 0 {
			break
		}
		used[best] = true
		seen[primaryRoot(sorted[best])] = true
		out = append(out, sorted[best])
	}
	return out
}

func primaryRoot(u core.InformationUnit) string {
	if len(u.EntityHierarchy) > 0 {
		return u.EntityHierarchy[0].L3Root
	}
	return ""
}

const curatorSystem = `You are the curator of a daily intelligence digest. Write a 3-5 sentence opening summary of today's selection for a busy professional reader: what the day's dominant themes are and which items matter most.
Avoid rehashing topics the reader was already told about in recent digests (listed below, if any).
Return a JSON object: {"daily_summary": "..."}.`

// writeDailySummary asks the model for the digest opener, falling back to a
// plain deterministic summary when the call or parse fails.
func (c *Curator) writeDailySummary(ctx context.Context, sel *Selection, recentTitles []string) string {
	ctx = telemetry.WithAgent(ctx, "curator")

	var sb strings.Builder
	sb.WriteString("Today's top picks:\n")
	for i, u := range sel.TopPicks {
		fmt.Fprintf(&sb, "%d. %s (%s)\n", i+1, u.Title, u.Summary)
	}
	if len(sel.QuickReads) > 0 {
		sb.WriteString("\nQuick reads:\n")
		for _, u := range sel.QuickReads {
			fmt.Fprintf(&sb, "- %s\n", u.Title)
		}
	}
	if n := len(recentTitles); n > 0 {
		if n > historyWindowSize {
			recentTitles = recentTitles[:historyWindowSize]
		}
		sb.WriteString("\nRecently covered (avoid repeating):\n")
		for _, t := range recentTitles {
			fmt.Fprintf(&sb, "- %s\n", t)
		}
	}

	raw, _, err := c.llm.ChatJSON(ctx, llm.BuildMessages(curatorSystem, sb.String()), llm.CallOptions{})
	if err == nil && raw != nil {
		var parsed struct {
			DailySummary string `json:"daily_summary"`
		}
		if json.Unmarshal(raw, &parsed) == nil && strings.TrimSpace(parsed.DailySummary) != "" {
			return parsed.DailySummary
		}
	}
	if err != nil {
		logger.Warn("daily summary generation failed, using fallback", "error", err.Error())
	}
	return c.fallbackSummary(sel)
}

func (c *Curator) fallbackSummary(sel *Selection) string {
	roots := make(map[string]bool)
	for _, u := range sel.TopPicks {
		if r := primaryRoot(u); r != "" {
			roots[r] = true
		}
	}
	summary := fmt.Sprintf("Today's digest covers %d top picks and %d quick reads",
		len(sel.TopPicks), len(sel.QuickReads))
	if len(roots) > 0 {
		summary += fmt.Sprintf(" across %d topic areas", len(roots))
	}
	return summary + "."
}
