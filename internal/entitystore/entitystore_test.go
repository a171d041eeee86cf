package entitystore

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"infodigest/internal/core"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "entities.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	s, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return s
}

func TestProcessExtractedCreatesAndResolves(t *testing.T) {
	s := testStore(t)
	eventTime := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	entities := []core.ExtractedEntity{
		{Name: "Acme Semiconductor", Aliases: []string{"Acme Semi", "ACME"}, Type: "COMPANY", Role: "protagonist"},
	}
	resolved, err := s.ProcessExtracted("iu_1", entities, nil, eventTime)
	if err != nil {
		t.Fatalf("ProcessExtracted() error = %v", err)
	}
	id := resolved["Acme Semiconductor"]
	if id == "" {
		t.Fatal("entity not resolved")
	}

	// Every alias resolves to the same entity, case-insensitively.
	for _, alias := range []string{"acme semiconductor", "ACME SEMI", "acme"} {
		got, err := s.Resolve(alias)
		if err != nil {
			t.Fatalf("Resolve(%q) error = %v", alias, err)
		}
		if got == nil || got.ID != id {
			t.Errorf("Resolve(%q) = %+v, want entity %s", alias, got, id)
		}
	}

	entity, err := s.Get(id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if entity.CanonicalName != "Acme Semiconductor" {
		t.Errorf("CanonicalName = %q", entity.CanonicalName)
	}
	if entity.MentionCount != 1 {
		t.Errorf("MentionCount = %d, want 1", entity.MentionCount)
	}
	if !entity.LastMentioned.Equal(eventTime) {
		t.Errorf("LastMentioned = %v, want %v", entity.LastMentioned, eventTime)
	}
}

func TestProcessExtractedMentionIdempotent(t *testing.T) {
	s := testStore(t)
	eventTime := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	entities := []core.ExtractedEntity{{Name: "Acme", Type: "COMPANY"}}

	resolved, err := s.ProcessExtracted("iu_1", entities, nil, eventTime)
	if err != nil {
		t.Fatalf("ProcessExtracted() error = %v", err)
	}
	// Re-processing the same unit (a merge re-run) must not double-count.
	if _, err := s.ProcessExtracted("iu_1", entities, nil, eventTime); err != nil {
		t.Fatalf("ProcessExtracted() re-run error = %v", err)
	}

	entity, err := s.Get(resolved["Acme"])
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if entity.MentionCount != 1 {
		t.Errorf("MentionCount = %d after re-processing the same unit, want 1", entity.MentionCount)
	}

	// A different unit is a genuine second mention.
	if _, err := s.ProcessExtracted("iu_2", entities, nil, eventTime.Add(time.Hour)); err != nil {
		t.Fatalf("ProcessExtracted() second unit error = %v", err)
	}
	entity, _ = s.Get(resolved["Acme"])
	if entity.MentionCount != 2 {
		t.Errorf("MentionCount = %d, want 2", entity.MentionCount)
	}
}

func TestLastMentionedNeverMovesBackward(t *testing.T) {
	s := testStore(t)
	later := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	earlier := later.Add(-72 * time.Hour)
	entities := []core.ExtractedEntity{{Name: "Acme", Type: "COMPANY"}}

	resolved, err := s.ProcessExtracted("iu_1", entities, nil, later)
	if err != nil {
		t.Fatalf("ProcessExtracted() error = %v", err)
	}
	// An older article processed afterwards must not regress the timestamp.
	if _, err := s.ProcessExtracted("iu_2", entities, nil, earlier); err != nil {
		t.Fatalf("ProcessExtracted() error = %v", err)
	}
	entity, err := s.Get(resolved["Acme"])
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !entity.LastMentioned.Equal(later) {
		t.Errorf("LastMentioned = %v, want %v (monotonic)", entity.LastMentioned, later)
	}
}

func TestRelationUpsertUnionsEvidence(t *testing.T) {
	s := testStore(t)
	eventTime := time.Now().UTC()
	entities := []core.ExtractedEntity{
		{Name: "Jane CEO", Type: "PERSON"},
		{Name: "Acme", Type: "COMPANY"},
	}
	relations := []core.ExtractedRelation{
		{Source: "Jane CEO", Target: "Acme", Relation: "CEO_OF", Evidence: "said CEO Jane"},
	}

	resolved, err := s.ProcessExtracted("iu_1", entities, relations, eventTime)
	if err != nil {
		t.Fatalf("ProcessExtracted() error = %v", err)
	}
	if _, err := s.ProcessExtracted("iu_2", entities, relations, eventTime); err != nil {
		t.Fatalf("ProcessExtracted() second unit error = %v", err)
	}

	network, err := s.GetEntityNetwork(resolved["Jane CEO"], 1)
	if err != nil {
		t.Fatalf("GetEntityNetwork() error = %v", err)
	}
	if len(network.Relations) != 1 {
		t.Fatalf("got %d relations, want 1 (same typed edge upserted)", len(network.Relations))
	}
	rel := network.Relations[0]
	if string(rel.Type) != "ceo_of" {
		t.Errorf("relation type = %q, want lower-cased ceo_of", rel.Type)
	}
	if len(rel.Evidence) != 2 {
		t.Errorf("evidence = %v, want both unit ids", rel.Evidence)
	}

	_, _, relCount, err := s.Counts()
	if err != nil {
		t.Fatalf("Counts() error = %v", err)
	}
	if relCount != 1 {
		t.Errorf("relation count = %d, want 1", relCount)
	}
}

func TestRelationEndpointsCreatedOnMiss(t *testing.T) {
	s := testStore(t)
	relations := []core.ExtractedRelation{
		{Source: "Unseen Corp", Target: "Other Corp", Relation: "partner"},
	}
	resolved, err := s.ProcessExtracted("iu_1", nil, relations, time.Now().UTC())
	if err != nil {
		t.Fatalf("ProcessExtracted() error = %v", err)
	}
	if resolved["Unseen Corp"] == "" || resolved["Other Corp"] == "" {
		t.Fatalf("relation endpoints not created: %v", resolved)
	}
	entity, err := s.Get(resolved["Unseen Corp"])
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if entity.Type != core.EntityCompany {
		t.Errorf("implicit entity type = %q, want company default", entity.Type)
	}
}

func TestGetHotEntities(t *testing.T) {
	s := testStore(t)
	now := time.Now().UTC()

	hot := []core.ExtractedEntity{{Name: "Hot Corp", Type: "COMPANY"}}
	cold := []core.ExtractedEntity{{Name: "Cold Corp", Type: "COMPANY"}}

	// Hot Corp: three mentions this week, one the week before.
	for i, unit := range []string{"iu_a", "iu_b", "iu_c"} {
		if _, err := s.ProcessExtracted(unit, hot, nil, now.AddDate(0, 0, -i)); err != nil {
			t.Fatalf("ProcessExtracted() error = %v", err)
		}
	}
	if _, err := s.ProcessExtracted("iu_prior", hot, nil, now.AddDate(0, 0, -10)); err != nil {
		t.Fatalf("ProcessExtracted() error = %v", err)
	}
	// Cold Corp: mentions only outside the window.
	if _, err := s.ProcessExtracted("iu_old", cold, nil, now.AddDate(0, 0, -30)); err != nil {
		t.Fatalf("ProcessExtracted() error = %v", err)
	}

	ranked, err := s.GetHotEntities(7, 10)
	if err != nil {
		t.Fatalf("GetHotEntities() error = %v", err)
	}
	if len(ranked) != 1 {
		t.Fatalf("got %d hot entities, want 1 (window filter)", len(ranked))
	}
	h := ranked[0]
	if h.CanonicalName != "Hot Corp" || h.WindowMentions != 3 {
		t.Errorf("hot entity = %s with %d window mentions", h.CanonicalName, h.WindowMentions)
	}
	if h.PriorMentions != 1 {
		t.Errorf("PriorMentions = %d, want 1", h.PriorMentions)
	}
	if h.Trend != core.TrendUp {
		t.Errorf("Trend = %q, want up (3x prior)", h.Trend)
	}
}

func TestClassifyTrend(t *testing.T) {
	tests := []struct {
		name    string
		current int
		prior   int
		want    core.EntityTrend
	}{
		{"no prior mentions", 5, 0, core.TrendNew},
		{"clear growth", 5, 2, core.TrendUp},
		{"clear decline", 1, 5, core.TrendDown},
		{"flat", 5, 5, core.TrendStable},
		{"within upper band", 6, 5, core.TrendStable},
		{"within lower band", 4, 5, core.TrendStable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyTrend(tt.current, tt.prior); got != tt.want {
				t.Errorf("classifyTrend(%d, %d) = %q, want %q", tt.current, tt.prior, got, tt.want)
			}
		})
	}
}

func TestGetEntityTimeline(t *testing.T) {
	s := testStore(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	entity := func(dim string) []core.ExtractedEntity {
		e := core.ExtractedEntity{Name: "Acme", Type: "COMPANY"}
		if dim != "" {
			e.StateChange = &core.StateChange{Dimension: dim, Delta: "up"}
		}
		return []core.ExtractedEntity{e}
	}

	var id string
	for i, dim := range []string{"TECH", "CAPITAL", ""} {
		resolved, err := s.ProcessExtracted("iu_"+string(rune('a'+i)), entity(dim), nil, base.AddDate(0, 0, i))
		if err != nil {
			t.Fatalf("ProcessExtracted() error = %v", err)
		}
		id = resolved["Acme"]
	}

	all, err := s.GetEntityTimeline(id, time.Time{}, time.Time{}, nil, 10)
	if err != nil {
		t.Fatalf("GetEntityTimeline() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d mentions, want 3", len(all))
	}
	if !all[0].EventTime.Before(all[1].EventTime) {
		t.Error("timeline must be chronological")
	}

	filtered, err := s.GetEntityTimeline(id, time.Time{}, time.Time{}, []string{"CAPITAL"}, 10)
	if err != nil {
		t.Fatalf("GetEntityTimeline() filtered error = %v", err)
	}
	if len(filtered) != 1 || filtered[0].StateDimension != core.StateCapital {
		t.Errorf("filtered timeline = %+v, want one CAPITAL mention", filtered)
	}

	ranged, err := s.GetEntityTimeline(id, base.AddDate(0, 0, 1), base.AddDate(0, 0, 1), nil, 10)
	if err != nil {
		t.Fatalf("GetEntityTimeline() ranged error = %v", err)
	}
	if len(ranged) != 1 {
		t.Errorf("got %d mentions in one-day range, want 1", len(ranged))
	}
}

func TestGetEntityNetworkDepth(t *testing.T) {
	s := testStore(t)
	now := time.Now().UTC()

	// Chain: A -partner- B -partner- C.
	if _, err := s.ProcessExtracted("iu_1", nil, []core.ExtractedRelation{
		{Source: "A Corp", Target: "B Corp", Relation: "partner"},
	}, now); err != nil {
		t.Fatalf("ProcessExtracted() error = %v", err)
	}
	if _, err := s.ProcessExtracted("iu_2", nil, []core.ExtractedRelation{
		{Source: "B Corp", Target: "C Corp", Relation: "partner"},
	}, now); err != nil {
		t.Fatalf("ProcessExtracted() error = %v", err)
	}

	aCorp, err := s.Resolve("A Corp")
	if err != nil || aCorp == nil {
		t.Fatalf("Resolve(A Corp) = %v, %v", aCorp, err)
	}

	depth1, err := s.GetEntityNetwork(aCorp.ID, 1)
	if err != nil {
		t.Fatalf("GetEntityNetwork(depth 1) error = %v", err)
	}
	if len(depth1.Entities) != 2 || len(depth1.Relations) != 1 {
		t.Errorf("depth 1 = %d entities, %d relations; want 2 and 1",
			len(depth1.Entities), len(depth1.Relations))
	}

	depth2, err := s.GetEntityNetwork(aCorp.ID, 2)
	if err != nil {
		t.Fatalf("GetEntityNetwork(depth 2) error = %v", err)
	}
	if len(depth2.Entities) != 3 || len(depth2.Relations) != 2 {
		t.Errorf("depth 2 = %d entities, %d relations; want 3 and 2",
			len(depth2.Entities), len(depth2.Relations))
	}
	if depth2.Center != aCorp.ID {
		t.Errorf("Center = %s, want %s", depth2.Center, aCorp.ID)
	}
}
