package core

import (
	"testing"
	"time"
)

func TestFingerprint(t *testing.T) {
	tests := []struct {
		name   string
		titleA string
		bodyA  string
		titleB string
		bodyB  string
		same   bool
	}{
		{
			name:   "identical inputs match",
			titleA: "OpenAI ships GPT-5", bodyA: "The model launched today.",
			titleB: "OpenAI ships GPT-5", bodyB: "The model launched today.",
			same: true,
		},
		{
			name:   "surrounding whitespace is normalized",
			titleA: "  OpenAI ships GPT-5  ", bodyA: "\tThe model launched today.\n",
			titleB: "OpenAI ships GPT-5", bodyB: "The model launched today.",
			same: true,
		},
		{
			name:   "different content differs",
			titleA: "OpenAI ships GPT-5", bodyA: "The model launched today.",
			titleB: "OpenAI ships GPT-5", bodyB: "The model launches tomorrow.",
			same: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Fingerprint(tt.titleA, tt.bodyA)
			b := Fingerprint(tt.titleB, tt.bodyB)
			if (a == b) != tt.same {
				t.Errorf("Fingerprint equality = %v, want %v (a=%s b=%s)", a == b, tt.same, a, b)
			}
			if len(a) != 32 {
				t.Errorf("Fingerprint length = %d, want 32", len(a))
			}
		})
	}
}

func TestUnitIDFromFingerprint(t *testing.T) {
	fp := Fingerprint("title", "content")
	id := UnitIDFromFingerprint(fp)
	if id != "iu_"+fp[:16] {
		t.Errorf("UnitIDFromFingerprint() = %s, want iu_%s", id, fp[:16])
	}
}

func TestNormalizeScore(t *testing.T) {
	tests := []struct {
		name string
		raw  float64
		want float64
	}{
		{"unit scale is rescaled", 0.85, 8.5},
		{"in-range value passes through", 7, 7.0},
		{"above range clamps to ten", 11.0, 10.0},
		{"negative clamps to one", -2, 1.0},
		{"zero clamps to one", 0, 1.0},
		{"exactly one rescales to ten", 1.0, 10.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeScore(tt.raw); got != tt.want {
				t.Errorf("NormalizeScore(%v) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNormalizeL3Root(t *testing.T) {
	tests := []struct {
		name string
		root string
		want string
	}{
		{"exact match", "AI", "AI"},
		{"case-insensitive substring", "cybersecurity news", "Cybersecurity"},
		{"input contained in preset", "Gaming", "Gaming & Entertainment"},
		{"unknown maps to other", "Quantum Basket Weaving", "Other"},
		{"empty stays empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeL3Root(tt.root, nil); got != tt.want {
				t.Errorf("NormalizeL3Root(%q) = %q, want %q", tt.root, got, tt.want)
			}
		})
	}
}

func TestValueScore(t *testing.T) {
	u := InformationUnit{
		InformationGain: 8,
		Actionability:   6,
		Scarcity:        4,
		ImpactMagnitude: 10,
	}
	// 0.30*8 + 0.25*6 + 0.20*4 + 0.25*10 = 7.2
	if got := u.ValueScore(); got != 7.2 {
		t.Errorf("ValueScore() = %v, want 7.2", got)
	}
}

func TestDedupSources(t *testing.T) {
	u := InformationUnit{
		Sources: []SourceReference{
			{URL: "https://a.example/1", Title: "first"},
			{URL: "https://b.example/2", Title: "second"},
			{URL: "https://a.example/1", Title: "duplicate of first"},
			{URL: "", Title: "empty url dropped"},
		},
		MergedCount: 99,
	}
	u.DedupSources()

	if len(u.Sources) != 2 {
		t.Fatalf("got %d sources, want 2", len(u.Sources))
	}
	if u.Sources[0].Title != "first" {
		t.Errorf("first occurrence should win, got %q", u.Sources[0].Title)
	}
	if u.MergedCount != 2 {
		t.Errorf("MergedCount = %d, want 2", u.MergedCount)
	}
}

func TestDedupSourcesEmptyKeepsCountOne(t *testing.T) {
	u := InformationUnit{}
	u.DedupSources()
	if u.MergedCount != 1 {
		t.Errorf("MergedCount = %d, want 1", u.MergedCount)
	}
}

func TestSortUnitsByValueStable(t *testing.T) {
	mk := func(id string, gain float64) InformationUnit {
		return InformationUnit{ID: id, InformationGain: gain, CreatedAt: time.Now()}
	}
	units := []InformationUnit{mk("low", 2), mk("high", 9), mk("tie-a", 5), mk("tie-b", 5)}
	SortUnitsByValue(units)

	if units[0].ID != "high" {
		t.Errorf("first = %s, want high", units[0].ID)
	}
	if units[1].ID != "tie-a" || units[2].ID != "tie-b" {
		t.Errorf("ties must keep input order, got %s then %s", units[1].ID, units[2].ID)
	}
	if units[3].ID != "low" {
		t.Errorf("last = %s, want low", units[3].ID)
	}
}

func TestValidStateChangeType(t *testing.T) {
	tests := []struct {
		in   string
		want StateChangeType
	}{
		{"TECH", StateTech},
		{"tech", StateTech},
		{" capital ", StateCapital},
		{"WEATHER", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ValidStateChangeType(tt.in); got != tt.want {
			t.Errorf("ValidStateChangeType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseEntityType(t *testing.T) {
	tests := []struct {
		in   string
		want EntityType
	}{
		{"PERSON", EntityPerson},
		{"person", EntityPerson},
		{"gadget", EntityCompany},
		{"", EntityCompany},
	}
	for _, tt := range tests {
		if got := ParseEntityType(tt.in); got != tt.want {
			t.Errorf("ParseEntityType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSearchText(t *testing.T) {
	u := InformationUnit{
		Title:       "Title here",
		Summary:     "Short summary.",
		KeyInsights: []string{"one", "two", "three", "four"},
	}
	got := u.SearchText()
	want := "Title here Short summary. one two three"
	if got != want {
		t.Errorf("SearchText() = %q, want %q", got, want)
	}
}
