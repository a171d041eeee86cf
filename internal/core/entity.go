package core

import (
	"strings"
	"time"
)

// EntityType classifies a canonical entity.
type EntityType string

const (
	EntityCompany  EntityType = "COMPANY"
	EntityPerson   EntityType = "PERSON"
	EntityProduct  EntityType = "PRODUCT"
	EntityOrg      EntityType = "ORG"
	EntityConcept  EntityType = "CONCEPT"
	EntityLocation EntityType = "LOCATION"
	EntityEvent    EntityType = "EVENT"
)

// ParseEntityType maps a raw string to an EntityType, defaulting to COMPANY.
func ParseEntityType(s string) EntityType {
	switch EntityType(strings.ToUpper(strings.TrimSpace(s))) {
	case EntityCompany, EntityPerson, EntityProduct, EntityOrg, EntityConcept, EntityLocation, EntityEvent:
		return EntityType(strings.ToUpper(strings.TrimSpace(s)))
	default:
		return EntityCompany
	}
}

// RelationType is the typed edge label between two entities.
type RelationType string

const (
	RelParentOf     RelationType = "parent_of"
	RelSubsidiaryOf RelationType = "subsidiary_of"
	RelCompetitor   RelationType = "competitor"
	RelPartner      RelationType = "partner"
	RelPeer         RelationType = "peer"
	RelSupplier     RelationType = "supplier"
	RelCustomer     RelationType = "customer"
	RelInvestor     RelationType = "investor"
	RelCEOOf        RelationType = "ceo_of"
	RelFounderOf    RelationType = "founder_of"
	RelEmployeeOf   RelationType = "employee_of"
)

// MentionRole describes how prominent an entity is within a unit.
type MentionRole string

const (
	RoleProtagonist MentionRole = "protagonist"
	RoleSupporting  MentionRole = "supporting"
	RoleMentioned   MentionRole = "mentioned"
)

// Entity is a canonical node in the knowledge graph.
type Entity struct {
	ID             string            `json:"id"`
	CanonicalName  string            `json:"canonical_name"`
	Type           EntityType        `json:"type"`
	L3Root         string            `json:"l3_root"`
	L2Sector       string            `json:"l2_sector"`
	Attributes     map[string]string `json:"attributes"`
	MentionCount   int               `json:"mention_count"`
	FirstMentioned time.Time         `json:"first_mentioned"`
	LastMentioned  time.Time         `json:"last_mentioned"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// EntityAlias maps an alias string onto a canonical entity. At most one alias
// per entity is primary.
type EntityAlias struct {
	Alias     string `json:"alias"`
	EntityID  string `json:"entity_id"`
	IsPrimary bool   `json:"is_primary"`
}

// NormalizeAlias case-folds and trims an alias for lookup.
func NormalizeAlias(alias string) string {
	return strings.ToLower(strings.TrimSpace(alias))
}

// EntityMention links an entity to the information unit that mentions it.
// Unique per (entity, unit); duplicates collapse by last write.
type EntityMention struct {
	EntityID       string          `json:"entity_id"`
	UnitID         string          `json:"unit_id"`
	Role           MentionRole     `json:"role"`
	Sentiment      string          `json:"sentiment"`
	StateDimension StateChangeType `json:"state_dimension"`
	StateDelta     string          `json:"state_delta"`
	EventTime      time.Time       `json:"event_time"`
	CreatedAt      time.Time       `json:"created_at"`
}

// EntityRelation is a typed edge between two entities. The triple
// (source, target, type) is unique; upserts union evidence and take the max of
// strength and confidence.
type EntityRelation struct {
	SourceID   string       `json:"source_id"`
	TargetID   string       `json:"target_id"`
	Type       RelationType `json:"type"`
	Strength   float64      `json:"strength"`   // [0,1]
	Confidence float64      `json:"confidence"` // [0,1]
	Evidence   []string     `json:"evidence"`   // Unit ids supporting the edge
	ValidFrom  time.Time    `json:"valid_from"`
	ValidTo    time.Time    `json:"valid_to"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// StateChange is an entity-level transition declared by the extractor.
type StateChange struct {
	Dimension string `json:"dimension"` // HEX dimension
	Delta     string `json:"delta"`     // What changed
}

// ExtractedEntity is the extractor's raw view of an entity before alias
// resolution.
type ExtractedEntity struct {
	Name        string       `json:"name"`
	Aliases     []string     `json:"aliases"`
	Type        string       `json:"type"`
	Role        string       `json:"role"`
	StateChange *StateChange `json:"state_change,omitempty"`
}

// ExtractedRelation is the extractor's raw view of a relation, by entity name.
type ExtractedRelation struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Relation string `json:"relation"`
	Evidence string `json:"evidence"`
}

// EntityTrend marks how an entity's mention volume moved between two windows.
type EntityTrend string

const (
	TrendUp     EntityTrend = "up"
	TrendDown   EntityTrend = "down"
	TrendStable EntityTrend = "stable"
	TrendNew    EntityTrend = "new"
)

// HotEntity is one row of the hot-entities ranking.
type HotEntity struct {
	Entity
	WindowMentions int         `json:"window_mentions"`
	PriorMentions  int         `json:"prior_mentions"`
	Trend          EntityTrend `json:"trend"`
}

// EntityNetwork is a BFS ego-network around one entity.
type EntityNetwork struct {
	Center    string           `json:"center"`
	Entities  []Entity         `json:"entities"`
	Relations []EntityRelation `json:"relations"`
}
