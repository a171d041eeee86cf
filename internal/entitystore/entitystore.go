// Package entitystore maintains the three-tier entity knowledge graph:
// canonical entities, aliases, mentions, and typed relations.
package entitystore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"infodigest/internal/core"
)

// Store is the entity graph store. Alias resolution is idempotent; relation
// upserts rely on the (source, target, type) unique key rather than
// application-level locks.
type Store struct {
	db *sql.DB
}

// NewStore prepares the entity tables on an existing database handle.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		canonical_name TEXT NOT NULL COLLATE NOCASE,
		type TEXT NOT NULL,
		l3_root TEXT,
		l2_sector TEXT,
		attributes TEXT,
		mention_count INTEGER DEFAULT 0,
		first_mentioned TIMESTAMP,
		last_mentioned TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(canonical_name, type)
	);
	CREATE TABLE IF NOT EXISTS entity_aliases (
		alias TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL,
		is_primary BOOLEAN DEFAULT FALSE,
		FOREIGN KEY(entity_id) REFERENCES entities(id)
	);
	CREATE TABLE IF NOT EXISTS entity_mentions (
		entity_id TEXT NOT NULL,
		unit_id TEXT NOT NULL,
		role TEXT DEFAULT 'protagonist',
		sentiment TEXT DEFAULT 'neutral',
		state_dimension TEXT,
		state_delta TEXT,
		event_time TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (entity_id, unit_id),
		FOREIGN KEY(entity_id) REFERENCES entities(id)
	);
	CREATE TABLE IF NOT EXISTS entity_relations (
		source_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		relation_type TEXT NOT NULL,
		strength REAL DEFAULT 0.5,
		confidence REAL DEFAULT 0.5,
		evidence TEXT,
		valid_from TIMESTAMP,
		valid_to TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (source_id, target_id, relation_type),
		FOREIGN KEY(source_id) REFERENCES entities(id),
		FOREIGN KEY(target_id) REFERENCES entities(id)
	);
	CREATE INDEX IF NOT EXISTS idx_entities_name ON entities(canonical_name);
	CREATE INDEX IF NOT EXISTS idx_mentions_unit ON entity_mentions(unit_id);
	CREATE INDEX IF NOT EXISTS idx_mentions_event ON entity_mentions(event_time);
	CREATE INDEX IF NOT EXISTS idx_relations_source ON entity_relations(source_id);
	CREATE INDEX IF NOT EXISTS idx_relations_target ON entity_relations(target_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize entity schema: %w", err)
	}
	return nil
}

// ProcessExtracted resolves each extracted entity to a canonical id (creating
// on miss), records a mention per (entity, unit), and upserts the extracted
// relations. It returns the extracted-name to entity-id mapping. The whole
// batch runs in one transaction.
func (s *Store) ProcessExtracted(unitID string, entities []core.ExtractedEntity,
	relations []core.ExtractedRelation, eventTime time.Time) (map[string]string, error) {
	if eventTime.IsZero() {
		eventTime = time.Now().UTC()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	resolved := make(map[string]string, len(entities))
	for _, extracted := range entities {
		name := strings.TrimSpace(extracted.Name)
		if name == "" {
			continue
		}
		entityID, err := s.resolveOrCreate(tx, name, extracted.Aliases, core.ParseEntityType(extracted.Type), eventTime)
		if err != nil {
			return nil, err
		}
		resolved[name] = entityID
		if err := s.recordMention(tx, entityID, unitID, extracted, eventTime); err != nil {
			return nil, err
		}
	}

	for _, rel := range relations {
		sourceName := strings.TrimSpace(rel.Source)
		targetName := strings.TrimSpace(rel.Target)
		if sourceName == "" || targetName == "" {
			continue
		}
		sourceID, ok := resolved[sourceName]
		if !ok {
			sourceID, err = s.resolveOrCreate(tx, sourceName, nil, core.EntityCompany, eventTime)
			if err != nil {
				return nil, err
			}
			resolved[sourceName] = sourceID
		}
		targetID, ok := resolved[targetName]
		if !ok {
			targetID, err = s.resolveOrCreate(tx, targetName, nil, core.EntityCompany, eventTime)
			if err != nil {
				return nil, err
			}
			resolved[targetName] = targetID
		}
		if err := s.upsertRelation(tx, sourceID, targetID, rel, unitID, eventTime); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit entity batch: %w", err)
	}
	return resolved, nil
}

// resolveOrCreate looks the name up through the alias table and creates a new
// entity (registering name and aliases, first marked primary) on miss.
func (s *Store) resolveOrCreate(tx *sql.Tx, name string, aliases []string, entityType core.EntityType, eventTime time.Time) (string, error) {
	var entityID string
	err := tx.QueryRow("SELECT entity_id FROM entity_aliases WHERE alias = ?", core.NormalizeAlias(name)).Scan(&entityID)
	if err == nil {
		return entityID, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("failed to resolve alias: %w", err)
	}

	entityID = "ent_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	now := time.Now().UTC()
	_, err = tx.Exec(`
		INSERT INTO entities (id, canonical_name, type, mention_count, first_mentioned, last_mentioned, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?, ?, ?)
	`, entityID, name, string(entityType), eventTime, eventTime, now, now)
	if err != nil {
		// A concurrent writer may have created the same canonical name; fall
		// back to resolving it.
		var existing string
		lookupErr := tx.QueryRow("SELECT id FROM entities WHERE canonical_name = ? AND type = ?", name, string(entityType)).Scan(&existing)
		if lookupErr == nil {
			return existing, nil
		}
		return "", fmt.Errorf("failed to create entity: %w", err)
	}

	seen := map[string]bool{}
	for i, alias := range append([]string{name}, aliases...) {
		normalized := core.NormalizeAlias(alias)
		if normalized == "" || seen[normalized] {
			continue
		}
		seen[normalized] = true
		_, err := tx.Exec("INSERT OR IGNORE INTO entity_aliases (alias, entity_id, is_primary) VALUES (?, ?, ?)",
			normalized, entityID, i == 0)
		if err != nil {
			return "", fmt.Errorf("failed to register alias: %w", err)
		}
	}
	return entityID, nil
}

// recordMention writes the (entity, unit) mention, incrementing mention_count
// only on first sight of the pair and advancing last_mentioned monotonically.
func (s *Store) recordMention(tx *sql.Tx, entityID, unitID string, extracted core.ExtractedEntity, eventTime time.Time) error {
	var exists int
	err := tx.QueryRow("SELECT 1 FROM entity_mentions WHERE entity_id = ? AND unit_id = ?", entityID, unitID).Scan(&exists)
	isNew := err == sql.ErrNoRows
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to check mention: %w", err)
	}

	role := core.RoleProtagonist
	switch strings.ToLower(strings.TrimSpace(extracted.Role)) {
	case "supporting":
		role = core.RoleSupporting
	case "mentioned":
		role = core.RoleMentioned
	}
	var stateDimension, stateDelta string
	if extracted.StateChange != nil {
		stateDimension = string(core.ValidStateChangeType(extracted.StateChange.Dimension))
		stateDelta = extracted.StateChange.Delta
	}

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO entity_mentions
		(entity_id, unit_id, role, sentiment, state_dimension, state_delta, event_time, created_at)
		VALUES (?, ?, ?, 'neutral', ?, ?, ?, ?)
	`, entityID, unitID, string(role), stateDimension, stateDelta, eventTime, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record mention: %w", err)
	}

	if isNew {
		_, err = tx.Exec(`
			UPDATE entities SET
				mention_count = mention_count + 1,
				last_mentioned = MAX(COALESCE(last_mentioned, ?), ?),
				updated_at = ?
			WHERE id = ?
		`, eventTime, eventTime, time.Now().UTC(), entityID)
	} else {
		_, err = tx.Exec(`
			UPDATE entities SET
				last_mentioned = MAX(COALESCE(last_mentioned, ?), ?),
				updated_at = ?
			WHERE id = ?
		`, eventTime, eventTime, time.Now().UTC(), entityID)
	}
	if err != nil {
		return fmt.Errorf("failed to update mention stats: %w", err)
	}
	return nil
}

// upsertRelation writes the typed edge; on collision the evidence lists union
// and strength/confidence take the max of old and new.
func (s *Store) upsertRelation(tx *sql.Tx, sourceID, targetID string, rel core.ExtractedRelation, unitID string, eventTime time.Time) error {
	relationType := strings.ToLower(strings.TrimSpace(rel.Relation))
	if relationType == "" {
		return nil
	}
	now := time.Now().UTC()

	// The evidence union needs the stored list; the write itself is a single
	// upsert keyed on the edge's primary key.
	var existingEvidence sql.NullString
	err := tx.QueryRow(`
		SELECT evidence FROM entity_relations
		WHERE source_id = ? AND target_id = ? AND relation_type = ?
	`, sourceID, targetID, relationType).Scan(&existingEvidence)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to look up relation: %w", err)
	}
	var units []string
	if existingEvidence.Valid {
		_ = json.Unmarshal([]byte(existingEvidence.String), &units)
	}
	evidence := marshalStrings(unionStrings(units, []string{unitID}))

	_, err = tx.Exec(`
		INSERT INTO entity_relations
		(source_id, target_id, relation_type, strength, confidence, evidence, valid_from, created_at, updated_at)
		VALUES (?, ?, ?, 0.5, 0.5, ?, ?, ?, ?)
		ON CONFLICT(source_id, target_id, relation_type) DO UPDATE SET
			evidence = excluded.evidence,
			strength = MAX(strength, excluded.strength),
			confidence = MAX(confidence, excluded.confidence),
			updated_at = excluded.updated_at
	`, sourceID, targetID, relationType, evidence, eventTime, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert relation: %w", err)
	}
	return nil
}

// Resolve maps an alias (case-folded, trimmed) to its entity, or nil.
func (s *Store) Resolve(alias string) (*core.Entity, error) {
	var entityID string
	err := s.db.QueryRow("SELECT entity_id FROM entity_aliases WHERE alias = ?", core.NormalizeAlias(alias)).Scan(&entityID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve alias: %w", err)
	}
	return s.Get(entityID)
}

// Get loads one entity by id, or nil.
func (s *Store) Get(id string) (*core.Entity, error) {
	row := s.db.QueryRow(`
		SELECT id, canonical_name, type, l3_root, l2_sector, attributes,
			mention_count, first_mentioned, last_mentioned, created_at, updated_at
		FROM entities WHERE id = ?
	`, id)
	entity, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return entity, err
}

// GetHotEntities ranks entities by mention volume over the last `days` days
// and computes each one's trend against the prior equal-length window.
func (s *Store) GetHotEntities(days, limit int) ([]core.HotEntity, error) {
	if days <= 0 {
		days = 7
	}
	if limit <= 0 {
		limit = 10
	}
	now := time.Now().UTC()
	windowStart := now.AddDate(0, 0, -days)
	priorStart := windowStart.AddDate(0, 0, -days)

	rows, err := s.db.Query(`
		SELECT e.id, e.canonical_name, e.type, e.l3_root, e.l2_sector, e.attributes,
			e.mention_count, e.first_mentioned, e.last_mentioned, e.created_at, e.updated_at,
			COUNT(m.unit_id) AS window_mentions
		FROM entities e
		JOIN entity_mentions m ON m.entity_id = e.id
		WHERE m.event_time >= ?
		GROUP BY e.id
		ORDER BY window_mentions DESC, e.mention_count DESC
		LIMIT ?
	`, windowStart, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query hot entities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hot []core.HotEntity
	for rows.Next() {
		var h core.HotEntity
		var l3, l2, attrs sql.NullString
		var first, last, created, updated sql.NullTime
		if err := rows.Scan(&h.ID, &h.CanonicalName, &h.Type, &l3, &l2, &attrs,
			&h.MentionCount, &first, &last, &created, &updated, &h.WindowMentions); err != nil {
			return nil, fmt.Errorf("failed to scan hot entity: %w", err)
		}
		h.L3Root = l3.String
		h.L2Sector = l2.String
		if attrs.Valid && attrs.String != "" {
			_ = json.Unmarshal([]byte(attrs.String), &h.Attributes)
		}
		h.FirstMentioned = first.Time
		h.LastMentioned = last.Time
		h.CreatedAt = created.Time
		h.UpdatedAt = updated.Time
		hot = append(hot, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range hot {
		var prior int
		err := s.db.QueryRow(`
			SELECT COUNT(*) FROM entity_mentions
			WHERE entity_id = ? AND event_time >= ? AND event_time < ?
		`, hot[i].ID, priorStart, windowStart).Scan(&prior)
		if err != nil {
			return nil, fmt.Errorf("failed to count prior mentions: %w", err)
		}
		hot[i].PriorMentions = prior
		hot[i].Trend = classifyTrend(hot[i].WindowMentions, prior)
	}
	return hot, nil
}

// classifyTrend compares the current window against the prior one with a
// 20 percent band around stable.
func classifyTrend(current, prior int) core.EntityTrend {
	if prior == 0 {
		return core.TrendNew
	}
	ratio := float64(current) / float64(prior)
	switch {
	case ratio > 1.2:
		return core.TrendUp
	case ratio < 0.8:
		return core.TrendDown
	default:
		return core.TrendStable
	}
}

// GetEntityTimeline returns an entity's mentions in chronological order,
// optionally restricted to a time range and state dimensions.
func (s *Store) GetEntityTimeline(id string, start, end time.Time, dimensions []string, limit int) ([]core.EntityMention, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT entity_id, unit_id, role, sentiment, state_dimension, state_delta, event_time, created_at
		FROM entity_mentions WHERE entity_id = ?`
	args := []any{id}
	if !start.IsZero() {
		query += " AND event_time >= ?"
		args = append(args, start)
	}
	if !end.IsZero() {
		query += " AND event_time <= ?"
		args = append(args, end)
	}
	if len(dimensions) > 0 {
		query += " AND state_dimension IN (?" + strings.Repeat(",?", len(dimensions)-1) + ")"
		for _, d := range dimensions {
			args = append(args, d)
		}
	}
	query += " ORDER BY event_time ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entity timeline: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var mentions []core.EntityMention
	for rows.Next() {
		var m core.EntityMention
		var role, sentiment, dimension, delta sql.NullString
		var eventTime, createdAt sql.NullTime
		if err := rows.Scan(&m.EntityID, &m.UnitID, &role, &sentiment, &dimension, &delta, &eventTime, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan mention: %w", err)
		}
		m.Role = core.MentionRole(role.String)
		m.Sentiment = sentiment.String
		m.StateDimension = core.StateChangeType(dimension.String)
		m.StateDelta = delta.String
		m.EventTime = eventTime.Time
		m.CreatedAt = createdAt.Time
		mentions = append(mentions, m)
	}
	return mentions, rows.Err()
}

// GetEntityNetwork returns the BFS ego-network around an entity to the given
// depth.
func (s *Store) GetEntityNetwork(id string, depth int) (*core.EntityNetwork, error) {
	if depth <= 0 {
		depth = 1
	}
	network := &core.EntityNetwork{Center: id}
	visited := map[string]bool{id: true}
	frontier := []string{id}
	seenEdges := map[string]bool{}

	for level := 0; level < depth && len(frontier) > 0; level++ {
		var next []string
		for _, nodeID := range frontier {
			relations, err := s.relationsTouching(nodeID)
			if err != nil {
				return nil, err
			}
			for _, rel := range relations {
				edgeKey := rel.SourceID + "|" + rel.TargetID + "|" + string(rel.Type)
				if !seenEdges[edgeKey] {
					seenEdges[edgeKey] = true
					network.Relations = append(network.Relations, rel)
				}
				for _, neighbor := range []string{rel.SourceID, rel.TargetID} {
					if !visited[neighbor] {
						visited[neighbor] = true
						next = append(next, neighbor)
					}
				}
			}
		}
		frontier = next
	}

	for nodeID := range visited {
		entity, err := s.Get(nodeID)
		if err != nil {
			return nil, err
		}
		if entity != nil {
			network.Entities = append(network.Entities, *entity)
		}
	}
	return network, nil
}

func (s *Store) relationsTouching(entityID string) ([]core.EntityRelation, error) {
	rows, err := s.db.Query(`
		SELECT source_id, target_id, relation_type, strength, confidence, evidence,
			valid_from, valid_to, created_at, updated_at
		FROM entity_relations
		WHERE source_id = ? OR target_id = ?
	`, entityID, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query relations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var relations []core.EntityRelation
	for rows.Next() {
		var r core.EntityRelation
		var evidence sql.NullString
		var validFrom, validTo, created, updated sql.NullTime
		if err := rows.Scan(&r.SourceID, &r.TargetID, &r.Type, &r.Strength, &r.Confidence,
			&evidence, &validFrom, &validTo, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan relation: %w", err)
		}
		if evidence.Valid && evidence.String != "" {
			_ = json.Unmarshal([]byte(evidence.String), &r.Evidence)
		}
		r.ValidFrom = validFrom.Time
		r.ValidTo = validTo.Time
		r.CreatedAt = created.Time
		r.UpdatedAt = updated.Time
		relations = append(relations, r)
	}
	return relations, rows.Err()
}

// Counts returns entity/mention/relation totals.
func (s *Store) Counts() (entities, mentions, relations int, err error) {
	if err = s.db.QueryRow("SELECT COUNT(*) FROM entities").Scan(&entities); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to count entities: %w", err)
	}
	if err = s.db.QueryRow("SELECT COUNT(*) FROM entity_mentions").Scan(&mentions); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to count mentions: %w", err)
	}
	if err = s.db.QueryRow("SELECT COUNT(*) FROM entity_relations").Scan(&relations); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to count relations: %w", err)
	}
	return entities, mentions, relations, nil
}

func scanEntity(row *sql.Row) (*core.Entity, error) {
	var e core.Entity
	var l3, l2, attrs sql.NullString
	var first, last, created, updated sql.NullTime
	err := row.Scan(&e.ID, &e.CanonicalName, &e.Type, &l3, &l2, &attrs,
		&e.MentionCount, &first, &last, &created, &updated)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan entity: %w", err)
	}
	e.L3Root = l3.String
	e.L2Sector = l2.String
	if attrs.Valid && attrs.String != "" {
		_ = json.Unmarshal([]byte(attrs.String), &e.Attributes)
	}
	e.FirstMentioned = first.Time
	e.LastMentioned = last.Time
	e.CreatedAt = created.Time
	e.UpdatedAt = updated.Time
	return &e, nil
}

func marshalStrings(values []string) string {
	data, _ := json.Marshal(values)
	return string(data)
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, v := range append(a, b...) {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
