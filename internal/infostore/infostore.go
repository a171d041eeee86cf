// Package infostore persists information units, content-addressed by
// fingerprint, and backs semantic dedup through the vector index.
package infostore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"infodigest/internal/core"
	"infodigest/internal/logger"
	"infodigest/internal/vectorindex"
)

// Store is the information-unit store. Saves are transactional: the unit row
// and its source references change together.
type Store struct {
	db    *sql.DB
	index vectorindex.Index
}

// NewStore prepares the information tables on an existing database handle.
// The vector index may be nil, which disables semantic dedup.
func NewStore(db *sql.DB, index vectorindex.Index) (*Store, error) {
	s := &Store{db: db, index: index}
	if err := s.initialize(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS information_units (
		id TEXT PRIMARY KEY,
		fingerprint TEXT UNIQUE NOT NULL,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		content TEXT,
		summary TEXT,
		event_time TEXT,
		report_time TIMESTAMP,
		time_sensitivity TEXT DEFAULT 'normal',
		analysis_content TEXT,
		key_insights TEXT,
		analysis_depth_score REAL DEFAULT 0,
		information_gain REAL DEFAULT 5.0,
		actionability REAL DEFAULT 5.0,
		scarcity REAL DEFAULT 5.0,
		impact_magnitude REAL DEFAULT 5.0,
		state_change_type TEXT,
		state_change_subtypes TEXT,
		entity_hierarchy TEXT,
		who TEXT,
		what TEXT,
		when_time TEXT,
		where_place TEXT,
		why TEXT,
		how TEXT,
		primary_source TEXT,
		extraction_confidence REAL,
		credibility_score REAL,
		importance_score REAL,
		sentiment TEXT,
		impact_assessment TEXT,
		related_unit_ids TEXT,
		entities TEXT,
		tags TEXT,
		extracted_entities TEXT,
		extracted_relations TEXT,
		merged_count INTEGER DEFAULT 1,
		is_sent BOOLEAN DEFAULT FALSE,
		entity_processed BOOLEAN DEFAULT FALSE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS source_references (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		unit_fingerprint TEXT NOT NULL,
		url TEXT NOT NULL,
		title TEXT,
		source_name TEXT,
		published_at TIMESTAMP,
		excerpt TEXT,
		credibility_tier TEXT,
		FOREIGN KEY(unit_fingerprint) REFERENCES information_units(fingerprint)
	);
	CREATE INDEX IF NOT EXISTS idx_info_fingerprint ON information_units(fingerprint);
	CREATE INDEX IF NOT EXISTS idx_info_created ON information_units(created_at);
	CREATE INDEX IF NOT EXISTS idx_info_event_time ON information_units(event_time);
	CREATE INDEX IF NOT EXISTS idx_info_is_sent ON information_units(is_sent);
	CREATE INDEX IF NOT EXISTS idx_info_value ON information_units(information_gain, actionability, scarcity, impact_magnitude);
	CREATE INDEX IF NOT EXISTS idx_source_unit ON source_references(unit_fingerprint);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize information schema: %w", err)
	}
	return nil
}

// Exists reports whether a unit with the fingerprint is stored.
func (s *Store) Exists(fingerprint string) (bool, error) {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM information_units WHERE fingerprint = ?", fingerprint).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check unit existence: %w", err)
	}
	return true, nil
}

// GetByFingerprint loads one unit by fingerprint, or nil.
func (s *Store) GetByFingerprint(fingerprint string) (*core.InformationUnit, error) {
	return s.getWhere("fingerprint = ?", fingerprint)
}

// Get loads one unit by id, or nil.
func (s *Store) Get(id string) (*core.InformationUnit, error) {
	return s.getWhere("id = ?", id)
}

func (s *Store) getWhere(where string, arg any) (*core.InformationUnit, error) {
	row := s.db.QueryRow(selectUnitColumns+" FROM information_units WHERE "+where, arg)
	unit, err := scanUnit(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadSources(unit); err != nil {
		return nil, err
	}
	return unit, nil
}

// Save upserts a unit by id in one transaction, replacing its source
// references, preserving created_at for existing rows, and refreshing
// updated_at. The vector index is updated afterwards.
func (s *Store) Save(ctx context.Context, unit *core.InformationUnit) error {
	unit.DedupSources()
	now := time.Now().UTC()
	unit.UpdatedAt = now

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var createdAt time.Time
	err = tx.QueryRow("SELECT created_at FROM information_units WHERE id = ?", unit.ID).Scan(&createdAt)
	switch {
	case err == sql.ErrNoRows:
		if unit.CreatedAt.IsZero() {
			unit.CreatedAt = now
		}
	case err != nil:
		return fmt.Errorf("failed to look up existing unit: %w", err)
	default:
		unit.CreatedAt = createdAt
	}

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO information_units
		(id, fingerprint, type, title, content, summary, event_time, report_time,
		 time_sensitivity, analysis_content, key_insights, analysis_depth_score,
		 information_gain, actionability, scarcity, impact_magnitude,
		 state_change_type, state_change_subtypes, entity_hierarchy,
		 who, what, when_time, where_place, why, how,
		 primary_source, extraction_confidence, credibility_score, importance_score,
		 sentiment, impact_assessment, related_unit_ids, entities, tags,
		 extracted_entities, extracted_relations,
		 merged_count, is_sent, entity_processed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
		        ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, unit.ID, unit.Fingerprint, string(unit.Type), unit.Title, unit.Content, unit.Summary,
		unit.EventTime, timeOrNil(unit.ReportTime), string(unit.TimeSensitivity),
		unit.AnalysisContent, marshalJSON(unit.KeyInsights), unit.AnalysisDepthScore,
		unit.InformationGain, unit.Actionability, unit.Scarcity, unit.ImpactMagnitude,
		string(unit.StateChangeType), marshalJSON(unit.StateChangeSubtypes), marshalJSON(unit.EntityHierarchy),
		marshalJSON(unit.Who), unit.What, unit.When, unit.Where, unit.Why, unit.How,
		unit.PrimarySource, unit.ExtractionConfidence, unit.CredibilityScore, unit.ImportanceScore,
		unit.Sentiment, unit.ImpactAssessment, marshalJSON(unit.RelatedUnitIDs),
		marshalJSON(unit.Entities), marshalJSON(unit.Tags),
		marshalJSON(unit.ExtractedEntities), marshalJSON(unit.ExtractedRelations),
		unit.MergedCount, unit.IsSent, unit.EntityProcessed, unit.CreatedAt, unit.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save unit: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM source_references WHERE unit_fingerprint = ?", unit.Fingerprint); err != nil {
		return fmt.Errorf("failed to clear source references: %w", err)
	}
	for _, src := range unit.Sources {
		_, err := tx.Exec(`
			INSERT INTO source_references (unit_fingerprint, url, title, source_name, published_at, excerpt, credibility_tier)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, unit.Fingerprint, src.URL, src.Title, src.SourceName, timeOrNil(src.PublishedAt), src.Excerpt, src.CredibilityTier)
		if err != nil {
			return fmt.Errorf("failed to save source reference: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit unit: %w", err)
	}

	if s.index != nil {
		if err := s.index.Add(ctx, unit.ID, unit.Title, unit.SearchText(), nil); err != nil {
			logger.Warn("vector index update failed", "unit_id", unit.ID, "error", err.Error())
		}
	}
	return nil
}

// SimilarUnit pairs a stored unit with its similarity to a query unit.
type SimilarUnit struct {
	Unit  *core.InformationUnit
	Score float64
}

// FindSimilar returns stored units with vector similarity >= threshold to the
// candidate, best first. Ties in score break toward the earliest created_at.
// The candidate itself is excluded.
func (s *Store) FindSimilar(ctx context.Context, unit *core.InformationUnit, threshold float64, topK int) ([]SimilarUnit, error) {
	if s.index == nil {
		return nil, nil
	}
	hits, err := s.index.Search(ctx, unit.SearchText(), topK+1)
	if err != nil {
		return nil, fmt.Errorf("failed to search vector index: %w", err)
	}
	var matches []SimilarUnit
	for _, hit := range hits {
		if hit.ID == unit.ID || hit.Score < threshold {
			continue
		}
		stored, err := s.Get(hit.ID)
		if err != nil {
			return nil, err
		}
		if stored == nil {
			continue
		}
		matches = append(matches, SimilarUnit{Unit: stored, Score: hit.Score})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Unit.CreatedAt.Before(matches[j].Unit.CreatedAt)
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// GetUnsent returns unsent units ordered by event time (falling back to
// created_at), newest first.
func (s *Store) GetUnsent(limit int) ([]core.InformationUnit, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(selectUnitColumns+`
		FROM information_units
		WHERE is_sent = FALSE
		ORDER BY COALESCE(NULLIF(event_time, ''), created_at) DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsent units: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var units []core.InformationUnit
	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		if err := s.loadSources(unit); err != nil {
			return nil, err
		}
		units = append(units, *unit)
	}
	return units, rows.Err()
}

// MarkSent atomically flags the given unit ids as sent.
func (s *Store) MarkSent(ids []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	now := time.Now().UTC()
	for _, id := range ids {
		if _, err := tx.Exec("UPDATE information_units SET is_sent = TRUE, updated_at = ? WHERE id = ?", now, id); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to mark unit sent: %w", err)
		}
	}
	return tx.Commit()
}

// GetRecentSentTitles returns the titles of the most recently sent units,
// newest first. The curator feeds these to the summary prompt so digests do
// not repeat themselves.
func (s *Store) GetRecentSentTitles(limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT title FROM information_units
		WHERE is_sent = TRUE
		ORDER BY updated_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sent titles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var titles []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan title: %w", err)
		}
		titles = append(titles, t)
	}
	return titles, rows.Err()
}

// GetPendingEntityUnits returns units not yet swept for entities, newest
// first.
func (s *Store) GetPendingEntityUnits(limit int) ([]core.InformationUnit, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(selectUnitColumns+`
		FROM information_units
		WHERE entity_processed = FALSE OR entity_processed IS NULL
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending units: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var units []core.InformationUnit
	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		if err := s.loadSources(unit); err != nil {
			return nil, err
		}
		units = append(units, *unit)
	}
	return units, rows.Err()
}

// MarkEntityProcessed flags a unit as swept for entities. It must be called
// even when the sweep produced nothing, or the backfill loop never drains.
func (s *Store) MarkEntityProcessed(id string) error {
	_, err := s.db.Exec("UPDATE information_units SET entity_processed = TRUE, updated_at = ? WHERE id = ?",
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark unit entity-processed: %w", err)
	}
	return nil
}

// Count returns the number of stored units.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM information_units").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count units: %w", err)
	}
	return n, nil
}

const selectUnitColumns = `SELECT id, fingerprint, type, title, content, summary, event_time, report_time,
	time_sensitivity, analysis_content, key_insights, analysis_depth_score,
	information_gain, actionability, scarcity, impact_magnitude,
	state_change_type, state_change_subtypes, entity_hierarchy,
	who, what, when_time, where_place, why, how,
	primary_source, extraction_confidence, credibility_score, importance_score,
	sentiment, impact_assessment, related_unit_ids, entities, tags,
	extracted_entities, extracted_relations,
	merged_count, is_sent, entity_processed, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUnit(row rowScanner) (*core.InformationUnit, error) {
	var u core.InformationUnit
	var unitType, sensitivity, stateType sql.NullString
	var content, summary, eventTime, analysisContent, keyInsights sql.NullString
	var subtypes, hierarchy, who, what, when, where, why, how sql.NullString
	var primarySource, sentiment, impact, relatedIDs, entities, tags sql.NullString
	var extractedEntities, extractedRelations sql.NullString
	var reportTime, createdAt, updatedAt sql.NullTime
	var depthScore, gain, actionability, scarcity, magnitude sql.NullFloat64
	var confidence, credibility, importance sql.NullFloat64

	err := row.Scan(&u.ID, &u.Fingerprint, &unitType, &u.Title, &content, &summary, &eventTime, &reportTime,
		&sensitivity, &analysisContent, &keyInsights, &depthScore,
		&gain, &actionability, &scarcity, &magnitude,
		&stateType, &subtypes, &hierarchy,
		&who, &what, &when, &where, &why, &how,
		&primarySource, &confidence, &credibility, &importance,
		&sentiment, &impact, &relatedIDs, &entities, &tags,
		&extractedEntities, &extractedRelations,
		&u.MergedCount, &u.IsSent, &u.EntityProcessed, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan unit row: %w", err)
	}

	u.Type = core.UnitType(unitType.String)
	u.Content = content.String
	u.Summary = summary.String
	u.EventTime = eventTime.String
	u.ReportTime = reportTime.Time
	u.TimeSensitivity = core.TimeSensitivity(sensitivity.String)
	u.AnalysisContent = analysisContent.String
	u.AnalysisDepthScore = depthScore.Float64
	u.InformationGain = gain.Float64
	u.Actionability = actionability.Float64
	u.Scarcity = scarcity.Float64
	u.ImpactMagnitude = magnitude.Float64
	u.StateChangeType = core.StateChangeType(stateType.String)
	u.What = what.String
	u.When = when.String
	u.Where = where.String
	u.Why = why.String
	u.How = how.String
	u.PrimarySource = primarySource.String
	u.ExtractionConfidence = confidence.Float64
	u.CredibilityScore = credibility.Float64
	u.ImportanceScore = importance.Float64
	u.Sentiment = sentiment.String
	u.ImpactAssessment = impact.String
	u.CreatedAt = createdAt.Time
	u.UpdatedAt = updatedAt.Time

	unmarshalJSON(keyInsights, &u.KeyInsights)
	unmarshalJSON(subtypes, &u.StateChangeSubtypes)
	unmarshalJSON(hierarchy, &u.EntityHierarchy)
	unmarshalJSON(who, &u.Who)
	unmarshalJSON(relatedIDs, &u.RelatedUnitIDs)
	unmarshalJSON(entities, &u.Entities)
	unmarshalJSON(tags, &u.Tags)
	unmarshalJSON(extractedEntities, &u.ExtractedEntities)
	unmarshalJSON(extractedRelations, &u.ExtractedRelations)
	return &u, nil
}

func (s *Store) loadSources(unit *core.InformationUnit) error {
	rows, err := s.db.Query(`
		SELECT url, title, source_name, published_at, excerpt, credibility_tier
		FROM source_references WHERE unit_fingerprint = ? ORDER BY id
	`, unit.Fingerprint)
	if err != nil {
		return fmt.Errorf("failed to load source references: %w", err)
	}
	defer func() { _ = rows.Close() }()

	unit.Sources = nil
	for rows.Next() {
		var src core.SourceReference
		var title, sourceName, excerpt, tier sql.NullString
		var publishedAt sql.NullTime
		if err := rows.Scan(&src.URL, &title, &sourceName, &publishedAt, &excerpt, &tier); err != nil {
			return fmt.Errorf("failed to scan source reference: %w", err)
		}
		src.Title = title.String
		src.SourceName = sourceName.String
		src.PublishedAt = publishedAt.Time
		src.Excerpt = excerpt.String
		src.CredibilityTier = tier.String
		unit.Sources = append(unit.Sources, src)
	}
	return rows.Err()
}

func marshalJSON(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(data)
}

func unmarshalJSON[T any](col sql.NullString, target *T) {
	if col.Valid && col.String != "" {
		_ = json.Unmarshal([]byte(col.String), target)
	}
}

func timeOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
