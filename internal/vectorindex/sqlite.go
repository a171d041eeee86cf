package vectorindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// searchScanLimit bounds the cost of a scan-based search: only this many of
// the most recently indexed vectors are considered.
const searchScanLimit = 100

// SQLiteIndex is the reference backend. Embeddings are hashed-feature vectors
// stored alongside the text; search scans the most recent rows.
type SQLiteIndex struct {
	db *sql.DB
}

// NewSQLiteIndex creates the backend on an existing database handle, creating
// its table on first use.
func NewSQLiteIndex(db *sql.DB) (*SQLiteIndex, error) {
	schema := `
	CREATE TABLE IF NOT EXISTS vectors (
		id TEXT PRIMARY KEY,
		title TEXT,
		content TEXT,
		metadata TEXT,
		embedding TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_vectors_created ON vectors(created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize vector schema: %w", err)
	}
	return &SQLiteIndex{db: db}, nil
}

// Add indexes (or reindexes) one item.
func (s *SQLiteIndex) Add(ctx context.Context, id, title, content string, metadata map[string]string) error {
	embedding, err := json.Marshal(Embed(title + " " + content))
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}
	var metaJSON []byte
	if metadata != nil {
		metaJSON, err = json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO vectors (id, title, content, metadata, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, title, content, string(metaJSON), string(embedding), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to store vector: %w", err)
	}
	return nil
}

// Search embeds the query and returns the topK most similar of the most
// recently indexed items, descending by cosine similarity.
func (s *SQLiteIndex) Search(ctx context.Context, query string, topK int) ([]Hit, error) {
	if topK <= 0 {
		topK = 5
	}
	queryVec := Embed(query)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, metadata, embedding FROM vectors
		ORDER BY created_at DESC
		LIMIT ?
	`, searchScanLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to scan vectors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []Hit
	for rows.Next() {
		var id string
		var metaJSON sql.NullString
		var embJSON string
		if err := rows.Scan(&id, &metaJSON, &embJSON); err != nil {
			return nil, fmt.Errorf("failed to scan vector row: %w", err)
		}
		var embedding []float64
		if err := json.Unmarshal([]byte(embJSON), &embedding); err != nil {
			continue
		}
		hit := Hit{ID: id, Score: Cosine(queryVec, embedding)}
		if metaJSON.Valid && metaJSON.String != "" {
			_ = json.Unmarshal([]byte(metaJSON.String), &hit.Metadata)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Recent returns the most recently indexed ids, newest first.
func (s *SQLiteIndex) Recent(ctx context.Context, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = searchScanLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, metadata FROM vectors ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent vectors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []Hit
	for rows.Next() {
		var hit Hit
		var metaJSON sql.NullString
		if err := rows.Scan(&hit.ID, &metaJSON); err != nil {
			return nil, fmt.Errorf("failed to scan vector row: %w", err)
		}
		if metaJSON.Valid && metaJSON.String != "" {
			_ = json.Unmarshal([]byte(metaJSON.String), &hit.Metadata)
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// Clear removes every indexed vector.
func (s *SQLiteIndex) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM vectors"); err != nil {
		return fmt.Errorf("failed to clear vectors: %w", err)
	}
	return nil
}
