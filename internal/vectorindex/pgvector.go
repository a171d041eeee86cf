package vectorindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
)

// PgVectorIndex is the production backend on PostgreSQL with the pgvector
// extension. It stores the same hashed-feature embeddings but delegates the
// similarity ordering to the database's cosine operator.
type PgVectorIndex struct {
	db *sql.DB
}

// NewPgVectorIndex connects to PostgreSQL and prepares the items table.
func NewPgVectorIndex(dsn string) (*PgVectorIndex, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	p := &PgVectorIndex{db: db}
	if err := p.initialize(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

func (p *PgVectorIndex) initialize() error {
	schema := fmt.Sprintf(`
	CREATE EXTENSION IF NOT EXISTS vector;
	CREATE TABLE IF NOT EXISTS vector_items (
		id TEXT PRIMARY KEY,
		title TEXT,
		content TEXT,
		metadata JSONB,
		embedding vector(%d) NOT NULL,
		created_at TIMESTAMPTZ DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_vector_items_created ON vector_items(created_at);
	`, Dimensions)
	if _, err := p.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize pgvector schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (p *PgVectorIndex) Close() error {
	return p.db.Close()
}

// Add indexes (or reindexes) one item.
func (p *PgVectorIndex) Add(ctx context.Context, id, title, content string, metadata map[string]string) error {
	var metaJSON any
	if metadata != nil {
		data, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metaJSON = string(data)
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO vector_items (id, title, content, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5::vector)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			content = EXCLUDED.content,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding,
			created_at = NOW()
	`, id, title, content, metaJSON, formatVector(Embed(title+" "+content)))
	if err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}
	return nil
}

// Search returns the topK nearest items by cosine similarity.
func (p *PgVectorIndex) Search(ctx context.Context, query string, topK int) ([]Hit, error) {
	if topK <= 0 {
		topK = 5
	}
	vectorStr := formatVector(Embed(query))
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, metadata, 1 - (embedding <=> $1::vector) AS similarity
		FROM vector_items
		ORDER BY embedding <=> $1::vector
		LIMIT $2
	`, vectorStr, topK)
	if err != nil {
		return nil, fmt.Errorf("failed to search embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanHits(rows)
}

// Recent returns the most recently indexed ids, newest first.
func (p *PgVectorIndex) Recent(ctx context.Context, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = searchScanLimit
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, metadata, 0 FROM vector_items ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanHits(rows)
}

// Clear removes every indexed item.
func (p *PgVectorIndex) Clear(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, "DELETE FROM vector_items"); err != nil {
		return fmt.Errorf("failed to clear embeddings: %w", err)
	}
	return nil
}

func scanHits(rows *sql.Rows) ([]Hit, error) {
	var hits []Hit
	for rows.Next() {
		var hit Hit
		var metaJSON sql.NullString
		if err := rows.Scan(&hit.ID, &metaJSON, &hit.Score); err != nil {
			return nil, fmt.Errorf("failed to scan hit: %w", err)
		}
		if metaJSON.Valid && metaJSON.String != "" {
			_ = json.Unmarshal([]byte(metaJSON.String), &hit.Metadata)
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// formatVector renders an embedding in PostgreSQL vector literal syntax.
func formatVector(embedding []float64) string {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = fmt.Sprintf("%g", v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
