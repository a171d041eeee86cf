// Package store provides URL-keyed article persistence on SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"infodigest/internal/core"
	"infodigest/internal/logger"
)

// Store is the durable article store. Upserts are idempotent keyed on URL.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the article database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying handle so sibling stores can share one database
// file.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS articles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT UNIQUE NOT NULL,
		title TEXT NOT NULL,
		content TEXT,
		summary TEXT,
		source TEXT,
		category TEXT,
		author TEXT,
		published_at TIMESTAMP,
		fetched_at TIMESTAMP,
		score REAL DEFAULT 0,
		ai_summary TEXT,
		is_top_pick BOOLEAN DEFAULT FALSE,
		reasoning TEXT,
		tags TEXT,
		analyzed_at TIMESTAMP,
		sent_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_articles_url ON articles(url);
	CREATE INDEX IF NOT EXISTS idx_articles_fetched_at ON articles(fetched_at);
	CREATE INDEX IF NOT EXISTS idx_articles_sent_at ON articles(sent_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize article schema: %w", err)
	}
	return nil
}

// Exists reports whether an article with the URL has been stored.
func (s *Store) Exists(url string) (bool, error) {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM articles WHERE url = ?", url).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check article existence: %w", err)
	}
	return true, nil
}

// Upsert stores an article keyed on URL. Existing analysis columns are
// preserved; only the fetch-level columns are replaced.
func (s *Store) Upsert(article core.Article) error {
	_, err := s.db.Exec(`
		INSERT INTO articles (url, title, content, summary, source, category, author, published_at, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			summary = excluded.summary,
			source = excluded.source,
			category = excluded.category,
			author = excluded.author,
			published_at = excluded.published_at,
			fetched_at = excluded.fetched_at
	`, article.URL, article.Title, article.Content, article.Summary, article.Source,
		article.Category, article.Author, timeOrNil(article.PublishedAt), timeOrNil(article.FetchedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert article: %w", err)
	}
	return nil
}

// SaveAnalyzed stores an article together with its analysis enrichment.
func (s *Store) SaveAnalyzed(article core.AnalyzedArticle) error {
	tagsJSON, err := json.Marshal(article.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO articles (url, title, content, summary, source, category, author,
			published_at, fetched_at, score, ai_summary, is_top_pick, reasoning, tags, analyzed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			score = excluded.score,
			ai_summary = excluded.ai_summary,
			is_top_pick = excluded.is_top_pick,
			reasoning = excluded.reasoning,
			tags = excluded.tags,
			analyzed_at = excluded.analyzed_at
	`, article.URL, article.Title, article.Content, article.Summary, article.Source,
		article.Category, article.Author, timeOrNil(article.PublishedAt), timeOrNil(article.FetchedAt),
		article.Score, article.AISummary, article.IsTopPick, article.Reasoning, string(tagsJSON),
		timeOrNil(article.AnalyzedAt))
	if err != nil {
		return fmt.Errorf("failed to save analyzed article: %w", err)
	}
	return nil
}

// GetUnsent returns analyzed, not-yet-sent articles ordered by score then
// recency.
func (s *Store) GetUnsent(limit int) ([]core.AnalyzedArticle, error) {
	rows, err := s.db.Query(`
		SELECT url, title, content, summary, source, category, author,
			published_at, fetched_at, score, ai_summary, is_top_pick, reasoning, tags, analyzed_at
		FROM articles
		WHERE analyzed_at IS NOT NULL AND sent_at IS NULL
		ORDER BY score DESC, analyzed_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsent articles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var articles []core.AnalyzedArticle
	for rows.Next() {
		a, err := scanAnalyzed(rows)
		if err != nil {
			return nil, err
		}
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

// MarkSent stamps sent_at on the given URLs.
func (s *Store) MarkSent(urls []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	now := time.Now().UTC()
	for _, url := range urls {
		if _, err := tx.Exec("UPDATE articles SET sent_at = ? WHERE url = ?", now, url); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to mark article sent: %w", err)
		}
	}
	return tx.Commit()
}

// SentSummary is a compact view of a recently-sent article, used for
// cross-day digest dedup.
type SentSummary struct {
	Title   string   `json:"title"`
	Summary string   `json:"summary"`
	Tags    []string `json:"tags"`
}

// GetRecentSent returns summaries of articles sent within the last N days.
func (s *Store) GetRecentSent(days, limit int) ([]SentSummary, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	rows, err := s.db.Query(`
		SELECT title, ai_summary, tags FROM articles
		WHERE sent_at IS NOT NULL AND sent_at > ?
		ORDER BY sent_at DESC
		LIMIT ?
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent sent articles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []SentSummary
	for rows.Next() {
		var title string
		var summary, tagsJSON sql.NullString
		if err := rows.Scan(&title, &summary, &tagsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan sent summary: %w", err)
		}
		item := SentSummary{Title: title, Summary: summary.String}
		if tagsJSON.Valid && tagsJSON.String != "" {
			_ = json.Unmarshal([]byte(tagsJSON.String), &item.Tags)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// List returns articles in reverse fetch order for the admin surface.
func (s *Store) List(limit, offset int) ([]core.AnalyzedArticle, error) {
	rows, err := s.db.Query(`
		SELECT url, title, content, summary, source, category, author,
			published_at, fetched_at, score, ai_summary, is_top_pick, reasoning, tags, analyzed_at
		FROM articles
		ORDER BY fetched_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list articles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var articles []core.AnalyzedArticle
	for rows.Next() {
		a, err := scanAnalyzed(rows)
		if err != nil {
			return nil, err
		}
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

// Delete removes one article by row id.
func (s *Store) Delete(id int64) error {
	res, err := s.db.Exec("DELETE FROM articles WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete article: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Cleanup deletes articles fetched before the retention window and returns
// the number removed.
func (s *Store) Cleanup(retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	res, err := s.db.Exec("DELETE FROM articles WHERE fetched_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up old articles: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logger.Info("cleaned old articles", "deleted", n)
	}
	return n, nil
}

// Stats returns total/analyzed/sent counts.
func (s *Store) Stats() (map[string]int, error) {
	stats := make(map[string]int)
	queries := map[string]string{
		"total":    "SELECT COUNT(*) FROM articles",
		"analyzed": "SELECT COUNT(*) FROM articles WHERE analyzed_at IS NOT NULL",
		"sent":     "SELECT COUNT(*) FROM articles WHERE sent_at IS NOT NULL",
	}
	for key, q := range queries {
		var n int
		if err := s.db.QueryRow(q).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to compute article stats: %w", err)
		}
		stats[key] = n
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnalyzed(row rowScanner) (core.AnalyzedArticle, error) {
	var a core.AnalyzedArticle
	var content, summary, source, category, author, aiSummary, reasoning, tagsJSON sql.NullString
	var publishedAt, fetchedAt, analyzedAt sql.NullTime
	var score sql.NullFloat64
	var isTopPick sql.NullBool
	err := row.Scan(&a.URL, &a.Title, &content, &summary, &source, &category, &author,
		&publishedAt, &fetchedAt, &score, &aiSummary, &isTopPick, &reasoning, &tagsJSON, &analyzedAt)
	if err != nil {
		return a, fmt.Errorf("failed to scan article row: %w", err)
	}
	a.Content = content.String
	a.Summary = summary.String
	a.Source = source.String
	a.Category = category.String
	a.Author = author.String
	a.PublishedAt = publishedAt.Time
	a.FetchedAt = fetchedAt.Time
	a.Score = score.Float64
	a.AISummary = aiSummary.String
	a.IsTopPick = isTopPick.Bool
	a.Reasoning = reasoning.String
	a.AnalyzedAt = analyzedAt.Time
	if tagsJSON.Valid && tagsJSON.String != "" {
		_ = json.Unmarshal([]byte(tagsJSON.String), &a.Tags)
	}
	return a, nil
}

func timeOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
