// Package telemetry records every AI call to daily JSONL shards with a SQLite
// index for queries and aggregation.
package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"infodigest/internal/core"
)

// CallType distinguishes plain-text from JSON-mode calls.
type CallType string

const (
	CallChat     CallType = "chat"
	CallChatJSON CallType = "chat_json"
)

// Message is one chat message as sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CallRecord is the full, append-only record of one AI call.
type CallRecord struct {
	CallID     string          `json:"call_id"`
	Timestamp  time.Time       `json:"timestamp"`
	CallType   CallType        `json:"call_type"`
	Model      string          `json:"model"`
	SessionID  string          `json:"session_id,omitempty"`
	AgentName  string          `json:"agent_name,omitempty"`
	Messages   []Message       `json:"messages"`
	Parameters map[string]any  `json:"parameters,omitempty"`
	Response   string          `json:"response,omitempty"`
	ParsedJSON json.RawMessage `json:"parsed_json,omitempty"`
	TokenUsage core.TokenUsage `json:"token_usage"`
	DurationMs int64           `json:"duration_ms"`
	RetryCount int             `json:"retry_count"`
	Error      string          `json:"error,omitempty"`
	Caller     string          `json:"caller,omitempty"`
}

// ambient session/agent tags travel in the request context so concurrent
// analyses never observe each other's values.
type ctxKey int

const (
	sessionKey ctxKey = iota
	agentKey
)

// WithSession tags the context with a session id.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey, sessionID)
}

// WithAgent tags the context with an agent name.
func WithAgent(ctx context.Context, agentName string) context.Context {
	return context.WithValue(ctx, agentKey, agentName)
}

// SessionFrom returns the ambient session id, if any.
func SessionFrom(ctx context.Context) string {
	if v, ok := ctx.Value(sessionKey).(string); ok {
		return v
	}
	return ""
}

// AgentFrom returns the ambient agent name, if any.
func AgentFrom(ctx context.Context) string {
	if v, ok := ctx.Value(agentKey).(string); ok {
		return v
	}
	return ""
}

// Truncate caps content at max characters, annotating the original length.
func Truncate(content string, max int) string {
	if max <= 0 || len(content) <= max {
		return content
	}
	return content[:max] + fmt.Sprintf("... [truncated, total %d chars]", len(content))
}

// Recorder persists call records. Appends are atomic per record: one JSONL
// line plus one index row.
type Recorder struct {
	mu            sync.Mutex
	storagePath   string
	retentionDays int
	maxContentLen int
	db            *sql.DB
}

// NewRecorder opens (creating if needed) the telemetry store under
// storagePath.
func NewRecorder(storagePath string, retentionDays, maxContentLen int) (*Recorder, error) {
	if err := os.MkdirAll(storagePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create telemetry directory: %w", err)
	}
	db, err := sql.Open("sqlite3", filepath.Join(storagePath, "telemetry.db")+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry index: %w", err)
	}
	r := &Recorder{
		storagePath:   storagePath,
		retentionDays: retentionDays,
		maxContentLen: maxContentLen,
		db:            db,
	}
	if err := r.initialize(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// Close closes the index database.
func (r *Recorder) Close() error {
	return r.db.Close()
}

// MaxContentLength returns the configured content cap for recorded messages.
func (r *Recorder) MaxContentLength() int {
	return r.maxContentLen
}

func (r *Recorder) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS ai_calls (
		call_id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		call_type TEXT NOT NULL,
		model TEXT,
		agent_name TEXT,
		session_id TEXT,
		duration_ms INTEGER,
		prompt_tokens INTEGER,
		completion_tokens INTEGER,
		total_tokens INTEGER,
		error TEXT,
		jsonl_file TEXT,
		created_at TEXT DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_calls_timestamp ON ai_calls(timestamp);
	CREATE INDEX IF NOT EXISTS idx_calls_session ON ai_calls(session_id);
	CREATE INDEX IF NOT EXISTS idx_calls_agent ON ai_calls(agent_name);
	CREATE INDEX IF NOT EXISTS idx_calls_type ON ai_calls(call_type);
	`
	if _, err := r.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize telemetry schema: %w", err)
	}
	return nil
}

// Append writes one record: a JSONL line in the day shard, then an index row.
func (r *Recorder) Append(record CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	shard := filepath.Join(r.storagePath, record.Timestamp.UTC().Format("2006-01-02")+".jsonl")
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal call record: %w", err)
	}
	f, err := os.OpenFile(shard, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open telemetry shard: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to append telemetry record: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close telemetry shard: %w", err)
	}

	var errStr any
	if record.Error != "" {
		errStr = record.Error
	}
	_, err = r.db.Exec(`
		INSERT OR REPLACE INTO ai_calls
		(call_id, timestamp, call_type, model, agent_name, session_id,
		 duration_ms, prompt_tokens, completion_tokens, total_tokens, error, jsonl_file)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, record.CallID, record.Timestamp.UTC().Format(time.RFC3339Nano), string(record.CallType),
		record.Model, record.AgentName, record.SessionID, record.DurationMs,
		record.TokenUsage.Prompt, record.TokenUsage.Completion, record.TokenUsage.Total,
		errStr, shard)
	if err != nil {
		return fmt.Errorf("failed to index telemetry record: %w", err)
	}
	return nil
}

// QueryFilter narrows index queries.
type QueryFilter struct {
	Start     time.Time
	End       time.Time
	SessionID string
	AgentName string
	CallType  string
	Limit     int
	Offset    int
}

// IndexRow is one queryable index entry (no message bodies).
type IndexRow struct {
	CallID     string    `json:"call_id"`
	Timestamp  time.Time `json:"timestamp"`
	CallType   string    `json:"call_type"`
	Model      string    `json:"model"`
	AgentName  string    `json:"agent_name"`
	SessionID  string    `json:"session_id"`
	DurationMs int64     `json:"duration_ms"`
	Tokens     int       `json:"total_tokens"`
	Error      string    `json:"error,omitempty"`
	Shard      string    `json:"jsonl_file"`
}

// Query returns index rows matching the filter, newest first.
func (r *Recorder) Query(filter QueryFilter) ([]IndexRow, error) {
	query := `SELECT call_id, timestamp, call_type, model, agent_name, session_id,
		duration_ms, total_tokens, error, jsonl_file FROM ai_calls WHERE 1=1`
	args := []any{}
	if !filter.Start.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.Start.UTC().Format(time.RFC3339Nano))
	}
	if !filter.End.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.End.UTC().Format(time.RFC3339Nano))
	}
	if filter.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}
	if filter.AgentName != "" {
		query += " AND agent_name = ?"
		args = append(args, filter.AgentName)
	}
	if filter.CallType != "" {
		query += " AND call_type = ?"
		args = append(args, filter.CallType)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " ORDER BY timestamp DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query telemetry index: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []IndexRow
	for rows.Next() {
		var row IndexRow
		var ts string
		var model, agent, session, errCol sql.NullString
		if err := rows.Scan(&row.CallID, &ts, &row.CallType, &model, &agent, &session,
			&row.DurationMs, &row.Tokens, &errCol, &row.Shard); err != nil {
			return nil, fmt.Errorf("failed to scan telemetry row: %w", err)
		}
		row.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		row.Model = model.String
		row.AgentName = agent.String
		row.SessionID = session.String
		row.Error = errCol.String
		out = append(out, row)
	}
	return out, rows.Err()
}

// GetFull loads the complete record for a call id from its JSONL shard.
func (r *Recorder) GetFull(callID string) (*CallRecord, error) {
	var shard string
	err := r.db.QueryRow("SELECT jsonl_file FROM ai_calls WHERE call_id = ?", callID).Scan(&shard)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up call: %w", err)
	}
	data, err := os.ReadFile(shard)
	if err != nil {
		return nil, fmt.Errorf("failed to read telemetry shard: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.Contains(line, callID) {
			continue
		}
		var record CallRecord
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			continue
		}
		if record.CallID == callID {
			return &record, nil
		}
	}
	return nil, nil
}

// Stats aggregates the index over an optional window and session.
type Stats struct {
	TotalCalls            int            `json:"total_calls"`
	TotalPromptTokens     int            `json:"total_prompt_tokens"`
	TotalCompletionTokens int            `json:"total_completion_tokens"`
	TotalTokens           int            `json:"total_tokens"`
	TotalDurationMs       int64          `json:"total_duration_ms"`
	AvgDurationMs         float64        `json:"avg_duration_ms"`
	ErrorCount            int            `json:"error_count"`
	ErrorRate             float64        `json:"error_rate"`
	CallsByType           map[string]int `json:"calls_by_type"`
	CallsByAgent          map[string]int `json:"calls_by_agent"`
	CallsByModel          map[string]int `json:"calls_by_model"`
}

// Aggregate computes Stats for the given window/session.
func (r *Recorder) Aggregate(start, end time.Time, sessionID string) (*Stats, error) {
	where := " WHERE 1=1"
	args := []any{}
	if !start.IsZero() {
		where += " AND timestamp >= ?"
		args = append(args, start.UTC().Format(time.RFC3339Nano))
	}
	if !end.IsZero() {
		where += " AND timestamp <= ?"
		args = append(args, end.UTC().Format(time.RFC3339Nano))
	}
	if sessionID != "" {
		where += " AND session_id = ?"
		args = append(args, sessionID)
	}

	stats := &Stats{
		CallsByType:  make(map[string]int),
		CallsByAgent: make(map[string]int),
		CallsByModel: make(map[string]int),
	}
	row := r.db.QueryRow(`
		SELECT COUNT(*),
			COALESCE(SUM(prompt_tokens), 0),
			COALESCE(SUM(completion_tokens), 0),
			COALESCE(SUM(total_tokens), 0),
			COALESCE(SUM(duration_ms), 0),
			COALESCE(SUM(CASE WHEN error IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM ai_calls`+where, args...)
	if err := row.Scan(&stats.TotalCalls, &stats.TotalPromptTokens, &stats.TotalCompletionTokens,
		&stats.TotalTokens, &stats.TotalDurationMs, &stats.ErrorCount); err != nil {
		return nil, fmt.Errorf("failed to aggregate telemetry: %w", err)
	}
	if stats.TotalCalls > 0 {
		stats.AvgDurationMs = float64(stats.TotalDurationMs) / float64(stats.TotalCalls)
		stats.ErrorRate = float64(stats.ErrorCount) / float64(stats.TotalCalls)
	}

	for field, target := range map[string]map[string]int{
		"call_type":  stats.CallsByType,
		"agent_name": stats.CallsByAgent,
		"model":      stats.CallsByModel,
	} {
		rows, err := r.db.Query(fmt.Sprintf(
			"SELECT COALESCE(%s, 'unknown'), COUNT(*) FROM ai_calls%s GROUP BY %s", field, where, field), args...)
		if err != nil {
			return nil, fmt.Errorf("failed to group telemetry by %s: %w", field, err)
		}
		for rows.Next() {
			var key string
			var count int
			if err := rows.Scan(&key, &count); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("failed to scan telemetry group: %w", err)
			}
			if key == "" {
				key = "unknown"
			}
			target[key] = count
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, err
		}
		_ = rows.Close()
	}
	return stats, nil
}

// SessionSummary is one row of the recent-session listing.
type SessionSummary struct {
	SessionID   string    `json:"session_id"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	CallCount   int       `json:"call_count"`
	TotalTokens int       `json:"total_tokens"`
}

// ListSessions returns the most recent sessions.
func (r *Recorder) ListSessions(limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(`
		SELECT session_id, MIN(timestamp), MAX(timestamp), COUNT(*), COALESCE(SUM(total_tokens), 0)
		FROM ai_calls
		WHERE session_id IS NOT NULL AND session_id != ''
		GROUP BY session_id
		ORDER BY MIN(timestamp) DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []SessionSummary
	for rows.Next() {
		var s SessionSummary
		var start, end string
		if err := rows.Scan(&s.SessionID, &start, &end, &s.CallCount, &s.TotalTokens); err != nil {
			return nil, fmt.Errorf("failed to scan session summary: %w", err)
		}
		s.StartTime, _ = time.Parse(time.RFC3339Nano, start)
		s.EndTime, _ = time.Parse(time.RFC3339Nano, end)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Cleanup deletes shards and index rows older than the retention window.
// Returns the number of index rows removed.
func (r *Recorder) Cleanup() (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -r.retentionDays)
	cutoffName := cutoff.Format("2006-01-02") + ".jsonl"

	shards, err := filepath.Glob(filepath.Join(r.storagePath, "*.jsonl"))
	if err != nil {
		return 0, fmt.Errorf("failed to list telemetry shards: %w", err)
	}
	for _, shard := range shards {
		if filepath.Base(shard) < cutoffName {
			_ = os.Remove(shard)
		}
	}

	res, err := r.db.Exec("DELETE FROM ai_calls WHERE timestamp < ?", cutoff.Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("failed to clean telemetry index: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ExportJSONL copies records in the window into one output file, returning the
// number of records written.
func (r *Recorder) ExportJSONL(outputPath string, start, end time.Time) (int, error) {
	shards, err := filepath.Glob(filepath.Join(r.storagePath, "*.jsonl"))
	if err != nil {
		return 0, fmt.Errorf("failed to list telemetry shards: %w", err)
	}
	sort.Strings(shards)

	out, err := os.Create(outputPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create export file: %w", err)
	}
	defer func() { _ = out.Close() }()

	count := 0
	for _, shard := range shards {
		data, err := os.ReadFile(shard)
		if err != nil {
			continue
		}
		for _, line := range strings.Split(string(data), "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			var header struct {
				Timestamp time.Time `json:"timestamp"`
			}
			if err := json.Unmarshal([]byte(line), &header); err != nil {
				continue
			}
			if !start.IsZero() && header.Timestamp.Before(start) {
				continue
			}
			if !end.IsZero() && header.Timestamp.After(end) {
				continue
			}
			if _, err := out.WriteString(line + "\n"); err != nil {
				return count, fmt.Errorf("failed to write export line: %w", err)
			}
			count++
		}
	}
	return count, nil
}
