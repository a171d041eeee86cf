package telemetry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"infodigest/internal/core"
)

func testRecorder(t *testing.T) *Recorder {
	t.Helper()
	r, err := NewRecorder(t.TempDir(), 30, 10000)
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func sampleRecord(callID, session, agent string, ts time.Time) CallRecord {
	return CallRecord{
		CallID:    callID,
		Timestamp: ts,
		CallType:  CallChatJSON,
		Model:     "gpt-test",
		SessionID: session,
		AgentName: agent,
		Messages: []Message{
			{Role: "system", Content: "be terse"},
			{Role: "user", Content: "summarize"},
		},
		Response:   `{"ok": true}`,
		TokenUsage: core.TokenUsage{Prompt: 100, Completion: 50, Total: 150},
		DurationMs: 1200,
	}
}

func TestAppendAndGetFull(t *testing.T) {
	r := testRecorder(t)
	ts := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

	record := sampleRecord("call_1", "sess_a", "collector", ts)
	if err := r.Append(record); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	got, err := r.GetFull("call_1")
	if err != nil {
		t.Fatalf("GetFull() error = %v", err)
	}
	if got == nil {
		t.Fatal("record not found")
	}
	if got.Model != "gpt-test" || len(got.Messages) != 2 {
		t.Errorf("round trip lost data: %+v", got)
	}
	if got.TokenUsage.Total != 150 {
		t.Errorf("TokenUsage.Total = %d", got.TokenUsage.Total)
	}

	missing, err := r.GetFull("no_such_call")
	if err != nil {
		t.Fatalf("GetFull(missing) error = %v", err)
	}
	if missing != nil {
		t.Error("missing call should return nil, nil")
	}
}

func TestQueryFilters(t *testing.T) {
	r := testRecorder(t)
	base := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		rec := sampleRecord(fmt.Sprintf("call_%d", i), "sess_a", "collector", base.Add(time.Duration(i)*time.Minute))
		if err := r.Append(rec); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	other := sampleRecord("call_other", "sess_b", "editor", base)
	other.CallType = CallChat
	other.Error = "timed out"
	if err := r.Append(other); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	rows, err := r.Query(QueryFilter{SessionID: "sess_a"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(rows) != 3 {
		t.Errorf("session filter returned %d rows, want 3", len(rows))
	}
	if rows[0].CallID != "call_2" {
		t.Errorf("first row = %s, want newest first", rows[0].CallID)
	}

	rows, err = r.Query(QueryFilter{AgentName: "editor"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(rows) != 1 || rows[0].Error != "timed out" {
		t.Errorf("agent filter = %+v", rows)
	}

	rows, err = r.Query(QueryFilter{CallType: string(CallChat)})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("type filter returned %d rows, want 1", len(rows))
	}

	rows, err = r.Query(QueryFilter{Limit: 2})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("limit returned %d rows, want 2", len(rows))
	}
}

func TestAggregate(t *testing.T) {
	r := testRecorder(t)
	base := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

	ok := sampleRecord("call_ok", "sess_a", "collector", base)
	failed := sampleRecord("call_fail", "sess_a", "editor", base.Add(time.Minute))
	failed.Error = "boom"
	failed.TokenUsage = core.TokenUsage{}
	for _, rec := range []CallRecord{ok, failed} {
		if err := r.Append(rec); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	stats, err := r.Aggregate(time.Time{}, time.Time{}, "")
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	if stats.TotalCalls != 2 {
		t.Errorf("TotalCalls = %d", stats.TotalCalls)
	}
	if stats.TotalTokens != 150 {
		t.Errorf("TotalTokens = %d, want 150 (failed call carries zero)", stats.TotalTokens)
	}
	if stats.ErrorCount != 1 || stats.ErrorRate != 0.5 {
		t.Errorf("errors = %d at rate %v", stats.ErrorCount, stats.ErrorRate)
	}
	if stats.CallsByAgent["collector"] != 1 || stats.CallsByAgent["editor"] != 1 {
		t.Errorf("CallsByAgent = %v", stats.CallsByAgent)
	}
	if stats.AvgDurationMs != 1200 {
		t.Errorf("AvgDurationMs = %v", stats.AvgDurationMs)
	}
}

func TestListSessions(t *testing.T) {
	r := testRecorder(t)
	base := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

	for i, session := range []string{"sess_a", "sess_a", "sess_b"} {
		rec := sampleRecord(fmt.Sprintf("call_%d", i), session, "collector", base.Add(time.Duration(i)*time.Hour))
		if err := r.Append(rec); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	sessions, err := r.ListSessions(10)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
	if sessions[0].SessionID != "sess_b" {
		t.Errorf("first session = %s, want most recent", sessions[0].SessionID)
	}
	for _, s := range sessions {
		if s.SessionID == "sess_a" && (s.CallCount != 2 || s.TotalTokens != 300) {
			t.Errorf("sess_a summary = %+v", s)
		}
	}
}

func TestExportJSONL(t *testing.T) {
	r := testRecorder(t)
	base := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		rec := sampleRecord(fmt.Sprintf("call_%d", i), "sess_a", "collector", base.AddDate(0, 0, i))
		if err := r.Append(rec); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	out := filepath.Join(t.TempDir(), "export.jsonl")
	count, err := r.ExportJSONL(out, base, base.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("ExportJSONL() error = %v", err)
	}
	if count != 2 {
		t.Errorf("exported %d records, want 2 (window filter)", count)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("failed to read export: %v", err)
	}
	if lines := strings.Count(string(data), "\n"); lines != 2 {
		t.Errorf("export has %d lines, want 2", lines)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		max     int
		full    bool
	}{
		{"short passes through", "hello", 100, true},
		{"zero max disables truncation", strings.Repeat("x", 500), 0, true},
		{"long is truncated with annotation", strings.Repeat("x", 500), 100, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Truncate(tt.content, tt.max)
			if tt.full {
				if got != tt.content {
					t.Errorf("Truncate() modified content that fits")
				}
				return
			}
			if !strings.HasPrefix(got, tt.content[:tt.max]) {
				t.Error("truncated prefix lost")
			}
			if !strings.Contains(got, "[truncated, total 500 chars]") {
				t.Errorf("missing annotation: %q", got)
			}
		})
	}
}

func TestContextTags(t *testing.T) {
	ctx := context.Background()
	if SessionFrom(ctx) != "" || AgentFrom(ctx) != "" {
		t.Error("untagged context must yield empty values")
	}
	ctx = WithSession(ctx, "sess_1")
	ctx = WithAgent(ctx, "skeptic")
	if SessionFrom(ctx) != "sess_1" {
		t.Errorf("SessionFrom = %q", SessionFrom(ctx))
	}
	if AgentFrom(ctx) != "skeptic" {
		t.Errorf("AgentFrom = %q", AgentFrom(ctx))
	}
}
