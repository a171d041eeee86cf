package agents

import (
	"context"
	"encoding/json"

	"infodigest/internal/core"
	"infodigest/internal/llm"
	"infodigest/internal/telemetry"
)

// mockGateway is a canned-response Gateway for agent tests.
type mockGateway struct {
	chatResponse string
	chatErr      error
	jsonResponse json.RawMessage
	jsonErr      error

	calls         int
	firstMessages []telemetry.Message
	lastMessages  []telemetry.Message
}

func (m *mockGateway) record(messages []telemetry.Message) {
	m.calls++
	if m.firstMessages == nil {
		m.firstMessages = messages
	}
	m.lastMessages = messages
}

func (m *mockGateway) Chat(ctx context.Context, messages []telemetry.Message, opts llm.CallOptions) (string, core.TokenUsage, error) {
	m.record(messages)
	return m.chatResponse, core.TokenUsage{}, m.chatErr
}

func (m *mockGateway) ChatJSON(ctx context.Context, messages []telemetry.Message, opts llm.CallOptions) (json.RawMessage, core.TokenUsage, error) {
	m.record(messages)
	return m.jsonResponse, core.TokenUsage{}, m.jsonErr
}
