// Package llm is the single funnel for model calls: retries, JSON recovery,
// token accounting, and per-call telemetry.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"infodigest/internal/config"
	"infodigest/internal/core"
	"infodigest/internal/logger"
	"infodigest/internal/telemetry"
)

// DefaultRetryCount is the number of attempts per call.
const DefaultRetryCount = 3

// maxBackoff caps the exponential retry backoff.
const maxBackoff = 30 * time.Second

// Recorder is the telemetry sink the gateway writes to. Write failures are
// swallowed; a call never fails because its record could not be stored.
type Recorder interface {
	Append(record telemetry.CallRecord) error
	MaxContentLength() int
}

// Client is the LLM gateway. All model interactions in the application go
// through it.
type Client struct {
	api         openai.Client
	model       string
	maxTokens   int
	temperature float64
	timeout     time.Duration
	recorder    Recorder
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewClient builds a gateway against an OpenAI-compatible chat-completions
// endpoint.
func NewClient(cfg config.AI, recorder Recorder) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("missing API key")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	timeout := 60 * time.Second
	if cfg.Timeout != "" {
		if d, err := time.ParseDuration(cfg.Timeout); err == nil && d > 0 {
			timeout = d
		}
	}
	return &Client{
		api:         openai.NewClient(opts...),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     timeout,
		recorder:    recorder,
		sleep:       sleepCtx,
	}, nil
}

// CallOptions tune a single call. Zero values fall back to the client
// configuration.
type CallOptions struct {
	MaxTokens   int
	Temperature float64
	HasTemp     bool // distinguishes an explicit 0 from "use default"
	JSONHint    bool
	RetryCount  int
}

// BuildMessages assembles a system + user message pair, with optional few-shot
// examples as alternating user/assistant turns.
func BuildMessages(system, user string, examples ...[2]string) []telemetry.Message {
	messages := []telemetry.Message{{Role: "system", Content: system}}
	for _, ex := range examples {
		messages = append(messages,
			telemetry.Message{Role: "user", Content: ex[0]},
			telemetry.Message{Role: "assistant", Content: ex[1]},
		)
	}
	return append(messages, telemetry.Message{Role: "user", Content: user})
}

// Chat performs a chat completion with retries and telemetry. On terminal
// failure the error is returned and a failed-call record (zero tokens, error
// set) has already been written.
func (c *Client) Chat(ctx context.Context, messages []telemetry.Message, opts CallOptions) (string, core.TokenUsage, error) {
	return c.call(ctx, telemetry.CallChat, messages, opts)
}

// ChatJSON performs a chat completion and applies the JSON recovery ladder to
// the response. A nil result with nil error means the response carried no
// recoverable JSON.
func (c *Client) ChatJSON(ctx context.Context, messages []telemetry.Message, opts CallOptions) (json.RawMessage, core.TokenUsage, error) {
	opts.JSONHint = true
	text, usage, err := c.call(ctx, telemetry.CallChatJSON, messages, opts)
	if err != nil {
		return nil, usage, err
	}
	return ParseJSON(text), usage, nil
}

func (c *Client) call(ctx context.Context, callType telemetry.CallType, messages []telemetry.Message, opts CallOptions) (string, core.TokenUsage, error) {
	retries := opts.RetryCount
	if retries <= 0 {
		retries = DefaultRetryCount
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	temperature := c.temperature
	if opts.HasTemp {
		temperature = opts.Temperature
	}

	sendMessages := messages
	if opts.JSONHint {
		sendMessages = append([]telemetry.Message{}, messages...)
		sendMessages[0].Content += "\n\nRespond with a single valid JSON object and nothing else."
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    toParams(sendMessages),
		MaxTokens:   openai.Int(int64(maxTokens)),
		Temperature: openai.Float(temperature),
	}

	var lastErr error
	start := time.Now()
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Min(math.Pow(2, float64(attempt)), maxBackoff.Seconds())) * time.Second
			if err := c.sleep(ctx, backoff); err != nil {
				lastErr = err
				break
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		resp, err := c.api.Chat.Completions.New(callCtx, params)
		cancel()
		if err != nil {
			lastErr = err
			logger.Warn("llm call failed", "attempt", attempt+1, "error", err.Error())
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = errors.New("response contained no choices")
			continue
		}
		text := resp.Choices[0].Message.Content
		usage := core.TokenUsage{
			Prompt:     int(resp.Usage.PromptTokens),
			Completion: int(resp.Usage.CompletionTokens),
			Total:      int(resp.Usage.TotalTokens),
		}
		c.record(ctx, callType, sendMessages, params, text, usage, time.Since(start), attempt, nil)
		return text, usage, nil
	}

	if lastErr == nil {
		lastErr = errors.New("llm call failed")
	}
	c.record(ctx, callType, sendMessages, params, "", core.TokenUsage{}, time.Since(start), retries-1, lastErr)
	return "", core.TokenUsage{}, fmt.Errorf("llm call failed after %d attempts: %w", retries, lastErr)
}

// record writes the call to telemetry. It never propagates failure.
func (c *Client) record(ctx context.Context, callType telemetry.CallType, messages []telemetry.Message,
	params openai.ChatCompletionNewParams, response string, usage core.TokenUsage,
	duration time.Duration, retryCount int, callErr error) {
	if c.recorder == nil {
		return
	}
	maxLen := c.recorder.MaxContentLength()
	recorded := make([]telemetry.Message, len(messages))
	for i, m := range messages {
		recorded[i] = telemetry.Message{Role: m.Role, Content: telemetry.Truncate(m.Content, maxLen)}
	}
	record := telemetry.CallRecord{
		CallID:    uuid.NewString(),
		Timestamp: time.Now().UTC(),
		CallType:  callType,
		Model:     c.model,
		SessionID: telemetry.SessionFrom(ctx),
		AgentName: telemetry.AgentFrom(ctx),
		Messages:  recorded,
		Parameters: map[string]any{
			"max_tokens":  params.MaxTokens.Value,
			"temperature": params.Temperature.Value,
		},
		Response:   telemetry.Truncate(response, maxLen),
		TokenUsage: usage,
		DurationMs: duration.Milliseconds(),
		RetryCount: retryCount,
	}
	if callErr != nil {
		record.Error = callErr.Error()
	}
	if callType == telemetry.CallChatJSON && callErr == nil {
		record.ParsedJSON = ParseJSON(response)
	}
	if err := c.recorder.Append(record); err != nil {
		logger.Warn("telemetry write failed", "error", err.Error())
	}
}

func toParams(messages []telemetry.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// ParseJSON recovers a JSON value from model output. Strategies in order:
// direct parse, first fenced code block, longest brace-delimited span. Returns
// nil when nothing parses; it never fails.
func ParseJSON(text string) json.RawMessage {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if raw := tryParse(text); raw != nil {
		return raw
	}
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		if raw := tryParse(strings.TrimSpace(m[1])); raw != nil {
			return raw
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		if raw := tryParse(text[start : end+1]); raw != nil {
			return raw
		}
	}
	return nil
}

func tryParse(text string) json.RawMessage {
	var parsed any
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil
	}
	switch parsed.(type) {
	case map[string]any, []any:
		return json.RawMessage(text)
	default:
		return nil
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
