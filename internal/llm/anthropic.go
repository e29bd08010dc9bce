package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dudufisio/fisioflow/internal/providers"
)

const anthropicVersion = "2023-06-01"

// AnthropicClient is a direct HTTP client for the Anthropic Messages API.
type AnthropicClient struct {
	cfg    providers.Config
	client *http.Client
}

// NewAnthropicClient creates a client for the given provider configuration.
func NewAnthropicClient(cfg providers.Config) (*AnthropicClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("provider %q: base URL required", cfg.Key)
	}
	return &AnthropicClient{
		cfg:    cfg,
		client: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

func (c *AnthropicClient) Name() string { return string(c.cfg.Key) }

// Complete sends a non-streaming request to the Messages API.
func (c *AnthropicClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	resp, err := c.do(ctx, c.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ProviderError{Provider: c.Name(), Message: fmt.Sprintf("parsing response: %v", err)}
	}

	var content strings.Builder
	for _, block := range result.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	out := &CompletionResponse{
		Content:    content.String(),
		StopReason: result.StopReason,
		Usage: Usage{
			InputTokens:  result.Usage.InputTokens,
			OutputTokens: result.Usage.OutputTokens,
		},
		Model:    result.Model,
		Provider: c.Name(),
		Duration: time.Since(start),
	}
	out.CostUSD = EstimateCostUSD(c.cfg, out.Usage)
	return out, nil
}

// Stream sends a streaming request and relays text deltas.
func (c *AnthropicClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	start := time.Now()

	resp, err := c.do(ctx, c.buildRequest(req, true))
	if err != nil {
		return nil, err
	}

	eventChan := make(chan StreamEvent)
	go func() {
		defer close(eventChan)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		var content strings.Builder
		var usage Usage
		var stopReason, model string

		for scanner.Scan() {
			data, ok := strings.CutPrefix(scanner.Text(), "data: ")
			if !ok {
				continue
			}

			var event anthropicStreamEvent
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				continue
			}

			switch event.Type {
			case "message_start":
				if event.Message != nil {
					model = event.Message.Model
					usage.InputTokens = event.Message.Usage.InputTokens
				}
			case "content_block_delta":
				if event.Delta.Type == "text_delta" && event.Delta.Text != "" {
					content.WriteString(event.Delta.Text)
					if !send(ctx, eventChan, StreamEvent{Type: EventDelta, Content: event.Delta.Text}) {
						return
					}
				}
			case "message_delta":
				if event.Delta.StopReason != "" {
					stopReason = event.Delta.StopReason
				}
				if event.Usage != nil {
					usage.OutputTokens = event.Usage.OutputTokens
				}
			case "error":
				msg := data
				if event.Error != nil {
					msg = event.Error.Message
				}
				send(ctx, eventChan, StreamEvent{Type: EventError, Error: (&ProviderError{Provider: c.Name(), Message: msg}).Error()})
				return
			}
		}
		if err := scanner.Err(); err != nil {
			send(ctx, eventChan, StreamEvent{Type: EventError, Error: (&ProviderError{Provider: c.Name(), Message: err.Error()}).Error()})
			return
		}

		out := &CompletionResponse{
			Content:    content.String(),
			StopReason: stopReason,
			Usage:      usage,
			Model:      model,
			Provider:   c.Name(),
			Duration:   time.Since(start),
		}
		out.CostUSD = EstimateCostUSD(c.cfg, usage)
		send(ctx, eventChan, StreamEvent{Type: EventDone, Response: out})
	}()

	return eventChan, nil
}

func (c *AnthropicClient) buildRequest(req CompletionRequest, stream bool) anthropicRequest {
	model := c.cfg.Model
	if req.Model != "" {
		model = req.Model
	}
	maxTokens := c.cfg.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	msgs := make([]anthropicMessage, 0, len(req.Messages))
	system := req.System
	for _, m := range req.Messages {
		// The Messages API takes the system prompt out of band.
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		msgs = append(msgs, anthropicMessage{Role: m.Role, Content: m.Content})
	}

	return anthropicRequest{
		Model:       model,
		System:      system,
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: temperature(c.cfg, req),
		Stream:      stream,
	}
}

// do posts body and returns the response when the status is 200.
func (c *AnthropicClient) do(ctx context.Context, body anthropicRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Provider: c.Name(), Message: err.Error()}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		msg := strings.TrimSpace(string(raw))
		var apiErr anthropicErrorBody
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		return nil, &ProviderError{Provider: c.Name(), Code: resp.StatusCode, Message: msg}
	}
	return resp, nil
}

// Wire structures

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Model      string                  `json:"model"`
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicStreamEvent struct {
	Type    string               `json:"type"`
	Message *anthropicResponse   `json:"message,omitempty"`
	Delta   anthropicStreamDelta `json:"delta"`
	Usage   *anthropicUsage      `json:"usage,omitempty"`
	Error   *anthropicError      `json:"error,omitempty"`
}

type anthropicStreamDelta struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type anthropicErrorBody struct {
	Error *anthropicError `json:"error"`
}
