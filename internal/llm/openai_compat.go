package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dudufisio/fisioflow/internal/providers"
	"github.com/sashabaranov/go-openai"
)

// OpenAICompatClient talks to any vendor exposing the OpenAI
// chat-completions API (xAI, OpenAI, DeepSeek, Ollama).
type OpenAICompatClient struct {
	cfg    providers.Config
	client *openai.Client
}

// NewOpenAICompatClient creates a client for the given provider configuration.
// Local endpoints such as Ollama accept an empty API key.
func NewOpenAICompatClient(cfg providers.Config) (*OpenAICompatClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("provider %q: base URL required", cfg.Key)
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &OpenAICompatClient{
		cfg:    cfg,
		client: openai.NewClientWithConfig(clientConfig),
	}, nil
}

func (c *OpenAICompatClient) Name() string { return string(c.cfg.Key) }

// Complete sends a non-streaming chat completion.
func (c *OpenAICompatClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	resp, err := c.client.CreateChatCompletion(ctx, c.buildRequest(req, false))
	if err != nil {
		return nil, c.wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{Provider: c.Name(), Message: "response has no choices"}
	}

	out := &CompletionResponse{
		Content:    resp.Choices[0].Message.Content,
		StopReason: string(resp.Choices[0].FinishReason),
		Model:      resp.Model,
		Provider:   c.Name(),
		Duration:   time.Since(start),
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	out.CostUSD = EstimateCostUSD(c.cfg, out.Usage)
	return out, nil
}

// Stream sends a streaming chat completion.
func (c *OpenAICompatClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	start := time.Now()

	stream, err := c.client.CreateChatCompletionStream(ctx, c.buildRequest(req, true))
	if err != nil {
		return nil, c.wrapError(err)
	}

	eventChan := make(chan StreamEvent)
	go func() {
		defer close(eventChan)
		defer stream.Close()

		var content strings.Builder
		var finishReason, model string
		var usage Usage

		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				send(ctx, eventChan, StreamEvent{Type: EventError, Error: c.wrapError(err).Error()})
				return
			}
			if chunk.Model != "" {
				model = chunk.Model
			}
			if chunk.Usage != nil {
				usage = Usage{
					InputTokens:  chunk.Usage.PromptTokens,
					OutputTokens: chunk.Usage.CompletionTokens,
				}
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				content.WriteString(delta)
				if !send(ctx, eventChan, StreamEvent{Type: EventDelta, Content: delta}) {
					return
				}
			}
			if chunk.Choices[0].FinishReason != "" {
				finishReason = string(chunk.Choices[0].FinishReason)
			}
		}

		resp := &CompletionResponse{
			Content:    content.String(),
			StopReason: finishReason,
			Usage:      usage,
			Model:      model,
			Provider:   c.Name(),
			Duration:   time.Since(start),
		}
		resp.CostUSD = EstimateCostUSD(c.cfg, usage)
		send(ctx, eventChan, StreamEvent{Type: EventDone, Response: resp})
	}()

	return eventChan, nil
}

func (c *OpenAICompatClient) buildRequest(req CompletionRequest, stream bool) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	model := c.cfg.Model
	if req.Model != "" {
		model = req.Model
	}
	maxTokens := c.cfg.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	out := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: maxTokens,
		Stream:    stream,
	}
	if stream {
		out.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	if t := temperature(c.cfg, req); t != nil {
		out.Temperature = float32(*t)
	}
	return out
}

func (c *OpenAICompatClient) wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: c.Name(), Code: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &ProviderError{Provider: c.Name(), Code: reqErr.HTTPStatusCode, Message: reqErr.Error()}
	}
	return &ProviderError{Provider: c.Name(), Message: err.Error()}
}

// temperature returns the request override or the provider default.
func temperature(cfg providers.Config, req CompletionRequest) *float64 {
	if req.Temperature != nil {
		return req.Temperature
	}
	return cfg.Temperature
}

// send delivers ev unless ctx is done first.
func send(ctx context.Context, ch chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
