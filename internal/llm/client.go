// Package llm wraps the Anthropic API behind a small completion
// interface so scoring and summarization code can be tested with fakes.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/IliaW/aeo-crawler/config"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

var ErrEmptyResponse = errors.New("llm returned an empty response")

type CompletionRequest struct {
	System      string
	Prompt      string
	MaxTokens   int64
	Temperature float64
}

type CompletionResponse struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

type CompletionClient interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

type AnthropicClient struct {
	client         anthropic.Client
	model          anthropic.Model
	maxTokens      int64
	temperature    float64
	requestTimeout time.Duration
	log            *slog.Logger
}

func NewAnthropicClient(cfg *config.AiConfig, log *slog.Logger) *AnthropicClient {
	return &AnthropicClient{
		client:         anthropic.NewClient(option.WithAPIKey(cfg.ApiKey)),
		model:          anthropic.Model(cfg.Model),
		maxTokens:      int64(cfg.MaxTokens),
		temperature:    cfg.Temperature,
		requestTimeout: cfg.RequestTimeout,
		log:            log,
	}
}

func (c *AnthropicClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:       c.model,
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	start := time.Now()
	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic request: %w", err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		b.WriteString(block.Text)
	}
	text := b.String()
	if text == "" {
		return nil, ErrEmptyResponse
	}

	c.log.Debug("llm completion finished.",
		slog.String("model", string(c.model)),
		slog.Int64("input_tokens", msg.Usage.InputTokens),
		slog.Int64("output_tokens", msg.Usage.OutputTokens),
		slog.Duration("duration", time.Since(start)))

	return &CompletionResponse{
		Text:             text,
		PromptTokens:     int(msg.Usage.InputTokens),
		CompletionTokens: int(msg.Usage.OutputTokens),
	}, nil
}
