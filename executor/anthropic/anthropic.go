// Package anthropic adapts the Anthropic Messages API into a phase
// executor. Each request becomes a single non-streaming message call with a
// per-phase system prompt; the raw text reply goes back to the engine for
// tolerant decoding and validation.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/storyloom/storyloom/executor"
)

// Options configures the Anthropic executor (model id, temperature, max
// tokens, API key). Extend via functional options to preserve stability.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Executor wraps the Anthropic Messages API behind executor.PhaseExecutor.
type Executor struct {
	client *anthropic.Client
	opts   Options
}

// New creates an Anthropic-backed phase executor using the official client.
func New(optFns ...func(o *Options)) *Executor {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Executor{client: &client, opts: opts}
}

// NewFromClient creates an executor from an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Executor {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Executor{client: client, opts: opts}
}

// Execute implements executor.PhaseExecutor.
func (e *Executor) Execute(ctx context.Context, req executor.Request, _ executor.EmitFunc) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     e.opts.Model,
		MaxTokens: e.opts.MaxTokens,
		System: []anthropic.TextBlockParam{
			{Text: executor.Instruction(req.Phase)},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(executor.BuildUserPrompt(req))),
		},
		Temperature: anthropic.Float(e.opts.Temperature),
	}

	resp, err := e.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic api error: %w", err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.AsText().Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("anthropic returned no text content for phase %s", req.Phase)
	}
	return b.String(), nil
}
