// Package openai adapts the OpenAI Chat Completions API into a phase
// executor. Generation streams by default: each text delta is surfaced as an
// agent.partial sub-event before the accumulated raw text is returned to the
// engine for tolerant decoding and validation.
package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"

	"github.com/storyloom/storyloom/core"
	"github.com/storyloom/storyloom/executor"
)

// Options configure the OpenAI executor. Fields mirror a minimal subset of
// Chat Completion parameters; extend via functional options without breaking
// callers.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	Stream              bool
}

// Executor wraps the OpenAI Chat Completions API behind
// executor.PhaseExecutor.
type Executor struct {
	client *openai.Client
	opts   Options
}

// New creates an OpenAI-backed phase executor using the official client.
func New(optFns ...func(o *Options)) *Executor {
	client := openai.NewClient()
	return NewFromClient(&client, optFns...)
}

// NewFromClient creates an executor from an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Executor {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
		Stream:              true,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Executor{client: client, opts: opts}
}

// Execute implements executor.PhaseExecutor.
func (e *Executor) Execute(ctx context.Context, req executor.Request, emit executor.EmitFunc) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:               e.opts.Model,
		Temperature:         openai.Float(e.opts.Temperature),
		MaxCompletionTokens: openai.Int(e.opts.MaxCompletionTokens),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(executor.Instruction(req.Phase)),
			openai.UserMessage(executor.BuildUserPrompt(req)),
		},
	}

	if e.opts.Stream {
		return e.handleStreaming(ctx, params, req, emit)
	}
	return e.handleNonStreaming(ctx, params, req)
}

func (e *Executor) handleStreaming(
	ctx context.Context,
	params openai.ChatCompletionNewParams,
	req executor.Request,
	emit executor.EmitFunc,
) (string, error) {
	stream := e.client.Chat.Completions.NewStreaming(ctx, params)
	var b strings.Builder
	for stream.Next() {
		ck := stream.Current()
		for _, ch := range ck.Choices {
			if ch.Delta.Content == "" {
				continue
			}
			b.WriteString(ch.Delta.Content)
			if emit != nil {
				ev := core.NewPartialEvent(req.RunID, req.Phase, ch.Delta.Content)
				ev.Scene = req.Scene
				emit(ev)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return "", fmt.Errorf("openai streaming error: %w", err)
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("openai returned no content for phase %s", req.Phase)
	}
	return b.String(), nil
}

func (e *Executor) handleNonStreaming(
	ctx context.Context,
	params openai.ChatCompletionNewParams,
	req executor.Request,
) (string, error) {
	resp, err := e.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("openai returned no content for phase %s", req.Phase)
	}
	return resp.Choices[0].Message.Content, nil
}
