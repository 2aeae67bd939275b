package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Generator wraps a ChatModel with the two call shapes the answer pipeline
// needs: a blocking Generate and a delta-forwarding Stream. Both return the
// complete response text; Stream additionally pushes each content delta to
// the caller's sink as it arrives.
type Generator struct {
	chatModel model.ToolCallingChatModel
	backend   Backend
	modelName string
}

// NewGenerator builds the backend selected by cfg and wraps it in a
// Generator.
func NewGenerator(ctx context.Context, cfg *Config) (*Generator, error) {
	cm, err := New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Generator{
		chatModel: cm,
		backend:   cfg.Backend,
		modelName: cfg.ModelName(),
	}, nil
}

// Backend returns the backend this generator was built for.
func (g *Generator) Backend() Backend { return g.backend }

// ModelName returns the configured model identifier.
func (g *Generator) ModelName() string { return g.modelName }

// Generate sends the messages to the model and returns the full response
// text. Provider errors are wrapped, not swallowed, so callers can surface
// the backend's own error text.
func (g *Generator) Generate(ctx context.Context, messages []*schema.Message) (string, error) {
	out, err := g.chatModel.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("provider: generate failed: %w", err)
	}
	if out == nil {
		return "", fmt.Errorf("provider: model returned no message")
	}
	return out.Content, nil
}

// Stream sends the messages to the model, forwarding each content delta to
// sink as it arrives, and returns the accumulated response text. A nil sink
// accumulates without forwarding.
func (g *Generator) Stream(ctx context.Context, messages []*schema.Message, sink func(delta string)) (string, error) {
	sr, err := g.chatModel.Stream(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("provider: stream failed: %w", err)
	}
	defer sr.Close()

	var full strings.Builder
	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("provider: stream receive error: %w", err)
		}
		if msg == nil || msg.Content == "" {
			continue
		}
		full.WriteString(msg.Content)
		if sink != nil {
			sink(msg.Content)
		}
	}
	return full.String(), nil
}
