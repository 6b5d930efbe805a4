package providers

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"docuquery/pkg/config"
	"docuquery/pkg/domain"
)

// ClaudeLLMProvider implements LLMProvider on the Anthropic Messages
// API. It serves as the secondary provider: XLSX answers route here,
// and racing mode partitions questions onto it.
type ClaudeLLMProvider struct {
	client anthropic.Client
	cfg    config.ClaudeConfig
}

func NewClaudeLLMProvider(cfg config.ClaudeConfig) (*ClaudeLLMProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: claude api key is required", domain.ErrInvalidInput)
	}

	return &ClaudeLLMProvider{
		client: anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		cfg:    cfg,
	}, nil
}

func (p *ClaudeLLMProvider) ProviderType() ProviderType {
	return ProviderClaude
}

const claudeMaxTokens = 2048

// Stream issues a streaming message and forwards text deltas to the
// callback.
func (p *ClaudeLLMProvider) Stream(ctx context.Context, system, user string, callback func(string)) error {
	if user == "" {
		return fmt.Errorf("%w: empty prompt", domain.ErrInvalidInput)
	}
	if callback == nil {
		return fmt.Errorf("%w: nil callback", domain.ErrInvalidInput)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.cfg.LLMModel),
		MaxTokens: claudeMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: system},
		}
	}

	stream := p.client.Messages.NewStreaming(ctx, params)

	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text != "" {
					callback(delta.Text)
				}
			}
		}
	}

	if err := stream.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
	}

	return nil
}

func (p *ClaudeLLMProvider) Health(ctx context.Context) error {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.cfg.LLMModel),
		MaxTokens: 1,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("Hello")),
		},
	}

	if _, err := p.client.Messages.New(ctx, params); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrServiceUnavailable, err)
	}
	return nil
}
