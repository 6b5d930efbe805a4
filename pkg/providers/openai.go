package providers

import (
	"context"
	"fmt"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"docuquery/pkg/config"
	"docuquery/pkg/domain"
)

// OpenAILLMProvider implements LLMProvider for OpenAI-compatible
// services.
type OpenAILLMProvider struct {
	client openai.Client
	cfg    config.OpenAIConfig
}

func NewOpenAILLMProvider(cfg config.OpenAIConfig) (*OpenAILLMProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: openai api key is required", domain.ErrInvalidInput)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAILLMProvider{
		client: openai.NewClient(opts...),
		cfg:    cfg,
	}, nil
}

func (p *OpenAILLMProvider) ProviderType() ProviderType {
	return ProviderOpenAI
}

// Stream issues a streaming chat completion and forwards token deltas
// to the callback until end-of-stream or ctx cancellation.
func (p *OpenAILLMProvider) Stream(ctx context.Context, system, user string, callback func(string)) error {
	if user == "" {
		return fmt.Errorf("%w: empty prompt", domain.ErrInvalidInput)
	}
	if callback == nil {
		return fmt.Errorf("%w: nil callback", domain.ErrInvalidInput)
	}

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(system),
		openai.UserMessage(user),
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.cfg.LLMModel),
		Messages: messages,
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			callback(chunk.Choices[0].Delta.Content)
		}
	}

	if err := stream.Err(); err != nil {
		if ctx.Err() != nil {
			// Deadline expiry is a terminal state, not an error; the
			// caller substitutes the timeout placeholder.
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
	}

	return nil
}

func (p *OpenAILLMProvider) Health(ctx context.Context) error {
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.cfg.LLMModel),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage("Hello"),
		},
		MaxCompletionTokens: openai.Int(1),
	}

	if _, err := p.client.Chat.Completions.New(ctx, params); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrServiceUnavailable, err)
	}
	return nil
}

// OpenAIEmbedderProvider implements EmbedderProvider for
// OpenAI-compatible embedding services.
type OpenAIEmbedderProvider struct {
	client openai.Client
	cfg    config.OpenAIConfig
}

func NewOpenAIEmbedderProvider(cfg config.OpenAIConfig) (*OpenAIEmbedderProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: openai api key is required", domain.ErrInvalidInput)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIEmbedderProvider{
		client: openai.NewClient(opts...),
		cfg:    cfg,
	}, nil
}

func (p *OpenAIEmbedderProvider) ProviderType() ProviderType {
	return ProviderOpenAI
}

// EmbedBatch embeds all texts in a single API call. Output preserves
// input order; the API reports an index per datum, which is honored
// rather than assumed.
func (p *OpenAIEmbedderProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(p.cfg.EmbeddingModel),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	}

	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingFailed, err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", domain.ErrEmbeddingFailed, len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, datum := range resp.Data {
		vec := make([]float32, len(datum.Embedding))
		for i, v := range datum.Embedding {
			vec[i] = float32(v)
		}
		out[datum.Index] = vec
	}

	return out, nil
}

func (p *OpenAIEmbedderProvider) Health(ctx context.Context) error {
	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(p.cfg.EmbeddingModel),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String("test"),
		},
	}

	if _, err := p.client.Embeddings.New(ctx, params); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrServiceUnavailable, err)
	}
	return nil
}
