package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"docuquery/pkg/config"
	"docuquery/pkg/domain"
)

const ocrPrompt = `Transcribe every piece of text visible in this image, preserving
reading order. Output only the transcribed text, nothing else.`

// VisionOCR implements domain.OCR over an OpenAI-compatible vision
// model: the image goes in as a data URL and the transcription comes
// back as the completion text.
type VisionOCR struct {
	client openai.Client
	model  string
}

func NewVisionOCR(cfg config.OpenAIConfig) (*VisionOCR, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: openai api key is required", domain.ErrInvalidInput)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &VisionOCR{
		client: openai.NewClient(opts...),
		model:  cfg.LLMModel,
	}, nil
}

func (o *VisionOCR) Extract(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty image", domain.ErrInvalidInput)
	}

	dataURL := fmt.Sprintf("data:%s;base64,%s", imageMIME(data), base64.StdEncoding.EncodeToString(data))

	parts := []openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(ocrPrompt),
		openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: dataURL,
		}),
	}

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(parts),
		},
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", domain.ErrExtractionFailed, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: vision model returned no choices", domain.ErrExtractionFailed)
	}
	return resp.Choices[0].Message.Content, nil
}

func imageMIME(data []byte) string {
	if bytes.HasPrefix(data, []byte("\x89PNG")) {
		return "image/png"
	}
	return "image/jpeg"
}
