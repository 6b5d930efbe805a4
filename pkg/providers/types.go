// Package providers holds the LLM and embedding provider
// implementations. The rest of the system consumes them only through
// the narrow domain.Generator and domain.Embedder capabilities.
package providers

import (
	"context"

	"docuquery/pkg/domain"
)

// ProviderType identifies a provider implementation.
type ProviderType string

const (
	ProviderOpenAI ProviderType = "openai"
	ProviderClaude ProviderType = "claude"
)

// LLMProvider is a streaming completion backend.
type LLMProvider interface {
	domain.Generator
	ProviderType() ProviderType
	Health(ctx context.Context) error
}

// EmbedderProvider is a batch embedding backend.
type EmbedderProvider interface {
	domain.Embedder
	ProviderType() ProviderType
	Health(ctx context.Context) error
}
