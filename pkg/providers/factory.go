package providers

import (
	"fmt"

	"docuquery/pkg/config"
	"docuquery/pkg/domain"
	"docuquery/pkg/log"
)

// Set bundles the providers one request pipeline consumes: a primary
// LLM, an optional secondary LLM (Claude), and the embedder.
type Set struct {
	LLM          LLMProvider
	SecondaryLLM LLMProvider
	Embedder     EmbedderProvider
}

// NewSet builds the provider set from configuration. The secondary
// LLM is optional: a missing Claude key only disables racing and the
// XLSX route, logged once at startup.
func NewSet(cfg config.ProvidersConfig) (*Set, error) {
	llm, err := NewOpenAILLMProvider(cfg.OpenAI)
	if err != nil {
		return nil, fmt.Errorf("primary llm: %w", err)
	}

	embedder, err := NewOpenAIEmbedderProvider(cfg.OpenAI)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}

	set := &Set{LLM: llm, Embedder: embedder}

	if cfg.Claude.APIKey != "" {
		secondary, err := NewClaudeLLMProvider(cfg.Claude)
		if err != nil {
			return nil, fmt.Errorf("secondary llm: %w", err)
		}
		set.SecondaryLLM = secondary
	} else {
		log.Warn("no claude api key configured; racing and xlsx routing disabled")
	}

	return set, nil
}

// Secondary returns the secondary generator, falling back to the
// primary when none is configured.
func (s *Set) Secondary() domain.Generator {
	if s.SecondaryLLM != nil {
		return s.SecondaryLLM
	}
	return s.LLM
}
