// Package embedder batches texts into embedding API calls under the
// request deadline. Two flows run per request: question pre-embedding
// starts before the document download resolves, chunk embedding after
// chunking; both go through the same Service.
package embedder

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"docuquery/pkg/config"
	"docuquery/pkg/deadline"
	"docuquery/pkg/domain"
	"docuquery/pkg/log"
)

// Service fans texts out to the provider in fixed-size batches.
// Primary and secondary providers are hot-swappable; a batch that
// fails on the primary falls over to the secondary exactly once.
type Service struct {
	primary   domain.Embedder
	secondary domain.Embedder
	cfg       config.EmbeddingConfig
	logger    *slog.Logger
}

func New(primary, secondary domain.Embedder, cfg config.EmbeddingConfig) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 250
	}
	return &Service{
		primary:   primary,
		secondary: secondary,
		cfg:       cfg,
		logger:    log.WithModule("embedder"),
	}
}

// EmbedTexts embeds texts in parallel batches. The result always has
// len == len(texts) and preserves input order. On deadline expiry the
// completed batches are returned with nil holes for the rest, and no
// error: partial embeddings are usable, a missing question embedding
// is re-embedded on demand.
func (s *Service) EmbedTexts(dctx *deadline.Context, texts []string, kind domain.EmbedKind) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))

	subTimeout := s.cfg.EmbeddingTimeout
	if kind == domain.EmbedQuestion {
		subTimeout = s.cfg.QuestionEmbeddingTimeout
	}
	if subTimeout <= 0 {
		subTimeout = s.cfg.EmbeddingTimeout
	}

	ctx, cancel := context.WithTimeout(dctx.Ctx(), dctx.Clamp(subTimeout))
	defer cancel()

	// Batch failures are localized: a batch that fails on both
	// providers leaves nil holes for its items while sibling batches
	// proceed, so the group context must not be cancelled on error.
	var g errgroup.Group

	batchSize := s.cfg.BatchSize
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		start, end := start, end

		g.Go(func() error {
			vectors, err := s.embedBatch(ctx, texts[start:end])
			if err != nil {
				s.logger.Warn("embedding batch abandoned",
					"kind", kind, "start", start, "end", end, "error", err)
				return nil
			}
			copy(out[start:end], vectors)
			return nil
		})
	}

	_ = g.Wait()

	done := countDone(out)
	if ctx.Err() != nil {
		// Expiry: hand back whatever completed. Not an error.
		s.logger.Warn("embedding cut short by deadline",
			"kind", kind, "texts", len(texts), "completed", done)
		return out, nil
	}
	if done == 0 {
		return out, fmt.Errorf("%w: all %d batches failed", domain.ErrEmbeddingFailed, (len(texts)+batchSize-1)/batchSize)
	}

	s.logger.Debug("embedding complete", "kind", kind, "texts", len(texts), "completed", done)
	return out, nil
}

// embedBatch tries the primary, then falls over to the secondary once
// on failure.
func (s *Service) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := s.primary.EmbedBatch(ctx, texts)
	if err == nil {
		return vectors, nil
	}
	if s.secondary == nil || ctx.Err() != nil {
		return nil, err
	}

	s.logger.Warn("primary embedder failed, falling over", "error", err)
	return s.secondary.EmbedBatch(ctx, texts)
}

// EmbedOne embeds a single text, used for on-demand question
// embedding when pre-embedding did not complete.
func (s *Service) EmbedOne(dctx *deadline.Context, text string) ([]float32, error) {
	vectors, err := s.EmbedTexts(dctx, []string{text}, domain.EmbedQuestion)
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || vectors[0] == nil {
		return nil, fmt.Errorf("%w: no vector produced", domain.ErrEmbeddingFailed)
	}
	return vectors[0], nil
}

func countDone(vectors [][]float32) int {
	n := 0
	for _, v := range vectors {
		if v != nil {
			n++
		}
	}
	return n
}
