// Package chunker turns extracted page texts into retrieval chunks.
// Three strategies exist; configuration selects one with precedence
// recursive > character-wise > page-wise (default).
package chunker

import (
	"strings"

	"docuquery/pkg/config"
	"docuquery/pkg/domain"
	"docuquery/pkg/log"
)

type Service struct {
	cfg config.ChunkingConfig
}

func New(cfg config.ChunkingConfig) *Service {
	return &Service{cfg: cfg}
}

// Chunk produces the chunk set for a document. Every returned chunk
// has trimmed non-empty content and PageNumber >= 1.
func (s *Service) Chunk(pageTexts []string, fullText string, filename string) []domain.Chunk {
	var chunks []domain.Chunk

	switch {
	case s.cfg.Recursive.Enabled:
		chunks = s.recursiveChunks(fullText, s.cfg.Recursive.ChunkSize, s.cfg.Recursive.ChunkOverlap)
	case s.cfg.CharacterWise.Enabled:
		chunks = s.characterChunks(fullText, s.cfg.CharacterWise)
	default:
		chunks = s.pageChunks(pageTexts, s.cfg.PageWise.PagesPerChunk)
	}

	log.Debug("document chunked",
		"filename", filename,
		"pages", len(pageTexts),
		"chunks", len(chunks),
		"strategy", s.strategyName(),
	)

	return chunks
}

func (s *Service) strategyName() string {
	switch {
	case s.cfg.Recursive.Enabled:
		return "recursive"
	case s.cfg.CharacterWise.Enabled:
		return "character-wise"
	default:
		return "page-wise"
	}
}

// pageOfOffset maps a character offset in fullText back to a 1-based
// page number, given the page texts joined by domain.PageSeparator.
func pageOfOffset(pageTexts []string, offset int) int {
	pos := 0
	for i, page := range pageTexts {
		pos += len(page)
		if offset < pos {
			return i + 1
		}
		pos += len(domain.PageSeparator)
	}
	if len(pageTexts) == 0 {
		return 1
	}
	return len(pageTexts)
}

func trimmed(text string) (string, bool) {
	t := strings.TrimSpace(text)
	return t, t != ""
}
