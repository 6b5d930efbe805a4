package chunker

import (
	"strings"

	"docuquery/pkg/domain"
)

// pageChunks merges consecutive pages so each chunk carries
// pagesPerChunk pages. With pagesPerChunk=1 the output round-trips:
// exactly len(pageTexts) chunks whose joined content equals the full
// text modulo separators.
func (s *Service) pageChunks(pageTexts []string, pagesPerChunk int) []domain.Chunk {
	if pagesPerChunk < 1 {
		pagesPerChunk = 1
	}

	var chunks []domain.Chunk
	for start := 0; start < len(pageTexts); start += pagesPerChunk {
		end := start + pagesPerChunk
		if end > len(pageTexts) {
			end = len(pageTexts)
		}

		content, ok := trimmed(strings.Join(pageTexts[start:end], domain.PageSeparator))
		if !ok {
			continue
		}

		chunks = append(chunks, domain.Chunk{
			PageNumber: start + 1,
			Content:    content,
			Metadata: domain.ChunkMetadata{
				ChunkType:      domain.ChunkTypePageWise,
				EndPageNumber:  end,
				PagesInChunk:   end - start,
				CharacterCount: len(content),
			},
		})
	}

	return chunks
}
