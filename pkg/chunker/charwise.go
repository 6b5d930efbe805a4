package chunker

import (
	"strings"

	"docuquery/pkg/config"
	"docuquery/pkg/domain"
)

// characterChunks slides a window of chunkSize over the text with the
// configured overlap. The cut point prefers the last sentence end,
// newline, or space inside the window, provided it sits past
// chunkSize*minChunkSizeRatio; otherwise the window is hard-cut.
func (s *Service) characterChunks(fullText string, cfg config.CharacterWiseConfig) []domain.Chunk {
	pageTexts := strings.Split(fullText, domain.PageSeparator)

	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 4000
	}
	overlap := cfg.Overlap
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize - 1
	}
	minRatio := cfg.MinChunkSizeRatio
	if minRatio <= 0 || minRatio > 1 {
		minRatio = 0.5
	}

	var chunks []domain.Chunk
	runes := []rune(fullText)

	for start := 0; start < len(runes); {
		end := start + chunkSize
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = start + breakPoint(runes[start:end], int(float64(chunkSize)*minRatio))
		}

		content, ok := trimmed(string(runes[start:end]))
		if ok {
			byteStart := len(string(runes[:start]))
			chunks = append(chunks, domain.Chunk{
				PageNumber: pageOfOffset(pageTexts, byteStart),
				Content:    content,
				Metadata: domain.ChunkMetadata{
					ChunkType:      domain.ChunkTypeCharacterWise,
					StartIndex:     start,
					EndIndex:       end,
					CharacterCount: len(content),
				},
			})
		}

		if end >= len(runes) {
			break
		}
		next := end - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}

	return chunks
}

// breakPoint returns the cut offset within window: one past the last
// '.', '\n', or space found at or beyond minOffset, else the full
// window length.
func breakPoint(window []rune, minOffset int) int {
	for i := len(window) - 1; i >= minOffset; i-- {
		switch window[i] {
		case '.', '\n', ' ':
			return i + 1
		}
	}
	return len(window)
}
