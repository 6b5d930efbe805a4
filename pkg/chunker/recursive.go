package chunker

import (
	"strings"
	"unicode"

	"docuquery/pkg/domain"
)

// recursiveSeparators is the fixed priority list: paragraph break,
// line break, word break, then character-level hard split.
var recursiveSeparators = []string{"\n\n", "\n", " ", ""}

// recursiveChunks splits fullText by separator priority, merging
// splits back together up to chunkSize with chunkOverlap carried
// between successive chunks. Chunks record themselves as
// character-wise (see domain.ChunkMetadata).
func (s *Service) recursiveChunks(fullText string, chunkSize, chunkOverlap int) []domain.Chunk {
	if chunkSize <= 0 {
		chunkSize = 2000
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 10
	}

	pageTexts := strings.Split(fullText, domain.PageSeparator)
	pieces := splitRecursive(fullText, recursiveSeparators, chunkSize)
	merged := mergePieces(pieces, chunkSize, chunkOverlap)

	var chunks []domain.Chunk
	searchFrom := 0
	for _, piece := range merged {
		content, ok := trimmed(piece)
		if !ok {
			continue
		}

		// Locate the piece in the original text for page attribution.
		// Overlapping chunks repeat text, so the search window only
		// moves forward past the unique head of each chunk.
		offset := strings.Index(fullText[searchFrom:], content)
		if offset < 0 {
			offset = 0
		} else {
			offset += searchFrom
			advance := len(content) - chunkOverlap
			if advance < 1 {
				advance = 1
			}
			searchFrom = offset + advance
		}

		chunks = append(chunks, domain.Chunk{
			PageNumber: pageOfOffset(pageTexts, offset),
			Content:    content,
			Metadata: domain.ChunkMetadata{
				ChunkType:        domain.ChunkTypeCharacterWise,
				StartIndex:       offset,
				EndIndex:         offset + len(content),
				CharacterCount:   len(content),
				CompleteSentence: looksLikeSentence(content),
				ParagraphStart:   strings.HasPrefix(piece, "\n") || offset == 0,
				ParagraphEnd:     strings.HasSuffix(strings.TrimRight(piece, " "), "\n") || strings.HasSuffix(content, "."),
			},
		})
	}

	return chunks
}

// splitRecursive breaks text on the highest-priority separator that
// still leaves oversized splits, recursing into those with the next
// separator down.
func splitRecursive(text string, separators []string, chunkSize int) []string {
	if len(text) <= chunkSize || len(separators) == 0 {
		return []string{text}
	}

	sep := separators[0]
	rest := separators[1:]

	var parts []string
	if sep == "" {
		// Character-level hard split.
		runes := []rune(text)
		for i := 0; i < len(runes); i += chunkSize {
			end := i + chunkSize
			if end > len(runes) {
				end = len(runes)
			}
			parts = append(parts, string(runes[i:end]))
		}
		return parts
	}

	for _, piece := range strings.Split(text, sep) {
		if piece == "" {
			continue
		}
		if len(piece) > chunkSize {
			parts = append(parts, splitRecursive(piece, rest, chunkSize)...)
		} else {
			parts = append(parts, piece)
		}
	}
	if len(parts) == 0 {
		return []string{text}
	}
	return parts
}

// mergePieces greedily packs splits into chunks of at most chunkSize,
// seeding each new chunk with the tail of the previous one.
func mergePieces(pieces []string, chunkSize, overlap int) []string {
	var out []string
	var current strings.Builder

	flush := func() string {
		if current.Len() == 0 {
			return ""
		}
		chunk := current.String()
		out = append(out, chunk)
		current.Reset()

		if overlap > 0 {
			runes := []rune(chunk)
			if len(runes) > overlap {
				runes = runes[len(runes)-overlap:]
			}
			return string(runes)
		}
		return ""
	}

	for _, piece := range pieces {
		if current.Len() > 0 && current.Len()+1+len(piece) > chunkSize {
			carry := flush()
			if carry != "" {
				current.WriteString(carry)
				current.WriteString(" ")
			}
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(piece)
	}
	flush()

	return out
}

// looksLikeSentence reports whether the chunk reads as a complete
// sentence: ends with closing punctuation and starts with a capital,
// digit, or bullet. Informational only.
func looksLikeSentence(content string) bool {
	r := []rune(content)
	last := r[len(r)-1]
	if !strings.ContainsRune(".!?;:", last) {
		return false
	}
	first := r[0]
	return unicode.IsUpper(first) || unicode.IsDigit(first) || first == '-' || first == '*' || first == '•'
}
