package domain

import (
	"context"
	"strings"
	"time"
)

// DocumentType identifies the format a document was extracted from.
type DocumentType string

const (
	TypePDF   DocumentType = "pdf"
	TypeDOCX  DocumentType = "docx"
	TypeEmail DocumentType = "email"
	TypeImage DocumentType = "image"
	TypeXLSX  DocumentType = "xlsx"
	TypePPTX  DocumentType = "pptx"
	TypeBin   DocumentType = "bin"
	TypeZip   DocumentType = "zip"
	TypeWeb   DocumentType = "web"
)

// PageSeparator joins PageTexts into FullText.
const PageSeparator = "\n---\n"

// Document is the unified output of every extractor.
// Invariant: len(PageTexts) == TotalPages, and FullText is
// strings.Join(PageTexts, PageSeparator) modulo sanitization.
// URL-only types (bin, zip) carry a synthesized metadata report with
// TotalPages == 0 and no chunks.
type Document struct {
	Filename   string         `json:"filename"`
	Type       DocumentType   `json:"type"`
	TotalPages int            `json:"total_pages"`
	FullText   string         `json:"full_text"`
	PageTexts  []string       `json:"page_texts"`
	Chunks     []Chunk        `json:"chunks,omitempty"`
	Extraction ExtractionInfo `json:"extraction"`
}

// ExtractionInfo records how a document's text was produced.
type ExtractionInfo struct {
	Library     string        `json:"library"`
	Method      string        `json:"method"`
	Elapsed     time.Duration `json:"elapsed"`
	CharsPerSec float64       `json:"chars_per_sec,omitempty"`
}

// Chunk is the unit of retrieval: a bounded text fragment with
// positional metadata. Content is always trimmed and non-empty;
// PageNumber >= 1 for document chunks.
type Chunk struct {
	PageNumber int           `json:"page_number"`
	Content    string        `json:"content"`
	Metadata   ChunkMetadata `json:"metadata"`
}

// ChunkMetadata carries strategy-specific positional data.
// ChunkType only ever holds "page-wise" or "character-wise"; the
// recursive strategy records itself as character-wise for
// compatibility with older consumers.
type ChunkMetadata struct {
	ChunkType        string `json:"chunk_type"`
	StartIndex       int    `json:"start_index,omitempty"`
	EndIndex         int    `json:"end_index,omitempty"`
	EndPageNumber    int    `json:"end_page_number,omitempty"`
	PagesInChunk     int    `json:"pages_in_chunk,omitempty"`
	CharacterCount   int    `json:"character_count,omitempty"`
	CompleteSentence bool   `json:"complete_sentence,omitempty"`
	ParagraphStart   bool   `json:"paragraph_start,omitempty"`
	ParagraphEnd     bool   `json:"paragraph_end,omitempty"`
}

const (
	ChunkTypePageWise      = "page-wise"
	ChunkTypeCharacterWise = "character-wise"
)

// EmbeddedChunk pairs a chunk with its vector. All vectors within one
// request share the embedding model's dimension.
type EmbeddedChunk struct {
	ChunkID int       `json:"chunk_id"`
	Vector  []float32 `json:"vector"`
	Chunk   Chunk     `json:"chunk"`
}

// RiskLevel bands a prompt-injection risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskAssessment is the sanitizer's verdict for a piece of text.
// Score is clamped to [0,100]; bands: <25 low, <50 medium, <75 high,
// >=75 critical.
type RiskAssessment struct {
	Score            int       `json:"score"`
	Risk             RiskLevel `json:"risk"`
	DetectedPatterns []string  `json:"detected_patterns,omitempty"`
}

// SecurityReport summarizes a full sanitize-for-AI pass.
type SecurityReport struct {
	InitialRiskScore int      `json:"initial_risk_score"`
	FinalRiskScore   int      `json:"final_risk_score"`
	RiskReduction    int      `json:"risk_reduction_percent"`
	IsSafe           bool     `json:"is_safe"`
	AppliedFilters   []string `json:"applied_filters,omitempty"`
	Recommendations  []string `json:"recommendations,omitempty"`
}

// EmbedKind distinguishes the two embedding flows that run per request.
type EmbedKind string

const (
	EmbedChunk    EmbedKind = "chunk"
	EmbedQuestion EmbedKind = "question"
)

// Embedder is the narrow embedding capability the pipeline consumes.
// Output preserves input order and length; all vectors share one
// dimension.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator is the narrow completion capability the QA orchestrator
// consumes. Stream invokes callback once per token delta until
// end-of-stream or ctx cancellation.
type Generator interface {
	Stream(ctx context.Context, system, user string, callback func(token string)) error
}

// OCR extracts text from image bytes.
type OCR interface {
	Extract(ctx context.Context, data []byte) (string, error)
}

// SearchResult is one vector-index hit.
type SearchResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// NormalizeAnswer collapses newlines and whitespace runs into single
// spaces and trims, per the answer contract.
func NormalizeAnswer(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
