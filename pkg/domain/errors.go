package domain

import "errors"

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnsupportedType    = errors.New("unsupported document type")
	ErrFetchFailed        = errors.New("document fetch failed")
	ErrExtractionFailed   = errors.New("text extraction failed")
	ErrEmbeddingFailed    = errors.New("embedding generation failed")
	ErrGenerationFailed   = errors.New("text generation failed")
	ErrChunkingFailed     = errors.New("text chunking failed")
	ErrServiceUnavailable = errors.New("service unavailable")
)
