package extractor

import (
	"context"
	"fmt"
	"strings"

	"docuquery/pkg/domain"
)

// extractImage runs OCR over the image bytes and returns the result
// as a single page. Without a configured OCR backend the document
// degrades to a fallback page, which the QA layer answers against.
func (d *Dispatcher) extractImage(ctx context.Context, data []byte, filename string) *domain.Document {
	if d.ocr == nil {
		return fallbackDocument(domain.TypeImage, fmt.Errorf("%w: no OCR backend configured", domain.ErrExtractionFailed))
	}

	text, err := d.ocr.Extract(ctx, data)
	if err != nil {
		return fallbackDocument(domain.TypeImage, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fallbackDocument(domain.TypeImage, fmt.Errorf("%w: image yielded no text", domain.ErrExtractionFailed))
	}

	return &domain.Document{
		TotalPages: 1,
		PageTexts:  []string{text},
		FullText:   text,
		Extraction: domain.ExtractionInfo{
			Library: "ocr",
			Method:  "vision",
		},
	}
}
