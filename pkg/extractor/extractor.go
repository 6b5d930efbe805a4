// Package extractor classifies incoming document bytes and routes
// them to the right per-format extractor, unifying output into a
// domain.Document. Extraction failures degrade to a one-page fallback
// document so downstream QA can still answer "not in document"; they
// are never fatal to the request.
package extractor

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"docuquery/pkg/config"
	"docuquery/pkg/domain"
	"docuquery/pkg/log"
	"docuquery/pkg/security"
)

// Dispatcher detects document types and routes to sub-extractors.
type Dispatcher struct {
	cfg       config.ExtractionConfig
	sanitizer *security.Sanitizer
	secCfg    config.InjectionConfig
	pdfcar    *SidecarClient
	pptxcar   *SidecarClient
	ocr       domain.OCR
	logger    *slog.Logger
}

func NewDispatcher(cfg config.ExtractionConfig, sanitizer *security.Sanitizer, secCfg config.InjectionConfig, ocr domain.OCR) *Dispatcher {
	return &Dispatcher{
		cfg:       cfg,
		sanitizer: sanitizer,
		secCfg:    secCfg,
		pdfcar:    NewSidecarClient(cfg.PythonService),
		pptxcar:   NewSidecarClient(cfg.PptxService),
		ocr:       ocr,
		logger:    log.WithModule("extractor"),
	}
}

// maxRiskFor is the per-source sanitization budget: stricter for
// formats routed through AI providers wholesale.
func maxRiskFor(t domain.DocumentType) int {
	switch t {
	case domain.TypePDF, domain.TypeDOCX:
		return 25
	case domain.TypeEmail:
		return 40
	default:
		return 50
	}
}

// DetectType classifies bytes by the first 8 magic bytes, then zip
// subfile markers for OOXML disambiguation, then filename extension.
func DetectType(data []byte, filename string) (domain.DocumentType, error) {
	if len(data) >= 4 {
		switch {
		case bytes.HasPrefix(data, []byte("%PDF")):
			return domain.TypePDF, nil
		case bytes.HasPrefix(data, []byte("\x89PNG")):
			return domain.TypeImage, nil
		case bytes.HasPrefix(data, []byte("\xFF\xD8\xFF")):
			return domain.TypeImage, nil
		case bytes.HasPrefix(data, []byte("PK\x03\x04")):
			if t, ok := classifyZip(data); ok {
				return t, nil
			}
			// A zip container without OOXML markers: fall through to
			// the extension, else treat as plain zip.
			if t, ok := typeForExtension(filename); ok {
				return t, nil
			}
			return domain.TypeZip, nil
		}
	}

	if t, ok := typeForExtension(filename); ok {
		return t, nil
	}

	return "", fmt.Errorf("%w: %q", domain.ErrUnsupportedType, filename)
}

// classifyZip inspects zip entry names for the OOXML part prefixes.
func classifyZip(data []byte) (domain.DocumentType, bool) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", false
	}
	for _, f := range r.File {
		switch {
		case strings.HasPrefix(f.Name, "word/"):
			return domain.TypeDOCX, true
		case strings.HasPrefix(f.Name, "xl/"):
			return domain.TypeXLSX, true
		case strings.HasPrefix(f.Name, "ppt/"):
			return domain.TypePPTX, true
		}
	}
	return "", false
}

// TypeForFilename classifies by extension alone, for URL routing
// before any bytes exist.
func TypeForFilename(filename string) (domain.DocumentType, bool) {
	return typeForExtension(filename)
}

func typeForExtension(filename string) (domain.DocumentType, bool) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return domain.TypePDF, true
	case ".docx":
		return domain.TypeDOCX, true
	case ".xlsx":
		return domain.TypeXLSX, true
	case ".pptx":
		return domain.TypePPTX, true
	case ".eml", ".msg":
		return domain.TypeEmail, true
	case ".png", ".jpg", ".jpeg":
		return domain.TypeImage, true
	case ".bin":
		return domain.TypeBin, true
	case ".zip":
		return domain.TypeZip, true
	default:
		return "", false
	}
}

// Process extracts text from bytes into a unified Document. The error
// return only fires for unsupported types; per-format failures yield
// a fallback document instead.
func (d *Dispatcher) Process(ctx context.Context, data []byte, filename string) (*domain.Document, error) {
	docType, err := DetectType(data, filename)
	if err != nil {
		return nil, err
	}

	started := time.Now()

	var doc *domain.Document
	switch docType {
	case domain.TypePDF:
		doc = d.extractPDF(ctx, data, filename)
	case domain.TypeDOCX:
		doc = d.extractDOCX(data, filename)
	case domain.TypeXLSX:
		doc = d.extractXLSX(data, filename)
	case domain.TypePPTX:
		doc = d.extractPPTX(ctx, data, filename)
	case domain.TypeEmail:
		doc = d.extractEmail(data, filename)
	case domain.TypeImage:
		doc = d.extractImage(ctx, data, filename)
	default:
		return nil, fmt.Errorf("%w: %s has no byte extractor", domain.ErrUnsupportedType, docType)
	}

	doc.Filename = filename
	doc.Type = docType
	doc.Extraction.Elapsed = time.Since(started)
	if secs := doc.Extraction.Elapsed.Seconds(); secs > 0 {
		doc.Extraction.CharsPerSec = float64(len(doc.FullText)) / secs
	}

	d.sanitizeDocument(doc)

	d.logger.Info("document extracted",
		"filename", filename,
		"type", docType,
		"pages", doc.TotalPages,
		"chars", len(doc.FullText),
		"library", doc.Extraction.Library,
		"elapsed", doc.Extraction.Elapsed,
	)

	return doc, nil
}

// sanitizeDocument runs each page and the full text through the
// prompt-injection filter with the source-specific budget.
func (d *Dispatcher) sanitizeDocument(doc *domain.Document) {
	opts := security.Options{
		Strict:       d.secCfg.StrictMode,
		PreserveURLs: d.secCfg.PreserveURLs,
		MaxRiskScore: maxRiskFor(doc.Type),
	}

	for i, page := range doc.PageTexts {
		sanitized, report := d.sanitizer.SanitizeForAI(page, string(doc.Type), opts)
		doc.PageTexts[i] = sanitized
		if !report.IsSafe {
			d.logger.Warn("page retains injection risk after sanitization",
				"filename", doc.Filename, "page", i+1, "score", report.FinalRiskScore)
		}
	}
	doc.FullText = strings.Join(doc.PageTexts, domain.PageSeparator)
}

// fallbackDocument is the degraded single-page result for a failed
// extraction.
func fallbackDocument(docType domain.DocumentType, reason error) *domain.Document {
	text := fmt.Sprintf("[%s extraction failed: %v]", strings.ToUpper(string(docType)), reason)
	return &domain.Document{
		Type:       docType,
		TotalPages: 1,
		FullText:   text,
		PageTexts:  []string{text},
		Extraction: domain.ExtractionInfo{Library: "none", Method: "fallback"},
	}
}
