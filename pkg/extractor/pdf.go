package extractor

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	pdf "github.com/dslipak/pdf"

	"docuquery/pkg/domain"
)

// extractPDF routes to the configured method and, when fallback is
// enabled, retries once with the other method before degrading to the
// fallback document. Pages are preserved 1:1.
func (d *Dispatcher) extractPDF(ctx context.Context, data []byte, filename string) *domain.Document {
	primary := d.cfg.PDFMethod
	secondary := "native"
	if primary == "native" || primary == "unpdf" {
		primary, secondary = "native", "python-pymupdf"
	}

	doc, err := d.extractPDFWith(ctx, primary, data, filename)
	if err == nil {
		return doc
	}
	d.logger.Warn("pdf extraction failed", "method", primary, "filename", filename, "error", err)

	if d.cfg.FallbackEnabled {
		doc, ferr := d.extractPDFWith(ctx, secondary, data, filename)
		if ferr == nil {
			return doc
		}
		d.logger.Warn("pdf fallback extraction failed", "method", secondary, "filename", filename, "error", ferr)
	}

	return fallbackDocument(domain.TypePDF, err)
}

func (d *Dispatcher) extractPDFWith(ctx context.Context, method string, data []byte, filename string) (*domain.Document, error) {
	switch method {
	case "python-pymupdf":
		return d.extractPDFSidecar(ctx, data, filename)
	default:
		return extractPDFNative(data)
	}
}

func (d *Dispatcher) extractPDFSidecar(ctx context.Context, data []byte, filename string) (*domain.Document, error) {
	resp, err := d.pdfcar.Extract(ctx, "/extract-text", data, filename)
	if err != nil {
		return nil, err
	}
	if len(resp.Pages) == 0 {
		return nil, fmt.Errorf("%w: sidecar returned no pages", domain.ErrExtractionFailed)
	}

	pageTexts := make([]string, len(resp.Pages))
	for i, page := range resp.Pages {
		pageTexts[i] = page.Text
	}

	return &domain.Document{
		TotalPages: len(pageTexts),
		PageTexts:  pageTexts,
		FullText:   strings.Join(pageTexts, domain.PageSeparator),
		Extraction: domain.ExtractionInfo{
			Library: "python-pymupdf",
			Method:  resp.ExtractionMethod,
		},
	}, nil
}

// extractPDFNative uses the pure-Go reader. Some PDFs make the reader
// panic on malformed xref tables; that is contained here and reported
// as an extraction error.
func extractPDFNative(data []byte) (doc *domain.Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc = nil
			err = fmt.Errorf("%w: pdf reader panic: %v", domain.ErrExtractionFailed, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExtractionFailed, err)
	}

	numPages := reader.NumPage()
	if numPages == 0 {
		return nil, fmt.Errorf("%w: pdf has no pages", domain.ErrExtractionFailed)
	}

	pageTexts := make([]string, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pageTexts = append(pageTexts, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			text = ""
		}
		pageTexts = append(pageTexts, text)
	}

	return &domain.Document{
		TotalPages: len(pageTexts),
		PageTexts:  pageTexts,
		FullText:   strings.Join(pageTexts, domain.PageSeparator),
		Extraction: domain.ExtractionInfo{
			Library: "dslipak/pdf",
			Method:  "native",
		},
	}, nil
}
