package extractor

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"docuquery/pkg/domain"
)

// Semantic chunking constants for office formats: each "page" in the
// unified document is a bounded-token chunk with sentence-level (or
// row-level for spreadsheets) overlap. Token estimate is ceil(chars/4).
const (
	MaxTokensPerChunk = 1000
	MinTokensPerChunk = 200
	OverlapSentences  = 2
	OverlapRows       = 2
)

func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// ---- DOCX ----

func (d *Dispatcher) extractDOCX(data []byte, filename string) *domain.Document {
	paragraphs, err := readDocxParagraphs(data)
	if err != nil {
		return fallbackDocument(domain.TypeDOCX, err)
	}

	fullText := strings.Join(paragraphs, "\n")
	pageTexts := semanticChunkSentences(fullText)

	return &domain.Document{
		TotalPages: len(pageTexts),
		PageTexts:  pageTexts,
		FullText:   strings.Join(pageTexts, domain.PageSeparator),
		Extraction: domain.ExtractionInfo{
			Library: "archive/zip+encoding/xml",
			Method:  "ooxml",
		},
	}
}

func readDocxParagraphs(data []byte) ([]string, error) {
	body, err := readZipEntry(data, "word/document.xml")
	if err != nil {
		return nil, err
	}
	paragraphs := wordMLParagraphs(body)
	if len(paragraphs) == 0 {
		return nil, fmt.Errorf("%w: document.xml contains no text", domain.ErrExtractionFailed)
	}
	return paragraphs, nil
}

// wordMLParagraphs walks WordprocessingML, collecting <w:t> runs and
// breaking paragraphs on </w:p>.
func wordMLParagraphs(body []byte) []string {
	decoder := xml.NewDecoder(bytes.NewReader(body))

	var paragraphs []string
	var current strings.Builder
	inText := false

	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
			if t.Name.Local == "tab" {
				current.WriteString("\t")
			}
			if t.Name.Local == "br" {
				current.WriteString("\n")
			}
		case xml.EndElement:
			if t.Name.Local == "t" {
				inText = false
			}
			if t.Name.Local == "p" {
				if para := strings.TrimSpace(current.String()); para != "" {
					paragraphs = append(paragraphs, para)
				}
				current.Reset()
			}
		case xml.CharData:
			if inText {
				current.Write(t)
			}
		}
	}
	if para := strings.TrimSpace(current.String()); para != "" {
		paragraphs = append(paragraphs, para)
	}
	return paragraphs
}

// ---- XLSX ----

func (d *Dispatcher) extractXLSX(data []byte, filename string) *domain.Document {
	rows, err := readXlsxRows(data)
	if err != nil {
		return fallbackDocument(domain.TypeXLSX, err)
	}

	pageTexts := semanticChunkRows(rows)

	return &domain.Document{
		TotalPages: len(pageTexts),
		PageTexts:  pageTexts,
		FullText:   strings.Join(pageTexts, domain.PageSeparator),
		Extraction: domain.ExtractionInfo{
			Library: "archive/zip+encoding/xml",
			Method:  "ooxml",
		},
	}
}

// readXlsxRows flattens every worksheet into tab-separated row lines,
// resolving shared strings.
func readXlsxRows(data []byte) ([]string, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExtractionFailed, err)
	}

	shared := readSharedStrings(r)

	var sheetNames []string
	for _, f := range r.File {
		if strings.HasPrefix(f.Name, "xl/worksheets/sheet") && strings.HasSuffix(f.Name, ".xml") {
			sheetNames = append(sheetNames, f.Name)
		}
	}
	sort.Strings(sheetNames)
	if len(sheetNames) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", domain.ErrExtractionFailed)
	}

	var rows []string
	for _, name := range sheetNames {
		body, err := readZipEntry(data, name)
		if err != nil {
			continue
		}
		rows = append(rows, sheetRows(body, shared)...)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: workbook contains no cell data", domain.ErrExtractionFailed)
	}
	return rows, nil
}

func readSharedStrings(r *zip.Reader) []string {
	for _, f := range r.File {
		if f.Name != "xl/sharedStrings.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil
		}
		defer func() { _ = rc.Close() }()

		var out []string
		decoder := xml.NewDecoder(rc)
		var current strings.Builder
		depth := 0
		inString := false
		for {
			tok, err := decoder.Token()
			if err != nil {
				break
			}
			switch t := tok.(type) {
			case xml.StartElement:
				if t.Name.Local == "si" {
					inString = true
					current.Reset()
				}
				if t.Name.Local == "t" {
					depth++
				}
			case xml.EndElement:
				if t.Name.Local == "t" {
					depth--
				}
				if t.Name.Local == "si" {
					inString = false
					out = append(out, current.String())
				}
			case xml.CharData:
				if inString && depth > 0 {
					current.Write(t)
				}
			}
		}
		return out
	}
	return nil
}

// sheetRows decodes one worksheet into "cell<TAB>cell" lines.
func sheetRows(body []byte, shared []string) []string {
	type cell struct {
		Ref   string `xml:"r,attr"`
		Type  string `xml:"t,attr"`
		Value string `xml:"v"`
		Is    struct {
			T string `xml:"t"`
		} `xml:"is"`
	}
	type row struct {
		Cells []cell `xml:"c"`
	}
	type sheet struct {
		Rows []row `xml:"sheetData>row"`
	}

	var parsed sheet
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return nil
	}

	var lines []string
	for _, r := range parsed.Rows {
		var values []string
		for _, c := range r.Cells {
			v := c.Value
			switch c.Type {
			case "s":
				if idx, err := strconv.Atoi(c.Value); err == nil && idx >= 0 && idx < len(shared) {
					v = shared[idx]
				}
			case "inlineStr":
				v = c.Is.T
			}
			if strings.TrimSpace(v) != "" {
				values = append(values, v)
			}
		}
		if len(values) > 0 {
			lines = append(lines, strings.Join(values, "\t"))
		}
	}
	return lines
}

// ---- PPTX ----

// extractPPTX prefers the pptx sidecar when configured, falling back
// to direct OOXML slide parsing.
func (d *Dispatcher) extractPPTX(ctx context.Context, data []byte, filename string) *domain.Document {
	if d.cfg.PptxService.URL != "" {
		if resp, err := d.pptxcar.Extract(ctx, "/process-pptx", data, filename); err == nil && len(resp.Pages) > 0 {
			slides := make([]string, len(resp.Pages))
			for i, page := range resp.Pages {
				slides[i] = page.Text
			}
			return pptxDocument(slides, "pptx-sidecar", resp.ExtractionMethod)
		} else if err != nil {
			d.logger.Warn("pptx sidecar failed, parsing locally", "filename", filename, "error", err)
		}
	}

	slides, err := readPptxSlides(data)
	if err != nil {
		return fallbackDocument(domain.TypePPTX, err)
	}
	return pptxDocument(slides, "archive/zip+encoding/xml", "ooxml")
}

func pptxDocument(slides []string, library, method string) *domain.Document {
	pageTexts := semanticChunkSentences(strings.Join(slides, "\n\n"))
	return &domain.Document{
		TotalPages: len(pageTexts),
		PageTexts:  pageTexts,
		FullText:   strings.Join(pageTexts, domain.PageSeparator),
		Extraction: domain.ExtractionInfo{Library: library, Method: method},
	}
}

var slideNameRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

func readPptxSlides(data []byte) ([]string, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExtractionFailed, err)
	}

	numbered := map[int]string{}
	var order []int
	for _, f := range r.File {
		m := slideNameRe.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		body, err := readZipEntry(data, f.Name)
		if err != nil {
			continue
		}
		// DrawingML text runs use <a:t>, same shape as WordML's <w:t>.
		text := strings.Join(wordMLParagraphs(body), "\n")
		if strings.TrimSpace(text) != "" {
			numbered[n] = text
			order = append(order, n)
		}
	}
	if len(order) == 0 {
		return nil, fmt.Errorf("%w: presentation has no slide text", domain.ErrExtractionFailed)
	}

	sort.Ints(order)
	slides := make([]string, 0, len(order))
	for _, n := range order {
		slides = append(slides, numbered[n])
	}
	return slides, nil
}

// ---- shared helpers ----

func readZipEntry(data []byte, name string) ([]byte, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExtractionFailed, err)
	}
	for _, f := range r.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: open %s: %v", domain.ErrExtractionFailed, name, err)
		}
		defer func() { _ = rc.Close() }()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("%w: missing zip entry %s", domain.ErrExtractionFailed, name)
}

var sentenceSplitRe = regexp.MustCompile(`(?m)([^.!?\n]+[.!?\n]+|[^.!?\n]+$)`)

// semanticChunkSentences packs sentences into bounded-token pages with
// OverlapSentences carried between successive pages.
func semanticChunkSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return []string{""}
	}

	sentences := sentenceSplitRe.FindAllString(text, -1)
	for i := range sentences {
		sentences[i] = strings.TrimSpace(sentences[i])
	}

	return packUnits(sentences, OverlapSentences)
}

// semanticChunkRows packs spreadsheet rows into bounded-token pages
// with OverlapRows carried between successive pages.
func semanticChunkRows(rows []string) []string {
	return packUnits(rows, OverlapRows)
}

// packUnits greedily fills pages up to MaxTokensPerChunk, closing a
// page early only once it holds at least MinTokensPerChunk, and seeds
// each new page with the previous page's last overlap units.
func packUnits(units []string, overlap int) []string {
	var pages []string
	var current []string
	tokens := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		pages = append(pages, strings.Join(current, "\n"))

		carry := overlap
		if carry > len(current) {
			carry = len(current)
		}
		seed := append([]string(nil), current[len(current)-carry:]...)
		current = seed
		tokens = 0
		for _, u := range current {
			tokens += estimateTokens(u)
		}
	}

	for _, unit := range units {
		if unit == "" {
			continue
		}
		t := estimateTokens(unit)
		if tokens+t > MaxTokensPerChunk && tokens >= MinTokensPerChunk {
			flush()
		}
		current = append(current, unit)
		tokens += t
	}
	if len(current) > 0 {
		// Avoid emitting a page that is only the carried overlap.
		pages = append(pages, strings.Join(current, "\n"))
	}

	if len(pages) == 0 {
		return []string{""}
	}
	return pages
}
