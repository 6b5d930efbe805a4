// Package webcontext handles non-document URLs: it scrapes the page,
// isolates the main article content, and converts it into retrieval
// chunks so the QA pipeline can run unchanged.
package webcontext

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"docuquery/pkg/chunker"
	"docuquery/pkg/config"
	"docuquery/pkg/deadline"
	"docuquery/pkg/domain"
	"docuquery/pkg/log"
)

// maxPageBytes caps how much HTML is read from a scraped page.
const maxPageBytes = 8 << 20

// Service scrapes a URL into markdown chunks.
type Service struct {
	client  *http.Client
	chunker *chunker.Service
	logger  *slog.Logger
}

func New(client *http.Client) *Service {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	// Web pages have no page structure, so chunking is always
	// recursive here regardless of the document strategy.
	webChunking := config.ChunkingConfig{
		Recursive: config.RecursiveConfig{Enabled: true, ChunkSize: 2000, ChunkOverlap: 200},
	}
	return &Service{
		client:  client,
		chunker: chunker.New(webChunking),
		logger:  log.WithModule("webcontext"),
	}
}

// Enrich fetches the page and returns its content as chunks. An empty
// slice with nil error means the page had no readable content; the
// coordinator maps that to the no-web-content answer.
func (s *Service) Enrich(dctx *deadline.Context, pageURL string) ([]domain.Chunk, error) {
	html, err := s.fetch(dctx, pageURL)
	if err != nil {
		return nil, err
	}

	content := s.mainContent(html, pageURL)
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	markdown, err := htmltomarkdown.ConvertString(content)
	if err != nil || strings.TrimSpace(markdown) == "" {
		// Conversion failure is not fatal: chunk the raw text.
		markdown = content
	}

	chunks := s.chunker.Chunk([]string{markdown}, markdown, pageURL)
	s.logger.Info("web context scraped", "url", pageURL, "chars", len(markdown), "chunks", len(chunks))
	return chunks, nil
}

func (s *Service) fetch(dctx *deadline.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(dctx.Ctx(), http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrFetchFailed, err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; docuquery/1.0)")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrFetchFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d for %s", domain.ErrFetchFailed, resp.StatusCode, pageURL)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrFetchFailed, err)
	}
	return string(raw), nil
}

// mainContent runs readability extraction, falling back to a goquery
// sweep of headline/paragraph/list nodes when readability finds
// nothing.
func (s *Service) mainContent(html, pageURL string) string {
	parsed, _ := url.Parse(pageURL)

	article, err := readability.FromReader(strings.NewReader(html), parsed)
	if err == nil && strings.TrimSpace(article.Content) != "" {
		return article.Content
	}
	if err != nil {
		s.logger.Debug("readability extraction failed", "url", pageURL, "error", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	doc.Find("script, style, nav, footer, aside").Remove()

	var b strings.Builder
	doc.Find("h1, h2, h3, p, li, td").Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if text != "" {
			b.WriteString(text)
			b.WriteString("\n\n")
		}
	})
	return b.String()
}
