// Package pipeline glues one request end to end: deadline, input
// validation, question screening, document acquisition, extraction,
// chunking, embedding, indexing, and QA dispatch. Every exit path
// completes the deadline and returns one answer per question.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"docuquery/pkg/chunker"
	"docuquery/pkg/config"
	"docuquery/pkg/deadline"
	"docuquery/pkg/domain"
	"docuquery/pkg/embedder"
	"docuquery/pkg/extractor"
	"docuquery/pkg/index"
	"docuquery/pkg/log"
	"docuquery/pkg/qa"
	"docuquery/pkg/security"
	"docuquery/pkg/webcontext"
)

// Request is one question-answering job: a document by URL or bytes,
// plus the questions to answer against it.
type Request struct {
	DocumentURL string
	Upload      []byte
	UploadName  string
	Questions   []string
}

// Response always carries len(Answers) == len(Request.Questions).
type Response struct {
	Answers []string `json:"answers"`
}

// Coordinator owns the per-request pipeline. It is safe for
// concurrent use; all per-request state lives on the stack.
type Coordinator struct {
	cfg        *config.Config
	deadlines  *deadline.Controller
	sanitizer  *security.Sanitizer
	dispatcher *extractor.Dispatcher
	chunker    *chunker.Service
	embedder   *embedder.Service
	web        *webcontext.Service
	qa         *qa.Orchestrator
	downloader *http.Client
	logger     *slog.Logger
}

func New(
	cfg *config.Config,
	deadlines *deadline.Controller,
	sanitizer *security.Sanitizer,
	dispatcher *extractor.Dispatcher,
	chk *chunker.Service,
	emb *embedder.Service,
	web *webcontext.Service,
	orchestrator *qa.Orchestrator,
) *Coordinator {
	return &Coordinator{
		cfg:        cfg,
		deadlines:  deadlines,
		sanitizer:  sanitizer,
		dispatcher: dispatcher,
		chunker:    chk,
		embedder:   emb,
		web:        web,
		qa:         orchestrator,
		downloader: &http.Client{Timeout: 0}, // per-request ctx governs
		logger:     log.WithModule("pipeline"),
	}
}

// Run executes the pipeline. The returned error is only non-nil for
// conditions the HTTP layer maps to 400: invalid input or a failed
// document download. Everything else degrades to placeholder answers.
func (c *Coordinator) Run(req Request) (*Response, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	dctx := c.deadlines.Start(requestID, c.cfg.GlobalTimer.Timeout())
	defer c.deadlines.Complete(requestID)

	started := time.Now()
	questionsTotal.Add(float64(len(req.Questions)))

	// A zero-second enabled timer means the request is expired before
	// it begins.
	if c.cfg.GlobalTimer.Enabled && c.cfg.GlobalTimer.Timeout() <= 0 {
		requestsTotal.WithLabelValues("timeout").Inc()
		return uniformResponse(len(req.Questions), domain.TimeoutAnswer), nil
	}

	screened, blocked := c.screenQuestions(req.Questions)

	// Blocked questions never enter the pipeline: they cost no
	// embedding and no provider call. Only the survivors are dispatched
	// and their answers scattered back into the original positions.
	active := make([]string, 0, len(screened))
	origIdx := make([]int, 0, len(screened))
	for i, q := range screened {
		if _, isBlocked := blocked[i]; isBlocked {
			continue
		}
		active = append(active, q)
		origIdx = append(origIdx, i)
	}

	answers := make([]string, len(req.Questions))
	for i, placeholder := range blocked {
		answers[i] = placeholder
	}

	if len(active) > 0 {
		resp, err := c.run(dctx, req, active)
		if err != nil {
			requestsTotal.WithLabelValues("failed").Inc()
			return nil, err
		}
		for j, a := range resp.Answers {
			answers[origIdx[j]] = a
		}
	}

	requestsTotal.WithLabelValues("ok").Inc()
	c.logger.Info("request complete",
		"request", requestID,
		"questions", len(req.Questions),
		"blocked", len(blocked),
		"elapsed", time.Since(started),
	)
	return &Response{Answers: answers}, nil
}

func validate(req Request) error {
	if len(req.Questions) == 0 {
		return fmt.Errorf("%w: questions must be a non-empty array", domain.ErrInvalidInput)
	}
	for i, q := range req.Questions {
		if strings.TrimSpace(q) == "" {
			return fmt.Errorf("%w: question %d is empty", domain.ErrInvalidInput, i)
		}
	}
	if req.DocumentURL == "" && len(req.Upload) == 0 {
		return fmt.Errorf("%w: a document URL or upload is required", domain.ErrInvalidInput)
	}
	return nil
}

// screenQuestions applies the per-question risk policy: blocked
// questions map index to their placeholder answer and are excluded
// from dispatch entirely; the rest are sanitized in place.
func (c *Coordinator) screenQuestions(questions []string) ([]string, map[int]string) {
	opts := security.Options{
		Strict:        c.cfg.Security.PromptInjectionProtection.StrictMode,
		PreserveURLs:  c.cfg.Security.PromptInjectionProtection.PreserveURLs,
		MaxRiskScore:  c.cfg.Security.PromptInjectionProtection.MaxRiskScore,
		BlockHighRisk: c.cfg.Security.PromptInjectionProtection.BlockHighRiskRequests,
	}

	screened := make([]string, len(questions))
	blocked := make(map[int]string)
	for i, q := range questions {
		result, isBlocked := c.sanitizer.ScreenQuestion(q, opts)
		if isBlocked {
			blocked[i] = result
			continue
		}
		screened[i] = result
	}
	return screened, blocked
}

func (c *Coordinator) run(dctx *deadline.Context, req Request, questions []string) (*Response, error) {
	var (
		doc         *domain.Document
		preEmbedded [][]float32
	)

	switch {
	case req.DocumentURL != "":
		baseName, urlType, recognized := classifyURL(req.DocumentURL)

		// Archives and raw binaries are never downloaded; a header
		// probe records what was refused and every question gets the
		// rejection answer.
		if urlType == domain.TypeBin || urlType == domain.TypeZip {
			if meta, err := extractor.ProbeURL(dctx.Ctx(), nil, req.DocumentURL); err == nil {
				c.logger.Info("oversize document rejected",
					"request", dctx.ID, "url", req.DocumentURL, "bytes", meta.ContentLength)
			}
			return uniformResponse(len(questions), domain.OversizeAnswer), nil
		}

		if !recognized {
			return c.runWebPath(dctx, req.DocumentURL, questions)
		}

		var data []byte
		g, gctx := errgroup.WithContext(dctx.Ctx())
		g.Go(func() error {
			var err error
			data, err = c.download(gctx, req.DocumentURL)
			return err
		})
		g.Go(func() error {
			// Pre-embed failure is tolerated; missing vectors are
			// re-embedded per question later.
			preEmbedded, _ = c.embedder.EmbedTexts(dctx, questions, domain.EmbedQuestion)
			return nil
		})
		if err := g.Wait(); err != nil {
			if dctx.Expired() {
				return uniformResponse(len(questions), domain.TimeoutAnswer), nil
			}
			return nil, err
		}

		extracted, err := c.processDocument(dctx, data, baseName)
		if err != nil {
			return nil, err
		}
		doc = extracted

	default:
		var err error
		g, _ := errgroup.WithContext(dctx.Ctx())
		g.Go(func() error {
			preEmbedded, _ = c.embedder.EmbedTexts(dctx, questions, domain.EmbedQuestion)
			return nil
		})
		doc, err = c.processDocument(dctx, req.Upload, req.UploadName)
		_ = g.Wait()
		if err != nil {
			return nil, err
		}
	}

	idx := c.buildIndex(dctx, doc)

	answers := c.qa.Answer(dctx, doc, idx, questions, preEmbedded)
	return &Response{Answers: answers}, nil
}

// runWebPath handles non-document URLs through the web-context
// collaborator, then the normal retrieval path over web chunks.
func (c *Coordinator) runWebPath(dctx *deadline.Context, pageURL string, questions []string) (*Response, error) {
	stageStart := time.Now()
	chunks, err := c.web.Enrich(dctx, pageURL)
	stageDuration.WithLabelValues("webcontext").Observe(time.Since(stageStart).Seconds())

	if err != nil {
		c.logger.Warn("web context fetch failed", "request", dctx.ID, "url", pageURL, "error", err)
	}
	if len(chunks) == 0 {
		return uniformResponse(len(questions), domain.NoWebContentAnswer), nil
	}

	doc := &domain.Document{
		Filename:   pageURL,
		Type:       domain.TypeWeb,
		TotalPages: 1,
		Chunks:     chunks,
	}
	idx := c.buildIndex(dctx, doc)

	answers := c.qa.Answer(dctx, doc, idx, questions, nil)
	return &Response{Answers: answers}, nil
}

func (c *Coordinator) download(ctx context.Context, docURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, docURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrFetchFailed, err)
	}

	resp, err := c.downloader.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrFetchFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d for %s", domain.ErrFetchFailed, resp.StatusCode, docURL)
	}

	limit := int64(c.cfg.MaxDownloadMB) * 1 << 20
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrFetchFailed, err)
	}
	return data, nil
}

// processDocument runs extract and chunk for downloaded or uploaded
// bytes.
func (c *Coordinator) processDocument(dctx *deadline.Context, data []byte, filename string) (*domain.Document, error) {
	stageStart := time.Now()
	doc, err := c.dispatcher.Process(dctx.Ctx(), data, filename)
	stageDuration.WithLabelValues("extract").Observe(time.Since(stageStart).Seconds())
	if err != nil {
		return nil, err
	}

	if doc.TotalPages > 0 {
		stageStart = time.Now()
		doc.Chunks = c.chunker.Chunk(doc.PageTexts, doc.FullText, filename)
		stageDuration.WithLabelValues("chunk").Observe(time.Since(stageStart).Seconds())
	}
	return doc, nil
}

// buildIndex embeds the document's chunks and inserts them in chunker
// order. Chunks whose embedding did not complete are skipped; an empty
// index sends every retrieval question to the grounding fallback.
func (c *Coordinator) buildIndex(dctx *deadline.Context, doc *domain.Document) *index.Memory {
	var opts []index.Option
	if c.cfg.VectorSearch.UseHNSW {
		opts = append(opts, index.WithHNSW(c.cfg.VectorSearch.HNSWThreshold))
	}
	idx := index.NewMemory(opts...)

	if len(doc.Chunks) == 0 {
		return idx
	}

	texts := make([]string, len(doc.Chunks))
	for i, ch := range doc.Chunks {
		texts[i] = ch.Content
	}

	stageStart := time.Now()
	vectors, err := c.embedder.EmbedTexts(dctx, texts, domain.EmbedChunk)
	stageDuration.WithLabelValues("embed").Observe(time.Since(stageStart).Seconds())
	if err != nil {
		c.logger.Warn("chunk embedding failed", "request", dctx.ID, "error", err)
		return idx
	}

	for i, vec := range vectors {
		if vec == nil {
			continue
		}
		idx.Insert(doc.Chunks[i], vec)
	}

	report := idx.Report()
	c.logger.Debug("index built",
		"request", dctx.ID, "chunks", report.ChunkCount, "est_mb", report.EstimatedMemoryMB)
	return idx
}

// classifyURL maps a URL to a document type by its path extension.
// The returned base name is query-free and safe to hand to the
// extractor as a filename.
func classifyURL(docURL string) (string, domain.DocumentType, bool) {
	parsed, err := url.Parse(docURL)
	if err != nil {
		return docURL, "", false
	}
	baseName := path.Base(parsed.Path)
	docType, recognized := extractor.TypeForFilename(baseName)
	return baseName, docType, recognized
}

func uniformResponse(n int, answer string) *Response {
	answers := make([]string, n)
	for i := range answers {
		answers[i] = answer
	}
	return &Response{Answers: answers}
}
