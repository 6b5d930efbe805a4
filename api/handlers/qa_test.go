package handlers

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"docuquery/pkg/chunker"
	"docuquery/pkg/config"
	"docuquery/pkg/deadline"
	"docuquery/pkg/embedder"
	"docuquery/pkg/extractor"
	"docuquery/pkg/pipeline"
	"docuquery/pkg/qa"
	"docuquery/pkg/security"
	"docuquery/pkg/webcontext"
)

type staticEmbedder struct{}

func (staticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type staticGenerator struct{ answer string }

func (g staticGenerator) Stream(ctx context.Context, system, user string, callback func(token string)) error {
	callback(g.answer)
	return nil
}

func testRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		GlobalTimer: config.GlobalTimerConfig{Enabled: true, TimeoutSeconds: 10},
		Chunking: config.ChunkingConfig{
			Recursive: config.RecursiveConfig{Enabled: true, ChunkSize: 2000, ChunkOverlap: 200},
		},
		ChunksToLLM: 10,
		Embedding: config.EmbeddingConfig{
			Enabled:                  true,
			BatchSize:                50,
			EmbeddingTimeout:         5 * time.Second,
			QuestionEmbeddingTimeout: 5 * time.Second,
		},
		Extraction: config.ExtractionConfig{PDFMethod: "native"},
		Security: config.SecurityConfig{
			PromptInjectionProtection: config.InjectionConfig{
				Enabled: true, MaxRiskScore: 40, PreserveURLs: true, BlockHighRiskRequests: true,
			},
		},
		Streaming:     config.StreamingConfig{FlushInterval: 10 * time.Millisecond},
		MaxUploadMB:   50,
		MaxDownloadMB: 100,
	}

	sanitizer := security.New(true)
	dispatcher := extractor.NewDispatcher(cfg.Extraction, sanitizer, cfg.Security.PromptInjectionProtection, nil)
	emb := embedder.New(staticEmbedder{}, nil, cfg.Embedding)
	orchestrator := qa.New(staticGenerator{answer: "the answer"}, nil, emb, cfg)
	coordinator := pipeline.New(cfg, deadline.NewController(), sanitizer, dispatcher,
		chunker.New(cfg.Chunking), emb, webcontext.New(nil), orchestrator)

	h := NewHandler(coordinator, cfg)
	r := gin.New()
	r.POST("/api/v1/hackrx/run", h.Run)
	r.POST("/api/v1/process-pdf", h.ProcessPDF)
	return r
}

func docxBytes(t *testing.T, text string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create("word/document.xml")
	if err != nil {
		t.Fatalf("zip create: %v", err)
	}
	body := `<?xml version="1.0"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body><w:p><w:r><w:t>` +
		text + `</w:t></w:r></w:p></w:body></w:document>`
	if _, err := f.Write([]byte(body)); err != nil {
		t.Fatalf("zip write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func postJSON(t *testing.T, r *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func postMultipart(t *testing.T, r *gin.Engine, filename string, data []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		fw, err := mw.CreateFormFile("pdf", filename)
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		if _, err := fw.Write(data); err != nil {
			t.Fatalf("form write: %v", err)
		}
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("form field: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("form close: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/process-pdf", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRun_MissingFields(t *testing.T) {
	r := testRouter(t)

	testCases := []struct {
		name string
		body any
	}{
		{"empty body", map[string]any{}},
		{"no questions", map[string]any{"documents": "https://example.com/a.pdf"}},
		{"no documents", map[string]any{"questions": []string{"q"}}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if rec := postJSON(t, r, "/api/v1/hackrx/run", tc.body); rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestRun_UnreachableDocumentURL(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	r := testRouter(t)
	rec := postJSON(t, r, "/api/v1/hackrx/run", map[string]any{
		"documents": srv.URL + "/gone.pdf",
		"questions": []string{"q"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestRun_AnswersQuestions(t *testing.T) {
	data := docxBytes(t, "The waiting period for cataract surgery is 24 months.")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	r := testRouter(t)
	rec := postJSON(t, r, "/api/v1/hackrx/run", map[string]any{
		"documents": srv.URL + "/policy.docx",
		"questions": []string{"What is the waiting period?", "Is cataract covered?"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Answers []string `json:"answers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Answers) != 2 {
		t.Fatalf("got %d answers, want 2", len(resp.Answers))
	}
	for i, a := range resp.Answers {
		if a != "the answer" {
			t.Errorf("answer %d = %q", i, a)
		}
	}
}

func TestProcessPDF_RequiresFile(t *testing.T) {
	r := testRouter(t)
	rec := postMultipart(t, r, "", nil, map[string]string{"questions": `["q"]`})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestProcessPDF_RejectsUnsupportedExtension(t *testing.T) {
	r := testRouter(t)
	rec := postMultipart(t, r, "payload.exe", []byte("MZ..."), nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestProcessPDF_NoQuestionsAcknowledges(t *testing.T) {
	r := testRouter(t)
	rec := postMultipart(t, r, "doc.docx", docxBytes(t, "content"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["message"] == "" {
		t.Error("expected an acknowledgement message")
	}
}

func TestProcessPDF_MalformedQuestions(t *testing.T) {
	r := testRouter(t)
	rec := postMultipart(t, r, "doc.docx", docxBytes(t, "content"), map[string]string{
		"questions": "not json",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestProcessPDF_AnswersQuestions(t *testing.T) {
	r := testRouter(t)
	rec := postMultipart(t, r, "doc.docx", docxBytes(t, "The grace period is thirty days."),
		map[string]string{"questions": `["What is the grace period?"]`})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Answers []string `json:"answers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Answers) != 1 || resp.Answers[0] != "the answer" {
		t.Errorf("answers = %v", resp.Answers)
	}
}
