package qa

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"docuquery/pkg/config"
	"docuquery/pkg/deadline"
	"docuquery/pkg/domain"
	"docuquery/pkg/embedder"
	"docuquery/pkg/index"
)

// stubGenerator captures user prompts and emits a fixed answer unless
// streamFunc overrides the behaviour.
type stubGenerator struct {
	streamFunc func(ctx context.Context, system, user string, callback func(string)) error
	answer     string

	mu      sync.Mutex
	prompts []string
	calls   atomic.Int32
}

func (g *stubGenerator) Stream(ctx context.Context, system, user string, callback func(token string)) error {
	g.calls.Add(1)
	g.mu.Lock()
	g.prompts = append(g.prompts, user)
	g.mu.Unlock()

	if g.streamFunc != nil {
		return g.streamFunc(ctx, system, user, callback)
	}
	answer := g.answer
	if answer == "" {
		answer = "stub answer"
	}
	for _, word := range strings.Split(answer, " ") {
		callback(word + " ")
	}
	return nil
}

func (g *stubGenerator) lastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

type stubEmbedder struct {
	vector []float32
	calls  atomic.Int32
}

func (e *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = e.vector
	}
	return out, nil
}

func qaConfig() *config.Config {
	return &config.Config{
		ChunksToLLM: 10,
		Embedding: config.EmbeddingConfig{
			Enabled:                  true,
			BatchSize:                10,
			EmbeddingTimeout:         time.Second,
			QuestionEmbeddingTimeout: time.Second,
		},
		Streaming: config.StreamingConfig{FlushInterval: 10 * time.Millisecond},
	}
}

func startDeadline(t *testing.T, timeout time.Duration) *deadline.Context {
	t.Helper()
	c := deadline.NewController()
	dctx := c.Start(t.Name(), timeout)
	t.Cleanup(func() { c.Complete(t.Name()) })
	return dctx
}

func pdfDoc(pages ...string) *domain.Document {
	return &domain.Document{
		Type:       domain.TypePDF,
		TotalPages: len(pages),
		PageTexts:  pages,
		FullText:   strings.Join(pages, domain.PageSeparator),
	}
}

func newTestOrchestrator(primary, secondary *stubGenerator, emb domain.Embedder, cfg *config.Config) *Orchestrator {
	var sec domain.Generator
	if secondary != nil {
		sec = secondary
	}
	return New(primary, sec, embedder.New(emb, nil, cfg.Embedding), cfg)
}

func TestAnswer_SmallPDFSkipsRetrieval(t *testing.T) {
	primary := &stubGenerator{answer: "The grace period is thirty days."}
	emb := &stubEmbedder{vector: []float32{1, 0}}
	o := newTestOrchestrator(primary, nil, emb, qaConfig())

	doc := pdfDoc("Page one about grace periods.", "Page two.", "Page three.", "Page four.")
	answers := o.Answer(startDeadline(t, 5*time.Second), doc, index.NewMemory(), []string{"What is the grace period?"}, nil)

	if answers[0] != "The grace period is thirty days." {
		t.Errorf("answer = %q", answers[0])
	}
	if emb.calls.Load() != 0 {
		t.Error("full-text path must not embed the question")
	}
	prompt := primary.lastPrompt()
	if !strings.Contains(prompt, "[Page No. 1]") || !strings.Contains(prompt, "grace periods") {
		t.Errorf("prompt missing page-marked full text: %q", prompt)
	}
}

func TestAnswer_FivePagePDFRetrieves(t *testing.T) {
	primary := &stubGenerator{answer: "Retrieved answer."}
	emb := &stubEmbedder{vector: []float32{1, 0}}
	o := newTestOrchestrator(primary, nil, emb, qaConfig())

	idx := index.NewMemory()
	idx.Insert(domain.Chunk{PageNumber: 3, Content: "The waiting period is 36 months."}, []float32{1, 0})

	doc := pdfDoc("p1", "p2", "p3", "p4", "p5")
	answers := o.Answer(startDeadline(t, 5*time.Second), doc, idx, []string{"How long is the waiting period?"}, nil)

	if answers[0] != "Retrieved answer." {
		t.Errorf("answer = %q", answers[0])
	}
	if emb.calls.Load() == 0 {
		t.Error("retrieval path must embed the question")
	}
	prompt := primary.lastPrompt()
	if !strings.Contains(prompt, "[Page No. 3]") || !strings.Contains(prompt, "36 months") {
		t.Errorf("prompt missing retrieved excerpt: %q", prompt)
	}
}

func TestAnswer_EmptyIndexFallsBackToGrounding(t *testing.T) {
	primary := &stubGenerator{}
	emb := &stubEmbedder{vector: []float32{1, 0}}
	o := newTestOrchestrator(primary, nil, emb, qaConfig())

	doc := pdfDoc("p1", "p2", "p3", "p4", "p5")
	answers := o.Answer(startDeadline(t, 5*time.Second), doc, index.NewMemory(), []string{"Anything?"}, nil)

	if answers[0] != domain.GroundingFallback {
		t.Errorf("answer = %q, want grounding fallback", answers[0])
	}
	if primary.calls.Load() != 0 {
		t.Error("generator called with nothing retrieved")
	}
}

func TestAnswer_ImageUsesOCRText(t *testing.T) {
	primary := &stubGenerator{answer: "Invoice total is $1,024."}
	emb := &stubEmbedder{vector: []float32{1, 0}}
	o := newTestOrchestrator(primary, nil, emb, qaConfig())

	doc := &domain.Document{
		Type:       domain.TypeImage,
		TotalPages: 1,
		PageTexts:  []string{"Invoice #42. Total: $1,024."},
		FullText:   "Invoice #42. Total: $1,024.",
	}
	answers := o.Answer(startDeadline(t, 5*time.Second), doc, index.NewMemory(), []string{"What is the total?"}, nil)

	if answers[0] != "Invoice total is $1,024." {
		t.Errorf("answer = %q", answers[0])
	}
	if emb.calls.Load() != 0 {
		t.Error("image path must not embed")
	}
	if !strings.Contains(primary.lastPrompt(), "Invoice #42") {
		t.Error("OCR text not in prompt")
	}
}

func TestAnswer_SpreadsheetRoutesToSecondary(t *testing.T) {
	primary := &stubGenerator{}
	secondary := &stubGenerator{answer: "From the secondary model."}
	o := newTestOrchestrator(primary, secondary, &stubEmbedder{vector: []float32{1, 0}}, qaConfig())

	idx := index.NewMemory()
	idx.Insert(domain.Chunk{PageNumber: 1, Content: "Region\tRevenue\nNorth\t1250"}, []float32{1, 0})

	doc := &domain.Document{Type: domain.TypeXLSX, TotalPages: 1}
	answers := o.Answer(startDeadline(t, 5*time.Second), doc, idx,
		[]string{"What is the revenue?"}, [][]float32{{1, 0}})

	if answers[0] != "From the secondary model." {
		t.Errorf("answer = %q", answers[0])
	}
	if primary.calls.Load() != 0 {
		t.Errorf("primary called %d times for a spreadsheet", primary.calls.Load())
	}
	if secondary.calls.Load() != 1 {
		t.Errorf("secondary called %d times", secondary.calls.Load())
	}
}

func TestAnswer_RacingPartitionsByParity(t *testing.T) {
	primary := &stubGenerator{answer: "a"}
	secondary := &stubGenerator{answer: "b"}
	cfg := qaConfig()
	cfg.EnableRacing = true
	o := newTestOrchestrator(primary, secondary, &stubEmbedder{vector: []float32{1, 0}}, cfg)

	doc := pdfDoc("single page")
	questions := []string{"q0", "q1", "q2", "q3"}
	answers := o.Answer(startDeadline(t, 5*time.Second), doc, index.NewMemory(), questions, nil)

	if len(answers) != 4 {
		t.Fatalf("got %d answers", len(answers))
	}
	if got := primary.calls.Load(); got != 2 {
		t.Errorf("primary handled %d questions, want 2", got)
	}
	if got := secondary.calls.Load(); got != 2 {
		t.Errorf("secondary handled %d questions, want 2", got)
	}
	for i, a := range answers {
		want := "a"
		if i%2 == 1 {
			want = "b"
		}
		if a != want {
			t.Errorf("answer %d = %q, want %q", i, a, want)
		}
	}
}

func TestAnswer_DeadlineExpiryYieldsTimeoutPlaceholder(t *testing.T) {
	primary := &stubGenerator{
		streamFunc: func(ctx context.Context, system, user string, callback func(string)) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	o := newTestOrchestrator(primary, nil, &stubEmbedder{vector: []float32{1, 0}}, qaConfig())

	doc := pdfDoc("single page")
	questions := []string{"q0", "q1", "q2"}
	answers := o.Answer(startDeadline(t, 50*time.Millisecond), doc, index.NewMemory(), questions, nil)

	if len(answers) != len(questions) {
		t.Fatalf("got %d answers, want %d", len(answers), len(questions))
	}
	for i, a := range answers {
		if a != domain.TimeoutAnswer {
			t.Errorf("answer %d = %q, want timeout placeholder", i, a)
		}
	}
}

func TestAnswer_ExpiredDeadlineEmptyIndexYieldsTimeout(t *testing.T) {
	primary := &stubGenerator{answer: "never"}
	emb := &stubEmbedder{vector: []float32{1, 0}}
	o := newTestOrchestrator(primary, nil, emb, qaConfig())

	dctx := startDeadline(t, time.Nanosecond)
	<-dctx.Done()

	// Expiry mid-pipeline: questions are pre-embedded but the index
	// never got populated. That must read as a timeout, not as a
	// document with nothing relevant in it.
	doc := pdfDoc("p1", "p2", "p3", "p4", "p5")
	answers := o.Answer(dctx, doc, index.NewMemory(), []string{"q0", "q1"}, [][]float32{{1, 0}, {1, 0}})

	for i, a := range answers {
		if a != domain.TimeoutAnswer {
			t.Errorf("answer %d = %q, want timeout placeholder", i, a)
		}
	}
	if primary.calls.Load() != 0 {
		t.Error("generator called after expiry")
	}
	if emb.calls.Load() != 0 {
		t.Error("embedder called after expiry")
	}
}

func TestAnswer_AbandonedStragglerDoesNotAlterResults(t *testing.T) {
	release := make(chan struct{})
	primary := &stubGenerator{
		streamFunc: func(ctx context.Context, system, user string, callback func(string)) error {
			<-release
			callback("late answer")
			return nil
		},
	}
	o := newTestOrchestrator(primary, nil, &stubEmbedder{vector: []float32{1, 0}}, qaConfig())

	answers := o.Answer(startDeadline(t, 20*time.Millisecond), pdfDoc("page"), index.NewMemory(), []string{"q"}, nil)
	if answers[0] != domain.TimeoutAnswer {
		t.Errorf("answer = %q, want timeout placeholder", answers[0])
	}

	// Let the straggler finish its write after collection; the race
	// detector verifies the job fields are properly synchronized.
	close(release)
	time.Sleep(50 * time.Millisecond)
	if answers[0] != domain.TimeoutAnswer {
		t.Errorf("straggler mutated a collected answer: %q", answers[0])
	}
}

func TestAnswer_GeneratorErrorYieldsErrorPlaceholder(t *testing.T) {
	primary := &stubGenerator{
		streamFunc: func(ctx context.Context, system, user string, callback func(string)) error {
			return errors.New("provider 500")
		},
	}
	o := newTestOrchestrator(primary, nil, &stubEmbedder{vector: []float32{1, 0}}, qaConfig())

	answers := o.Answer(startDeadline(t, 5*time.Second), pdfDoc("page"), index.NewMemory(), []string{"q"}, nil)

	if answers[0] != domain.ErrorAnswer {
		t.Errorf("answer = %q, want error placeholder", answers[0])
	}
}

func TestAnswer_NormalizesWhitespace(t *testing.T) {
	primary := &stubGenerator{
		streamFunc: func(ctx context.Context, system, user string, callback func(string)) error {
			callback("  The answer\n\n")
			callback("is   42.  ")
			return nil
		},
	}
	o := newTestOrchestrator(primary, nil, &stubEmbedder{vector: []float32{1, 0}}, qaConfig())

	answers := o.Answer(startDeadline(t, 5*time.Second), pdfDoc("page"), index.NewMemory(), []string{"q"}, nil)

	if answers[0] != "The answer is 42." {
		t.Errorf("answer = %q", answers[0])
	}
}

func TestAnswer_NoQuestions(t *testing.T) {
	o := newTestOrchestrator(&stubGenerator{}, nil, &stubEmbedder{}, qaConfig())
	answers := o.Answer(startDeadline(t, time.Second), pdfDoc("page"), index.NewMemory(), nil, nil)
	if len(answers) != 0 {
		t.Errorf("got %d answers for no questions", len(answers))
	}
}

func TestAnswer_PreEmbeddedSkipsQuestionEmbedding(t *testing.T) {
	emb := &stubEmbedder{vector: []float32{1, 0}}
	primary := &stubGenerator{answer: "ok"}
	o := newTestOrchestrator(primary, nil, emb, qaConfig())

	idx := index.NewMemory()
	idx.Insert(domain.Chunk{PageNumber: 1, Content: "content"}, []float32{1, 0})

	doc := pdfDoc("p1", "p2", "p3", "p4", "p5")
	o.Answer(startDeadline(t, 5*time.Second), doc, idx, []string{"q"}, [][]float32{{1, 0}})

	if emb.calls.Load() != 0 {
		t.Errorf("embedder called %d times despite pre-embedded vector", emb.calls.Load())
	}
}
