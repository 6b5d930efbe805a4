// Package qa answers a batch of questions against one extracted,
// indexed document. Three paths exist: retrieval over the vector
// index, full-text for small PDFs, and full-OCR-text for images. All
// questions run concurrently under the request deadline; a question
// that cannot finish resolves to a fixed placeholder, never an error.
package qa

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"docuquery/pkg/config"
	"docuquery/pkg/deadline"
	"docuquery/pkg/domain"
	"docuquery/pkg/embedder"
	"docuquery/pkg/index"
	"docuquery/pkg/log"
)

// Question lifecycle states, for logging and tests.
type State string

const (
	StatePending    State = "PENDING"
	StateEmbedding  State = "EMBEDDING"
	StateRetrieving State = "RETRIEVING"
	StateStreaming  State = "STREAMING"
	StateDone       State = "DONE"
	StateTimedOut   State = "TIMED_OUT"
	StateErrored    State = "ERRORED"
)

// smallDocPageLimit: PDFs below this page count skip retrieval and
// answer from the full text.
const smallDocPageLimit = 5

// maxConcurrentQuestions caps in-flight provider calls per request.
const maxConcurrentQuestions = 8

// completionGrace is how long Answer waits past the deadline for
// goroutines to observe cancellation and finish.
const completionGrace = 500 * time.Millisecond

// Orchestrator drives question answering for one request at a time.
// It is stateless across calls and safe for concurrent use.
type Orchestrator struct {
	primary   domain.Generator
	secondary domain.Generator
	embedder  *embedder.Service
	cfg       *config.Config
	logger    *slog.Logger
}

func New(primary, secondary domain.Generator, emb *embedder.Service, cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		primary:   primary,
		secondary: secondary,
		embedder:  emb,
		cfg:       cfg,
		logger:    log.WithModule("qa"),
	}
}

// questionJob tracks one question through its lifecycle. The worker
// goroutine writes state and answer; the collector reads them, possibly
// while an abandoned straggler is still running, so both go through mu.
type questionJob struct {
	idx        int
	question   string
	vector     []float32
	userPrompt string

	mu     sync.Mutex
	state  State
	answer string
}

func (j *questionJob) setState(s State) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

func (j *questionJob) resolve(answer string, s State) {
	j.mu.Lock()
	j.answer, j.state = answer, s
	j.mu.Unlock()
}

func (j *questionJob) result() (string, State) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.answer, j.state
}

// Answer resolves every question to a final string. The result always
// has len == len(questions); unfinished questions resolve to the
// timeout placeholder. preEmbedded may be nil or hold nil holes for
// questions whose pre-embedding did not complete.
func (o *Orchestrator) Answer(dctx *deadline.Context, doc *domain.Document, idx *index.Memory, questions []string, preEmbedded [][]float32) []string {
	answers := make([]string, len(questions))
	for i := range answers {
		answers[i] = domain.TimeoutAnswer
	}
	if len(questions) == 0 {
		return answers
	}

	jobs := make([]*questionJob, len(questions))
	for i, q := range questions {
		jobs[i] = &questionJob{idx: i, question: q, state: StatePending}
		if i < len(preEmbedded) {
			jobs[i].vector = preEmbedded[i]
		}
	}

	sem := make(chan struct{}, maxConcurrentQuestions)
	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		go func(job *questionJob) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-dctx.Done():
				job.setState(StateTimedOut)
				return
			}
			o.answerOne(dctx, doc, idx, job)
		}(job)
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(dctx.Remaining() + completionGrace):
		o.logger.Warn("questions abandoned past deadline grace", "request", dctx.ID)
	}

	for _, job := range jobs {
		answer, state := job.result()
		if state == StateDone || state == StateErrored {
			answers[job.idx] = answer
		}
		o.logger.Debug("question resolved", "request", dctx.ID, "index", job.idx, "state", state)
	}
	return answers
}

// answerOne runs the state machine for a single question.
func (o *Orchestrator) answerOne(dctx *deadline.Context, doc *domain.Document, idx *index.Memory, job *questionJob) {
	if dctx.Expired() {
		job.setState(StateTimedOut)
		return
	}

	var user string

	switch {
	case doc.Type == domain.TypeImage:
		// OCR text fits in one prompt; no retrieval.
		job.setState(StateStreaming)
		user = buildFullTextPrompt(doc, job.question)

	case doc.Type == domain.TypePDF && doc.TotalPages < smallDocPageLimit:
		job.setState(StateStreaming)
		user = buildFullTextPrompt(doc, job.question)

	default:
		if !o.retrieve(dctx, doc, idx, job) {
			return
		}
		user = job.userPrompt
	}

	job.resolve(o.stream(dctx, o.generatorFor(doc, job.idx), user))
}

// retrieve embeds the question (unless pre-embedded) and ranks index
// hits into job.userPrompt. Returns false when the job reached a
// terminal state.
func (o *Orchestrator) retrieve(dctx *deadline.Context, doc *domain.Document, idx *index.Memory, job *questionJob) bool {
	if job.vector == nil {
		job.setState(StateEmbedding)
		vec, err := o.embedder.EmbedOne(dctx, job.question)
		if err != nil {
			if dctx.Expired() {
				job.setState(StateTimedOut)
			} else {
				o.logger.Warn("question embedding failed", "request", dctx.ID, "index", job.idx, "error", err)
				job.resolve(domain.ErrorAnswer, StateErrored)
			}
			return false
		}
		job.vector = vec
	}

	job.setState(StateRetrieving)
	k := o.cfg.Dynamic.ChunksForPages(doc.TotalPages)
	if k <= 0 {
		k = o.cfg.ChunksToLLM
	}
	results := idx.Search(job.vector, k)

	// An empty result set past the deadline means embedding never
	// populated the index, not that the document had nothing relevant.
	if dctx.Expired() {
		job.setState(StateTimedOut)
		return false
	}
	if len(results) == 0 {
		job.resolve(domain.GroundingFallback, StateDone)
		return false
	}

	job.setState(StateStreaming)
	job.userPrompt = buildUserPrompt(results, job.question)
	return true
}

// generatorFor picks the provider for a question: spreadsheets go to
// the secondary model, and racing partitions the question set between
// the two providers by index parity.
func (o *Orchestrator) generatorFor(doc *domain.Document, questionIdx int) domain.Generator {
	if o.secondary == nil {
		return o.primary
	}
	if doc.Type == domain.TypeXLSX {
		return o.secondary
	}
	if o.cfg.EnableRacing && questionIdx%2 == 1 {
		return o.secondary
	}
	return o.primary
}

// stream runs one completion, buffering token deltas and flushing on
// the configured interval, and maps the outcome to a terminal state.
func (o *Orchestrator) stream(dctx *deadline.Context, gen domain.Generator, user string) (string, State) {
	ctx, cancel := context.WithCancel(dctx.Ctx())
	defer cancel()

	flushInterval := o.cfg.Streaming.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 50 * time.Millisecond
	}

	var mu sync.Mutex
	var pending strings.Builder
	var final strings.Builder

	flush := func() {
		mu.Lock()
		final.WriteString(pending.String())
		pending.Reset()
		mu.Unlock()
	}

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	stopFlusher := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				flush()
			case <-stopFlusher:
				return
			}
		}
	}()

	err := gen.Stream(ctx, systemPrompt, user, func(token string) {
		mu.Lock()
		pending.WriteString(token)
		mu.Unlock()
	})
	close(stopFlusher)
	flush()

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || dctx.Expired() {
			return "", StateTimedOut
		}
		o.logger.Warn("generation failed", "request", dctx.ID, "error", err)
		return domain.ErrorAnswer, StateErrored
	}

	answer := domain.NormalizeAnswer(final.String())
	if answer == "" {
		return domain.ErrorAnswer, StateErrored
	}
	return answer, StateDone
}
