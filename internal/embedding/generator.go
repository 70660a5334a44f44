// Package embedding turns issue text into fixed-dimension vectors.
//
// A Generator wraps one Model (Vertex AI, an OpenAI-compatible endpoint or
// the offline hash model) and adds request-size batching, bounded
// parallelism and per-call deadlines.
package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/hashicorp/go-multierror"
	"github.com/panjf2000/ants/v2"

	"github.com/ahmednasr/firstcommit/indexer/internal/apperrors"
	"github.com/ahmednasr/firstcommit/indexer/internal/models"
)

// Task tells the model which side of a retrieval pair a text is on.
type Task string

const (
	TaskDocument Task = "RETRIEVAL_DOCUMENT"
	TaskQuery    Task = "RETRIEVAL_QUERY"
)

// Model is one embedding backend. Embed must return exactly one vector per
// input text, in input order.
type Model interface {
	Embed(ctx context.Context, task Task, texts []string) ([][]float32, error)
	Close() error
}

// Generator is safe for concurrent use.
type Generator struct {
	model       Model
	dim         int
	batchSize   int
	tokenBudget int
	workers     int
	timeout     time.Duration
	logger      *slog.Logger
}

// DefaultTokenBudget keeps one request under Vertex AI's 20k input token
// limit with room for estimation error.
const DefaultTokenBudget = 18000

// EstimateTokens approximates a text's token count at four characters per
// token.
func EstimateTokens(text string) int {
	return utf8.RuneCountInString(text)/4 + 1
}

// Option configures a Generator.
type Option func(*Generator)

// WithBatchSize caps how many texts go into one model call.
func WithBatchSize(n int) Option { return func(g *Generator) { g.batchSize = n } }

// WithTokenBudget caps the estimated tokens in one model call; n <= 0
// disables the cap. A single text over the budget is sent alone.
func WithTokenBudget(n int) Option { return func(g *Generator) { g.tokenBudget = n } }

// WithWorkers caps concurrent model calls within one EmbedBatch.
func WithWorkers(n int) Option { return func(g *Generator) { g.workers = n } }

// WithTimeout bounds every model call.
func WithTimeout(d time.Duration) Option { return func(g *Generator) { g.timeout = d } }

// NewGenerator wraps model; dim is the expected vector length.
func NewGenerator(model Model, dim int, opts ...Option) *Generator {
	g := &Generator{
		model:       model,
		dim:         dim,
		batchSize:   100,
		tokenBudget: DefaultTokenBudget,
		workers:     4,
		timeout:     30 * time.Second,
		logger:      slog.Default().With("component", "embedder"),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.batchSize = max(g.batchSize, 1)
	g.workers = max(g.workers, 1)
	return g
}

// Dimension is the vector length every call returns.
func (g *Generator) Dimension() int { return g.dim }

// EmbedQuery embeds a search query.
func (g *Generator) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.call(ctx, TaskQuery, []string{text})
	if err != nil {
		return nil, &apperrors.EmbeddingError{Count: 1, Err: err}
	}
	return vecs[0], nil
}

// EmbedBatch embeds documents, returning one vector per text in input
// order. Texts are split into model-sized sub-batches that run in
// parallel; if any sub-batch fails the whole call fails.
func (g *Generator) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	batches := g.split(texts)
	if len(batches) == 1 {
		vecs, err := g.call(ctx, TaskDocument, texts)
		if err != nil {
			return nil, &apperrors.EmbeddingError{Count: len(texts), Err: err}
		}
		return vecs, nil
	}

	pool, err := ants.NewPool(min(g.workers, len(batches)))
	if err != nil {
		return nil, &apperrors.EmbeddingError{Count: len(texts), Err: err}
	}
	defer pool.Release()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		errs    error
		results = make([][][]float32, len(batches))
	)
	for i, batch := range batches {
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			vecs, err := g.call(ctx, TaskDocument, batch)
			if err != nil {
				mu.Lock()
				errs = multierror.Append(errs, fmt.Errorf("sub-batch %d: %w", i+1, err))
				mu.Unlock()
				cancel()
				return
			}
			results[i] = vecs
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			errs = multierror.Append(errs, submitErr)
			mu.Unlock()
			break
		}
	}
	wg.Wait()

	if errs != nil {
		g.logger.Error("batch embedding failed", "texts", len(texts), "batches", len(batches), "err", errs)
		return nil, &apperrors.EmbeddingError{Count: len(texts), Err: errs}
	}

	out := make([][]float32, 0, len(texts))
	for _, vecs := range results {
		out = append(out, vecs...)
	}
	return out, nil
}

// split cuts texts into consecutive sub-batches bounded by batchSize and
// by the token budget.
func (g *Generator) split(texts []string) [][]string {
	var (
		batches [][]string
		start   int
		tokens  int
	)
	for i, t := range texts {
		n := EstimateTokens(t)
		full := i-start == g.batchSize || (g.tokenBudget > 0 && i > start && tokens+n > g.tokenBudget)
		if full {
			batches = append(batches, texts[start:i])
			start, tokens = i, 0
		}
		tokens += n
	}
	return append(batches, texts[start:])
}

// Close releases the model.
func (g *Generator) Close() error { return g.model.Close() }

// call runs one model request under the deadline and checks its shape.
func (g *Generator) call(ctx context.Context, task Task, texts []string) ([][]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	vecs, err := g.model.Embed(callCtx, task, texts)
	if err != nil {
		return nil, apperrors.Classify("embed", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("model returned %d vectors for %d texts", len(vecs), len(texts))
	}
	for i, v := range vecs {
		if g.dim > 0 && len(v) != g.dim {
			return nil, fmt.Errorf("vector %d has %d dims, want %d", i, len(v), g.dim)
		}
	}
	return vecs, nil
}

// ComposeIssueText builds the text embedded for an issue: the title, the
// body excerpt and the labels in sorted order. It reads nothing that
// changes between ingestions of an unchanged issue, so the same metadata
// always yields the same text.
func ComposeIssueText(md models.IssueMetadata) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(md.Title))

	if body := strings.TrimSpace(models.Excerpt(md.Body, models.BodyExcerptLen)); body != "" {
		b.WriteString("\n\n")
		b.WriteString(body)
	}

	if len(md.Labels) > 0 {
		labels := slices.Clone(md.Labels)
		slices.Sort(labels)
		b.WriteString("\n\nLabels: ")
		b.WriteString(strings.Join(labels, ", "))
	}
	return b.String()
}
