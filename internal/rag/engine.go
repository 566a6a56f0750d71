// Package rag answers questions from the vector index with a language model and
// attributes each answer to the documents it was built from.
package rag

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/hyperjump/yvan/internal/config"
	"github.com/hyperjump/yvan/internal/embedding"
	"github.com/hyperjump/yvan/internal/generation"
	"github.com/hyperjump/yvan/internal/models"
	"github.com/hyperjump/yvan/internal/vector"
	"github.com/hyperjump/yvan/pkg/utils"
)

const contextSeparator = "\n\n"

// Engine runs retrieval-augmented generation over an index.
type Engine struct {
	embedder        embedding.Embedder
	generator       generation.Generator
	index           *vector.Index
	topK            int
	maxContextChars int
	logger          *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// NewEngine creates a query engine. Zero retrieval settings fall back to the defaults.
func NewEngine(emb embedding.Embedder, gen generation.Generator, index *vector.Index, cfg config.RetrievalConfig, opts ...Option) *Engine {
	e := &Engine{
		embedder:        emb,
		generator:       gen,
		index:           index,
		topK:            cfg.TopK,
		maxContextChars: cfg.MaxContextChars,
	}
	if e.topK <= 0 {
		e.topK = config.DefaultTopK
	}
	if e.maxContextChars <= 0 {
		e.maxContextChars = config.DefaultMaxContextChars
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = utils.OrNop(e.logger)
	return e
}

// Ask answers a free-form question.
func (e *Engine) Ask(ctx context.Context, query string) (*models.Answer, error) {
	return e.answer(ctx, query, chatTemplate)
}

// Diagnose answers a description of symptoms with a structured diagnosis.
func (e *Engine) Diagnose(ctx context.Context, symptoms string) (*models.Answer, error) {
	return e.answer(ctx, symptoms, diagnoseTemplate)
}

// Retrieve returns the top-k chunks for query. An empty index yields no results
// without calling the embedder.
func (e *Engine) Retrieve(ctx context.Context, query string) ([]models.QueryResult, error) {
	if e.index.Size() == 0 {
		return nil, nil
	}
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %w", models.ErrEmbed, err)
	}
	results, err := e.index.Search(ctx, vec, e.topK)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return results, nil
}

// answer runs the query flow. An empty index answers with the fallback before
// the query is even validated.
func (e *Engine) answer(ctx context.Context, query string, tmpl *template.Template) (*models.Answer, error) {
	if e.index.Size() == 0 {
		e.logger.Debug("index is empty, returning fallback answer")
		return fallback(), nil
	}
	q := &models.Question{Question: query}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	results, err := e.Retrieve(ctx, q.Question)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		e.logger.Debug("nothing retrieved, returning fallback answer")
		return fallback(), nil
	}

	used, ctxText := e.assemble(results)
	prompt, err := render(tmpl, ctxText, q.Question)
	if err != nil {
		return nil, fmt.Errorf("render prompt: %w", err)
	}
	text, err := e.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrGeneration, err)
	}

	ans := &models.Answer{Text: text, Sources: Sources(results)}
	e.logger.Debug("question answered",
		zap.String("template", tmpl.Name()),
		zap.Int("retrieved", len(results)),
		zap.Int("context_chunks", used),
		zap.Strings("sources", ans.Sources),
		zap.Duration("took", time.Since(start)))
	return ans, nil
}

func fallback() *models.Answer {
	return &models.Answer{Text: FallbackAnswer, Sources: []string{}, Fallback: true}
}

// assemble joins chunk texts in result order, separated by blank lines, until
// adding the next chunk would exceed maxContextChars runes. The first chunk is
// always used, cut to the limit if needed. It returns how many chunks were used.
func (e *Engine) assemble(results []models.QueryResult) (int, string) {
	var b strings.Builder
	total := 0
	used := 0
	for i, r := range results {
		n := utf8.RuneCountInString(r.Chunk.Text)
		if i == 0 {
			text := r.Chunk.Text
			if n > e.maxContextChars {
				text = string([]rune(text)[:e.maxContextChars])
				n = e.maxContextChars
			}
			b.WriteString(text)
			total, used = n, 1
			continue
		}
		sep := utf8.RuneCountInString(contextSeparator)
		if total+sep+n > e.maxContextChars {
			break
		}
		b.WriteString(contextSeparator)
		b.WriteString(r.Chunk.Text)
		total += sep + n
		used++
	}
	return used, b.String()
}

// Sources returns the distinct base filenames of results in first-seen order.
func Sources(results []models.QueryResult) []string {
	sources := make([]string, 0, len(results))
	seen := make(map[string]bool, len(results))
	for _, r := range results {
		name := filepath.Base(r.Chunk.Source)
		if seen[name] {
			continue
		}
		seen[name] = true
		sources = append(sources, name)
	}
	return sources
}
