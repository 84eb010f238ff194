// Package bot handles inbound queries: validation, readiness gating,
// off-thread pipeline dispatch, answer post-processing and failure
// classification.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/vkarpenko/salesbot/internal/lifecycle"
	"github.com/vkarpenko/salesbot/internal/prompt"
	"github.com/vkarpenko/salesbot/internal/work"
	"github.com/vkarpenko/salesbot/pkg/models"
)

// Fixed user-facing message templates. Internal errors are never shown
// verbatim to end users.
const (
	MsgTooShort = "Please ask a more detailed question."
	MsgTooLong  = "Your question is too long. Please keep it under 1000 characters."
	MsgNotReady = "The assistant is still starting up. Please try again in a moment."
	MsgFailed   = "Something went wrong while processing your question. Please try asking differently or retry later."
)

// ValidationError rejects malformed input with a user-visible message.
// It is not an incident and is not logged as one.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ErrPipeline is the generic classification for any internal pipeline
// failure; details go to the log, not the user.
var ErrPipeline = errors.New("pipeline failure")

// HistoryRecorder receives (user, question, answer) tuples after each
// successfully answered query.
type HistoryRecorder interface {
	Record(ctx context.Context, q models.Query, a models.Answer) error
}

// Options bound the handler's validation and retrieval behavior.
type Options struct {
	MinQuestionLen int
	MaxQuestionLen int
	MaxAnswerLen   int
	TopK           int
	FetchK         int
	MaxNewTokens   int
}

func (o *Options) setDefaults() {
	if o.MinQuestionLen <= 0 {
		o.MinQuestionLen = 3
	}
	if o.MaxQuestionLen <= 0 {
		o.MaxQuestionLen = 1000
	}
	if o.MaxAnswerLen <= 0 {
		o.MaxAnswerLen = 4000
	}
	if o.TopK <= 0 {
		o.TopK = 3
	}
	if o.FetchK < o.TopK {
		o.FetchK = 10
	}
	if o.MaxNewTokens <= 0 {
		o.MaxNewTokens = 512
	}
}

// Handler is the query request handler.
type Handler struct {
	resources *lifecycle.Manager
	pool      *work.Pool
	history   HistoryRecorder // may be nil
	persona   string
	opts      Options
}

// New creates a Handler. history may be nil to disable audit logging.
func New(resources *lifecycle.Manager, pool *work.Pool, history HistoryRecorder, persona string, opts Options) *Handler {
	opts.setDefaults()
	return &Handler{
		resources: resources,
		pool:      pool,
		history:   history,
		persona:   persona,
		opts:      opts,
	}
}

// Ask validates the query, runs the retrieval-generation pipeline on a
// pool worker and returns the sanitized answer. Errors are one of
// *ValidationError, *lifecycle.NotReadyError or ErrPipeline.
func (h *Handler) Ask(ctx context.Context, q models.Query) (models.Answer, error) {
	q.Text = strings.TrimSpace(q.Text)
	if err := h.validate(q.Text); err != nil {
		return models.Answer{}, err
	}

	retriever, engine, err := h.resources.Handles()
	if err != nil {
		return models.Answer{}, err
	}

	log.Info().Int64("user", q.UserID).Str("question", preview(q.Text)).Msg("processing query")

	res := <-h.pool.Submit(func() (any, error) {
		return h.pipeline(ctx, retriever, engine, q.Text)
	})
	if res.Err != nil {
		return models.Answer{}, res.Err
	}
	answer := res.Value.(models.Answer)

	if h.history != nil {
		if err := h.history.Record(ctx, q, answer); err != nil {
			// Audit failures never fail the user-facing response.
			log.Error().Err(err).Int64("user", q.UserID).Msg("failed to record session log")
		}
	}

	log.Info().Int64("user", q.UserID).Bool("truncated", answer.Truncated).Msg("query answered")
	return answer, nil
}

// Generator is the generation side of the engine used by the pipeline.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxNewTokens int) (string, error)
}

func (h *Handler) pipeline(ctx context.Context, retriever lifecycle.Retriever, engine Generator, question string) (models.Answer, error) {
	results, err := retriever.Retrieve(ctx, question, h.opts.TopK, h.opts.FetchK)
	if err != nil {
		return models.Answer{}, h.classify("retrieve", err)
	}
	chunks := make([]models.Chunk, 0, len(results))
	for _, r := range results {
		chunks = append(chunks, r.Chunk)
	}

	p := prompt.Build(h.persona, chunks, question)

	raw, err := engine.Generate(ctx, p, h.opts.MaxNewTokens)
	if err != nil {
		return models.Answer{}, h.classify("generate", err)
	}

	return sanitize(raw, h.persona, h.opts.MaxAnswerLen), nil
}

// classify logs the internal failure with stage context and collapses it
// into the single generic pipeline error.
func (h *Handler) classify(stage string, err error) error {
	log.Error().Err(err).Str("stage", stage).Msg("pipeline stage failed")
	return fmt.Errorf("%w: %s", ErrPipeline, stage)
}

func (h *Handler) validate(text string) error {
	n := utf8.RuneCountInString(text)
	switch {
	case n < h.opts.MinQuestionLen:
		return &ValidationError{Message: MsgTooShort}
	case n > h.opts.MaxQuestionLen:
		return &ValidationError{Message: MsgTooLong}
	}
	return nil
}

func preview(s string) string {
	const max = 50
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
