package assistant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"shop-assistant/internal/domain"
	"shop-assistant/internal/logger"
	"shop-assistant/internal/metrics"
)

const (
	DefaultModel         = "gemini-2.5-flash"
	DefaultFallbackModel = "gemini-1.5-flash"
	DefaultTimeout       = 30 * time.Second

	// Placeholder replaces blank model output.
	Placeholder = "I couldn't generate a response right now."
)

// ErrTimeout is returned when a completion does not finish before its deadline.
var ErrTimeout = errors.New("assistant: provider call timed out")

// Completer is a single text-completion call against a generative provider.
type Completer interface {
	Complete(ctx context.Context, model, prompt string) (string, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// ProviderError is a classified generative provider failure.
type ProviderError struct {
	Model      string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("assistant: model %s failed with status %d: %v", e.Model, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("assistant: model %s failed: %v", e.Model, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) HTTPStatusCode() int { return e.StatusCode }

// Options configures a Responder. Zero values select the defaults.
type Options struct {
	Model         string
	FallbackModel string
	Timeout       time.Duration
	Logger        *zerolog.Logger
	Metrics       *metrics.Metrics
}

// Request carries the inputs of one generation. Transcript wins over History
// when both are set.
type Request struct {
	UserMessage string
	Products    []domain.Product
	Transcript  string
	History     []domain.Message
}

// Responder turns a user message, a catalog snapshot and conversation context
// into assistant text. It is safe for concurrent use.
type Responder struct {
	completer     Completer
	fallbackModel string
	timeout       time.Duration
	active        atomic.Pointer[string]
	log           zerolog.Logger
	metrics       *metrics.Metrics
}

func New(c Completer, opts Options) (*Responder, error) {
	if c == nil {
		return nil, errors.New("assistant: completer must not be nil")
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}
	fallback := strings.TrimSpace(opts.FallbackModel)
	if fallback == "" {
		fallback = DefaultFallbackModel
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	r := &Responder{
		completer:     c,
		fallbackModel: fallback,
		timeout:       timeout,
		log:           logger.Component(logger.OrNop(opts.Logger), "assistant"),
		metrics:       opts.Metrics,
	}
	r.active.Store(&model)
	return r, nil
}

// ActiveModel returns the model identifier used for the next call.
func (r *Responder) ActiveModel() string {
	return *r.active.Load()
}

// Generate builds the grounded prompt and asks the active model for a reply.
// When the provider reports the active model as missing or unsupported, the
// prompt is retried once on the fallback model, which then stays active.
func (r *Responder) Generate(ctx context.Context, req Request) (string, error) {
	transcript := req.Transcript
	if transcript == "" && len(req.History) > 0 {
		transcript = domain.FormatForPrompt(req.History, domain.DefaultWindowSize)
	}
	prompt := buildPrompt(req.UserMessage, req.Products, transcript)
	log := logger.FromContext(ctx, r.log)

	current := r.active.Load()
	text, err := r.call(ctx, *current, prompt)
	if err == nil {
		return orPlaceholder(text), nil
	}
	if !isModelUnavailable(err) || *current == r.fallbackModel {
		return "", newProviderError(*current, err)
	}

	log.Warn().Err(err).
		Str("model", *current).
		Str("fallback_model", r.fallbackModel).
		Msg("model unavailable, retrying with fallback")

	text, err = r.call(ctx, r.fallbackModel, prompt)
	if err != nil {
		return "", newProviderError(r.fallbackModel, err)
	}

	fallback := r.fallbackModel
	if r.active.CompareAndSwap(current, &fallback) {
		r.metrics.RecordFallback()
		log.Info().Str("model", fallback).Msg("switched active model to fallback")
	}
	return orPlaceholder(text), nil
}

// call runs the completion on its own goroutine so a provider that ignores
// cancellation cannot hold the turn past the deadline.
func (r *Responder) call(ctx context.Context, model, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		text, err := r.completer.Complete(ctx, model, prompt)
		done <- result{text: text, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = ctx.Err()
	}
	if res.err != nil && errors.Is(res.err, context.DeadlineExceeded) {
		res.err = fmt.Errorf("%w: %v", ErrTimeout, res.err)
	}

	status := "success"
	if res.err != nil {
		status = "error"
	}
	r.metrics.RecordProviderCall(model, status, time.Since(start))
	return res.text, res.err
}

func isModelUnavailable(err error) bool {
	if errors.Is(err, ErrTimeout) {
		return false
	}
	var sc httpStatusCoder
	if errors.As(err, &sc) && sc.HTTPStatusCode() == http.StatusNotFound {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "unsupported")
}

func newProviderError(model string, err error) *ProviderError {
	pe := &ProviderError{Model: model, Err: err}
	var sc httpStatusCoder
	if errors.As(err, &sc) {
		pe.StatusCode = sc.HTTPStatusCode()
	}
	return pe
}

func orPlaceholder(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return Placeholder
	}
	return text
}
