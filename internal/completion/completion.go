// Package completion is the gateway between the tutoring session and a
// text-completion backend.
//
// A [Gateway] sends one request per call, never retries, and sorts every
// failure into one of three shapes so callers can decide how to recover:
//
//   - [ErrEmptyReply]: the backend answered but the reply had no usable text.
//   - [*BackendError]: the backend rejected the request with a status.
//   - [*TransportError]: the request never produced a backend answer
//     (network, decoding, cancellation).
//
// Fallback between backends happens below the gateway, in the provider it
// wraps (see resilience.LLMFallback).
package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/tutorcall/internal/observe"
	"github.com/MrWong99/tutorcall/pkg/provider/llm"
)

// DefaultSystemPrompt is sent ahead of every conversation unless overridden.
const DefaultSystemPrompt = "You're an AI assistant. Use only the uploaded document context below to answer the user's query."

// Defaults applied by [New].
const (
	DefaultTemperature = 0.7
	DefaultTimeout     = 30 * time.Second
)

var (
	// ErrNoMessages is returned when Complete is called without messages.
	ErrNoMessages = errors.New("completion: no messages provided")

	// ErrEmptyReply is returned when the backend succeeded without any
	// non-blank reply text.
	ErrEmptyReply = errors.New("completion: empty backend reply")
)

// BackendError is a structured error reported by the completion backend.
type BackendError struct {
	Provider   string
	StatusCode int
	Code       string
	Message    string
}

// Error implements error.
func (e *BackendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("completion: backend %s returned status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("completion: backend %s: %s", e.Provider, e.Message)
}

// TransportError wraps a failure that kept the request from reaching or
// returning from the backend.
type TransportError struct {
	Err error
}

// Error implements error.
func (e *TransportError) Error() string { return "completion: transport: " + e.Err.Error() }

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error { return e.Err }

// Completer is the subset of [Gateway] the session depends on.
type Completer interface {
	Complete(ctx context.Context, msgs []llm.Message) (string, error)
}

var _ Completer = (*Gateway)(nil)

// Gateway wraps an [llm.Provider]. It is safe for concurrent use.
type Gateway struct {
	provider     llm.Provider
	name         string
	systemPrompt string
	temperature  float64
	timeout      time.Duration
	metrics      *observe.Metrics
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithProviderName sets the provider label used in metrics and errors.
func WithProviderName(name string) Option {
	return func(g *Gateway) { g.name = name }
}

// WithSystemPrompt overrides [DefaultSystemPrompt]. An empty prompt sends
// the conversation without a system message.
func WithSystemPrompt(prompt string) Option {
	return func(g *Gateway) { g.systemPrompt = prompt }
}

// WithTemperature overrides [DefaultTemperature].
func WithTemperature(t float64) Option {
	return func(g *Gateway) { g.temperature = t }
}

// WithTimeout bounds every request. Zero disables the gateway's own deadline.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.timeout = d }
}

// WithMetrics records request metrics to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// New creates a Gateway over p.
func New(p llm.Provider, opts ...Option) *Gateway {
	g := &Gateway{
		provider:     p,
		name:         "completion",
		systemPrompt: DefaultSystemPrompt,
		temperature:  DefaultTemperature,
		timeout:      DefaultTimeout,
	}
	for _, o := range opts {
		o(g)
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	return g
}

// Complete sends msgs to the backend and returns the trimmed reply text.
func (g *Gateway) Complete(ctx context.Context, msgs []llm.Message) (string, error) {
	if len(msgs) == 0 {
		return "", ErrNoMessages
	}

	ctx, span := observe.StartSpan(ctx, "completion.Complete",
		attribute.String("provider", g.name),
		attribute.Int("messages", len(msgs)),
	)
	defer span.End()

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := g.provider.Complete(ctx, llm.CompletionRequest{
		Messages:     msgs,
		Temperature:  g.temperature,
		SystemPrompt: g.systemPrompt,
	})
	var reply string
	if err == nil && resp != nil {
		reply = strings.TrimSpace(resp.Content)
	}
	if err == nil && reply == "" {
		err = ErrEmptyReply
	}
	err = g.classify(err)

	status := "ok"
	if err != nil {
		status = "error"
		kind := errorKind(err)
		g.metrics.RecordProviderError(ctx, g.name, kind)
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
	}
	g.metrics.RecordProviderRequest(ctx, g.name, "completion", status)
	g.metrics.CompletionDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(
			attribute.String("provider", g.name),
			attribute.String("status", status),
		),
	)
	if err != nil {
		return "", err
	}
	return reply, nil
}

// classify maps a provider error onto the gateway's error shapes.
func (g *Gateway) classify(err error) error {
	if err == nil || errors.Is(err, ErrEmptyReply) {
		return err
	}
	if errors.Is(err, llm.ErrEmptyResponse) {
		return ErrEmptyReply
	}
	var se *llm.StatusError
	if errors.As(err, &se) {
		provider := se.Provider
		if provider == "" {
			provider = g.name
		}
		return &BackendError{
			Provider:   provider,
			StatusCode: se.StatusCode,
			Code:       se.Code,
			Message:    se.Message,
		}
	}
	return &TransportError{Err: err}
}

func errorKind(err error) string {
	var be *BackendError
	switch {
	case errors.Is(err, ErrEmptyReply):
		return "empty_reply"
	case errors.As(err, &be):
		return "backend"
	default:
		return "transport"
	}
}

// UserMessage is shorthand for a single user-role message list.
func UserMessage(content string) []llm.Message {
	return []llm.Message{{Role: llm.RoleUser, Content: content}}
}
