package completion_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/tutorcall/internal/completion"
	"github.com/MrWong99/tutorcall/internal/observe"
	"github.com/MrWong99/tutorcall/pkg/provider/llm"
	"github.com/MrWong99/tutorcall/pkg/provider/llm/mock"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func TestComplete_ReturnsTrimmedReply(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "  Plants make sugar.\n"}}
	g := completion.New(p, completion.WithMetrics(testMetrics(t)))

	got, err := g.Complete(context.Background(), completion.UserMessage("explain"))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "Plants make sugar." {
		t.Errorf("reply = %q", got)
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("calls = %d; want 1", len(calls))
	}
	req := calls[0].Req
	if req.SystemPrompt != completion.DefaultSystemPrompt {
		t.Errorf("system prompt = %q", req.SystemPrompt)
	}
	if req.Temperature != completion.DefaultTemperature {
		t.Errorf("temperature = %v", req.Temperature)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != llm.RoleUser || req.Messages[0].Content != "explain" {
		t.Errorf("messages = %+v", req.Messages)
	}
	if _, ok := calls[0].Ctx.Deadline(); !ok {
		t.Error("request context has no deadline")
	}
}

func TestComplete_Options(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
	g := completion.New(p,
		completion.WithMetrics(testMetrics(t)),
		completion.WithSystemPrompt("be brief"),
		completion.WithTemperature(0.2),
		completion.WithTimeout(0),
	)
	if _, err := g.Complete(context.Background(), completion.UserMessage("hi")); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	call := p.Calls()[0]
	if call.Req.SystemPrompt != "be brief" || call.Req.Temperature != 0.2 {
		t.Errorf("req = %+v", call.Req)
	}
	if _, ok := call.Ctx.Deadline(); ok {
		t.Error("zero timeout should not set a deadline")
	}
}

func TestComplete_NoMessages(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{}
	g := completion.New(p, completion.WithMetrics(testMetrics(t)))
	if _, err := g.Complete(context.Background(), nil); !errors.Is(err, completion.ErrNoMessages) {
		t.Fatalf("err = %v; want ErrNoMessages", err)
	}
	if len(p.Calls()) != 0 {
		t.Error("backend should not be called")
	}
}

func TestComplete_ErrorMapping(t *testing.T) {
	t.Parallel()

	statusErr := &llm.StatusError{Provider: "chatapi", StatusCode: 429, Code: "rate_limited", Message: "slow down"}

	tests := []struct {
		name      string
		resp      *llm.CompletionResponse
		err       error
		wantEmpty bool
		wantBE    *completion.BackendError
		wantTE    bool
	}{
		{name: "nil response", wantEmpty: true},
		{name: "empty content", resp: &llm.CompletionResponse{}, wantEmpty: true},
		{name: "whitespace content", resp: &llm.CompletionResponse{Content: " \n\t"}, wantEmpty: true},
		{name: "provider empty response", err: fmt.Errorf("openai: %w", llm.ErrEmptyResponse), wantEmpty: true},
		{
			name:   "status error",
			err:    statusErr,
			wantBE: &completion.BackendError{Provider: "chatapi", StatusCode: 429, Code: "rate_limited", Message: "slow down"},
		},
		{
			name:   "wrapped status error",
			err:    fmt.Errorf("fallback: %w", statusErr),
			wantBE: &completion.BackendError{Provider: "chatapi", StatusCode: 429, Code: "rate_limited", Message: "slow down"},
		},
		{name: "network error", err: errors.New("dial tcp: connection refused"), wantTE: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			p := &mock.Provider{CompleteResponse: tc.resp, CompleteErr: tc.err}
			g := completion.New(p, completion.WithMetrics(testMetrics(t)))
			reply, err := g.Complete(context.Background(), completion.UserMessage("q"))
			if err == nil {
				t.Fatalf("expected error, got reply %q", reply)
			}
			if reply != "" {
				t.Errorf("reply = %q; want empty on error", reply)
			}

			if got := errors.Is(err, completion.ErrEmptyReply); got != tc.wantEmpty {
				t.Errorf("errors.Is(ErrEmptyReply) = %v; want %v (err=%v)", got, tc.wantEmpty, err)
			}
			var be *completion.BackendError
			if tc.wantBE != nil {
				if !errors.As(err, &be) {
					t.Fatalf("err = %T; want *BackendError", err)
				}
				if *be != *tc.wantBE {
					t.Errorf("backend error = %+v; want %+v", *be, *tc.wantBE)
				}
			} else if errors.As(err, &be) {
				t.Errorf("unexpected *BackendError: %v", err)
			}
			var te *completion.TransportError
			if got := errors.As(err, &te); got != tc.wantTE {
				t.Errorf("errors.As(*TransportError) = %v; want %v", got, tc.wantTE)
			}
		})
	}
}

func TestComplete_ContextCancelIsTransport(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{
		CompleteFunc: func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	g := completion.New(p, completion.WithMetrics(testMetrics(t)), completion.WithTimeout(20*time.Millisecond))

	_, err := g.Complete(context.Background(), completion.UserMessage("q"))
	var te *completion.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v; want *TransportError", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v; want to wrap DeadlineExceeded", err)
	}
}

func TestBackendError_Message(t *testing.T) {
	t.Parallel()

	e := &completion.BackendError{Provider: "openai", StatusCode: 401, Message: "bad key"}
	if got, want := e.Error(), "completion: backend openai returned status 401: bad key"; got != want {
		t.Errorf("Error() = %q; want %q", got, want)
	}
	e = &completion.BackendError{Provider: "openai", Message: "in-band"}
	if got, want := e.Error(), "completion: backend openai: in-band"; got != want {
		t.Errorf("Error() = %q; want %q", got, want)
	}
}
