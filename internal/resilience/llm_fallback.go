package resilience

import (
	"context"
	"strings"

	"github.com/MrWong99/tutorcall/pkg/provider/llm"
)

// LLMFallback is an [llm.Provider] that fails over across several completion
// backends. The error of the last backend tried stays reachable through
// errors.Is and errors.As, so a [*llm.StatusError] or [llm.ErrEmptyResponse]
// from it is still classified by the caller.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an LLMFallback preferring primary.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend, tried after those already added.
func (f *LLMFallback) AddFallback(name string, p llm.Provider) {
	f.group.AddFallback(name, p)
}

// Backends returns the backend names in failover order.
func (f *LLMFallback) Backends() []string { return f.group.Names() }

// Complete returns the first successful response. A backend that answers
// with an empty body counts as failed so the next one gets a chance.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		resp, err := p.Complete(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp == nil || strings.TrimSpace(resp.Content) == "" {
			return nil, llm.ErrEmptyResponse
		}
		return resp, nil
	})
}

// Capabilities reports the primary's capabilities.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	return f.group.entries[0].value.Capabilities()
}
