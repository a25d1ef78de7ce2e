// Package chatapi implements llm.Provider against a hosted chat endpoint that
// accepts {"messages":[{"role","content"}]} and answers {"reply"} or
// {"reply":null,"error"}. This is the shape served by tutorcall's own
// POST /v1/chat route, so one tutorcall instance can use another as its
// completion backend.
package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MrWong99/tutorcall/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// maxBody caps how much of a response body is read.
const maxBody = 1 << 20

// Option is a functional option for Provider.
type Option func(*Provider)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithAPIKey sends the key as a bearer token on every request.
func WithAPIKey(key string) Option {
	return func(p *Provider) { p.apiKey = key }
}

// Provider posts chat requests to a single endpoint URL.
type Provider struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// New returns a Provider for the given endpoint URL.
func New(endpoint string, opts ...Option) (*Provider, error) {
	if endpoint == "" {
		return nil, errors.New("chatapi: endpoint must not be empty")
	}
	p := &Provider{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Messages []wireMessage `json:"messages"`
}

type wireResponse struct {
	Reply *string `json:"reply"`
	Error string  `json:"error,omitempty"`
}

// Complete implements llm.Provider. The system prompt, if any, is sent as the
// first message because the endpoint has no separate field for it.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	body := wireRequest{Messages: make([]wireMessage, 0, len(req.Messages)+1)}
	if req.SystemPrompt != "" {
		body.Messages = append(body.Messages, wireMessage{Role: llm.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, wireMessage{Role: m.Role, Content: m.Content})
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("chatapi: marshal: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("chatapi: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chatapi: do: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("chatapi: read body: %w", err)
	}

	var out wireResponse
	decodeErr := json.Unmarshal(raw, &out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// A non-2xx answer with no error field and a null reply is the
		// endpoint's way of saying the model produced nothing.
		if decodeErr == nil && out.Error == "" && out.Reply == nil {
			return nil, fmt.Errorf("chatapi: status %d: %w", resp.StatusCode, llm.ErrEmptyResponse)
		}
		msg := out.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &llm.StatusError{Provider: "chatapi", StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("chatapi: decode response: %w", decodeErr)
	}
	if out.Error != "" {
		return nil, &llm.StatusError{Provider: "chatapi", Message: out.Error}
	}
	if out.Reply == nil {
		return nil, fmt.Errorf("chatapi: %w: no reply field", llm.ErrEmptyResponse)
	}
	return &llm.CompletionResponse{Content: *out.Reply}, nil
}

// Capabilities implements llm.Provider. The remote model is opaque, so
// conservative defaults are reported.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	return llm.ModelCapabilities{ContextWindow: 8_192, MaxOutputTokens: 4_096}
}
