package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/bilal-raza12/ShopEase/internal/ollama"
)

const DefaultOllamaModel = "llama3.1"

// Ollama runs turns against a local Ollama server's /api/chat endpoint.
type Ollama struct {
	client    *ollama.Client
	model     string
	maxTokens int
}

// NewOllama creates an engine backed by an Ollama server at baseURL.
func NewOllama(baseURL, model string, opts ...Option) *Ollama {
	o := options{model: DefaultOllamaModel, maxTokens: defaultMaxTokens}
	WithModel(model)(&o)
	for _, opt := range opts {
		opt(&o)
	}
	if o.baseURL != "" {
		baseURL = o.baseURL
	}
	return &Ollama{client: ollama.New(baseURL), model: o.model, maxTokens: o.maxTokens}
}

// Client exposes the underlying client for readiness checks.
func (e *Ollama) Client() *ollama.Client { return e.client }

func (e *Ollama) Model() string { return e.model }

func (e *Ollama) Name() string { return ProviderOllama + "/" + e.model }

func (e *Ollama) Complete(ctx context.Context, req Request) (*Response, error) {
	maxTokens := e.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	msgs := make([]ollama.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		om := ollama.Message{Role: m.Role, Content: m.Content}
		if m.Role == RoleTool {
			om.ToolName = m.ToolName
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, ollama.ToolCall{
				Function: ollama.ToolCallFunction{Name: tc.Name, Arguments: toolInput(tc.Arguments)},
			})
		}
		msgs = append(msgs, om)
	}

	tools := make([]ollama.Tool, len(req.Tools))
	for i, t := range req.Tools {
		props := t.Properties
		if props == nil {
			props = map[string]any{}
		}
		required := t.Required
		if required == nil {
			required = []string{}
		}
		tools[i] = ollama.Tool{Type: "function", Function: ollama.ToolFunction{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  map[string]any{"type": "object", "properties": props, "required": required},
		}}
	}

	res, err := e.client.Chat(ctx, ollama.ChatRequest{
		Model:    e.model,
		Messages: msgs,
		Tools:    tools,
		Options:  &ollama.Options{NumPredict: maxTokens},
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}

	out := &Response{Text: res.Message.Content, StopReason: res.DoneReason}
	// Ollama does not number tool calls; ids are made up so results can be
	// paired with their call.
	for _, tc := range res.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        "call_" + uuid.NewString(),
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	if len(out.ToolCalls) > 0 {
		out.StopReason = "tool_use"
	}
	return out, nil
}
