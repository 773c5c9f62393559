// Package engine talks to the language model behind the dialogue loop.
// Messages use a provider-neutral shape; adapters translate them for the
// Anthropic Messages API and for a local Ollama server.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	// RoleTool marks a message carrying one tool result.
	RoleTool = "tool"
)

// Message is one entry of the conversation sent to the model.
type Message struct {
	Role    string
	Content string

	// ToolCalls is set on assistant messages that requested tools.
	ToolCalls []ToolCall

	// ToolCallID and ToolName tie a RoleTool message to its call.
	ToolCallID string
	ToolName   string
	IsError    bool
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Tool describes a callable tool to the model. Properties and Required
// form the JSON schema of its arguments.
type Tool struct {
	Name        string
	Description string
	Properties  map[string]any
	Required    []string
}

type Request struct {
	Messages  []Message
	Tools     []Tool
	MaxTokens int
}

type Response struct {
	Text       string
	ToolCalls  []ToolCall
	StopReason string
}

// Engine completes one model turn.
type Engine interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	// Name identifies the provider and model, for logs.
	Name() string
}

const (
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// Config selects and configures an Engine.
type Config struct {
	Provider  string
	Model     string
	MaxTokens int

	AnthropicKey  string
	OllamaBaseURL string
}

// New builds the engine named by cfg.Provider.
func New(cfg Config) (Engine, error) {
	switch cfg.Provider {
	case ProviderAnthropic, "":
		if cfg.AnthropicKey == "" {
			return nil, fmt.Errorf("anthropic engine: api key is required")
		}
		return NewAnthropic(cfg.AnthropicKey, WithModel(cfg.Model), WithMaxTokens(cfg.MaxTokens)), nil
	case ProviderOllama:
		return NewOllama(cfg.OllamaBaseURL, cfg.Model, WithMaxTokens(cfg.MaxTokens)), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}

type options struct {
	model     string
	maxTokens int
	baseURL   string
}

type Option func(*options)

// WithModel overrides the provider's default model. Empty keeps the default.
func WithModel(m string) Option {
	return func(o *options) {
		if m != "" {
			o.model = m
		}
	}
}

// WithMaxTokens bounds the length of each reply. Values <= 0 keep the default.
func WithMaxTokens(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxTokens = n
		}
	}
}

// WithBaseURL points the adapter at a different API endpoint.
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = u }
}

// toolInput substitutes an empty object for missing arguments.
func toolInput(raw json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage("{}")
	}
	return raw
}
