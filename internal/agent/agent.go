// Package agent runs one assistant turn: it builds the customer context,
// assembles the conversation and loops between the model and the tools
// until the model produces a final answer.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/bilal-raza12/ShopEase/internal/apperr"
	"github.com/bilal-raza12/ShopEase/internal/composer"
	"github.com/bilal-raza12/ShopEase/internal/engine"
	"github.com/bilal-raza12/ShopEase/internal/telemetry"
	"github.com/bilal-raza12/ShopEase/internal/tools"
)

// State is a step of the turn state machine.
type State int

const (
	StateContextBuild State = iota
	StateMessageAssembly
	StateModelTurn
	StateToolDispatch
	StateFinal
)

func (s State) String() string {
	switch s {
	case StateContextBuild:
		return "CONTEXT_BUILD"
	case StateMessageAssembly:
		return "MESSAGE_ASSEMBLY"
	case StateModelTurn:
		return "MODEL_TURN"
	case StateToolDispatch:
		return "TOOL_DISPATCH"
	case StateFinal:
		return "FINAL"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

const (
	DefaultMaxRounds     = 6
	MaxRoundsLimit       = 8
	DefaultHistoryWindow = 10
)

// ContextBuilder produces the per-request customer context.
type ContextBuilder interface {
	Assemble(ctx context.Context, userID, query string) composer.AgentContext
}

// ToolRunner executes tool calls.
type ToolRunner interface {
	Specs() []tools.Spec
	Dispatch(ctx context.Context, userID string, c tools.Call) (string, error)
}

// Turn is one prior message of the thread.
type Turn struct {
	Role    string
	Content string
}

// ToolInvocation records a tool call made during the turn.
type ToolInvocation struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Result    string          `json:"result"`
	IsError   bool            `json:"is_error,omitempty"`
}

// Result is the outcome of a completed turn.
type Result struct {
	Text        string
	ToolsUsed   []ToolInvocation
	ContextUsed []string
	// Rounds counts model calls.
	Rounds int
}

// Orchestrator runs turns. It keeps no per-turn state and is safe for
// concurrent use.
type Orchestrator struct {
	contexts      ContextBuilder
	tools         ToolRunner
	engine        engine.Engine
	systemPrompt  string
	maxRounds     int
	historyWindow int
	bestEffort    bool
	logger        *slog.Logger
}

type Option func(*Orchestrator)

// WithMaxRounds caps the tool-dispatch rounds of one turn, clamped to 1..8.
func WithMaxRounds(n int) Option {
	return func(o *Orchestrator) {
		switch {
		case n < 1:
			n = 1
		case n > MaxRoundsLimit:
			n = MaxRoundsLimit
		}
		o.maxRounds = n
	}
}

// WithHistoryWindow sets how many prior turns are sent to the model.
func WithHistoryWindow(n int) Option {
	return func(o *Orchestrator) {
		if n >= 0 {
			o.historyWindow = n
		}
	}
}

func WithSystemPrompt(p string) Option {
	return func(o *Orchestrator) {
		if p != "" {
			o.systemPrompt = p
		}
	}
}

// WithBestEffortFallback makes a turn that runs out of rounds return the
// model's latest text instead of failing, when there is any.
func WithBestEffortFallback(on bool) Option {
	return func(o *Orchestrator) { o.bestEffort = on }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func New(contexts ContextBuilder, runner ToolRunner, eng engine.Engine, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		contexts:      contexts,
		tools:         runner,
		engine:        eng,
		systemPrompt:  DefaultSystemPrompt,
		maxRounds:     DefaultMaxRounds,
		historyWindow: DefaultHistoryWindow,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run answers message for userID given the thread's prior turns, oldest
// first. It persists nothing. Tool failures caused by unavailable
// infrastructure abort the turn with their original kind; model failures
// are AgentFailure errors.
func (o *Orchestrator) Run(ctx context.Context, userID, message string, history []Turn) (_ *Result, err error) {
	if strings.TrimSpace(message) == "" {
		return nil, apperr.Errorf(apperr.InvalidArgument, "agent run", "message is empty")
	}
	ctx, span := telemetry.StartSpan(ctx, "agent.run", "engine", o.engine.Name())
	defer func() { telemetry.EndSpan(span, err) }()

	var (
		res      Result
		ac       composer.AgentContext
		msgs     []engine.Message
		pending  []engine.ToolCall
		lastText string
		rounds   int
	)
	toolDefs := toEngineTools(o.tools.Specs())

	state := StateContextBuild
	for {
		telemetry.Event(ctx, "agent.state", "state", state.String())
		switch state {
		case StateContextBuild:
			ac = o.contexts.Assemble(ctx, userID, message)
			res.ContextUsed = ac.Sections()
			state = StateMessageAssembly

		case StateMessageAssembly:
			msgs = o.buildMessages(ac, history, message)
			state = StateModelTurn

		case StateModelTurn:
			if err := ctx.Err(); err != nil {
				return nil, apperr.E(apperr.AgentFailure, "agent run", err)
			}
			res.Rounds++
			resp, err := o.engine.Complete(ctx, engine.Request{Messages: msgs, Tools: toolDefs})
			if err != nil {
				return nil, apperr.E(apperr.AgentFailure, "model turn", err)
			}
			text := strings.TrimSpace(resp.Text)
			if len(resp.ToolCalls) == 0 {
				if text == "" {
					return nil, apperr.Errorf(apperr.AgentFailure, "model turn", "model returned no text (stop reason %q)", resp.StopReason)
				}
				res.Text = text
				state = StateFinal
				continue
			}
			if text != "" {
				lastText = text
			}
			if rounds >= o.maxRounds {
				return o.exhausted(&res, lastText)
			}
			msgs = append(msgs, engine.Message{Role: engine.RoleAssistant, Content: resp.Text, ToolCalls: resp.ToolCalls})
			pending = resp.ToolCalls
			state = StateToolDispatch

		case StateToolDispatch:
			rounds++
			for _, call := range pending {
				inv, err := o.dispatch(ctx, userID, call)
				if err != nil {
					return nil, err
				}
				res.ToolsUsed = append(res.ToolsUsed, inv)
				msgs = append(msgs, engine.Message{
					Role: engine.RoleTool, Content: inv.Result, IsError: inv.IsError,
					ToolCallID: call.ID, ToolName: call.Name,
				})
			}
			pending = nil
			state = StateModelTurn

		case StateFinal:
			telemetry.ObserveModelRounds(res.Rounds)
			o.logger.Debug("agent turn finished", "user_id", userID, "rounds", res.Rounds, "tools", len(res.ToolsUsed))
			return &res, nil
		}
	}
}

// dispatch runs one call. Calls the model got wrong (unknown tool, bad
// arguments) are answered with an error result so the model can retry;
// failures of the tool itself are returned.
func (o *Orchestrator) dispatch(ctx context.Context, userID string, call engine.ToolCall) (ToolInvocation, error) {
	inv := ToolInvocation{Name: call.Name, Arguments: call.Arguments}
	parsed, err := tools.ParseCall(call.Name, call.Arguments)
	if err != nil {
		o.logger.Warn("rejected tool call", "tool", call.Name, "error", err)
		telemetry.ObserveToolCall(call.Name, telemetry.Outcome(err))
		inv.Result, inv.IsError = "Error: "+err.Error(), true
		return inv, nil
	}
	out, err := o.tools.Dispatch(ctx, userID, parsed)
	if err != nil {
		if apperr.KindOf(err) == apperr.Unknown {
			err = apperr.E(apperr.AgentFailure, "tool "+call.Name, err)
		}
		return ToolInvocation{}, err
	}
	inv.Result = out
	return inv, nil
}

func (o *Orchestrator) exhausted(res *Result, lastText string) (*Result, error) {
	if o.bestEffort && lastText != "" {
		o.logger.Warn("tool round limit reached, returning partial answer", "max_rounds", o.maxRounds)
		res.Text = lastText
		telemetry.ObserveModelRounds(res.Rounds)
		return res, nil
	}
	return nil, apperr.Errorf(apperr.AgentFailure, "agent run", "model still requesting tools after %d rounds", o.maxRounds)
}

// buildMessages lays out the conversation: persona, customer context,
// name note, the last historyWindow prior turns, then the new message.
func (o *Orchestrator) buildMessages(ac composer.AgentContext, history []Turn, message string) []engine.Message {
	msgs := []engine.Message{{Role: engine.RoleSystem, Content: o.systemPrompt}}
	if block := ac.Render(); block != "" {
		msgs = append(msgs, engine.Message{Role: engine.RoleSystem, Content: "Current user context:\n" + block})
	}
	if ac.UserFound && ac.User.Name != "" {
		msgs = append(msgs, engine.Message{
			Role:    engine.RoleSystem,
			Content: fmt.Sprintf("The user's name is %s. Address them by name.", ac.User.Name),
		})
	}

	if len(history) > o.historyWindow {
		history = history[len(history)-o.historyWindow:]
	}
	for _, t := range history {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		role := t.Role
		if role != engine.RoleAssistant && role != engine.RoleSystem {
			role = engine.RoleUser
		}
		msgs = append(msgs, engine.Message{Role: role, Content: t.Content})
	}
	return append(msgs, engine.Message{Role: engine.RoleUser, Content: message})
}

func toEngineTools(specs []tools.Spec) []engine.Tool {
	out := make([]engine.Tool, len(specs))
	for i, s := range specs {
		props := make(map[string]any, len(s.Properties))
		for k, p := range s.Properties {
			props[k] = p
		}
		out[i] = engine.Tool{Name: s.Name, Description: s.Description, Properties: props, Required: s.Required}
	}
	return out
}
