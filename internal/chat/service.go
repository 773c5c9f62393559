// Package chat is the conversation boundary: it resolves threads, runs
// the agent and stores each completed exchange.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bilal-raza12/ShopEase/internal/agent"
	"github.com/bilal-raza12/ShopEase/internal/apperr"
	"github.com/bilal-raza12/ShopEase/internal/catalog"
	"github.com/bilal-raza12/ShopEase/internal/storage"
	"github.com/bilal-raza12/ShopEase/internal/telemetry"
)

// maxMessageLen bounds a single user message, in bytes.
const maxMessageLen = 8000

// Store is the conversation store.
type Store interface {
	GetThread(ctx context.Context, id, userID string) (storage.Thread, error)
	ListThreads(ctx context.Context, userID string, limit int) ([]storage.Thread, error)
	ListMessages(ctx context.Context, threadID string) ([]storage.Message, error)
	CommitTurn(ctx context.Context, t storage.TurnCommit) error
	DeleteThread(ctx context.Context, id, userID string) error
}

// Runner answers one message.
type Runner interface {
	Run(ctx context.Context, userID, message string, history []agent.Turn) (*agent.Result, error)
}

// Users resolves the display fields stored on a new thread.
type Users interface {
	GetUser(ctx context.Context, id string) (catalog.User, error)
}

type Request struct {
	Message  string `json:"message"`
	ThreadID string `json:"thread_id,omitempty"`
	UserID   string `json:"user_id"`
}

type Response struct {
	Message     string         `json:"message"`
	ThreadID    string         `json:"thread_id"`
	ContextUsed []string       `json:"context_used,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ThreadDetail is a thread with its messages in creation order.
type ThreadDetail struct {
	storage.Thread
	Messages []storage.Message `json:"messages"`
}

type Service struct {
	store  Store
	runner Runner
	users  Users
	logger *slog.Logger
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService wires the chat service. users may be nil, in which case new
// threads carry no name or email.
func NewService(store Store, runner Runner, users Users, opts ...Option) *Service {
	s := &Service{store: store, runner: runner, users: users, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Send runs one exchange. A missing ThreadID starts a new thread; a
// thread owned by someone else is NotFound. Nothing is stored unless the
// agent succeeds, and then both messages are stored together.
func (s *Service) Send(ctx context.Context, req Request) (_ Response, err error) {
	start := time.Now()
	defer func() { telemetry.ObserveChatTurn(start, err) }()

	msg := strings.TrimSpace(req.Message)
	switch {
	case req.UserID == "":
		return Response{}, apperr.Errorf(apperr.InvalidArgument, "chat", "user_id is required")
	case msg == "":
		return Response{}, apperr.Errorf(apperr.InvalidArgument, "chat", "message is empty")
	case len(msg) > maxMessageLen:
		return Response{}, apperr.Errorf(apperr.InvalidArgument, "chat", "message longer than %d bytes", maxMessageLen)
	}

	ctx, span := telemetry.StartSpan(ctx, "chat.send", "user_id", req.UserID)
	defer func() { telemetry.EndSpan(span, err) }()

	var (
		thread    storage.Thread
		newThread bool
		history   []agent.Turn
	)
	if req.ThreadID != "" {
		thread, err = s.store.GetThread(ctx, req.ThreadID, req.UserID)
		if err != nil {
			return Response{}, err
		}
		msgs, err := s.store.ListMessages(ctx, thread.ID)
		if err != nil {
			return Response{}, fmt.Errorf("loading thread history: %w", err)
		}
		history = make([]agent.Turn, len(msgs))
		for i, m := range msgs {
			history[i] = agent.Turn{Role: m.Role, Content: m.Content}
		}
	} else {
		thread = s.newThread(ctx, req.UserID)
		newThread = true
	}

	result, err := s.runner.Run(ctx, req.UserID, msg, history)
	if err != nil {
		return Response{}, err
	}

	toolNames := make([]string, len(result.ToolsUsed))
	for i, t := range result.ToolsUsed {
		toolNames[i] = t.Name
	}
	commit := storage.TurnCommit{
		Thread:    thread,
		NewThread: newThread,
		User:      storage.Message{ID: uuid.NewString(), Content: msg, CreatedAt: start},
		Assistant: storage.Message{
			ID:      uuid.NewString(),
			Content: result.Text,
			ExtraData: map[string]any{
				"tools_used":   result.ToolsUsed,
				"context_used": result.ContextUsed,
				"rounds":       result.Rounds,
			},
		},
	}
	if err := s.store.CommitTurn(ctx, commit); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Response{}, err
		}
		return Response{}, fmt.Errorf("saving conversation turn: %w", err)
	}

	return Response{
		Message:     result.Text,
		ThreadID:    thread.ID,
		ContextUsed: result.ContextUsed,
		Metadata:    map[string]any{"tools_used": toolNames, "rounds": result.Rounds},
	}, nil
}

// newThread pre-allocates a thread for userID. The row is only written
// when the first exchange commits.
func (s *Service) newThread(ctx context.Context, userID string) storage.Thread {
	t := storage.Thread{ID: uuid.NewString(), UserID: userID}
	if s.users == nil {
		return t
	}
	u, err := s.users.GetUser(ctx, userID)
	switch {
	case err == nil:
		t.UserName, t.UserEmail = u.Name, u.Email
	case !errors.Is(err, apperr.ErrNotFound):
		s.logger.Warn("looking up user for new thread", "user_id", userID, "error", err)
	}
	return t
}

// Threads lists the user's threads, newest first.
func (s *Service) Threads(ctx context.Context, userID string, limit int) ([]storage.Thread, error) {
	if userID == "" {
		return nil, apperr.Errorf(apperr.InvalidArgument, "list threads", "user_id is required")
	}
	return s.store.ListThreads(ctx, userID, limit)
}

// Thread returns one of the user's threads with its messages.
func (s *Service) Thread(ctx context.Context, id, userID string) (ThreadDetail, error) {
	t, err := s.store.GetThread(ctx, id, userID)
	if err != nil {
		return ThreadDetail{}, err
	}
	msgs, err := s.store.ListMessages(ctx, id)
	if err != nil {
		return ThreadDetail{}, fmt.Errorf("loading messages: %w", err)
	}
	if msgs == nil {
		msgs = []storage.Message{}
	}
	return ThreadDetail{Thread: t, Messages: msgs}, nil
}

// DeleteThread removes one of the user's threads and all its messages.
func (s *Service) DeleteThread(ctx context.Context, id, userID string) error {
	return s.store.DeleteThread(ctx, id, userID)
}
