package storage

import (
	"time"

	"github.com/bilal-raza12/ShopEase/internal/apperr"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = apperr.ErrNotFound

// Message roles persisted in chat_messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

type Thread struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name,omitempty"`
	UserEmail string    `json:"user_email,omitempty"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Message struct {
	ID        string         `json:"id"`
	ThreadID  string         `json:"thread_id"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ExtraData map[string]any `json:"extra_data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// TurnCommit is one completed exchange. When NewThread is set the thread
// row is created in the same transaction as the two messages.
type TurnCommit struct {
	Thread    Thread
	NewThread bool
	User      Message
	Assistant Message
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
