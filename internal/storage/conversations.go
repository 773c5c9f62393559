package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bilal-raza12/ShopEase/internal/apperr"
)

// titleLimit caps the thread title taken from the opening message.
const titleLimit = 60

// ThreadTitle derives a thread title from its first user message.
func ThreadTitle(firstMessage string) string {
	r := []rune(firstMessage)
	if len(r) <= titleLimit {
		return firstMessage
	}
	return string(r[:titleLimit]) + "..."
}

// CommitTurn stores one user/assistant exchange atomically. A new thread is
// created when t.NewThread is set; otherwise the thread must exist and belong
// to t.Thread.UserID.
func (s *Store) CommitTurn(ctx context.Context, t TurnCommit) error {
	if t.Thread.ID == "" || t.Thread.UserID == "" {
		return apperr.Errorf(apperr.InvalidArgument, "commit turn", "thread id and user id are required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning turn transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	if t.NewThread {
		title := t.Thread.Title
		if title == "" {
			title = ThreadTitle(t.User.Content)
		}
		created := now
		if !t.Thread.CreatedAt.IsZero() {
			created = t.Thread.CreatedAt
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chat_threads (id, user_id, user_name, user_email, title, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			t.Thread.ID, t.Thread.UserID, t.Thread.UserName, t.Thread.UserEmail, title,
			formatTime(created), formatTime(now),
		); err != nil {
			return fmt.Errorf("creating thread %s: %w", t.Thread.ID, err)
		}
	} else {
		var owner string
		err := tx.QueryRowContext(ctx, `SELECT user_id FROM chat_threads WHERE id = ?`, t.Thread.ID).Scan(&owner)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != t.Thread.UserID) {
			return apperr.Errorf(apperr.NotFound, "commit turn", "thread %s", t.Thread.ID)
		}
		if err != nil {
			return err
		}
	}

	// The assistant reply is stamped after the user message so ordering by
	// created_at keeps the pair in sequence.
	userAt := now
	if !t.User.CreatedAt.IsZero() {
		userAt = t.User.CreatedAt
	}
	assistantAt := userAt.Add(time.Microsecond)
	if !t.Assistant.CreatedAt.IsZero() && t.Assistant.CreatedAt.After(userAt) {
		assistantAt = t.Assistant.CreatedAt
	}

	if err := insertMessage(ctx, tx, t.Thread.ID, RoleUser, t.User, userAt); err != nil {
		return err
	}
	if err := insertMessage(ctx, tx, t.Thread.ID, RoleAssistant, t.Assistant, assistantAt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE chat_threads SET updated_at = ? WHERE id = ?`, formatTime(now), t.Thread.ID); err != nil {
		return err
	}
	return tx.Commit()
}

func insertMessage(ctx context.Context, tx *sql.Tx, threadID, role string, m Message, at time.Time) error {
	id := m.ID
	if id == "" {
		id = uuid.NewString()
	}
	var extra sql.NullString
	if len(m.ExtraData) > 0 {
		b, err := json.Marshal(m.ExtraData)
		if err != nil {
			return fmt.Errorf("encoding message metadata: %w", err)
		}
		extra = sql.NullString{String: string(b), Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO chat_messages (id, thread_id, role, content, extra_data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, threadID, role, m.Content, extra, formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("inserting %s message: %w", role, err)
	}
	return nil
}

// GetThread returns the thread when it exists and is owned by userID.
func (s *Store) GetThread(ctx context.Context, id, userID string) (Thread, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, user_name, user_email, title, created_at, updated_at
		FROM chat_threads WHERE id = ? AND user_id = ?`, id, userID)
	th, err := scanThread(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Thread{}, apperr.Errorf(apperr.NotFound, "get thread", "thread %s", id)
	}
	return th, err
}

// ListThreads returns the user's threads, most recently created first.
func (s *Store) ListThreads(ctx context.Context, userID string, limit int) ([]Thread, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, user_name, user_email, title, created_at, updated_at
		FROM chat_threads WHERE user_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing threads: %w", err)
	}
	defer rows.Close()

	var out []Thread
	for rows.Next() {
		th, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, th)
	}
	return out, rows.Err()
}

func scanThread(sc interface{ Scan(...any) error }) (Thread, error) {
	var th Thread
	var name, email, title sql.NullString
	var created, updated string
	if err := sc.Scan(&th.ID, &th.UserID, &name, &email, &title, &created, &updated); err != nil {
		return Thread{}, err
	}
	th.UserName, th.UserEmail, th.Title = name.String, email.String, title.String
	var err error
	if th.CreatedAt, err = parseTime(created); err != nil {
		return Thread{}, err
	}
	if th.UpdatedAt, err = parseTime(updated); err != nil {
		return Thread{}, err
	}
	return th, nil
}

// ListMessages returns a thread's messages in chronological order.
func (s *Store) ListMessages(ctx context.Context, threadID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, role, content, extra_data, created_at
		FROM chat_messages WHERE thread_id = ? ORDER BY created_at, rowid`, threadID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var extra sql.NullString
		var created string
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Role, &m.Content, &extra, &created); err != nil {
			return nil, err
		}
		if extra.Valid && extra.String != "" {
			if err := json.Unmarshal([]byte(extra.String), &m.ExtraData); err != nil {
				return nil, fmt.Errorf("decoding metadata of message %s: %w", m.ID, err)
			}
		}
		if m.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteThread removes a thread and its messages. The thread must belong to userID.
func (s *Store) DeleteThread(ctx context.Context, id, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	var owner string
	err = tx.QueryRowContext(ctx, `SELECT user_id FROM chat_threads WHERE id = ?`, id).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != userID) {
		return apperr.Errorf(apperr.NotFound, "delete thread", "thread %s", id)
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE thread_id = ?`, id); err != nil {
		return fmt.Errorf("deleting messages of thread %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_threads WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting thread %s: %w", id, err)
	}
	return tx.Commit()
}
