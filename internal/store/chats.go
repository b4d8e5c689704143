package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sender identifies the author of a chat message.
type Sender string

const (
	// SenderUser is a message typed by the user.
	SenderUser Sender = "user"
	// SenderBot is an answer produced by the answer service.
	SenderBot Sender = "bot"
)

// Chat is a conversation owned by one user.
type Chat struct {
	// ID is the database identifier.
	ID int64 `json:"id"`
	// UserID is the owner.
	UserID int64 `json:"user_id"`
	// CreatedAt is when the chat was created.
	CreatedAt time.Time `json:"created_at"`
}

// Message is a single append-only turn in a chat.
type Message struct {
	// ID is the database identifier. It increases with insertion order.
	ID int64 `json:"id"`
	// ChatID is the chat the message belongs to.
	ChatID int64 `json:"chat_id"`
	// Sender is the author.
	Sender Sender `json:"sender"`
	// Content is the message text.
	Content string `json:"content"`
	// CreatedAt is when the message was persisted.
	CreatedAt time.Time `json:"timestamp"`
}

// CreateChat inserts a new chat owned by userID.
func (s *SQLiteStore) CreateChat(ctx context.Context, userID int64) (*Chat, error) {
	c := &Chat{UserID: userID, CreatedAt: s.now().UTC()}
	res, err := s.db.ExecContext(ctx, `INSERT INTO chats (user_id, created_at) VALUES (?, ?)`, userID, c.CreatedAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("store: create chat: %w", err)
	}
	if c.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("store: create chat id: %w", err)
	}
	return c, nil
}

// GetChat returns the chat with the given ID or ErrNotFound.
func (s *SQLiteStore) GetChat(ctx context.Context, id int64) (*Chat, error) {
	var (
		c  Chat
		ts int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, user_id, created_at FROM chats WHERE id = ?`, id).
		Scan(&c.ID, &c.UserID, &ts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get chat: %w", err)
	}
	c.CreatedAt = time.Unix(0, ts).UTC()
	return &c, nil
}

// ListChats returns the chats owned by userID, oldest first. A userID of 0
// returns every chat.
func (s *SQLiteStore) ListChats(ctx context.Context, userID int64) ([]Chat, error) {
	const (
		qAll   = `SELECT id, user_id, created_at FROM chats ORDER BY created_at ASC, id ASC`
		qOwner = `SELECT id, user_id, created_at FROM chats WHERE user_id = ? ORDER BY created_at ASC, id ASC`
	)
	var (
		rows *sql.Rows
		err  error
	)
	if userID == 0 {
		rows, err = s.db.QueryContext(ctx, qAll)
	} else {
		rows, err = s.db.QueryContext(ctx, qOwner, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("store: list chats: %w", err)
	}
	defer rows.Close()

	chats := []Chat{}
	for rows.Next() {
		var (
			c  Chat
			ts int64
		)
		if err := rows.Scan(&c.ID, &c.UserID, &ts); err != nil {
			return nil, fmt.Errorf("store: list chats scan: %w", err)
		}
		c.CreatedAt = time.Unix(0, ts).UTC()
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list chats rows: %w", err)
	}
	return chats, nil
}

// DeleteChat removes a chat and, through the foreign key cascade, its messages.
func (s *SQLiteStore) DeleteChat(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete chat: %w", err)
	}
	return requireAffected(res, "delete chat")
}

// AppendMessage persists one message. The timestamp never goes backwards
// within a chat: if the clock reads earlier than the chat's latest message,
// the latest timestamp is reused.
func (s *SQLiteStore) AppendMessage(ctx context.Context, chatID int64, sender Sender, content string) (*Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: append message: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var last sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(created_at) FROM messages WHERE chat_id = ?`, chatID).Scan(&last); err != nil {
		return nil, fmt.Errorf("store: append message: %w", err)
	}
	ts := s.now().UTC().UnixNano()
	if last.Valid && last.Int64 > ts {
		ts = last.Int64
	}

	const q = `INSERT INTO messages (chat_id, sender, content, created_at) VALUES (?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q, chatID, string(sender), content, ts)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: append message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("store: append message id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: append message commit: %w", err)
	}
	return &Message{ID: id, ChatID: chatID, Sender: sender, Content: content, CreatedAt: time.Unix(0, ts).UTC()}, nil
}

// ListMessages returns every message of a chat in (timestamp, insertion) order.
func (s *SQLiteStore) ListMessages(ctx context.Context, chatID int64) ([]Message, error) {
	const q = `
SELECT id, chat_id, sender, content, created_at
FROM   messages
WHERE  chat_id = ?
ORDER  BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, q, chatID)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer rows.Close()

	msgs := []Message{}
	for rows.Next() {
		var (
			m      Message
			sender string
			ts     int64
		)
		if err := rows.Scan(&m.ID, &m.ChatID, &sender, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("store: list messages scan: %w", err)
		}
		m.Sender = Sender(sender)
		m.CreatedAt = time.Unix(0, ts).UTC()
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list messages rows: %w", err)
	}
	return msgs, nil
}

// isForeignKeyViolation reports whether err is a FOREIGN KEY constraint failure.
func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
