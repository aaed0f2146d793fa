package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"go-chat-history/internal/messageid"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func toMessage(chatID int64, rowID int64, createdAt time.Time, m *Message) {
	m.ID = messageid.FromServer(int32(rowID))
	m.ChatID = chatID
	m.Date = int32(createdAt.Unix())
}

// serverBound is the greatest row id strictly older than before.
func serverBound(before messageid.ID) int64 {
	if !before.Valid() {
		return math.MaxInt32
	}
	return (int64(before) - 1) >> messageid.ServerShift
}

func (r *Repository) SaveMessage(ctx context.Context, chatID int64, userID int, content string) (*Message, error) {
	var (
		rowID     int64
		createdAt time.Time
	)
	query := `INSERT INTO messages (conversation_id, sender_id, content) VALUES ($1, $2, $3)
		RETURNING id, created_at`
	if err := r.db.QueryRowContext(ctx, query, chatID, userID, content).Scan(&rowID, &createdAt); err != nil {
		return nil, err
	}
	msg := &Message{UserID: userID, Content: content}
	toMessage(chatID, rowID, createdAt, msg)
	return msg, nil
}

// GetHistory returns up to limit messages older than before, newest first.
func (r *Repository) GetHistory(ctx context.Context, chatID int64, before messageid.ID, limit int) ([]*Message, error) {
	query := `
		SELECT m.id, m.sender_id, u.username, m.content, m.created_at
		FROM messages m
		JOIN users u ON m.sender_id = u.id
		WHERE m.conversation_id = $1 AND m.id <= $2
		ORDER BY m.id DESC
		LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, query, chatID, serverBound(before), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var (
			rowID     int64
			createdAt time.Time
		)
		msg := &Message{}
		if err := rows.Scan(&rowID, &msg.UserID, &msg.Username, &msg.Content, &createdAt); err != nil {
			return nil, err
		}
		toMessage(chatID, rowID, createdAt, msg)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// GetMessageAtDate returns the last message sent not after date, or nil.
func (r *Repository) GetMessageAtDate(ctx context.Context, chatID int64, date int32) (*Message, error) {
	query := `
		SELECT m.id, m.sender_id, u.username, m.content, m.created_at
		FROM messages m
		JOIN users u ON m.sender_id = u.id
		WHERE m.conversation_id = $1 AND m.created_at <= to_timestamp($2)
		ORDER BY m.id DESC
		LIMIT 1
	`
	var (
		rowID     int64
		createdAt time.Time
	)
	msg := &Message{}
	err := r.db.QueryRowContext(ctx, query, chatID, date).Scan(&rowID, &msg.UserID, &msg.Username, &msg.Content, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	toMessage(chatID, rowID, createdAt, msg)
	return msg, nil
}

func (r *Repository) DeleteMessage(ctx context.Context, chatID int64, userID int, id messageid.ID) error {
	if !id.IsServer() {
		return ErrMessageNotFound
	}
	query := "DELETE FROM messages WHERE id = $1 AND conversation_id = $2 AND sender_id = $3"
	res, err := r.db.ExecContext(ctx, query, id.ServerID(), chatID, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func (r *Repository) IsParticipant(ctx context.Context, chatID int64, userID int) (bool, error) {
	var ok bool
	query := "SELECT EXISTS (SELECT 1 FROM participants WHERE conversation_id = $1 AND user_id = $2)"
	if err := r.db.QueryRowContext(ctx, query, chatID, userID).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// CreateConversation finds or creates the private conversation of two users.
func (r *Repository) CreateConversation(ctx context.Context, userID, peerID int) (*Conversation, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	conv := &Conversation{}
	find := `
		SELECT c.id, c.type, c.created_at
		FROM conversations c
		JOIN participants a ON a.conversation_id = c.id AND a.user_id = $1
		JOIN participants b ON b.conversation_id = c.id AND b.user_id = $2
		WHERE c.type = 'private'
		LIMIT 1
	`
	err = tx.QueryRowContext(ctx, find, userID, peerID).Scan(&conv.ID, &conv.Type, &conv.CreatedAt)
	if err == nil {
		return conv, tx.Commit()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	create := "INSERT INTO conversations (type) VALUES ('private') RETURNING id, type, created_at"
	if err := tx.QueryRowContext(ctx, create).Scan(&conv.ID, &conv.Type, &conv.CreatedAt); err != nil {
		return nil, err
	}
	join := "INSERT INTO participants (conversation_id, user_id) VALUES ($1, $2), ($1, $3)"
	if _, err := tx.ExecContext(ctx, join, conv.ID, userID, peerID); err != nil {
		return nil, fmt.Errorf("add participants: %w", err)
	}
	return conv, tx.Commit()
}
