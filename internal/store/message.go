package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertMessage inserts or updates a message (idempotent on chat_id + msg_id).
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (chat_id, msg_id, from_id, sender_name, content_type, body, message_time, sequence, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id, msg_id) DO UPDATE SET
			sender_name = excluded.sender_name,
			content_type = excluded.content_type,
			body = excluded.body,
			status = excluded.status`,
		m.ChatID, m.MsgID, m.FromID, m.SenderName, m.ContentType, m.Body, m.Time, m.Sequence, m.Status, now)
	return err
}

// MessageByID returns a single message, or nil when absent.
func (db *DB) MessageByID(chatID, msgID string) (*Message, error) {
	var m Message
	err := db.QueryRow(`
		SELECT id, chat_id, msg_id, from_id, sender_name, content_type, body, message_time, sequence, status
		FROM messages WHERE chat_id = ? AND msg_id = ?`, chatID, msgID).
		Scan(&m.ID, &m.ChatID, &m.MsgID, &m.FromID, &m.SenderName, &m.ContentType, &m.Body, &m.Time, &m.Sequence, &m.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns one page of a conversation's history, newest first,
// using offset pagination: offset = (page-1) * pageSize.
func (db *DB) ListMessages(chatID string, limit, offset int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, chat_id, msg_id, from_id, sender_name, content_type, body, message_time, sequence, status
		FROM messages
		WHERE chat_id = ?
		ORDER BY sequence DESC, id DESC
		LIMIT ? OFFSET ?`, chatID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.MsgID, &m.FromID, &m.SenderName, &m.ContentType, &m.Body, &m.Time, &m.Sequence, &m.Status); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// CountMessages returns the total row count for a conversation.
func (db *DB) CountMessages(chatID string) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE chat_id = ?`, chatID).Scan(&n)
	return n, err
}

// UpdateMessageBody replaces a message's body and content type in place,
// preserving the row and its position in history (recall/edit).
func (db *DB) UpdateMessageBody(chatID, msgID string, contentType int, body string) error {
	_, err := db.Exec(`
		UPDATE messages SET content_type = ?, body = ? WHERE chat_id = ? AND msg_id = ?`,
		contentType, body, chatID, msgID)
	return err
}

// ConfirmMessage rewrites a message's identity from the client temp id to
// the server-assigned id and records the server sequence.
func (db *DB) ConfirmMessage(chatID, tempID, serverID string, sequence int64) error {
	_, err := db.Exec(`
		UPDATE messages SET msg_id = ?, sequence = ?, status = 'sent'
		WHERE chat_id = ? AND msg_id = ?`,
		serverID, sequence, chatID, tempID)
	return err
}

// BatchInsertMessages upserts a batch of messages in one transaction
// (offline-sync path).
func (db *DB) BatchInsertMessages(msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if _, err := tx.Exec(`
			INSERT INTO messages (chat_id, msg_id, from_id, sender_name, content_type, body, message_time, sequence, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(chat_id, msg_id) DO UPDATE SET
				sender_name = excluded.sender_name,
				content_type = excluded.content_type,
				body = excluded.body,
				status = excluded.status`,
			m.ChatID, m.MsgID, m.FromID, m.SenderName, m.ContentType, m.Body, m.Time, m.Sequence, m.Status, now); err != nil {
			return fmt.Errorf("upsert message in batch: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}
