package store

import (
	"database/sql"
	"fmt"
)

// fts5 has no upsert; shadow rows are replaced delete-then-insert, keyed by
// the message rowid.

// UpsertMessageFTS writes the full-text shadow row for a message.
// A message with no matching row is a no-op (the durable insert may still
// be queued behind this task; the next upsert self-heals).
func (db *DB) UpsertMessageFTS(chatID, msgID, text string) error {
	rowid, ok, err := db.messageRowID(chatID, msgID)
	if err != nil || !ok {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages_fts WHERE rowid = ?`, rowid); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO messages_fts (rowid, body) VALUES (?, ?)`, rowid, text); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteMessageFTS removes a message's shadow row (recall path). Idempotent.
func (db *DB) DeleteMessageFTS(chatID, msgID string) error {
	rowid, ok, err := db.messageRowID(chatID, msgID)
	if err != nil || !ok {
		return err
	}
	_, err = db.Exec(`DELETE FROM messages_fts WHERE rowid = ?`, rowid)
	return err
}

// BatchInsertFTS writes shadow rows for a batch of messages in one
// transaction (offline-sync path). Rows whose message is missing are skipped.
func (db *DB) BatchInsertFTS(entries []FTSRow) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, e := range entries {
		var rowid int64
		err := tx.QueryRow(`SELECT id FROM messages WHERE chat_id = ? AND msg_id = ?`, e.ChatID, e.MsgID).Scan(&rowid)
		if err != nil {
			continue
		}
		if _, err := tx.Exec(`DELETE FROM messages_fts WHERE rowid = ?`, rowid); err != nil {
			return err
		}
		if _, err := tx.Exec(`INSERT INTO messages_fts (rowid, body) VALUES (?, ?)`, rowid, e.Text); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SearchMessages performs a full-text search over the shadow table.
func (db *DB) SearchMessages(query string, chatID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT m.id, m.chat_id, m.msg_id, m.from_id, m.sender_name, m.content_type,
		       m.body, m.message_time, m.sequence, m.status,
		       snippet(messages_fts, 0, '<<', '>>', '...', 32)
		FROM messages_fts f
		JOIN messages m ON m.id = f.rowid
		WHERE messages_fts MATCH ?`

	args := []any{query}
	if chatID != "" {
		q += " AND m.chat_id = ?"
		args = append(args, chatID)
	}
	q += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(
			&r.Message.ID, &r.Message.ChatID, &r.Message.MsgID,
			&r.Message.FromID, &r.Message.SenderName, &r.Message.ContentType,
			&r.Message.Body, &r.Message.Time, &r.Message.Sequence,
			&r.Message.Status, &r.Snippet,
		); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (db *DB) messageRowID(chatID, msgID string) (int64, bool, error) {
	var rowid int64
	err := db.QueryRow(`SELECT id FROM messages WHERE chat_id = ? AND msg_id = ?`, chatID, msgID).Scan(&rowid)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return rowid, true, nil
}
