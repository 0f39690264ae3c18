package store

import (
	"database/sql"
	"time"
)

// UpsertChat inserts or updates a chat row. Ordering keys are
// monotonic-guarded: a stale write can never regress message_time,
// sequence, or the preview that belongs to a newer message. Everything
// else is last-write-wins.
func (db *DB) UpsertChat(c *Chat) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO chats (chat_id, owner_id, to_id, chat_type, name, preview, message_time, sequence, unread_count, is_top, is_mute, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			owner_id = excluded.owner_id,
			to_id = excluded.to_id,
			chat_type = excluded.chat_type,
			name = excluded.name,
			preview = CASE WHEN excluded.sequence >= chats.sequence THEN excluded.preview ELSE chats.preview END,
			message_time = MAX(chats.message_time, excluded.message_time),
			sequence = MAX(chats.sequence, excluded.sequence),
			unread_count = excluded.unread_count,
			is_top = excluded.is_top,
			is_mute = excluded.is_mute,
			updated_at = excluded.updated_at`,
		c.ChatID, c.OwnerID, c.ToID, c.Type, c.Name, c.Preview, c.MessageTime, c.Sequence, c.Unread, c.IsTop, c.IsMute, now)
	return err
}

// ListChats returns all chats ordered by pin then recency.
func (db *DB) ListChats() ([]Chat, error) {
	rows, err := db.Query(`
		SELECT chat_id, owner_id, to_id, chat_type, name, preview, message_time, sequence, unread_count, is_top, is_mute
		FROM chats
		ORDER BY is_top DESC, message_time DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ChatID, &c.OwnerID, &c.ToID, &c.Type, &c.Name, &c.Preview, &c.MessageTime, &c.Sequence, &c.Unread, &c.IsTop, &c.IsMute); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// ChatByID returns a single chat, or nil when absent.
func (db *DB) ChatByID(chatID string) (*Chat, error) {
	var c Chat
	err := db.QueryRow(`
		SELECT chat_id, owner_id, to_id, chat_type, name, preview, message_time, sequence, unread_count, is_top, is_mute
		FROM chats WHERE chat_id = ?`, chatID).
		Scan(&c.ChatID, &c.OwnerID, &c.ToID, &c.Type, &c.Name, &c.Preview, &c.MessageTime, &c.Sequence, &c.Unread, &c.IsTop, &c.IsMute)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SetChatTop updates the pin flag.
func (db *DB) SetChatTop(chatID string, top bool) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE chats SET is_top = ?, updated_at = ? WHERE chat_id = ?`, top, now, chatID)
	return err
}

// SetChatMute updates the mute flag.
func (db *DB) SetChatMute(chatID string, mute bool) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE chats SET is_mute = ?, updated_at = ? WHERE chat_id = ?`, mute, now, chatID)
	return err
}

// ResetChatUnread zeroes the unread counter.
func (db *DB) ResetChatUnread(chatID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE chats SET unread_count = 0, updated_at = ? WHERE chat_id = ?`, now, chatID)
	return err
}

// DeleteChat removes a chat row. Its messages stay; history survives an
// explicit conversation delete.
func (db *DB) DeleteChat(chatID string) error {
	_, err := db.Exec(`DELETE FROM chats WHERE chat_id = ?`, chatID)
	return err
}
