package store

import (
	"database/sql"
	"time"
)

// PutDraft writes a draft entry.
func (db *DB) PutDraft(chatID, html string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO drafts (chat_id, html, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET html = excluded.html, updated_at = excluded.updated_at`,
		chatID, html, now)
	return err
}

// DraftByChat returns a chat's draft, or empty string and false when absent.
func (db *DB) DraftByChat(chatID string) (string, bool, error) {
	var html string
	err := db.QueryRow(`SELECT html FROM drafts WHERE chat_id = ?`, chatID).Scan(&html)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return html, true, nil
}

// DeleteDraft removes a chat's draft. Absence means "no draft"; there are
// no tombstones.
func (db *DB) DeleteDraft(chatID string) error {
	_, err := db.Exec(`DELETE FROM drafts WHERE chat_id = ?`, chatID)
	return err
}

// ListDrafts returns all persisted drafts (session warm-up).
func (db *DB) ListDrafts() ([]Draft, error) {
	rows, err := db.Query(`SELECT chat_id, html, updated_at FROM drafts`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var drafts []Draft
	for rows.Next() {
		var d Draft
		if err := rows.Scan(&d.ChatID, &d.HTML, &d.UpdatedAt); err != nil {
			return nil, err
		}
		drafts = append(drafts, d)
	}
	return drafts, rows.Err()
}
