package draft

import (
	"strings"
	"sync"
	"time"

	"github.com/linnet-im/linnet/internal/store"
	"go.uber.org/zap"
)

// State of a conversation's pending draft save. Exposed so conversation
// switches can be asserted deterministically instead of racing a timer.
type State int

const (
	StateIdle State = iota
	StatePending
	StateFlushed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateFlushed:
		return "flushed"
	case StateCancelled:
		return "cancelled"
	}
	return "idle"
}

// Manager is the per-conversation draft cache with debounced persistence.
// An entry's absence means "no draft"; a whitespace-only value deletes the
// entry instead of storing a tombstone.
type Manager struct {
	mu     sync.Mutex
	drafts map[string]string
	timers map[string]*time.Timer
	states map[string]State

	debounce time.Duration
	db       *store.DB
	logger   *zap.Logger
}

// NewManager creates a manager persisting through db.
func NewManager(db *store.DB, debounce time.Duration, logger *zap.Logger) *Manager {
	if debounce <= 0 {
		debounce = 800 * time.Millisecond
	}
	return &Manager{
		drafts:   make(map[string]string),
		timers:   make(map[string]*time.Timer),
		states:   make(map[string]State),
		debounce: debounce,
		db:       db,
		logger:   logger,
	}
}

// Load warms the in-memory cache from the persisted drafts.
func (m *Manager) Load() error {
	drafts, err := m.db.ListDrafts()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range drafts {
		m.drafts[d.ChatID] = d.HTML
	}
	return nil
}

// Set records a draft and schedules its debounced save. A whitespace-only
// value deletes the draft immediately.
func (m *Manager) Set(chatID, html string) {
	m.mu.Lock()
	if strings.TrimSpace(html) == "" {
		m.stopTimer(chatID)
		delete(m.drafts, chatID)
		delete(m.states, chatID)
		m.mu.Unlock()
		if err := m.db.DeleteDraft(chatID); err != nil {
			m.logger.Warn("draft delete failed", zap.Error(err), zap.String("chat_id", chatID))
		}
		return
	}

	m.drafts[chatID] = html
	m.states[chatID] = StatePending
	m.stopTimer(chatID)
	m.timers[chatID] = time.AfterFunc(m.debounce, func() {
		m.Flush(chatID)
	})
	m.mu.Unlock()
}

// Get returns the draft for a chat, consulting the store when the memory
// cache has no entry.
func (m *Manager) Get(chatID string) (string, bool) {
	m.mu.Lock()
	html, ok := m.drafts[chatID]
	m.mu.Unlock()
	if ok {
		return html, true
	}
	html, ok, err := m.db.DraftByChat(chatID)
	if err != nil {
		m.logger.Warn("draft read failed", zap.Error(err), zap.String("chat_id", chatID))
		return "", false
	}
	return html, ok
}

// Flush persists a pending draft now and settles its timer. Safe to call
// when nothing is pending.
func (m *Manager) Flush(chatID string) {
	m.mu.Lock()
	m.stopTimer(chatID)
	html, ok := m.drafts[chatID]
	if !ok || m.states[chatID] != StatePending {
		m.mu.Unlock()
		return
	}
	m.states[chatID] = StateFlushed
	m.mu.Unlock()

	if err := m.db.PutDraft(chatID, html); err != nil {
		m.logger.Warn("draft save failed", zap.Error(err), zap.String("chat_id", chatID))
	}
}

// Cancel discards a pending save without persisting, so a stale timer can
// never fire against the wrong conversation after a switch.
func (m *Manager) Cancel(chatID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopTimer(chatID)
	if m.states[chatID] == StatePending {
		m.states[chatID] = StateCancelled
	}
}

// Clear removes a conversation's draft everywhere (conversation delete).
func (m *Manager) Clear(chatID string) {
	m.mu.Lock()
	m.stopTimer(chatID)
	delete(m.drafts, chatID)
	delete(m.states, chatID)
	m.mu.Unlock()

	if err := m.db.DeleteDraft(chatID); err != nil {
		m.logger.Warn("draft delete failed", zap.Error(err), zap.String("chat_id", chatID))
	}
}

// State reports the save state for a chat's draft.
func (m *Manager) State(chatID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[chatID]
}

// stopTimer must be called with the lock held.
func (m *Manager) stopTimer(chatID string) {
	if t, ok := m.timers[chatID]; ok {
		t.Stop()
		delete(m.timers, chatID)
	}
}
