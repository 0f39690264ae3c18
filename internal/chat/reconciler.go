package chat

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/linnet-im/linnet/internal/bus"
	"github.com/linnet-im/linnet/internal/codec"
	"github.com/linnet-im/linnet/internal/draft"
	"github.com/linnet-im/linnet/internal/idle"
	"github.com/linnet-im/linnet/internal/notify"
	"github.com/linnet-im/linnet/internal/protocol"
	"github.com/linnet-im/linnet/internal/store"
	"go.uber.org/zap"
)

// API is the slice of the HTTP client the reconciler needs. Every call is a
// safe-execute variant: a dropped request degrades to a logged fallback.
type API interface {
	SafeGetChat(ctx context.Context, ownerID, toID string) *store.Chat
	SafeCreateChat(ctx context.Context, ownerID, toID string, chatType int) *store.Chat
	SafeGetChatList(ctx context.Context, ownerID string) []store.Chat
	SafeGetMessageList(ctx context.Context, chatID string, afterSeq int64, limit int) []store.Message
}

// Options tunes the reconciler.
type Options struct {
	// PageSize is the history window loaded per page.
	PageSize int
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = 50
	}
	return o
}

// Reconciler owns the session's chat list and the open conversation's visible
// message window. The in-memory list is the source of truth while the session
// runs; the store mirrors it through idle-slot tasks so ingestion never waits
// on disk.
type Reconciler struct {
	mu      sync.Mutex
	selfID  string
	chats   []*store.Chat
	index   map[string]*store.Chat
	openID  string
	visible []store.Message
	page    int
	total   int
	counted bool

	opts     Options
	db       *store.DB
	api      API
	exec     *idle.Executor
	drafts   *draft.Manager
	notifier *notify.Notifier
	bus      *bus.Bus
	logger   *zap.Logger
}

// NewReconciler creates a reconciler for one account session.
func NewReconciler(selfID string, db *store.DB, api API, exec *idle.Executor, drafts *draft.Manager, notifier *notify.Notifier, b *bus.Bus, opts Options, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		selfID:   selfID,
		index:    make(map[string]*store.Chat),
		opts:     opts.withDefaults(),
		db:       db,
		api:      api,
		exec:     exec,
		drafts:   drafts,
		notifier: notifier,
		bus:      b,
		logger:   logger,
	}
}

// Load warms the chat list from the store. A fresh profile with no local
// rows falls back to the server's list and mirrors it.
func (r *Reconciler) Load(ctx context.Context) error {
	rows, err := r.db.ListChats()
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		rows = r.api.SafeGetChatList(ctx, r.selfID)
		for i := range rows {
			snapshot := rows[i]
			r.exec.AddTask(func() error { return r.db.UpsertChat(&snapshot) })
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chats = r.chats[:0]
	r.index = make(map[string]*store.Chat, len(rows))
	for i := range rows {
		c := rows[i]
		r.chats = append(r.chats, &c)
		r.index[c.ChatID] = &c
	}
	r.sortLocked()
	return nil
}

// Chats returns a snapshot of the ordered chat list.
func (r *Reconciler) Chats() []store.Chat {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]store.Chat, len(r.chats))
	for i, c := range r.chats {
		out[i] = *c
	}
	return out
}

// Visible returns a snapshot of the open conversation's loaded window,
// oldest first.
func (r *Reconciler) Visible() []store.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]store.Message, len(r.visible))
	copy(out, r.visible)
	return out
}

// Ingest runs one inbound message through the full pipeline: the chat row is
// reconciled first, then the message lands in the visible window and the
// durable log.
func (r *Reconciler) Ingest(ctx context.Context, msg *codec.Message, chatType int) {
	if msg.FromID != r.selfID {
		r.CreateOrUpdate(ctx, msg, chatType)
	}
	r.CreateMessage(ctx, msg, chatType)
}

// CreateOrUpdate reconciles one chat row against an inbound message:
// materialize the row if the conversation is new, advance its ordering keys,
// bump unread, re-evaluate the preview, and re-sort. A message older than
// the row's sequence watermark never regresses preview, time, or sequence.
func (r *Reconciler) CreateOrUpdate(ctx context.Context, msg *codec.Message, chatType int) {
	r.mu.Lock()
	c := r.index[msg.ChatID]
	existed := c != nil
	if c == nil {
		r.mu.Unlock()
		c = r.materialize(ctx, msg, chatType)
		if c == nil {
			return
		}
		r.mu.Lock()
		if existing := r.index[msg.ChatID]; existing != nil {
			c = existing
		} else {
			r.chats = append(r.chats, c)
			r.index[c.ChatID] = c
		}
	}

	fromSelf := msg.FromID == r.selfID
	open := r.openID == msg.ChatID

	if msg.Sequence >= c.Sequence {
		c.Sequence = msg.Sequence
		if msg.Time > c.MessageTime {
			c.MessageTime = msg.Time
		}
		if open || fromSelf {
			c.Preview = codec.PreviewText(msg)
		} else {
			c.Preview = codec.PreviewHTML(msg, r.selfID)
		}
	}
	if !open && !fromSelf {
		c.Unread++
	}
	r.sortLocked()

	snapshot := *c
	// A conversation seen for the first time lands silently; only messages
	// for an already-known chat may notify.
	notifiable := existed && !open && !fromSelf && !c.IsMute
	r.mu.Unlock()

	r.exec.AddTask(func() error { return r.db.UpsertChat(&snapshot) })
	if notifiable && r.notifier != nil {
		r.notifier.Trigger(&snapshot, msg)
	}
	r.emit("chat.updated", snapshot.ChatID)
}

// materialize resolves a chat row for a conversation seen for the first time:
// store lookup, then server lookup, then server-side create. nil means the
// chat cannot be resolved right now; the next message retries.
func (r *Reconciler) materialize(ctx context.Context, msg *codec.Message, chatType int) *store.Chat {
	if c, err := r.db.ChatByID(msg.ChatID); err != nil {
		r.logger.Warn("chat lookup failed", zap.Error(err), zap.String("chat_id", msg.ChatID))
	} else if c != nil {
		return c
	}

	peer := msg.FromID
	if chatType == store.ChatGroup {
		peer = msg.ChatID
	}
	c := r.api.SafeGetChat(ctx, r.selfID, peer)
	if c == nil {
		c = r.api.SafeCreateChat(ctx, r.selfID, peer, chatType)
	}
	if c == nil {
		r.logger.Warn("chat could not be materialized", zap.String("chat_id", msg.ChatID))
		return nil
	}
	if c.ChatID == "" {
		c.ChatID = msg.ChatID
	}
	if c.OwnerID == "" {
		c.OwnerID = r.selfID
	}
	if c.Type == 0 {
		c.Type = chatType
	}
	if c.Name == "" {
		c.Name = msg.SenderName
	}
	return c
}

// CreateMessage lands one message in the visible window (when its
// conversation is open) and queues the durable insert plus full-text
// indexing. A self-sent message also bumps its chat row, so an optimistic
// outbox insert surfaces in the list immediately.
func (r *Reconciler) CreateMessage(ctx context.Context, msg *codec.Message, chatType int) {
	if msg.FromID == r.selfID {
		r.CreateOrUpdate(ctx, msg, chatType)
	}

	body, err := codec.Encode(msg.Body)
	if err != nil {
		r.logger.Warn("message body encode failed", zap.Error(err), zap.String("msg_id", msg.Identity()))
		return
	}
	row := store.Message{
		ChatID:      msg.ChatID,
		MsgID:       msg.Identity(),
		FromID:      msg.FromID,
		SenderName:  msg.SenderName,
		ContentType: int(msg.ContentType),
		Body:        body,
		Time:        msg.Time,
		Sequence:    msg.Sequence,
		Status:      "received",
	}
	if msg.FromID == r.selfID && msg.MsgID == "" {
		row.Status = "sending"
	}

	r.mu.Lock()
	if r.openID == msg.ChatID {
		r.insertVisibleLocked(row)
	}
	r.mu.Unlock()

	persisted := row
	r.exec.AddTask(func() error { return r.db.UpsertMessage(&persisted) })
	if codec.Searchable(msg.ContentType) {
		text := codec.SearchText(msg)
		r.exec.AddTask(func() error {
			return r.db.UpsertMessageFTS(persisted.ChatID, persisted.MsgID, text)
		})
	}
	r.emit("message.upserted", row.ChatID)
}

// ConfirmMessage rewrites a sent message's identity from the client temp id
// to the server-assigned id, in the visible window and the store.
func (r *Reconciler) ConfirmMessage(chatID, tempID, serverID string, sequence int64) {
	r.mu.Lock()
	if r.openID == chatID {
		for i := range r.visible {
			if r.visible[i].MsgID == tempID {
				r.visible[i].MsgID = serverID
				r.visible[i].Sequence = sequence
				r.visible[i].Status = "sent"
				break
			}
		}
	}
	if c := r.index[chatID]; c != nil && sequence > c.Sequence {
		c.Sequence = sequence
		snapshot := *c
		r.exec.AddTask(func() error { return r.db.UpsertChat(&snapshot) })
	}
	r.mu.Unlock()

	r.exec.AddTask(func() error { return r.db.ConfirmMessage(chatID, tempID, serverID, sequence) })
	r.emit("message.send_ack", chatID)
}

// Recall replaces a message with its tombstone in place: the row keeps its
// position, the body becomes the recall marker, and the full-text entry is
// removed. Replaying the same recall is a no-op in effect.
func (r *Reconciler) Recall(op *protocol.MessageOperation) {
	tomb := codec.RecallBody{
		Recalled:   true,
		OperatorID: op.OperatorID,
		RecallTime: op.Time,
		Reason:     op.Reason,
	}
	body, err := codec.Encode(tomb)
	if err != nil {
		r.logger.Warn("recall tombstone encode failed", zap.Error(err))
		return
	}

	r.mu.Lock()
	if r.openID == op.ChatID {
		for i := range r.visible {
			if r.visible[i].MsgID == op.MsgID {
				r.visible[i].ContentType = int(codec.Recall)
				r.visible[i].Body = body
				break
			}
		}
	}
	// When the recalled message is the newest one, the list preview shows it.
	if c := r.index[op.ChatID]; c != nil && r.latestVisibleIsLocked(op.ChatID, op.MsgID) {
		c.Preview = codec.PreviewText(&codec.Message{Body: tomb})
		snapshot := *c
		r.exec.AddTask(func() error { return r.db.UpsertChat(&snapshot) })
	}
	r.mu.Unlock()

	r.exec.AddTask(func() error {
		return r.db.UpdateMessageBody(op.ChatID, op.MsgID, int(codec.Recall), body)
	})
	r.exec.AddTask(func() error { return r.db.DeleteMessageFTS(op.ChatID, op.MsgID) })
	r.emit("message.recalled", op.ChatID)
}

// Edit rewrites a message's text in place and refreshes its full-text entry.
func (r *Reconciler) Edit(op *protocol.MessageOperation) {
	edited := codec.TextBody{Content: op.Content}
	body, err := codec.Encode(edited)
	if err != nil {
		r.logger.Warn("edit body encode failed", zap.Error(err))
		return
	}

	r.mu.Lock()
	if r.openID == op.ChatID {
		for i := range r.visible {
			if r.visible[i].MsgID == op.MsgID {
				r.visible[i].ContentType = int(codec.Text)
				r.visible[i].Body = body
				break
			}
		}
	}
	r.mu.Unlock()

	r.exec.AddTask(func() error {
		return r.db.UpdateMessageBody(op.ChatID, op.MsgID, int(codec.Text), body)
	})
	r.exec.AddTask(func() error {
		return r.db.UpsertMessageFTS(op.ChatID, op.MsgID, op.Content)
	})
	r.emit("message.edited", op.ChatID)
}

// Pin sets or clears a chat's pinned flag and re-sorts the list.
func (r *Reconciler) Pin(chatID string, top bool) {
	r.mu.Lock()
	c := r.index[chatID]
	if c == nil {
		r.mu.Unlock()
		return
	}
	c.IsTop = top
	r.sortLocked()
	r.mu.Unlock()

	r.exec.AddTask(func() error { return r.db.SetChatTop(chatID, top) })
	r.emit("chat.updated", chatID)
}

// Mute sets or clears a chat's mute flag. Muting only suppresses
// notifications; unread counting is unaffected.
func (r *Reconciler) Mute(chatID string, mute bool) {
	r.mu.Lock()
	c := r.index[chatID]
	if c == nil {
		r.mu.Unlock()
		return
	}
	c.IsMute = mute
	r.mu.Unlock()

	r.exec.AddTask(func() error { return r.db.SetChatMute(chatID, mute) })
	r.emit("chat.updated", chatID)
}

// Delete removes a conversation from the list, its draft, and its row.
// Message history survives; only the list entry goes.
func (r *Reconciler) Delete(chatID string) {
	r.mu.Lock()
	if _, ok := r.index[chatID]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.index, chatID)
	for i, c := range r.chats {
		if c.ChatID == chatID {
			r.chats = append(r.chats[:i], r.chats[i+1:]...)
			break
		}
	}
	if r.openID == chatID {
		r.openID = ""
		r.visible = nil
		r.page = 0
		r.counted = false
	}
	r.mu.Unlock()

	if r.drafts != nil {
		r.drafts.Clear(chatID)
	}
	r.exec.AddTask(func() error { return r.db.DeleteChat(chatID) })
	r.emit("chat.deleted", chatID)
}

// Open switches the active conversation: unread resets, pagination rewinds,
// and the newest page of history loads into the visible window.
func (r *Reconciler) Open(chatID string) ([]store.Message, error) {
	page, err := r.db.ListMessages(chatID, r.opts.PageSize, 0)
	if err != nil {
		return nil, err
	}
	reverse(page)

	r.mu.Lock()
	r.openID = chatID
	r.visible = page
	r.page = 1
	r.counted = false
	if c := r.index[chatID]; c != nil {
		c.Unread = 0
	}
	out := make([]store.Message, len(r.visible))
	copy(out, r.visible)
	r.mu.Unlock()

	r.exec.AddTask(func() error { return r.db.ResetChatUnread(chatID) })
	r.emit("chat.opened", chatID)
	return out, nil
}

// Close clears the active conversation without touching its history.
func (r *Reconciler) Close() {
	r.mu.Lock()
	r.openID = ""
	r.visible = nil
	r.page = 0
	r.counted = false
	r.mu.Unlock()
}

// LoadMore prepends the next older page to the visible window. It returns
// the newly loaded rows, oldest first, and false once history is exhausted.
// The total row count is fetched once per open conversation.
func (r *Reconciler) LoadMore() ([]store.Message, bool, error) {
	r.mu.Lock()
	chatID := r.openID
	page := r.page
	counted := r.counted
	total := r.total
	r.mu.Unlock()
	if chatID == "" {
		return nil, false, nil
	}

	if !counted {
		n, err := r.db.CountMessages(chatID)
		if err != nil {
			return nil, false, err
		}
		total = n
		r.mu.Lock()
		r.total = n
		r.counted = true
		r.mu.Unlock()
	}

	offset := page * r.opts.PageSize
	if offset >= total {
		return nil, false, nil
	}

	older, err := r.db.ListMessages(chatID, r.opts.PageSize, offset)
	if err != nil {
		return nil, false, err
	}
	reverse(older)

	r.mu.Lock()
	if r.openID == chatID {
		r.visible = append(append([]store.Message{}, older...), r.visible...)
		r.page = page + 1
	}
	r.mu.Unlock()
	return older, true, nil
}

// SyncOffline pulls messages missed while disconnected, per conversation,
// from each chat's sequence checkpoint, and lands them in one batch.
func (r *Reconciler) SyncOffline(ctx context.Context) {
	for _, c := range r.Chats() {
		key := "seq:" + c.ChatID
		raw, err := r.db.Checkpoint(key)
		if err != nil {
			r.logger.Warn("checkpoint read failed", zap.Error(err), zap.String("chat_id", c.ChatID))
			continue
		}
		after, _ := strconv.ParseInt(raw, 10, 64)

		rows := r.api.SafeGetMessageList(ctx, c.ChatID, after, 200)
		if len(rows) == 0 {
			continue
		}

		batch := make([]*store.Message, 0, len(rows))
		var fts []store.FTSRow
		maxSeq := after
		for i := range rows {
			m := rows[i]
			if m.Status == "" {
				m.Status = "received"
			}
			batch = append(batch, &m)
			if m.Sequence > maxSeq {
				maxSeq = m.Sequence
			}
			if codec.Searchable(codec.ContentType(m.ContentType)) {
				if text := searchTextOf(&m); text != "" {
					fts = append(fts, store.FTSRow{ChatID: m.ChatID, MsgID: m.MsgID, Text: text})
				}
			}
		}
		if err := r.db.BatchInsertMessages(batch); err != nil {
			r.logger.Warn("offline batch insert failed", zap.Error(err), zap.String("chat_id", c.ChatID))
			continue
		}
		if err := r.db.BatchInsertFTS(fts); err != nil {
			r.logger.Warn("offline fts batch failed", zap.Error(err), zap.String("chat_id", c.ChatID))
		}
		if err := r.db.SetCheckpoint(key, strconv.FormatInt(maxSeq, 10)); err != nil {
			r.logger.Warn("checkpoint write failed", zap.Error(err), zap.String("chat_id", c.ChatID))
		}
		r.logger.Info("offline sync applied",
			zap.String("chat_id", c.ChatID),
			zap.Int("messages", len(batch)),
			zap.Int64("sequence", maxSeq))
	}
	r.emit("sync.completed", "")
}

// OpenID returns the currently open conversation id, empty when none.
func (r *Reconciler) OpenID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.openID
}

// sortLocked orders the list pinned-first, then by recency. The sort is
// stable so equal keys keep their relative order.
func (r *Reconciler) sortLocked() {
	sort.SliceStable(r.chats, func(i, j int) bool {
		a, b := r.chats[i], r.chats[j]
		if a.IsTop != b.IsTop {
			return a.IsTop
		}
		return a.MessageTime > b.MessageTime
	})
}

// insertVisibleLocked places a row in sequence order, replacing an existing
// row with the same id so redelivery cannot duplicate it.
func (r *Reconciler) insertVisibleLocked(row store.Message) {
	for i := range r.visible {
		if r.visible[i].MsgID == row.MsgID {
			r.visible[i] = row
			return
		}
	}
	pos := len(r.visible)
	for pos > 0 && r.visible[pos-1].Sequence > row.Sequence {
		pos--
	}
	r.visible = append(r.visible, store.Message{})
	copy(r.visible[pos+1:], r.visible[pos:])
	r.visible[pos] = row
}

func (r *Reconciler) latestVisibleIsLocked(chatID, msgID string) bool {
	if r.openID != chatID || len(r.visible) == 0 {
		return false
	}
	return r.visible[len(r.visible)-1].MsgID == msgID
}

func (r *Reconciler) emit(kind, chatID string) {
	if r.bus != nil {
		r.bus.Emit(kind, map[string]string{"chat_id": chatID})
	}
}

func reverse(msgs []store.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

func searchTextOf(m *store.Message) string {
	body, err := codec.Decode([]byte(m.Body), codec.ContentType(m.ContentType))
	if err != nil {
		return ""
	}
	return codec.SearchText(&codec.Message{Body: body})
}
