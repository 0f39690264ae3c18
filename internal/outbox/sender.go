package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/linnet-im/linnet/internal/apiclient"
	"github.com/linnet-im/linnet/internal/bus"
	"github.com/linnet-im/linnet/internal/codec"
	"github.com/linnet-im/linnet/internal/store"
	"go.uber.org/zap"
)

// MessageSender is the slice of the HTTP client the outbox needs.
type MessageSender interface {
	SendMessage(ctx context.Context, m *store.Message) (*apiclient.SendResult, error)
}

// Pipeline is the reconciler surface the outbox drives: the optimistic
// insert on send, and the identity rewrite on ack.
type Pipeline interface {
	CreateMessage(ctx context.Context, msg *codec.Message, chatType int)
	ConfirmMessage(chatID, tempID, serverID string, sequence int64)
}

// Sender drains the outbox: each queued entry is inserted optimistically so
// the UI shows it immediately, then submitted; the server ack rewrites the
// temp id to the server id.
type Sender struct {
	db     *store.DB
	api    MessageSender
	rec    Pipeline
	selfID string
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewSender creates an outbox sender.
func NewSender(db *store.DB, api MessageSender, rec Pipeline, selfID string, b *bus.Bus, logger *zap.Logger) *Sender {
	return &Sender{
		db:     db,
		api:    api,
		rec:    rec,
		selfID: selfID,
		bus:    b,
		logger: logger,
	}
}

// Enqueue queues an outgoing message and returns its client temp id.
func (s *Sender) Enqueue(chatID string, body codec.Body) (string, error) {
	enc, err := codec.Encode(body)
	if err != nil {
		return "", err
	}
	tempID := uuid.NewString()
	if err := s.db.QueueOutbox(tempID, chatID, int(body.ContentType()), enc); err != nil {
		return "", err
	}
	return tempID, nil
}

// Start begins polling the outbox for pending messages.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Flush(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Flush processes every queued entry once.
func (s *Sender) Flush(ctx context.Context) {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if err := s.db.MarkOutboxSending(entry.TempID); err != nil {
			s.logger.Error("failed to mark sending", zap.Error(err), zap.String("temp_id", entry.TempID))
			continue
		}

		now := time.Now().UnixMilli()
		body, err := codec.Decode([]byte(entry.Body), codec.ContentType(entry.ContentType))
		if err != nil {
			s.logger.Warn("outbox body undecodable", zap.Error(err), zap.String("temp_id", entry.TempID))
			body = codec.UnknownBody{Raw: []byte(entry.Body)}
		}

		// Optimistic insert: the message shows up before the server answers.
		s.rec.CreateMessage(ctx, &codec.Message{
			ChatID:      entry.ChatID,
			FromID:      s.selfID,
			TempID:      entry.TempID,
			ContentType: codec.ContentType(entry.ContentType),
			Body:        body,
			Time:        now,
		}, store.ChatSingle)

		res, err := s.api.SendMessage(ctx, &store.Message{
			ChatID:      entry.ChatID,
			MsgID:       entry.TempID,
			FromID:      s.selfID,
			ContentType: entry.ContentType,
			Body:        entry.Body,
			Time:        now,
		})
		if err != nil {
			s.logger.Error("failed to send message", zap.Error(err), zap.String("temp_id", entry.TempID))
			_ = s.db.MarkOutboxFailed(entry.TempID, err.Error())
			if s.bus != nil {
				s.bus.Emit("message.send_failed", map[string]string{
					"temp_id": entry.TempID,
					"error":   err.Error(),
				})
			}
			continue
		}

		if err := s.db.MarkOutboxSent(entry.TempID, res.MsgID); err != nil {
			s.logger.Error("failed to mark sent", zap.Error(err), zap.String("temp_id", entry.TempID))
		}
		s.rec.ConfirmMessage(entry.ChatID, entry.TempID, res.MsgID, res.Sequence)

		s.logger.Info("message sent",
			zap.String("temp_id", entry.TempID),
			zap.String("server_msg_id", res.MsgID),
			zap.Int64("sequence", res.Sequence))
	}
}
