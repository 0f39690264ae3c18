package notify

import (
	"github.com/linnet-im/linnet/internal/bus"
	"github.com/linnet-im/linnet/internal/codec"
	"github.com/linnet-im/linnet/internal/store"
	"go.uber.org/zap"
)

// Notification is the payload published for each notification-worthy message.
type Notification struct {
	ChatID string
	Title  string
	Body   string
	MsgID  string
}

// Notifier publishes desktop-notification events on the bus. Delivery is
// fire-and-forget; whether the platform shows a toast is the frontend's
// concern and a failure there never reaches the reconciler.
type Notifier struct {
	bus    *bus.Bus
	logger *zap.Logger
}

// New creates a notifier.
func New(b *bus.Bus, logger *zap.Logger) *Notifier {
	return &Notifier{bus: b, logger: logger}
}

// Trigger publishes one notification event for a message. The caller has
// already applied the suppression rules (muted, open, self-sent).
func (n *Notifier) Trigger(chat *store.Chat, msg *codec.Message) {
	if n.bus == nil {
		return
	}
	title := chat.Name
	if title == "" {
		title = msg.SenderName
	}
	n.bus.Emit("notify.message", Notification{
		ChatID: chat.ChatID,
		Title:  title,
		Body:   codec.PreviewText(msg),
		MsgID:  msg.Identity(),
	})
	if n.logger != nil {
		n.logger.Debug("notification triggered",
			zap.String("chat_id", chat.ChatID),
			zap.String("msg_id", msg.Identity()))
	}
}
