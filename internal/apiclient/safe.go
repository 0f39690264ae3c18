package apiclient

import (
	"context"

	"github.com/linnet-im/linnet/internal/store"
	"go.uber.org/zap"
)

// Safe runs an API call and converts any failure into a logged warning plus
// the fallback value, so a dropped request can never crash the
// reconciliation loop.
func Safe[T any](logger *zap.Logger, op string, fallback T, fn func() (T, error)) T {
	v, err := fn()
	if err != nil {
		if logger != nil {
			logger.Warn("api call failed", zap.String("op", op), zap.Error(err))
		}
		return fallback
	}
	return v
}

// SafeGetChat is GetChat with the safe-execute policy: nil on failure.
func (c *Client) SafeGetChat(ctx context.Context, ownerID, toID string) *store.Chat {
	return Safe(c.logger, "get_chat", nil, func() (*store.Chat, error) {
		return c.GetChat(ctx, ownerID, toID)
	})
}

// SafeCreateChat is CreateChat with the safe-execute policy: nil on failure.
func (c *Client) SafeCreateChat(ctx context.Context, ownerID, toID string, chatType int) *store.Chat {
	return Safe(c.logger, "create_chat", nil, func() (*store.Chat, error) {
		return c.CreateChat(ctx, ownerID, toID, chatType)
	})
}

// SafeGetChatList is GetChatList with the safe-execute policy: nil on failure.
func (c *Client) SafeGetChatList(ctx context.Context, ownerID string) []store.Chat {
	return Safe(c.logger, "get_chat_list", nil, func() ([]store.Chat, error) {
		return c.GetChatList(ctx, ownerID)
	})
}

// SafeGetMessageList is GetMessageList with the safe-execute policy: nil on failure.
func (c *Client) SafeGetMessageList(ctx context.Context, chatID string, afterSeq int64, limit int) []store.Message {
	return Safe(c.logger, "get_message_list", nil, func() ([]store.Message, error) {
		return c.GetMessageList(ctx, chatID, afterSeq, limit)
	})
}
