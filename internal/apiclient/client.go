package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/linnet-im/linnet/internal/store"
	"go.uber.org/zap"
)

// Client talks to the IM HTTP API. Every response rides the server's
// uniform envelope: {"code":0,"msg":"ok","data":...}.
type Client struct {
	base   string
	http   *http.Client
	logger *zap.Logger
}

// New creates a client for the given base URL.
func New(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

type respEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	var env respEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	if env.Code != 0 {
		return fmt.Errorf("%s %s: server code %d: %s", method, path, env.Code, env.Msg)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%s %s: decode data: %w", method, path, err)
		}
	}
	return nil
}

// GetChat fetches one conversation by its owner/peer pair.
func (c *Client) GetChat(ctx context.Context, ownerID, toID string) (*store.Chat, error) {
	q := url.Values{"ownerId": {ownerID}, "toId": {toID}}
	var chat store.Chat
	if err := c.do(ctx, http.MethodGet, "/chat?"+q.Encode(), nil, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

// CreateChat materializes a conversation server-side.
func (c *Client) CreateChat(ctx context.Context, ownerID, toID string, chatType int) (*store.Chat, error) {
	req := map[string]any{"ownerId": ownerID, "toId": toID, "chatType": chatType}
	var chat store.Chat
	if err := c.do(ctx, http.MethodPost, "/chat", req, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

// GetChatList fetches the full conversation list for an account.
func (c *Client) GetChatList(ctx context.Context, ownerID string) ([]store.Chat, error) {
	q := url.Values{"ownerId": {ownerID}}
	var chats []store.Chat
	if err := c.do(ctx, http.MethodGet, "/chat/list?"+q.Encode(), nil, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// GetMessageList fetches messages after a sequence watermark (offline sync).
func (c *Client) GetMessageList(ctx context.Context, chatID string, afterSeq int64, limit int) ([]store.Message, error) {
	q := url.Values{
		"chatId":   {chatID},
		"afterSeq": {strconv.FormatInt(afterSeq, 10)},
		"limit":    {strconv.Itoa(limit)},
	}
	var msgs []store.Message
	if err := c.do(ctx, http.MethodGet, "/message/list?"+q.Encode(), nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// SendResult is the server's ack for a sent message.
type SendResult struct {
	MsgID    string `json:"messageId"`
	Sequence int64  `json:"sequence"`
}

// SendMessage submits an outgoing message; the ack carries the
// server-assigned id that replaces the client temp id.
func (c *Client) SendMessage(ctx context.Context, m *store.Message) (*SendResult, error) {
	req := map[string]any{
		"chatId":             m.ChatID,
		"messageTempId":      m.MsgID,
		"messageContentType": m.ContentType,
		"messageBody":        m.Body,
	}
	var res SendResult
	if err := c.do(ctx, http.MethodPost, "/message", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// RecallMessage asks the server to recall a message. The rejection is
// surfaced to the caller; it is one of the few user-facing failures.
func (c *Client) RecallMessage(ctx context.Context, chatID, msgID string) error {
	req := map[string]any{"chatId": chatID, "messageId": msgID}
	return c.do(ctx, http.MethodPost, "/message/recall", req, nil)
}

// Group management endpoints.

func (c *Client) KickMembers(ctx context.Context, groupID string, userIDs []string) error {
	req := map[string]any{"groupId": groupID, "userIds": userIDs}
	return c.do(ctx, http.MethodPost, "/group/kick", req, nil)
}

func (c *Client) SetMemberRole(ctx context.Context, groupID, userID string, role int) error {
	req := map[string]any{"groupId": groupID, "userId": userID, "role": role}
	return c.do(ctx, http.MethodPost, "/group/role", req, nil)
}

func (c *Client) MuteMember(ctx context.Context, groupID, userID string, muteEndTime int64) error {
	req := map[string]any{"groupId": groupID, "userId": userID, "muteEndTime": muteEndTime}
	return c.do(ctx, http.MethodPost, "/group/mute", req, nil)
}

func (c *Client) SetGroupInfo(ctx context.Context, groupID, name, avatar string) error {
	req := map[string]any{"groupId": groupID, "name": name, "avatar": avatar}
	return c.do(ctx, http.MethodPost, "/group/info", req, nil)
}

func (c *Client) DismissGroup(ctx context.Context, groupID string) error {
	req := map[string]any{"groupId": groupID}
	return c.do(ctx, http.MethodPost, "/group/dismiss", req, nil)
}
