package store

// Chat types.
const (
	ChatSingle = 1
	ChatGroup  = 2
)

// Chat is a persisted conversation row. The in-memory chat list is the
// source of truth during a session; this row is its eventually-consistent
// mirror. JSON tags match the HTTP API's field names.
type Chat struct {
	ChatID      string `json:"chatId"`
	OwnerID     string `json:"ownerId"`
	ToID        string `json:"toId"`
	Type        int    `json:"chatType"`
	Name        string `json:"name"`
	Preview     string `json:"message"`
	MessageTime int64  `json:"messageTime"`
	Sequence    int64  `json:"sequence"`
	Unread      int    `json:"unread"`
	IsTop       bool   `json:"isTop"`
	IsMute      bool   `json:"isMute"`
}

// Message is a persisted message row. MsgID holds the authoritative
// identity: the client temp id until the server ack, the server id after.
type Message struct {
	ID          int64  `json:"-"`
	ChatID      string `json:"chatId"`
	MsgID       string `json:"messageId"`
	FromID      string `json:"fromId"`
	SenderName  string `json:"senderName"`
	ContentType int    `json:"messageContentType"`
	Body        string `json:"messageBody"`
	Time        int64  `json:"messageTime"`
	Sequence    int64  `json:"sequence"`
	Status      string `json:"status"`
}

// Draft is a persisted per-conversation draft entry.
type Draft struct {
	ChatID    string
	HTML      string
	UpdatedAt int64
}

// OutboxEntry is a pending outgoing message.
type OutboxEntry struct {
	ID           int64
	TempID       string
	ChatID       string
	ContentType  int
	Body         string
	Status       string // queued, sending, sent, failed
	ErrorMessage string
	ServerMsgID  string
}

// FTSRow is one full-text shadow entry for bulk indexing.
type FTSRow struct {
	ChatID string
	MsgID  string
	Text   string
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}
