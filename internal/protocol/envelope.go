package protocol

import "encoding/json"

// Envelope is the raw socket payload: an integer opcode plus an opaque body.
type Envelope struct {
	Code int             `json:"code"`
	Data json.RawMessage `json:"data"`
}

// Socket opcodes. The server may add new codes at any time; unknown codes
// must be ignored, never treated as fatal.
const (
	OpRegister         = 1000
	OpRegisterSuccess  = 1001
	OpRegisterFailed   = 1002
	OpHeartBeat        = 1003
	OpHeartBeatSuccess = 1004
	OpHeartBeatFailed  = 1005
	OpForceLogout      = 1006
	OpLoginExpired     = 1007
	OpRefreshToken     = 1008
	OpSingleMessage    = 1009
	OpGroupMessage     = 1010
	OpVideoMessage     = 1011
	OpGroupOperation   = 1012
	OpMessageOperation = 1013
)

// Priority classifies an envelope for the inbound queue.
type Priority int

const (
	Urgent Priority = iota
	High
	Normal
	Low

	NumPriorities = 4
)

func (p Priority) String() string {
	switch p {
	case Urgent:
		return "urgent"
	case High:
		return "high"
	case Normal:
		return "normal"
	case Low:
		return "low"
	}
	return "unknown"
}

// PriorityFor maps an opcode to its queue lane. Auth-critical codes are
// urgent so a flood of presence or chat traffic can never delay them.
func PriorityFor(code int) Priority {
	switch code {
	case OpForceLogout, OpLoginExpired, OpRefreshToken:
		return Urgent
	case OpVideoMessage:
		return High
	case OpHeartBeat, OpHeartBeatSuccess, OpHeartBeatFailed,
		OpRegisterSuccess, OpRegisterFailed:
		return Low
	default:
		return Normal
	}
}

// WireMessage is the body of SINGLE_MESSAGE / GROUP_MESSAGE / VIDEO_MESSAGE
// envelopes as the server sends it. Body stays raw until the codec decodes
// it against ContentType.
type WireMessage struct {
	ChatID      string          `json:"chatId"`
	ChatType    int             `json:"chatType,omitempty"`
	FromID      string          `json:"fromId"`
	MsgID       string          `json:"messageId"`
	TempID      string          `json:"messageTempId"`
	SenderName  string          `json:"senderName"`
	ContentType int             `json:"messageContentType"`
	Body        json.RawMessage `json:"messageBody"`
	Time        int64           `json:"messageTime"`
	Sequence    int64           `json:"sequence"`
}

// MessageOperation is the body of a MESSAGE_OPERATION envelope
// (recall and edit directives).
type MessageOperation struct {
	Type       string `json:"type"` // "recall" or "edit"
	ChatID     string `json:"chatId"`
	MsgID      string `json:"messageId"`
	OperatorID string `json:"operatorId"`
	Time       int64  `json:"time"`
	Reason     string `json:"reason,omitempty"`
	Content    string `json:"content,omitempty"`
}
