package codec

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/linnet-im/linnet/internal/protocol"
)

// DecodeError reports a body that could not be decoded for its content type.
// Callers render an unknown placeholder instead of dropping the message.
type DecodeError struct {
	Type ContentType
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s body: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Message is the normalized in-memory shape every inbound payload is
// converted to. Identity is the client temp id until the server ack assigns
// a message id; exactly one of the two is authoritative at any point.
type Message struct {
	ChatID      string
	FromID      string
	MsgID       string
	TempID      string
	SenderName  string
	ContentType ContentType
	Body        Body
	Time        int64
	Sequence    int64
}

// Identity returns the authoritative correlation key: the server-assigned
// id once present, the client temp id before the ack.
func (m *Message) Identity() string {
	if m.MsgID != "" {
		return m.MsgID
	}
	return m.TempID
}

// Decode converts a raw messageBody plus its integer discriminator into one
// concrete Body variant. raw may be a JSON object or a JSON string wrapping
// one (the server double-encodes bodies on some paths).
func Decode(raw json.RawMessage, contentType ContentType) (Body, error) {
	payload, err := unwrap(raw)
	if err != nil {
		return nil, &DecodeError{Type: contentType, Err: err}
	}

	var body Body
	switch contentType {
	case Text:
		body, err = decodeInto[TextBody](payload)
	case Image:
		body, err = decodeInto[ImageBody](payload)
	case Video:
		body, err = decodeInto[VideoBody](payload)
	case Audio:
		body, err = decodeInto[AudioBody](payload)
	case File:
		body, err = decodeInto[FileBody](payload)
	case Location:
		body, err = decodeInto[LocationBody](payload)
	case SystemTip:
		body, err = decodeInto[SystemTipBody](payload)
	case GroupInvite:
		body, err = decodeInto[GroupInviteBody](payload)
	case GroupOperation:
		body, err = decodeInto[GroupOpBody](payload)
	case Recall:
		body, err = decodeInto[RecallBody](payload)
	case Edit:
		body, err = decodeInto[EditBody](payload)
	case Complex:
		body, err = decodeInto[ComplexBody](payload)
	default:
		return nil, &DecodeError{Type: contentType, Err: fmt.Errorf("no mapping for content type %d", contentType)}
	}
	if err != nil {
		return nil, &DecodeError{Type: contentType, Err: err}
	}
	return body, nil
}

func decodeInto[T Body](payload []byte) (Body, error) {
	var v T
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// unwrap peels one level of string-encoding off a raw body.
func unwrap(raw json.RawMessage) ([]byte, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	if trimmed[0] != '"' {
		return []byte(trimmed), nil
	}
	var inner string
	if err := json.Unmarshal([]byte(trimmed), &inner); err != nil {
		return nil, err
	}
	inner = strings.TrimSpace(inner)
	if inner == "" {
		return nil, nil
	}
	if !json.Valid([]byte(inner)) {
		return nil, fmt.Errorf("string body is not valid JSON")
	}
	return []byte(inner), nil
}

// Encode serializes a body for persistence. It is idempotent: a string that
// is already canonical JSON round-trips unchanged (detected by attempting a
// parse first); a structured body always produces canonical JSON.
func Encode(v any) (string, error) {
	switch b := v.(type) {
	case string:
		if json.Valid([]byte(b)) {
			return b, nil
		}
		out, err := json.Marshal(b)
		if err != nil {
			return "", err
		}
		return string(out), nil
	case []byte:
		if json.Valid(b) {
			return string(b), nil
		}
		out, err := json.Marshal(string(b))
		if err != nil {
			return "", err
		}
		return string(out), nil
	default:
		out, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
}

// Normalize converts a wire message into the canonical Message shape.
// On decode failure the returned message carries an UnknownBody and the
// error is reported for logging; the message itself is never dropped.
func Normalize(wm *protocol.WireMessage) (*Message, error) {
	msg := &Message{
		ChatID:      wm.ChatID,
		FromID:      wm.FromID,
		MsgID:       wm.MsgID,
		TempID:      wm.TempID,
		SenderName:  wm.SenderName,
		ContentType: ContentType(wm.ContentType),
		Time:        wm.Time,
		Sequence:    wm.Sequence,
	}

	body, err := Decode(wm.Body, msg.ContentType)
	if err != nil {
		msg.ContentType = Unknown
		msg.Body = UnknownBody{Raw: wm.Body}
		return msg, err
	}
	msg.Body = body
	return msg, nil
}

// SearchText extracts the indexable plain text of a message, empty when the
// content type is outside the text range.
func SearchText(m *Message) string {
	switch b := m.Body.(type) {
	case TextBody:
		return b.Content
	case ComplexBody:
		var sb strings.Builder
		for _, p := range b.Parts {
			if p.Kind == "text" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(p.Content)
			}
		}
		return sb.String()
	default:
		return ""
	}
}
