package codec

import "encoding/json"

// ContentType discriminates message body payloads on the wire.
type ContentType int

const (
	Unknown ContentType = iota
	Text
	Image
	Video
	Audio
	File
	Location
	SystemTip
	GroupInvite
	GroupOperation
	Recall
	Edit
	Complex
)

func (c ContentType) String() string {
	switch c {
	case Text:
		return "text"
	case Image:
		return "image"
	case Video:
		return "video"
	case Audio:
		return "audio"
	case File:
		return "file"
	case Location:
		return "location"
	case SystemTip:
		return "system_tip"
	case GroupInvite:
		return "group_invite"
	case GroupOperation:
		return "group_operation"
	case Recall:
		return "recall"
	case Edit:
		return "edit"
	case Complex:
		return "complex"
	}
	return "unknown"
}

// Searchable reports whether a content type carries text that belongs in
// the full-text shadow table.
func Searchable(c ContentType) bool {
	return c == Text || c == Complex
}

// Body is the closed union of message payloads. Adding a content type means
// adding a variant here, a case in Decode, and a case in the preview switch;
// the codec is the only place allowed to switch on content types.
type Body interface {
	ContentType() ContentType
}

// TextBody is a plain or mention-carrying text message.
type TextBody struct {
	Content  string   `json:"content"`
	Mentions []string `json:"mentions,omitempty"`
	ReplyTo  string   `json:"replyTo,omitempty"`
}

func (TextBody) ContentType() ContentType { return Text }

// ImageBody is an image attachment.
type ImageBody struct {
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Size   int64  `json:"size,omitempty"`
}

func (ImageBody) ContentType() ContentType { return Image }

// VideoBody is a video attachment.
type VideoBody struct {
	URL      string `json:"url"`
	Cover    string `json:"cover,omitempty"`
	Duration int    `json:"duration,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

func (VideoBody) ContentType() ContentType { return Video }

// AudioBody is a voice message.
type AudioBody struct {
	URL      string `json:"url"`
	Duration int    `json:"duration,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

func (AudioBody) ContentType() ContentType { return Audio }

// FileBody is a generic file attachment.
type FileBody struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Size int64  `json:"size,omitempty"`
}

func (FileBody) ContentType() ContentType { return File }

// LocationBody is a shared location.
type LocationBody struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

func (LocationBody) ContentType() ContentType { return Location }

// SystemTipBody is server-generated inline text ("you were added", ...).
type SystemTipBody struct {
	Tip string `json:"tip"`
}

func (SystemTipBody) ContentType() ContentType { return SystemTip }

// GroupInviteBody is an invitation card for a group.
type GroupInviteBody struct {
	GroupID   string `json:"groupId"`
	GroupName string `json:"groupName"`
	Avatar    string `json:"avatar,omitempty"`
	InviterID string `json:"inviterId"`
}

func (GroupInviteBody) ContentType() ContentType { return GroupInvite }

// GroupOpBody is a group membership/role/mute delta, applied by the
// group-operation state machine.
type GroupOpBody struct {
	Op           int      `json:"op"`
	GroupID      string   `json:"groupId"`
	OperatorID   string   `json:"operatorId"`
	Targets      []string `json:"targets,omitempty"`
	Role         int      `json:"role,omitempty"`
	Name         string   `json:"name,omitempty"`
	Avatar       string   `json:"avatar,omitempty"`
	Announcement string   `json:"announcement,omitempty"`
	JoinMode     int      `json:"joinMode,omitempty"`
	MuteEndTime  int64    `json:"muteEndTime,omitempty"`
}

func (GroupOpBody) ContentType() ContentType { return GroupOperation }

// RecallBody is the tombstone left in place of a recalled message.
type RecallBody struct {
	Recalled   bool   `json:"_recalled"`
	OperatorID string `json:"operatorId"`
	RecallTime int64  `json:"recallTime"`
	Reason     string `json:"reason,omitempty"`
}

func (RecallBody) ContentType() ContentType { return Recall }

// EditBody replaces an earlier message's text.
type EditBody struct {
	TargetID string `json:"targetId"`
	Content  string `json:"content"`
}

func (EditBody) ContentType() ContentType { return Edit }

// ComplexPart is one segment of a mixed rich-text message.
type ComplexPart struct {
	Kind    string `json:"kind"` // "text", "image", "emoji", ...
	Content string `json:"content"`
}

// ComplexBody is a mixed message of ordered segments.
type ComplexBody struct {
	Parts []ComplexPart `json:"parts"`
}

func (ComplexBody) ContentType() ContentType { return Complex }

// UnknownBody preserves an undecodable payload for placeholder rendering.
type UnknownBody struct {
	Raw json.RawMessage `json:"-"`
}

func (UnknownBody) ContentType() ContentType { return Unknown }
