package codec

import (
	"html"
	"strings"
)

// MentionAll is the sentinel mention target for "@all".
const MentionAll = "all"

// PreviewText computes the plain-text chat-list preview of a message.
// It is pure: safe to call from both the live row and the draft path.
func PreviewText(m *Message) string {
	switch b := m.Body.(type) {
	case TextBody:
		return b.Content
	case ImageBody:
		return "[image]"
	case VideoBody:
		return "[video]"
	case AudioBody:
		return "[voice]"
	case FileBody:
		if b.Name != "" {
			return "[file] " + b.Name
		}
		return "[file]"
	case LocationBody:
		return "[location]"
	case SystemTipBody:
		return b.Tip
	case GroupInviteBody:
		return "[group invite]"
	case GroupOpBody:
		return "[group notice]"
	case RecallBody:
		return "[message recalled]"
	case EditBody:
		return b.Content
	case ComplexBody:
		if t := flattenComplex(b); t != "" {
			return t
		}
		return "[message]"
	default:
		return "[unsupported message]"
	}
}

// PreviewHTML computes the highlighted preview used for background
// conversations: escaped text with mention badges ("@you" / "@all")
// prefixed when the viewer is addressed.
func PreviewHTML(m *Message, viewerID string) string {
	text := html.EscapeString(PreviewText(m))

	badge := mentionBadge(m, viewerID)
	if badge == "" {
		return text
	}
	return badge + " " + text
}

func mentionBadge(m *Message, viewerID string) string {
	b, ok := m.Body.(TextBody)
	if !ok {
		return ""
	}
	for _, target := range b.Mentions {
		if target == MentionAll {
			return `<span class="mention-badge">@all</span>`
		}
	}
	for _, target := range b.Mentions {
		if target == viewerID {
			return `<span class="mention-badge">@you</span>`
		}
	}
	return ""
}

func flattenComplex(b ComplexBody) string {
	var sb strings.Builder
	for _, p := range b.Parts {
		switch p.Kind {
		case "text", "emoji":
			sb.WriteString(p.Content)
		case "image":
			sb.WriteString("[image]")
		}
	}
	return strings.TrimSpace(sb.String())
}
