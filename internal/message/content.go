package message

import (
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
)

// Kind is the content variant of a message payload.
type Kind int

const (
	KindUnknown Kind = iota
	KindText
	KindExtendedText
	KindImage
	KindVideo
	KindSticker
	KindReaction
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindExtendedText:
		return "extended_text"
	case KindImage:
		return "image"
	case KindVideo:
		return "video"
	case KindSticker:
		return "sticker"
	case KindReaction:
		return "reaction"
	default:
		return "unknown"
	}
}

// Content is the tagged form of a payload. Text holds the conversation
// text, the extended text, the media caption or the reaction emoji,
// depending on Kind.
type Content struct {
	Kind       Kind
	Text       string
	QuotedKind Kind
	QuotedText string
	// QuotedID and QuotedSender identify the message being replied to.
	QuotedID     string
	QuotedSender string
	Mentions     []types.JID
}

// Body is the text commands are parsed from. Stickers, reactions and
// unknown payloads have no body.
func (c Content) Body() string {
	switch c.Kind {
	case KindText, KindExtendedText, KindImage, KindVideo:
		return c.Text
	default:
		return ""
	}
}

// Unwrap strips one level of ephemeral wrapping. It does not recurse.
func Unwrap(msg *waE2E.Message) *waE2E.Message {
	if inner := msg.GetEphemeralMessage().GetMessage(); inner != nil {
		return inner
	}
	return msg
}

// ParseContent classifies msg into its content variant.
func ParseContent(msg *waE2E.Message) Content {
	var c Content
	var ci *waE2E.ContextInfo
	switch {
	case msg.GetConversation() != "":
		c.Kind, c.Text = KindText, msg.GetConversation()
	case msg.GetExtendedTextMessage() != nil:
		ext := msg.GetExtendedTextMessage()
		c.Kind, c.Text, ci = KindExtendedText, ext.GetText(), ext.GetContextInfo()
	case msg.GetImageMessage() != nil:
		img := msg.GetImageMessage()
		c.Kind, c.Text, ci = KindImage, img.GetCaption(), img.GetContextInfo()
	case msg.GetVideoMessage() != nil:
		vid := msg.GetVideoMessage()
		c.Kind, c.Text, ci = KindVideo, vid.GetCaption(), vid.GetContextInfo()
	case msg.GetStickerMessage() != nil:
		c.Kind, ci = KindSticker, msg.GetStickerMessage().GetContextInfo()
	case msg.GetReactionMessage() != nil:
		c.Kind, c.Text = KindReaction, msg.GetReactionMessage().GetText()
	}
	if ci == nil {
		return c
	}
	if quoted := ci.GetQuotedMessage(); quoted != nil {
		q := ParseContent(quoted)
		c.QuotedKind, c.QuotedText = q.Kind, q.Text
		c.QuotedID, c.QuotedSender = ci.GetStanzaID(), ci.GetParticipant()
	}
	for _, raw := range ci.GetMentionedJID() {
		if jid, err := types.ParseJID(raw); err == nil {
			c.Mentions = append(c.Mentions, jid)
		}
	}
	return c
}
