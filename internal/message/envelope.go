// Package message turns raw inbound WhatsApp events into command contexts.
package message

import (
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// Key identifies one message on the wire.
type Key struct {
	RemoteJID types.JID
	ID        types.MessageID
	FromMe    bool
	// Participant is the author inside a group chat. Empty in direct chats.
	Participant types.JID
}

// Envelope is one raw inbound message. It lives for one dispatch cycle.
type Envelope struct {
	Key      Key
	Message  *waE2E.Message
	PushName string
	// SenderAlt is the author's other address (phone number for an LID
	// sender and the reverse) when the server supplies one.
	SenderAlt types.JID
	Timestamp time.Time
}

// FromEvent builds an Envelope from a whatsmeow message event.
func FromEvent(evt *events.Message) *Envelope {
	key := Key{
		RemoteJID: evt.Info.Chat,
		ID:        evt.Info.ID,
		FromMe:    evt.Info.IsFromMe,
	}
	if evt.Info.IsGroup {
		key.Participant = evt.Info.Sender
	}
	return &Envelope{
		Key:       key,
		Message:   evt.Message,
		PushName:  evt.Info.PushName,
		SenderAlt: evt.Info.SenderAlt,
		Timestamp: evt.Info.Timestamp,
	}
}
