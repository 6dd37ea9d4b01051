package bus

import "time"

// InboundMessage is a platform-neutral event for one received message.
// Channel adapters fill it from their native update types.
type InboundMessage struct {
	Channel    string
	SenderID   string
	SenderName string
	ChatID     string
	Content    string
	ReplyToBot bool // message is a direct reply to one of the bot's own messages
	IsDirect   bool // private/direct chat rather than a group channel
	FromSelf   bool // authored by the bot identity itself
	Timestamp  time.Time
	Metadata   map[string]any
}

// SessionKey identifies the conversation a message belongs to.
func (m *InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

type OutboundMessage struct {
	Channel  string
	ChatID   string
	Content  string
	ReplyTo  string
	Metadata map[string]any
}
