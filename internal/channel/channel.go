package channel

import (
	"context"

	"github.com/quiplabs/quip/internal/bus"
	"github.com/quiplabs/quip/internal/config"
	"github.com/quiplabs/quip/internal/persona"
)

// Reply sizing shared by all adapters. Replies over the max go out as
// sentence-packed chunks instead of one oversized send.
const (
	maxReplyChars   = config.DefaultMaxReplyChars
	replyChunkChars = config.DefaultReplyChunkChars
)

// Channel is one messaging platform adapter. Start begins delivering
// inbound messages to the bus; Send pushes one outbound reply.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(msg bus.OutboundMessage) error
}

// BaseChannel carries the pieces every adapter needs: its name, the shared
// bus, and the sender allowlist.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowFrom []string
}

func NewBaseChannel(name string, b *bus.MessageBus, allowFrom []string) BaseChannel {
	return BaseChannel{name: name, bus: b, allowFrom: allowFrom}
}

func (b *BaseChannel) Name() string {
	return b.name
}

// IsAllowed reports whether a sender passes the allowlist. An empty
// allowlist admits everyone.
func (b *BaseChannel) IsAllowed(senderID string) bool {
	if len(b.allowFrom) == 0 {
		return true
	}
	for _, allowed := range b.allowFrom {
		if allowed == senderID {
			return true
		}
	}
	return false
}

// splitReply cuts an outbound reply into sendable chunks. Content at or
// under maxLen goes out unchanged; anything longer is packed sentence by
// sentence into chunks of at most chunkLen. A single sentence over the
// chunk size becomes its own chunk.
func splitReply(content string, maxLen, chunkLen int) []string {
	if len(content) <= maxLen {
		return []string{content}
	}

	var chunks []string
	current := ""
	for _, sentence := range persona.SplitSentences(content) {
		switch {
		case current == "":
			current = sentence
		case len(current)+1+len(sentence) <= chunkLen:
			current += " " + sentence
		default:
			chunks = append(chunks, current)
			current = sentence
		}
	}
	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks
}
