package convo

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// Message is one entry in a channel's recent-message ring.
type Message struct {
	AuthorID   string
	AuthorName string
	IsBot      bool
	Content    string
	Timestamp  time.Time
}

// channelState holds the two per-channel rings. recent mirrors the raw
// channel timeline; memoryLog keeps speaker-tagged exchange lines with
// its own, longer-lived cap.
type channelState struct {
	recent     []Message
	memoryLog  []string
	lastActive time.Time
}

// Memory is the keyed store of per-channel conversation state. Channels
// are created lazily on first record and swept after going idle. All
// appends for a channel serialize through the store lock, so concurrent
// replies cannot interleave history entries out of order.
type Memory struct {
	historySize int
	logSize     int
	botName     string

	mu       sync.Mutex
	channels map[string]*channelState
}

// NewMemory builds a channel memory store. historySize caps the raw
// message ring; logSize is the exchange cap for the memory log, stored
// as 2×logSize speaker lines.
func NewMemory(historySize, logSize int, botName string) *Memory {
	return &Memory{
		historySize: historySize,
		logSize:     logSize,
		botName:     botName,
		channels:    make(map[string]*channelState),
	}
}

func (m *Memory) channel(key string) *channelState {
	ch, ok := m.channels[key]
	if !ok {
		ch = &channelState{}
		m.channels[key] = ch
	}
	ch.lastActive = time.Now()
	return ch
}

// RecordMessage appends one raw message to the channel's recent ring.
// Empty content is dropped.
func (m *Memory) RecordMessage(key string, msg Message) {
	if msg.Content == "" {
		return
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := m.channel(key)
	ch.recent = append(ch.recent, msg)
	if m.historySize > 0 && len(ch.recent) > m.historySize {
		ch.recent = ch.recent[len(ch.recent)-m.historySize:]
	}
}

// RecordExchange appends a completed user/bot turn to the memory log.
func (m *Memory) RecordExchange(key, username, userMessage, botResponse string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := m.channel(key)
	ch.memoryLog = append(ch.memoryLog,
		fmt.Sprintf("USER (%s): %s", username, userMessage),
		fmt.Sprintf("BOT (%s): %s", m.botName, botResponse),
	)
	if m.logSize > 0 && len(ch.memoryLog) > 2*m.logSize {
		ch.memoryLog = ch.memoryLog[len(ch.memoryLog)-2*m.logSize:]
	}
}

// Snapshot returns copies of both rings for a channel. An unknown key
// yields empty slices, not an error.
func (m *Memory) Snapshot(key string) ([]Message, []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[key]
	if !ok {
		return nil, nil
	}
	recent := make([]Message, len(ch.recent))
	copy(recent, ch.recent)
	memLog := make([]string, len(ch.memoryLog))
	copy(memLog, ch.memoryLog)
	return recent, memLog
}

// Channels reports how many channel states are live.
func (m *Memory) Channels() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.channels)
}

// EvictIdle drops channels that have not recorded anything within ttl.
// Returns how many were removed.
func (m *Memory) EvictIdle(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-ttl)
	m.mu.Lock()
	defer m.mu.Unlock()
	evicted := 0
	for key, ch := range m.channels {
		if ch.lastActive.Before(cutoff) {
			delete(m.channels, key)
			evicted++
		}
	}
	if evicted > 0 {
		log.Printf("[convo] evicted %d idle channel(s), %d live", evicted, len(m.channels))
	}
	return evicted
}
