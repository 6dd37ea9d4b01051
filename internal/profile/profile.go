package profile

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Fact is one stored claim about a user, kept in second-person phrasing
// ("You are 21 years old"). Timestamps are RFC3339 strings.
type Fact struct {
	Content       string `json:"content"`
	ExtractedFrom string `json:"extracted_from,omitempty"`
	Timestamp     string `json:"timestamp,omitempty"`
	UpdatedAt     string `json:"updated_at,omitempty"`
}

// UnmarshalJSON accepts both the object form and the bare-string form
// older profile files used for facts.
func (f *Fact) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		f.Content = s
		return nil
	}
	type plain Fact
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode fact: %w", err)
	}
	*f = Fact(p)
	return nil
}

// Exchange is one user-message/bot-reply pair in a profile's history.
type Exchange struct {
	Timestamp   string `json:"timestamp"`
	UserMessage string `json:"user_message"`
	BotResponse string `json:"bot_response"`
}

// Profile is the durable per-user record. One JSON file per user.
type Profile struct {
	UserID              string     `json:"user_id"`
	Username            string     `json:"username,omitempty"`
	CreatedAt           string     `json:"created_at"`
	Facts               []Fact     `json:"facts"`
	Topics              []string   `json:"topics_of_interest"`
	ConversationHistory []Exchange `json:"conversation_history"`
	TotalConversations  int        `json:"total_conversations,omitempty"`
	LastInteraction     string     `json:"last_interaction"`
}

func newProfile(userID, username string) *Profile {
	now := nowStamp()
	return &Profile{
		UserID:              userID,
		Username:            username,
		CreatedAt:           now,
		Facts:               []Fact{},
		Topics:              []string{},
		ConversationHistory: []Exchange{},
		LastInteraction:     now,
	}
}

func nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// RecentFacts returns the newest n facts, oldest first. The stored order
// is append order, so the tail is the newest.
func (p *Profile) RecentFacts(n int) []Fact {
	if n <= 0 || len(p.Facts) <= n {
		return p.Facts
	}
	return p.Facts[len(p.Facts)-n:]
}

// Summary renders the facts and interest topics a user has accumulated.
// Conversation counts and dates are deliberately left out.
func (p *Profile) Summary() string {
	var lines []string
	for _, f := range p.Facts {
		if f.Content != "" {
			lines = append(lines, "- "+f.Content)
		}
	}
	var parts []string
	if len(lines) > 0 {
		parts = append(parts, "Things I know about you:")
		parts = append(parts, lines...)
	}
	if len(p.Topics) > 0 {
		parts = append(parts, "\nTopics you're interested in:", strings.Join(p.Topics, ", "))
	}
	if len(parts) == 0 {
		return "I don't have any information about you yet."
	}
	return strings.Join(parts, "\n")
}
