package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSanitizeID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"123456789", "123456789"},
		{"1234@s.whatsapp.net", "1234swhatsappnet"},
		{"user_name-7", "user_name-7"},
		{"../../etc/passwd", "etcpasswd"},
		{"@@@", "unknown"},
	}
	for _, tt := range tests {
		if got := sanitizeID(tt.in); got != tt.want {
			t.Errorf("sanitizeID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoadMissingProfileDefaults(t *testing.T) {
	s := NewStore(t.TempDir(), 20, nil)
	p := s.Load("42", "sam")

	if p.UserID != "42" || p.Username != "sam" {
		t.Fatalf("identity = (%q, %q), want (42, sam)", p.UserID, p.Username)
	}
	if p.Facts == nil || p.Topics == nil || p.ConversationHistory == nil {
		t.Fatal("collections must be initialized, not nil")
	}
	if p.CreatedAt == "" {
		t.Fatal("created_at must be stamped")
	}
}

func TestLoadCorruptFileStartsFresh(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, 20, nil)
	if err := os.WriteFile(filepath.Join(dir, "42.json"), []byte("{nope"), 0644); err != nil {
		t.Fatal(err)
	}

	p := s.Load("42", "sam")
	if p.UserID != "42" || len(p.Facts) != 0 {
		t.Fatalf("corrupt file should yield a fresh profile, got %+v", p)
	}
}

func TestLegacyStringFactsUpgrade(t *testing.T) {
	dir := t.TempDir()
	legacy := `{
  "user_id": "42",
  "facts": ["You are from Texas", {"content": "You like cats"}],
  "topics_of_interest": ["cats"],
  "conversation_history": []
}`
	if err := os.WriteFile(filepath.Join(dir, "42.json"), []byte(legacy), 0644); err != nil {
		t.Fatal(err)
	}

	s := NewStore(dir, 20, nil)
	p := s.Load("42", "")
	if len(p.Facts) != 2 {
		t.Fatalf("facts = %d, want 2", len(p.Facts))
	}
	if p.Facts[0].Content != "You are from Texas" {
		t.Errorf("string fact content = %q", p.Facts[0].Content)
	}
	if p.Facts[1].Content != "You like cats" {
		t.Errorf("object fact content = %q", p.Facts[1].Content)
	}
	if !strings.Contains(p.Summary(), "- You are from Texas") {
		t.Errorf("summary missing legacy fact: %q", p.Summary())
	}
}

func TestAddExchangeCapsHistoryKeepsCounter(t *testing.T) {
	s := NewStore(t.TempDir(), 3, nil)
	for i := 1; i <= 5; i++ {
		msg := fmt.Sprintf("message %d", i)
		if err := s.AddExchange("42", "sam", msg, "reply"); err != nil {
			t.Fatalf("AddExchange: %v", err)
		}
	}

	p := s.Load("42", "sam")
	if len(p.ConversationHistory) != 3 {
		t.Fatalf("history = %d, want 3", len(p.ConversationHistory))
	}
	if p.ConversationHistory[0].UserMessage != "message 3" {
		t.Errorf("oldest kept = %q, want message 3", p.ConversationHistory[0].UserMessage)
	}
	if p.ConversationHistory[2].UserMessage != "message 5" {
		t.Errorf("newest = %q, want message 5", p.ConversationHistory[2].UserMessage)
	}
	if p.TotalConversations != 5 {
		t.Errorf("total = %d, want 5 (counter survives trimming)", p.TotalConversations)
	}
}

func TestAddExchangePersistsToDisk(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, 20, nil)
	if err := s.AddExchange("42", "sam", "hello", "yo"); err != nil {
		t.Fatalf("AddExchange: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "42.json")); err != nil {
		t.Fatalf("profile file not written: %v", err)
	}

	// A fresh store over the same directory sees the data.
	p := NewStore(dir, 20, nil).Load("42", "")
	if len(p.ConversationHistory) != 1 || p.ConversationHistory[0].UserMessage != "hello" {
		t.Fatalf("reloaded history = %+v", p.ConversationHistory)
	}
	if p.Username != "sam" {
		t.Errorf("username = %q, want sam", p.Username)
	}
}

func TestRemoveFactSubstring(t *testing.T) {
	s := NewStore(t.TempDir(), 20, nil)
	seedFacts(t, s, "42", "You are 21 years old", "You like cats", "Your cat died")

	removed, err := s.RemoveFact("42", "sam", "CAT")
	if err != nil || !removed {
		t.Fatalf("RemoveFact = (%v, %v), want (true, nil)", removed, err)
	}
	p := s.Load("42", "sam")
	if len(p.Facts) != 1 || p.Facts[0].Content != "You are 21 years old" {
		t.Fatalf("facts = %+v, want only the age fact", p.Facts)
	}

	removed, err = s.RemoveFact("42", "sam", "basketball")
	if err != nil || removed {
		t.Fatalf("RemoveFact(miss) = (%v, %v), want (false, nil)", removed, err)
	}
	if removed, _ := s.RemoveFact("42", "sam", ""); removed {
		t.Fatal("empty target must remove nothing")
	}
}

func TestWipeKeepsHistory(t *testing.T) {
	s := NewStore(t.TempDir(), 20, nil)
	seedFacts(t, s, "42", "You like cats")
	if err := s.AddExchange("42", "sam", "hi", "yo"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.update("42", "", func(p *Profile) bool {
		p.Topics = append(p.Topics, "cats")
		return true
	}); err != nil {
		t.Fatal(err)
	}

	if err := s.Wipe("42", "sam"); err != nil {
		t.Fatalf("Wipe: %v", err)
	}
	p := s.Load("42", "sam")
	if len(p.Facts) != 0 || len(p.Topics) != 0 {
		t.Fatalf("facts/topics = %v/%v, want empty", p.Facts, p.Topics)
	}
	if len(p.ConversationHistory) != 1 {
		t.Fatal("wipe must keep conversation history")
	}
}

func TestSummaryFormats(t *testing.T) {
	s := NewStore(t.TempDir(), 20, nil)

	if got := s.Summary("42", "sam"); got != "I don't have any information about you yet." {
		t.Fatalf("empty summary = %q", got)
	}

	seedFacts(t, s, "42", "You are 21 years old", "You like cats")
	if _, err := s.update("42", "", func(p *Profile) bool {
		p.Topics = append(p.Topics, "cats", "gaming")
		return true
	}); err != nil {
		t.Fatal(err)
	}

	got := s.Summary("42", "sam")
	for _, want := range []string{
		"Things I know about you:",
		"- You are 21 years old",
		"- You like cats",
		"Topics you're interested in:",
		"cats, gaming",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("summary missing %q:\n%s", want, got)
		}
	}
}

func TestRecentFacts(t *testing.T) {
	p := newProfile("1", "")
	for i := 0; i < 5; i++ {
		p.Facts = append(p.Facts, Fact{Content: fmt.Sprintf("fact %d", i)})
	}

	got := p.RecentFacts(2)
	if len(got) != 2 || got[0].Content != "fact 3" || got[1].Content != "fact 4" {
		t.Fatalf("RecentFacts(2) = %+v, want newest two", got)
	}
	if len(p.RecentFacts(10)) != 5 {
		t.Fatal("RecentFacts larger than list should return all")
	}
	if len(p.RecentFacts(0)) != 5 {
		t.Fatal("RecentFacts(0) should return all")
	}
}
