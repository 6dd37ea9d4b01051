package profile

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/quiplabs/quip/internal/llm"
)

var unsafeIDChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// sanitizeID strips everything unsafe for a filename. Platform IDs vary
// (numeric Telegram IDs, WhatsApp JIDs with @ and dots), so only the
// alphanumeric skeleton is kept.
func sanitizeID(userID string) string {
	s := unsafeIDChars.ReplaceAllString(userID, "")
	if s == "" {
		return "unknown"
	}
	return s
}

// Store persists one JSON profile file per user. Every mutation runs as
// load-mutate-save under that user's lock, so concurrent writers to the
// same profile cannot lose updates; different users never contend.
type Store struct {
	dir        string
	maxHistory int
	client     llm.Client

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore builds a profile store rooted at dir. client powers fact
// extraction and correction resolution; nil disables both, leaving the
// store purely local.
func NewStore(dir string, maxHistory int, client llm.Client) *Store {
	return &Store{
		dir:        dir,
		maxHistory: maxHistory,
		client:     client,
		locks:      make(map[string]*sync.Mutex),
	}
}

func (s *Store) path(userID string) string {
	return filepath.Join(s.dir, sanitizeID(userID)+".json")
}

func (s *Store) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sanitizeID(userID)
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Load returns a user's profile, defaulting to a fresh one when the file
// is missing or unreadable. A corrupt file must never block message
// handling.
func (s *Store) Load(userID, username string) *Profile {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()
	return s.loadLocked(userID, username)
}

func (s *Store) loadLocked(userID, username string) *Profile {
	data, err := os.ReadFile(s.path(userID))
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[profile] read profile for %s: %v", sanitizeID(userID), err)
		}
		return newProfile(userID, username)
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		log.Printf("[profile] decode profile for %s: %v, starting fresh", sanitizeID(userID), err)
		return newProfile(userID, username)
	}
	if p.UserID == "" {
		p.UserID = userID
	}
	if username != "" && p.Username != username {
		p.Username = username
	}
	if p.Facts == nil {
		p.Facts = []Fact{}
	}
	if p.Topics == nil {
		p.Topics = []string{}
	}
	if p.ConversationHistory == nil {
		p.ConversationHistory = []Exchange{}
	}
	return &p
}

// saveLocked writes the profile through a temp file and rename, so a
// crash mid-write never leaves a truncated profile behind.
func (s *Store) saveLocked(p *Profile) error {
	p.LastInteraction = nowStamp()
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "profile-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp profile: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write profile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp profile: %w", err)
	}
	if err := os.Rename(tmpPath, s.path(p.UserID)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace profile: %w", err)
	}
	return nil
}

// update runs fn against the freshly loaded profile under the user's
// lock and persists only when fn reports a change.
func (s *Store) update(userID, username string, fn func(*Profile) bool) (bool, error) {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()
	p := s.loadLocked(userID, username)
	if !fn(p) {
		return false, nil
	}
	return true, s.saveLocked(p)
}

// AddExchange appends a conversation turn, trims history to the
// configured cap, and bumps the lifetime counter.
func (s *Store) AddExchange(userID, username, userMessage, botResponse string) error {
	_, err := s.update(userID, username, func(p *Profile) bool {
		p.ConversationHistory = append(p.ConversationHistory, Exchange{
			Timestamp:   nowStamp(),
			UserMessage: userMessage,
			BotResponse: botResponse,
		})
		if p.TotalConversations == 0 {
			p.TotalConversations = len(p.ConversationHistory)
		} else {
			p.TotalConversations++
		}
		if s.maxHistory > 0 && len(p.ConversationHistory) > s.maxHistory {
			p.ConversationHistory = p.ConversationHistory[len(p.ConversationHistory)-s.maxHistory:]
		}
		return true
	})
	return err
}

// RemoveFact drops every fact whose content contains the given text,
// case-insensitively. Returns whether anything was removed.
func (s *Store) RemoveFact(userID, username, text string) (bool, error) {
	if text == "" {
		return false, nil
	}
	return s.update(userID, username, func(p *Profile) bool {
		kept := make([]Fact, 0, len(p.Facts))
		for _, f := range p.Facts {
			if !containsFold(f.Content, text) {
				kept = append(kept, f)
			}
		}
		if len(kept) == len(p.Facts) {
			return false
		}
		p.Facts = kept
		return true
	})
}

// Wipe clears stored facts and topics. Conversation history stays.
func (s *Store) Wipe(userID, username string) error {
	_, err := s.update(userID, username, func(p *Profile) bool {
		p.Facts = []Fact{}
		p.Topics = []string{}
		return true
	})
	return err
}

// Summary renders what the store knows about a user.
func (s *Store) Summary(userID, username string) string {
	return s.Load(userID, username).Summary()
}
