package game

import (
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
)

// State tracks one user's active guessing game.
type State struct {
	Secret       int
	AttemptsLeft int
	MaxRange     int
}

// Manager owns the active games, keyed by user. A user has at most one
// game; win, loss, and /end all delete the entry.
type Manager struct {
	maxAttempts int
	rangeCap    int

	mu    sync.Mutex
	games map[string]*State

	// pick returns a secret in [1, n]. Swapped out in tests.
	pick func(n int) int
}

func NewManager(maxAttempts, rangeCap int) *Manager {
	return &Manager{
		maxAttempts: maxAttempts,
		rangeCap:    rangeCap,
		games:       make(map[string]*State),
		pick:        func(n int) int { return rand.IntN(n) + 1 },
	}
}

// Start begins a game with a secret in [1, maxRange]. An active game is
// kept and the start refused; the caller resolves default and garbage
// ranges before calling.
func (m *Manager) Start(userID string, maxRange int) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.games[userID]; ok {
		return "You already got a game going! Finish it or use /end first."
	}
	if maxRange < 1 {
		return "Bruh give me a number bigger than 1 💀"
	}
	if m.rangeCap > 0 && maxRange > m.rangeCap {
		maxRange = m.rangeCap
	}

	m.games[userID] = &State{
		Secret:       m.pick(maxRange),
		AttemptsLeft: m.maxAttempts,
		MaxRange:     maxRange,
	}
	log.Printf("[game] started game for user %s with range 1-%d", userID, maxRange)
	return fmt.Sprintf("Game Started! I'm thinking of a number between 1 and %d. Start guessing with /guess <your number>. You got %d attempts.", maxRange, m.maxAttempts)
}

// Guess applies one guess. Wrong guesses burn an attempt and hint at
// the direction; the last wrong guess ends the game.
func (m *Manager) Guess(userID string, guess int) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.games[userID]
	if !ok {
		return "You don't have a game going. Start one with /game <max_range>"
	}

	if guess == g.Secret {
		delete(m.games, userID)
		log.Printf("[game] user %s won their game", userID)
		return fmt.Sprintf("YOOO YOU GOT IT! The number was %d 🔥", g.Secret)
	}

	g.AttemptsLeft--
	if g.AttemptsLeft > 0 {
		hint := "lower"
		if g.Secret > guess {
			hint = "higher"
		}
		return fmt.Sprintf("Nah that ain't it. You got %d tries left! The number is %s than %d", g.AttemptsLeft, hint, guess)
	}

	delete(m.games, userID)
	log.Printf("[game] user %s lost their game", userID)
	return fmt.Sprintf("RIP GAME OVER! The number was %d. Better luck next time 💀", g.Secret)
}

// End abandons the user's game.
func (m *Manager) End(userID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.games[userID]; ok {
		delete(m.games, userID)
		log.Printf("[game] ended game for user %s", userID)
		return "gg thanks for playing"
	}
	return "You don't even have a game going rn"
}

// Active reports whether the user has a game in progress.
func (m *Manager) Active(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.games[userID]
	return ok
}
