package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cexll/agentsdk-go/pkg/api"

	"github.com/quiplabs/quip/internal/bus"
	"github.com/quiplabs/quip/internal/config"
	"github.com/quiplabs/quip/internal/convo"
	"github.com/quiplabs/quip/internal/game"
	"github.com/quiplabs/quip/internal/intent"
	"github.com/quiplabs/quip/internal/persona"
	"github.com/quiplabs/quip/internal/profile"
	"github.com/quiplabs/quip/internal/ratelimit"
)

// mockRuntime implements persona.Runtime for testing
type mockRuntime struct {
	mu       sync.Mutex
	response *api.Response
	err      error
	closed   bool
	requests []api.Request
}

func (m *mockRuntime) Run(ctx context.Context, req api.Request) (*api.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	return m.response, nil
}

func (m *mockRuntime) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *mockRuntime) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *mockRuntime) lastRequest() api.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return api.Request{}
	}
	return m.requests[len(m.requests)-1]
}

func textResponse(s string) *api.Response {
	return &api.Response{Result: &api.Result{Output: s}}
}

// stubLLM fakes the side model. Queued replies are consumed in order and
// the last one sticks; with no queue it answers as a none-intent.
type stubLLM struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   int
}

func (s *stubLLM) Complete(ctx context.Context, system, user string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	if len(s.replies) == 0 {
		return `{"intent": "none", "target": null, "type": null, "value": null}`, nil
	}
	reply := s.replies[0]
	if len(s.replies) > 1 {
		s.replies = s.replies[1:]
	}
	return reply, nil
}

func (s *stubLLM) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestRouter(t *testing.T, rt persona.Runtime, side *stubLLM) *Router {
	t.Helper()
	return &Router{
		Profiles:     profile.NewStore(t.TempDir(), 20, side),
		Memory:       convo.NewMemory(40, 30, persona.Name),
		Builder:      convo.NewBuilder(8000, 20, 15),
		Games:        game.NewManager(10, 10000),
		Intents:      intent.NewClassifier(side, 100),
		Responder:    persona.NewGenerator(rt),
		Limiter:      ratelimit.NewLimiter(config.DefaultLimits()),
		DefaultRange: 100,
		ReplyTimeout: time.Minute,
	}
}

func groupMsg(content string) *bus.InboundMessage {
	return &bus.InboundMessage{
		Channel:    "telegram",
		SenderID:   "42",
		SenderName: "sam",
		ChatID:     "chat1",
		Content:    content,
		Timestamp:  time.Now(),
	}
}

func TestRouter_IgnoresOwnMessages(t *testing.T) {
	rt := &mockRuntime{response: textResponse("hey")}
	r := newTestRouter(t, rt, &stubLLM{})

	msg := groupMsg("yo")
	msg.FromSelf = true

	if out := r.Handle(context.Background(), msg); out != nil {
		t.Fatalf("expected nil reply for own message, got %q", out.Content)
	}
	if recent, _ := r.Memory.Snapshot(msg.SessionKey()); len(recent) != 0 {
		t.Errorf("own message should not be recorded, got %d messages", len(recent))
	}
	if rt.callCount() != 0 {
		t.Errorf("runtime calls = %d, want 0", rt.callCount())
	}
}

func TestRouter_IgnoresEmptyContent(t *testing.T) {
	r := newTestRouter(t, &mockRuntime{response: textResponse("hey")}, &stubLLM{})

	if out := r.Handle(context.Background(), groupMsg("   ")); out != nil {
		t.Fatalf("expected nil reply for empty message, got %q", out.Content)
	}
}

func TestRouter_RecordsInboundBeforeReply(t *testing.T) {
	rt := &mockRuntime{response: textResponse("wassup")}
	r := newTestRouter(t, rt, &stubLLM{})

	msg := groupMsg("yo quip")
	out := r.Handle(context.Background(), msg)
	if out == nil || out.Content != "wassup" {
		t.Fatalf("reply = %+v, want content 'wassup'", out)
	}
	if out.Channel != "telegram" || out.ChatID != "chat1" {
		t.Errorf("reply addressed to %s/%s, want telegram/chat1", out.Channel, out.ChatID)
	}

	recent, _ := r.Memory.Snapshot(msg.SessionKey())
	if len(recent) != 2 {
		t.Fatalf("recorded messages = %d, want 2", len(recent))
	}
	if recent[0].AuthorName != "sam" || recent[0].Content != "yo quip" {
		t.Errorf("first record = %+v, want sam's message", recent[0])
	}
	if !recent[1].IsBot || recent[1].Content != "wassup" {
		t.Errorf("second record = %+v, want bot reply", recent[1])
	}
}

func TestRouter_ReplyToBotIsChat(t *testing.T) {
	rt := &mockRuntime{response: textResponse("fr fr")}
	side := &stubLLM{}
	r := newTestRouter(t, rt, side)

	msg := groupMsg("that was wild")
	msg.ReplyToBot = true

	out := r.Handle(context.Background(), msg)
	if out == nil || out.Content != "fr fr" {
		t.Fatalf("reply = %+v, want chat response", out)
	}
	if rt.callCount() != 1 {
		t.Errorf("runtime calls = %d, want 1", rt.callCount())
	}
	// Implicit chat skips intent classification entirely.
	if side.callCount() != 0 {
		t.Errorf("side model calls = %d, want 0", side.callCount())
	}
}

func TestRouter_ReplyToBotCommandStillRuns(t *testing.T) {
	rt := &mockRuntime{response: textResponse("nope")}
	r := newTestRouter(t, rt, &stubLLM{})

	msg := groupMsg("/code")
	msg.ReplyToBot = true

	out := r.Handle(context.Background(), msg)
	if out == nil || !strings.Contains(out.Content, "github.com/quiplabs/quip") {
		t.Fatalf("reply = %+v, want source link", out)
	}
	if rt.callCount() != 0 {
		t.Errorf("runtime calls = %d, want 0", rt.callCount())
	}
}

func TestRouter_GoodBoy(t *testing.T) {
	r := newTestRouter(t, &mockRuntime{}, &stubLLM{})

	out := r.Handle(context.Background(), groupMsg("/good-boy"))
	if out == nil || out.Content != ":)" {
		t.Fatalf("reply = %+v, want ':)'", out)
	}
}

func TestRouter_GameFlow(t *testing.T) {
	rt := &mockRuntime{}
	r := newTestRouter(t, rt, &stubLLM{})
	ctx := context.Background()

	out := r.Handle(ctx, groupMsg("/game 10"))
	if out == nil || !strings.Contains(out.Content, "between 1 and 10") {
		t.Fatalf("start reply = %+v, want range announcement", out)
	}

	out = r.Handle(ctx, groupMsg("/guess 5"))
	if out == nil || out.Content == "" {
		t.Fatal("guess produced no reply")
	}
	if rt.callCount() != 0 {
		t.Errorf("runtime calls = %d, want 0 (game is deterministic)", rt.callCount())
	}
}

func TestRouter_GameRejectsNonNumber(t *testing.T) {
	r := newTestRouter(t, &mockRuntime{}, &stubLLM{})

	out := r.Handle(context.Background(), groupMsg("/game abc"))
	if out == nil || out.Content != "bro that's not a number 💀 try again" {
		t.Fatalf("reply = %+v, want not-a-number complaint", out)
	}
}

func TestRouter_GuessWithoutNumber(t *testing.T) {
	r := newTestRouter(t, &mockRuntime{}, &stubLLM{})
	ctx := context.Background()

	r.Handle(ctx, groupMsg("/game 100"))
	out := r.Handle(ctx, groupMsg("/guess"))
	want := "yo, i need a number to guess! try something like '/guess 40' or just '/40'"
	if out == nil || out.Content != want {
		t.Fatalf("reply = %+v, want %q", out, want)
	}
}

func TestRouter_SlashNumberShorthand(t *testing.T) {
	rt := &mockRuntime{}
	r := newTestRouter(t, rt, &stubLLM{})
	ctx := context.Background()

	r.Handle(ctx, groupMsg("/game 100"))
	out := r.Handle(ctx, groupMsg("/40"))
	if out == nil || out.Content == "" {
		t.Fatal("expected a game reply for /40")
	}
	if rt.callCount() != 0 {
		t.Errorf("runtime calls = %d, want 0", rt.callCount())
	}
}

func TestRouter_BareNumberRoutesByGameState(t *testing.T) {
	rt := &mockRuntime{response: textResponse("lol what")}
	r := newTestRouter(t, rt, &stubLLM{})
	ctx := context.Background()

	// No active game: a bare number is just chat.
	out := r.Handle(ctx, groupMsg("42"))
	if out == nil || out.Content != "lol what" {
		t.Fatalf("reply = %+v, want chat response", out)
	}
	if rt.callCount() != 1 {
		t.Fatalf("runtime calls = %d, want 1", rt.callCount())
	}

	// Active game: the same message is a guess.
	r.Handle(ctx, groupMsg("/game 10000"))
	out = r.Handle(ctx, groupMsg("42"))
	if out == nil || out.Content == "" {
		t.Fatal("expected a game reply for bare number during game")
	}
	if rt.callCount() != 1 {
		t.Errorf("runtime calls = %d, want still 1", rt.callCount())
	}
}

func TestRouter_GameStartFromPhrase(t *testing.T) {
	rt := &mockRuntime{}
	r := newTestRouter(t, rt, &stubLLM{})

	out := r.Handle(context.Background(), groupMsg("lets play a game"))
	if out == nil || !strings.Contains(out.Content, "between 1 and 100") {
		t.Fatalf("reply = %+v, want default-range start", out)
	}
	if rt.callCount() != 0 {
		t.Errorf("runtime calls = %d, want 0", rt.callCount())
	}
}

func TestRouter_EndWithoutGame(t *testing.T) {
	r := newTestRouter(t, &mockRuntime{}, &stubLLM{})

	out := r.Handle(context.Background(), groupMsg("/end"))
	if out == nil || out.Content != "You don't even have a game going rn" {
		t.Fatalf("reply = %+v, want no-game response", out)
	}
}

func TestRouter_UnknownCommandChatsWithNote(t *testing.T) {
	rt := &mockRuntime{response: textResponse("bro what even is that")}
	r := newTestRouter(t, rt, &stubLLM{})

	out := r.Handle(context.Background(), groupMsg("/vibecheck"))
	if out == nil || out.Content != "bro what even is that" {
		t.Fatalf("reply = %+v, want persona response", out)
	}
	prompt := rt.lastRequest().Prompt
	if !strings.Contains(prompt, "tried a command") {
		t.Errorf("prompt missing failed-command note:\n%s", prompt)
	}
	if !strings.Contains(prompt, `User (sam) just said: "vibecheck"`) {
		t.Errorf("prompt should carry the slash-stripped query:\n%s", prompt)
	}
}

func TestRouter_DirectUnmatchedIsSilent(t *testing.T) {
	rt := &mockRuntime{response: textResponse("hey")}
	r := newTestRouter(t, rt, &stubLLM{})

	msg := groupMsg("nice weather today")
	msg.IsDirect = true

	if out := r.Handle(context.Background(), msg); out != nil {
		t.Fatalf("expected silence in direct chat, got %q", out.Content)
	}
	if rt.callCount() != 0 {
		t.Errorf("runtime calls = %d, want 0", rt.callCount())
	}
	// Still recorded for context.
	if recent, _ := r.Memory.Snapshot(msg.SessionKey()); len(recent) != 1 {
		t.Errorf("recorded messages = %d, want 1", len(recent))
	}
}

func TestRouter_GroupUnmatchedChats(t *testing.T) {
	rt := &mockRuntime{response: textResponse("hey")}
	r := newTestRouter(t, rt, &stubLLM{})

	out := r.Handle(context.Background(), groupMsg("nice weather today"))
	if out == nil || out.Content != "hey" {
		t.Fatalf("reply = %+v, want chat response", out)
	}
}

func TestRouter_ForgetFact(t *testing.T) {
	side := &stubLLM{replies: []string{
		`{"facts": ["works as a welder", "has two cats"], "topics": ["metalwork"]}`,
	}}
	r := newTestRouter(t, &mockRuntime{}, side)
	ctx := context.Background()

	if _, err := r.Profiles.ExtractAndMerge(ctx, "42", "sam", "i work as a welder and have two cats"); err != nil {
		t.Fatalf("seed facts: %v", err)
	}

	out := r.Handle(ctx, groupMsg("/forget welder"))
	if out == nil || out.Content != "bet, forgot that shit 👍" {
		t.Fatalf("reply = %+v, want removal confirmation", out)
	}

	out = r.Handle(ctx, groupMsg("/forget unicorns"))
	if out == nil || out.Content != "couldn't find anything about that to forget, try different words?" {
		t.Fatalf("reply = %+v, want no-match response", out)
	}
}

func TestRouter_ForgetAllWipes(t *testing.T) {
	side := &stubLLM{replies: []string{
		`{"facts": ["works as a welder"], "topics": ["metalwork"]}`,
	}}
	r := newTestRouter(t, &mockRuntime{}, side)
	ctx := context.Background()

	if _, err := r.Profiles.ExtractAndMerge(ctx, "42", "sam", "i work as a welder these days"); err != nil {
		t.Fatalf("seed facts: %v", err)
	}

	out := r.Handle(ctx, groupMsg("/forget"))
	if out == nil || out.Content != "bet, wiped all your data. fresh start 💀" {
		t.Fatalf("reply = %+v, want wipe confirmation", out)
	}
	if got := r.Profiles.Summary("42", "sam"); !strings.Contains(got, "I don't have any information") {
		t.Errorf("summary after wipe = %q, want empty profile", got)
	}
}

func TestRouter_MydataSparse(t *testing.T) {
	r := newTestRouter(t, &mockRuntime{}, &stubLLM{})

	out := r.Handle(context.Background(), groupMsg("/mydata"))
	want := "damn, i don't know much about you yet. hit me up with some convos so i can learn more about you!"
	if out == nil || out.Content != want {
		t.Fatalf("reply = %+v, want %q", out, want)
	}
}

func TestRouter_MydataFull(t *testing.T) {
	side := &stubLLM{replies: []string{
		`{"facts": ["works as a welder", "has two cats"], "topics": ["metalwork", "cats"]}`,
	}}
	r := newTestRouter(t, &mockRuntime{}, side)
	ctx := context.Background()

	if _, err := r.Profiles.ExtractAndMerge(ctx, "42", "sam", "i work as a welder and have two cats"); err != nil {
		t.Fatalf("seed facts: %v", err)
	}

	out := r.Handle(ctx, groupMsg("/info"))
	if out == nil || !strings.Contains(out.Content, "welder") {
		t.Fatalf("reply = %+v, want fact summary", out)
	}
	if !strings.Contains(out.Content, "metalwork") {
		t.Errorf("summary missing topics: %q", out.Content)
	}
}

func TestRouter_CorrectionUpdatesFact(t *testing.T) {
	side := &stubLLM{replies: []string{
		`{"facts": ["lives in denver"], "topics": []}`,
		`{"action": "update", "fact_index": 0, "new_fact": "lives in austin"}`,
	}}
	r := newTestRouter(t, &mockRuntime{}, side)
	ctx := context.Background()

	if _, err := r.Profiles.ExtractAndMerge(ctx, "42", "sam", "i live in denver right now"); err != nil {
		t.Fatalf("seed facts: %v", err)
	}

	out := r.Handle(ctx, groupMsg("actually, i live in austin"))
	if out == nil || out.Content != "aight, fixed that shit for you" {
		t.Fatalf("reply = %+v, want correction confirmation", out)
	}
	if got := r.Profiles.Summary("42", "sam"); !strings.Contains(got, "austin") {
		t.Errorf("summary = %q, want corrected fact", got)
	}
}

func TestRouter_ArgumentativeGoesToChat(t *testing.T) {
	rt := &mockRuntime{response: textResponse("nah u tripping")}
	r := newTestRouter(t, rt, &stubLLM{})

	out := r.Handle(context.Background(), groupMsg("stfu bot"))
	if out == nil || out.Content != "nah u tripping" {
		t.Fatalf("reply = %+v, want persona response", out)
	}
	if rt.callCount() != 1 {
		t.Errorf("runtime calls = %d, want 1", rt.callCount())
	}
}

func TestRouter_CommandRateLimitSurfacesText(t *testing.T) {
	r := newTestRouter(t, &mockRuntime{}, &stubLLM{})
	r.Limiter = ratelimit.NewLimiter(map[string]config.RateLimit{
		"game":    {Count: 1, WindowSeconds: 60},
		"default": {Count: 100, WindowSeconds: 60},
	})
	ctx := context.Background()

	if out := r.Handle(ctx, groupMsg("/game 10")); out == nil || !strings.Contains(out.Content, "between 1 and 10") {
		t.Fatalf("first /game should start, got %+v", out)
	}
	out := r.Handle(ctx, groupMsg("/game 10"))
	if out == nil || !strings.HasPrefix(out.Content, "Rate limited") {
		t.Fatalf("reply = %+v, want rate-limit text", out)
	}
}

func TestRouter_ChatRateLimitFallsBackInCharacter(t *testing.T) {
	rt := &mockRuntime{response: textResponse("hey")}
	r := newTestRouter(t, rt, &stubLLM{})
	r.Limiter = ratelimit.NewLimiter(map[string]config.RateLimit{
		"chat":    {Count: 1, WindowSeconds: 60},
		"default": {Count: 100, WindowSeconds: 60},
	})
	ctx := context.Background()

	if out := r.Handle(ctx, groupMsg("yo quip")); out == nil {
		t.Fatal("first chat should reply")
	}
	out := r.Handle(ctx, groupMsg("yo again"))
	if out == nil || out.Content == "" {
		t.Fatal("expected in-character fallback, got nothing")
	}
	if strings.HasPrefix(out.Content, "Rate limited") {
		t.Errorf("chat fallback leaked raw limit text: %q", out.Content)
	}
	if rt.callCount() != 1 {
		t.Errorf("runtime calls = %d, want 1", rt.callCount())
	}
}

func TestRouter_GeneratorErrorFallback(t *testing.T) {
	rt := &mockRuntime{err: errors.New("boom")}
	r := newTestRouter(t, rt, &stubLLM{})

	msg := groupMsg("yo quip")
	out := r.Handle(context.Background(), msg)
	if out == nil || !strings.Contains(out.Content, "short-circuited") {
		t.Fatalf("reply = %+v, want in-character error fallback", out)
	}
	// The fallback still lands in channel history.
	recent, _ := r.Memory.Snapshot(msg.SessionKey())
	if len(recent) != 2 || !recent[1].IsBot {
		t.Errorf("fallback not recorded, history = %+v", recent)
	}
}

func TestRouter_ExtractionRunsAfterChat(t *testing.T) {
	rt := &mockRuntime{response: textResponse("welding is cool fr")}
	side := &stubLLM{replies: []string{
		`{"intent": "none", "target": null, "type": null, "value": null, "facts": ["works as a welder"], "topics": ["welding"]}`,
	}}
	r := newTestRouter(t, rt, side)

	out := r.Handle(context.Background(), groupMsg("i work as a welder in ohio"))
	if out == nil || out.Content != "welding is cool fr" {
		t.Fatalf("reply = %+v, want chat response", out)
	}

	// Extraction is fire-and-forget; poll until the profile picks it up.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(r.Profiles.Summary("42", "sam"), "welder") {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("extracted fact never reached the profile")
}

func TestRouter_ShortMessageSkipsExtraction(t *testing.T) {
	rt := &mockRuntime{response: textResponse("yo")}
	side := &stubLLM{}
	r := newTestRouter(t, rt, side)

	r.Handle(context.Background(), groupMsg("hey man"))

	time.Sleep(150 * time.Millisecond)
	// One classification call, no extraction call.
	if side.callCount() != 1 {
		t.Errorf("side model calls = %d, want 1", side.callCount())
	}
}
