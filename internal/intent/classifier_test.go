package intent

import (
	"context"
	"errors"
	"testing"
)

type stubClient struct {
	reply string
	err   error
	calls int
}

func (s *stubClient) Complete(ctx context.Context, system, user string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text     string
		wantOK   bool
		wantName string
		wantArgs int
	}{
		{"/chat what's up", true, "chat", 2},
		{"/game 100", true, "game", 1},
		{"/guess 42", true, "guess", 1},
		{"/good-boy", true, "good-boy", 0},
		{"//shrug", false, "", 0},
		{"plain message", false, "", 0},
		{"/", false, "", 0},
		{"  /chat hi", true, "chat", 1},
	}
	for _, tt := range tests {
		in, ok := ParseCommand(tt.text)
		if ok != tt.wantOK {
			t.Errorf("ParseCommand(%q) ok = %v, want %v", tt.text, ok, tt.wantOK)
			continue
		}
		if !ok {
			continue
		}
		if in.Name != tt.wantName {
			t.Errorf("ParseCommand(%q) name = %q, want %q", tt.text, in.Name, tt.wantName)
		}
		if len(in.Args) != tt.wantArgs {
			t.Errorf("ParseCommand(%q) args = %d, want %d", tt.text, len(in.Args), tt.wantArgs)
		}
	}
}

func TestClassifyPatterns(t *testing.T) {
	c := NewClassifier(nil, 10)
	ctx := context.Background()

	tests := []struct {
		text string
		want Kind
	}{
		{"let's play a game", GameStart},
		{"wanna play", GameStart},
		{"stop the game", GameEnd},
		{"i'm done", GameEnd},
		{"end the game and start a new game", GameEnd},
		{"forget about my birthday", Forget},
		{"wipe my data", Forget},
		{"actually, I live in Austin", Correction},
		{"that's wrong", Correction},
		{"what do you know about me", UserInfoRequest},
		{"show me my data", UserInfoRequest},
		{"you're wrong about that", Argumentative},
		{"stfu bot", Argumentative},
		{"what's up", None},
		{"nice weather today", None},
		{"", None},
	}
	for _, tt := range tests {
		got := c.Classify(ctx, tt.text)
		if got.Kind != tt.want {
			t.Errorf("Classify(%q) = %v, want %v", tt.text, got.Kind, tt.want)
		}
	}
}

func TestClassifyFirstPersonGuard(t *testing.T) {
	c := NewClassifier(nil, 10)
	ctx := context.Background()

	// Self-directed venting is not an argument with the bot.
	if got := c.Classify(ctx, "im so fucking tired today"); got.Kind != None {
		t.Errorf("self-directed venting classified as %v, want None", got.Kind)
	}
	// Addressing the bot still counts.
	if got := c.Classify(ctx, "i think you're stupid"); got.Kind != Argumentative {
		t.Errorf("bot-directed insult classified as %v, want Argumentative", got.Kind)
	}
}

func TestClassifyArgumentType(t *testing.T) {
	c := NewClassifier(nil, 10)
	ctx := context.Background()

	tests := []struct {
		text string
		want string
	}{
		{"shut up bot", "insult"},
		{"you're wrong", "disagreement"},
		{"that's stupid", "criticism"},
		{"you don't know anything", "general"},
	}
	for _, tt := range tests {
		got := c.Classify(ctx, tt.text)
		if got.Kind != Argumentative {
			t.Fatalf("Classify(%q) = %v, want Argumentative", tt.text, got.Kind)
		}
		if got.ArgType != tt.want {
			t.Errorf("Classify(%q) type = %q, want %q", tt.text, got.ArgType, tt.want)
		}
	}
}

func TestClassifyForgetTarget(t *testing.T) {
	c := NewClassifier(nil, 10)
	ctx := context.Background()

	tests := []struct {
		text string
		want string
	}{
		{"forget about my birthday", "birthday"},
		{"delete that stuff about my dog", "stuff about my dog"},
		{"clear my data", "data"},
	}
	for _, tt := range tests {
		got := c.Classify(ctx, tt.text)
		if got.Kind != Forget {
			t.Fatalf("Classify(%q) = %v, want Forget", tt.text, got.Kind)
		}
		if got.Target != tt.want {
			t.Errorf("Classify(%q) target = %q, want %q", tt.text, got.Target, tt.want)
		}
	}
}

func TestClassifyLocalGuess(t *testing.T) {
	c := NewClassifier(nil, 10)
	ctx := context.Background()

	tests := []struct {
		text string
		want int
	}{
		{"42", 42},
		{" 40! ", 40},
		{"i guess 13", 13},
		{"is it 99", 99},
		{"how about 250", 250},
	}
	for _, tt := range tests {
		got := c.Classify(ctx, tt.text)
		if got.Kind != GameGuess {
			t.Fatalf("Classify(%q) = %v, want GameGuess", tt.text, got.Kind)
		}
		if got.Guess != tt.want {
			t.Errorf("Classify(%q) guess = %d, want %d", tt.text, got.Guess, tt.want)
		}
	}

	// Guess phrasing without a digit is not a local guess.
	if got := c.Classify(ctx, "i guess that's fair"); got.Kind != None {
		t.Errorf("Classify(digitless) = %v, want None", got.Kind)
	}
}

func TestClassifyRemoteSpelledGuess(t *testing.T) {
	client := &stubClient{reply: `{"intent": "game_guess", "value": 17}`}
	c := NewClassifier(client, 10)

	got := c.Classify(context.Background(), "hmm i guess seventeen")
	if got.Kind != GameGuess || got.Guess != 17 {
		t.Fatalf("Classify = (%v, %d), want (GameGuess, 17)", got.Kind, got.Guess)
	}

	// A guess intent without a value degrades to None.
	c2 := NewClassifier(&stubClient{reply: `{"intent": "game_guess", "value": null}`}, 10)
	if got := c2.Classify(context.Background(), "i guess something"); got.Kind != None {
		t.Fatalf("Classify(no value) = %v, want None", got.Kind)
	}
}

func TestClassifyRemoteFallback(t *testing.T) {
	client := &stubClient{reply: `{"intent": "game_start", "target": null, "type": null}`}
	c := NewClassifier(client, 10)

	got := c.Classify(context.Background(), "can we do the number thing again")
	if got.Kind != GameStart {
		t.Fatalf("Classify = %v, want GameStart", got.Kind)
	}
	if client.calls != 1 {
		t.Fatalf("client calls = %d, want 1", client.calls)
	}
}

func TestClassifyRemoteFailureDegradesToNone(t *testing.T) {
	tests := []struct {
		name   string
		client *stubClient
	}{
		{"transport error", &stubClient{err: errors.New("boom")}},
		{"garbage output", &stubClient{reply: "not json at all"}},
		{"unknown intent", &stubClient{reply: `{"intent": "dance"}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClassifier(tt.client, 10)
			got := c.Classify(context.Background(), "hmm interesting message")
			if got.Kind != None {
				t.Errorf("Classify = %v, want None", got.Kind)
			}
		})
	}
}

func TestClassifyCachesRemoteResults(t *testing.T) {
	client := &stubClient{reply: `{"intent": "user_info"}`}
	c := NewClassifier(client, 10)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if got := c.Classify(ctx, "whatcha got on me"); got.Kind != UserInfoRequest {
			t.Fatalf("Classify = %v, want UserInfoRequest", got.Kind)
		}
	}
	if client.calls != 1 {
		t.Fatalf("client calls = %d, want 1 (cached)", client.calls)
	}
}

func TestExtractGuessDigits(t *testing.T) {
	c := NewClassifier(nil, 10)
	ctx := context.Background()

	tests := []struct {
		text   string
		want   int
		wantOK bool
	}{
		{"I guess 42", 42, true},
		{"50", 50, true},
		{"maybe 7 or so", 7, true},
		{"what's up", 0, false},
		{"no numbers here", 0, false},
	}
	for _, tt := range tests {
		got, ok := c.ExtractGuess(ctx, tt.text)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("ExtractGuess(%q) = (%d, %v), want (%d, %v)", tt.text, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestExtractGuessSpelledNumber(t *testing.T) {
	client := &stubClient{reply: `{"guess": 17}`}
	c := NewClassifier(client, 10)

	got, ok := c.ExtractGuess(context.Background(), "maybe it's seventeen?")
	if !ok || got != 17 {
		t.Fatalf("ExtractGuess = (%d, %v), want (17, true)", got, ok)
	}
	if client.calls != 1 {
		t.Fatalf("client calls = %d, want 1", client.calls)
	}
}

func TestExtractGuessNullFromModel(t *testing.T) {
	client := &stubClient{reply: `{"guess": null}`}
	c := NewClassifier(client, 10)

	if got, ok := c.ExtractGuess(context.Background(), "just vibing"); ok {
		t.Fatalf("ExtractGuess = (%d, true), want no guess", got)
	}
}
