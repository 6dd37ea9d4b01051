package intent

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"

	"github.com/quiplabs/quip/internal/llm"
)

// Pattern groups run in a fixed order; the first hit wins. Ending a game
// is checked before starting one so "stop the game" never reads as a
// start request.
var (
	endGamePatterns = compileAll(
		`(?i)(end|stop|quit|exit|finish) (the |this )?game`,
		`(?i)i('?m| am) done`,
		`(?i)stop playing`,
		`(?i)^end$`,
		`(?i)give up`,
	)
	gameStartPatterns = compileAll(
		`(?i)(start|play|begin) (a |the )?game`,
		`(?i)let'?s play`,
		`(?i)wanna play`,
		`(?i)^play$`,
		`(?i)new game`,
	)
	guessPatterns = compileAll(
		`^\s*\d+\s*[.!?]*\s*$`,
		`(?i)(i guess|my guess is|i'?ll (guess|try)|guessing)\b`,
		`(?i)\b(is it|it'?s|maybe|how about|try)\s+\d+`,
	)
	forgetPatterns = compileAll(
		`(?i)(forget|delete|remove|erase) (about|that|this|my|the)`,
		`(?i)don'?t (remember|keep) (that|this|my)`,
		`(?i)clear my`,
		`(?i)wipe (my|the) data`,
	)
	correctionPatterns = compileAll(
		`(?i)(that'?s|thats|is) (not|wrong|incorrect)`,
		`(?i)i (meant|mean|didn'?t mean)`,
		`(?i)actually[,]?`,
		`(?i)correction`,
		`(?i)fix (that|this)`,
		`(?i)that (should|needs to) be`,
	)
	userInfoPatterns = compileAll(
		`(?i)what (do you|you) know about me`,
		`(?i)(show|tell|give) me my (info|data|facts)`,
		`(?i)my (info|data|profile)`,
		`(?i)what('?s| is) stored`,
		`(?i)what have (you|we) talked about`,
	)
	argumentativePatterns = compileAll(
		`(?i)(fuck|shit|damn|bitch|stfu|shut up|bullshit)`,
		`(?i)(you'?re|your|ur|you) (wrong|stupid|dumb|idiot)`,
		`(?i)(you'?re|your|ur|you) (bad|terrible|awful|useless)`,
		`(?i)i hate (you|this|that|the bot)`,
		`(?i)(no way|nah|not true|cap)`,
		`(?i)(you|u) (don'?t|dont) know (what|anything)`,
		`(?i)that'?s (stupid|dumb|idiotic|moronic)`,
	)

	insultRe       = regexp.MustCompile(`(?i)(fuck|shit|damn|bitch|stfu|shut up)`)
	disagreementRe = regexp.MustCompile(`(?i)(wrong|incorrect|not true|cap)`)
	criticismRe    = regexp.MustCompile(`(?i)(stupid|dumb|idiot)`)

	// A sentence led by the speaker talking about themselves is not an
	// argument with the bot unless the bot is addressed too.
	firstPersonRe  = regexp.MustCompile(`(?i)^(i|i'm|im|i am|we)\b`)
	secondPersonRe = regexp.MustCompile(`(?i)\b(you|you'?re|your|ur|u|bot)\b`)

	numberRe = regexp.MustCompile(`\b\d+\b`)

	forgetKeywords = map[string]bool{
		"forget": true, "delete": true, "remove": true, "erase": true, "clear": true,
	}
	forgetFillers = map[string]bool{
		"about": true, "that": true, "this": true, "my": true, "the": true,
	}
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

func anyMatch(patterns []*regexp.Regexp, text string) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// Classifier resolves message intents: precompiled pattern groups first,
// then one structured side-model call for input no pattern covers. A nil
// client keeps classification purely local.
type Classifier struct {
	client llm.Client
	cache  *intentCache
}

func NewClassifier(client llm.Client, cacheSize int) *Classifier {
	return &Classifier{
		client: client,
		cache:  newIntentCache(cacheSize),
	}
}

// Classify returns the intent for a message. Remote-classification
// failures degrade to None; they are never surfaced as errors.
func (c *Classifier) Classify(ctx context.Context, text string) Intent {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Intent{Kind: None}
	}
	if cached, ok := c.cache.get(trimmed); ok {
		return cached
	}

	resolved := c.classifyLocal(trimmed)
	if resolved.Kind == None && c.client != nil {
		resolved = c.classifyRemote(ctx, trimmed)
	}
	c.cache.put(trimmed, resolved)
	return resolved
}

func (c *Classifier) classifyLocal(text string) Intent {
	// Guess phrasing with a digit literal wins outright. Without a digit
	// ("i guess seventeen") the text runs through the remaining groups and
	// spelled-number extraction is left to the remote fallback.
	if anyMatch(guessPatterns, text) {
		if m := numberRe.FindString(text); m != "" {
			if n, err := strconv.Atoi(m); err == nil {
				return Intent{Kind: GameGuess, Guess: n}
			}
		}
	}

	switch {
	case anyMatch(endGamePatterns, text):
		return Intent{Kind: GameEnd}
	case anyMatch(gameStartPatterns, text):
		in := Intent{Kind: GameStart}
		if m := numberRe.FindString(text); m != "" {
			if n, err := strconv.Atoi(m); err == nil && n > 1 {
				in.MaxRange = n
			}
		}
		return in
	case anyMatch(forgetPatterns, text):
		return Intent{Kind: Forget, Target: forgetTarget(text)}
	case anyMatch(correctionPatterns, text):
		return Intent{Kind: Correction}
	case anyMatch(userInfoPatterns, text):
		return Intent{Kind: UserInfoRequest}
	case anyMatch(argumentativePatterns, text):
		if firstPersonRe.MatchString(text) && !secondPersonRe.MatchString(text) {
			return Intent{Kind: None}
		}
		return Intent{Kind: Argumentative, ArgType: argType(text)}
	}
	return Intent{Kind: None}
}

// forgetTarget pulls what follows the first deletion keyword, dropping
// filler words so "forget about my birthday" targets "birthday".
func forgetTarget(text string) string {
	words := strings.Fields(strings.ToLower(text))
	for i, w := range words {
		if !forgetKeywords[strings.Trim(w, ".,!?")] {
			continue
		}
		rest := words[i+1:]
		for len(rest) > 0 && forgetFillers[strings.Trim(rest[0], ".,!?")] {
			rest = rest[1:]
		}
		return strings.Trim(strings.Join(rest, " "), ".,!? ")
	}
	return ""
}

func argType(text string) string {
	switch {
	case insultRe.MatchString(text):
		return "insult"
	case disagreementRe.MatchString(text):
		return "disagreement"
	case criticismRe.MatchString(text):
		return "criticism"
	default:
		return "general"
	}
}

const classifySystemPrompt = `You classify chat messages for a group-chat bot. Respond with strict JSON only.`

const classifyPrompt = `Classify this message into exactly one intent.

Intents:
- "game_start": wants to start or play a guessing game
- "game_end": wants to stop or quit the current game
- "game_guess": offers a number for a guessing game; set "value" to the number, converting written numbers to digits ("seventeen" becomes 17)
- "forget": asks to delete stored information; set "target" to what should be forgotten, or null for everything
- "correction": corrects something previously stored ("actually...", "that's wrong", "I meant")
- "user_info": asks what the bot knows or has stored about them
- "argumentative": argues with, insults, or challenges the bot; set "type" to one of insult, disagreement, criticism, challenge, general
- "none": anything else

Respond with JSON: {"intent": "...", "target": null, "type": null, "value": null}

Message: %s`

func (c *Classifier) classifyRemote(ctx context.Context, text string) Intent {
	raw, err := c.client.Complete(ctx, classifySystemPrompt, fmt.Sprintf(classifyPrompt, text))
	if err != nil {
		log.Printf("[intent] remote classification failed: %v", err)
		return Intent{Kind: None}
	}

	var decoded struct {
		Intent string  `json:"intent"`
		Target *string `json:"target"`
		Type   *string `json:"type"`
		Value  *int    `json:"value"`
	}
	if err := llm.Decode(raw, &decoded); err != nil {
		log.Printf("[intent] unparsable classification output: %v", err)
		return Intent{Kind: None}
	}

	switch decoded.Intent {
	case "game_start":
		return Intent{Kind: GameStart}
	case "game_end":
		return Intent{Kind: GameEnd}
	case "game_guess":
		if decoded.Value == nil {
			return Intent{Kind: None}
		}
		return Intent{Kind: GameGuess, Guess: *decoded.Value}
	case "forget":
		in := Intent{Kind: Forget}
		if decoded.Target != nil {
			in.Target = strings.TrimSpace(*decoded.Target)
		}
		return in
	case "correction":
		return Intent{Kind: Correction}
	case "user_info":
		return Intent{Kind: UserInfoRequest}
	case "argumentative":
		in := Intent{Kind: Argumentative, ArgType: "general"}
		if decoded.Type != nil && *decoded.Type != "" {
			in.ArgType = *decoded.Type
		}
		return in
	default:
		return Intent{Kind: None}
	}
}

const guessPrompt = `Extract a NUMERIC GUESS from this message if present.
Convert written numbers to digits ("seventeen" becomes 17).

Respond with JSON: {"guess": <number or null>}

Examples:
- "I guess 42" -> {"guess": 42}
- "maybe it's seventeen?" -> {"guess": 17}
- "let me try ninety-nine" -> {"guess": 99}
- "what's up" -> {"guess": null}

Message: %s`

// ExtractGuess pulls a numeric guess out of a message. Digit literals are
// taken directly; spelled-out numbers go through the side model when one
// is configured. ok is false when no guess can be extracted.
func (c *Classifier) ExtractGuess(ctx context.Context, text string) (int, bool) {
	key := "guess\x00" + text
	if cached, ok := c.cache.get(key); ok {
		return cached.Guess, cached.Kind == GameGuess
	}

	if m := numberRe.FindString(text); m != "" {
		if n, err := strconv.Atoi(m); err == nil {
			c.cache.put(key, Intent{Kind: GameGuess, Guess: n})
			return n, true
		}
	}

	if c.client == nil {
		return 0, false
	}

	raw, err := c.client.Complete(ctx, classifySystemPrompt, fmt.Sprintf(guessPrompt, text))
	if err != nil {
		log.Printf("[intent] guess extraction failed: %v", err)
		return 0, false
	}
	var decoded struct {
		Guess *int `json:"guess"`
	}
	if err := llm.Decode(raw, &decoded); err != nil || decoded.Guess == nil {
		c.cache.put(key, Intent{Kind: None})
		return 0, false
	}
	c.cache.put(key, Intent{Kind: GameGuess, Guess: *decoded.Guess})
	return *decoded.Guess, true
}
