package gateway

import (
	"context"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/quiplabs/quip/internal/bus"
	"github.com/quiplabs/quip/internal/convo"
	"github.com/quiplabs/quip/internal/game"
	"github.com/quiplabs/quip/internal/intent"
	"github.com/quiplabs/quip/internal/persona"
	"github.com/quiplabs/quip/internal/profile"
	"github.com/quiplabs/quip/internal/ratelimit"
)

const sourceReply = "check out my code here: https://github.com/quiplabs/quip"

// extractionTimeout bounds the detached fact-extraction task; it runs off
// the message context so a reply never waits on it.
const extractionTimeout = 45 * time.Second

// Router decides what one inbound message becomes: a game move, a fixed
// command, a memory operation, or persona chat. All collaborators are
// required; DefaultRange seeds /game when the user gives no range, and
// ReplyTimeout bounds one persona generation (zero means no bound).
type Router struct {
	Profiles     *profile.Store
	Memory       *convo.Memory
	Builder      *convo.Builder
	Games        *game.Manager
	Intents      *intent.Classifier
	Responder    *persona.Generator
	Limiter      *ratelimit.Limiter
	DefaultRange int
	ReplyTimeout time.Duration
}

// Handle routes one message and returns the reply to deliver, or nil when
// the message produces no reply. The inbound message is recorded into
// channel history before any reply is generated.
func (r *Router) Handle(ctx context.Context, msg *bus.InboundMessage) *bus.OutboundMessage {
	if msg.FromSelf {
		return nil
	}
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return nil
	}

	key := msg.SessionKey()
	r.Memory.RecordMessage(key, convo.Message{
		AuthorID:   msg.SenderID,
		AuthorName: msg.SenderName,
		Content:    content,
		Timestamp:  msg.Timestamp,
	})

	// Replying to the bot is chat intent no matter what the text says,
	// unless the user switched to a command.
	if msg.ReplyToBot && !strings.HasPrefix(content, "/") {
		return r.reply(msg, r.respond(ctx, msg, content, "", false))
	}

	if cmd, ok := intent.ParseCommand(content); ok {
		if text, handled := r.runCommand(ctx, msg, cmd); handled {
			return r.reply(msg, text)
		}
		// Unknown command: catch near-miss phrasings like "/forgett my
		// birthday" before handing it to the persona as a failed command.
		stripped := strings.TrimSpace(strings.TrimPrefix(content, "/"))
		it := r.Intents.Classify(ctx, stripped)
		if it.Kind == intent.Argumentative {
			return r.reply(msg, r.respond(ctx, msg, content, it.ArgType, true))
		}
		if text, ok := r.dispatchIntent(ctx, msg, it); ok {
			return r.reply(msg, text)
		}
		return r.reply(msg, r.respond(ctx, msg, content, "", true))
	}

	if text, ok := r.dispatchIntent(ctx, msg, r.Intents.Classify(ctx, content)); ok {
		return r.reply(msg, text)
	}

	// Plain unmatched chatter only gets a reply in group channels; in a
	// direct chat it is recorded and left alone.
	if msg.IsDirect {
		return nil
	}
	return r.reply(msg, r.respond(ctx, msg, content, "", false))
}

func (r *Router) reply(msg *bus.InboundMessage, text string) *bus.OutboundMessage {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return &bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: text,
	}
}

// runCommand executes the exact-match command table. The second return is
// false for unrecognized names, which fall through to intent matching.
func (r *Router) runCommand(ctx context.Context, msg *bus.InboundMessage, cmd intent.Intent) (string, bool) {
	switch cmd.Name {
	case "chat":
		query := strings.TrimSpace(strings.Join(cmd.Args, " "))
		if query == "" {
			query = cmd.Name
		}
		return r.respond(ctx, msg, query, "", false), true

	case "game":
		if err := r.Limiter.Allow(msg.SenderID, "game"); err != nil {
			return err.Error(), true
		}
		maxRange := r.DefaultRange
		if len(cmd.Args) > 0 {
			n, err := strconv.Atoi(cmd.Args[0])
			if err != nil {
				return "bro that's not a number 💀 try again", true
			}
			maxRange = n
		}
		return r.Games.Start(msg.SenderID, maxRange), true

	case "guess":
		if err := r.Limiter.Allow(msg.SenderID, "game"); err != nil {
			return err.Error(), true
		}
		guess, ok := 0, false
		if len(cmd.Args) > 0 {
			guess, ok = r.Intents.ExtractGuess(ctx, strings.Join(cmd.Args, " "))
		}
		if !ok {
			return "yo, i need a number to guess! try something like '/guess 40' or just '/40'", true
		}
		return r.Games.Guess(msg.SenderID, guess), true

	case "end":
		return r.Games.End(msg.SenderID), true

	case "forget":
		if err := r.Limiter.Allow(msg.SenderID, "forget"); err != nil {
			return err.Error(), true
		}
		if len(cmd.Args) == 0 {
			return r.forgetAll(ctx, msg), true
		}
		return r.removeFact(msg, strings.Join(cmd.Args, " ")), true

	case "info", "mydata":
		if err := r.Limiter.Allow(msg.SenderID, cmd.Name); err != nil {
			return err.Error(), true
		}
		return r.dataSummary(msg), true

	case "code":
		return sourceReply, true

	case "good-boy":
		return ":)", true
	}
	return "", false
}

// dispatchIntent handles classified intents from free-form phrasing. Game
// moves only count while that user has an active game; a stray "42" in
// normal conversation stays conversation.
func (r *Router) dispatchIntent(ctx context.Context, msg *bus.InboundMessage, it intent.Intent) (string, bool) {
	switch it.Kind {
	case intent.GameStart:
		if err := r.Limiter.Allow(msg.SenderID, "game"); err != nil {
			return err.Error(), true
		}
		maxRange := it.MaxRange
		if maxRange <= 0 {
			maxRange = r.DefaultRange
		}
		return r.Games.Start(msg.SenderID, maxRange), true

	case intent.GameGuess:
		if !r.Games.Active(msg.SenderID) {
			return "", false
		}
		return r.Games.Guess(msg.SenderID, it.Guess), true

	case intent.GameEnd:
		if !r.Games.Active(msg.SenderID) {
			return "", false
		}
		return r.Games.End(msg.SenderID), true

	case intent.Forget:
		if err := r.Limiter.Allow(msg.SenderID, "forget"); err != nil {
			return err.Error(), true
		}
		if strings.TrimSpace(it.Target) == "" {
			return r.forgetAll(ctx, msg), true
		}
		return r.removeFact(msg, it.Target), true

	case intent.Correction:
		return r.correct(ctx, msg), true

	case intent.UserInfoRequest:
		if err := r.Limiter.Allow(msg.SenderID, "info"); err != nil {
			return err.Error(), true
		}
		return r.dataSummary(msg), true

	case intent.Argumentative:
		return r.respond(ctx, msg, strings.TrimSpace(msg.Content), it.ArgType, false), true
	}
	return "", false
}

// forgetAll handles a bare forget request: a correction phrased through
// /forget gets the correction path, anything else wipes facts and topics.
func (r *Router) forgetAll(ctx context.Context, msg *bus.InboundMessage) string {
	if r.Intents.Classify(ctx, strings.TrimSpace(msg.Content)).Kind == intent.Correction {
		return r.correct(ctx, msg)
	}
	if err := r.Profiles.Wipe(msg.SenderID, msg.SenderName); err != nil {
		log.Printf("[router] wipe %s: %v", msg.SenderID, err)
		return "damn, couldn't clear your data rn"
	}
	return "bet, wiped all your data. fresh start 💀"
}

func (r *Router) removeFact(msg *bus.InboundMessage, target string) string {
	removed, err := r.Profiles.RemoveFact(msg.SenderID, msg.SenderName, target)
	if err != nil {
		log.Printf("[router] remove fact for %s: %v", msg.SenderID, err)
	}
	if removed {
		return "bet, forgot that shit 👍"
	}
	return "couldn't find anything about that to forget, try different words?"
}

func (r *Router) correct(ctx context.Context, msg *bus.InboundMessage) string {
	changed, err := r.Profiles.HandleCorrection(ctx, msg.SenderID, msg.SenderName, strings.TrimSpace(msg.Content))
	if err != nil {
		log.Printf("[router] correction for %s: %v", msg.SenderID, err)
	}
	if changed {
		return "aight, fixed that shit for you"
	}
	return "couldn't figure out what to fix, be more specific?"
}

func (r *Router) dataSummary(msg *bus.InboundMessage) string {
	summary := r.Profiles.Summary(msg.SenderID, msg.SenderName)
	lines := strings.Split(strings.TrimSpace(summary), "\n")
	if strings.Contains(summary, "I don't have any information") || len(lines) <= 3 {
		return "damn, i don't know much about you yet. hit me up with some convos so i can learn more about you!"
	}
	return summary
}

// respond is the passthrough chat path: build the context window, run the
// persona, record the exchange everywhere, and kick off fact extraction.
// Generation failures turn into in-character fallback text.
func (r *Router) respond(ctx context.Context, msg *bus.InboundMessage, query, argType string, wasCommand bool) string {
	if err := r.Limiter.Allow(msg.SenderID, "chat"); err != nil {
		return r.Responder.Fallback(err)
	}

	key := msg.SessionKey()
	prof := r.Profiles.Load(msg.SenderID, msg.SenderName)
	recent, memoryLog := r.Memory.Snapshot(key)
	window := r.Builder.Build(recent, memoryLog, prof, query)

	if r.ReplyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.ReplyTimeout)
		defer cancel()
	}

	reply, err := r.Responder.Reply(ctx, persona.Request{
		Query:      query,
		Context:    window,
		Username:   msg.SenderName,
		SessionKey: key,
		WasCommand: wasCommand,
		ArgType:    argType,
	})
	if err != nil {
		log.Printf("[router] generate for %s: %v", msg.SenderID, err)
		reply = r.Responder.Fallback(err)
	}

	r.Memory.RecordMessage(key, convo.Message{
		AuthorName: persona.Name,
		IsBot:      true,
		Content:    reply,
	})
	r.Memory.RecordExchange(key, msg.SenderName, query, reply)
	if err := r.Profiles.AddExchange(msg.SenderID, msg.SenderName, query, reply); err != nil {
		log.Printf("[router] record exchange for %s: %v", msg.SenderID, err)
	}

	if !wasCommand && !strings.HasPrefix(query, "/") && len(strings.Fields(query)) > 3 {
		go r.extractFacts(msg.SenderID, msg.SenderName, query)
	}

	return reply
}

func (r *Router) extractFacts(userID, username, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), extractionTimeout)
	defer cancel()

	changed, err := r.Profiles.ExtractAndMerge(ctx, userID, username, message)
	if err != nil {
		log.Printf("[router] fact extraction for %s: %v", userID, err)
		return
	}
	if changed {
		log.Printf("[router] learned something new about %s", userID)
	}
}
