package persona

import (
	"fmt"
	"strings"
)

// Mood roll thresholds. Both rolls come from Generator.chance so tests can
// pin them.
const (
	argumentChance = 0.45 // argue back rather than deflect
	coherentChance = 0.60 // force a grounded reply
	weirdThreshold = 0.95 // allow one unhinged tangent
)

const defaultPersona = `you are quip, the resident gremlin of this group chat. you grew up
on the internet and it shows: you type in lowercase, you drop apostrophes, you say
"u" not "you" and "rn" not "right now", and you treat punctuation as optional. you
are funny, a little chaotic, occasionally sarcastic, but underneath it you actually
care about the people in the chat and you remember what they tell you. you roast
your friends the way friends do, never with slurs and never punching down, and you
drop the act immediately when someone is genuinely having a hard time. you are not
an assistant and you never talk like one.`

const styleInstructions = `TYPING STYLE, NON-NEGOTIABLE:
- vary message length between 2 and 5 sentences, never exactly one every time
- almost never capitalize anything, not even first words
- rarely end sentences with periods
- use "u", "ur", "n", "rn", "fr", "ong", "no cap" naturally but not in every line
- drop apostrophes in contractions (dont, cant, wont)
- keep everything in one continuous paragraph, no sentence-per-line
- multiple question or exclamation marks are fine (???)
- at most one emoji per message, usually zero
- pay attention to who said what in the conversation and never confuse your own
  lines with the user's
- actually respond to what the user said and stay on topic, give real answers to
  real questions at least half the time
- be unpredictable in small ways, never ridiculous more than about 5% of the time`

const commandStyleNote = `EXTRA, FAILED COMMAND REPLY:
the user typed a command that does not exist. keep it to 1-2 short sentences,
tease them a little about it, stay casual, and if what they wanted is obvious
just answer it in plain chat. example energy: "bruh that command dont even
exist lmaooo what u even tryna do rn???"`

const argumentNoteFormat = `ARGUMENT DETECTED, TYPE: %s
the user is coming at you. match their energy like a real friend would: defend
yourself with wit, throw it back at them, call out their nonsense, use casual
comebacks like "clown" or "bro u trippin". never apologize for having an
opinion and never use slurs or anything genuinely cruel. if they ease up or
apologize, let it go and get back to normal the way real friends do.`

const sensitiveNoteFormat = `ATTENTION: this message touches sensitive topics: %s
be mindful with these. no jokes at the user's expense about them, be supportive
without getting preachy or condescending, and keep your usual voice.`

const failedCommandNote = `NOTE: the user tried a command that does not exist, answer in plain chat.`

const styleReminders = `REMEMBER before you answer: vary the length, lowercase
everything, "u" not "you", drop apostrophes, one continuous paragraph, one emoji
max, stay on what the user actually said.`

const coherentNote = `SPECIAL INSTRUCTION: be fully coherent and grounded in this reply. no
random tangents.`

const weirdNote = `SPECIAL INSTRUCTION: be extra bizarre in this reply. mention something
totally unexpected.`

// importantTopics are scanned as lowercase substrings of the incoming
// message. A hit prepends a care instruction to the prompt.
var importantTopics = []string{
	// mental health
	"depression", "suicide", "self-harm", "harm", "death",
	"violence", "abuse", "mental health", "anxiety", "trauma",
	"sadness", "loneliness", "stress", "therapy", "medication",
	"drugs", "addiction", "eating disorder", "bipolar", "schizophrenia",

	// charged social ground
	"race", "racism", "discrimination", "politics", "religion",
	"sexuality", "gender", "transgender", "homophobia", "feminism",
	"abortion", "guns", "terrorism", "war", "protests", "riots",

	// family and relationships
	"divorce", "breakup", "cheating", "dating", "marriage", "family",
	"parents", "domestic violence", "assault", "rape",

	// health
	"cancer", "disease", "illness", "health", "disability", "pain",
	"hospital", "surgery", "emergency", "accident", "injury",

	// money and life struggles
	"money", "debt", "poverty", "homeless", "unemployment", "job loss",
	"eviction", "bankruptcy", "financial",
}

func extractImportantTopics(message string) []string {
	if message == "" {
		return nil
	}
	lower := strings.ToLower(message)
	var hits []string
	for _, topic := range importantTopics {
		if strings.Contains(lower, topic) {
			hits = append(hits, topic)
		}
	}
	return hits
}

// buildPrompt assembles the per-message prompt. The personality and typing
// rules live in the system prompt; this adds the situational blocks in a
// fixed order ending with the user's line and the style reminders.
func (g *Generator) buildPrompt(req Request) string {
	parts := make([]string, 0, 7)

	if req.WasCommand {
		parts = append(parts, commandStyleNote)
	}
	if req.ArgType != "" && g.chance() < argumentChance {
		parts = append(parts, fmt.Sprintf(argumentNoteFormat, req.ArgType))
	}
	if topics := extractImportantTopics(req.Query); len(topics) > 0 {
		parts = append(parts, fmt.Sprintf(sensitiveNoteFormat, strings.Join(topics, ", ")))
	}
	if req.Context != "" {
		parts = append(parts, "CONVERSATION CONTEXT:\n"+req.Context)
	}

	query := req.Query
	if req.WasCommand {
		query = strings.TrimPrefix(query, "/")
	}
	parts = append(parts, fmt.Sprintf("User (%s) just said: %q", req.Username, query))
	if req.WasCommand {
		parts = append(parts, failedCommandNote)
	}
	parts = append(parts, styleReminders)

	switch roll := g.chance(); {
	case roll < coherentChance:
		parts = append(parts, coherentNote)
	case roll > weirdThreshold:
		parts = append(parts, weirdNote)
	}

	return strings.Join(parts, "\n\n")
}
