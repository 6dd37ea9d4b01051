package convo

import (
	"fmt"
	"strings"

	"github.com/quiplabs/quip/internal/profile"
)

const (
	// Tail lines of each ring that survive ordinary budget trimming.
	// Losing the newest exchanges visibly breaks topic continuity, so
	// they only give way in the desperate pass.
	recentProtected = 6
	logProtected    = 4

	// A message this short is treated as an elliptical follow-up to the
	// bot's own last line ("why tho", "which one").
	shortFollowupTokens = 5
)

const (
	classRecent = iota
	classLog
	classFacts
	classTopics
	classNote
)

type ctxLine struct {
	text      string
	class     int
	header    bool
	protected bool
}

// Builder assembles the bounded context blob handed to the response
// generator. Section order is fixed: recent channel lines, exchange
// log, stored facts, interest topics, then the follow-up note. Output
// never exceeds the character budget; trimming eats the oldest end of
// each section first.
type Builder struct {
	charBudget  int
	displaySize int
	factCount   int
}

func NewBuilder(charBudget, displaySize, factCount int) *Builder {
	return &Builder{
		charBudget:  charBudget,
		displaySize: displaySize,
		factCount:   factCount,
	}
}

// Build renders the context for one pending reply. newMessage is the
// inbound text being replied to; it only steers the follow-up note and
// is not itself part of the output.
func (b *Builder) Build(recent []Message, memoryLog []string, prof *profile.Profile, newMessage string) string {
	var lines []ctxLine

	visible := recent
	if b.displaySize > 0 && len(visible) > b.displaySize {
		visible = visible[len(visible)-b.displaySize:]
	}
	if len(visible) > 0 {
		lines = append(lines, ctxLine{text: "RECENT CHANNEL MESSAGES (IN ORDER):", class: classRecent, header: true})
		for i, msg := range visible {
			tag := "USER"
			if msg.IsBot {
				tag = "BOT"
			}
			lines = append(lines, ctxLine{
				text:      fmt.Sprintf("%s (%s): %q", tag, msg.AuthorName, msg.Content),
				class:     classRecent,
				protected: i >= len(visible)-recentProtected,
			})
		}
	}

	if len(memoryLog) > 0 {
		lines = append(lines, ctxLine{text: "\nCONVERSATION HISTORY:", class: classLog, header: true})
		for i, entry := range memoryLog {
			lines = append(lines, ctxLine{
				text:      entry,
				class:     classLog,
				protected: i >= len(memoryLog)-logProtected,
			})
		}
	}

	if prof != nil {
		facts := prof.RecentFacts(b.factCount)
		if len(facts) > 0 {
			lines = append(lines, ctxLine{text: "\nFACTS ABOUT THIS USER:", class: classFacts, header: true})
			for _, f := range facts {
				if f.Content != "" {
					lines = append(lines, ctxLine{text: "- " + f.Content, class: classFacts})
				}
			}
		}
		if len(prof.Topics) > 0 {
			lines = append(lines, ctxLine{
				text:  "\nUSER INTERESTS: " + strings.Join(prof.Topics, ", "),
				class: classTopics,
			})
		}
	}

	if lastBot, lastUser, ok := lastExchange(memoryLog); ok && countTokens(newMessage) <= shortFollowupTokens {
		lines = append(lines,
			ctxLine{text: "\nNOTE: the new message is a short follow-up to your own last message, not a new topic.", class: classNote, protected: true},
			ctxLine{text: fmt.Sprintf("Your last message: %q", lastBot), class: classNote, protected: true},
			ctxLine{text: fmt.Sprintf("Their last message: %q", lastUser), class: classNote, protected: true},
		)
	}

	return b.enforceBudget(lines)
}

func countTokens(s string) int {
	return len(strings.Fields(s))
}

// lastExchange pulls the newest bot line and the user line paired with
// it out of the memory log.
func lastExchange(memoryLog []string) (bot, user string, ok bool) {
	for i := len(memoryLog) - 1; i >= 0; i-- {
		line := memoryLog[i]
		if bot == "" && strings.HasPrefix(line, "BOT ") {
			bot = taggedContent(line)
			continue
		}
		if bot != "" && strings.HasPrefix(line, "USER ") {
			return bot, taggedContent(line), true
		}
	}
	if bot != "" {
		return bot, "", true
	}
	return "", "", false
}

func taggedContent(line string) string {
	if _, rest, found := strings.Cut(line, "): "); found {
		return rest
	}
	return line
}

func joinedLen(lines []ctxLine) int {
	if len(lines) == 0 {
		return 0
	}
	total := len(lines) - 1
	for _, l := range lines {
		total += len(l.text)
	}
	return total
}

func render(lines []ctxLine) string {
	parts := make([]string, len(lines))
	for i, l := range lines {
		parts[i] = l.text
	}
	return strings.Join(parts, "\n")
}

func dropAt(lines []ctxLine, idx int) []ctxLine {
	return append(lines[:idx], lines[idx+1:]...)
}

// enforceBudget trims lines until the rendered output fits. Ordinary
// trimming drops unprotected lines oldest-first per section; a desperate
// pass then gives up tail protection except for the newest exchange and
// the note; a final cut slices the front of the rendered string.
func (b *Builder) enforceBudget(lines []ctxLine) string {
	if b.charBudget <= 0 || joinedLen(lines) <= b.charBudget {
		return render(lines)
	}

	for _, class := range []int{classRecent, classLog, classFacts, classTopics} {
		for joinedLen(lines) > b.charBudget {
			idx := -1
			for i, l := range lines {
				if l.class == class && !l.header && !l.protected {
					idx = i
					break
				}
			}
			if idx < 0 {
				break
			}
			lines = dropAt(lines, idx)
		}
		lines = dropEmptyHeaders(lines)
	}

	for _, class := range []int{classRecent, classLog} {
		keepTail := 1
		if class == classLog {
			keepTail = 2
		}
		for joinedLen(lines) > b.charBudget {
			idx, remaining := -1, 0
			for i, l := range lines {
				if l.class == class && !l.header {
					if idx < 0 {
						idx = i
					}
					remaining++
				}
			}
			if idx < 0 || remaining <= keepTail {
				break
			}
			lines = dropAt(lines, idx)
		}
		lines = dropEmptyHeaders(lines)
	}

	out := render(lines)
	if len(out) > b.charBudget {
		out = out[len(out)-b.charBudget:]
		if i := strings.IndexByte(out, '\n'); i >= 0 && i+1 < len(out) {
			out = out[i+1:]
		}
	}
	return out
}

func dropEmptyHeaders(lines []ctxLine) []ctxLine {
	counts := make(map[int]int)
	for _, l := range lines {
		if !l.header {
			counts[l.class]++
		}
	}
	kept := lines[:0]
	for _, l := range lines {
		if l.header && counts[l.class] == 0 {
			continue
		}
		kept = append(kept, l)
	}
	return kept
}
