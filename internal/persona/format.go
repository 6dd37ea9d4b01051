package persona

import (
	"regexp"
	"strings"
	"unicode"
)

const maxReplySentences = 5

var (
	speakerPrefixRe = regexp.MustCompile(`^(You:|Your response as ` + Name + `:|` + Name + `:)\s*`)
	blankLinesRe    = regexp.MustCompile(`\n\s*\n`)
	sentenceWrapRe  = regexp.MustCompile(`([.!?])\s*\n`)
	multiSpaceRe    = regexp.MustCompile(` +`)
)

// formatResponse normalizes raw model output into one chat-shaped paragraph:
// speaker prefixes stripped, newlines between sentences folded into spaces, at
// most five sentences, at most one emoji.
func (g *Generator) formatResponse(raw string) string {
	reply := strings.TrimSpace(raw)
	if reply == "" {
		return "..."
	}

	reply = speakerPrefixRe.ReplaceAllString(reply, "")
	reply = blankLinesRe.ReplaceAllString(reply, "\n")
	reply = sentenceWrapRe.ReplaceAllString(reply, "$1 ")
	reply = multiSpaceRe.ReplaceAllString(reply, " ")

	if sentences := SplitSentences(reply); len(sentences) > maxReplySentences {
		reply = strings.Join(sentences[:maxReplySentences], " ")
	}

	return g.thinEmojis(reply)
}

// SplitSentences cuts text at whitespace runs that follow sentence-ending
// punctuation. The punctuation stays with the sentence before the cut.
// Channel adapters use it to chunk long replies at natural boundaries.
func SplitSentences(s string) []string {
	var out []string
	runes := []rune(s)
	start := 0
	i := 0
	for i < len(runes) {
		if runes[i] != '.' && runes[i] != '!' && runes[i] != '?' {
			i++
			continue
		}
		for i < len(runes) && (runes[i] == '.' || runes[i] == '!' || runes[i] == '?') {
			i++
		}
		if i < len(runes) && unicode.IsSpace(runes[i]) {
			out = append(out, string(runes[start:i]))
			for i < len(runes) && unicode.IsSpace(runes[i]) {
				i++
			}
			start = i
		}
	}
	if start < len(runes) {
		out = append(out, string(runes[start:]))
	}
	return out
}

func isEmojiRune(r rune) bool {
	switch {
	case r >= 0x1F300 && r <= 0x1F64F: // pictographs, emoticons
		return true
	case r >= 0x1F680 && r <= 0x1FAFF: // transport through extended symbols
		return true
	case r >= 0x2600 && r <= 0x27BF: // misc symbols, dingbats
		return true
	case r == 0x2B50 || r == 0x2B55:
		return true
	case r == 0xFE0F || r == 0x200D: // variation selector, joiner
		return true
	}
	return false
}

// emojiRuns returns maximal consecutive runs of emoji runes in order.
func emojiRuns(s string) []string {
	var runs []string
	var current []rune
	for _, r := range s {
		if isEmojiRune(r) {
			current = append(current, r)
			continue
		}
		if len(current) > 0 {
			runs = append(runs, string(current))
			current = current[:0]
		}
	}
	if len(current) > 0 {
		runs = append(runs, string(current))
	}
	return runs
}

// thinEmojis keeps one emoji run when the reply carries several and removes
// the rest, first occurrence each.
func (g *Generator) thinEmojis(s string) string {
	runs := emojiRuns(s)
	if len(runs) <= 1 {
		return s
	}
	keep := g.pick(len(runs))
	for i, run := range runs {
		if i == keep {
			continue
		}
		s = strings.Replace(s, run, "", 1)
	}
	return strings.TrimSpace(multiSpaceRe.ReplaceAllString(s, " "))
}
