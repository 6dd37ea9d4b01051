package profile

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/quiplabs/quip/internal/llm"
)

// Facts are sorted into coarse buckets by keyword so a new claim can
// supersede the old one in the same bucket ("You are 21 years old" must
// replace "You are 20 years old", never sit next to it). "other" never
// collides.
var factBuckets = []struct {
	name     string
	keywords []string
}{
	{"age", []string{"years old", "your age"}},
	{"location", []string{"you live in", "you are from", "you moved to", "you live at"}},
	{"preference", []string{"you like", "you love", "you hate", "you don't like", "you do not like", "you enjoy", "you prefer", "favorite", "you are a fan of"}},
	{"possession", []string{"you have", "you own", "you got", "you bought"}},
	{"relationship", []string{"your friend", "your mom", "your dad", "your mother", "your father", "your brother", "your sister", "your wife", "your husband", "your girlfriend", "your boyfriend", "your partner", "you are married", "you are dating"}},
}

func bucketOf(content string) string {
	lower := strings.ToLower(content)
	for _, b := range factBuckets {
		for _, kw := range b.keywords {
			if strings.Contains(lower, kw) {
				return b.name
			}
		}
	}
	return "other"
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// mergeFact folds one extracted fact into the profile. Duplicates and
// near-duplicates are discarded; a bucket collision replaces the old
// fact in place; anything else is appended.
func mergeFact(p *Profile, content, source string) bool {
	content = strings.TrimSpace(content)
	if content == "" {
		return false
	}
	lower := strings.ToLower(content)
	for _, f := range p.Facts {
		existing := strings.ToLower(f.Content)
		if existing == lower {
			return false
		}
		if strings.Contains(existing, lower) || strings.Contains(lower, existing) {
			return false
		}
	}
	if b := bucketOf(content); b != "other" {
		for i := range p.Facts {
			if bucketOf(p.Facts[i].Content) == b {
				p.Facts[i].Content = content
				p.Facts[i].ExtractedFrom = source
				p.Facts[i].UpdatedAt = nowStamp()
				return true
			}
		}
	}
	p.Facts = append(p.Facts, Fact{
		Content:       content,
		ExtractedFrom: source,
		Timestamp:     nowStamp(),
	})
	return true
}

var nonTopicChars = regexp.MustCompile(`[^a-z0-9\s]`)

// cleanTopics normalizes model-supplied topics and drops anything
// suspicious. Models occasionally hallucinate instructions or junk as
// topics, so the filter is aggressive.
func cleanTopics(topics []string) []string {
	var out []string
	for _, t := range topics {
		t = strings.TrimSpace(nonTopicChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(t)), ""))
		if len(t) >= 2 && len(t) <= 30 {
			out = append(out, t)
		}
	}
	return out
}

// Words that open a command-ish message. Extraction on these is wasted
// remote budget.
var skipExtractionTokens = map[string]bool{
	"chat": true, "code": true, "help": true, "summary": true, "profile": true, "stats": true,
}

const extractionSystemPrompt = `You extract durable personal facts from chat messages. Respond with strict JSON only.`

const extractionPrompt = `Extract definite personal facts about the user from this message, plus core topics they are interested in.

Fact rules:
- Second-person phrasing: "You are ...", "You have ...", "You like ...", "Your friend is ..."
- Only clear, durable claims. No opinions about other things, no temporary states, no guesses.
- Empty array when nothing qualifies.

Topic rules:
- Bare topic names, 1-3 words, never sentences.
- Only genuine interests. Empty array when none.

Respond with JSON: {"facts": ["..."], "topics": ["..."]}

Examples:
- "I am 21 years old and I hate math" -> {"facts": ["You are 21 years old", "You hate math"], "topics": []}
- "I love coffee so much" -> {"facts": ["You love coffee"], "topics": ["coffee"]}
- "my cat just died" -> {"facts": ["Your cat died"], "topics": []}
- "I'm really into deep learning lately" -> {"facts": ["You are interested in deep learning"], "topics": ["deep learning"]}
- "what's up" -> {"facts": [], "topics": []}

Message: %s`

// ExtractAndMerge asks the side model for facts in a message and merges
// them into the user's profile. Returns whether the profile changed. The
// remote call happens outside the user lock; the merge re-reads current
// state under it.
func (s *Store) ExtractAndMerge(ctx context.Context, userID, username, message string) (bool, error) {
	message = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(message), "/"))
	words := strings.Fields(message)
	if len(words) < 2 {
		return false, nil
	}
	if skipExtractionTokens[strings.ToLower(words[0])] {
		return false, nil
	}
	if s.client == nil {
		return false, nil
	}

	raw, err := s.client.Complete(ctx, extractionSystemPrompt, fmt.Sprintf(extractionPrompt, message))
	if err != nil {
		return false, fmt.Errorf("extract facts: %w", err)
	}
	var decoded struct {
		Facts  []string `json:"facts"`
		Topics []string `json:"topics"`
	}
	if err := llm.Decode(raw, &decoded); err != nil {
		log.Printf("[profile] unparsable extraction output: %v", err)
		return false, nil
	}
	if len(decoded.Facts) == 0 && len(decoded.Topics) == 0 {
		return false, nil
	}

	return s.update(userID, username, func(p *Profile) bool {
		changed := false
		for _, fact := range decoded.Facts {
			if mergeFact(p, fact, message) {
				changed = true
			}
		}
		for _, topic := range cleanTopics(decoded.Topics) {
			if !containsString(p.Topics, topic) {
				p.Topics = append(p.Topics, topic)
				changed = true
			}
		}
		return changed
	})
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

const correctionSystemPrompt = `You reconcile a user's correction against their stored facts. Respond with strict JSON only.`

const correctionPrompt = `The user is correcting stored information. Given their message and the numbered facts, decide which fact to change and how.

CURRENT FACTS:
%s

CORRECTION: %s

Respond with JSON:
{"action": "delete" or "update" or "none", "fact_index": <0-based index>, "new_fact": "<replacement when action is update>"}

If the correction could match several facts, pick the most relevant.
If it matches none or the intent is unclear, use "none".`

// HandleCorrection lets the side model map a correction message onto a
// stored fact and applies the decision. The fact list may change while
// the remote call is in flight, so the index is bounds-checked against
// current state before mutating. Returns whether a fact was changed.
func (s *Store) HandleCorrection(ctx context.Context, userID, username, correction string) (bool, error) {
	if s.client == nil {
		return false, nil
	}
	snapshot := s.Load(userID, username)
	if len(snapshot.Facts) == 0 {
		return false, nil
	}

	var list strings.Builder
	for i, f := range snapshot.Facts {
		fmt.Fprintf(&list, "%d. %s\n", i, f.Content)
	}

	raw, err := s.client.Complete(ctx, correctionSystemPrompt, fmt.Sprintf(correctionPrompt, list.String(), correction))
	if err != nil {
		return false, fmt.Errorf("resolve correction: %w", err)
	}
	var decoded struct {
		Action    string `json:"action"`
		FactIndex int    `json:"fact_index"`
		NewFact   string `json:"new_fact"`
	}
	if err := llm.Decode(raw, &decoded); err != nil {
		log.Printf("[profile] unparsable correction output: %v", err)
		return false, nil
	}

	return s.update(userID, username, func(p *Profile) bool {
		idx := decoded.FactIndex
		if idx < 0 || idx >= len(p.Facts) {
			return false
		}
		switch decoded.Action {
		case "delete":
			log.Printf("[profile] removing fact for %s: %s", sanitizeID(userID), p.Facts[idx].Content)
			p.Facts = append(p.Facts[:idx], p.Facts[idx+1:]...)
			return true
		case "update":
			if strings.TrimSpace(decoded.NewFact) == "" {
				return false
			}
			log.Printf("[profile] updating fact for %s: %q to %q", sanitizeID(userID), p.Facts[idx].Content, decoded.NewFact)
			p.Facts[idx].Content = strings.TrimSpace(decoded.NewFact)
			p.Facts[idx].UpdatedAt = nowStamp()
			return true
		default:
			return false
		}
	})
}
