package intent

import "strings"

// Kind is the classified purpose of a user message.
type Kind int

const (
	None Kind = iota
	Command
	GameGuess
	GameStart
	GameEnd
	Forget
	Correction
	UserInfoRequest
	Argumentative
)

func (k Kind) String() string {
	switch k {
	case Command:
		return "command"
	case GameGuess:
		return "game_guess"
	case GameStart:
		return "game_start"
	case GameEnd:
		return "game_end"
	case Forget:
		return "forget"
	case Correction:
		return "correction"
	case UserInfoRequest:
		return "user_info"
	case Argumentative:
		return "argumentative"
	default:
		return "none"
	}
}

// Intent is a classified message with the payload fields for its kind.
// Only the fields belonging to Kind are meaningful.
type Intent struct {
	Kind     Kind
	Name     string   // Command: name after the prefix
	Args     []string // Command: whitespace-split arguments
	Guess    int      // GameGuess: extracted value
	MaxRange int      // GameStart: requested upper bound, 0 when unspecified
	Target   string   // Forget: what to remove, empty means everything
	ArgType  string   // Argumentative: insult, disagreement, criticism, challenge, general
}

// ParseCommand splits a slash-prefixed message into a Command intent.
// Double-slash messages are not commands ("//shrug" is chat).
func ParseCommand(text string) (Intent, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") || strings.HasPrefix(trimmed, "//") {
		return Intent{}, false
	}
	fields := strings.Fields(trimmed[1:])
	if len(fields) == 0 {
		return Intent{}, false
	}
	return Intent{Kind: Command, Name: fields[0], Args: fields[1:]}, true
}
