package persona

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/cexll/agentsdk-go/pkg/api"
	"github.com/cexll/agentsdk-go/pkg/model"
	"github.com/quiplabs/quip/internal/config"
	"github.com/quiplabs/quip/internal/llm"
)

// Name is how the bot refers to itself in prompts and transcripts.
const Name = "Quip"

// Runtime interface for the agent runtime (allows mocking in tests)
type Runtime interface {
	Run(ctx context.Context, req api.Request) (*api.Response, error)
	Close()
}

// runtimeAdapter wraps api.Runtime to implement Runtime interface
type runtimeAdapter struct {
	rt *api.Runtime
}

func (r *runtimeAdapter) Run(ctx context.Context, req api.Request) (*api.Response, error) {
	return r.rt.Run(ctx, req)
}

func (r *runtimeAdapter) Close() {
	r.rt.Close()
}

// RuntimeFactory creates a Runtime instance
type RuntimeFactory func(cfg *config.Config, sysPrompt string) (Runtime, error)

// DefaultRuntimeFactory creates the default agentsdk-go runtime
func DefaultRuntimeFactory(cfg *config.Config, sysPrompt string) (Runtime, error) {
	if cfg.Provider.APIKey == "" {
		return nil, fmt.Errorf("API key not set. Run 'quip onboard' or set QUIP_API_KEY / ANTHROPIC_API_KEY")
	}

	var provider api.ModelFactory
	switch cfg.Provider.Type {
	case "openai":
		provider = &model.OpenAIProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
		}
	default: // "anthropic" or empty
		provider = &model.AnthropicProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
		}
	}

	rt, err := api.New(context.Background(), api.Options{
		ProjectRoot:   cfg.Agent.Workspace,
		ModelFactory:  provider,
		SystemPrompt:  sysPrompt,
		MaxIterations: cfg.Agent.MaxIterations,
	})
	if err != nil {
		return nil, fmt.Errorf("create runtime: %w", err)
	}
	return &runtimeAdapter{rt: rt}, nil
}

// SystemPrompt composes the runtime system prompt. A PERSONA.md in the
// workspace replaces the built-in personality; the typing-style rules are
// always appended so overrides keep the same voice mechanics.
func SystemPrompt(workspace string) string {
	persona := defaultPersona
	if data, err := os.ReadFile(filepath.Join(workspace, "PERSONA.md")); err == nil && len(bytes.TrimSpace(data)) > 0 {
		persona = string(bytes.TrimSpace(data))
	}
	return persona + "\n\n" + styleInstructions
}

// Request carries everything needed to produce one persona reply.
type Request struct {
	Query      string
	Context    string // assembled conversation context, may be empty
	Username   string
	SessionKey string
	WasCommand bool   // query arrived as an unrecognized slash command
	ArgType    string // argument class from intent detection, empty when none
}

// Generator turns routed messages into in-character replies.
type Generator struct {
	rt     Runtime
	chance func() float64  // prompt mood rolls
	pick   func(n int) int // fallback and emoji selection
}

func NewGenerator(rt Runtime) *Generator {
	return &Generator{
		rt:     rt,
		chance: rand.Float64,
		pick:   rand.IntN,
	}
}

// Reply builds the prompt for one message and runs it through the model.
// The caller turns errors into Fallback text; a nil result formats to "...".
func (g *Generator) Reply(ctx context.Context, req Request) (string, error) {
	resp, err := g.rt.Run(ctx, api.Request{
		Prompt:    g.buildPrompt(req),
		SessionID: req.SessionKey,
	})
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}
	output := ""
	if resp != nil && resp.Result != nil {
		output = resp.Result.Output
	}
	return g.formatResponse(output), nil
}

var rateLimitedReplies = []string{
	"yo chill, im getting rate limited rn 😤 gimme a min",
	"bro the api said slow down... try again in a sec",
	"damn they got me on cooldown, hit me up in a bit",
}

const errorReply = "ahh shit, my brain short-circuited for a sec. wanna try again?"

// Fallback returns an in-character reply for a failed generation. Throttling
// gets its own rotating flavor so users know to wait rather than retry.
func (g *Generator) Fallback(err error) string {
	if llm.IsRateLimited(err) {
		return rateLimitedReplies[g.pick(len(rateLimitedReplies))]
	}
	return errorReply
}

func (g *Generator) Close() {
	if g.rt != nil {
		g.rt.Close()
	}
}
