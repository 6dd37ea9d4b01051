package gateway

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/quiplabs/quip/internal/bus"
	"github.com/quiplabs/quip/internal/channel"
	"github.com/quiplabs/quip/internal/config"
	"github.com/quiplabs/quip/internal/convo"
	"github.com/quiplabs/quip/internal/game"
	"github.com/quiplabs/quip/internal/intent"
	"github.com/quiplabs/quip/internal/llm"
	"github.com/quiplabs/quip/internal/persona"
	"github.com/quiplabs/quip/internal/profile"
	"github.com/quiplabs/quip/internal/ratelimit"
)

// sessionQueueSize bounds each per-session inbox. A full inbox applies
// backpressure to the dispatch loop instead of reordering messages.
const sessionQueueSize = 32

// Options for creating a Gateway
type Options struct {
	RuntimeFactory persona.RuntimeFactory
	SignalChan     chan os.Signal // for testing signal handling
}

type Gateway struct {
	cfg      *config.Config
	bus      *bus.MessageBus
	channels *channel.ChannelManager
	router   *Router
	gen      *persona.Generator
	memory   *convo.Memory
	limiter  *ratelimit.Limiter
	cron     *cron.Cron
	health   *http.Server
	started  time.Time

	signalChan chan os.Signal // for testing

	mu      sync.Mutex
	inboxes map[string]chan bus.InboundMessage
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{
		cfg:     cfg,
		inboxes: make(map[string]chan bus.InboundMessage),
		started: time.Now(),
	}

	// Message bus
	g.bus = bus.NewMessageBus(config.DefaultBufSize)

	// Create runtime using factory (allows injection for testing)
	sysPrompt := persona.SystemPrompt(cfg.Agent.Workspace)
	factory := opts.RuntimeFactory
	if factory == nil {
		factory = persona.DefaultRuntimeFactory
	}
	rt, err := factory(cfg, sysPrompt)
	if err != nil {
		return nil, err
	}
	g.gen = persona.NewGenerator(rt)

	// Side model client shared by intent classification and fact extraction
	side := llm.Throttled(
		llm.NewClient(cfg.SideModel),
		llm.NewThrottler(cfg.SideModel.MaxConcurrent, cfg.SideModel.RequestsPerMinute),
		cfg.SideModel.MaxRetries,
	)

	profiles := profile.NewStore(filepath.Join(cfg.Memory.DataPath(), "users"), cfg.Memory.MaxConversationHistory, side)

	g.memory = convo.NewMemory(cfg.Memory.ChannelHistorySize, cfg.Memory.MemoryLogSize, persona.Name)

	limits := cfg.Limits
	if len(limits) == 0 {
		limits = config.DefaultLimits()
	}
	g.limiter = ratelimit.NewLimiter(limits)

	g.router = &Router{
		Profiles:     profiles,
		Memory:       g.memory,
		Builder:      convo.NewBuilder(cfg.Memory.ContextCharBudget, cfg.Memory.DisplayContextSize, cfg.Memory.FactsInContext),
		Games:        game.NewManager(cfg.Game.MaxAttempts, cfg.Game.MaxRange),
		Intents:      intent.NewClassifier(side, cfg.SideModel.IntentCacheSize),
		Responder:    g.gen,
		Limiter:      g.limiter,
		DefaultRange: cfg.Game.DefaultRange,
		ReplyTimeout: cfg.Agent.Timeout(),
	}

	// Signal channel for testing
	g.signalChan = opts.SignalChan

	chMgr, err := channel.NewChannelManager(cfg.Channels, g.bus)
	if err != nil {
		g.gen.Close()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	return g, nil
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	g.startMaintenance()
	g.startHealth()

	go g.processLoop(ctx)

	log.Printf("[gateway] running on %s:%d", g.cfg.Gateway.Host, g.cfg.Gateway.Port)

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	<-sigCh

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			log.Printf("[gateway] inbound from %s/%s: %s", msg.Channel, msg.SenderID, truncate(msg.Content, 80))
			select {
			case g.sessionInbox(ctx, msg.SessionKey()) <- msg:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// sessionInbox returns the work queue for one session, starting its worker
// on first use. One worker per session keeps replies in arrival order while
// separate channels proceed independently.
func (g *Gateway) sessionInbox(ctx context.Context, key string) chan bus.InboundMessage {
	g.mu.Lock()
	defer g.mu.Unlock()

	inbox, ok := g.inboxes[key]
	if !ok {
		inbox = make(chan bus.InboundMessage, sessionQueueSize)
		g.inboxes[key] = inbox
		go g.sessionWorker(ctx, inbox)
	}
	return inbox
}

func (g *Gateway) sessionWorker(ctx context.Context, inbox chan bus.InboundMessage) {
	for {
		select {
		case msg := <-inbox:
			if out := g.router.Handle(ctx, &msg); out != nil {
				g.bus.Outbound <- *out
			}
		case <-ctx.Done():
			return
		}
	}
}

// startMaintenance schedules the hourly rate-limit sweep and the idle
// channel-history eviction.
func (g *Gateway) startMaintenance() {
	g.cron = cron.New()
	if _, err := g.cron.AddFunc("@every 1h", func() {
		if n := g.limiter.Sweep(); n > 0 {
			log.Printf("[gateway] swept %d stale rate-limit entries", n)
		}
	}); err != nil {
		log.Printf("[gateway] maintenance schedule warning: %v", err)
	}
	ttl := g.cfg.Memory.IdleTTL()
	if _, err := g.cron.AddFunc("@every 10m", func() {
		g.memory.EvictIdle(ttl)
	}); err != nil {
		log.Printf("[gateway] eviction schedule warning: %v", err)
	}
	g.cron.Start()
}

// startHealth serves the liveness endpoint; Port 0 disables it.
func (g *Gateway) startHealth() {
	if g.cfg.Gateway.Port <= 0 {
		return
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", g.handleHealthz)
	g.health = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", g.cfg.Gateway.Host, g.cfg.Gateway.Port),
		Handler: mux,
	}
	go func() {
		if err := g.health.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[gateway] health server: %v", err)
		}
	}()
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","channels":%d,"uptime":%q}`,
		g.memory.Channels(), time.Since(g.started).Round(time.Second).String())
}

func (g *Gateway) Shutdown() error {
	if g.cron != nil {
		g.cron.Stop()
	}
	if g.health != nil {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := g.health.Shutdown(shutCtx); err != nil {
			log.Printf("[gateway] health server shutdown warning: %v", err)
		}
		cancel()
	}
	_ = g.channels.StopAll()
	if g.gen != nil {
		g.gen.Close()
	}
	log.Printf("[gateway] shutdown complete")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
