package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultModel         = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens     = 1024
	DefaultTemperature   = 0.8
	DefaultMaxIterations = 2
	DefaultReplyTimeout  = 60
	DefaultHost          = "0.0.0.0"
	DefaultPort          = 8080
	DefaultBufSize       = 100

	DefaultSideModel        = "gpt-4o-mini"
	DefaultSideMaxTokens    = 1024
	DefaultSideTimeout      = 30
	DefaultSideMaxRetries   = 3
	DefaultSideConcurrency  = 4
	DefaultSideRequestsPerMin = 60
	DefaultIntentCacheSize  = 100

	DefaultChannelHistorySize     = 40
	DefaultMemoryLogSize          = 30
	DefaultDisplayContextSize     = 20
	DefaultFactsInContext         = 15
	DefaultMaxConversationHistory = 20
	DefaultContextCharBudget      = 8000
	DefaultChannelIdleTTL         = "6h"

	DefaultMaxGameAttempts = 10
	DefaultGameRange       = 100
	DefaultMaxGameRange    = 10000

	DefaultMaxReplyChars   = 1900
	DefaultReplyChunkChars = 1500
)

type Config struct {
	Agent     AgentConfig          `json:"agent"`
	Provider  ProviderConfig       `json:"provider"`
	SideModel SideModelConfig      `json:"sideModel"`
	Channels  ChannelsConfig       `json:"channels"`
	Gateway   GatewayConfig        `json:"gateway"`
	Memory    MemoryConfig         `json:"memory"`
	Game      GameConfig           `json:"game"`
	Limits    map[string]RateLimit `json:"limits,omitempty"`
}

// AgentConfig drives the persona responder.
type AgentConfig struct {
	Workspace      string  `json:"workspace"`
	Model          string  `json:"model"`
	MaxTokens      int     `json:"maxTokens"`
	Temperature    float64 `json:"temperature"`
	MaxIterations  int     `json:"maxIterations"`
	TimeoutSeconds int     `json:"timeoutSeconds"`
}

// Timeout bounds one reply generation.
func (c AgentConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return DefaultReplyTimeout * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type ProviderConfig struct {
	Type    string `json:"type,omitempty"` // "anthropic" (default) or "openai"
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
}

// SideModelConfig drives the small structured-output model used for intent
// classification and fact extraction. When APIKey is empty the provider key
// is reused.
type SideModelConfig struct {
	Model             string `json:"model"`
	APIKey            string `json:"apiKey,omitempty"`
	BaseURL           string `json:"baseUrl,omitempty"`
	MaxTokens         int    `json:"maxTokens"`
	TimeoutSeconds    int    `json:"timeoutSeconds"`
	MaxRetries        int    `json:"maxRetries"`
	MaxConcurrent     int    `json:"maxConcurrent"`
	RequestsPerMinute int    `json:"requestsPerMinute"`
	IntentCacheSize   int    `json:"intentCacheSize"`
}

func (c SideModelConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return DefaultSideTimeout * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	WhatsApp WhatsAppConfig `json:"whatsapp"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty"`
}

type WhatsAppConfig struct {
	Enabled   bool     `json:"enabled"`
	SessionDB string   `json:"sessionDb,omitempty"`
	AllowFrom []string `json:"allowFrom"`
}

// GatewayConfig covers the health endpoint; Port 0 disables it.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// MemoryConfig holds the conversation-window and profile caps.
type MemoryConfig struct {
	DataDir                string `json:"dataDir"`
	ChannelHistorySize     int    `json:"channelHistorySize"`
	MemoryLogSize          int    `json:"memoryLogSize"`
	DisplayContextSize     int    `json:"displayContextSize"`
	FactsInContext         int    `json:"factsInContext"`
	MaxConversationHistory int    `json:"maxConversationHistory"`
	ContextCharBudget      int    `json:"contextCharBudget"`
	ChannelIdleTTL         string `json:"channelIdleTtl,omitempty"`
}

func (c MemoryConfig) IdleTTL() time.Duration {
	if d, err := time.ParseDuration(c.ChannelIdleTTL); err == nil && d > 0 {
		return d
	}
	d, _ := time.ParseDuration(DefaultChannelIdleTTL)
	return d
}

// DataPath returns DataDir, falling back to <config dir>/data.
func (c MemoryConfig) DataPath() string {
	if dir := strings.TrimSpace(c.DataDir); dir != "" {
		return dir
	}
	return filepath.Join(ConfigDir(), "data")
}

type GameConfig struct {
	MaxAttempts  int `json:"maxAttempts"`
	DefaultRange int `json:"defaultRange"`
	MaxRange     int `json:"maxRange"`
}

// RateLimit caps how many times a user may trigger an action inside a
// sliding window.
type RateLimit struct {
	Count         int `json:"count"`
	WindowSeconds int `json:"windowSeconds"`
}

func (r RateLimit) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

func DefaultLimits() map[string]RateLimit {
	return map[string]RateLimit{
		"chat":    {Count: 50, WindowSeconds: 1800},
		"game":    {Count: 30, WindowSeconds: 1800},
		"info":    {Count: 5, WindowSeconds: 60},
		"forget":  {Count: 20, WindowSeconds: 3600},
		"mydata":  {Count: 10, WindowSeconds: 1800},
		"default": {Count: 30, WindowSeconds: 1800},
	}
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Agent: AgentConfig{
			Workspace:      filepath.Join(home, ".quip", "workspace"),
			Model:          DefaultModel,
			MaxTokens:      DefaultMaxTokens,
			Temperature:    DefaultTemperature,
			MaxIterations:  DefaultMaxIterations,
			TimeoutSeconds: DefaultReplyTimeout,
		},
		Provider: ProviderConfig{},
		SideModel: SideModelConfig{
			Model:             DefaultSideModel,
			MaxTokens:         DefaultSideMaxTokens,
			TimeoutSeconds:    DefaultSideTimeout,
			MaxRetries:        DefaultSideMaxRetries,
			MaxConcurrent:     DefaultSideConcurrency,
			RequestsPerMinute: DefaultSideRequestsPerMin,
			IntentCacheSize:   DefaultIntentCacheSize,
		},
		Channels: ChannelsConfig{},
		Gateway: GatewayConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Memory: MemoryConfig{
			DataDir:                filepath.Join(home, ".quip", "data"),
			ChannelHistorySize:     DefaultChannelHistorySize,
			MemoryLogSize:          DefaultMemoryLogSize,
			DisplayContextSize:     DefaultDisplayContextSize,
			FactsInContext:         DefaultFactsInContext,
			MaxConversationHistory: DefaultMaxConversationHistory,
			ContextCharBudget:      DefaultContextCharBudget,
			ChannelIdleTTL:         DefaultChannelIdleTTL,
		},
		Game: GameConfig{
			MaxAttempts:  DefaultMaxGameAttempts,
			DefaultRange: DefaultGameRange,
			MaxRange:     DefaultMaxGameRange,
		},
		Limits: DefaultLimits(),
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".quip")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if key := os.Getenv("QUIP_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_AUTH_TOKEN"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
		if cfg.Provider.Type == "" {
			cfg.Provider.Type = "openai"
		}
	}
	if url := os.Getenv("QUIP_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if url := os.Getenv("ANTHROPIC_BASE_URL"); url != "" && cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = url
	}
	if token := os.Getenv("QUIP_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if model := os.Getenv("QUIP_SIDE_MODEL"); model != "" {
		cfg.SideModel.Model = model
	}
	if key := os.Getenv("QUIP_SIDE_API_KEY"); key != "" {
		cfg.SideModel.APIKey = key
	}
	if url := os.Getenv("QUIP_SIDE_BASE_URL"); url != "" {
		cfg.SideModel.BaseURL = url
	}
	if dir := os.Getenv("QUIP_DATA_DIR"); dir != "" {
		cfg.Memory.DataDir = dir
	}
	if port := os.Getenv("QUIP_GATEWAY_PORT"); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil {
			cfg.Gateway.Port = parsed
		}
	}

	applyFallbacks(cfg)
	return cfg, nil
}

// applyFallbacks fills zero-valued knobs so a sparse config file still
// yields a working setup.
func applyFallbacks(cfg *Config) {
	def := DefaultConfig()
	if cfg.Agent.Workspace == "" {
		cfg.Agent.Workspace = def.Agent.Workspace
	}
	if cfg.Agent.MaxTokens <= 0 {
		cfg.Agent.MaxTokens = DefaultMaxTokens
	}
	if cfg.Agent.MaxIterations <= 0 {
		cfg.Agent.MaxIterations = DefaultMaxIterations
	}
	if cfg.SideModel.Model == "" {
		cfg.SideModel.Model = DefaultSideModel
	}
	if cfg.SideModel.APIKey == "" {
		cfg.SideModel.APIKey = cfg.Provider.APIKey
	}
	if cfg.SideModel.MaxTokens <= 0 {
		cfg.SideModel.MaxTokens = DefaultSideMaxTokens
	}
	if cfg.SideModel.MaxRetries <= 0 {
		cfg.SideModel.MaxRetries = DefaultSideMaxRetries
	}
	if cfg.SideModel.MaxConcurrent <= 0 {
		cfg.SideModel.MaxConcurrent = DefaultSideConcurrency
	}
	if cfg.SideModel.RequestsPerMinute <= 0 {
		cfg.SideModel.RequestsPerMinute = DefaultSideRequestsPerMin
	}
	if cfg.SideModel.IntentCacheSize <= 0 {
		cfg.SideModel.IntentCacheSize = DefaultIntentCacheSize
	}
	if cfg.Memory.DataDir == "" {
		cfg.Memory.DataDir = def.Memory.DataDir
	}
	if cfg.Memory.ChannelHistorySize <= 0 {
		cfg.Memory.ChannelHistorySize = DefaultChannelHistorySize
	}
	if cfg.Memory.MemoryLogSize <= 0 {
		cfg.Memory.MemoryLogSize = DefaultMemoryLogSize
	}
	if cfg.Memory.DisplayContextSize <= 0 {
		cfg.Memory.DisplayContextSize = DefaultDisplayContextSize
	}
	if cfg.Memory.FactsInContext <= 0 {
		cfg.Memory.FactsInContext = DefaultFactsInContext
	}
	if cfg.Memory.MaxConversationHistory <= 0 {
		cfg.Memory.MaxConversationHistory = DefaultMaxConversationHistory
	}
	if cfg.Memory.ContextCharBudget <= 0 {
		cfg.Memory.ContextCharBudget = DefaultContextCharBudget
	}
	if cfg.Game.MaxAttempts <= 0 {
		cfg.Game.MaxAttempts = DefaultMaxGameAttempts
	}
	if cfg.Game.DefaultRange <= 0 {
		cfg.Game.DefaultRange = DefaultGameRange
	}
	if cfg.Game.MaxRange <= 0 {
		cfg.Game.MaxRange = DefaultMaxGameRange
	}
	if len(cfg.Limits) == 0 {
		cfg.Limits = DefaultLimits()
	}
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
