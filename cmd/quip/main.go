package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quiplabs/quip/internal/config"
	"github.com/quiplabs/quip/internal/gateway"
	"github.com/quiplabs/quip/internal/persona"
)

// ChatOptions for running the local chat loop with custom dependencies
type ChatOptions struct {
	RuntimeFactory persona.RuntimeFactory
	Stdin          io.Reader
	Stdout         io.Writer
	Stderr         io.Writer
}

var rootCmd = &cobra.Command{
	Use:   "quip",
	Short: "quip - group chat gremlin",
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to quip in single message or REPL mode",
	RunE:  runChat,
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the full gateway (channels + maintenance)",
	RunE:  runGateway,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and workspace",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show quip status",
	RunE:  runStatus,
}

var messageFlag string

func init() {
	chatCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Single message to send")
	rootCmd.AddCommand(chatCmd, gatewayCmd, onboardCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runChat is the command handler that uses default options
func runChat(cmd *cobra.Command, args []string) error {
	return runChatWithOptions(ChatOptions{})
}

// runChatWithOptions runs the chat loop with injectable dependencies for testing
func runChatWithOptions(opts ChatOptions) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Use injected factory or default
	factory := opts.RuntimeFactory
	if factory == nil {
		factory = persona.DefaultRuntimeFactory
	}

	rt, err := factory(cfg, persona.SystemPrompt(cfg.Agent.Workspace))
	if err != nil {
		return err
	}

	gen := persona.NewGenerator(rt)
	defer gen.Close()

	// Use injected IO or defaults
	stdin := opts.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	ctx := context.Background()
	username := cliUsername()

	// Single message mode
	if messageFlag != "" {
		reply, err := gen.Reply(ctx, persona.Request{
			Query:      messageFlag,
			Username:   username,
			SessionKey: "cli",
		})
		if err != nil {
			return fmt.Errorf("chat error: %w", err)
		}
		fmt.Fprintln(stdout, reply)
		return nil
	}

	// REPL mode
	fmt.Fprintln(stdout, "quip chat (type 'exit' to quit)")
	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprint(stdout, "\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		reply, err := gen.Reply(ctx, persona.Request{
			Query:      input,
			Username:   username,
			SessionKey: "cli-repl",
		})
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			continue
		}
		fmt.Fprintln(stdout, reply)
	}
	return nil
}

// cliUsername names the local user in prompts the same way channel
// messages carry a sender name.
func cliUsername() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "you"
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Provider.APIKey == "" {
		return fmt.Errorf("API key not set. Run 'quip onboard' or set QUIP_API_KEY / ANTHROPIC_API_KEY")
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		data, _ := json.MarshalIndent(cfg, "", "  ")
		if err := os.WriteFile(cfgPath, data, 0644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	cfg, _ := config.LoadConfig()
	ws := cfg.Agent.Workspace
	if err := os.MkdirAll(ws, 0755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(cfg.Memory.DataPath(), "users"), 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// Empty placeholder; non-empty content replaces the built-in persona.
	writeIfNotExists(filepath.Join(ws, "PERSONA.md"), "")

	fmt.Printf("Workspace ready: %s\n", ws)
	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to set your API key\n", cfgPath)
	fmt.Println("  2. Or set QUIP_API_KEY environment variable")
	fmt.Println("  3. Run 'quip chat -m \"yo\"' to hear the voice")
	fmt.Println("  4. Put a Telegram token in channels.telegram and run 'quip gateway'")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Workspace: %s\n", cfg.Agent.Workspace)
	fmt.Printf("Model: %s\n", cfg.Agent.Model)
	fmt.Printf("Side model: %s\n", cfg.SideModel.Model)
	fmt.Printf("Provider: %s\n", providerDisplay(cfg.Provider.Type))
	if cfg.Provider.APIKey != "" && len(cfg.Provider.APIKey) > 8 {
		masked := cfg.Provider.APIKey[:4] + "..." + cfg.Provider.APIKey[len(cfg.Provider.APIKey)-4:]
		fmt.Printf("API Key: %s\n", masked)
	} else if cfg.Provider.APIKey != "" {
		fmt.Println("API Key: set")
	} else {
		fmt.Println("API Key: not set")
	}
	fmt.Printf("Telegram: enabled=%v\n", cfg.Channels.Telegram.Enabled)
	fmt.Printf("WhatsApp: enabled=%v\n", cfg.Channels.WhatsApp.Enabled)

	if _, err := os.Stat(cfg.Agent.Workspace); err != nil {
		fmt.Println("Workspace: not found (run 'quip onboard')")
	} else {
		fmt.Printf("Profiles: %s\n", profileSummary(cfg.Memory.DataPath()))
	}

	return nil
}

func providerDisplay(t string) string {
	if t == "" {
		return "anthropic (default)"
	}
	return t
}

// profileSummary reports how many user profiles live under the data dir.
func profileSummary(dataDir string) string {
	entries, err := os.ReadDir(filepath.Join(dataDir, "users"))
	if err != nil {
		return "none yet"
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			n++
		}
	}
	if n == 0 {
		return "none yet"
	}
	return fmt.Sprintf("%d users known", n)
}

func writeIfNotExists(path, content string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		_ = os.WriteFile(path, []byte(content), 0644)
		fmt.Printf("  Created: %s\n", path)
	}
}
