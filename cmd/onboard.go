package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentcore/internal/config"
)

// providerEnvKeys maps a provider name to the env var onboarding checks
// for an API key, in priority order (first match wins).
var providerEnvKeys = []struct {
	name   string
	envKey string
	model  string
}{
	{"anthropic", "GOCLAW_ANTHROPIC_API_KEY", "claude-sonnet-4-5-20250929"},
	{"openrouter", "GOCLAW_OPENROUTER_API_KEY", "anthropic/claude-sonnet-4.5"},
	{"openai", "GOCLAW_OPENAI_API_KEY", "gpt-4o"},
	{"deepseek", "GOCLAW_DEEPSEEK_API_KEY", "deepseek-chat"},
	{"gemini", "GOCLAW_GEMINI_API_KEY", "gemini-2.0-flash"},
}

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Generate an initial config.json from environment variables",
		Run: func(cmd *cobra.Command, args []string) {
			runOnboard()
		},
	}
}

func runOnboard() {
	cfgPath := resolveConfigPath()
	if _, err := os.Stat(cfgPath); err == nil {
		fmt.Printf("Config already exists at %s, leaving it in place.\n", cfgPath)
		fmt.Println("Edit it directly, or remove it and re-run onboard.")
		return
	}

	cfg := config.Default()
	cfg.ApplyEnvOverrides()

	provider, model := detectOnboardProvider()
	if provider == "" {
		fmt.Println("No provider API key found in the environment (e.g. GOCLAW_ANTHROPIC_API_KEY).")
		fmt.Println("Writing default config anyway; set a provider key and edit config.json before starting.")
	} else {
		cfg.Agents.Defaults.Provider = provider
		cfg.Agents.Defaults.Model = model
		cfg.Engines.Live.Provider = provider
		cfg.Engines.Live.Model = model
		cfg.Engines.Live.Enabled = true
		cfg.DefaultEngine = "live"
		fmt.Printf("Detected provider %q, using model %q for the Live engine.\n", provider, model)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		fmt.Printf("onboard: failed to marshal config: %s\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(cfgPath, data, 0o600); err != nil {
		fmt.Printf("onboard: failed to write %s: %s\n", cfgPath, err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s\n", cfgPath)
	fmt.Println("Run `goclaw doctor` to verify, then `goclaw` to start the daemon.")
}

func detectOnboardProvider() (provider, model string) {
	for _, pi := range providerEnvKeys {
		if os.Getenv(pi.envKey) != "" {
			return pi.name, pi.model
		}
	}
	return "", ""
}
