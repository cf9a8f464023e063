package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentcore/internal/config"
	"github.com/nextlevelbuilder/agentcore/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("goclaw doctor")
	fmt.Printf("  Version:  %s (protocol %s)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, defaults apply)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Engines:")
	checkEngine("Live", cfg.Engines.Live)
	checkEngine("Worker", cfg.Engines.Worker)
	checkEngine("Cloud", cfg.Engines.Cloud)

	fmt.Println()
	fmt.Println("  Providers:")
	checkProvider("Anthropic", cfg.Providers.Anthropic.APIKey)
	checkProvider("OpenAI", cfg.Providers.OpenAI.APIKey)
	checkProvider("OpenRouter", cfg.Providers.OpenRouter.APIKey)
	checkProvider("Gemini", cfg.Providers.Gemini.APIKey)
	checkProvider("Groq", cfg.Providers.Groq.APIKey)
	checkProvider("DeepSeek", cfg.Providers.DeepSeek.APIKey)
	checkProvider("Mistral", cfg.Providers.Mistral.APIKey)
	checkProvider("XAI", cfg.Providers.XAI.APIKey)

	fmt.Println()
	fmt.Println("  Channels:")
	checkChannel("Telegram", cfg.Channels.Telegram.Enabled, cfg.Channels.Telegram.Token != "")
	checkChannel("Discord", cfg.Channels.Discord.Enabled, cfg.Channels.Discord.Token != "")
	checkChannel("Zalo", cfg.Channels.Zalo.Enabled, cfg.Channels.Zalo.Token != "")
	checkChannel("Feishu", cfg.Channels.Feishu.Enabled, cfg.Channels.Feishu.AppID != "")

	fmt.Println()
	fmt.Println("  External tools:")
	checkBinary("docker")
	checkBinary("curl")
	checkBinary("git")

	fmt.Println()
	ws := config.ExpandHome(cfg.Agents.Defaults.Workspace)
	fmt.Printf("  Workspace: %s", ws)
	if _, err := os.Stat(ws); err != nil {
		fmt.Println(" (NOT FOUND — created on next start)")
	} else {
		fmt.Println(" (OK)")
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkEngine(label string, spec config.EngineSpec) {
	status := "disabled"
	if spec.Enabled {
		status = spec.Provider + "/" + spec.Model
	}
	fmt.Printf("    %-8s %s\n", label+":", status)
}

func checkProvider(name, apiKey string) {
	if apiKey == "" {
		fmt.Printf("    %-12s (not configured)\n", name+":")
		return
	}
	masked := apiKey
	if len(apiKey) > 8 {
		masked = apiKey[:4] + strings.Repeat("*", len(apiKey)-8) + apiKey[len(apiKey)-4:]
	}
	fmt.Printf("    %-12s %s\n", name+":", masked)
}

func checkChannel(name string, enabled, hasCredentials bool) {
	status := "disabled"
	switch {
	case enabled && hasCredentials:
		status = "enabled"
	case enabled:
		status = "enabled (missing credentials)"
	}
	fmt.Printf("    %-12s %s\n", name+":", status)
}

func checkBinary(name string) {
	path, err := exec.LookPath(name)
	if err != nil {
		fmt.Printf("    %-8s NOT FOUND\n", name+":")
	} else {
		fmt.Printf("    %-8s %s\n", name+":", path)
	}
}
