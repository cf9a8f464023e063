package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentcore/internal/config"
)

func modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the provider/model configured for each Cognitive Router tier",
		Run: func(cmd *cobra.Command, args []string) {
			runModels()
		},
	}
}

func runModels() {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Printf("config load failed: %s\n", err)
		os.Exit(1)
	}

	printTier := func(name string, spec config.EngineSpec) {
		if !spec.Enabled {
			fmt.Printf("  %-8s disabled\n", name+":")
			return
		}
		hasKey := providerHasKey(cfg, spec.Provider)
		status := ""
		if !hasKey {
			status = "  (no API key configured)"
		}
		fmt.Printf("  %-8s %s / %s%s\n", name+":", spec.Provider, spec.Model, status)
	}

	fmt.Println("Engine tiers:")
	printTier("Live", cfg.Engines.Live)
	printTier("Worker", cfg.Engines.Worker)
	printTier("Cloud", cfg.Engines.Cloud)
	fmt.Println()
	fmt.Printf("Default engine: %s\n", cfg.DefaultEngine)
}

func providerHasKey(cfg *config.Config, provider string) bool {
	switch provider {
	case "anthropic":
		return cfg.Providers.Anthropic.APIKey != ""
	case "openai":
		return cfg.Providers.OpenAI.APIKey != ""
	case "openrouter":
		return cfg.Providers.OpenRouter.APIKey != ""
	case "groq":
		return cfg.Providers.Groq.APIKey != ""
	case "gemini":
		return cfg.Providers.Gemini.APIKey != ""
	case "deepseek":
		return cfg.Providers.DeepSeek.APIKey != ""
	case "mistral":
		return cfg.Providers.Mistral.APIKey != ""
	case "xai":
		return cfg.Providers.XAI.APIKey != ""
	case "minimax":
		return cfg.Providers.MiniMax.APIKey != ""
	case "cohere":
		return cfg.Providers.Cohere.APIKey != ""
	case "perplexity":
		return cfg.Providers.Perplexity.APIKey != ""
	default:
		return false
	}
}
