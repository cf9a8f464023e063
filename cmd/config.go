package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentcore/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the resolved daemon configuration",
	}
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configPathCmd())
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved config (file + env overrides) as JSON",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				fmt.Printf("config load failed: %s\n", err)
				os.Exit(1)
			}
			redactSecrets(cfg)
			data, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				fmt.Printf("marshal failed: %s\n", err)
				os.Exit(1)
			}
			fmt.Println(string(data))
		},
	}
}

func configPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path that would be used",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	}
}

// redactSecrets blanks out API keys and tokens before printing, so
// `config show` is safe to paste into a bug report.
func redactSecrets(cfg *config.Config) {
	redact := func(s string) string {
		if s == "" {
			return ""
		}
		return "<redacted>"
	}
	cfg.Providers.Anthropic.APIKey = redact(cfg.Providers.Anthropic.APIKey)
	cfg.Providers.OpenAI.APIKey = redact(cfg.Providers.OpenAI.APIKey)
	cfg.Providers.OpenRouter.APIKey = redact(cfg.Providers.OpenRouter.APIKey)
	cfg.Providers.Groq.APIKey = redact(cfg.Providers.Groq.APIKey)
	cfg.Providers.Gemini.APIKey = redact(cfg.Providers.Gemini.APIKey)
	cfg.Providers.DeepSeek.APIKey = redact(cfg.Providers.DeepSeek.APIKey)
	cfg.Providers.Mistral.APIKey = redact(cfg.Providers.Mistral.APIKey)
	cfg.Providers.XAI.APIKey = redact(cfg.Providers.XAI.APIKey)
	cfg.Providers.MiniMax.APIKey = redact(cfg.Providers.MiniMax.APIKey)
	cfg.Providers.Cohere.APIKey = redact(cfg.Providers.Cohere.APIKey)
	cfg.Providers.Perplexity.APIKey = redact(cfg.Providers.Perplexity.APIKey)
	cfg.Gateway.Token = redact(cfg.Gateway.Token)
	cfg.Channels.Telegram.Token = redact(cfg.Channels.Telegram.Token)
	cfg.Channels.Discord.Token = redact(cfg.Channels.Discord.Token)
	cfg.Channels.Zalo.Token = redact(cfg.Channels.Zalo.Token)
	cfg.Channels.Feishu.AppSecret = redact(cfg.Channels.Feishu.AppSecret)
}
