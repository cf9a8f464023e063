package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentcore/internal/config"
)

func channelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "channels",
		Short: "List configured external channels and their status",
		Run: func(cmd *cobra.Command, args []string) {
			runChannels()
		},
	}
}

func runChannels() {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Printf("config load failed: %s\n", err)
		os.Exit(1)
	}

	checkChannel("Telegram", cfg.Channels.Telegram.Enabled, cfg.Channels.Telegram.Token != "")
	checkChannel("Discord", cfg.Channels.Discord.Enabled, cfg.Channels.Discord.Token != "")
	checkChannel("Slack", cfg.Channels.Slack.Enabled, cfg.Channels.Slack.BotToken != "")
	checkChannel("WhatsApp", cfg.Channels.WhatsApp.Enabled, cfg.Channels.WhatsApp.BridgeURL != "")
	checkChannel("Zalo", cfg.Channels.Zalo.Enabled, cfg.Channels.Zalo.Token != "")
	checkChannel("Feishu", cfg.Channels.Feishu.Enabled, cfg.Channels.Feishu.AppID != "")

	if cfg.Channels.Telegram.Enabled && len(cfg.Channels.Telegram.AllowFrom) == 0 {
		fmt.Println()
		fmt.Println("Warning: channels.telegram.allow_from is empty — the owner firewall admits no Telegram sender.")
	}
}
