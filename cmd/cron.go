package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentcore/internal/config"
)

func cronCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cron",
		Short: "Print the cron retry policy the daemon will use",
		Run: func(cmd *cobra.Command, args []string) {
			runCron()
		},
	}
}

// runCron reports the configured retry backoff used by any scheduled
// (SenderRole "scheduled") run the daemon executes. There is no
// persistent job list — cron jobs are driven by an external
// scheduler (cron(1), systemd timer) hitting chat.send with
// clientId "scheduled-<jobId>"; this command exists to confirm the
// backoff policy that delivery will retry under.
func runCron() {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Printf("config load failed: %s\n", err)
		os.Exit(1)
	}

	retry := cfg.Cron.ToRetryConfig()
	fmt.Println("Cron retry policy:")
	fmt.Printf("  Max attempts: %d\n", retry.MaxAttempts)
	fmt.Printf("  Base delay:   %s\n", retry.BaseDelay)
	fmt.Printf("  Max delay:    %s\n", retry.MaxDelay)
}
