package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentcore/internal/config"
	"github.com/nextlevelbuilder/agentcore/internal/sessions"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage on-disk conversation sessions",
	}
	cmd.AddCommand(sessionsListCmd())
	cmd.AddCommand(sessionsResetCmd())
	cmd.AddCommand(sessionsDeleteCmd())
	return cmd
}

func loadSessionManager() *sessions.Manager {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Printf("config load failed: %s\n", err)
		os.Exit(1)
	}
	return sessions.NewManager(config.ExpandHome(cfg.Sessions.Storage))
}

func sessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known session keys and their message counts",
		Run: func(cmd *cobra.Command, args []string) {
			mgr := loadSessionManager()
			infos := mgr.List("")
			sort.Slice(infos, func(i, j int) bool { return infos[i].Updated.After(infos[j].Updated) })
			if len(infos) == 0 {
				fmt.Println("(no sessions on disk)")
				return
			}
			for _, info := range infos {
				fmt.Printf("%-60s %4d msgs   updated %s\n", info.Key, info.MessageCount, info.Updated.Format("2006-01-02 15:04:05"))
			}
		},
	}
}

func sessionsResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <session-key>",
		Short: "Clear a session's history without deleting it",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			mgr := loadSessionManager()
			mgr.Reset(args[0])
			fmt.Printf("Reset %s\n", args[0])
		},
	}
}

func sessionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-key>",
		Short: "Delete a session file entirely",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			mgr := loadSessionManager()
			if err := mgr.Delete(args[0]); err != nil {
				fmt.Printf("delete failed: %s\n", err)
				os.Exit(1)
			}
			fmt.Printf("Deleted %s\n", args[0])
		},
	}
}
