package cli

import (
	"fmt"

	"github.com/rcliao/memtier/internal/store"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats [conversation]",
		Short: "Show memory statistics",
		Long:  "With a conversation id, show its budget usage and level structure. Without, show database statistics.",
		Args:  cobra.MaximumNArgs(1),
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	if len(args) == 1 {
		m, _ := openManager()
		defer closeManager(cmd.Context(), m)
		printJSON(mustGet(cmd.Context(), m, args[0]).Stats())
		return
	}

	cfg := loadConfig()
	s, err := openStore(cfg)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	sq, ok := s.(*store.SQLiteStore)
	if !ok {
		exitErr("stats", fmt.Errorf("database statistics need the sqlite store"))
	}
	stats, err := sq.Stats(cmd.Context(), cfg.DBPath)
	if err != nil {
		exitErr("stats", err)
	}
	printJSON(stats)
}
