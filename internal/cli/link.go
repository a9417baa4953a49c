package cli

import (
	"fmt"

	"github.com/rcliao/memtier/internal/store"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "links [conversation] [item-id]",
		Short: "Show covers links touching an item",
		Long:  "List the saved summary-to-covered edges where the item is either the summary or a covered item.",
		Args:  cobra.ExactArgs(2),
		Run:   runLinks,
	}

	RootCmd.AddCommand(cmd)
}

func runLinks(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	s, err := openStore(cfg)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	sq, ok := s.(*store.SQLiteStore)
	if !ok {
		exitErr("links", fmt.Errorf("covers links need the sqlite store"))
	}
	links, err := sq.Links(cmd.Context(), args[0], args[1])
	if err != nil {
		exitErr("links", err)
	}
	if links == nil {
		links = []store.CoverLink{}
	}
	printJSON(links)
}
