package cli

import (
	"errors"

	"github.com/rcliao/memtier/internal/model"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "decompress [conversation] [item-id]",
		Short: "Expand a summary into the items it covers",
		Long:  "Walk a summary's covers down to --level. Missing archive entries are reported alongside the items that were found.",
		Args:  cobra.ExactArgs(2),
		Run:   runDecompress,
	}

	cmd.Flags().IntP("level", "l", 0, "Target level")

	RootCmd.AddCommand(cmd)
}

func runDecompress(cmd *cobra.Command, args []string) {
	level, _ := cmd.Flags().GetInt("level")

	m, _ := openManager()
	defer closeManager(cmd.Context(), m)

	c := mustGet(cmd.Context(), m, args[0])
	items, err := c.Decompress(args[1], level)
	var broken *model.BrokenChainError
	switch {
	case errors.As(err, &broken):
		printJSON(map[string]any{"items": items, "missing": broken.Missing})
		return
	case err != nil:
		exitErr("decompress", err)
	}
	if items == nil {
		items = []model.Item{}
	}
	printJSON(items)
}
