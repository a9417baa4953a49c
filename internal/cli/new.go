package cli

import (
	"fmt"

	"github.com/rcliao/memtier/internal/model"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Start a conversation",
		Long:  "Create an empty conversation and print its id. Without --id a UUID is generated.",
		Args:  cobra.NoArgs,
		Run:   runNew,
	}

	cmd.Flags().String("id", "", "Conversation id")

	RootCmd.AddCommand(cmd)
}

func runNew(cmd *cobra.Command, args []string) {
	id, _ := cmd.Flags().GetString("id")

	m, _ := openManager()
	defer closeManager(cmd.Context(), m)

	if id != "" {
		if _, err := m.Get(cmd.Context(), id); err == nil {
			exitErr("new", fmt.Errorf("%s: %w", id, model.ErrExists))
		}
	}
	c, err := m.Create(id)
	if err != nil {
		exitErr("new", err)
	}
	printJSON(map[string]any{"ok": true, "id": c.ID(), "budget_max": c.Config().Compress.BudgetMax})
}
