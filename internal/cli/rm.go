package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "rm [conversation]",
		Short: "Delete a conversation",
		Long:  "Delete a conversation with its items and archive (irreversible).",
		Args:  cobra.ExactArgs(1),
		Run:   runRm,
	}

	RootCmd.AddCommand(cmd)
}

func runRm(cmd *cobra.Command, args []string) {
	m, _ := openManager()
	defer closeManager(cmd.Context(), m)

	if err := m.Delete(cmd.Context(), args[0]); err != nil {
		exitErr("rm", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"id":%q}`+"\n", args[0])
}
