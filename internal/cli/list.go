package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations",
		Run:   runList,
	}

	cmd.Flags().Bool("ids-only", false, "Only output conversation ids")

	RootCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) {
	idsOnly, _ := cmd.Flags().GetBool("ids-only")

	m, _ := openManager()
	defer closeManager(cmd.Context(), m)

	convs, err := m.List(cmd.Context())
	if err != nil {
		exitErr("list", err)
	}

	if idsOnly {
		for _, c := range convs {
			fmt.Println(c.ID)
		}
		return
	}
	printJSON(convs)
}
