package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export [conversation]",
		Short: "Export a conversation as JSON",
		Long:  "Print items, archive, budget and thresholds. Importing the output and exporting again gives identical bytes.",
		Args:  cobra.ExactArgs(1),
		Run:   runExport,
	}

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	m, _ := openManager()
	defer closeManager(cmd.Context(), m)

	c := mustGet(cmd.Context(), m, args[0])
	b, err := c.ExportJSON()
	if err != nil {
		exitErr("export", err)
	}
	fmt.Println(string(b))
}
