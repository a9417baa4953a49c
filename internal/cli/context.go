package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "context [conversation] [query]",
		Short: "Assemble context for the next generation",
		Long:  "Keep the most recent turns, then pack the highest-level relevant summaries into the remaining character budget.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runContext,
	}

	cmd.Flags().IntP("max", "m", 2000, "Max characters in output")

	RootCmd.AddCommand(cmd)
}

func runContext(cmd *cobra.Command, args []string) {
	maxChars, _ := cmd.Flags().GetInt("max")
	query := strings.Join(args[1:], " ")

	m, _ := openManager()
	defer closeManager(cmd.Context(), m)

	c := mustGet(cmd.Context(), m, args[0])
	result, err := c.Assemble(cmd.Context(), query, maxChars)
	if err != nil {
		exitErr("context", err)
	}

	if formatFlag == "text" {
		fmt.Println(result.Text)
		return
	}
	printJSON(result)
}
