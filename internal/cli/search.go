package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [conversation] [query]",
		Short: "Search a conversation's memory",
		Long:  "Search live items highest level first, decompress summaries when results are short, then ask other conversations' archives.",
		Args:  cobra.MinimumNArgs(2),
		Run:   runSearch,
	}

	cmd.Flags().IntP("limit", "l", 0, "Max results (default from config)")
	cmd.Flags().Bool("local", false, "Skip the cross-conversation fallback")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	local, _ := cmd.Flags().GetBool("local")
	query := strings.Join(args[1:], " ")

	m, _ := openManager()
	defer closeManager(cmd.Context(), m)

	c := mustGet(cmd.Context(), m, args[0])
	search := c.Search
	if local {
		search = c.SearchLocal
	}
	resp, err := search(cmd.Context(), query)
	if err != nil {
		exitErr("search", err)
	}
	if limit > 0 && len(resp.Results) > limit {
		resp.Results = resp.Results[:limit]
	}

	if formatFlag == "text" {
		for _, r := range resp.Results {
			fmt.Printf("%.3f\t%s\tL%d\t%s\n", r.RelevanceScore, r.Source, r.Level, r.ID)
		}
		return
	}
	printJSON(resp)
}
