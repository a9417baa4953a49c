package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "archive-search [conversation] [query]",
		Short: "Scan a conversation's archive",
		Long:  "Match archived text by substring or keyword. below_level reports matches under the current top level.",
		Args:  cobra.MinimumNArgs(2),
		Run:   runArchiveSearch,
	}

	RootCmd.AddCommand(cmd)
}

type archiveMatch struct {
	ID          string `json:"id"`
	Level       int    `json:"level"`
	Text        string `json:"text"`
	ReplacedBy  string `json:"replaced_by"`
	Exact       bool   `json:"exact"`
	KeywordHits int    `json:"keyword_hits"`
}

func runArchiveSearch(cmd *cobra.Command, args []string) {
	query := strings.Join(args[1:], " ")

	m, _ := openManager()
	defer closeManager(cmd.Context(), m)

	c := mustGet(cmd.Context(), m, args[0])
	res := c.SearchArchive(query)
	out := make([]archiveMatch, len(res.Matches))
	for i, mt := range res.Matches {
		out[i] = archiveMatch{
			ID:          mt.Entry.ID,
			Level:       mt.Entry.Level,
			Text:        mt.Entry.Text,
			ReplacedBy:  mt.Entry.ReplacedBy,
			Exact:       mt.Exact,
			KeywordHits: mt.KeywordHits,
		}
	}
	printJSON(map[string]any{"matches": out, "below_level": res.BelowLevel})
}
