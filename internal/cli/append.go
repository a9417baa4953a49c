package cli

import (
	"fmt"
	"strings"

	"github.com/rcliao/memtier/internal/conversation"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "append [conversation] [text]",
		Short: "Add a turn to a conversation",
		Long:  "Append a turn and run a compression pass. Text can be positional or piped via stdin. The conversation is created if it does not exist.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runAppend,
	}

	cmd.Flags().StringP("role", "r", "user", "Role: user, assistant or system")

	RootCmd.AddCommand(cmd)
}

type appendOutput struct {
	conversation.AppendResult
	Enrichments []conversation.Enrichment `json:"enrichments,omitempty"`
}

func runAppend(cmd *cobra.Command, args []string) {
	role, _ := cmd.Flags().GetString("role")
	text := strings.TrimSpace(readText(args[1:]))
	if text == "" {
		exitErr("append", fmt.Errorf("text is required (positional arg or stdin)"))
	}

	m, _ := openManager()
	defer closeManager(cmd.Context(), m)

	c, err := m.GetOrCreate(cmd.Context(), args[0])
	if err != nil {
		exitErr("append", err)
	}
	res, err := c.Append(cmd.Context(), role, text)
	if err != nil {
		exitErr("append", err)
	}
	c.Wait()

	printJSON(appendOutput{AppendResult: res, Enrichments: c.Enrichments()})
}
