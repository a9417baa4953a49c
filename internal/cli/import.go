package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/rcliao/memtier/internal/store"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import [conversation]",
		Short: "Import a conversation from JSON",
		Long:  "Replace a conversation with state read from stdin, in the format produced by export. No compression runs on import.",
		Args:  cobra.ExactArgs(1),
		Run:   runImport,
	}

	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		exitErr("read stdin", err)
	}

	st, err := store.DecodeState(data)
	if err != nil {
		exitErr("parse state", err)
	}

	m, _ := openManager()
	defer closeManager(cmd.Context(), m)

	c, err := m.Import(args[0], st)
	if err != nil {
		exitErr("import", err)
	}
	if err := m.Save(cmd.Context(), c.ID()); err != nil {
		exitErr("import", err)
	}

	fmt.Printf(`{"ok":true,"id":%q,"items":%d,"archived":%d}`+"\n", c.ID(), len(st.Items), len(st.Archive))
}
