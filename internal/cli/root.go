// Package cli implements the memtier CLI commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rcliao/memtier/internal/config"
	"github.com/rcliao/memtier/internal/conversation"
	"github.com/rcliao/memtier/internal/store"
	"github.com/spf13/cobra"
)

var (
	dbPath     string
	configPath string
	storeFlag  string
	formatFlag string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "memtier",
	Short: "Hierarchical conversation memory",
	Long:  "Keeps a conversation inside a character budget by summarizing old turns into levels, and finds them again on demand.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $MEMTIER_DB or ~/.memtier/memtier.db)")
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $MEMTIER_CONFIG)")
	RootCmd.PersistentFlags().StringVar(&storeFlag, "store", "", "Snapshot backend: sqlite or redis")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
}

func loadConfig() config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		exitErr("load config", err)
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if storeFlag != "" {
		cfg.Store = storeFlag
		if err := cfg.Validate(); err != nil {
			exitErr("load config", err)
		}
	}
	return cfg
}

func openStore(cfg config.Config) (store.Store, error) {
	if cfg.Store == "redis" {
		return store.NewRedisStore(cfg.RedisOptions()), nil
	}
	return store.NewSQLiteStore(cfg.DBPath)
}

// openManager returns a conversation manager over the configured store.
// Callers close it, which saves every conversation they touched.
func openManager() (*conversation.Manager, config.Config) {
	cfg := loadConfig()
	s, err := openStore(cfg)
	if err != nil {
		exitErr("open store", err)
	}
	deps := conversation.Deps{
		Summarizer: cfg.NewSummarizer(),
		Embedder:   cfg.NewEmbedder(),
		Logger:     cfg.NewLogger(),
	}
	return conversation.NewManager(s, cfg.Conversation(), deps), cfg
}

// mustGet returns an existing conversation or exits.
func mustGet(ctx context.Context, m *conversation.Manager, id string) *conversation.Conversation {
	c, err := m.Get(ctx, id)
	if err != nil {
		exitErr("get conversation", err)
	}
	return c
}

func closeManager(ctx context.Context, m *conversation.Manager) {
	if err := m.Close(ctx); err != nil {
		exitErr("close", err)
	}
}

// readText joins args, or reads stdin when no args are given and stdin is piped.
func readText(args []string) string {
	if len(args) > 0 {
		return strings.Join(args, " ")
	}
	stat, _ := os.Stdin.Stat()
	if stat != nil && (stat.Mode()&os.ModeCharDevice) == 0 {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			exitErr("read stdin", err)
		}
		return string(b)
	}
	return ""
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
