// Command auditctl is the operator tool for the audit agent: it trains and
// evaluates the intent classifier, seeds the reference data and inspects
// entity resolution.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/audit-agent/backend/internal/catalog"
	"github.com/audit-agent/backend/internal/storage/sqlite"
	"github.com/audit-agent/backend/pkg/config"
	"github.com/audit-agent/backend/pkg/logger"
)

var cfg *config.Config

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	rootCmd := &cobra.Command{
		Use:           "auditctl",
		Short:         "Operator tool for the audit agent",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return logger.Init(cfg.Logging.Level, "console", "stderr")
		},
	}

	rootCmd.AddCommand(
		trainCmd(),
		evaluateCmd(),
		resolveCmd(),
		seedCmd(),
		watchTasksCmd(),
	)

	rootCmd.SetContext(ctx)

	err := rootCmd.Execute()
	stop()
	logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func openStore() (*sqlite.Client, error) {
	st, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		return nil, err
	}
	if err := st.InitSchema(); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// loadCatalog builds a populated catalog from the configured store.
func loadCatalog(ctx context.Context, st *sqlite.Client) (*catalog.Catalog, error) {
	aliases, err := catalog.LoadAliases(cfg.Catalog.AliasesPath)
	if err != nil {
		return nil, err
	}
	cat := catalog.New(catalog.NewStoreSource(st, aliases))
	if !cat.Refresh(ctx) {
		return nil, fmt.Errorf("catalog at %s has no audits, run auditctl seed first", cfg.SQLite.Path)
	}
	return cat, nil
}
