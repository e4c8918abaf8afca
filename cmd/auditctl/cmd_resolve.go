package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/audit-agent/backend/internal/classifier"
	"github.com/audit-agent/backend/internal/resolver"
)

func resolveCmd() *cobra.Command {
	var classify bool

	cmd := &cobra.Command{
		Use:   "resolve [text]",
		Short: "Show how a message resolves against the current catalog",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			text := strings.Join(args, " ")

			st, err := openStore()
			if err != nil {
				return fmt.Errorf("resolve: %w", err)
			}
			defer st.Close()

			cat, err := loadCatalog(ctx, st)
			if err != nil {
				return fmt.Errorf("resolve: %w", err)
			}
			res := resolver.New(cat)

			out := map[string]interface{}{
				"text":      text,
				"execution": res.Resolve(text),
				"retrieval": res.ResolveAll(text),
			}
			if classify {
				c := classifier.New(classifier.FileStore(cfg.Classifier.ModelPath))
				result, err := c.Classify(ctx, text)
				if err != nil {
					return fmt.Errorf("resolve: %w", err)
				}
				out["intent"] = result
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().BoolVar(&classify, "classify", false, "also run the intent classifier")
	return cmd
}
