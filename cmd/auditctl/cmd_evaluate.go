package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/audit-agent/backend/internal/classifier"
	"github.com/audit-agent/backend/internal/evaluation"
)

func evaluateCmd() *cobra.Command {
	var (
		dataset   string
		model     string
		threshold float64
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "evaluate-classifier",
		Short: "Score the trained classifier against a labelled dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dataset == "" {
				dataset = cfg.Classifier.DatasetPath
			}
			if model == "" {
				model = cfg.Classifier.ModelPath
			}
			if threshold == 0 {
				threshold = cfg.Router.ConfidenceThreshold
			}

			examples, err := classifier.LoadDataset(dataset)
			if err != nil {
				return fmt.Errorf("evaluate: %w", err)
			}

			c := classifier.New(classifier.FileStore(model))
			if err := c.Load(); err != nil {
				return fmt.Errorf("evaluate: %w", err)
			}

			report, err := evaluation.NewEvaluator(c, threshold).Run(cmd.Context(), examples)
			if err != nil {
				return fmt.Errorf("evaluate: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			return report.WriteText(os.Stdout)
		},
	}

	cmd.Flags().StringVar(&dataset, "dataset", "", "labelled CSV with text,intent columns (default from config)")
	cmd.Flags().StringVar(&model, "model", "", "model weights file (default from config)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "confidence threshold to report against (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}
