package main

import (
	"fmt"
	"math/rand"
	"os"

	"github.com/spf13/cobra"

	"github.com/audit-agent/backend/internal/classifier"
	"github.com/audit-agent/backend/internal/evaluation"
)

func trainCmd() *cobra.Command {
	var (
		dataset string
		out     string
		alpha   float64
		holdout float64
		seed    int64
	)

	cmd := &cobra.Command{
		Use:   "train-classifier",
		Short: "Fit the intent classifier on a labelled CSV dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dataset == "" {
				dataset = cfg.Classifier.DatasetPath
			}
			if out == "" {
				out = cfg.Classifier.ModelPath
			}
			if holdout < 0 || holdout >= 1 {
				return fmt.Errorf("train: holdout must be in [0, 1), got %v", holdout)
			}

			examples, err := classifier.LoadDataset(dataset)
			if err != nil {
				return fmt.Errorf("train: %w", err)
			}

			train, test := split(examples, holdout, seed)
			model, err := classifier.Train(train, alpha)
			if err != nil {
				return fmt.Errorf("train: %w", err)
			}
			if err := model.Save(out); err != nil {
				return fmt.Errorf("train: %w", err)
			}
			fmt.Printf("Trained on %d examples, %d labels, vocabulary %d. Saved to %s\n",
				len(train), len(model.Labels), len(model.Vocabulary), out)

			if len(test) == 0 {
				return nil
			}
			c := classifier.New(classifier.StaticStore{Model: model})
			report, err := evaluation.NewEvaluator(c, cfg.Router.ConfidenceThreshold).Run(cmd.Context(), test)
			if err != nil {
				return fmt.Errorf("train: evaluating holdout: %w", err)
			}
			fmt.Printf("\nHoldout evaluation (%d examples)\n", len(test))
			return report.WriteText(os.Stdout)
		},
	}

	cmd.Flags().StringVar(&dataset, "dataset", "", "labelled CSV with text,intent columns (default from config)")
	cmd.Flags().StringVar(&out, "out", "", "where to write the model weights (default from config)")
	cmd.Flags().Float64Var(&alpha, "alpha", 1.0, "additive smoothing")
	cmd.Flags().Float64Var(&holdout, "holdout", 0, "fraction of examples kept back for evaluation")
	cmd.Flags().Int64Var(&seed, "seed", 1, "shuffle seed for the holdout split")
	return cmd
}

// split shuffles a copy of examples and keeps the last fraction back.
func split(examples []classifier.Example, fraction float64, seed int64) (train, test []classifier.Example) {
	if fraction <= 0 {
		return examples, nil
	}
	shuffled := append([]classifier.Example(nil), examples...)
	rand.New(rand.NewSource(seed)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	n := int(float64(len(shuffled)) * fraction)
	if n == 0 {
		n = 1
	}
	if n >= len(shuffled) {
		n = len(shuffled) - 1
	}
	return shuffled[:len(shuffled)-n], shuffled[len(shuffled)-n:]
}
