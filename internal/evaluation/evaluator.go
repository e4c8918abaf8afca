// Package evaluation scores the intent classifier against a labelled dataset.
package evaluation

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"go.uber.org/zap"

	"github.com/audit-agent/backend/internal/classifier"
	"github.com/audit-agent/backend/pkg/logger"
)

type Predictor interface {
	Classify(ctx context.Context, text string) (classifier.Result, error)
}

type Evaluator struct {
	predictor Predictor
	threshold float64
}

type LabelMetrics struct {
	Label     classifier.Label `json:"label"`
	Support   int              `json:"support"`
	Predicted int              `json:"predicted"`
	Correct   int              `json:"correct"`
	Precision float64          `json:"precision"`
	Recall    float64          `json:"recall"`
	F1        float64          `json:"f1"`
}

// Misclassification is one example the classifier got wrong.
type Misclassification struct {
	Text       string           `json:"text"`
	Want       classifier.Label `json:"want"`
	Got        classifier.Label `json:"got"`
	Confidence float64          `json:"confidence"`
}

type Report struct {
	Total          int     `json:"total"`
	Correct        int     `json:"correct"`
	Accuracy       float64 `json:"accuracy"`
	MeanConfidence float64 `json:"mean_confidence"`
	// BelowThreshold counts predictions that the router would send to the LLM.
	BelowThreshold int                                           `json:"below_threshold"`
	Threshold      float64                                       `json:"threshold"`
	Labels         []classifier.Label                            `json:"labels"`
	PerLabel       []LabelMetrics                                `json:"per_label"`
	Confusion      map[classifier.Label]map[classifier.Label]int `json:"confusion"`
	Errors         []Misclassification                           `json:"errors"`
}

func NewEvaluator(p Predictor, threshold float64) *Evaluator {
	return &Evaluator{predictor: p, threshold: threshold}
}

// Run classifies every example. A classifier error aborts the run.
func (e *Evaluator) Run(ctx context.Context, examples []classifier.Example) (*Report, error) {
	logger.Info("Running classifier evaluation", zap.Int("examples", len(examples)))

	report := &Report{
		Total:     len(examples),
		Threshold: e.threshold,
		Confusion: make(map[classifier.Label]map[classifier.Label]int),
	}

	seen := map[classifier.Label]bool{}
	var totalConfidence float64
	for i, ex := range examples {
		res, err := e.predictor.Classify(ctx, ex.Text)
		if err != nil {
			return nil, fmt.Errorf("failed to classify example %d: %w", i+1, err)
		}

		seen[ex.Label], seen[res.Label] = true, true
		row := report.Confusion[ex.Label]
		if row == nil {
			row = make(map[classifier.Label]int)
			report.Confusion[ex.Label] = row
		}
		row[res.Label]++

		totalConfidence += res.Confidence
		if res.Confidence < e.threshold {
			report.BelowThreshold++
		}
		if res.Label == ex.Label {
			report.Correct++
		} else {
			report.Errors = append(report.Errors, Misclassification{Text: ex.Text, Want: ex.Label, Got: res.Label, Confidence: res.Confidence})
		}
	}

	if report.Total > 0 {
		report.Accuracy = float64(report.Correct) / float64(report.Total)
		report.MeanConfidence = totalConfidence / float64(report.Total)
	}

	report.Labels = orderedLabels(seen)
	for _, l := range report.Labels {
		report.PerLabel = append(report.PerLabel, report.metrics(l))
	}

	logger.Info("Classifier evaluation completed",
		zap.Int("total", report.Total),
		zap.Float64("accuracy", report.Accuracy),
		zap.Int("below_threshold", report.BelowThreshold),
	)
	return report, nil
}

// orderedLabels keeps the classifier's label order, then any unknown labels
// alphabetically.
func orderedLabels(seen map[classifier.Label]bool) []classifier.Label {
	var out []classifier.Label
	for _, l := range classifier.Labels {
		if seen[l] {
			out = append(out, l)
			delete(seen, l)
		}
	}
	var rest []classifier.Label
	for l := range seen {
		rest = append(rest, l)
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	return append(out, rest...)
}

func (r *Report) metrics(l classifier.Label) LabelMetrics {
	m := LabelMetrics{Label: l}
	for want, row := range r.Confusion {
		for got, n := range row {
			if want == l {
				m.Support += n
			}
			if got == l {
				m.Predicted += n
			}
			if want == l && got == l {
				m.Correct += n
			}
		}
	}
	if m.Predicted > 0 {
		m.Precision = float64(m.Correct) / float64(m.Predicted)
	}
	if m.Support > 0 {
		m.Recall = float64(m.Correct) / float64(m.Support)
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	return m
}

// MacroF1 is the unweighted mean F1 over labels with support.
func (r *Report) MacroF1() float64 {
	var sum float64
	n := 0
	for _, m := range r.PerLabel {
		if m.Support == 0 {
			continue
		}
		sum += m.F1
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func (r *Report) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "Examples: %d  Correct: %d  Accuracy: %.3f  Macro F1: %.3f\n", r.Total, r.Correct, r.Accuracy, r.MacroF1())
	fmt.Fprintf(w, "Mean confidence: %.3f  Below threshold %.2f: %d\n\n", r.MeanConfidence, r.Threshold, r.BelowThreshold)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LABEL\tSUPPORT\tPRECISION\tRECALL\tF1")
	for _, m := range r.PerLabel {
		fmt.Fprintf(tw, "%s\t%d\t%.3f\t%.3f\t%.3f\n", m.Label, m.Support, m.Precision, m.Recall, m.F1)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w, "\nConfusion matrix (rows: expected, columns: predicted)")
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	header := make([]string, 0, len(r.Labels)+1)
	header = append(header, "")
	for i := range r.Labels {
		header = append(header, fmt.Sprintf("%d", i+1))
	}
	fmt.Fprintln(tw, strings.Join(header, "\t")+"\t")
	for i, want := range r.Labels {
		cells := []string{fmt.Sprintf("%d %s", i+1, want)}
		for _, got := range r.Labels {
			cells = append(cells, fmt.Sprintf("%d", r.Confusion[want][got]))
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t")+"\t")
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(r.Errors) > 0 {
		fmt.Fprintf(w, "\nMisclassified (%d):\n", len(r.Errors))
		for _, m := range r.Errors {
			fmt.Fprintf(w, "  %q: want %s, got %s (%.2f)\n", m.Text, m.Want, m.Got, m.Confidence)
		}
	}
	return nil
}
