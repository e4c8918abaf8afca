package classifier

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
)

type Example struct {
	Text  string
	Label Label
}

// Train fits a naive Bayes model with additive smoothing alpha.
// Labels without examples are left out of the model.
func Train(examples []Example, alpha float64) (*Model, error) {
	if len(examples) == 0 {
		return nil, errors.New("no training examples")
	}
	if alpha <= 0 {
		alpha = 1.0
	}

	counts := map[Label]map[string]float64{}
	docs := map[Label]int{}
	vocab := map[string]struct{}{}

	for i, ex := range examples {
		if !ex.Label.Valid() {
			return nil, fmt.Errorf("example %d has unknown label %q", i, ex.Label)
		}
		if counts[ex.Label] == nil {
			counts[ex.Label] = map[string]float64{}
		}
		docs[ex.Label]++
		for _, f := range Features(Tokenize(ex.Text)) {
			counts[ex.Label][f]++
			vocab[f] = struct{}{}
		}
	}

	tokens := make([]string, 0, len(vocab))
	for t := range vocab {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)

	m := &Model{Version: modelVersion, Vocabulary: make(map[string]int, len(tokens))}
	for i, t := range tokens {
		m.Vocabulary[t] = i
	}

	v := float64(len(tokens))
	for _, label := range Labels {
		n, ok := docs[label]
		if !ok {
			continue
		}
		total := 0.0
		for _, c := range counts[label] {
			total += c
		}

		row := make([]float64, len(tokens))
		for i, t := range tokens {
			row[i] = math.Log((counts[label][t] + alpha) / (total + alpha*v))
		}

		m.Labels = append(m.Labels, label)
		m.LogPriors = append(m.LogPriors, math.Log(float64(n)/float64(len(examples))))
		m.LogLikelihoods = append(m.LogLikelihoods, row)
	}

	return m, nil
}

// LoadDataset reads a CSV file with a header row and text,intent columns.
func LoadDataset(path string) ([]Example, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()
	return ReadDataset(f)
}

func ReadDataset(r io.Reader) ([]Example, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset header: %w", err)
	}
	textCol, labelCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "text":
			textCol = i
		case "intent", "label":
			labelCol = i
		}
	}
	if textCol < 0 || labelCol < 0 {
		return nil, errors.New("dataset header must contain text and intent columns")
	}

	var examples []Example
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read dataset line %d: %w", line, err)
		}
		label := Label(strings.ToUpper(strings.TrimSpace(rec[labelCol])))
		if !label.Valid() {
			return nil, fmt.Errorf("dataset line %d: unknown intent %q", line, rec[labelCol])
		}
		examples = append(examples, Example{Text: rec[textCol], Label: label})
	}
	return examples, nil
}
