package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
)

const modelVersion = 1

// Model is a multinomial naive Bayes model over unigram and bigram features.
type Model struct {
	Version        int            `json:"version"`
	Labels         []Label        `json:"labels"`
	Vocabulary     map[string]int `json:"vocabulary"`
	LogPriors      []float64      `json:"log_priors"`
	LogLikelihoods [][]float64    `json:"log_likelihoods"`
}

func (m *Model) Validate() error {
	if m.Version != modelVersion {
		return fmt.Errorf("unsupported model version %d", m.Version)
	}
	if len(m.Labels) == 0 {
		return errors.New("model has no labels")
	}
	if len(m.LogPriors) != len(m.Labels) || len(m.LogLikelihoods) != len(m.Labels) {
		return errors.New("model label dimensions do not match")
	}
	for i, row := range m.LogLikelihoods {
		if len(row) != len(m.Vocabulary) {
			return fmt.Errorf("likelihood row %d has %d entries, vocabulary has %d", i, len(row), len(m.Vocabulary))
		}
	}
	for token, idx := range m.Vocabulary {
		if idx < 0 || idx >= len(m.Vocabulary) {
			return fmt.Errorf("vocabulary index out of range for %q", token)
		}
	}
	for i, l := range m.Labels {
		if !l.Valid() {
			return fmt.Errorf("unknown label %q at %d", l, i)
		}
	}
	return nil
}

// Predict returns the most probable label and its posterior probability.
// Features outside the vocabulary are ignored. Ties go to the earlier label.
func (m *Model) Predict(features []string) Result {
	scores := make([]float64, len(m.Labels))
	copy(scores, m.LogPriors)

	for _, f := range features {
		idx, ok := m.Vocabulary[f]
		if !ok {
			continue
		}
		for l := range scores {
			scores[l] += m.LogLikelihoods[l][idx]
		}
	}

	best := 0
	for l := 1; l < len(scores); l++ {
		if scores[l] > scores[best] {
			best = l
		}
	}

	// softmax relative to the best score
	sum := 0.0
	for _, s := range scores {
		sum += math.Exp(s - scores[best])
	}

	return Result{Label: m.Labels[best], Confidence: 1.0 / sum}
}

func LoadModel(path string) (*Model, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model weights: %w", err)
	}

	var m Model
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to decode model weights: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model weights: %w", err)
	}
	return &m, nil
}

func (m *Model) Save(path string) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode model weights: %w", err)
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return fmt.Errorf("failed to write model weights: %w", err)
	}
	return nil
}
