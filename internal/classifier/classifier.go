// Package classifier assigns a coarse intent label to a chat message using a
// small pre-trained text classification model.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/audit-agent/backend/internal/metrics"
	"github.com/audit-agent/backend/pkg/logger"
)

// ErrUnavailable wraps every failure to load model weights.
var ErrUnavailable = errors.New("intent classifier unavailable")

type Label string

const (
	ListAudits               Label = "LIST_AUDITS"
	AuditRetrievalByCategory Label = "AUDIT_RETRIEVAL_BY_CATEGORY"
	GetAuditHistory          Label = "GET_AUDIT_HISTORY"
	GetAuditHistoryFiltered  Label = "GET_AUDIT_HISTORY_FILTERED"
	ExecuteAudit             Label = "EXECUTE_AUDIT"
	EngineerAudit            Label = "ENGINEER_AUDIT"
	General                  Label = "GENERAL"
)

// Labels is the closed label set in canonical order.
var Labels = []Label{
	ListAudits,
	AuditRetrievalByCategory,
	GetAuditHistory,
	GetAuditHistoryFiltered,
	ExecuteAudit,
	EngineerAudit,
	General,
}

func (l Label) Valid() bool {
	for _, known := range Labels {
		if l == known {
			return true
		}
	}
	return false
}

type Result struct {
	Label      Label   `json:"label"`
	Confidence float64 `json:"confidence"`
}

// WeightsStore loads persisted model weights.
type WeightsStore interface {
	LoadWeights() (*Model, error)
}

// FileStore reads weights from a JSON file.
type FileStore string

func (p FileStore) LoadWeights() (*Model, error) {
	return LoadModel(string(p))
}

// StaticStore serves an in-memory model.
type StaticStore struct {
	Model *Model
}

func (s StaticStore) LoadWeights() (*Model, error) {
	if s.Model == nil {
		return nil, errors.New("no model configured")
	}
	return s.Model, s.Model.Validate()
}

// Classifier loads its weights once, on first use or through Load, and keeps
// them for the process lifetime. A failed load is also kept.
type Classifier struct {
	store WeightsStore

	once  sync.Once
	model *Model
	err   error

	logger *zap.Logger
}

func New(store WeightsStore) *Classifier {
	return &Classifier{store: store, logger: logger.Named("classifier")}
}

// Load forces the weights to load now.
func (c *Classifier) Load() error {
	_, err := c.load()
	return err
}

func (c *Classifier) load() (*Model, error) {
	c.once.Do(func() {
		start := time.Now()
		m, err := c.store.LoadWeights()
		if err != nil {
			c.err = fmt.Errorf("%w: %v", ErrUnavailable, err)
			c.logger.Error("Failed to load classifier weights", zap.Error(err))
			return
		}
		c.model = m
		c.logger.Info("Classifier weights loaded",
			zap.Int("labels", len(m.Labels)),
			zap.Int("vocabulary", len(m.Vocabulary)),
			zap.Duration("took", time.Since(start)),
		)
	})
	return c.model, c.err
}

func (c *Classifier) Classify(ctx context.Context, text string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	m, err := c.load()
	if err != nil {
		return Result{}, err
	}

	res := m.Predict(Features(Tokenize(text)))
	metrics.ClassifierConfidence.WithLabelValues(string(res.Label)).Observe(res.Confidence)

	c.logger.Debug("Message classified",
		zap.String("label", string(res.Label)),
		zap.Float64("confidence", res.Confidence),
	)
	return res, nil
}
