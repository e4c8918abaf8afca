// Package resolver extracts audit, category, device, time and retrieval
// entities from free text against a catalog snapshot.
package resolver

import (
	"go.uber.org/zap"

	"github.com/audit-agent/backend/internal/catalog"
	"github.com/audit-agent/backend/internal/metrics"
	"github.com/audit-agent/backend/pkg/logger"
)

// SnapshotProvider yields the current catalog snapshot.
type SnapshotProvider interface {
	Snapshot() *catalog.Snapshot
}

type Resolver struct {
	catalog    SnapshotProvider
	strategies []Strategy
	logger     *zap.Logger
}

type Option func(*Resolver)

// WithStrategies replaces the cascade.
func WithStrategies(strategies ...Strategy) Option {
	return func(r *Resolver) { r.strategies = strategies }
}

func New(provider SnapshotProvider, opts ...Option) *Resolver {
	r := &Resolver{
		catalog:    provider,
		strategies: DefaultStrategies(),
		logger:     logger.Named("resolver"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Strategies returns the cascade in the order it is tried.
func (r *Resolver) Strategies() []string {
	names := make([]string, len(r.strategies))
	for i, s := range r.strategies {
		names[i] = s.Name()
	}
	return names
}

// Resolve runs the audit cascade. It never fails: an empty catalog yields
// NoData and an exhausted cascade yields NoMatch.
func (r *Resolver) Resolve(text string) Result {
	snap := r.catalog.Snapshot()
	if snap.IsEmpty() {
		r.observe("none", NoData)
		return noData()
	}
	return r.cascade(newInput(text, snap))
}

func (r *Resolver) cascade(in *Input) Result {
	for _, s := range r.strategies {
		res, ok := s.Apply(in)
		if !ok {
			continue
		}
		res.Stage = s.Name()
		r.observe(res.Stage, res.Kind)
		r.logger.Debug("Audit resolved",
			zap.String("stage", res.Stage),
			zap.String("kind", string(res.Kind)),
			zap.Float64("confidence", res.Confidence()),
		)
		return res
	}
	r.observe("none", NoMatch)
	return noMatch()
}

// ResolveAll runs the cascade and the independent extractors against one
// snapshot and merges them into a single result. An alias hit identifies the
// audit only when the cascade found nothing.
func (r *Resolver) ResolveAll(text string) Result {
	snap := r.catalog.Snapshot()
	in := newInput(text, snap)

	var res Result
	if snap.IsEmpty() {
		r.observe("none", NoData)
		res = noData()
	} else {
		res = r.cascade(in)
		if !res.Matched {
			if e, ok := aliasEntity(in); ok {
				if audit, found := snap.LookupByName(e.Value.String()); found {
					res = specific(audit, e.Confidence)
					res.Stage = "alias"
					r.observe(res.Stage, res.Kind)
				}
			}
		}
		for _, e := range deviceEntities(in) {
			res.add(e)
		}
	}

	if e, ok := timeRangeEntity(in); ok {
		res.add(e)
	}
	res.add(retrievalKindEntity(in))

	return res
}

func (r *Resolver) observe(stage string, kind ResultKind) {
	metrics.ResolverResults.WithLabelValues(stage, string(kind)).Inc()
}
