// Package catalog keeps the in-memory vocabulary of audits, devices,
// categories and aliases that entity resolution matches against.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/audit-agent/backend/internal/metrics"
	"github.com/audit-agent/backend/internal/storage/models"
	"github.com/audit-agent/backend/pkg/logger"
)

var errNoAudits = errors.New("catalog source returned no audits")

// Source is the bulk reader of reference data.
type Source interface {
	FetchAll(ctx context.Context) (*Data, error)
}

// SnapshotCache persists the last good catalog data outside the process.
type SnapshotCache interface {
	SaveCatalog(ctx context.Context, data *Data) error
	LoadCatalog(ctx context.Context) (*Data, bool, error)
}

// RecordStore is the part of the relational store the catalog reads.
type RecordStore interface {
	ListAudits(ctx context.Context) ([]models.Audit, error)
	ListDevices(ctx context.Context) ([]models.Device, error)
}

type storeSource struct {
	store   RecordStore
	aliases AliasTable
}

// NewStoreSource combines store records with a configured alias table.
func NewStoreSource(store RecordStore, aliases AliasTable) Source {
	return &storeSource{store: store, aliases: aliases}
}

func (s *storeSource) FetchAll(ctx context.Context) (*Data, error) {
	audits, err := s.store.ListAudits(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list audits: %w", err)
	}
	devices, err := s.store.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return &Data{Audits: audits, Devices: devices, Aliases: s.aliases}, nil
}

// StaticSource serves fixed data.
type StaticSource Data

func (s StaticSource) FetchAll(ctx context.Context) (*Data, error) {
	d := Data(s)
	return &d, nil
}

type Catalog struct {
	source  Source
	cache   SnapshotCache
	current atomic.Pointer[Snapshot]
	group   singleflight.Group
	now     func() time.Time
	logger  *zap.Logger
}

type Option func(*Catalog)

func WithCache(cache SnapshotCache) Option {
	return func(c *Catalog) { c.cache = cache }
}

func WithClock(now func() time.Time) Option {
	return func(c *Catalog) { c.now = now }
}

// New returns an empty catalog. Call Refresh to populate it.
func New(source Source, opts ...Option) *Catalog {
	c := &Catalog{
		source: source,
		now:    time.Now,
		logger: logger.Named("catalog"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.current.Store(emptySnapshot())
	return c
}

// FromData builds a catalog that is already populated with data.
func FromData(data Data) *Catalog {
	c := New(StaticSource(data))
	c.Refresh(context.Background())
	return c
}

// Snapshot returns the live snapshot. It is never nil.
func (c *Catalog) Snapshot() *Snapshot {
	return c.current.Load()
}

// Refresh reloads all reference data and swaps in a freshly indexed snapshot.
// On failure the previous snapshot stays live and false is returned.
func (c *Catalog) Refresh(ctx context.Context) bool {
	v, _, _ := c.group.Do("refresh", func() (interface{}, error) {
		return c.refresh(ctx), nil
	})
	return v.(bool)
}

func (c *Catalog) refresh(ctx context.Context) bool {
	data, err := c.source.FetchAll(ctx)
	if err == nil && len(data.Audits) == 0 {
		err = errNoAudits
	}
	if err != nil {
		metrics.CatalogRefreshes.WithLabelValues("failed").Inc()
		c.logger.Warn("Catalog refresh failed, keeping previous snapshot", zap.Error(err))
		c.restoreFromCache(ctx)
		return false
	}

	next := newSnapshot(data, c.now())
	if prev := c.Snapshot(); !prev.IsEmpty() && prev.Fingerprint() == next.Fingerprint() {
		metrics.CatalogRefreshes.WithLabelValues("unchanged").Inc()
		c.logger.Debug("Catalog unchanged", zap.String("fingerprint", next.Fingerprint()))
		return true
	}

	c.current.Store(next)
	c.observe(next)
	metrics.CatalogRefreshes.WithLabelValues("success").Inc()

	c.logger.Info("Catalog refreshed",
		zap.Int("audits", len(next.audits)),
		zap.Int("devices", len(next.devices)),
		zap.Int("categories", len(next.categories)),
		zap.Int("aliases", len(next.aliases)),
	)

	if c.cache != nil {
		if err := c.cache.SaveCatalog(ctx, data); err != nil {
			c.logger.Warn("Failed to cache catalog snapshot", zap.Error(err))
		}
	}

	return true
}

func (c *Catalog) restoreFromCache(ctx context.Context) {
	if c.cache == nil || !c.Snapshot().IsEmpty() {
		return
	}

	data, ok, err := c.cache.LoadCatalog(ctx)
	if err != nil {
		metrics.CacheMisses.WithLabelValues("catalog").Inc()
		c.logger.Warn("Failed to load cached catalog snapshot", zap.Error(err))
		return
	}
	if !ok || len(data.Audits) == 0 {
		metrics.CacheMisses.WithLabelValues("catalog").Inc()
		return
	}

	metrics.CacheHits.WithLabelValues("catalog").Inc()
	restored := newSnapshot(data, c.now())
	c.current.Store(restored)
	c.observe(restored)
	c.logger.Info("Catalog restored from cached snapshot", zap.Int("audits", len(restored.audits)))
}

func (c *Catalog) observe(s *Snapshot) {
	metrics.CatalogSize.WithLabelValues("audits").Set(float64(len(s.audits)))
	metrics.CatalogSize.WithLabelValues("devices").Set(float64(len(s.devices)))
	metrics.CatalogSize.WithLabelValues("categories").Set(float64(len(s.categories)))
	metrics.CatalogSize.WithLabelValues("aliases").Set(float64(len(s.aliases)))
}

// StartAutoRefresh refreshes the catalog every interval until ctx is done.
func (c *Catalog) StartAutoRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Refresh(ctx)
			}
		}
	}()
}

func (c *Catalog) LookupByID(id int) (models.Audit, bool) {
	return c.Snapshot().LookupByID(id)
}

func (c *Catalog) LookupByName(name string) (models.Audit, bool) {
	return c.Snapshot().LookupByName(name)
}

func (c *Catalog) ByCategory(category string) []models.Audit {
	return c.Snapshot().ByCategory(category)
}
