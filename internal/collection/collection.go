// Package collection exposes a paginated, sorted and filtered view over the
// composite entries of one plan.
package collection

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/rpattn/formview/internal/cache"
	"github.com/rpattn/formview/internal/composition"
	"github.com/rpattn/formview/internal/domain"
	"github.com/rpattn/formview/internal/logger"
	"github.com/rpattn/formview/internal/telemetry"
)

// DefaultTotalTTL bounds how long an aggregate total is reused across requests.
const DefaultTotalTTL = 30 * time.Second

// Descriptor identifies what a collection shows, without its results.
type Descriptor struct {
	View string
	// Signature changes only with the source shape.
	Signature string
	// Fingerprint covers the source shape, gate and filters.
	Fingerprint string
	// OrderFingerprint additionally covers the sort order.
	OrderFingerprint string
	Paging           domain.Paging
}

// Factory opens collections that share the process-wide total cache.
type Factory struct {
	executor *composition.Executor
	totals   cache.Store[int]
	ttl      time.Duration
	group    *singleflight.Group
	logger   logger.Logger
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithTotalCache reuses totals across collections through store for ttl.
func WithTotalCache(store cache.Store[int], ttl time.Duration) FactoryOption {
	return func(f *Factory) {
		f.totals = store
		if ttl > 0 {
			f.ttl = ttl
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) FactoryOption {
	return func(f *Factory) {
		f.logger = log
	}
}

// NewFactory constructs a Factory over executor.
func NewFactory(executor *composition.Executor, opts ...FactoryOption) *Factory {
	f := &Factory{
		executor: executor,
		ttl:      DefaultTotalTTL,
		group:    &singleflight.Group{},
		logger:   logger.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Open returns a new collection for plan. Its memo starts empty.
func (f *Factory) Open(plan *composition.Plan) *Collection {
	return &Collection{factory: f, plan: plan}
}

// Collection is created per logical request. Results are memoised for the
// instance's lifetime only.
type Collection struct {
	factory *Factory
	plan    *composition.Plan

	mu          sync.Mutex
	page        []domain.CompositeEntry
	pageLoaded  bool
	total       int
	totalLoaded bool
	order       []string
	position    map[string]int
}

// Plan returns the plan the collection evaluates.
func (c *Collection) Plan() *composition.Plan { return c.plan }

// Paging returns the normalised paging of the collection.
func (c *Collection) Paging() domain.Paging { return c.plan.Criteria().Paging.Normalized() }

// Descriptor returns the collection's identifying hashes and paging.
func (c *Collection) Descriptor() Descriptor {
	return Descriptor{
		View:             c.plan.View(),
		Signature:        c.plan.Signature(),
		Fingerprint:      c.plan.Fingerprint(),
		OrderFingerprint: c.plan.OrderFingerprint(),
		Paging:           c.Paging(),
	}
}

// All returns the entries of the current page in sort order.
func (c *Collection) All(ctx context.Context) ([]domain.CompositeEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.pageLoaded {
		page, err := c.factory.executor.Page(ctx, c.plan)
		if err != nil {
			return nil, err
		}
		c.page = page
		c.pageLoaded = true
	}
	return append([]domain.CompositeEntry(nil), c.page...), nil
}

// Count returns the number of entries on the current page.
func (c *Collection) Count(ctx context.Context) (int, error) {
	entries, err := c.All(ctx)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Total counts every matching entry, ignoring paging.
func (c *Collection) Total(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.totalLoaded {
		return c.total, nil
	}
	total, err := c.factory.total(ctx, c.plan)
	if err != nil {
		return 0, err
	}
	c.total = total
	c.totalLoaded = true
	return total, nil
}

// Remaining counts the matching entries after the view offset. Total includes
// the rows an offset skips; the pages of a collection always cover Remaining,
// which equals Total when the offset is zero.
func (c *Collection) Remaining(ctx context.Context) (int, error) {
	total, err := c.Total(ctx)
	if err != nil {
		return 0, err
	}
	if remaining := total - c.Paging().Offset; remaining > 0 {
		return remaining, nil
	}
	return 0, nil
}

// Pages returns how many pages Remaining spans. A collection without a page
// size has a single page.
func (c *Collection) Pages(ctx context.Context) (int, error) {
	remaining, err := c.Remaining(ctx)
	if err != nil || remaining == 0 {
		return 0, err
	}
	size := c.Paging().PageSize
	if size == 0 {
		return 1, nil
	}
	return (remaining + size - 1) / size, nil
}

// WithPage returns a fresh collection over the same criteria showing page n.
func (c *Collection) WithPage(n int) *Collection {
	paging := c.Paging()
	paging.Page = n
	return c.factory.Open(c.plan.WithPaging(paging.Normalized()))
}

// Position returns the 0-based position of identity in the full sorted set.
func (c *Collection) Position(ctx context.Context, identity string) (int, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.position == nil {
		order, err := c.factory.executor.Order(ctx, c.plan)
		if err != nil {
			return 0, false, err
		}
		c.order = order
		c.position = make(map[string]int, len(order))
		for i, id := range order {
			if _, dup := c.position[id]; !dup {
				c.position[id] = i
			}
		}
		if !c.totalLoaded {
			c.total = len(order)
			c.totalLoaded = true
		}
	}
	position, ok := c.position[identity]
	return position, ok, nil
}

func (f *Factory) total(ctx context.Context, plan *composition.Plan) (int, error) {
	key := cache.NamespaceTotal + plan.Fingerprint()
	if f.totals != nil {
		if total, ok := f.totals.Get(key); ok {
			telemetry.TotalCacheHits.Inc()
			return total, nil
		}
	}

	isUnique := false
	value, err, shared := f.group.Do(key, func() (interface{}, error) {
		isUnique = true
		telemetry.TotalCacheMisses.Inc()
		return f.executor.Total(ctx, plan)
	})
	if err != nil {
		return 0, err
	}
	total := value.(int)
	if shared && !isUnique {
		telemetry.DeduplicatedTotals.Inc()
	}
	if f.totals != nil && isUnique {
		f.totals.Set(key, total, f.ttl)
		f.logger.DebugWithContext(ctx, "cached collection total",
			zap.String("view", plan.View()),
			zap.String("key", key),
			zap.Int("total", total),
		)
	}
	return total, nil
}
