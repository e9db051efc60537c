// Package rank computes positional sequence numbers for entries of a
// collection, forward or counting down, with a short failure backoff.
package rank

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rpattn/formview/internal/cache"
	"github.com/rpattn/formview/internal/collection"
	"github.com/rpattn/formview/internal/domain"
	"github.com/rpattn/formview/internal/logger"
	"github.com/rpattn/formview/internal/telemetry"
)

const (
	// DefaultStart is used when no start, or a non-numeric one, is configured.
	DefaultStart = 1

	DefaultBaseTTL    = 10 * time.Second
	DefaultFailureTTL = 30 * time.Second
)

// ParseStart reads a configured start value. Any integer is honoured,
// including zero and negatives.
func ParseStart(raw string) int {
	start, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return DefaultStart
	}
	return start
}

// Settings is the immutable numbering configuration of a rank field.
type Settings struct {
	Start   int
	Reverse bool
}

// SettingsFromView converts a view's rank configuration.
func SettingsFromView(settings *domain.RankSettings) Settings {
	if settings == nil {
		return Settings{Start: DefaultStart}
	}
	return Settings{Start: ParseStart(settings.Start), Reverse: settings.Reverse}
}

// InstanceKey identifies one rank field instance. Version changes whenever
// anything that shifts the numbering changes.
type InstanceKey struct {
	View    string
	Field   string
	Version string
}

// NewInstanceKey derives the key of a field rendered over descriptor.
func NewInstanceKey(view, field string, descriptor collection.Descriptor, settings Settings) InstanceKey {
	return InstanceKey{View: view, Field: field, Version: version(descriptor, settings)}
}

func version(descriptor collection.Descriptor, settings Settings) string {
	fp := cache.NewFingerprint().
		WriteString(descriptor.OrderFingerprint).
		WriteInt(descriptor.Paging.Page).
		WriteInt(descriptor.Paging.PageSize).
		WriteInt(descriptor.Paging.Offset).
		WriteInt(settings.Start).
		WriteBool(settings.Reverse)
	return fmt.Sprintf("%016x", fp.Sum64())
}

// Collection is what ranking needs from an entry collection.
type Collection interface {
	Descriptor() collection.Descriptor
	Total(ctx context.Context) (int, error)
	Position(ctx context.Context, identity string) (int, bool, error)
}

// Context is everything one rank evaluation depends on.
type Context struct {
	Collection Collection
	Settings   Settings
	Key        InstanceKey
	// Entry is the identity of the row being numbered; it scopes failure markers.
	Entry string
}

// Calculator computes rank bases and keeps failure markers in a shared store.
type Calculator struct {
	store      cache.Store[int]
	baseTTL    time.Duration
	failureTTL time.Duration
	logger     logger.Logger
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithBaseTTL sets how long computed bases are reused.
func WithBaseTTL(ttl time.Duration) Option {
	return func(c *Calculator) {
		c.baseTTL = ttl
	}
}

// WithFailureTTL sets how long a failure suppresses recomputation.
func WithFailureTTL(ttl time.Duration) Option {
	return func(c *Calculator) {
		c.failureTTL = ttl
	}
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(c *Calculator) {
		c.logger = log
	}
}

// NewCalculator constructs a Calculator over a process-wide store.
func NewCalculator(store cache.Store[int], opts ...Option) *Calculator {
	c := &Calculator{
		store:      store,
		baseTTL:    DefaultBaseTTL,
		failureTTL: DefaultFailureTTL,
		logger:     logger.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Begin starts a render pass. Sequences live as long as the pass.
func (c *Calculator) Begin() *Pass {
	return &Pass{calc: c, id: uuid.NewString(), sequences: map[InstanceKey]*sequence{}}
}

// SingleRank numbers identity by its position in the full filtered and sorted
// set, ignoring page boundaries.
func (c *Calculator) SingleRank(ctx context.Context, rc Context, identity string) int {
	if rc.Entry == "" {
		rc.Entry = identity
	}
	start := rc.Settings.Start
	if c.backingOff(ctx, rc) {
		return start
	}

	rank, err := guard(func() (int, error) {
		position, ok, err := rc.Collection.Position(ctx, identity)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, fmt.Errorf("entry %q is not part of the collection", identity)
		}
		if !rc.Settings.Reverse {
			return start + position, nil
		}
		total, err := rc.Collection.Total(ctx)
		if err != nil {
			return 0, err
		}
		return start + total - 1 - position, nil
	})
	if err != nil {
		c.fail(ctx, rc, err)
		return start
	}
	return rank
}

// base returns the rank of the first row of the current page.
func (c *Calculator) base(ctx context.Context, rc Context) (int, error) {
	descriptor := rc.Collection.Descriptor()
	key := cache.NewFingerprint().
		WriteString(rc.Key.View).
		WriteString(rc.Key.Field).
		WriteString(descriptor.Fingerprint).
		WriteString(version(descriptor, rc.Settings)).
		Key(cache.NamespaceRankBase)
	if base, ok := c.store.Get(key); ok {
		return base, nil
	}

	base, err := guard(func() (int, error) {
		start := rc.Settings.Start + descriptor.Paging.Start()
		if !rc.Settings.Reverse {
			return start, nil
		}
		total, err := rc.Collection.Total(ctx)
		if err != nil {
			return 0, err
		}
		if total == 0 {
			total = 1
		}
		return rc.Settings.Start + total - 1 - descriptor.Paging.Start(), nil
	})
	if err != nil {
		return 0, err
	}
	c.store.Set(key, base, c.baseTTL)
	return base, nil
}

func (c *Calculator) failureKey(rc Context) string {
	return cache.NewFingerprint().
		WriteString(rc.Entry).
		WriteString(rc.Key.View).
		WriteString(rc.Key.Field).
		WriteInt(rc.Settings.Start).
		WriteString(rc.Collection.Descriptor().Signature).
		Key(cache.NamespaceRankFailure)
}

func (c *Calculator) backingOff(ctx context.Context, rc Context) bool {
	if _, ok := c.store.Get(c.failureKey(rc)); !ok {
		return false
	}
	telemetry.RankBackoffSkips.Inc()
	c.logger.DebugWithContext(ctx, "rank failure marker live, using start",
		zap.String("view", rc.Key.View),
		zap.String("field", rc.Key.Field),
		zap.String("entry", rc.Entry),
	)
	return true
}

func (c *Calculator) fail(ctx context.Context, rc Context, err error) {
	telemetry.RankFailures.Inc()
	c.store.Set(c.failureKey(rc), 1, c.failureTTL)
	c.logger.ErrorWithContext(ctx, "rank computation failed, using start",
		zap.String("view", rc.Key.View),
		zap.String("field", rc.Key.Field),
		zap.String("entry", rc.Entry),
		zap.Int("start", rc.Settings.Start),
		zap.Error(err),
	)
}

// guard turns a panic in fn into an error.
func guard(fn func() (int, error)) (value int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rank computation panicked: %v", r)
		}
	}()
	return fn()
}

type sequence struct {
	version string
	next    int
	step    int
}

// Pass holds the sequences of one render pass.
type Pass struct {
	calc *Calculator
	id   string

	mu        sync.Mutex
	sequences map[InstanceKey]*sequence
}

// Rank returns the next number of rc's sequence: successive calls with the
// same key count up, or down in reverse mode, from the page's base.
func (p *Pass) Rank(ctx context.Context, rc Context) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	current := version(rc.Collection.Descriptor(), rc.Settings)
	if seq, ok := p.sequences[rc.Key]; ok && seq.version == current {
		value := seq.next
		seq.next += seq.step
		return value
	}

	if p.calc.backingOff(ctx, rc) {
		return rc.Settings.Start
	}
	base, err := p.calc.base(ctx, rc)
	if err != nil {
		p.calc.fail(ctx, rc, err)
		return rc.Settings.Start
	}

	step := 1
	if rc.Settings.Reverse {
		step = -1
	}
	p.sequences[rc.Key] = &sequence{version: current, next: base + step, step: step}
	p.calc.logger.DebugWithContext(ctx, "rank sequence started",
		zap.String("pass", p.id),
		zap.String("view", rc.Key.View),
		zap.String("field", rc.Key.Field),
		zap.Int("base", base),
	)
	return base
}
