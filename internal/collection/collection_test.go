package collection

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rpattn/formview/internal/cache"
	"github.com/rpattn/formview/internal/composition"
	"github.com/rpattn/formview/internal/domain"
	"github.com/rpattn/formview/internal/repository"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type countingStore struct {
	repository.RecordStore
	fetches atomic.Int32
	counts  atomic.Int32
	gate    chan struct{}
}

func (s *countingStore) Fetch(ctx context.Context, q repository.Query) ([]domain.Record, error) {
	s.fetches.Add(1)
	return s.RecordStore.Fetch(ctx, q)
}

func (s *countingStore) Count(ctx context.Context, source string, where domain.Clause) (int, error) {
	s.counts.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	return s.RecordStore.Count(ctx, source, where)
}

func seed(t *testing.T, n, approvedEvery int) *repository.MemoryStore {
	t.Helper()
	store := repository.NewMemoryStore()
	var records []domain.Record
	for i := 0; i < n; i++ {
		records = append(records, domain.Record{
			ID:       fmt.Sprintf("r%02d", i),
			SourceID: "scores",
			Approved: i%approvedEvery != 0,
			Fields:   map[string]any{"score": fmt.Sprintf("%d", 100-i)},
		})
	}
	require.NoError(t, store.Save(context.Background(), records...))
	return store
}

func scoresPlan(t *testing.T, pageSize int, gated bool) *composition.Plan {
	t.Helper()
	view := domain.ViewDefinition{
		ID:             "leaderboard",
		PrimarySource:  "scores",
		Sources:        []domain.Source{{ID: "scores", Fields: []domain.FieldDefinition{{ID: "score"}}}},
		DefaultSort:    []domain.SortCriterion{{FieldID: "score", Direction: domain.SortDirectionDesc}},
		PageSize:       pageSize,
		ApprovalGating: gated,
	}
	plan, err := composition.Build(view, domain.Criteria{
		Sort:   view.DefaultSort,
		Paging: domain.Paging{Page: 1, PageSize: pageSize},
	})
	require.NoError(t, err)
	return plan
}

func TestCollection_PagesCoverTotal(t *testing.T) {
	store := seed(t, 11, 4)
	factory := NewFactory(composition.NewExecutor(store, nil))
	first := factory.Open(scoresPlan(t, 3, true))

	total, err := first.Total(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, total)

	pages, err := first.Pages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, pages)

	seen := map[string]bool{}
	sum := 0
	for n := 1; n <= pages; n++ {
		entries, err := first.WithPage(n).All(context.Background())
		require.NoError(t, err)
		sum += len(entries)
		for _, entry := range entries {
			assert.False(t, seen[entry.Identity()], "entry %s appears on two pages", entry.Identity())
			seen[entry.Identity()] = true
		}
	}
	assert.Equal(t, total, sum)

	beyond, err := first.WithPage(pages + 1).Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, beyond)
}

func TestCollection_PagesCoverRemainingAfterOffset(t *testing.T) {
	store := seed(t, 11, 4)
	factory := NewFactory(composition.NewExecutor(store, nil))
	plan := scoresPlan(t, 3, true)
	first := factory.Open(plan.WithPaging(domain.Paging{Page: 1, PageSize: 3, Offset: 2}))
	ctx := context.Background()

	total, err := first.Total(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, total, "offset rows still count towards the total")
	remaining, err := first.Remaining(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, remaining)
	pages, err := first.Pages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, pages)

	sum := 0
	for n := 1; n <= pages; n++ {
		count, err := first.WithPage(n).Count(ctx)
		require.NoError(t, err)
		sum += count
	}
	assert.Equal(t, remaining, sum)

	skipAll := factory.Open(plan.WithPaging(domain.Paging{Page: 1, PageSize: 3, Offset: 20}))
	pages, err = skipAll.Pages(ctx)
	require.NoError(t, err)
	assert.Zero(t, pages)
}

func TestCollection_ReadsAreMemoisedPerInstance(t *testing.T) {
	store := &countingStore{RecordStore: seed(t, 6, 100)}
	factory := NewFactory(composition.NewExecutor(store, nil))
	c := factory.Open(scoresPlan(t, 2, false))

	first, err := c.All(context.Background())
	require.NoError(t, err)
	second, err := c.All(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), store.fetches.Load())

	count, err := c.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, int32(1), store.fetches.Load())

	_, err = c.Total(context.Background())
	require.NoError(t, err)
	_, err = c.Total(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), store.counts.Load())

	next := c.WithPage(2)
	_, err = next.All(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), store.fetches.Load(), "WithPage never shares the memo")
}

func TestCollection_SeesChangesAcrossInstances(t *testing.T) {
	memory := seed(t, 3, 100)
	factory := NewFactory(composition.NewExecutor(memory, nil))
	plan := scoresPlan(t, 10, true)

	before, err := factory.Open(plan).Total(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, before, "r00 is unapproved")

	records, err := memory.GetByIDs(context.Background(), []string{"r01"})
	require.NoError(t, err)
	require.NoError(t, memory.Save(context.Background(), records[0].WithApproval(false)))

	after, err := factory.Open(plan).Total(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, after)
}

func TestCollection_TotalCache(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	totals := cache.NewMemoryStore[int](func() time.Time { return now })
	store := &countingStore{RecordStore: seed(t, 5, 100)}
	factory := NewFactory(composition.NewExecutor(store, nil), WithTotalCache(totals, time.Minute))
	plan := scoresPlan(t, 2, false)

	for i := 0; i < 3; i++ {
		total, err := factory.Open(plan).Total(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 5, total)
	}
	assert.Equal(t, int32(1), store.counts.Load())

	now = now.Add(2 * time.Minute)
	_, err := factory.Open(plan).Total(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), store.counts.Load(), "expired totals are recomputed")

	other, err := factory.Open(scoresPlan(t, 2, true)).Total(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, other, "differently gated plans never share a total")
}

func TestCollection_ConcurrentTotalsAreDeduplicated(t *testing.T) {
	store := &countingStore{RecordStore: seed(t, 4, 100), gate: make(chan struct{})}
	factory := NewFactory(composition.NewExecutor(store, nil))
	plan := scoresPlan(t, 2, false)

	const callers = 5
	var wg sync.WaitGroup
	results := make([]int, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			total, err := factory.Open(plan).Total(context.Background())
			assert.NoError(t, err)
			results[i] = total
		}(i)
	}
	require.Eventually(t, func() bool { return store.counts.Load() == 1 }, time.Second, time.Millisecond)
	// give the other callers time to join the in-flight call
	time.Sleep(20 * time.Millisecond)
	close(store.gate)
	wg.Wait()

	for _, total := range results {
		assert.Equal(t, 4, total)
	}
	assert.LessOrEqual(t, store.counts.Load(), int32(callers))
}

func TestCollection_PositionAndDescriptor(t *testing.T) {
	factory := NewFactory(composition.NewExecutor(seed(t, 6, 3), nil))
	c := factory.Open(scoresPlan(t, 2, true))

	// r00 and r03 are unapproved; descending score keeps id order
	position, ok, err := c.Position(context.Background(), "r04")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, position)

	_, ok, err = c.Position(context.Background(), "r03")
	require.NoError(t, err)
	assert.False(t, ok)

	descriptor := c.Descriptor()
	assert.Equal(t, "leaderboard", descriptor.View)
	assert.Equal(t, domain.Paging{Page: 1, PageSize: 2}, descriptor.Paging)
	assert.Equal(t, descriptor.Fingerprint, c.WithPage(3).Descriptor().Fingerprint)
	assert.NotEqual(t, descriptor.Paging, c.WithPage(3).Descriptor().Paging)
}
