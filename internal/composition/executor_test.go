package composition

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/rpattn/formview/internal/domain"
	"github.com/rpattn/formview/internal/repository"
)

var created = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func record(id, source string, approved bool, fields map[string]any) domain.Record {
	return domain.Record{
		ID:        id,
		SourceID:  source,
		Fields:    fields,
		Approved:  approved,
		Status:    domain.RecordStatusActive,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func newStore(t *testing.T, records ...domain.Record) *repository.MemoryStore {
	t.Helper()
	store := repository.NewMemoryStore()
	if err := store.Save(context.Background(), records...); err != nil {
		t.Fatalf("save records: %v", err)
	}
	return store
}

func sources(ids ...string) []domain.Source {
	out := make([]domain.Source, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.Source{ID: id})
	}
	return out
}

func identities(entries []domain.CompositeEntry) []string {
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.Identity())
	}
	return out
}

func assertIdentities(t *testing.T, got []string, want ...string) {
	t.Helper()
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("identities mismatch (-want +got):\n%s", diff)
	}
}

func TestJoin_ApprovalGatedScenario(t *testing.T) {
	store := newStore(t,
		record("a1", "A", true, map[string]any{"key": "1"}),
		record("a2", "A", true, map[string]any{"key": "2"}),
		record("b1", "B", true, map[string]any{"key": "1"}),
		record("b2", "B", false, map[string]any{"key": "1"}),
	)
	view := domain.ViewDefinition{
		ID:             "scoreboard",
		PrimarySource:  "A",
		Sources:        sources("A", "B"),
		Joins:          []domain.JoinEdge{{LeftSource: "A", LeftField: "key", RightSource: "B", RightField: "key"}},
		ApprovalGating: true,
	}
	plan, err := BuildJoin(view, domain.Criteria{})
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	executor := NewExecutor(store, nil)
	ctx := context.Background()

	entries, err := executor.Page(ctx, plan)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	assertIdentities(t, identities(entries), "a1,b1")
	if name, _ := entries[0].Value("B", "key"); name != "1" {
		t.Fatalf("expected hydrated B.key=1, got %v", name)
	}

	flipped := record("b1", "B", false, map[string]any{"key": "1"})
	if err := store.Save(ctx, flipped); err != nil {
		t.Fatalf("save: %v", err)
	}
	entries, err = executor.Page(ctx, plan)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no rows once b1 is unapproved, got %v", identities(entries))
	}
	total, err := executor.Total(ctx, plan)
	if err != nil {
		t.Fatalf("total: %v", err)
	}
	if total != 0 {
		t.Fatalf("expected total 0, got %d", total)
	}
}

func TestJoin_WithoutGateMatchesEveryKeyPair(t *testing.T) {
	store := newStore(t,
		record("a1", "A", false, map[string]any{"key": " 1 "}),
		record("a2", "A", false, map[string]any{"key": ""}),
		record("a3", "A", false, map[string]any{}),
		record("b1", "B", false, map[string]any{"key": 1.0}),
		record("b2", "B", false, map[string]any{"key": "1"}),
		record("b3", "B", false, map[string]any{"key": ""}),
	)
	view := domain.ViewDefinition{
		PrimarySource: "A",
		Sources:       sources("A", "B"),
		Joins:         []domain.JoinEdge{{LeftSource: "A", LeftField: "key", RightSource: "B", RightField: "key"}},
	}
	plan, err := BuildJoin(view, domain.Criteria{})
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	ids, err := NewExecutor(store, nil).Order(context.Background(), plan)
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	// empty and missing keys never join, even to each other
	assertIdentities(t, ids, "a1,b1", "a1,b2")
}

func TestJoin_MultiHopDeclaredOutOfOrder(t *testing.T) {
	store := newStore(t,
		record("o1", "orders", true, map[string]any{"customer": "c1", "ref": "X"}),
		record("o2", "orders", true, map[string]any{"customer": "c2", "ref": "Y"}),
		record("c1", "customers", true, map[string]any{"region": "north"}),
		record("c2", "customers", true, map[string]any{"region": "south"}),
		record("r1", "regions", true, map[string]any{"code": "north", "manager": "Ada"}),
	)
	view := domain.ViewDefinition{
		PrimarySource: "orders",
		Sources:       sources("orders", "customers", "regions"),
		Joins: []domain.JoinEdge{
			{LeftSource: "customers", LeftField: "region", RightSource: "regions", RightField: "code"},
			{LeftSource: "orders", LeftField: "customer", RightSource: "customers", RightField: domain.FieldEntryID},
		},
	}
	plan, err := BuildJoin(view, domain.Criteria{})
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	if got := plan.Sources(); fmt.Sprint(got) != "[orders regions customers]" {
		t.Fatalf("expected identity order to follow edge declaration, got %v", got)
	}
	entries, err := NewExecutor(store, nil).Page(context.Background(), plan)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	assertIdentities(t, identities(entries), "o1,r1,c1")
	if manager, _ := entries[0].Value("regions", "manager"); manager != "Ada" {
		t.Fatalf("expected manager Ada, got %v", manager)
	}
}

func TestJoin_MultiValuedKeysMatchAnyElement(t *testing.T) {
	store := newStore(t,
		record("p1", "projects", true, map[string]any{"tags": []any{"go", "sql"}}),
		record("t1", "teams", true, map[string]any{"skill": "sql"}),
		record("t2", "teams", true, map[string]any{"skill": "rust"}),
	)
	view := domain.ViewDefinition{
		PrimarySource: "projects",
		Sources:       sources("projects", "teams"),
		Joins:         []domain.JoinEdge{{LeftSource: "projects", LeftField: "tags", RightSource: "teams", RightField: "skill"}},
	}
	plan, err := BuildJoin(view, domain.Criteria{})
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	ids, err := NewExecutor(store, nil).Order(context.Background(), plan)
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	assertIdentities(t, ids, "p1,t1")
}

func TestBuildJoin_ConfigurationErrors(t *testing.T) {
	base := domain.ViewDefinition{
		PrimarySource: "A",
		Sources:       sources("A", "B", "C", "D"),
		Joins:         []domain.JoinEdge{{LeftSource: "A", LeftField: "k", RightSource: "B", RightField: "k"}},
	}
	cases := map[string]func(v *domain.ViewDefinition){
		"undeclared primary": func(v *domain.ViewDefinition) { v.PrimarySource = "Z" },
		"self join": func(v *domain.ViewDefinition) {
			v.Joins = append(v.Joins, domain.JoinEdge{LeftSource: "B", LeftField: "k", RightSource: "B", RightField: "j"})
		},
		"unreachable left side": func(v *domain.ViewDefinition) {
			v.Joins = append(v.Joins, domain.JoinEdge{LeftSource: "C", LeftField: "k", RightSource: "D", RightField: "k"})
		},
		"undeclared right side": func(v *domain.ViewDefinition) {
			v.Joins = append(v.Joins, domain.JoinEdge{LeftSource: "B", LeftField: "k", RightSource: "Q", RightField: "k"})
		},
		"column on unreachable source": func(v *domain.ViewDefinition) {
			v.Columns = []domain.ColumnRef{{SourceID: "C", FieldID: "name"}}
		},
		"default sort on undeclared source": func(v *domain.ViewDefinition) {
			v.DefaultSort = []domain.SortCriterion{{SourceID: "Q", FieldID: "name"}}
		},
		"default filter on unreachable source": func(v *domain.ViewDefinition) {
			v.DefaultFilters = []domain.FieldFilter{{SourceID: "D", FieldID: "name", Value: "x"}}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			view := base
			view.Joins = append([]domain.JoinEdge(nil), base.Joins...)
			mutate(&view)
			_, err := BuildJoin(view, domain.Criteria{})
			if !errors.Is(err, domain.ErrConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
			var cfgErr *domain.ConfigurationError
			if !errors.As(err, &cfgErr) || cfgErr.Reason == "" {
				t.Fatalf("expected a described ConfigurationError, got %#v", err)
			}
		})
	}
}

func TestBuildJoin_CriteriaReferencingUnreachableSource(t *testing.T) {
	view := domain.ViewDefinition{PrimarySource: "A", Sources: sources("A", "B")}
	criteria := domain.Criteria{}
	criteria.AddWhere("B", domain.Clause{Filters: []domain.FieldFilter{{SourceID: "B", FieldID: "x", Value: "y"}}})
	if _, err := BuildJoin(view, criteria); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func unionFixture(t *testing.T) (*repository.MemoryStore, domain.ViewDefinition) {
	store := newStore(t,
		record("a1", "A", true, map[string]any{"score": "40"}),
		record("a2", "A", true, map[string]any{"score": "5"}),
		record("b1", "B", true, map[string]any{"points": "12"}),
		record("b2", "B", true, map[string]any{"points": "100"}),
		record("b3", "B", false, map[string]any{"points": "1"}),
	)
	view := domain.ViewDefinition{
		ID:             "leaderboard",
		PrimarySource:  "A",
		Sources:        sources("A", "B"),
		Union:          []domain.UnionField{{Field: "score", Source: "B", SourceField: "points"}},
		ApprovalGating: true,
	}
	return store, view
}

func TestUnion_GlobalOrderAcrossPages(t *testing.T) {
	store, view := unionFixture(t)
	criteria := domain.Criteria{
		Sort:   []domain.SortCriterion{{FieldID: "score", Direction: domain.SortDirectionAsc}},
		Paging: domain.Paging{Page: 1, PageSize: 3},
	}
	plan, err := BuildUnion(view, criteria)
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	executor := NewExecutor(store, nil)
	ctx := context.Background()

	page1, err := executor.Page(ctx, plan)
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	assertIdentities(t, identities(page1), "a2", "b1", "a1")
	if score, _ := page1[1].Value("", "score"); score != "12" {
		t.Fatalf("expected virtual score 12 for b1, got %v", score)
	}

	page2, err := executor.Page(ctx, plan.WithPaging(domain.Paging{Page: 2, PageSize: 3}))
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	assertIdentities(t, identities(page2), "b2")

	total, err := executor.Total(ctx, plan)
	if err != nil {
		t.Fatalf("total: %v", err)
	}
	if total != 4 {
		t.Fatalf("expected 4 gated rows, got %d", total)
	}
}

func TestUnion_OrderMatchesConcatenatedSort(t *testing.T) {
	store, view := unionFixture(t)
	view.ApprovalGating = false
	for _, direction := range []domain.SortDirection{domain.SortDirectionAsc, domain.SortDirectionDesc} {
		plan, err := BuildUnion(view, domain.Criteria{Sort: []domain.SortCriterion{{FieldID: "score", Direction: direction}}})
		if err != nil {
			t.Fatalf("build plan: %v", err)
		}
		got, err := NewExecutor(store, nil).Order(context.Background(), plan)
		if err != nil {
			t.Fatalf("order: %v", err)
		}

		var concatenated []domain.CompositeEntry
		for _, source := range []string{"A", "B"} {
			records, _ := store.Fetch(context.Background(), repository.Query{Source: source})
			for _, r := range records {
				concatenated = append(concatenated, domain.NewUnionEntry(r, plan.Mapping(source)))
			}
		}
		domain.SortEntries(concatenated, plan.Criteria().Sort)
		assertIdentities(t, got, identities(concatenated)...)
	}
}

func TestUnion_PerRowSearchUsesConcreteField(t *testing.T) {
	store, view := unionFixture(t)
	criteria := domain.Criteria{}
	criteria.AddWhere("A", domain.Clause{Filters: []domain.FieldFilter{{FieldID: "score", Operator: domain.OperatorIs, Value: "40"}}})
	criteria.AddWhere("B", domain.Clause{Filters: []domain.FieldFilter{{FieldID: "points", Operator: domain.OperatorIs, Value: "100"}}})
	plan, err := BuildUnion(view, criteria)
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	ids, err := NewExecutor(store, nil).Order(context.Background(), plan)
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	assertIdentities(t, ids, "a1", "b2")
}

func TestBuildUnion_ConfigurationErrors(t *testing.T) {
	_, view := unionFixture(t)

	dup := view
	dup.Union = append(append([]domain.UnionField(nil), view.Union...), domain.UnionField{Field: "score", Source: "B", SourceField: "other"})
	if _, err := BuildUnion(dup, domain.Criteria{}); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected duplicate mapping to be a configuration error, got %v", err)
	}

	unknown := view
	unknown.Union = []domain.UnionField{{Field: "score", Source: "Z", SourceField: "points"}}
	if _, err := BuildUnion(unknown, domain.Criteria{}); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected unknown union source to be a configuration error, got %v", err)
	}
}

func TestPagination_PagesCoverTotal(t *testing.T) {
	var records []domain.Record
	for i := 0; i < 11; i++ {
		records = append(records, record(fmt.Sprintf("r%02d", i), "A", i%4 != 0, map[string]any{"n": fmt.Sprint(i)}))
	}
	store := newStore(t, records...)
	executor := NewExecutor(store, nil)
	ctx := context.Background()

	for _, size := range []int{1, 2, 3, 4, 7, 20} {
		view := domain.ViewDefinition{PrimarySource: "A", Sources: sources("A"), ApprovalGating: true}
		plan, err := Build(view, domain.Criteria{Sort: []domain.SortCriterion{{FieldID: "n"}}, Paging: domain.Paging{Page: 1, PageSize: size}})
		if err != nil {
			t.Fatalf("build plan: %v", err)
		}
		if plan.Kind() != KindSingle {
			t.Fatalf("expected single-source plan, got %s", plan.Kind())
		}
		total, err := executor.Total(ctx, plan)
		if err != nil {
			t.Fatalf("total: %v", err)
		}
		pages := (total + size - 1) / size
		sum := 0
		for page := 1; page <= pages+1; page++ {
			entries, err := executor.Page(ctx, plan.WithPaging(domain.Paging{Page: page, PageSize: size}))
			if err != nil {
				t.Fatalf("page %d: %v", page, err)
			}
			if page > pages && len(entries) != 0 {
				t.Fatalf("size %d: expected page %d to be empty", size, page)
			}
			sum += len(entries)
		}
		if total != 8 || sum != total {
			t.Fatalf("size %d: expected 8 rows across pages, total=%d sum=%d", size, total, sum)
		}
	}
}

func TestSingle_RowPredicateFallsBackToStitching(t *testing.T) {
	store := newStore(t,
		record("a1", "A", true, map[string]any{"name": "North"}),
		record("a2", "A", true, map[string]any{"name": "South"}),
	)
	view := domain.ViewDefinition{PrimarySource: "A", Sources: sources("A")}
	criteria := domain.Criteria{Row: domain.Clause{Filters: []domain.FieldFilter{{SourceID: "A", FieldID: "name", Value: "sou"}}}}
	plan, err := Build(view, criteria)
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	entries, err := NewExecutor(store, nil).Page(context.Background(), plan)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	assertIdentities(t, identities(entries), "a2")
}

func TestPlanFingerprints(t *testing.T) {
	_, view := unionFixture(t)
	a, _ := BuildUnion(view, domain.Criteria{})
	b, _ := BuildUnion(view, domain.Criteria{Paging: domain.Paging{Page: 4, PageSize: 10}})
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatalf("paging must not change the fingerprint")
	}
	filtered := domain.Criteria{}
	filtered.AddWhere("A", domain.Clause{Filters: []domain.FieldFilter{{FieldID: "score", Value: "4"}}})
	c, _ := BuildUnion(view, filtered)
	if a.Fingerprint() == c.Fingerprint() {
		t.Fatalf("filters must change the fingerprint")
	}
	if a.Signature() != c.Signature() {
		t.Fatalf("filters must not change the source signature")
	}
	again, _ := BuildUnion(view, domain.Criteria{})
	if again.Fingerprint() != a.Fingerprint() {
		t.Fatalf("fingerprint must be deterministic")
	}
}

// projectionSpy records the shape of every read the executor issues.
type projectionSpy struct {
	repository.RecordStore
	full    []repository.Query
	minimal int
	byID    int
}

func (s *projectionSpy) Fetch(ctx context.Context, q repository.Query) ([]domain.Record, error) {
	if q.Minimal {
		s.minimal++
	} else {
		s.full = append(s.full, q)
	}
	return s.RecordStore.Fetch(ctx, q)
}

func (s *projectionSpy) GetByIDs(ctx context.Context, ids []string) ([]domain.Record, error) {
	s.byID++
	return s.RecordStore.GetByIDs(ctx, ids)
}

func TestTotal_UsesIdentifiersOnlyProjection(t *testing.T) {
	joinStore := newStore(t,
		record("a1", "A", true, map[string]any{"key": "1", "bio": "long"}),
		record("a2", "A", true, map[string]any{"key": "2"}),
		record("b1", "B", true, map[string]any{"key": "1"}),
	)
	joinView := domain.ViewDefinition{
		ID:            "pairs",
		PrimarySource: "A",
		Sources:       sources("A", "B"),
		Joins:         []domain.JoinEdge{{LeftSource: "A", LeftField: "key", RightSource: "B", RightField: "key"}},
	}
	joinPlan, err := BuildJoin(joinView, domain.Criteria{Paging: domain.Paging{Page: 1, PageSize: 1}})
	if err != nil {
		t.Fatalf("build join: %v", err)
	}

	unionStore, unionView := unionFixture(t)
	row := domain.Criteria{Row: domain.Clause{Mode: domain.ClauseAny, Filters: []domain.FieldFilter{
		{FieldID: "score", Operator: domain.OperatorGreaterThan, Value: "10"},
	}}}
	unionPlan, err := BuildUnion(unionView, row)
	if err != nil {
		t.Fatalf("build union: %v", err)
	}

	tests := []struct {
		name  string
		store repository.RecordStore
		plan  *Plan
		want  int
	}{
		{name: "join", store: joinStore, plan: joinPlan, want: 1},
		{name: "union with row clause", store: unionStore, plan: unionPlan, want: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spy := &projectionSpy{RecordStore: tt.store}
			total, err := NewExecutor(spy, nil).Total(context.Background(), tt.plan)
			if err != nil {
				t.Fatalf("total: %v", err)
			}
			if total != tt.want {
				t.Fatalf("expected total %d, got %d", tt.want, total)
			}
			if len(tt.plan.Sources()) != spy.minimal {
				t.Fatalf("expected one minimal fetch per source, got %d", spy.minimal)
			}
			if len(spy.full) > 0 || spy.byID > 0 {
				t.Fatalf("total must not read full rows: %d full fetches, %d id lookups", len(spy.full), spy.byID)
			}
		})
	}
}
