package composition

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rpattn/formview/internal/domain"
	"github.com/rpattn/formview/internal/logger"
	"github.com/rpattn/formview/internal/repository"
	"github.com/rpattn/formview/internal/telemetry"
)

// Executor runs plans against a record store. Single-source plans are pushed
// down to the store; joins and unions are stitched after fetching an
// identifiers-only projection, and only the requested page is hydrated.
type Executor struct {
	store  repository.RecordStore
	logger logger.Logger
}

// NewExecutor constructs a plan executor.
func NewExecutor(store repository.RecordStore, log logger.Logger) *Executor {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	return &Executor{store: store, logger: log}
}

// Page returns the entries of the plan's current page in sort order.
func (e *Executor) Page(ctx context.Context, plan *Plan) ([]domain.CompositeEntry, error) {
	paging := plan.criteria.Paging.Normalized()

	if plan.pushdown() {
		records, err := e.fetch(ctx, repository.Query{
			Source: plan.primary,
			Where:  plan.where(plan.primary),
			Sort:   plan.sourceSort(plan.primary),
			Limit:  paging.PageSize,
			Offset: paging.Start(),
		})
		if err != nil {
			return nil, err
		}
		entries := make([]domain.CompositeEntry, 0, len(records))
		for _, record := range records {
			if !plan.gate.Allows(record) {
				continue
			}
			entries = append(entries, plan.entry(map[string]domain.Record{plan.primary: record}))
		}
		return entries, nil
	}

	matched, err := e.matching(ctx, plan, true)
	if err != nil {
		return nil, err
	}
	start, end := paging.Window(len(matched))
	return e.hydrate(ctx, plan, matched[start:end])
}

// Total counts every matching entry, ignoring paging. It never fetches full
// rows.
func (e *Executor) Total(ctx context.Context, plan *Plan) (int, error) {
	if plan.pushdown() {
		return e.count(ctx, plan.primary, plan.where(plan.primary))
	}
	if plan.kind == KindUnion && plan.criteria.Row.IsEmpty() {
		total := 0
		for _, source := range plan.sources {
			n, err := e.count(ctx, source, plan.where(source))
			if err != nil {
				return 0, err
			}
			total += n
		}
		return total, nil
	}
	matched, err := e.matching(ctx, plan, false)
	if err != nil {
		return 0, err
	}
	return len(matched), nil
}

// Order returns the identities of every matching entry in sort order.
func (e *Executor) Order(ctx context.Context, plan *Plan) ([]string, error) {
	if plan.pushdown() {
		records, err := e.fetch(ctx, repository.Query{
			Source:  plan.primary,
			Where:   plan.where(plan.primary),
			Sort:    plan.sourceSort(plan.primary),
			Minimal: true,
			Fields:  plan.sortFields(plan.primary),
		})
		if err != nil {
			return nil, err
		}
		identities := make([]string, 0, len(records))
		for _, record := range records {
			if plan.gate.Allows(record) {
				identities = append(identities, record.ID)
			}
		}
		return identities, nil
	}
	matched, err := e.matching(ctx, plan, true)
	if err != nil {
		return nil, err
	}
	identities := make([]string, 0, len(matched))
	for _, entry := range matched {
		identities = append(identities, entry.Identity())
	}
	return identities, nil
}

// matching evaluates the plan in process over minimal projections.
func (e *Executor) matching(ctx context.Context, plan *Plan, sorted bool) ([]domain.CompositeEntry, error) {
	bySource := make(map[string][]domain.Record, len(plan.sources))
	for _, source := range plan.sources {
		fields := plan.keyFields(source)
		if sorted {
			fields = appendUnique(fields, plan.sortFields(source)...)
		}
		records, err := e.fetch(ctx, repository.Query{
			Source:  source,
			Where:   plan.where(source),
			Minimal: true,
			Fields:  fields,
		})
		if err != nil {
			return nil, err
		}
		visible := records[:0]
		for _, record := range records {
			if plan.gate.Allows(record) {
				visible = append(visible, record)
			}
		}
		bySource[source] = visible
	}

	var entries []domain.CompositeEntry
	switch plan.kind {
	case KindUnion:
		for _, source := range plan.sources {
			for _, record := range bySource[source] {
				entries = append(entries, domain.NewUnionEntry(record, plan.union[source]))
			}
		}
	default:
		entries = plan.stitch(bySource)
	}

	if !plan.criteria.Row.IsEmpty() {
		filtered := entries[:0]
		for _, entry := range entries {
			if domain.MatchEntry(entry, plan.criteria.Row) {
				filtered = append(filtered, entry)
			}
		}
		entries = filtered
	}
	if sorted {
		domain.SortEntries(entries, plan.criteria.Sort)
	}

	e.logger.DebugWithContext(ctx, "composed entries",
		zap.String("view", plan.view),
		zap.String("kind", string(plan.kind)),
		zap.Int("entries", len(entries)),
	)
	return entries, nil
}

// hydrate replaces minimal entries with fully loaded ones, keeping order.
// Entries whose records vanished since the minimal fetch are skipped.
func (e *Executor) hydrate(ctx context.Context, plan *Plan, minimal []domain.CompositeEntry) ([]domain.CompositeEntry, error) {
	if len(minimal) == 0 {
		return []domain.CompositeEntry{}, nil
	}
	seen := map[string]struct{}{}
	var ids []string
	for _, entry := range minimal {
		for _, record := range entry.Records() {
			if _, ok := seen[record.ID]; ok {
				continue
			}
			seen[record.ID] = struct{}{}
			ids = append(ids, record.ID)
		}
	}
	telemetry.StoreQueries.WithLabelValues("get_by_ids", "full").Inc()
	records, err := e.store.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("hydrate entries: %w", err)
	}
	byID := make(map[string]domain.Record, len(records))
	for _, record := range records {
		byID[record.ID] = record
	}

	entries := make([]domain.CompositeEntry, 0, len(minimal))
	for _, entry := range minimal {
		full := make(map[string]domain.Record, entry.Len())
		complete := true
		for _, source := range entry.Sources() {
			stub, _ := entry.Record(source)
			record, ok := byID[stub.ID]
			if !ok || !record.IsActive() {
				complete = false
				break
			}
			full[source] = record
		}
		if !complete {
			continue
		}
		entries = append(entries, plan.entry(full))
	}
	return entries, nil
}

func (e *Executor) fetch(ctx context.Context, q repository.Query) ([]domain.Record, error) {
	projection := "full"
	if q.Minimal {
		projection = "minimal"
	}
	telemetry.StoreQueries.WithLabelValues("fetch", projection).Inc()
	records, err := e.store.Fetch(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("fetch source %s: %w", q.Source, err)
	}
	return records, nil
}

func (e *Executor) count(ctx context.Context, source string, where domain.Clause) (int, error) {
	telemetry.StoreQueries.WithLabelValues("count", "minimal").Inc()
	n, err := e.store.Count(ctx, source, where)
	if err != nil {
		return 0, fmt.Errorf("count source %s: %w", source, err)
	}
	return n, nil
}

// pushdown reports whether the store can evaluate the whole plan itself.
func (p *Plan) pushdown() bool {
	return p.kind == KindSingle && p.criteria.Row.IsEmpty()
}

// entry builds a composite entry from records keyed by source.
func (p *Plan) entry(records map[string]domain.Record) domain.CompositeEntry {
	if p.kind == KindUnion {
		for source, record := range records {
			return domain.NewUnionEntry(record, p.union[source])
		}
	}
	return domain.NewCompositeEntry(p.sources, records)
}

// stitch evaluates the join edges in order over gate-filtered records. Each
// edge is a strict inner equality join on normalised key values.
func (p *Plan) stitch(bySource map[string][]domain.Record) []domain.CompositeEntry {
	rows := make([]map[string]domain.Record, 0, len(bySource[p.primary]))
	for _, record := range bySource[p.primary] {
		rows = append(rows, map[string]domain.Record{p.primary: record})
	}

	for _, edge := range p.edges {
		rightRecords := bySource[edge.RightSource]
		rightIndex := make(map[string][]int)
		for idx, record := range rightRecords {
			for _, key := range domain.JoinKeys(record, edge.RightField) {
				rightIndex[key] = append(rightIndex[key], idx)
			}
		}

		next := make([]map[string]domain.Record, 0, len(rows))
		for _, row := range rows {
			leftKeys := domain.JoinKeys(row[edge.LeftSource], edge.LeftField)
			if len(leftKeys) == 0 {
				continue
			}
			// a source already bound by an earlier edge only constrains the row
			if bound, ok := row[edge.RightSource]; ok {
				if domain.KeysIntersect(leftKeys, domain.JoinKeys(bound, edge.RightField)) {
					next = append(next, row)
				}
				continue
			}

			seen := make(map[int]struct{})
			for _, key := range leftKeys {
				for _, idx := range rightIndex[key] {
					if _, ok := seen[idx]; ok {
						continue
					}
					seen[idx] = struct{}{}
					combined := make(map[string]domain.Record, len(row)+1)
					for source, record := range row {
						combined[source] = record
					}
					combined[edge.RightSource] = rightRecords[idx]
					next = append(next, combined)
				}
			}
		}
		rows = next
	}

	entries := make([]domain.CompositeEntry, 0, len(rows))
	for _, row := range rows {
		entry := domain.NewCompositeEntry(p.sources, row)
		if entry.Complete() {
			entries = append(entries, entry)
		}
	}
	return entries
}

// keyFields lists the non-metadata fields a source must project for joins and
// the row predicate.
func (p *Plan) keyFields(source string) []string {
	var fields []string
	for _, edge := range p.edges {
		if edge.LeftSource == source {
			fields = appendUnique(fields, edge.LeftField)
		}
		if edge.RightSource == source {
			fields = appendUnique(fields, edge.RightField)
		}
	}
	rowFields := p.criteria.Row.FieldIDs(source)
	if p.kind == KindUnion {
		for i, field := range rowFields {
			rowFields[i] = p.ConcreteField(source, field)
		}
	}
	return appendUnique(fields, rowFields...)
}

// sortFields lists the concrete fields a source must project for ordering.
func (p *Plan) sortFields(source string) []string {
	var fields []string
	for _, criterion := range p.sourceSort(source) {
		fields = appendUnique(fields, criterion.FieldID)
	}
	return fields
}

// sourceSort returns the sort criteria that read from one source, resolving
// unqualified and union virtual fields.
func (p *Plan) sourceSort(source string) []domain.SortCriterion {
	var out []domain.SortCriterion
	for _, criterion := range p.criteria.Sort {
		switch {
		case p.kind == KindUnion:
			criterion.FieldID = p.ConcreteField(source, criterion.FieldID)
		case criterion.SourceID == "" && source != p.primary:
			continue
		case criterion.SourceID != "" && criterion.SourceID != source:
			continue
		}
		criterion.SourceID = ""
		out = append(out, criterion)
	}
	return out
}

func appendUnique(fields []string, extra ...string) []string {
	for _, field := range extra {
		if field == "" || domain.IsMetadataField(field) {
			continue
		}
		duplicate := false
		for _, existing := range fields {
			if existing == field {
				duplicate = true
				break
			}
		}
		if !duplicate {
			fields = append(fields, field)
		}
	}
	return fields
}
