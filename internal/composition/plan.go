// Package composition turns a view definition and translated criteria into an
// executable plan and runs it against a record store, stitching joined rows
// and merging unioned ones into composite entries.
package composition

import (
	"fmt"
	"sort"

	"github.com/rpattn/formview/internal/access"
	"github.com/rpattn/formview/internal/cache"
	"github.com/rpattn/formview/internal/domain"
)

// Kind distinguishes the three plan shapes.
type Kind string

const (
	KindSingle Kind = "single"
	KindJoin   Kind = "join"
	KindUnion  Kind = "union"
)

// Plan is a validated, normalised query over one or more sources. Plans are
// immutable; With* methods return modified copies.
type Plan struct {
	view    string
	kind    Kind
	primary string
	// sources is the identity order: primary first, then join right sides in
	// declaration order, or union sources in declaration order.
	sources []string
	// edges are ordered so each edge's left source is bound before it runs.
	edges []domain.JoinEdge
	// union maps source -> virtual field -> concrete field.
	union    map[string]map[string]string
	criteria domain.Criteria
	gate     access.Gate
}

// Build dispatches to BuildUnion, BuildJoin or a single-source plan.
func Build(view domain.ViewDefinition, criteria domain.Criteria) (*Plan, error) {
	if view.IsUnion() {
		return BuildUnion(view, criteria)
	}
	return BuildJoin(view, criteria)
}

// BuildJoin validates the join graph of a view and binds criteria to it. A view
// without edges yields a single-source plan.
func BuildJoin(view domain.ViewDefinition, criteria domain.Criteria) (*Plan, error) {
	if _, ok := view.Primary(); !ok {
		return nil, domain.NewConfigurationError(view.PrimarySource, "", "primary source is not declared")
	}

	for _, edge := range view.Joins {
		if edge.LeftSource == edge.RightSource {
			return nil, domain.NewConfigurationError(edge.LeftSource, edge.LeftField, "join edge must reference two distinct sources")
		}
		for _, side := range []struct{ source, field string }{{edge.LeftSource, edge.LeftField}, {edge.RightSource, edge.RightField}} {
			if _, ok := view.Source(side.source); !ok {
				return nil, domain.NewConfigurationError(side.source, side.field, "join references an undeclared source")
			}
			if side.field == "" {
				return nil, domain.NewConfigurationError(side.source, "", "join edge is missing a key field")
			}
		}
	}

	ordered, err := orderEdges(view.PrimarySource, view.Joins)
	if err != nil {
		return nil, err
	}

	sources := []string{view.PrimarySource}
	seen := map[string]struct{}{view.PrimarySource: {}}
	for _, edge := range view.Joins {
		if _, ok := seen[edge.RightSource]; ok {
			continue
		}
		seen[edge.RightSource] = struct{}{}
		sources = append(sources, edge.RightSource)
	}

	kind := KindJoin
	if len(ordered) == 0 {
		kind = KindSingle
	}
	plan := &Plan{
		view:     view.ID,
		kind:     kind,
		primary:  view.PrimarySource,
		sources:  sources,
		edges:    ordered,
		criteria: criteria,
		gate:     access.Gate{Enabled: view.ApprovalGating},
	}
	if err := plan.validateReferences(view); err != nil {
		return nil, err
	}
	return plan, nil
}

// BuildUnion validates a union mapping and binds criteria to it.
func BuildUnion(view domain.ViewDefinition, criteria domain.Criteria) (*Plan, error) {
	if _, ok := view.Primary(); !ok {
		return nil, domain.NewConfigurationError(view.PrimarySource, "", "primary source is not declared")
	}
	if len(view.Joins) > 0 {
		return nil, domain.NewConfigurationError(view.PrimarySource, "", "a view cannot both join and union sources")
	}

	sources := []string{view.PrimarySource}
	mapping := map[string]map[string]string{}
	for _, field := range view.Union {
		if field.Field == "" || field.Source == "" || field.SourceField == "" {
			return nil, domain.NewConfigurationError(field.Source, field.Field, "union mapping is incomplete")
		}
		if _, ok := view.Source(field.Source); !ok {
			return nil, domain.NewConfigurationError(field.Source, field.Field, "union references an undeclared source")
		}
		fields, ok := mapping[field.Source]
		if !ok {
			fields = map[string]string{}
			mapping[field.Source] = fields
			if field.Source != view.PrimarySource {
				sources = append(sources, field.Source)
			}
		}
		if _, dup := fields[field.Field]; dup {
			return nil, domain.NewConfigurationError(field.Source, field.Field, "field is mapped more than once for this source")
		}
		fields[field.Field] = field.SourceField
	}

	plan := &Plan{
		view:     view.ID,
		kind:     KindUnion,
		primary:  view.PrimarySource,
		sources:  sources,
		union:    mapping,
		criteria: criteria,
		gate:     access.Gate{Enabled: view.ApprovalGating},
	}
	if err := plan.validateReferences(view); err != nil {
		return nil, err
	}
	return plan, nil
}

// orderEdges computes reachability from the primary to a fixpoint, so edges
// may be declared in any order.
func orderEdges(primary string, edges []domain.JoinEdge) ([]domain.JoinEdge, error) {
	reachable := map[string]bool{primary: true}
	placed := make([]bool, len(edges))
	ordered := make([]domain.JoinEdge, 0, len(edges))
	for progress := true; progress; {
		progress = false
		for i, edge := range edges {
			if placed[i] || !reachable[edge.LeftSource] {
				continue
			}
			placed[i] = true
			reachable[edge.RightSource] = true
			ordered = append(ordered, edge)
			progress = true
		}
	}
	for i, edge := range edges {
		if !placed[i] {
			return nil, domain.NewConfigurationError(edge.LeftSource, edge.LeftField, "join source is not reachable from the primary source")
		}
	}
	return ordered, nil
}

// validateReferences rejects view or criteria references to sources outside
// the plan. Unqualified references always resolve.
func (p *Plan) validateReferences(view domain.ViewDefinition) error {
	check := func(source, field, what string) error {
		if source == "" || p.HasSource(source) {
			return nil
		}
		if _, declared := view.Source(source); !declared {
			return domain.NewConfigurationError(source, field, what+" references an undeclared source")
		}
		return domain.NewConfigurationError(source, field, what+" references a source not reachable from the primary source")
	}
	for _, column := range view.Columns {
		if err := check(column.SourceID, column.FieldID, "column"); err != nil {
			return err
		}
	}
	for _, criterion := range view.DefaultSort {
		if err := check(criterion.SourceID, criterion.FieldID, "default sort"); err != nil {
			return err
		}
	}
	for _, filter := range view.DefaultFilters {
		if err := check(filter.SourceID, filter.FieldID, "default filter"); err != nil {
			return err
		}
	}
	for _, criterion := range p.criteria.Sort {
		if err := check(criterion.SourceID, criterion.FieldID, "sort"); err != nil {
			return err
		}
	}
	for source := range p.criteria.Where {
		if err := check(source, "", "filter"); err != nil {
			return err
		}
	}
	var rowErr error
	walkFilters(p.criteria.Row, func(filter domain.FieldFilter) {
		if rowErr == nil {
			rowErr = check(filter.SourceID, filter.FieldID, "filter")
		}
	})
	return rowErr
}

func walkFilters(clause domain.Clause, fn func(domain.FieldFilter)) {
	for _, filter := range clause.Filters {
		fn(filter)
	}
	for _, group := range clause.Groups {
		walkFilters(group, fn)
	}
}

// View returns the id of the view the plan was built from.
func (p *Plan) View() string { return p.view }

// Kind returns the plan shape.
func (p *Plan) Kind() Kind { return p.kind }

// Primary returns the primary source id.
func (p *Plan) Primary() string { return p.primary }

// Sources returns the participating source ids in identity order.
func (p *Plan) Sources() []string { return append([]string(nil), p.sources...) }

// HasSource reports whether source participates in the plan.
func (p *Plan) HasSource(source string) bool {
	for _, candidate := range p.sources {
		if candidate == source {
			return true
		}
	}
	return false
}

// Edges returns the join edges in evaluation order.
func (p *Plan) Edges() []domain.JoinEdge { return append([]domain.JoinEdge(nil), p.edges...) }

// Criteria returns the bound criteria.
func (p *Plan) Criteria() domain.Criteria { return p.criteria }

// Mapping returns the virtual-to-concrete field mapping of a union source.
func (p *Plan) Mapping(source string) map[string]string {
	fields := p.union[source]
	out := make(map[string]string, len(fields))
	for field, concrete := range fields {
		out[field] = concrete
	}
	return out
}

// ConcreteField resolves a union virtual field for one source.
func (p *Plan) ConcreteField(source, field string) string {
	if concrete, ok := p.union[source][field]; ok {
		return concrete
	}
	return field
}

// WithPaging returns a copy with different paging.
func (p *Plan) WithPaging(paging domain.Paging) *Plan {
	next := *p
	next.criteria.Paging = paging
	return &next
}

// Binding describes the plan's identity positions for permission checks.
func (p *Plan) Binding() access.Binding {
	binding := access.Binding{Sources: p.Sources(), Gate: p.gate, Union: p.kind == KindUnion}
	if p.kind == KindJoin {
		binding.Edges = p.Edges()
	}
	if binding.Union {
		binding.Mappings = make(map[string]map[string]string, len(p.sources))
		for _, source := range p.sources {
			binding.Mappings[source] = p.Mapping(source)
		}
	}
	return binding
}

// where is the push-down clause for a source, gate included.
func (p *Plan) where(source string) domain.Clause {
	return p.criteria.WhereFor(source).And(p.gate.Clause())
}

// Signature identifies the plan's source shape: kind, sources, edges and union
// mapping. It does not change with filters or paging.
func (p *Plan) Signature() string {
	fp := cache.NewFingerprint().WriteString(string(p.kind))
	for _, source := range p.sources {
		fp.WriteString(source)
	}
	for _, edge := range p.edges {
		fp.WriteString(edge.LeftSource).WriteString(edge.LeftField).WriteString(edge.RightSource).WriteString(edge.RightField)
	}
	for _, source := range p.sources {
		mapping := p.union[source]
		fields := make([]string, 0, len(mapping))
		for field := range mapping {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		for _, field := range fields {
			fp.WriteString(source).WriteString(field).WriteString(mapping[field])
		}
	}
	return fmt.Sprintf("%016x", fp.Sum64())
}

// Fingerprint hashes everything that determines the matching set: source
// shape, gate and filters. Sort and paging are excluded.
func (p *Plan) Fingerprint() string {
	fp := cache.NewFingerprint().WriteString(p.Signature()).WriteBool(p.gate.Enabled)
	for _, source := range p.sources {
		fp.WriteString(source)
		writeClause(fp, p.criteria.WhereFor(source))
	}
	fp.WriteString("row")
	writeClause(fp, p.criteria.Row)
	return fmt.Sprintf("%016x", fp.Sum64())
}

// OrderFingerprint extends Fingerprint with the sort order.
func (p *Plan) OrderFingerprint() string {
	fp := cache.NewFingerprint().WriteString(p.Fingerprint())
	for _, criterion := range p.criteria.Sort {
		fp.WriteString(criterion.SourceID).WriteString(criterion.FieldID).WriteString(string(criterion.Direction))
	}
	return fmt.Sprintf("%016x", fp.Sum64())
}

func writeClause(fp *cache.Fingerprint, clause domain.Clause) {
	fp.WriteString(string(clause.Mode)).WriteInt(len(clause.Filters))
	for _, filter := range clause.Filters {
		fp.WriteString(filter.SourceID).WriteString(filter.FieldID).WriteString(string(filter.Operator)).WriteString(filter.Value)
		fp.WriteInt(len(filter.Values))
		for _, value := range filter.Values {
			fp.WriteString(value)
		}
	}
	fp.WriteInt(len(clause.Groups))
	for _, group := range clause.Groups {
		writeClause(fp, group)
	}
}
