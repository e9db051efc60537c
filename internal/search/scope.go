package search

import "github.com/rpattn/formview/internal/domain"

// scope is the translator's view of which sources a view queries.
type scope struct {
	view    domain.ViewDefinition
	primary string
	sources []string
	join    bool
	union   bool
	// mapping is source -> virtual field -> concrete field for unions.
	mapping map[string]map[string]string
	allowed map[domain.Operator]bool
}

func newScope(view domain.ViewDefinition) *scope {
	s := &scope{
		view:    view,
		primary: view.PrimarySource,
		sources: []string{view.PrimarySource},
		join:    len(view.Joins) > 0 && !view.IsUnion(),
		union:   view.IsUnion(),
		mapping: map[string]map[string]string{},
	}
	add := func(source string) {
		if !s.has(source) {
			s.sources = append(s.sources, source)
		}
	}
	if s.union {
		for _, field := range view.Union {
			add(field.Source)
			if s.mapping[field.Source] == nil {
				s.mapping[field.Source] = map[string]string{}
			}
			s.mapping[field.Source][field.Field] = field.SourceField
		}
	} else {
		for _, edge := range view.Joins {
			add(edge.LeftSource)
			add(edge.RightSource)
		}
	}

	if len(view.AllowedOperators) > 0 {
		s.allowed = map[domain.Operator]bool{}
		for _, op := range view.AllowedOperators {
			s.allowed[op] = true
		}
	}
	return s
}

func (s *scope) has(source string) bool {
	for _, candidate := range s.sources {
		if candidate == source {
			return true
		}
	}
	return false
}

func (s *scope) source(id string) domain.Source {
	source, _ := s.view.Source(id)
	return source
}

// concrete maps a union virtual field onto a source's own field.
func (s *scope) concrete(source, field string) string {
	if concrete, ok := s.mapping[source][field]; ok {
		return concrete
	}
	return field
}

// allows gates operator overrides: built-in operators only, further narrowed
// by the view's allow-list when it has one.
func (s *scope) allows(op domain.Operator) bool {
	if !op.IsBuiltin() {
		return false
	}
	return s.allowed == nil || s.allowed[op]
}

// preferredOperator is the field's configured operator, or contains.
func (s *scope) preferredOperator(ref FieldRef) domain.Operator {
	source := ref.Source
	if source == "" {
		source = s.primary
	}
	if field, ok := s.source(source).Field(s.concrete(source, ref.Field)); ok && field.Operator.IsBuiltin() {
		return field.Operator
	}
	return domain.OperatorContains
}

// searchable lists the fields a global search covers for a source: the fields
// flagged searchable, or every declared field when none are flagged.
func (s *scope) searchable(source string) []string {
	declared := s.source(source)
	if fields := declared.SearchableFields(); len(fields) > 0 {
		return fields
	}
	return declared.FieldIDs()
}

// unionSearchable lists the fields a global search covers for one source of a
// union: the primary's searchable virtual columns mapped onto the source,
// followed by the source's own searchable fields.
func (s *scope) unionSearchable(source string) []string {
	if source == s.primary {
		return s.searchable(source)
	}
	seen := map[string]bool{}
	var fields []string
	add := func(field string) {
		if field != "" && !seen[field] {
			seen[field] = true
			fields = append(fields, field)
		}
	}
	for _, virtual := range s.searchable(s.primary) {
		add(s.concrete(source, virtual))
	}
	for _, field := range s.source(source).SearchableFields() {
		add(field)
	}
	return fields
}
