package domain

// Operator names a comparison used by a field filter.
type Operator string

const (
	OperatorContains    Operator = "contains"
	OperatorIs          Operator = "is"
	OperatorIsNot       Operator = "isnot"
	OperatorStartsWith  Operator = "starts_with"
	OperatorEndsWith    Operator = "ends_with"
	OperatorGreaterThan Operator = "greater_than"
	OperatorLessThan    Operator = "less_than"
	OperatorIn          Operator = "in"
	OperatorNotIn       Operator = "not_in"
)

// BuiltinOperators is the set of operators the engine evaluates.
var BuiltinOperators = []Operator{
	OperatorContains,
	OperatorIs,
	OperatorIsNot,
	OperatorStartsWith,
	OperatorEndsWith,
	OperatorGreaterThan,
	OperatorLessThan,
	OperatorIn,
	OperatorNotIn,
}

// IsBuiltin reports whether op is one of BuiltinOperators.
func (op Operator) IsBuiltin() bool {
	for _, candidate := range BuiltinOperators {
		if candidate == op {
			return true
		}
	}
	return false
}

// SearchMode controls how the clauses of a global search combine.
type SearchMode string

const (
	SearchModeAny SearchMode = "any"
	SearchModeAll SearchMode = "all"
)

// FieldFilter is a single field-level condition. SourceID qualifies the filter
// to one source; an empty SourceID means the filter is unqualified.
type FieldFilter struct {
	SourceID string   `json:"source,omitempty" yaml:"source,omitempty"`
	FieldID  string   `json:"field" yaml:"field"`
	Operator Operator `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value    string   `json:"value,omitempty" yaml:"value,omitempty"`
	Values   []string `json:"values,omitempty" yaml:"values,omitempty"`
}

// ClauseMode combines the members of a Clause.
type ClauseMode string

const (
	ClauseAll ClauseMode = "and"
	ClauseAny ClauseMode = "or"
)

// Clause is a boolean tree of field filters. The zero value matches everything.
type Clause struct {
	Mode    ClauseMode
	Filters []FieldFilter
	Groups  []Clause
}

// MatchNothing is a clause no record satisfies.
func MatchNothing() Clause {
	return Clause{Mode: ClauseAll, Filters: []FieldFilter{{FieldID: FieldEntryID, Operator: OperatorIn}}}
}

// IsEmpty reports whether the clause has no conditions.
func (c Clause) IsEmpty() bool {
	if len(c.Filters) > 0 {
		return false
	}
	for _, group := range c.Groups {
		if !group.IsEmpty() {
			return false
		}
	}
	return true
}

// And returns a clause requiring both c and other.
func (c Clause) And(other Clause) Clause {
	switch {
	case other.IsEmpty():
		return c
	case c.IsEmpty():
		return other
	}
	if c.mode() == ClauseAll && other.mode() == ClauseAll {
		return Clause{
			Mode:    ClauseAll,
			Filters: append(append([]FieldFilter(nil), c.Filters...), other.Filters...),
			Groups:  append(append([]Clause(nil), c.Groups...), other.Groups...),
		}
	}
	return Clause{Mode: ClauseAll, Groups: []Clause{c, other}}
}

// WithFilter returns a clause that additionally requires filter.
func (c Clause) WithFilter(filter FieldFilter) Clause {
	return c.And(Clause{Mode: ClauseAll, Filters: []FieldFilter{filter}})
}

// FieldIDs returns every field id referenced by the clause for sourceID,
// counting unqualified filters as belonging to every source.
func (c Clause) FieldIDs(sourceID string) []string {
	seen := map[string]struct{}{}
	var ids []string
	var walk func(Clause)
	walk = func(clause Clause) {
		for _, filter := range clause.Filters {
			if filter.SourceID != "" && filter.SourceID != sourceID {
				continue
			}
			if _, ok := seen[filter.FieldID]; ok {
				continue
			}
			seen[filter.FieldID] = struct{}{}
			ids = append(ids, filter.FieldID)
		}
		for _, group := range clause.Groups {
			walk(group)
		}
	}
	walk(c)
	return ids
}

func (c Clause) mode() ClauseMode {
	if c.Mode == ClauseAny {
		return ClauseAny
	}
	return ClauseAll
}
