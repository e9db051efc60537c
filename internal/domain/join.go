package domain

import "strings"

// JoinEdge is an equality constraint LeftSource.LeftField = RightSource.RightField.
type JoinEdge struct {
	LeftSource  string `json:"left_source" yaml:"left_source"`
	LeftField   string `json:"left_field" yaml:"left_field"`
	RightSource string `json:"right_source" yaml:"right_source"`
	RightField  string `json:"right_field" yaml:"right_field"`
}

// Holds reports whether left and right satisfy the edge. Multi-valued keys
// match when any element is shared.
func (e JoinEdge) Holds(left, right Record) bool {
	return KeysIntersect(JoinKeys(left, e.LeftField), JoinKeys(right, e.RightField))
}

// JoinKeys returns the trimmed, de-duplicated key values of field. Records
// without an id and empty values produce no keys.
func JoinKeys(record Record, field string) []string {
	if record.ID == "" {
		return nil
	}
	value, ok := record.Value(field)
	if !ok {
		return nil
	}
	seen := make(map[string]struct{})
	var keys []string
	for _, candidate := range ValueStrings(value) {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if _, ok := seen[candidate]; ok {
			continue
		}
		seen[candidate] = struct{}{}
		keys = append(keys, candidate)
	}
	return keys
}

// KeysIntersect reports whether a and b share a key.
func KeysIntersect(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, key := range a {
		set[key] = struct{}{}
	}
	for _, key := range b {
		if _, ok := set[key]; ok {
			return true
		}
	}
	return false
}

// UnionField maps a primary display field onto the field a union source stores
// the same value in.
type UnionField struct {
	Field       string `json:"field" yaml:"field"`
	Source      string `json:"source" yaml:"source"`
	SourceField string `json:"source_field" yaml:"source_field"`
}

// ColumnRef is a display column of a view.
type ColumnRef struct {
	SourceID string `json:"source,omitempty" yaml:"source,omitempty"`
	FieldID  string `json:"field" yaml:"field"`
}

// RankSettings configures a sequence column of a view. Start is kept as raw
// text because it comes from user configuration.
type RankSettings struct {
	Field   string `json:"field" yaml:"field"`
	Start   string `json:"start,omitempty" yaml:"start,omitempty"`
	Reverse bool   `json:"reverse,omitempty" yaml:"reverse,omitempty"`
}

// ViewDefinition is the collaborator-supplied description of one view.
type ViewDefinition struct {
	ID               string          `json:"id" yaml:"id"`
	PrimarySource    string          `json:"primary_source" yaml:"primary_source"`
	Sources          []Source        `json:"sources" yaml:"sources"`
	Joins            []JoinEdge      `json:"joins,omitempty" yaml:"joins,omitempty"`
	Union            []UnionField    `json:"union,omitempty" yaml:"union,omitempty"`
	Columns          []ColumnRef     `json:"columns,omitempty" yaml:"columns,omitempty"`
	DefaultFilters   []FieldFilter   `json:"default_filters,omitempty" yaml:"default_filters,omitempty"`
	DefaultSort      []SortCriterion `json:"default_sort,omitempty" yaml:"default_sort,omitempty"`
	PageSize         int             `json:"page_size,omitempty" yaml:"page_size,omitempty"`
	Offset           int             `json:"offset,omitempty" yaml:"offset,omitempty"`
	ApprovalGating   bool            `json:"approval_gating,omitempty" yaml:"approval_gating,omitempty"`
	SearchMode       SearchMode      `json:"search_mode,omitempty" yaml:"search_mode,omitempty"`
	AllowedOperators []Operator      `json:"allowed_operators,omitempty" yaml:"allowed_operators,omitempty"`
	Rank             *RankSettings   `json:"rank,omitempty" yaml:"rank,omitempty"`
}

// Source returns the declared source with the given id.
func (v ViewDefinition) Source(id string) (Source, bool) {
	for _, source := range v.Sources {
		if source.ID == id {
			return source, true
		}
	}
	return Source{}, false
}

// Primary returns the primary source declaration.
func (v ViewDefinition) Primary() (Source, bool) {
	return v.Source(v.PrimarySource)
}

// IsUnion reports whether the view merges sources instead of joining them.
func (v ViewDefinition) IsUnion() bool {
	return len(v.Union) > 0
}
