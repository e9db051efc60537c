package domain

// FieldDefinition describes one field of a source schema
type FieldDefinition struct {
	ID         string   `json:"id" yaml:"id"`
	Label      string   `json:"label,omitempty" yaml:"label,omitempty"`
	Searchable bool     `json:"searchable,omitempty" yaml:"searchable,omitempty"`
	Operator   Operator `json:"operator,omitempty" yaml:"operator,omitempty"`
}

// Source is an independent record collection with an ordered field schema.
type Source struct {
	ID     string            `json:"id" yaml:"id"`
	Fields []FieldDefinition `json:"fields" yaml:"fields"`
}

// Field returns the field definition with the given id.
func (s Source) Field(id string) (FieldDefinition, bool) {
	for _, field := range s.Fields {
		if field.ID == id {
			return field, true
		}
	}
	return FieldDefinition{}, false
}

// HasField reports whether the source exposes a field id. Metadata pseudo-fields
// are exposed by every source.
func (s Source) HasField(id string) bool {
	if IsMetadataField(id) {
		return true
	}
	_, ok := s.Field(id)
	return ok
}

// SearchableFields lists the fields a global search fans out to, in schema order.
func (s Source) SearchableFields() []string {
	var ids []string
	for _, field := range s.Fields {
		if field.Searchable {
			ids = append(ids, field.ID)
		}
	}
	return ids
}

// FieldIDs returns the schema order of field ids.
func (s Source) FieldIDs() []string {
	ids := make([]string, 0, len(s.Fields))
	for _, field := range s.Fields {
		ids = append(ids, field.ID)
	}
	return ids
}
