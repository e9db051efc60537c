package domain

import (
	"strings"
)

// IdentitySeparator joins constituent record ids into a composite identity.
const IdentitySeparator = ","

// CompositeEntry is one logical result row: one record per participating
// source for joins, exactly one record for unions.
type CompositeEntry struct {
	sources []string
	records map[string]Record
	// virtual maps a union column onto the concrete field of this row's source.
	virtual map[string]string
}

// NewCompositeEntry bundles records in source order. Sources without a record
// are not allowed; callers only build complete join rows.
func NewCompositeEntry(sources []string, records map[string]Record) CompositeEntry {
	entry := CompositeEntry{
		sources: append([]string(nil), sources...),
		records: make(map[string]Record, len(records)),
	}
	for _, source := range sources {
		if record, ok := records[source]; ok {
			entry.records[source] = record
		}
	}
	return entry
}

// NewUnionEntry wraps a single record of a union. mapping resolves virtual
// column ids to the field id used by the record's source.
func NewUnionEntry(record Record, mapping map[string]string) CompositeEntry {
	entry := NewCompositeEntry([]string{record.SourceID}, map[string]Record{record.SourceID: record})
	if len(mapping) > 0 {
		entry.virtual = make(map[string]string, len(mapping))
		for field, concrete := range mapping {
			entry.virtual[field] = concrete
		}
	}
	return entry
}

// Identity returns the ordered, comma-joined constituent record ids.
func (e CompositeEntry) Identity() string {
	ids := make([]string, 0, len(e.sources))
	for _, source := range e.sources {
		ids = append(ids, e.records[source].ID)
	}
	return strings.Join(ids, IdentitySeparator)
}

// ParseIdentity splits a composite identity into record ids. Empty segments are
// preserved so malformed identities can be rejected by callers.
func ParseIdentity(identity string) []string {
	if strings.TrimSpace(identity) == "" {
		return nil
	}
	parts := strings.Split(identity, IdentitySeparator)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// Sources returns the participating source ids in identity order.
func (e CompositeEntry) Sources() []string {
	return append([]string(nil), e.sources...)
}

// Len returns the number of constituent records.
func (e CompositeEntry) Len() int {
	return len(e.records)
}

// Complete reports whether every participating source has a record.
func (e CompositeEntry) Complete() bool {
	if len(e.sources) == 0 {
		return false
	}
	for _, source := range e.sources {
		if _, ok := e.records[source]; !ok {
			return false
		}
	}
	return true
}

// Record returns the constituent record of a source.
func (e CompositeEntry) Record(sourceID string) (Record, bool) {
	record, ok := e.records[sourceID]
	return record, ok
}

// Records returns the constituent records in identity order.
func (e CompositeEntry) Records() []Record {
	out := make([]Record, 0, len(e.sources))
	for _, source := range e.sources {
		if record, ok := e.records[source]; ok {
			out = append(out, record)
		}
	}
	return out
}

// Primary returns the first constituent record.
func (e CompositeEntry) Primary() (Record, bool) {
	if len(e.sources) == 0 {
		return Record{}, false
	}
	return e.Record(e.sources[0])
}

// Value resolves a field. An empty sourceID targets the primary record, or for
// union rows the concrete field mapped to the virtual column.
func (e CompositeEntry) Value(sourceID, fieldID string) (any, bool) {
	if sourceID == "" {
		primary, ok := e.Primary()
		if !ok {
			return nil, false
		}
		if concrete, mapped := e.virtual[fieldID]; mapped {
			return primary.Value(concrete)
		}
		return primary.Value(fieldID)
	}
	record, ok := e.records[sourceID]
	if !ok {
		return nil, false
	}
	if concrete, mapped := e.virtual[fieldID]; mapped && len(e.sources) == 1 {
		return record.Value(concrete)
	}
	return record.Value(fieldID)
}

// Fields flattens the entry into "source.field" keys for read-only consumers.
func (e CompositeEntry) Fields() map[string]any {
	out := make(map[string]any)
	for _, source := range e.sources {
		record, ok := e.records[source]
		if !ok {
			continue
		}
		for key, value := range record.Fields {
			out[source+"."+key] = value
		}
	}
	for field, concrete := range e.virtual {
		if primary, ok := e.Primary(); ok {
			if value, ok := primary.Value(concrete); ok {
				out[field] = value
			}
		}
	}
	return out
}
