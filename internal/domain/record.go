package domain

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Pseudo-field identifiers resolved from record metadata rather than field storage.
const (
	FieldEntryID     = "id"
	FieldCreatedBy   = "created_by"
	FieldApproved    = "is_approved"
	FieldDateCreated = "date_created"
	FieldStatus      = "status"
)

// RecordStatus tracks whether a record is live or has been moved to the trash.
type RecordStatus string

const (
	RecordStatusActive  RecordStatus = "active"
	RecordStatusTrashed RecordStatus = "trash"
)

// Record is a single submission stored in one source.
type Record struct {
	ID        string         `json:"id"`
	SourceID  string         `json:"source_id"`
	Fields    map[string]any `json:"fields"`
	Approved  bool           `json:"is_approved"`
	Status    RecordStatus   `json:"status"`
	CreatedBy int64          `json:"created_by"`
	CreatedAt time.Time      `json:"date_created"`
	UpdatedAt time.Time      `json:"date_updated"`
}

// NewRecord creates an active, unapproved record with a generated identifier.
func NewRecord(sourceID string, fields map[string]any) Record {
	now := time.Now().UTC()
	return Record{
		ID:        uuid.NewString(),
		SourceID:  sourceID,
		Fields:    copyFields(fields),
		Status:    RecordStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// WithField returns a copy of the record with an added/updated field value
func (r Record) WithField(key string, value any) Record {
	fields := copyFields(r.Fields)
	fields[key] = value
	r.Fields = fields
	return r
}

// WithFields returns a copy of the record with the field map replaced
func (r Record) WithFields(fields map[string]any) Record {
	r.Fields = copyFields(fields)
	return r
}

// WithApproval returns a copy of the record with the moderation flag set.
func (r Record) WithApproval(approved bool) Record {
	r.Fields = copyFields(r.Fields)
	r.Approved = approved
	return r
}

// IsActive reports whether the record has not been trashed.
func (r Record) IsActive() bool {
	return r.Status == "" || r.Status == RecordStatusActive
}

// Value resolves a field id against the record, including metadata pseudo-fields.
func (r Record) Value(fieldID string) (any, bool) {
	switch fieldID {
	case FieldEntryID:
		if r.ID == "" {
			return nil, false
		}
		return r.ID, true
	case FieldCreatedBy:
		return strconv.FormatInt(r.CreatedBy, 10), true
	case FieldApproved:
		if r.Approved {
			return "1", true
		}
		return "0", true
	case FieldDateCreated:
		if r.CreatedAt.IsZero() {
			return nil, false
		}
		return r.CreatedAt, true
	case FieldStatus:
		if r.Status == "" {
			return string(RecordStatusActive), true
		}
		return string(r.Status), true
	}
	if r.Fields == nil {
		return nil, false
	}
	value, ok := r.Fields[fieldID]
	return value, ok
}

// IsMetadataField reports whether fieldID names a pseudo-field.
func IsMetadataField(fieldID string) bool {
	switch fieldID {
	case FieldEntryID, FieldCreatedBy, FieldApproved, FieldDateCreated, FieldStatus:
		return true
	}
	return false
}

// FieldsJSON encodes the field map for JSON column storage.
func (r Record) FieldsJSON() (json.RawMessage, error) {
	if r.Fields == nil {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(r.Fields)
}

// FieldsFromJSON decodes a stored JSON field map.
func FieldsFromJSON(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = map[string]any{}
	}
	return fields, nil
}

// ProjectRecord keeps only the listed fields; metadata is always retained.
func ProjectRecord(record Record, fields []string) Record {
	projected := record
	projected.Fields = make(map[string]any, len(fields))
	for _, field := range fields {
		if value, ok := record.Fields[field]; ok {
			projected.Fields[field] = value
		}
	}
	return projected
}

// copyFields creates a shallow copy of the field map so callers never share storage
func copyFields(fields map[string]any) map[string]any {
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return copied
}
