package repository

import (
	"context"

	"github.com/rpattn/formview/internal/domain"
)

// Query describes one fetch against a single source.
type Query struct {
	Source string
	Where  domain.Clause
	Sort   []domain.SortCriterion
	// Limit of zero means unbounded.
	Limit  int
	Offset int
	// Minimal requests an identifiers-only projection: record metadata plus the
	// listed Fields, never the full field map.
	Minimal bool
	Fields  []string
}

// RecordStore is the adapter the composition engine reads records through.
// Fetch and Count only see active records; GetByIDs returns records in any
// status so permission checks can reject trashed ones explicitly.
type RecordStore interface {
	Fetch(ctx context.Context, q Query) ([]domain.Record, error)
	Count(ctx context.Context, source string, where domain.Clause) (int, error)
	GetByIDs(ctx context.Context, ids []string) ([]domain.Record, error)
}

// RecordWriter persists records; used by fixtures, imports and tests.
type RecordWriter interface {
	Save(ctx context.Context, records ...domain.Record) error
}
