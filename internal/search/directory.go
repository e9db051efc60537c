package search

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rpattn/formview/internal/domain"
	"github.com/rpattn/formview/internal/repository"
)

// DefaultUserSource is the source RecordDirectory reads profiles from.
const DefaultUserSource = "users"

// RecordDirectory is a UserDirectory over profile records kept in the record
// store. A profile's user id is its numeric record id.
type RecordDirectory struct {
	store  repository.RecordStore
	source string
}

var _ UserDirectory = (*RecordDirectory)(nil)

func NewRecordDirectory(store repository.RecordStore, source string) *RecordDirectory {
	if source == "" {
		source = DefaultUserSource
	}
	return &RecordDirectory{store: store, source: source}
}

// FindUserIDs returns the ids of profiles where any attribute contains text.
func (d *RecordDirectory) FindUserIDs(ctx context.Context, text string, attributes []string) ([]int64, error) {
	if text == "" || len(attributes) == 0 {
		return nil, nil
	}
	where := domain.Clause{Mode: domain.ClauseAny}
	for _, attribute := range attributes {
		where.Filters = append(where.Filters, domain.FieldFilter{
			FieldID:  attribute,
			Operator: domain.OperatorContains,
			Value:    text,
		})
	}
	records, err := d.store.Fetch(ctx, repository.Query{
		Source:  d.source,
		Where:   where,
		Minimal: true,
	})
	if err != nil {
		return nil, fmt.Errorf("find users matching %q: %w", text, err)
	}
	var ids []int64
	for _, record := range records {
		if id, err := strconv.ParseInt(record.ID, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
