// Package recordloader batches record lookups by id within one request.
package recordloader

import (
	"context"
	"fmt"
	"time"

	"github.com/graph-gophers/dataloader"

	"github.com/rpattn/formview/internal/domain"
	"github.com/rpattn/formview/internal/repository"
)

// DefaultWait is how long the loader collects keys before issuing a batch.
const DefaultWait = 2 * time.Millisecond

type ctxKey string

const loaderKey ctxKey = "recordLoader"

type RecordLoader struct {
	Loader *dataloader.Loader
}

func NewRecordLoader(store repository.RecordStore, wait time.Duration) *RecordLoader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		ids := keys.Keys()

		records, err := store.GetByIDs(ctx, ids)
		if err != nil {
			results := make([]*dataloader.Result, len(keys))
			for i := range results {
				results[i] = &dataloader.Result{Error: fmt.Errorf("load records: %w", err)}
			}
			return results
		}

		byID := make(map[string]domain.Record, len(records))
		for _, record := range records {
			byID[record.ID] = record
		}

		// Results must line up with keys; missing ids resolve to nil.
		results := make([]*dataloader.Result, len(keys))
		for i, id := range ids {
			if record, ok := byID[id]; ok {
				results[i] = &dataloader.Result{Data: record}
			} else {
				results[i] = &dataloader.Result{Data: nil}
			}
		}
		return results
	}

	if wait <= 0 {
		wait = DefaultWait
	}
	loader := dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(wait))
	return &RecordLoader{Loader: loader}
}

// LoadMany resolves ids in one batch. The returned slice lines up with ids;
// found[i] is false when the record does not exist in any status.
func (l *RecordLoader) LoadMany(ctx context.Context, ids []string) ([]domain.Record, []bool, error) {
	values, errs := l.Loader.LoadMany(ctx, dataloader.NewKeysFromStrings(ids))()
	records := make([]domain.Record, len(ids))
	found := make([]bool, len(ids))
	for _, err := range errs {
		if err != nil {
			return nil, nil, err
		}
	}
	for i, value := range values {
		if i >= len(ids) {
			break
		}
		if record, ok := value.(domain.Record); ok {
			records[i] = record
			found[i] = true
		}
	}
	return records, found, nil
}

// Load resolves a single id. Missing records return domain.ErrNotFound.
func (l *RecordLoader) Load(ctx context.Context, id string) (domain.Record, error) {
	value, err := l.Loader.Load(ctx, dataloader.StringKey(id))()
	if err != nil {
		return domain.Record{}, err
	}
	record, ok := value.(domain.Record)
	if !ok {
		return domain.Record{}, fmt.Errorf("record %s: %w", id, domain.ErrNotFound)
	}
	return record, nil
}

// WithLoader returns a context carrying a request-scoped loader.
func WithLoader(ctx context.Context, loader *RecordLoader) context.Context {
	return context.WithValue(ctx, loaderKey, loader)
}

// FromContext returns the request-scoped loader, if one was attached.
func FromContext(ctx context.Context) *RecordLoader {
	if l, ok := ctx.Value(loaderKey).(*RecordLoader); ok {
		return l
	}
	return nil
}
