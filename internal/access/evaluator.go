package access

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rpattn/formview/internal/auth"
	"github.com/rpattn/formview/internal/domain"
	"github.com/rpattn/formview/internal/logger"
	"github.com/rpattn/formview/internal/recordloader"
	"github.com/rpattn/formview/internal/repository"
)

// Evaluator performs fail-closed access checks on entry identities. Any
// constituent that fails its own check denies the whole identity.
type Evaluator struct {
	store  repository.RecordStore
	logger logger.Logger
}

// NewEvaluator constructs an evaluator reading records from store.
func NewEvaluator(store repository.RecordStore, log logger.Logger) *Evaluator {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	return &Evaluator{store: store, logger: log}
}

// CheckAccess returns nil when viewer may see identity under binding, or an
// *domain.AccessDeniedError. Store failures are returned as they are.
func (e *Evaluator) CheckAccess(ctx context.Context, binding Binding, identity string, viewer auth.Viewer) error {
	_, err := e.Resolve(ctx, binding, identity, viewer)
	return err
}

// Resolve checks access and builds the composite entry for identity.
func (e *Evaluator) Resolve(ctx context.Context, binding Binding, identity string, viewer auth.Viewer) (domain.CompositeEntry, error) {
	ids := domain.ParseIdentity(identity)
	expected := len(binding.Sources)
	if binding.Union {
		expected = 1
	}
	if len(ids) == 0 || len(ids) != expected || expected == 0 {
		return domain.CompositeEntry{}, e.deny(ctx, identity, "malformed identity")
	}
	for _, id := range ids {
		if id == "" {
			return domain.CompositeEntry{}, e.deny(ctx, identity, "malformed identity")
		}
	}

	loader := recordloader.FromContext(ctx)
	if loader == nil {
		loader = recordloader.NewRecordLoader(e.store, recordloader.DefaultWait)
	}
	records, found, err := load(ctx, loader, binding, ids)
	if err != nil {
		return domain.CompositeEntry{}, fmt.Errorf("resolve identity %q: %w", identity, err)
	}

	gate := binding.Gate
	if viewer.Can(auth.CapabilityModerate) {
		gate = Gate{}
	}

	bySource := make(map[string]domain.Record, len(ids))
	for i, record := range records {
		if !found[i] {
			return domain.CompositeEntry{}, e.deny(ctx, identity, fmt.Sprintf("record %s not found", ids[i]))
		}
		if binding.Union {
			if !contains(binding.Sources, record.SourceID) {
				return domain.CompositeEntry{}, e.deny(ctx, identity, fmt.Sprintf("record %s is outside the view", record.ID))
			}
		} else if record.SourceID != binding.Sources[i] {
			return domain.CompositeEntry{}, e.deny(ctx, identity, fmt.Sprintf("record %s does not belong to %s", record.ID, binding.Sources[i]))
		}
		if !record.IsActive() {
			return domain.CompositeEntry{}, e.deny(ctx, identity, fmt.Sprintf("record %s is %s", record.ID, record.Status))
		}
		if !gate.Allows(record) {
			return domain.CompositeEntry{}, e.deny(ctx, identity, fmt.Sprintf("record %s is awaiting approval", record.ID))
		}
		bySource[record.SourceID] = record
	}

	if binding.Union {
		record := records[0]
		return domain.NewUnionEntry(record, binding.Mappings[record.SourceID]), nil
	}
	for _, edge := range binding.Edges {
		if !edge.Holds(bySource[edge.LeftSource], bySource[edge.RightSource]) {
			return domain.CompositeEntry{}, e.deny(ctx, identity, fmt.Sprintf("%s.%s does not match %s.%s",
				edge.LeftSource, edge.LeftField, edge.RightSource, edge.RightField))
		}
	}
	return domain.NewCompositeEntry(binding.Sources, bySource), nil
}

// load fetches the constituents of an identity. found[i] is false for ids with
// no record in any status.
func load(ctx context.Context, loader *recordloader.RecordLoader, binding Binding, ids []string) ([]domain.Record, []bool, error) {
	if !binding.Union {
		return loader.LoadMany(ctx, ids)
	}
	record, err := loader.Load(ctx, ids[0])
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return []domain.Record{{}}, []bool{false}, nil
	case err != nil:
		return nil, nil, err
	}
	return []domain.Record{record}, []bool{true}, nil
}

func (e *Evaluator) deny(ctx context.Context, identity, reason string) error {
	e.logger.DebugWithContext(ctx, "access denied",
		zap.String("identity", identity),
		zap.String("reason", reason),
	)
	return domain.NewAccessDenied(identity, reason)
}

func contains(values []string, value string) bool {
	for _, candidate := range values {
		if candidate == value {
			return true
		}
	}
	return false
}
