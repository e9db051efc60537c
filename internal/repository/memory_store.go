package repository

import (
	"context"
	"sync"

	"github.com/rpattn/formview/internal/domain"
)

// MemoryStore keeps records in process memory. It backs workbook imports and
// tests and is safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	bySource map[string][]string
	records  map[string]domain.Record
}

var (
	_ RecordStore  = (*MemoryStore)(nil)
	_ RecordWriter = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bySource: make(map[string][]string),
		records:  make(map[string]domain.Record),
	}
}

// Save inserts or replaces records by id, keeping first-insert order per source.
func (s *MemoryStore) Save(_ context.Context, records ...domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range records {
		if record.Status == "" {
			record.Status = domain.RecordStatusActive
		}
		record = record.WithFields(record.Fields)
		if existing, ok := s.records[record.ID]; ok && existing.SourceID != record.SourceID {
			s.bySource[existing.SourceID] = removeID(s.bySource[existing.SourceID], record.ID)
			s.bySource[record.SourceID] = append(s.bySource[record.SourceID], record.ID)
		} else if !ok {
			s.bySource[record.SourceID] = append(s.bySource[record.SourceID], record.ID)
		}
		s.records[record.ID] = record
	}
	return nil
}

// Fetch filters, sorts and pages one source.
func (s *MemoryStore) Fetch(ctx context.Context, q Query) ([]domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	matched := s.matching(q.Source, q.Where)
	// ties, and unsorted queries, fall back to id order like the SQL stores
	domain.SortRecords(matched, q.Sort)
	start, end := window(len(matched), q.Limit, q.Offset)
	page := make([]domain.Record, 0, end-start)
	for _, record := range matched[start:end] {
		if q.Minimal {
			record = domain.ProjectRecord(record, q.Fields)
		} else {
			record = record.WithFields(record.Fields)
		}
		page = append(page, record)
	}
	return page, nil
}

// Count returns the number of active records in a source matching where.
func (s *MemoryStore) Count(ctx context.Context, source string, where domain.Clause) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return len(s.matching(source, where)), nil
}

// GetByIDs returns the records that exist, in request order.
func (s *MemoryStore) GetByIDs(ctx context.Context, ids []string) ([]domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Record, 0, len(ids))
	for _, id := range ids {
		if record, ok := s.records[id]; ok {
			out = append(out, record.WithFields(record.Fields))
		}
	}
	return out, nil
}

func (s *MemoryStore) matching(source string, where domain.Clause) []domain.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.bySource[source]
	matched := make([]domain.Record, 0, len(ids))
	for _, id := range ids {
		record := s.records[id]
		if !record.IsActive() {
			continue
		}
		if !domain.MatchClause(record, where) {
			continue
		}
		matched = append(matched, record)
	}
	return matched
}

func window(n, limit, offset int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if offset > n {
		offset = n
	}
	end := n
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return offset, end
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, candidate := range ids {
		if candidate != id {
			out = append(out, candidate)
		}
	}
	return out
}
