package repository

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rpattn/formview/internal/db"
	"github.com/rpattn/formview/internal/domain"
)

var tracer = otel.Tracer("formview/internal/repository")

func startTrace(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// PostgresStore reads records from the records table through pgx.
type PostgresStore struct {
	db db.DBTX
}

var (
	_ RecordStore  = (*PostgresStore)(nil)
	_ RecordWriter = (*PostgresStore)(nil)
)

// NewPostgresStore creates a record store over a pool, connection or transaction.
func NewPostgresStore(exec db.DBTX) *PostgresStore {
	return &PostgresStore{db: exec}
}

// Fetch executes a single-source query.
func (s *PostgresStore) Fetch(ctx context.Context, q Query) ([]domain.Record, error) {
	ctx, span := startTrace(ctx, "postgres.Fetch",
		attribute.String("source", q.Source),
		attribute.Bool("minimal", q.Minimal),
	)
	defer span.End()

	query, args, err := postgresDialect.selectQuery(q)
	if err != nil {
		return nil, fmt.Errorf("build fetch query: %w", err)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch records: %w", err)
	}
	defer rows.Close()

	records, err := scanPostgresRecords(rows)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("rows", len(records)))
	return records, nil
}

// Count returns the number of active records in a source matching where.
func (s *PostgresStore) Count(ctx context.Context, source string, where domain.Clause) (int, error) {
	ctx, span := startTrace(ctx, "postgres.Count", attribute.String("source", source))
	defer span.End()

	query, args, err := postgresDialect.countQuery(source, where)
	if err != nil {
		return 0, fmt.Errorf("build count query: %w", err)
	}

	var total int64
	if err := s.db.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return int(total), nil
}

// GetByIDs retrieves records in any status, in request order.
func (s *PostgresStore) GetByIDs(ctx context.Context, ids []string) ([]domain.Record, error) {
	if len(ids) == 0 {
		return []domain.Record{}, nil
	}
	ctx, span := startTrace(ctx, "postgres.GetByIDs", attribute.Int("ids", len(ids)))
	defer span.End()

	query, args, err := postgresDialect.idsQuery(ids)
	if err != nil {
		return nil, fmt.Errorf("build id query: %w", err)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get records by IDs: %w", err)
	}
	defer rows.Close()

	records, err := scanPostgresRecords(rows)
	if err != nil {
		return nil, err
	}
	return orderRecords(ids, records), nil
}

// Save upserts records by id.
func (s *PostgresStore) Save(ctx context.Context, records ...domain.Record) error {
	if len(records) == 0 {
		return nil
	}
	ctx, span := startTrace(ctx, "postgres.Save", attribute.Int("records", len(records)))
	defer span.End()

	insert := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).
		Insert(recordsTable).
		Columns("id", "source_id", "fields", "is_approved", "status", "created_by", "created_at", "updated_at")
	for _, record := range records {
		fields, err := record.FieldsJSON()
		if err != nil {
			return fmt.Errorf("failed to marshal fields: %w", err)
		}
		status, createdAt, updatedAt := storedMetadata(record)
		insert = insert.Values(record.ID, record.SourceID, fields, record.Approved, status, record.CreatedBy, createdAt, updatedAt)
	}
	insert = insert.Suffix("ON CONFLICT (id) DO UPDATE SET " +
		"source_id = EXCLUDED.source_id, fields = EXCLUDED.fields, is_approved = EXCLUDED.is_approved, " +
		"status = EXCLUDED.status, created_by = EXCLUDED.created_by, updated_at = EXCLUDED.updated_at")

	query, args, err := insert.ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to save records: %w", err)
	}
	return nil
}

func scanPostgresRecords(rows pgx.Rows) ([]domain.Record, error) {
	var records []domain.Record
	for rows.Next() {
		var (
			record    domain.Record
			status    string
			rawFields []byte
		)
		if err := rows.Scan(
			&record.ID,
			&record.SourceID,
			&record.Approved,
			&status,
			&record.CreatedBy,
			&record.CreatedAt,
			&record.UpdatedAt,
			&rawFields,
		); err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		fields, err := domain.FieldsFromJSON(rawFields)
		if err != nil {
			return nil, fmt.Errorf("decode record fields: %w", err)
		}
		record.Status = domain.RecordStatus(status)
		record.Fields = fields
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate record rows: %w", err)
	}
	return records, nil
}

func storedMetadata(record domain.Record) (string, time.Time, time.Time) {
	status := string(record.Status)
	if status == "" {
		status = string(domain.RecordStatusActive)
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	updatedAt := record.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}
	return status, createdAt.UTC(), updatedAt.UTC()
}
