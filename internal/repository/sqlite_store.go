package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"go.opentelemetry.io/otel/attribute"
	_ "modernc.org/sqlite"

	"github.com/rpattn/formview/internal/domain"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// SQLiteStore keeps records in a SQLite database, for single-node deployments
// and local fixtures.
type SQLiteStore struct {
	db *sql.DB
}

var (
	_ RecordStore  = (*SQLiteStore)(nil)
	_ RecordWriter = (*SQLiteStore)(nil)
)

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema. ":memory:" gives a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// a single connection keeps in-memory databases alive and avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Fetch executes a single-source query.
func (s *SQLiteStore) Fetch(ctx context.Context, q Query) ([]domain.Record, error) {
	ctx, span := startTrace(ctx, "sqlite.Fetch",
		attribute.String("source", q.Source),
		attribute.Bool("minimal", q.Minimal),
	)
	defer span.End()

	query, args, err := sqliteDialect.selectQuery(q)
	if err != nil {
		return nil, fmt.Errorf("build fetch query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch records: %w", err)
	}
	defer rows.Close()

	return scanSQLiteRecords(rows)
}

// Count returns the number of active records in a source matching where.
func (s *SQLiteStore) Count(ctx context.Context, source string, where domain.Clause) (int, error) {
	ctx, span := startTrace(ctx, "sqlite.Count", attribute.String("source", source))
	defer span.End()

	query, args, err := sqliteDialect.countQuery(source, where)
	if err != nil {
		return 0, fmt.Errorf("build count query: %w", err)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return total, nil
}

// GetByIDs retrieves records in any status, in request order.
func (s *SQLiteStore) GetByIDs(ctx context.Context, ids []string) ([]domain.Record, error) {
	if len(ids) == 0 {
		return []domain.Record{}, nil
	}
	ctx, span := startTrace(ctx, "sqlite.GetByIDs", attribute.Int("ids", len(ids)))
	defer span.End()

	query, args, err := sqliteDialect.idsQuery(ids)
	if err != nil {
		return nil, fmt.Errorf("build id query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get records by IDs: %w", err)
	}
	defer rows.Close()

	records, err := scanSQLiteRecords(rows)
	if err != nil {
		return nil, err
	}
	return orderRecords(ids, records), nil
}

// Save upserts records by id.
func (s *SQLiteStore) Save(ctx context.Context, records ...domain.Record) error {
	if len(records) == 0 {
		return nil
	}
	ctx, span := startTrace(ctx, "sqlite.Save", attribute.Int("records", len(records)))
	defer span.End()

	insert := sq.StatementBuilder.PlaceholderFormat(sq.Question).
		Insert(recordsTable).
		Columns("id", "source_id", "fields", "is_approved", "status", "created_by", "created_at", "updated_at")
	for _, record := range records {
		fields, err := record.FieldsJSON()
		if err != nil {
			return fmt.Errorf("failed to marshal fields: %w", err)
		}
		status, createdAt, updatedAt := storedMetadata(record)
		insert = insert.Values(
			record.ID, record.SourceID, string(fields), record.Approved, status, record.CreatedBy,
			createdAt.Format(sqlTimeLayout), updatedAt.Format(sqlTimeLayout),
		)
	}
	insert = insert.Suffix("ON CONFLICT (id) DO UPDATE SET " +
		"source_id = excluded.source_id, fields = excluded.fields, is_approved = excluded.is_approved, " +
		"status = excluded.status, created_by = excluded.created_by, updated_at = excluded.updated_at")

	query, args, err := insert.ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to save records: %w", err)
	}
	return nil
}

func scanSQLiteRecords(rows *sql.Rows) ([]domain.Record, error) {
	var records []domain.Record
	for rows.Next() {
		var (
			record               domain.Record
			status               string
			createdAt, updatedAt string
			rawFields            sql.NullString
		)
		if err := rows.Scan(
			&record.ID,
			&record.SourceID,
			&record.Approved,
			&status,
			&record.CreatedBy,
			&createdAt,
			&updatedAt,
			&rawFields,
		); err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		fields, err := domain.FieldsFromJSON([]byte(rawFields.String))
		if err != nil {
			return nil, fmt.Errorf("decode record fields: %w", err)
		}
		if record.CreatedAt, err = time.Parse(sqlTimeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("decode created_at: %w", err)
		}
		if record.UpdatedAt, err = time.Parse(sqlTimeLayout, updatedAt); err != nil {
			return nil, fmt.Errorf("decode updated_at: %w", err)
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
