package repository

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/rpattn/formview/internal/domain"
)

// sqlTimeLayout is the fixed-width text form SQLite stores timestamps in, so
// lexical order equals chronological order.
const sqlTimeLayout = "2006-01-02T15:04:05.000000000Z"

const recordsTable = "records"

var metadataColumns = []string{"id", "source_id", "is_approved", "status", "created_by", "created_at", "updated_at"}

// dialect captures the expression differences between the SQL record stores.
type dialect struct {
	name        string
	placeholder sq.PlaceholderFormat
	// fieldText returns a text expression for a JSON field of the record.
	fieldText func(field string) sq.Sqlizer
	// projection builds a JSON object holding only the listed fields.
	projection func(fields []string) sq.Sqlizer
	// numeric casts a text expression to a number, or NULL when it is not one.
	numeric func(expr string) string
	timeArg func(t time.Time) any
}

var postgresDialect = dialect{
	name:        "postgres",
	placeholder: sq.Dollar,
	fieldText: func(field string) sq.Sqlizer {
		return sq.Expr("(fields ->> ?::text)", field)
	},
	projection: func(fields []string) sq.Sqlizer {
		if len(fields) == 0 {
			return sq.Expr("'{}'::jsonb")
		}
		parts := make([]string, 0, len(fields))
		args := make([]any, 0, len(fields)*2)
		for _, field := range fields {
			parts = append(parts, "?::text, fields -> ?::text")
			args = append(args, field, field)
		}
		return sq.Expr("jsonb_build_object("+strings.Join(parts, ", ")+")", args...)
	},
	numeric: func(expr string) string {
		// "??" is squirrel's escape for a literal question mark
		return fmt.Sprintf("(CASE WHEN %s ~ '^-??[0-9]+(\\.[0-9]+)??$' THEN (%s)::numeric END)", expr, expr)
	},
	timeArg: func(t time.Time) any { return t.UTC() },
}

var sqliteDialect = dialect{
	name:        "sqlite",
	placeholder: sq.Question,
	fieldText: func(field string) sq.Sqlizer {
		return sq.Expr("CAST(json_extract(fields, ?) AS TEXT)", sqlitePath(field))
	},
	projection: func(fields []string) sq.Sqlizer {
		if len(fields) == 0 {
			return sq.Expr("'{}'")
		}
		parts := make([]string, 0, len(fields))
		args := make([]any, 0, len(fields)*2)
		for _, field := range fields {
			parts = append(parts, "?, json_extract(fields, ?)")
			args = append(args, field, sqlitePath(field))
		}
		return sq.Expr("json_object("+strings.Join(parts, ", ")+")", args...)
	},
	numeric: func(expr string) string {
		return fmt.Sprintf("(CASE WHEN %s GLOB '*[0-9]*' AND %s NOT GLOB '*[^0-9.-]*' THEN CAST(%s AS REAL) END)", expr, expr, expr)
	},
	timeArg: func(t time.Time) any { return t.UTC().Format(sqlTimeLayout) },
}

func sqlitePath(field string) string {
	return `$."` + strings.ReplaceAll(field, `"`, `\"`) + `"`
}

// fieldExpr resolves a field id to a text expression, mapping metadata
// pseudo-fields onto their columns.
func (d dialect) fieldExpr(field string) (string, []any, error) {
	switch field {
	case domain.FieldEntryID:
		return "id", nil, nil
	case domain.FieldCreatedBy:
		return "CAST(created_by AS TEXT)", nil, nil
	case domain.FieldApproved:
		return "(CASE WHEN is_approved THEN '1' ELSE '0' END)", nil, nil
	case domain.FieldStatus:
		return "status", nil, nil
	case domain.FieldDateCreated:
		return "created_at", nil, nil
	}
	return d.fieldText(field).ToSql()
}

// compileClause turns a clause into a squirrel predicate. A nil result means
// the clause matches everything.
func (d dialect) compileClause(clause domain.Clause) (sq.Sqlizer, error) {
	if clause.IsEmpty() {
		return nil, nil
	}
	parts := make([]sq.Sqlizer, 0, len(clause.Filters)+len(clause.Groups))
	for _, filter := range clause.Filters {
		part, err := d.compileFilter(filter)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
	for _, group := range clause.Groups {
		part, err := d.compileClause(group)
		if err != nil {
			return nil, err
		}
		if part != nil {
			parts = append(parts, part)
		}
	}
	if clause.Mode == domain.ClauseAny {
		return sq.Or(parts), nil
	}
	return sq.And(parts), nil
}

func (d dialect) compileFilter(filter domain.FieldFilter) (sq.Sqlizer, error) {
	if filter.FieldID == domain.FieldDateCreated {
		if when, ok := domain.ParseDate(filter.Value); ok {
			switch filter.Operator {
			case domain.OperatorGreaterThan:
				return sq.Expr("created_at > ?", d.timeArg(when)), nil
			case domain.OperatorLessThan:
				return sq.Expr("created_at < ?", d.timeArg(when)), nil
			}
		}
	}
	expr, args, err := d.fieldExpr(filter.FieldID)
	if err != nil {
		return nil, fmt.Errorf("compile field %q: %w", filter.FieldID, err)
	}
	if filter.FieldID == domain.FieldDateCreated && d.name == "postgres" {
		expr = "to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD\"T\"HH24:MI:SS\"Z\"')"
	}
	lower := "LOWER(" + expr + ")"
	with := func(sql string, extra ...any) sq.Sqlizer {
		return sq.Expr(sql, append(repeatArgs(args, strings.Count(sql, expr)), extra...)...)
	}

	op := filter.Operator
	if op == "" {
		op = domain.OperatorContains
	}
	switch op {
	case domain.OperatorContains:
		return with(lower+" LIKE ? ESCAPE '\\'", "%"+escapeLike(strings.ToLower(filter.Value))+"%"), nil
	case domain.OperatorStartsWith:
		return with(lower+" LIKE ? ESCAPE '\\'", escapeLike(strings.ToLower(filter.Value))+"%"), nil
	case domain.OperatorEndsWith:
		return with(lower+" LIKE ? ESCAPE '\\'", "%"+escapeLike(strings.ToLower(filter.Value))), nil
	case domain.OperatorIs:
		if filter.Value == "" {
			return with("COALESCE(" + expr + ", '') = ''"), nil
		}
		return with(lower+" = ?", strings.ToLower(filter.Value)), nil
	case domain.OperatorIsNot:
		return with("("+expr+" IS NULL OR "+lower+" <> ?)", strings.ToLower(filter.Value)), nil
	case domain.OperatorGreaterThan, domain.OperatorLessThan:
		cmp := ">"
		if op == domain.OperatorLessThan {
			cmp = "<"
		}
		if number, err := strconv.ParseFloat(strings.TrimSpace(filter.Value), 64); err == nil {
			return with(d.numeric(expr)+" "+cmp+" ?", number), nil
		}
		return with(lower+" "+cmp+" ?", strings.ToLower(filter.Value)), nil
	case domain.OperatorIn, domain.OperatorNotIn:
		if len(filter.Values) == 0 {
			if op == domain.OperatorIn {
				return sq.Expr("1 = 0"), nil
			}
			return sq.Expr("1 = 1"), nil
		}
		values := make([]any, 0, len(filter.Values))
		for _, value := range filter.Values {
			values = append(values, strings.ToLower(value))
		}
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
		if op == domain.OperatorIn {
			return with(lower+" IN ("+marks+")", values...), nil
		}
		return with("("+expr+" IS NULL OR "+lower+" NOT IN ("+marks+"))", values...), nil
	}
	return nil, fmt.Errorf("unsupported operator %q", op)
}

// orderBy renders sort criteria with an id tiebreak. Form fields order the way
// domain.CompareStrings does: missing values last, numbers numerically before
// text, text case-insensitively.
func (d dialect) orderBy(criteria []domain.SortCriterion) ([]string, []any, error) {
	clauses := make([]string, 0, len(criteria)*4+1)
	var args []any
	for _, criterion := range criteria {
		if criterion.FieldID == "" {
			continue
		}
		expr, exprArgs, err := d.fieldExpr(criterion.FieldID)
		if err != nil {
			return nil, nil, err
		}
		direction := "ASC"
		if criterion.Direction == domain.SortDirectionDesc {
			direction = "DESC"
		}
		if domain.IsMetadataField(criterion.FieldID) {
			clauses = append(clauses, fmt.Sprintf("%s %s NULLS LAST", expr, direction))
			args = append(args, exprArgs...)
			continue
		}
		number := d.numeric(expr)
		for _, clause := range []string{
			fmt.Sprintf("(CASE WHEN COALESCE(%s, '') = '' THEN 1 ELSE 0 END) ASC", expr),
			fmt.Sprintf("(CASE WHEN %s IS NULL THEN 1 ELSE 0 END) %s", number, direction),
			fmt.Sprintf("%s %s NULLS LAST", number, direction),
			fmt.Sprintf("LOWER(%s) %s", expr, direction),
		} {
			clauses = append(clauses, clause)
			args = append(args, repeatArgs(exprArgs, strings.Count(clause, expr))...)
		}
	}
	clauses = append(clauses, "id ASC")
	return clauses, args, nil
}

// selectQuery builds the fetch statement for q.
func (d dialect) selectQuery(q Query) (string, []any, error) {
	builder := sq.StatementBuilder.PlaceholderFormat(d.placeholder).
		Select(metadataColumns...).
		From(recordsTable).
		Where(sq.Eq{"source_id": q.Source}).
		Where(sq.Eq{"status": string(domain.RecordStatusActive)})
	if q.Minimal {
		builder = builder.Column(d.projection(q.Fields))
	} else {
		builder = builder.Column("fields")
	}
	where, err := d.compileClause(q.Where)
	if err != nil {
		return "", nil, err
	}
	if where != nil {
		builder = builder.Where(where)
	}
	order, orderArgs, err := d.orderBy(q.Sort)
	if err != nil {
		return "", nil, err
	}
	builder = builder.OrderByClause(strings.Join(order, ", "), orderArgs...)
	if q.Limit > 0 {
		builder = builder.Limit(uint64(q.Limit))
	}
	if q.Offset > 0 {
		builder = builder.Offset(uint64(q.Offset))
	}
	return builder.ToSql()
}

func (d dialect) countQuery(source string, where domain.Clause) (string, []any, error) {
	builder := sq.StatementBuilder.PlaceholderFormat(d.placeholder).
		Select("COUNT(*)").
		From(recordsTable).
		Where(sq.Eq{"source_id": source}).
		Where(sq.Eq{"status": string(domain.RecordStatusActive)})
	predicate, err := d.compileClause(where)
	if err != nil {
		return "", nil, err
	}
	if predicate != nil {
		builder = builder.Where(predicate)
	}
	return builder.ToSql()
}

func (d dialect) idsQuery(ids []string) (string, []any, error) {
	return sq.StatementBuilder.PlaceholderFormat(d.placeholder).
		Select(metadataColumns...).
		Column("fields").
		From(recordsTable).
		Where(sq.Eq{"id": ids}).
		ToSql()
}

func repeatArgs(args []any, n int) []any {
	out := make([]any, 0, len(args)*n)
	for i := 0; i < n; i++ {
		out = append(out, args...)
	}
	return out
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}

// orderRecords restores request order for GetByIDs results.
func orderRecords(ids []string, records []domain.Record) []domain.Record {
	byID := make(map[string]domain.Record, len(records))
	for _, record := range records {
		byID[record.ID] = record
	}
	out := make([]domain.Record, 0, len(ids))
	for _, id := range ids {
		if record, ok := byID[id]; ok {
			out = append(out, record)
		}
	}
	return out
}
