package repository

import (
	"reflect"
	"strings"
	"testing"

	"github.com/rpattn/formview/internal/domain"
)

func TestPostgresSelectQuery(t *testing.T) {
	query, args, err := postgresDialect.selectQuery(Query{
		Source: "teams",
		Where:  domain.Clause{Filters: []domain.FieldFilter{{FieldID: "name", Value: "50%"}}},
		Sort:   []domain.SortCriterion{{FieldID: "name", Direction: domain.SortDirectionDesc}},
		Limit:  10,
		Offset: 20,
	})
	if err != nil {
		t.Fatalf("build query: %v", err)
	}

	for _, fragment := range []string{
		"FROM records",
		"source_id = $1",
		"status = $2",
		"LOWER((fields ->> $3::text)) LIKE $4",
		"ORDER BY (CASE WHEN COALESCE((fields ->> $5::text), '') = '' THEN 1 ELSE 0 END) ASC",
		"::numeric END) IS NULL THEN 1 ELSE 0 END) DESC",
		"::numeric END) DESC NULLS LAST",
		"LOWER((fields ->> $10::text)) DESC, id ASC",
		"LIMIT 10",
		"OFFSET 20",
	} {
		if !strings.Contains(query, fragment) {
			t.Fatalf("expected %q in query:\n%s", fragment, query)
		}
	}
	wantArgs := []any{"teams", "active", "name", `%50\%%`, "name", "name", "name", "name", "name", "name"}
	if !reflect.DeepEqual(args, wantArgs) {
		t.Fatalf("expected args %#v, got %#v", wantArgs, args)
	}
}

func TestPostgresMinimalProjection(t *testing.T) {
	query, args, err := postgresDialect.selectQuery(Query{Source: "teams", Minimal: true, Fields: []string{"team", "score"}})
	if err != nil {
		t.Fatalf("build query: %v", err)
	}
	if strings.Contains(query, ", fields FROM") {
		t.Fatalf("minimal query must not select the full field map:\n%s", query)
	}
	if !strings.Contains(query, "jsonb_build_object($1::text, fields -> $2::text, $3::text, fields -> $4::text)") {
		t.Fatalf("unexpected projection:\n%s", query)
	}
	if len(args) != 6 {
		t.Fatalf("expected projection and scope args, got %#v", args)
	}
}

func TestCompileClause_Operators(t *testing.T) {
	cases := []struct {
		name     string
		filter   domain.FieldFilter
		fragment string
		args     int
	}{
		{"is", domain.FieldFilter{FieldID: "city", Operator: domain.OperatorIs, Value: "Leeds"}, "LOWER((fields ->> ?::text)) = ?", 2},
		{"empty is", domain.FieldFilter{FieldID: "city", Operator: domain.OperatorIs}, "COALESCE((fields ->> ?::text), '') = ''", 1},
		{"isnot", domain.FieldFilter{FieldID: "city", Operator: domain.OperatorIsNot, Value: "Leeds"}, "IS NULL OR LOWER", 3},
		{"numeric greater", domain.FieldFilter{FieldID: "score", Operator: domain.OperatorGreaterThan, Value: "10"}, "::numeric END) > ?", 3},
		{"text less", domain.FieldFilter{FieldID: "name", Operator: domain.OperatorLessThan, Value: "m"}, "LOWER((fields ->> ?::text)) < ?", 2},
		{"in", domain.FieldFilter{FieldID: "city", Operator: domain.OperatorIn, Values: []string{"Leeds", "York"}}, "IN (?, ?)", 3},
		{"not in", domain.FieldFilter{FieldID: "city", Operator: domain.OperatorNotIn, Values: []string{"Leeds"}}, "NOT IN (?)", 3},
		{"metadata", domain.FieldFilter{FieldID: domain.FieldCreatedBy, Operator: domain.OperatorIs, Value: "7"}, "LOWER(CAST(created_by AS TEXT)) = ?", 1},
		{"approval", domain.FieldFilter{FieldID: domain.FieldApproved, Operator: domain.OperatorIs, Value: "1"}, "CASE WHEN is_approved", 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			part, err := postgresDialect.compileFilter(tc.filter)
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			sql, args, err := part.ToSql()
			if err != nil {
				t.Fatalf("to sql: %v", err)
			}
			if !strings.Contains(sql, tc.fragment) {
				t.Fatalf("expected %q in %q", tc.fragment, sql)
			}
			if len(args) != tc.args {
				t.Fatalf("expected %d args, got %#v", tc.args, args)
			}
		})
	}
}

func TestCompileClause_NestedGroups(t *testing.T) {
	clause := domain.Clause{
		Mode:    domain.ClauseAll,
		Filters: []domain.FieldFilter{{FieldID: "city", Operator: domain.OperatorIs, Value: "Leeds"}},
		Groups: []domain.Clause{{
			Mode: domain.ClauseAny,
			Filters: []domain.FieldFilter{
				{FieldID: "name", Value: "fal"},
				{FieldID: "name", Value: "ott"},
			},
		}},
	}
	part, err := sqliteDialect.compileClause(clause)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	sql, args, err := part.ToSql()
	if err != nil {
		t.Fatalf("to sql: %v", err)
	}
	if !strings.Contains(sql, " OR ") || !strings.Contains(sql, " AND ") {
		t.Fatalf("expected nested and/or, got %q", sql)
	}
	if len(args) != 6 {
		t.Fatalf("expected 6 args, got %#v", args)
	}
}

func TestCompileClause_UnknownOperator(t *testing.T) {
	_, err := postgresDialect.compileFilter(domain.FieldFilter{FieldID: "x", Operator: "regex", Value: "a"})
	if err == nil {
		t.Fatalf("expected error for unsupported operator")
	}
}
