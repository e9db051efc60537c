package domain

import (
	"testing"
	"time"
)

func TestMatchValue_Operators(t *testing.T) {
	cases := []struct {
		name   string
		value  any
		filter FieldFilter
		want   bool
	}{
		{"contains folds case", "Hello World", FieldFilter{Operator: OperatorContains, Value: "WORLD"}, true},
		{"default operator is contains", "Hello World", FieldFilter{Value: "lo w"}, true},
		{"is exact", "open", FieldFilter{Operator: OperatorIs, Value: "Open"}, true},
		{"is mismatch", "open", FieldFilter{Operator: OperatorIs, Value: "closed"}, false},
		{"isnot", "open", FieldFilter{Operator: OperatorIsNot, Value: "closed"}, true},
		{"starts with", "Gravity", FieldFilter{Operator: OperatorStartsWith, Value: "grav"}, true},
		{"ends with", "Gravity", FieldFilter{Operator: OperatorEndsWith, Value: "ITY"}, true},
		{"greater than numeric", "10", FieldFilter{Operator: OperatorGreaterThan, Value: "9"}, true},
		{"less than numeric", "10", FieldFilter{Operator: OperatorLessThan, Value: "9"}, false},
		{"text is not greater than a number", "abc", FieldFilter{Operator: OperatorGreaterThan, Value: "9"}, false},
		{"in list", "b", FieldFilter{Operator: OperatorIn, Values: []string{"a", "b"}}, true},
		{"not in list", "c", FieldFilter{Operator: OperatorNotIn, Values: []string{"a", "b"}}, true},
		{"multi value any element", []any{"x", "y"}, FieldFilter{Operator: OperatorIs, Value: "y"}, true},
		{"multi value isnot excludes", []any{"x", "y"}, FieldFilter{Operator: OperatorIsNot, Value: "y"}, false},
		{"float renders without exponent", 3.0, FieldFilter{Operator: OperatorIs, Value: "3"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := MatchValue(tc.value, true, tc.filter); got != tc.want {
				t.Fatalf("MatchValue(%v, %+v) = %v, want %v", tc.value, tc.filter, got, tc.want)
			}
		})
	}
}

func TestMatchValue_MissingValue(t *testing.T) {
	if MatchValue(nil, false, FieldFilter{Operator: OperatorContains, Value: "a"}) {
		t.Fatalf("missing value must not match contains")
	}
	if !MatchValue(nil, false, FieldFilter{Operator: OperatorIsNot, Value: "a"}) {
		t.Fatalf("missing value must match isnot")
	}
}

func TestMatchClause_AnyAndAll(t *testing.T) {
	record := NewRecord("form-1", map[string]any{"city": "Berlin", "size": 12})
	all := Clause{Mode: ClauseAll, Filters: []FieldFilter{
		{FieldID: "city", Operator: OperatorIs, Value: "berlin"},
		{FieldID: "size", Operator: OperatorGreaterThan, Value: "20"},
	}}
	if MatchClause(record, all) {
		t.Fatalf("expected AND clause to fail")
	}
	either := all
	either.Mode = ClauseAny
	if !MatchClause(record, either) {
		t.Fatalf("expected OR clause to match")
	}
	if !MatchClause(record, Clause{}) {
		t.Fatalf("empty clause must match")
	}
}

func TestMatchClause_MetadataFields(t *testing.T) {
	record := NewRecord("form-1", nil)
	record.CreatedBy = 7
	record = record.WithApproval(true)
	clause := Clause{Filters: []FieldFilter{
		{FieldID: FieldCreatedBy, Operator: OperatorIs, Value: "7"},
		{FieldID: FieldApproved, Operator: OperatorIs, Value: "1"},
		{FieldID: FieldEntryID, Operator: OperatorIs, Value: record.ID},
	}}
	if !MatchClause(record, clause) {
		t.Fatalf("expected metadata filters to match")
	}
}

func TestSortEntries_MissingValuesLast(t *testing.T) {
	mk := func(id string, value any) CompositeEntry {
		fields := map[string]any{}
		if value != nil {
			fields["n"] = value
		}
		return NewCompositeEntry([]string{"a"}, map[string]Record{"a": {ID: id, SourceID: "a", Fields: fields}})
	}
	entries := []CompositeEntry{mk("1", nil), mk("2", "10"), mk("3", "9")}
	SortEntries(entries, []SortCriterion{{SourceID: "a", FieldID: "n", Direction: SortDirectionDesc}})
	got := []string{entries[0].Identity(), entries[1].Identity(), entries[2].Identity()}
	want := []string{"2", "3", "1"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected order %v, want %v", got, want)
		}
	}
}

func TestCompareStrings_MixedValuesAreTransitive(t *testing.T) {
	// numbers, then dates, then text
	ordered := []string{"9", "10", "2024-01-01", "1a", "Apple", "banana"}
	for i := range ordered {
		for j := range ordered {
			got := CompareStrings(ordered[i], ordered[j])
			switch {
			case i < j && got >= 0, i > j && got <= 0, i == j && got != 0:
				t.Fatalf("CompareStrings(%q, %q) = %d, inconsistent with %v", ordered[i], ordered[j], got, ordered)
			}
		}
	}
}

func TestCompareStrings_Dates(t *testing.T) {
	earlier := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Format(time.RFC3339)
	if CompareStrings(earlier, "2024-02-01") >= 0 {
		t.Fatalf("expected %s before 2024-02-01", earlier)
	}
}

func TestPagingWindow(t *testing.T) {
	p := Paging{Page: 2, PageSize: 3}
	start, end := p.Window(4)
	if start != 3 || end != 4 {
		t.Fatalf("expected window [3,4), got [%d,%d)", start, end)
	}
	start, end = Paging{Page: 5, PageSize: 3}.Window(4)
	if start != 4 || end != 4 {
		t.Fatalf("expected empty window past the end, got [%d,%d)", start, end)
	}
	start, end = Paging{Offset: 1}.Window(4)
	if start != 1 || end != 4 {
		t.Fatalf("expected unbounded window [1,4), got [%d,%d)", start, end)
	}
}
