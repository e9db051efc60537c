package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

var folder = cases.Fold()

// MatchClause evaluates a clause against a single record.
func MatchClause(record Record, clause Clause) bool {
	return evalClause(clause, func(filter FieldFilter) bool {
		value, ok := record.Value(filter.FieldID)
		return MatchValue(value, ok, filter)
	})
}

// MatchEntry evaluates a clause against a composite entry; qualified filters
// read the named constituent, unqualified ones the primary record.
func MatchEntry(entry CompositeEntry, clause Clause) bool {
	return evalClause(clause, func(filter FieldFilter) bool {
		value, ok := entry.Value(filter.SourceID, filter.FieldID)
		return MatchValue(value, ok, filter)
	})
}

func evalClause(clause Clause, match func(FieldFilter) bool) bool {
	if clause.IsEmpty() {
		return true
	}
	either := clause.Mode == ClauseAny
	for _, filter := range clause.Filters {
		ok := match(filter)
		if either && ok {
			return true
		}
		if !either && !ok {
			return false
		}
	}
	for _, group := range clause.Groups {
		if group.IsEmpty() {
			continue
		}
		ok := evalClause(group, match)
		if either && ok {
			return true
		}
		if !either && !ok {
			return false
		}
	}
	return !either
}

// MatchValue applies one filter to a resolved value. Multi-valued fields match
// positive operators when any element matches and negative ones when none do.
func MatchValue(value any, present bool, filter FieldFilter) bool {
	op := filter.Operator
	if op == "" {
		op = OperatorContains
	}
	var values []string
	if present {
		values = ValueStrings(value)
	}
	switch op {
	case OperatorIsNot:
		for _, v := range values {
			if strings.EqualFold(v, filter.Value) {
				return false
			}
		}
		return true
	case OperatorNotIn:
		for _, v := range values {
			for _, candidate := range filter.Values {
				if strings.EqualFold(v, candidate) {
					return false
				}
			}
		}
		return true
	}
	if len(values) == 0 {
		// an empty "is" filter matches empty fields
		return op == OperatorIs && filter.Value == ""
	}
	for _, v := range values {
		if matchOne(v, op, filter) {
			return true
		}
	}
	return false
}

func matchOne(value string, op Operator, filter FieldFilter) bool {
	switch op {
	case OperatorIs:
		return strings.EqualFold(value, filter.Value)
	case OperatorContains:
		return strings.Contains(folder.String(value), folder.String(filter.Value))
	case OperatorStartsWith:
		return strings.HasPrefix(folder.String(value), folder.String(filter.Value))
	case OperatorEndsWith:
		return strings.HasSuffix(folder.String(value), folder.String(filter.Value))
	case OperatorGreaterThan, OperatorLessThan:
		// a number is never greater or less than text
		if classify(value).class != classify(filter.Value).class {
			return false
		}
		if op == OperatorGreaterThan {
			return CompareStrings(value, filter.Value) > 0
		}
		return CompareStrings(value, filter.Value) < 0
	case OperatorIn:
		for _, candidate := range filter.Values {
			if strings.EqualFold(value, candidate) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// ValueStrings renders a field value as strings, flattening lists.
func ValueStrings(value any) []string {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		return []string{v}
	case *string:
		if v == nil {
			return nil
		}
		return []string{*v}
	case []string:
		return append([]string(nil), v...)
	case []any:
		var out []string
		for _, item := range v {
			out = append(out, ValueStrings(item)...)
		}
		return out
	case time.Time:
		return []string{v.UTC().Format(time.RFC3339)}
	case float64:
		return []string{strconv.FormatFloat(v, 'f', -1, 64)}
	case fmt.Stringer:
		return []string{v.String()}
	default:
		return []string{fmt.Sprintf("%v", value)}
	}
}

// ValueString renders the first element of a field value, or "".
func ValueString(value any) string {
	values := ValueStrings(value)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// CompareStrings orders numbers numerically, RFC3339/ISO dates chronologically
// and everything else case-insensitively. Mixed values order numbers first,
// then dates, then text, so the ordering stays transitive.
func CompareStrings(a, b string) int {
	ak, bk := classify(a), classify(b)
	if ak.class != bk.class {
		return ak.class - bk.class
	}
	switch ak.class {
	case classNumber:
		switch {
		case ak.number < bk.number:
			return -1
		case ak.number > bk.number:
			return 1
		default:
			return 0
		}
	case classDate:
		return ak.date.Compare(bk.date)
	}
	return strings.Compare(folder.String(a), folder.String(b))
}

const (
	classNumber = iota
	classDate
	classText
)

type sortKey struct {
	class  int
	number float64
	date   time.Time
}

func classify(raw string) sortKey {
	if number, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
		return sortKey{class: classNumber, number: number}
	}
	if date, ok := parseTime(raw); ok {
		return sortKey{class: classDate, date: date}
	}
	return sortKey{class: classText}
}

// CompareValues orders two resolved field values; missing values sort last.
func CompareValues(a any, aOK bool, b any, bOK bool) int {
	as, bs := ValueString(a), ValueString(b)
	aMissing := !aOK || as == ""
	bMissing := !bOK || bs == ""
	switch {
	case aMissing && bMissing:
		return 0
	case aMissing:
		return 1
	case bMissing:
		return -1
	}
	return CompareStrings(as, bs)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if len(raw) < len("2006-01-02") {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseDate parses the date layouts accepted in query parameters.
func ParseDate(raw string) (time.Time, bool) {
	return parseTime(raw)
}

// SortEntries orders entries by the criteria, ties broken by identity.
func SortEntries(entries []CompositeEntry, criteria []SortCriterion) {
	sort.SliceStable(entries, func(i, j int) bool {
		for _, criterion := range criteria {
			av, aok := entries[i].Value(criterion.SourceID, criterion.FieldID)
			bv, bok := entries[j].Value(criterion.SourceID, criterion.FieldID)
			cmp := CompareValues(av, aok, bv, bok)
			if cmp == 0 {
				continue
			}
			if criterion.Direction == SortDirectionDesc {
				// missing values stay last in both directions
				if ValueString(av) == "" || ValueString(bv) == "" {
					return cmp < 0
				}
				return cmp > 0
			}
			return cmp < 0
		}
		return entries[i].Identity() < entries[j].Identity()
	})
}

// SortRecords orders records of one source the same way SortEntries does.
func SortRecords(records []Record, criteria []SortCriterion) {
	sort.SliceStable(records, func(i, j int) bool {
		for _, criterion := range criteria {
			av, aok := records[i].Value(criterion.FieldID)
			bv, bok := records[j].Value(criterion.FieldID)
			cmp := CompareValues(av, aok, bv, bok)
			if cmp == 0 {
				continue
			}
			if criterion.Direction == SortDirectionDesc {
				if ValueString(av) == "" || ValueString(bv) == "" {
					return cmp < 0
				}
				return cmp > 0
			}
			return cmp < 0
		}
		return records[i].ID < records[j].ID
	})
}
