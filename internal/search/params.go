// Package search translates raw query parameters into per-source criteria.
package search

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Query parameter names and prefixes.
const (
	ParamFilterPrefix   = "filter_"
	ParamOperatorPrefix = "op_"
	ParamSearch         = "search"
	ParamMode           = "mode"
	ParamStart          = "start"
	ParamEnd            = "end"
	ParamPage           = "pagenum"
	ParamSort           = "sort"
	ParamDirection      = "dir"

	// qualifierSeparator splits "source:field" references.
	qualifierSeparator = ":"
)

// FieldRef names a field, optionally qualified by a source.
type FieldRef struct {
	Source string
	Field  string
}

// ParseFieldRef splits "source:field"; a bare "field" is unqualified.
func ParseFieldRef(raw string) FieldRef {
	raw = strings.TrimSpace(raw)
	if source, field, ok := strings.Cut(raw, qualifierSeparator); ok {
		return FieldRef{Source: strings.TrimSpace(source), Field: strings.TrimSpace(field)}
	}
	return FieldRef{Field: raw}
}

// String renders the reference the way it appears in parameter names.
func (r FieldRef) String() string {
	if r.Source == "" {
		return r.Field
	}
	return r.Source + qualifierSeparator + r.Field
}

// FilterParam is one field filter taken from the query string.
type FilterParam struct {
	Ref    FieldRef
	Values []string
}

// Params is the parsed, not yet validated, search input of one request.
type Params struct {
	Filters []FilterParam
	// Operators holds requested operator overrides keyed by FieldRef.String().
	Operators map[string]string
	Search    string
	Mode      string
	Start     string
	End       string
	Page      int
	Sort      *FieldRef
	Direction string
}

// ParseQuery reads the supported query-parameter shapes. Unknown parameters
// are ignored and empty values dropped; nothing here fails.
func ParseQuery(values url.Values) Params {
	params := Params{Operators: map[string]string{}, Page: 1}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		raw := values[key]
		switch {
		case strings.HasPrefix(key, ParamFilterPrefix):
			ref := ParseFieldRef(strings.TrimPrefix(key, ParamFilterPrefix))
			if ref.Field == "" {
				continue
			}
			var kept []string
			for _, value := range raw {
				if value = strings.TrimSpace(value); value != "" {
					kept = append(kept, value)
				}
			}
			if len(kept) > 0 {
				params.Filters = append(params.Filters, FilterParam{Ref: ref, Values: kept})
			}
		case strings.HasPrefix(key, ParamOperatorPrefix):
			ref := ParseFieldRef(strings.TrimPrefix(key, ParamOperatorPrefix))
			if ref.Field != "" && first(raw) != "" {
				params.Operators[ref.String()] = strings.ToLower(first(raw))
			}
		case key == ParamSearch:
			params.Search = first(raw)
		case key == ParamMode:
			params.Mode = strings.ToLower(first(raw))
		case key == ParamStart:
			params.Start = first(raw)
		case key == ParamEnd:
			params.End = first(raw)
		case key == ParamPage:
			if page, err := strconv.Atoi(first(raw)); err == nil && page > 0 {
				params.Page = page
			}
		case key == ParamSort:
			if ref := ParseFieldRef(first(raw)); ref.Field != "" {
				params.Sort = &ref
			}
		case key == ParamDirection:
			params.Direction = first(raw)
		}
	}
	return params
}

func first(values []string) string {
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return ""
}
