package domain

import "strings"

// SortDirection represents ordering direction for sortable fields.
type SortDirection string

const (
	SortDirectionAsc  SortDirection = "asc"
	SortDirectionDesc SortDirection = "desc"
)

// ParseSortDirection normalises user input, defaulting to ascending.
func ParseSortDirection(raw string) SortDirection {
	if strings.EqualFold(strings.TrimSpace(raw), string(SortDirectionDesc)) {
		return SortDirectionDesc
	}
	return SortDirectionAsc
}

// SortCriterion orders entries by one field of one source. For union views the
// field names the virtual column and SourceID is empty.
type SortCriterion struct {
	SourceID  string        `json:"source,omitempty" yaml:"source,omitempty"`
	FieldID   string        `json:"field" yaml:"field"`
	Direction SortDirection `json:"direction,omitempty" yaml:"direction,omitempty"`
}

// Paging selects a window of a sorted collection. Page is 1-based; Offset skips
// rows before the first page.
type Paging struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Offset   int `json:"offset"`
}

// Normalized clamps invalid paging values to their defaults.
func (p Paging) Normalized() Paging {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 0 {
		p.PageSize = 0
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Start returns the absolute index of the first row of the page.
func (p Paging) Start() int {
	n := p.Normalized()
	return n.Offset + (n.Page-1)*n.PageSize
}

// Window slices [Start, Start+PageSize) out of n rows. A zero PageSize means
// every row after Start.
func (p Paging) Window(n int) (int, int) {
	start := p.Start()
	if start > n {
		start = n
	}
	end := n
	if size := p.Normalized().PageSize; size > 0 && start+size < end {
		end = start + size
	}
	return start, end
}
