package domain

// Criteria is translated search input, ready to be bound to a plan.
type Criteria struct {
	// Where holds the push-down predicate per source id.
	Where map[string]Clause
	// Row is evaluated against stitched entries; its filters are qualified.
	Row    Clause
	Sort   []SortCriterion
	Paging Paging
}

// WhereFor returns the push-down clause for a source.
func (c Criteria) WhereFor(sourceID string) Clause {
	if c.Where == nil {
		return Clause{}
	}
	return c.Where[sourceID]
}

// AddWhere ANDs clause into the push-down predicate of sourceID.
func (c *Criteria) AddWhere(sourceID string, clause Clause) {
	if clause.IsEmpty() {
		return
	}
	if c.Where == nil {
		c.Where = make(map[string]Clause)
	}
	c.Where[sourceID] = c.Where[sourceID].And(clause)
}
