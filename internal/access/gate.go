// Package access holds the approval gate and the fail-closed permission
// evaluator for single and composite entry identities.
package access

import "github.com/rpattn/formview/internal/domain"

// Gate is the approval visibility predicate. The zero value lets everything
// through.
type Gate struct {
	Enabled bool
}

// Allows reports whether a single record is visible.
func (g Gate) Allows(record domain.Record) bool {
	return !g.Enabled || record.Approved
}

// Clause returns the store push-down form of the gate.
func (g Gate) Clause() domain.Clause {
	if !g.Enabled {
		return domain.Clause{}
	}
	return domain.Clause{Mode: domain.ClauseAll, Filters: []domain.FieldFilter{{
		FieldID:  domain.FieldApproved,
		Operator: domain.OperatorIs,
		Value:    "1",
	}}}
}

// Binding describes which source each identity position belongs to and the
// gate that applies to every constituent.
type Binding struct {
	Sources []string
	Gate    Gate
	// Union bindings accept a single record from any of Sources.
	Union bool
	// Mappings holds the union virtual field mapping per source.
	Mappings map[string]map[string]string
	// Edges are the join edges the constituents of a join identity must satisfy.
	Edges []domain.JoinEdge
}
