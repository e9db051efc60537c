package search

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rpattn/formview/internal/domain"
	"github.com/rpattn/formview/internal/logger"
)

// UserDirectory resolves free text to user ids by matching profile attributes.
type UserDirectory interface {
	FindUserIDs(ctx context.Context, text string, attributes []string) ([]int64, error)
}

// DefaultUserAttributes are matched when no attributes are configured.
var DefaultUserAttributes = []string{"display_name", "user_login", "user_email"}

// Translator routes filters, searches and sorts to the sources of a view.
type Translator struct {
	users      UserDirectory
	attributes []string
	logger     logger.Logger
}

// NewTranslator constructs a translator. users may be nil, in which case
// free-text created_by filters match nothing.
func NewTranslator(users UserDirectory, attributes []string, log logger.Logger) *Translator {
	if len(attributes) == 0 {
		attributes = DefaultUserAttributes
	}
	if log == nil {
		log = logger.NewNoopLogger()
	}
	return &Translator{users: users, attributes: attributes, logger: log}
}

// Translate turns params into criteria for view. Invalid input degrades: bad
// operators fall back, unknown sources and unparsable dates are dropped. Only
// collaborator failures are returned as errors.
func (t *Translator) Translate(ctx context.Context, params Params, view domain.ViewDefinition) (domain.Criteria, error) {
	scope := newScope(view)
	criteria := domain.Criteria{
		Paging: domain.Paging{Page: params.Page, PageSize: view.PageSize, Offset: view.Offset}.Normalized(),
	}

	for _, filter := range view.DefaultFilters {
		ref := FieldRef{Source: filter.SourceID, Field: filter.FieldID}
		filter.SourceID = ""
		if filter.Operator == "" {
			filter.Operator = scope.preferredOperator(ref)
		}
		if err := t.route(ctx, &criteria, scope, ref, filter); err != nil {
			return domain.Criteria{}, err
		}
	}

	for _, param := range params.Filters {
		if param.Ref.Source != "" && !scope.has(param.Ref.Source) {
			t.logger.WarnWithContext(ctx, "dropping filter on source outside the view",
				zap.String("view", view.ID),
				zap.String("filter", param.Ref.String()),
			)
			continue
		}
		filter := domain.FieldFilter{
			FieldID:  param.Ref.Field,
			Operator: t.operator(ctx, scope, param.Ref, params.Operators),
		}
		if len(param.Values) > 1 {
			filter.Values = param.Values
			if filter.Operator == domain.OperatorIsNot || filter.Operator == domain.OperatorNotIn {
				filter.Operator = domain.OperatorNotIn
			} else {
				filter.Operator = domain.OperatorIn
			}
		} else {
			filter.Value = param.Values[0]
			switch filter.Operator {
			case domain.OperatorIn, domain.OperatorNotIn:
				filter.Values = param.Values
			}
		}
		if err := t.route(ctx, &criteria, scope, param.Ref, filter); err != nil {
			return domain.Criteria{}, err
		}
	}

	t.dateRange(ctx, &criteria, scope, params)
	t.globalSearch(ctx, &criteria, scope, params, view)
	criteria.Sort = t.sort(ctx, scope, params, view)
	return criteria, nil
}

// operator resolves the effective operator: an allowed override, then the
// field's preference, then contains.
func (t *Translator) operator(ctx context.Context, scope *scope, ref FieldRef, overrides map[string]string) domain.Operator {
	raw, ok := overrides[ref.String()]
	if !ok && ref.Source != "" {
		raw, ok = overrides[ref.Field]
	}
	if ok {
		op := domain.Operator(raw)
		if scope.allows(op) {
			return op
		}
		t.logger.DebugWithContext(ctx, "ignoring disallowed operator override",
			zap.String("field", ref.String()),
			zap.String("operator", raw),
		)
	}
	return scope.preferredOperator(ref)
}

// route places one filter: qualified filters go to their source; unqualified
// ones to the primary, or when the primary lacks the field to every source
// exposing it. Union views map virtual fields onto each source.
func (t *Translator) route(ctx context.Context, criteria *domain.Criteria, scope *scope, ref FieldRef, filter domain.FieldFilter) error {
	if ref.Field == domain.FieldCreatedBy {
		resolved, err := t.createdBy(ctx, filter)
		if err != nil {
			return err
		}
		filter = resolved
	}

	var targets []string
	switch {
	case ref.Source != "":
		targets = []string{ref.Source}
	case scope.union:
		targets = scope.sources
	case scope.source(scope.primary).HasField(ref.Field):
		targets = []string{scope.primary}
	default:
		for _, source := range scope.sources {
			if scope.source(source).HasField(ref.Field) {
				targets = append(targets, source)
			}
		}
		if len(targets) == 0 {
			targets = []string{scope.primary}
		}
	}

	for _, source := range targets {
		routed := filter
		routed.FieldID = scope.concrete(source, ref.Field)
		criteria.AddWhere(source, domain.Clause{Mode: domain.ClauseAll, Filters: []domain.FieldFilter{routed}})
	}
	return nil
}

// createdBy matches numeric input exactly and free text through the user
// directory.
func (t *Translator) createdBy(ctx context.Context, filter domain.FieldFilter) (domain.FieldFilter, error) {
	inputs := filter.Values
	if len(inputs) == 0 {
		inputs = []string{filter.Value}
	}
	negate := filter.Operator == domain.OperatorIsNot || filter.Operator == domain.OperatorNotIn

	var ids []string
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if _, err := strconv.ParseInt(input, 10, 64); err == nil {
			ids = append(ids, input)
			continue
		}
		if t.users == nil || input == "" {
			continue
		}
		found, err := t.users.FindUserIDs(ctx, input, t.attributes)
		if err != nil {
			return domain.FieldFilter{}, fmt.Errorf("resolve created_by %q: %w", input, err)
		}
		for _, id := range found {
			ids = append(ids, strconv.FormatInt(id, 10))
		}
	}

	resolved := domain.FieldFilter{FieldID: domain.FieldCreatedBy, Operator: domain.OperatorIn, Values: ids}
	if negate {
		resolved.Operator = domain.OperatorNotIn
	}
	return resolved, nil
}

// dateRange bounds date_created inclusively. Date-only end bounds cover the
// whole day.
func (t *Translator) dateRange(ctx context.Context, criteria *domain.Criteria, scope *scope, params Params) {
	var filters []domain.FieldFilter
	if params.Start != "" {
		if start, ok := domain.ParseDate(params.Start); ok {
			filters = append(filters, domain.FieldFilter{
				FieldID:  domain.FieldDateCreated,
				Operator: domain.OperatorGreaterThan,
				Value:    start.Add(-time.Nanosecond).UTC().Format(time.RFC3339Nano),
			})
		} else {
			t.logger.DebugWithContext(ctx, "ignoring unparsable start date", zap.String("start", params.Start))
		}
	}
	if params.End != "" {
		if end, ok := domain.ParseDate(params.End); ok {
			if len(strings.TrimSpace(params.End)) == len("2006-01-02") {
				end = end.Add(24 * time.Hour)
			} else {
				end = end.Add(time.Nanosecond)
			}
			filters = append(filters, domain.FieldFilter{
				FieldID:  domain.FieldDateCreated,
				Operator: domain.OperatorLessThan,
				Value:    end.UTC().Format(time.RFC3339Nano),
			})
		} else {
			t.logger.DebugWithContext(ctx, "ignoring unparsable end date", zap.String("end", params.End))
		}
	}
	if len(filters) == 0 {
		return
	}
	targets := []string{scope.primary}
	if scope.union {
		targets = scope.sources
	}
	for _, source := range targets {
		criteria.AddWhere(source, domain.Clause{Mode: domain.ClauseAll, Filters: filters})
	}
}

// globalSearch splits the phrase into words. In any mode a row matches when
// some word matches some searchable field; in all mode every word must match
// at least one. Joins evaluate the search on stitched rows, other plans push
// it to each source.
func (t *Translator) globalSearch(ctx context.Context, criteria *domain.Criteria, scope *scope, params Params, view domain.ViewDefinition) {
	words := strings.Fields(params.Search)
	if len(words) == 0 {
		return
	}
	mode := domain.SearchMode(params.Mode)
	if mode != domain.SearchModeAny && mode != domain.SearchModeAll {
		mode = view.SearchMode
	}
	if mode != domain.SearchModeAll {
		mode = domain.SearchModeAny
	}

	build := func(fields []FieldRef) domain.Clause {
		wordClause := func(word string) domain.Clause {
			clause := domain.Clause{Mode: domain.ClauseAny}
			for _, field := range fields {
				clause.Filters = append(clause.Filters, domain.FieldFilter{
					SourceID: field.Source,
					FieldID:  field.Field,
					Operator: domain.OperatorContains,
					Value:    word,
				})
			}
			return clause
		}
		if mode == domain.SearchModeAll {
			clause := domain.Clause{Mode: domain.ClauseAll}
			for _, word := range words {
				clause.Groups = append(clause.Groups, wordClause(word))
			}
			return clause
		}
		clause := domain.Clause{Mode: domain.ClauseAny}
		for _, word := range words {
			clause.Groups = append(clause.Groups, wordClause(word))
		}
		return clause
	}

	if scope.join {
		var fields []FieldRef
		for _, source := range scope.sources {
			for _, field := range scope.searchable(source) {
				fields = append(fields, FieldRef{Source: source, Field: field})
			}
		}
		if len(fields) == 0 {
			t.logger.DebugWithContext(ctx, "search on view without searchable fields matches nothing", zap.String("view", view.ID))
			criteria.Row = criteria.Row.And(domain.MatchNothing())
			return
		}
		criteria.Row = criteria.Row.And(build(fields))
		return
	}

	for _, source := range scope.sources {
		var names []string
		if scope.union {
			names = scope.unionSearchable(source)
		} else {
			names = scope.searchable(source)
		}
		if len(names) == 0 {
			t.logger.DebugWithContext(ctx, "search on source without searchable fields matches nothing",
				zap.String("view", view.ID),
				zap.String("source", source),
			)
			criteria.AddWhere(source, domain.MatchNothing())
			continue
		}
		fields := make([]FieldRef, 0, len(names))
		for _, field := range names {
			fields = append(fields, FieldRef{Field: field})
		}
		criteria.AddWhere(source, build(fields))
	}
}

// sort uses an explicit sort parameter when it resolves, else the view default.
func (t *Translator) sort(ctx context.Context, scope *scope, params Params, view domain.ViewDefinition) []domain.SortCriterion {
	if params.Sort != nil {
		ref := *params.Sort
		if ref.Source == "" || scope.has(ref.Source) {
			return []domain.SortCriterion{{
				SourceID:  ref.Source,
				FieldID:   ref.Field,
				Direction: domain.ParseSortDirection(params.Direction),
			}}
		}
		t.logger.WarnWithContext(ctx, "dropping sort on source outside the view", zap.String("sort", ref.String()))
	}
	return append([]domain.SortCriterion(nil), view.DefaultSort...)
}
