package viewdef

import (
	"fmt"
	"strings"

	"github.com/rpattn/formview/internal/domain"
)

// ValidateSources checks the declared schemas of a view: unique source and
// field ids, no field shadowing a metadata pseudo-field, and only builtin
// operators on fields and in the view's allow-list.
func ValidateSources(view domain.ViewDefinition) error {
	seenSources := make(map[string]struct{}, len(view.Sources))
	for _, source := range view.Sources {
		if strings.TrimSpace(source.ID) == "" {
			return domain.NewConfigurationError("", "", "source without id")
		}
		if _, dup := seenSources[source.ID]; dup {
			return domain.NewConfigurationError(source.ID, "", "source is declared more than once")
		}
		seenSources[source.ID] = struct{}{}

		seenFields := make(map[string]struct{}, len(source.Fields))
		for _, field := range source.Fields {
			if strings.TrimSpace(field.ID) == "" {
				return domain.NewConfigurationError(source.ID, "", "field without id")
			}
			if domain.IsMetadataField(field.ID) {
				return domain.NewConfigurationError(source.ID, field.ID, "field shadows a metadata field")
			}
			if _, dup := seenFields[field.ID]; dup {
				return domain.NewConfigurationError(source.ID, field.ID, "field is declared more than once")
			}
			seenFields[field.ID] = struct{}{}

			if field.Operator != "" && !field.Operator.IsBuiltin() {
				return domain.NewConfigurationError(source.ID, field.ID, fmt.Sprintf("unknown operator %s", field.Operator))
			}
		}
	}

	for _, op := range view.AllowedOperators {
		if !op.IsBuiltin() {
			return domain.NewConfigurationError("", "", fmt.Sprintf("allowed operator %s is not supported", op))
		}
	}
	return nil
}
