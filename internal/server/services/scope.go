package services

import (
	"fmt"

	"github.com/medkeep/phivault/internal/common"
	"github.com/medkeep/phivault/internal/server/models"
	"github.com/medkeep/phivault/internal/server/phi"
)

// resolveScopeFields maps a capability scope onto the concrete field names
// of the subject record's type. Issue validates through this same resolver,
// so a persisted capability always resolves cleanly at redemption time.
//
// For ScopeSection, Scope.Fields holds exactly the section name; for
// ScopeCustom, the explicit field list.
func resolveScopeFields(def phi.Definition, scope models.Scope) ([]string, error) {
	switch scope.Kind {
	case models.ScopeFull:
		return def.AllFields(), nil

	case models.ScopeSection:
		if len(scope.Fields) != 1 {
			return nil, fmt.Errorf("%w: section scope requires exactly one section name", common.ErrValidation)
		}
		fields, ok := def.SectionFields(scope.Fields[0])
		if !ok {
			return nil, fmt.Errorf("%w: record type %q has no section %q", common.ErrValidation, def.Type, scope.Fields[0])
		}
		return fields, nil

	case models.ScopeCustom:
		if len(scope.Fields) == 0 {
			return nil, fmt.Errorf("%w: custom scope requires at least one field", common.ErrValidation)
		}
		for _, f := range scope.Fields {
			if !def.HasField(f) {
				return nil, fmt.Errorf("%w: record type %q has no field %q", common.ErrValidation, def.Type, f)
			}
		}
		return scope.Fields, nil

	default:
		return nil, fmt.Errorf("%w: unknown scope kind %q", common.ErrValidation, scope.Kind)
	}
}
