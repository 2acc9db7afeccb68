// Package cueschema validates component factory properties against a CUE
// constraint expression declared by the factory itself, instead of
// hand-rolled field-by-field checks, narrowed to a single properties
// mapping per factory.
package cueschema

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

var sharedCtx = cuecontext.New()

// Validate checks properties against the CUE constraint expression
// schemaExpr (e.g. `{path: string, recursive?: bool}`). An empty schemaExpr
// means "no constraint" and always succeeds.
func Validate(schemaExpr string, properties map[string]any) error {
	if schemaExpr == "" {
		return nil
	}

	schemaValue := sharedCtx.CompileString(schemaExpr)
	if err := schemaValue.Err(); err != nil {
		return fmt.Errorf("invalid config schema: %w", err)
	}

	propsValue := sharedCtx.Encode(properties)
	if err := propsValue.Err(); err != nil {
		return fmt.Errorf("invalid properties: %w", err)
	}

	unified := schemaValue.Unify(propsValue)
	if err := unified.Err(); err != nil {
		return fmt.Errorf("properties do not satisfy config schema: %w", err)
	}

	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("properties incomplete: %w", err)
	}

	return nil
}
