// gateway/router/schemas.go

package router

import (
	"github.com/lattice-hq/gateway/model"
	"github.com/lattice-hq/gateway/validation"
)

// RegisterSchemas installs the payload schemas the routes reference. Runs
// once at startup; a route naming a schema that is not registered here fails
// closed at request time.
func RegisterSchemas(v validation.Validator) error {
	for _, s := range []struct {
		name      string
		part      validation.Part
		prototype interface{}
	}{
		{model.SchemaCreateMember, validation.PartBody, model.CreateMemberRequest{}},
		{model.SchemaUpdateMember, validation.PartBody, model.UpdateMemberRequest{}},
		{model.SchemaAnalyticsQuery, validation.PartQuery, model.AnalyticsQuery{}},
		{model.SchemaGraphMutation, validation.PartBody, model.GraphMutationRequest{}},
	} {
		if err := v.Register(s.name, s.part, s.prototype); err != nil {
			return err
		}
	}
	return nil
}
