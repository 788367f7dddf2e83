package httpx

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/larder-erp/larder-erp/internal/shared"
)

// ValidationToShared converts validator.ValidationErrors into the shared
// field-scoped taxonomy so transport responses stay uniform.
func ValidationToShared(err error) error {
	vErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return shared.Validation("body", "invalid request")
	}
	out := &shared.ValidationError{}
	for _, fe := range vErrs {
		out.Add(strings.ToLower(fe.Namespace()), "failed "+fe.Tag()+" validation")
	}
	return out
}
