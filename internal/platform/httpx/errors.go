package httpx

import (
	"errors"
	"net/http"

	"github.com/larder-erp/larder-erp/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
// Validation errors carry their field list; storage errors are collapsed.
func RespondError(w http.ResponseWriter, err error) {
	var vErr *shared.ValidationError
	var cErr *shared.ConflictError
	switch {
	case errors.As(err, &vErr):
		JSON(w, http.StatusUnprocessableEntity, ProblemDetail{
			Title:  "Validation Failed",
			Status: http.StatusUnprocessableEntity,
			Detail: "one or more fields are invalid",
			Errors: vErr.Fields,
		})
	case errors.As(err, &cErr):
		Problem(w, http.StatusConflict, "Conflict", cErr.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
