package httpx

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/sentra-iam/sentra/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var (
		notFound  *shared.NotFoundError
		duplicate *shared.DuplicateNameError
		circular  *shared.CircularHierarchyError
		invalid   *shared.InvalidOperationError
		fieldErrs validator.ValidationErrors
	)
	switch {
	case errors.As(err, &notFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.As(err, &duplicate):
		Problem(w, http.StatusConflict, "Duplicate Name", err.Error())
	case errors.As(err, &circular):
		Problem(w, http.StatusConflict, "Circular Hierarchy", err.Error())
	case errors.As(err, &invalid):
		Problem(w, http.StatusUnprocessableEntity, "Invalid Operation", err.Error())
	case errors.As(err, &fieldErrs):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrInvalidCredentials):
		Problem(w, http.StatusUnauthorized, "Unauthorized", "")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
