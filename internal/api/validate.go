package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

var messages = map[string]string{
	"required": "{field} is required",
	"uuid":     "{field} must be a valid UUID",
	"gte":      "{field} must be greater than or equal to {param}",
	"lte":      "{field} must be less than or equal to {param}",
	"gtfield":  "{field} must be greater than {param}",
	"oneof":    "{field} must be one of {param}",
	"min":      "{field} must have at least {param} entries",
	"max":      "{field} must be at most {param} long",
}

func message(err error) string {
	var valErrors validator.ValidationErrors
	if !errors.As(err, &valErrors) {
		return err.Error()
	}
	for _, fe := range valErrors {
		if tmpl, ok := messages[fe.Tag()]; ok {
			msg := strings.ReplaceAll(tmpl, "{field}", fe.Field())
			return strings.ReplaceAll(msg, "{param}", fe.Param())
		}
	}
	return valErrors.Error()
}

// decode reads the JSON body into dst and validates it. On failure the error
// response is already written and false is returned.
func decode[T any](w http.ResponseWriter, r *http.Request, dst *T) bool {
	return decodeBody(w, r, dst, false)
}

// decodeOptional is decode for bodies that may be omitted entirely.
func decodeOptional[T any](w http.ResponseWriter, r *http.Request, dst *T) bool {
	return decodeBody(w, r, dst, true)
}

func decodeBody[T any](w http.ResponseWriter, r *http.Request, dst *T, optional bool) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	switch {
	case optional && errors.Is(err, io.EOF):
	case err != nil:
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", message(err))
		return false
	}
	return true
}
