package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/auth"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/store"
)

const maxBodySize = 1 << 20

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type envelope struct {
	Success bool           `json:"success"`
	Data    any            `json:"data,omitempty"`
	Message string         `json:"message,omitempty"`
	Error   *responseError `json:"error,omitempty"`
}

type responseError struct {
	Code    string        `json:"code"`
	Message string        `json:"message"`
	Details []errorDetail `json:"details,omitempty"`
}

type errorDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string, details ...errorDetail) {
	writeJSON(w, status, envelope{
		Message: message,
		Error:   &responseError{Code: code, Message: message, Details: details},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// writeFailure maps err onto the error envelope. Unexpected errors are logged
// by the caller's middleware and never echoed to the client.
func writeFailure(w http.ResponseWriter, err error) {
	status, code, message := mapError(err)
	var details []errorDetail
	var verr *store.ValidationError
	if errors.As(err, &verr) {
		details = append(details, errorDetail{Field: verr.Field, Message: verr.Message})
	}
	if status == http.StatusInternalServerError {
		markFailed(w, err)
	}
	writeError(w, status, code, message, details...)
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "unauthorized", "invalid username or password"
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, "unauthorized", "invalid or expired token"
	case errors.Is(err, auth.ErrAccountDisabled):
		return http.StatusForbidden, "forbidden", "account is not active"
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest, "validation_error", validationMessage(err)
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found", notFoundMessage(err)
	case errors.Is(err, store.ErrForbidden):
		return http.StatusForbidden, "forbidden", "you are not allowed to perform this action"
	case errors.Is(err, store.ErrCapacityExceeded):
		return http.StatusConflict, "capacity_exceeded", "the selected slot is full"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "conflict", conflictMessage(err)
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "current state does not allow this action"
	case errors.Is(err, store.ErrGateway):
		return http.StatusBadGateway, "gateway_error", "payment gateway unavailable"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func validationMessage(err error) string {
	var verr *store.ValidationError
	if errors.As(err, &verr) {
		return verr.Field + ": " + verr.Message
	}
	return "invalid request"
}

func notFoundMessage(err error) string {
	message := err.Error()
	if idx := strings.Index(message, ": "); idx > 0 {
		message = message[:idx]
	}
	return message
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, store.ErrDuplicateVIN):
		return "vin already registered"
	case errors.Is(err, store.ErrUsernameTaken):
		return "username already taken"
	default:
		return "conflict"
	}
}

// decode reads a single JSON object into dst and runs struct validation.
// It writes the error response itself and reports whether to continue.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		var maxBytes *http.MaxBytesError
		switch {
		case errors.As(err, &maxBytes):
			writeError(w, http.StatusRequestEntityTooLarge, "validation_error", "request body too large")
		case errors.Is(err, io.EOF):
			writeError(w, http.StatusBadRequest, "invalid_json", "request body is empty")
		default:
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		}
		return false
	}
	if decoder.More() {
		writeError(w, http.StatusBadRequest, "invalid_json", "body must contain a single JSON object")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var fieldErrors validator.ValidationErrors
		if errors.As(err, &fieldErrors) {
			details := make([]errorDetail, 0, len(fieldErrors))
			for _, fe := range fieldErrors {
				details = append(details, errorDetail{Field: fe.Field(), Message: fieldMessage(fe)})
			}
			writeError(w, http.StatusBadRequest, "validation_error", "validation failed", details...)
			return false
		}
		writeError(w, http.StatusBadRequest, "validation_error", "validation failed")
		return false
	}
	return true
}

// decodeOptional is decode for endpoints whose body may be absent.
func decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0 {
		if err := validate.Struct(dst); err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "validation failed")
			return false
		}
		return true
	}
	return decode(w, r, dst)
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "uuid", "uuid4":
		return "must be a uuid"
	case "email":
		return "invalid email format"
	case "min", "gte", "gt":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	default:
		return "invalid value"
	}
}
