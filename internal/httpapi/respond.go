package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"learnhub.io/internal/audit"
	"learnhub.io/internal/auth"
	"learnhub.io/internal/obs"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

var errEmptyBody = errors.New("request body is empty")

type errorResponse struct {
	Error     string   `json:"error"`
	RequestID string   `json:"request_id,omitempty"`
	Valid     []string `json:"valid,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg, RequestID: audit.RequestIDFromContext(r.Context())})
}

// decodeJSON reads a single JSON object into dst and validates it.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return fmt.Errorf("%w: request body too large", auth.ErrInvalidInput)
		case errors.Is(err, io.EOF):
			return fmt.Errorf("%w: %w", auth.ErrInvalidInput, errEmptyBody)
		default:
			return fmt.Errorf("%w: malformed JSON body", auth.ErrInvalidInput)
		}
	}
	if dec.More() {
		return fmt.Errorf("%w: request body must contain a single JSON object", auth.ErrInvalidInput)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %s", auth.ErrInvalidInput, describeValidation(err))
	}
	return nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request"
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "email":
			msgs = append(msgs, fe.Field()+" must be a valid email")
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fe.Field()+" is invalid")
		}
	}
	return strings.Join(msgs, "; ")
}

// writeServiceError maps domain errors to short client messages. Anything
// unrecognized is logged and reported as 500 without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var unknown *auth.UnknownCategoryError
	var denied *auth.PermissionDeniedError
	switch {
	case errors.As(err, &unknown):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:     fmt.Sprintf("unknown permission category %q", unknown.Category),
			RequestID: audit.RequestIDFromContext(r.Context()),
			Valid:     unknown.Valid,
		})
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrTenantContextMissing):
		writeError(w, r, http.StatusBadRequest, "tenant context missing")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrInvalidRefreshToken):
		writeError(w, r, http.StatusUnauthorized, "invalid refresh token")
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, "invalid token")
	case errors.As(err, &denied):
		writeError(w, r, http.StatusForbidden, denied.Error())
	case errors.Is(err, auth.ErrPermissionDenied), errors.Is(err, auth.ErrSystemRole):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, auth.ErrDuplicateRoleCode), errors.Is(err, auth.ErrDuplicatePermissionCode),
		errors.Is(err, auth.ErrMembershipExists), errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	default:
		obs.Logger().ErrorContext(r.Context(), "request_failed",
			slog.String("request_id", audit.RequestIDFromContext(r.Context())),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
