package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sessioncoordinator/coordinator/internal/domain"
)

// writeError converts a coordinator failure into the {"error": "..."}
// envelope at the status its ErrorKind maps to. Errors that never reached a
// typed *domain.Error (a bug, not a caller mistake) fall back to 500.
func writeError(c echo.Context, err error) error {
	var derr *domain.Error
	if !errors.As(err, &derr) {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(statusForKind(derr.Kind), map[string]string{"error": derr.Error()})
}

func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.ErrorKindInvalidInput:
		return http.StatusBadRequest
	case domain.ErrorKindUnauthenticated:
		return http.StatusUnauthorized
	case domain.ErrorKindUnauthorized:
		return http.StatusForbidden
	case domain.ErrorKindNotFound:
		return http.StatusNotFound
	case domain.ErrorKindGone:
		return http.StatusGone
	case domain.ErrorKindConflict:
		return http.StatusOK
	case domain.ErrorKindTransient, domain.ErrorKindPermanent, domain.ErrorKindLogical:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
