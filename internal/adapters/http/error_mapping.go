package httpadapter

import (
	"net/http"

	"github.com/kirillkom/field-capture/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrItemNotFound), domain.IsKind(err, domain.ErrNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrNothingToSubmit):
		return http.StatusUnprocessableEntity
	case domain.IsKind(err, domain.ErrSummaryService), domain.IsKind(err, domain.ErrEmptySummary):
		return http.StatusBadGateway
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	case domain.IsKind(err, domain.ErrSummaryTimeout):
		return http.StatusGatewayTimeout
	case domain.IsKind(err, domain.ErrOfflineSave):
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage is the user-visible text for err. Summary failures carry the
// service's own message; timeouts carry the guidance text.
func errorMessage(err error) string {
	switch {
	case domain.IsKind(err, domain.ErrSummaryService):
		return domain.ServiceMessage(err)
	case domain.IsKind(err, domain.ErrSummaryTimeout):
		return domain.ErrSummaryTimeout.Error()
	case domain.IsKind(err, domain.ErrOfflineSave):
		return domain.ErrOfflineSave.Error()
	default:
		return err.Error()
	}
}
