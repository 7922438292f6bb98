package api

import (
	"errors"
	"net/http"

	"flexreport/internal/domain"
)

// httpStatusFromDomainError maps domain errors to HTTP status codes.
func httpStatusFromDomainError(err error) int {
	var notFound *domain.NotFoundError
	var validation *domain.ValidationError
	var unavailable *domain.SourceUnavailableError
	var mismatch *domain.SchemaMismatchError
	var empty *domain.EmptyResultError
	var cancelled *domain.CancelledError

	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &unavailable):
		return http.StatusBadGateway
	case errors.As(err, &mismatch):
		return http.StatusUnprocessableEntity
	case errors.As(err, &empty):
		return http.StatusUnprocessableEntity
	case errors.As(err, &cancelled):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
