package api

import (
	"errors"
	"net/http"

	"codeberg.org/d-buckner/market-agent/internal/operror"
)

// statusFor maps an operation failure to an HTTP status. Cancellations are not failures
// and never reach this function.
func statusFor(err error) int {
	var (
		notFound     *operror.AppNotFoundError
		unsupported  *operror.UnsupportedOSVersionError
		unknownID    *operror.UnknownMarketplaceIDError
		verification *operror.VerificationError
		network      *operror.NetworkError
	)

	switch {
	case errors.Is(err, operror.ErrEntitlementDenied):
		return http.StatusForbidden
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &unsupported), errors.As(err, &unknownID):
		return http.StatusUnprocessableEntity
	case errors.As(err, &verification), errors.As(err, &network):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
