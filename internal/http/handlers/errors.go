package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bhartiyash03-sys/speedy-doc-link/internal/http/middleware"
	"github.com/bhartiyash03-sys/speedy-doc-link/internal/services"
)

// Error codes. Clients branch on these, not on messages.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeUnauthorized       = "unauthorized"
	ErrCodeNotFound           = "not_found"
	ErrCodeInvalidState       = "invalid_state"
	ErrCodeGatewayUnavailable = "gateway_unavailable"
	ErrCodeGatewayRejected    = "gateway_rejected"
	ErrCodeStoreUnavailable   = "store_unavailable"
	ErrCodeRateLimited        = "too_many_requests"
	ErrCodeInternal           = "internal_error"
	ErrCodeMethodNotAllowed   = "method_not_allowed"
)

// failService maps a BookingService error onto the HTTP envelope. Provider
// and store failures keep their cause in the log, not in the response.
func failService(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidRequest):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrBookingNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "booking not found")
	case errors.Is(err, services.ErrNoCheckoutSession):
		fail(c, http.StatusConflict, ErrCodeInvalidState, err.Error())
	case errors.Is(err, services.ErrGatewayRejected):
		logCause(c, err)
		fail(c, http.StatusBadGateway, ErrCodeGatewayRejected, "payment provider rejected the request")
	case errors.Is(err, services.ErrGatewayUnavailable):
		logCause(c, err)
		fail(c, http.StatusServiceUnavailable, ErrCodeGatewayUnavailable, "payment provider unavailable, retry later")
	case errors.Is(err, services.ErrStoreUnavailable):
		logCause(c, err)
		fail(c, http.StatusServiceUnavailable, ErrCodeStoreUnavailable, "booking store unavailable, retry later")
	default:
		logCause(c, err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	}
}

func logCause(c *gin.Context, err error) {
	middleware.LoggerFrom(c).Warn().Err(err).Str("user_id", middleware.UserID(c)).Msg("booking operation failed")
}
