// Package services holds the booking lifecycle logic. This file centralizes
// the service-level error values returned by BookingService; handlers map
// them to HTTP status codes.
package services

import "errors"

var (
	// ErrInvalidRequest reports malformed or missing input. Not retryable.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrBookingNotFound is returned both for missing bookings and for
	// bookings owned by another user.
	ErrBookingNotFound = errors.New("booking not found")

	// ErrNoCheckoutSession is returned by Verify on an unpaid booking that has
	// no checkout session attached; the caller should resume first.
	ErrNoCheckoutSession = errors.New("no checkout session to verify")

	// ErrGatewayUnavailable reports a transient checkout provider failure.
	// Retrying the whole operation is safe.
	ErrGatewayUnavailable = errors.New("checkout gateway unavailable")

	// ErrGatewayRejected reports that the checkout provider refused the call.
	ErrGatewayRejected = errors.New("checkout gateway rejected request")

	// ErrStoreUnavailable reports a transient booking store failure.
	// Retrying the whole operation is safe.
	ErrStoreUnavailable = errors.New("booking store unavailable")
)
