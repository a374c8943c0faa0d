// Package checkout talks to the hosted payment page provider. The service
// layer sees only the Gateway interface: it creates a session for a booking
// and later asks whether that session was paid.
package checkout

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable signals a transport failure, timeout or provider outage.
	ErrUnavailable = errors.New("checkout gateway unavailable")

	// ErrRejected signals the provider refused the request (bad parameters,
	// unknown session, invalid credentials).
	ErrRejected = errors.New("checkout gateway rejected request")
)

// SessionRequest describes one hosted checkout for a single line item.
type SessionRequest struct {
	// AmountMinor is the charge in minor units (paise, cents).
	AmountMinor int64
	// Currency is a lowercase ISO 4217 code.
	Currency    string
	ProductName string
	Description string
	SuccessURL  string
	CancelURL   string
	// CustomerEmail pre-fills the payer; an existing provider customer with
	// this email is reused when found.
	CustomerEmail string
	Metadata      map[string]string
}

// Session is a created hosted checkout.
type Session struct {
	ID  string
	URL string
}

// SessionStatus is what the provider reports about a session.
type SessionStatus struct {
	ID   string
	Paid bool
}

// Gateway creates and inspects hosted checkout sessions.
type Gateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	RetrieveSession(ctx context.Context, id string) (*SessionStatus, error)
}
