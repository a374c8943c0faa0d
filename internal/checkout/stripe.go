package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// sessionAPI is the subset of the Stripe checkout session client in use.
type sessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// customerLookup returns the id of an existing customer with email, or "".
type customerLookup func(ctx context.Context, email string) (string, error)

// StripeGateway implements Gateway on Stripe Checkout.
type StripeGateway struct {
	sessions     sessionAPI
	findCustomer customerLookup

	// Retries is the number of extra attempts for RetrieveSession on
	// transport errors. Session creation is never retried.
	Retries    uint
	RetryDelay time.Duration
}

// NewStripeGateway builds a gateway for the given secret key.
func NewStripeGateway(secretKey string, retries uint) *StripeGateway {
	sc := client.New(secretKey, nil)
	return &StripeGateway{
		sessions: sc.CheckoutSessions,
		findCustomer: func(ctx context.Context, email string) (string, error) {
			params := &stripe.CustomerListParams{Email: stripe.String(email)}
			params.Limit = stripe.Int64(1)
			params.Context = ctx
			it := sc.Customers.List(params)
			if it.Next() {
				return it.Customer().ID, nil
			}
			return "", it.Err()
		},
		Retries:    retries,
		RetryDelay: 200 * time.Millisecond,
	}
}

// CreateSession opens a payment-mode checkout session with one line item.
func (g *StripeGateway) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	customerID := ""
	if req.CustomerEmail != "" && g.findCustomer != nil {
		id, err := g.findCustomer(ctx, req.CustomerEmail)
		if err != nil {
			// Lookup is best effort; the session still carries the email.
			log.Ctx(ctx).Warn().Err(err).Msg("stripe customer lookup failed")
		}
		customerID = id
	}

	params := sessionParams(req, customerID)
	params.Context = ctx
	s, err := g.sessions.New(params)
	if err != nil {
		return nil, classify(err)
	}
	return &Session{ID: s.ID, URL: s.URL}, nil
}

// RetrieveSession fetches the session and reports whether it is paid.
func (g *StripeGateway) RetrieveSession(ctx context.Context, id string) (*SessionStatus, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: empty session id", ErrRejected)
	}
	var s *stripe.CheckoutSession
	err := retry.Do(
		func() error {
			params := &stripe.CheckoutSessionParams{}
			params.Context = ctx
			var err error
			s, err = g.sessions.Get(id, params)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(g.Retries+1),
		retry.Delay(g.RetryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(classify(err), ErrRejected)
		}),
	)
	if err != nil {
		return nil, classify(err)
	}
	return &SessionStatus{
		ID:   s.ID,
		Paid: s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
	}, nil
}

func sessionParams(req SessionRequest, customerID string) *stripe.CheckoutSessionParams {
	product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
		Name: stripe.String(req.ProductName),
	}
	if req.Description != "" {
		product.Description = stripe.String(req.Description)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(strings.ToLower(req.Currency)),
				ProductData: product,
				UnitAmount:  stripe.Int64(req.AmountMinor),
			},
			Quantity: stripe.Int64(1),
		}},
	}
	switch {
	case customerID != "":
		params.Customer = stripe.String(customerID)
	case req.CustomerEmail != "":
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	return params
}

// classify maps Stripe errors onto the gateway sentinels: 4xx responses are
// rejections, everything else counts as unavailability.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrRejected) || errors.Is(err, ErrUnavailable) {
		return err
	}
	var se *stripe.Error
	if errors.As(err, &se) && se.HTTPStatusCode >= 400 && se.HTTPStatusCode < 500 &&
		se.HTTPStatusCode != http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s", ErrRejected, se.Msg)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
