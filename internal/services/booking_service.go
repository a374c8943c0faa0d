// Package services – BookingService
//
// BookingService is the booking payment lifecycle manager. It ties a booking
// row to a hosted checkout session and reconciles the provider's payment
// status back into the row:
//
//	create:  insert pending/pending, open a session, attach its reference
//	resume:  short-circuit when paid, otherwise open a fresh session
//	verify:  ask the provider about the current session; on paid, flip the
//	         row to confirmed/paid and dispatch one confirmation
//
// Concurrency is left to the store: MarkConfirmedPaid is a conditional update
// that reports whether this call did the transition, so concurrent verifies
// dispatch at most one notification. Every store and gateway call runs under
// its own timeout; failures surface as ErrStoreUnavailable or
// ErrGatewayUnavailable and the whole operation is safe to retry.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/bhartiyash03-sys/speedy-doc-link/internal/checkout"
	"github.com/bhartiyash03-sys/speedy-doc-link/internal/domain"
	"github.com/bhartiyash03-sys/speedy-doc-link/internal/metrics"
	"github.com/bhartiyash03-sys/speedy-doc-link/internal/notify"
	"github.com/bhartiyash03-sys/speedy-doc-link/internal/repo"
	"github.com/bhartiyash03-sys/speedy-doc-link/internal/utils"
)

const (
	reasonCreate = "create"
	reasonResume = "resume"

	tracerName = "services/BookingService"
)

// BookingRepo is the booking store contract consumed by BookingService.
// Every method takes the handle to run on so inserts can join a transaction.
type BookingRepo interface {
	InsertBooking(ctx context.Context, db *gorm.DB, b *domain.Booking) (*domain.Booking, error)
	GetBooking(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Booking, error)
	UpdateSessionReference(ctx context.Context, db *gorm.DB, id, userID, sessionID string) error
	MarkConfirmedPaid(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Booking, bool, error)

	CountBookings(ctx context.Context, db *gorm.DB, userID string) (int64, error)
	ListBookingsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Booking, error)
	BookingsStats(ctx context.Context, db *gorm.DB, userID string) (int64, *time.Time, error)

	GetIdempotency(ctx context.Context, db *gorm.DB, userID, scope, key string, now time.Time) (*domain.Idempotency, error)
	CreateIdempotency(ctx context.Context, db *gorm.DB, userID, scope, key, bookingID string, status int, ttl time.Duration) (*domain.Idempotency, error)
}

// Dispatcher hands a confirmation to the notification fan-out without
// waiting for delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, c notify.Confirmation)
}

// Caller is the authenticated user on whose behalf an operation runs.
type Caller struct {
	ID    string
	Email string
	Name  string
}

// CreateInput is the booking draft plus request context for Create.
type CreateInput struct {
	DoctorID             string
	DoctorName           string
	DoctorSpecialization string
	AppointmentDate      string
	AppointmentTime      string
	ConsultationType     string
	Fee                  int64
	Notes                string

	// Origin is the front-end base URL used for the checkout redirects.
	Origin string

	// IdempotencyKey, when set, makes a retried Create resume the booking
	// recorded for (caller, IdempotencyScope, key) instead of inserting.
	IdempotencyKey   string
	IdempotencyScope string
}

// CheckoutResult is returned by Create and Resume.
type CheckoutResult struct {
	BookingID   string
	URL         string
	AlreadyPaid bool
	Replayed    bool
}

// VerifyResult is the reconciled booking and whether it is paid.
type VerifyResult struct {
	Booking *domain.Booking
	Paid    bool
}

// BookingService orchestrates the booking payment lifecycle.
type BookingService struct {
	DB       *gorm.DB
	Repo     BookingRepo
	Gateway  checkout.Gateway
	Notifier Dispatcher

	// Currency is the ISO 4217 code used for checkout sessions.
	Currency string
	// DefaultOrigin is used when the request supplies no usable origin.
	DefaultOrigin string

	StoreTimeout   time.Duration
	GatewayTimeout time.Duration
	IdempotencyTTL time.Duration
}

// NewBookingService returns a BookingService with default currency, origin
// and timeouts.
func NewBookingService(db *gorm.DB, r BookingRepo, gw checkout.Gateway, n Dispatcher) *BookingService {
	return &BookingService{
		DB:             db,
		Repo:           r,
		Gateway:        gw,
		Notifier:       n,
		Currency:       "inr",
		DefaultOrigin:  "http://localhost:3000",
		StoreTimeout:   5 * time.Second,
		GatewayTimeout: 15 * time.Second,
		IdempotencyTTL: 24 * time.Hour,
	}
}

// Create inserts a pending booking, opens a checkout session for its fee and
// attaches the session reference.
//
// A gateway or store failure after the insert leaves a pending booking
// without a session; Resume repairs it. With an idempotency key, a repeated
// call resumes the booking created by the first one.
func (s *BookingService) Create(ctx context.Context, caller Caller, in CreateInput) (*CheckoutResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Create",
		trace.WithAttributes(
			attribute.String("user.id", caller.ID),
			attribute.String("doctor.id", in.DoctorID),
		),
	)
	defer span.End()

	draft, err := newDraft(caller.ID, in)
	if err != nil {
		return nil, err
	}
	if _, err := checkout.MinorUnits(draft.Fee, s.Currency); err != nil {
		return nil, fmt.Errorf("%w: fee %d cannot be charged in %s", ErrInvalidRequest, draft.Fee, s.Currency)
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" {
		res, err := s.replay(ctx, caller, in.IdempotencyScope, key, in.Origin)
		if err != nil || res != nil {
			return res, recordErr(span, err)
		}
	}

	b, err := s.insert(ctx, draft, in.IdempotencyScope, key)
	if errors.Is(err, repo.ErrDuplicate) {
		// A concurrent request with the same key committed first.
		res, rerr := s.replay(ctx, caller, in.IdempotencyScope, key, in.Origin)
		if rerr == nil && res == nil {
			rerr = fmt.Errorf("%w: idempotency record vanished", ErrStoreUnavailable)
		}
		return res, recordErr(span, rerr)
	}
	if err != nil {
		return nil, recordErr(span, s.storeErr(err))
	}
	metrics.BookingsCreated.Inc()
	span.SetAttributes(attribute.String("booking.id", b.ID))
	log.Info().Str("booking_id", b.ID).Str("user_id", b.UserID).Msg("booking created")

	res, err := s.attachSession(ctx, caller, b, in.Origin, reasonCreate)
	return res, recordErr(span, err)
}

// Resume opens a fresh checkout session for an unpaid booking, replacing the
// stored reference. A paid booking short-circuits with AlreadyPaid and the
// gateway is not contacted.
func (s *BookingService) Resume(ctx context.Context, caller Caller, bookingID, origin string) (*CheckoutResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Resume",
		trace.WithAttributes(
			attribute.String("user.id", caller.ID),
			attribute.String("booking.id", bookingID),
		),
	)
	defer span.End()

	if strings.TrimSpace(bookingID) == "" {
		return nil, fmt.Errorf("%w: bookingId is required", ErrInvalidRequest)
	}
	res, err := s.resume(ctx, caller, strings.TrimSpace(bookingID), origin)
	return res, recordErr(span, err)
}

// Verify reconciles the provider's status of the booking's current session.
// It is idempotent: once paid, further calls return the stored booking
// without contacting the gateway or dispatching notifications.
func (s *BookingService) Verify(ctx context.Context, caller Caller, bookingID string) (*VerifyResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Verify",
		trace.WithAttributes(
			attribute.String("user.id", caller.ID),
			attribute.String("booking.id", bookingID),
		),
	)
	defer span.End()

	bookingID = strings.TrimSpace(bookingID)
	if bookingID == "" {
		return nil, fmt.Errorf("%w: bookingId is required", ErrInvalidRequest)
	}

	b, err := s.get(ctx, bookingID, caller.ID)
	if err != nil {
		return nil, recordErr(span, err)
	}
	if b.IsPaid() {
		metrics.Verifications.WithLabelValues("already_paid").Inc()
		return &VerifyResult{Booking: b, Paid: true}, nil
	}
	if !b.HasCheckoutSession() {
		return nil, recordErr(span, ErrNoCheckoutSession)
	}

	gctx, cancel := withTimeout(ctx, s.GatewayTimeout)
	status, err := s.Gateway.RetrieveSession(gctx, *b.CheckoutSessionID)
	cancel()
	if err != nil {
		metrics.Verifications.WithLabelValues("error").Inc()
		return nil, recordErr(span, gatewayErr(err))
	}
	if !status.Paid {
		metrics.Verifications.WithLabelValues("unpaid").Inc()
		return &VerifyResult{Booking: b, Paid: false}, nil
	}

	sctx, cancel := withTimeout(ctx, s.StoreTimeout)
	confirmed, transitioned, err := s.Repo.MarkConfirmedPaid(sctx, s.DB, b.ID, caller.ID)
	cancel()
	if err != nil {
		metrics.Verifications.WithLabelValues("error").Inc()
		return nil, recordErr(span, s.storeErr(err))
	}

	if transitioned {
		metrics.Verifications.WithLabelValues("paid").Inc()
		metrics.BookingsConfirmed.Inc()
		log.Info().Str("booking_id", b.ID).Str("user_id", caller.ID).
			Str("session_id", *b.CheckoutSessionID).Msg("booking confirmed")
		if s.Notifier != nil {
			s.Notifier.Dispatch(ctx, notify.NewConfirmation(confirmed, caller.Email, caller.Name, s.Currency))
		}
	} else {
		metrics.Verifications.WithLabelValues("already_paid").Inc()
	}
	return &VerifyResult{Booking: confirmed, Paid: true}, nil
}

// Get returns one booking owned by userID.
func (s *BookingService) Get(ctx context.Context, userID, bookingID string) (*domain.Booking, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Get",
		trace.WithAttributes(attribute.String("booking.id", bookingID)),
	)
	defer span.End()

	b, err := s.get(ctx, strings.TrimSpace(bookingID), userID)
	return b, recordErr(span, err)
}

// ListPage returns a page of the user's bookings, latest appointment first,
// together with the total count.
func (s *BookingService) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Booking, int64, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	sctx, cancel := withTimeout(ctx, s.StoreTimeout)
	defer cancel()

	total, err := s.Repo.CountBookings(sctx, s.DB, userID)
	if err != nil {
		return nil, 0, recordErr(span, s.storeErr(err))
	}
	if total == 0 {
		return []domain.Booking{}, 0, nil
	}
	items, err := s.Repo.ListBookingsPage(sctx, s.DB, userID, utils.PageOffset(page, pageSize), pageSize)
	if err != nil {
		return nil, 0, recordErr(span, s.storeErr(err))
	}
	return items, total, nil
}

// Stats returns the user's booking count and latest update time, for ETags.
func (s *BookingService) Stats(ctx context.Context, userID string) (int64, *time.Time, error) {
	sctx, cancel := withTimeout(ctx, s.StoreTimeout)
	defer cancel()
	n, ts, err := s.Repo.BookingsStats(sctx, s.DB, userID)
	if err != nil {
		return 0, nil, s.storeErr(err)
	}
	return n, ts, nil
}

func (s *BookingService) resume(ctx context.Context, caller Caller, bookingID, origin string) (*CheckoutResult, error) {
	b, err := s.get(ctx, bookingID, caller.ID)
	if err != nil {
		return nil, err
	}
	if b.IsPaid() {
		return &CheckoutResult{BookingID: b.ID, AlreadyPaid: true}, nil
	}
	return s.attachSession(ctx, caller, b, origin, reasonResume)
}

// replay resumes the booking recorded for an idempotency key. It returns
// (nil, nil) when no live record exists.
func (s *BookingService) replay(ctx context.Context, caller Caller, scope, key, origin string) (*CheckoutResult, error) {
	sctx, cancel := withTimeout(ctx, s.StoreTimeout)
	rec, err := s.Repo.GetIdempotency(sctx, s.DB, caller.ID, scope, key, time.Now().UTC())
	cancel()
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, s.storeErr(err)
	}

	res, err := s.resume(ctx, caller, rec.BookingID, origin)
	if err != nil {
		return nil, err
	}
	res.Replayed = true
	return res, nil
}

// insert stores the draft and, when keyed, its idempotency record in one
// transaction so a losing concurrent request leaves no booking behind.
func (s *BookingService) insert(ctx context.Context, draft *domain.Booking, scope, key string) (*domain.Booking, error) {
	sctx, cancel := withTimeout(ctx, s.StoreTimeout)
	defer cancel()

	var out *domain.Booking
	err := s.DB.WithContext(sctx).Transaction(func(tx *gorm.DB) error {
		b, err := s.Repo.InsertBooking(sctx, tx, draft)
		if err != nil {
			return err
		}
		if key != "" {
			if _, err := s.Repo.CreateIdempotency(sctx, tx, b.UserID, scope, key, b.ID, http.StatusOK, s.IdempotencyTTL); err != nil {
				return err
			}
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BookingService) attachSession(ctx context.Context, caller Caller, b *domain.Booking, origin, reason string) (*CheckoutResult, error) {
	req, err := s.sessionRequest(caller, b, origin)
	if err != nil {
		return nil, err
	}

	gctx, cancel := withTimeout(ctx, s.GatewayTimeout)
	sess, err := s.Gateway.CreateSession(gctx, req)
	cancel()
	if err != nil {
		return nil, gatewayErr(err)
	}

	sctx, cancel := withTimeout(ctx, s.StoreTimeout)
	err = s.Repo.UpdateSessionReference(sctx, s.DB, b.ID, caller.ID, sess.ID)
	cancel()
	if err != nil {
		return nil, s.storeErr(err)
	}

	metrics.CheckoutSessions.WithLabelValues(reason).Inc()
	log.Info().Str("booking_id", b.ID).Str("session_id", sess.ID).Str("reason", reason).Msg("checkout session attached")
	return &CheckoutResult{BookingID: b.ID, URL: sess.URL}, nil
}

// sessionRequest describes the checkout for b from its snapshotted fee.
func (s *BookingService) sessionRequest(caller Caller, b *domain.Booking, origin string) (checkout.SessionRequest, error) {
	amount, err := checkout.MinorUnits(b.Fee, s.Currency)
	if err != nil {
		return checkout.SessionRequest{}, fmt.Errorf("%w: %v", ErrGatewayRejected, err)
	}
	base := s.origin(origin)
	id := url.QueryEscape(b.ID)
	return checkout.SessionRequest{
		AmountMinor:   amount,
		Currency:      s.Currency,
		ProductName:   "Consultation with " + b.DoctorName,
		Description:   fmt.Sprintf("%s consultation on %s at %s", modeLabel(b.ConsultationType), b.AppointmentDate, b.AppointmentTime),
		SuccessURL:    base + "/booking-success?booking_id=" + id,
		CancelURL:     base + "/booking-cancelled?booking_id=" + id,
		CustomerEmail: caller.Email,
		Metadata: map[string]string{
			"booking_id": b.ID,
			"user_id":    b.UserID,
		},
	}, nil
}

func (s *BookingService) get(ctx context.Context, id, userID string) (*domain.Booking, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: bookingId is required", ErrInvalidRequest)
	}
	sctx, cancel := withTimeout(ctx, s.StoreTimeout)
	defer cancel()
	b, err := s.Repo.GetBooking(sctx, s.DB, id, userID)
	if err != nil {
		return nil, s.storeErr(err)
	}
	return b, nil
}

func (s *BookingService) origin(o string) string {
	o = strings.TrimRight(strings.TrimSpace(o), "/")
	if o == "" {
		o = strings.TrimRight(s.DefaultOrigin, "/")
	}
	return o
}

func (s *BookingService) storeErr(err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return ErrBookingNotFound
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func gatewayErr(err error) error {
	if errors.Is(err, ErrGatewayRejected) || errors.Is(err, ErrGatewayUnavailable) {
		return err
	}
	if errors.Is(err, checkout.ErrRejected) {
		return fmt.Errorf("%w: %v", ErrGatewayRejected, err)
	}
	return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
}

// newDraft validates the create input and builds the booking snapshot.
func newDraft(userID string, in CreateInput) (*domain.Booking, error) {
	var missing []string
	req := func(name, v string) string {
		v = strings.TrimSpace(v)
		if v == "" {
			missing = append(missing, name)
		}
		return v
	}
	b := &domain.Booking{
		UserID:               strings.TrimSpace(userID),
		DoctorID:             req("doctorId", in.DoctorID),
		DoctorName:           req("doctorName", in.DoctorName),
		DoctorSpecialization: strings.TrimSpace(in.DoctorSpecialization),
		AppointmentDate:      req("appointmentDate", in.AppointmentDate),
		AppointmentTime:      req("appointmentTime", in.AppointmentTime),
		ConsultationType:     req("consultationType", in.ConsultationType),
		Fee:                  in.Fee,
	}
	if b.UserID == "" {
		return nil, fmt.Errorf("%w: caller identity is required", ErrInvalidRequest)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	if _, err := time.Parse(time.DateOnly, b.AppointmentDate); err != nil {
		return nil, fmt.Errorf("%w: appointmentDate must be YYYY-MM-DD", ErrInvalidRequest)
	}
	if !domain.ValidConsultationType(b.ConsultationType) {
		return nil, fmt.Errorf("%w: consultationType must be %q or %q", ErrInvalidRequest, domain.ModeOnline, domain.ModeInPerson)
	}
	if b.Fee <= 0 {
		return nil, fmt.Errorf("%w: fee must be a positive integer", ErrInvalidRequest)
	}
	if notes := strings.TrimSpace(in.Notes); notes != "" {
		b.Notes = &notes
	}
	return b, nil
}

func modeLabel(mode string) string {
	if mode == domain.ModeOnline {
		return "Online"
	}
	return "In-person"
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

func recordErr(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
