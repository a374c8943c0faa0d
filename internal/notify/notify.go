// Package notify delivers booking-confirmed notifications. A Dispatcher fans a
// Confirmation out to every configured Notifier off the request path; a
// failed delivery is logged and counted but never reaches the caller.
package notify

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bhartiyash03-sys/speedy-doc-link/internal/domain"
	"github.com/bhartiyash03-sys/speedy-doc-link/internal/metrics"
)

// Confirmation is the payload sent when a booking first becomes paid.
type Confirmation struct {
	BookingID            string    `json:"booking_id"`
	UserID               string    `json:"user_id"`
	Email                string    `json:"email,omitempty"`
	PatientName          string    `json:"patient_name,omitempty"`
	DoctorName           string    `json:"doctor_name"`
	DoctorSpecialization string    `json:"doctor_specialization,omitempty"`
	AppointmentDate      string    `json:"appointment_date"`
	AppointmentTime      string    `json:"appointment_time"`
	ConsultationType     string    `json:"consultation_type"`
	Fee                  int64     `json:"fee"`
	Currency             string    `json:"currency"`
	ConfirmedAt          time.Time `json:"confirmed_at"`
}

// NewConfirmation builds the payload from a confirmed booking and the
// caller's contact details.
func NewConfirmation(b *domain.Booking, email, name, currency string) Confirmation {
	c := Confirmation{
		BookingID:            b.ID,
		UserID:               b.UserID,
		Email:                strings.TrimSpace(email),
		PatientName:          strings.TrimSpace(name),
		DoctorName:           b.DoctorName,
		DoctorSpecialization: b.DoctorSpecialization,
		AppointmentDate:      b.AppointmentDate,
		AppointmentTime:      b.AppointmentTime,
		ConsultationType:     b.ConsultationType,
		Fee:                  b.Fee,
		Currency:             strings.ToUpper(currency),
	}
	if b.ConfirmedAt != nil {
		c.ConfirmedAt = *b.ConfirmedAt
	}
	return c
}

// Notifier delivers one confirmation over one channel.
type Notifier interface {
	Name() string
	NotifyBookingConfirmed(ctx context.Context, c Confirmation) error
}

// Dispatcher runs notifiers asynchronously with a per-dispatch timeout.
type Dispatcher struct {
	notifiers []Notifier
	timeout   time.Duration
	logger    zerolog.Logger

	wg sync.WaitGroup
}

// NewDispatcher returns a Dispatcher over ns. A non-positive timeout
// defaults to 10s.
func NewDispatcher(timeout time.Duration, ns ...Notifier) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		notifiers: ns,
		timeout:   timeout,
		logger:    log.Logger.With().Str("component", "notify").Logger(),
	}
}

// Dispatch schedules delivery of c and returns immediately. The work is
// detached from ctx cancellation so a finished request does not abort it.
func (d *Dispatcher) Dispatch(ctx context.Context, c Confirmation) {
	if d == nil || len(d.notifiers) == 0 {
		return
	}
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()
		d.deliver(dctx, c)
	}()
}

func (d *Dispatcher) deliver(ctx context.Context, c Confirmation) {
	var wg sync.WaitGroup
	for _, n := range d.notifiers {
		wg.Add(1)
		go func(n Notifier) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					metrics.NotificationsTotal.WithLabelValues(n.Name(), "error").Inc()
					d.logger.Error().Interface("panic", r).Str("notifier", n.Name()).
						Str("booking_id", c.BookingID).Msg("notifier panicked")
				}
			}()
			if err := n.NotifyBookingConfirmed(ctx, c); err != nil {
				metrics.NotificationsTotal.WithLabelValues(n.Name(), "error").Inc()
				d.logger.Warn().Err(err).Str("notifier", n.Name()).
					Str("booking_id", c.BookingID).Msg("booking notification failed")
				return
			}
			metrics.NotificationsTotal.WithLabelValues(n.Name(), "ok").Inc()
		}(n)
	}
	wg.Wait()
}

// Wait blocks until all scheduled deliveries finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
