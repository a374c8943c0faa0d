package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// LogNotifier writes confirmations to a zerolog logger. It is always
// installed so confirmations stay visible when no other channel is set up.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (LogNotifier) Name() string { return "log" }

func (n LogNotifier) NotifyBookingConfirmed(_ context.Context, c Confirmation) error {
	n.Logger.Info().
		Str("booking_id", c.BookingID).
		Str("user_id", c.UserID).
		Str("doctor", c.DoctorName).
		Str("date", c.AppointmentDate).
		Str("time", c.AppointmentTime).
		Int64("fee", c.Fee).
		Msg("booking confirmed")
	return nil
}
