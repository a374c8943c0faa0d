package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"time"

	"github.com/resend/resend-go/v2"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/bhartiyash03-sys/speedy-doc-link/internal/domain"
)

// DefaultFrom is used when no sender address is configured.
const DefaultFrom = "MediConnect <onboarding@resend.dev>"

type emailSender interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// EmailNotifier sends a confirmation email through Resend.
type EmailNotifier struct {
	emails emailSender
	from   string
}

// NewEmailNotifier returns a Resend-backed notifier.
func NewEmailNotifier(apiKey, from string) *EmailNotifier {
	if from == "" {
		from = DefaultFrom
	}
	return &EmailNotifier{emails: resend.NewClient(apiKey).Emails, from: from}
}

func (*EmailNotifier) Name() string { return "email" }

var errNoRecipient = errors.New("no recipient email")

func (n *EmailNotifier) NotifyBookingConfirmed(ctx context.Context, c Confirmation) error {
	if c.Email == "" {
		return errNoRecipient
	}
	html, err := renderConfirmation(c)
	if err != nil {
		return err
	}
	_, err = n.emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    n.from,
		To:      []string{c.Email},
		Subject: "Booking Confirmed - " + c.DoctorName,
		Html:    html,
	})
	return err
}

type emailView struct {
	Confirmation
	Patient  string
	Date     string
	Mode     string
	FeePaid  string
	Guidance string
}

func renderConfirmation(c Confirmation) (string, error) {
	v := emailView{
		Confirmation: c,
		Patient:      c.PatientName,
		Date:         c.AppointmentDate,
		Mode:         "In-person Visit",
		Guidance:     "Please arrive 10 minutes before your scheduled appointment time.",
		FeePaid:      formatFee(c.Fee, c.Currency),
	}
	if v.Patient == "" {
		v.Patient = "Patient"
	}
	if d, err := time.Parse(time.DateOnly, c.AppointmentDate); err == nil {
		v.Date = d.Format("Monday, 2 January 2006")
	}
	if c.ConsultationType == domain.ModeOnline {
		v.Mode = "Online Consultation"
		v.Guidance = "You will receive a video call link before your appointment."
	}

	var buf bytes.Buffer
	if err := confirmationTmpl.Execute(&buf, v); err != nil {
		return "", fmt.Errorf("render confirmation: %w", err)
	}
	return buf.String(), nil
}

func formatFee(fee int64, code string) string {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return fmt.Sprintf("%s %d", code, fee)
	}
	return message.NewPrinter(language.English).Sprint(currency.Symbol(unit.Amount(fee)))
}

var confirmationTmpl = template.Must(template.New("confirmation").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h1>Booking Confirmed!</h1>
  <p>Dear {{.Patient}},</p>
  <p>Your appointment has been successfully booked. Here are your booking details:</p>
  <table>
    <tr><td>Doctor:</td><td><strong>{{.DoctorName}}</strong></td></tr>
    {{- if .DoctorSpecialization}}
    <tr><td>Specialization:</td><td>{{.DoctorSpecialization}}</td></tr>
    {{- end}}
    <tr><td>Date:</td><td><strong>{{.Date}}</strong></td></tr>
    <tr><td>Time:</td><td><strong>{{.AppointmentTime}}</strong></td></tr>
    <tr><td>Type:</td><td>{{.Mode}}</td></tr>
    <tr><td>Fee Paid:</td><td><strong>{{.FeePaid}}</strong></td></tr>
  </table>
  <p>{{.Guidance}}</p>
  <p>Booking Reference: <strong>{{.BookingID}}</strong></p>
  <p>If you need to cancel or reschedule, please contact us at least 24 hours before your appointment.</p>
</div>`))
