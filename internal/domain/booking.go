// Package domain defines the persistence models for bookings and request
// idempotency. These types are mapped with GORM and form the core data layer
// of the booking backend.
package domain

import "time"

// Lifecycle status values.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

// Payment status values.
const (
	PaymentPending = "pending"
	PaymentPaid    = "paid"
)

// Consultation modes.
const (
	ModeOnline   = "online"
	ModeInPerson = "in-person"
)

// Booking is one patient's attempt to book a doctor slot together with its
// payment lifecycle. Doctor fields, the slot and the fee are snapshots taken
// at creation time; they are never re-read from a live catalogue.
//
// Fields:
//   - ID: UUID primary key (char(36)), immutable.
//   - UserID: owning user; every query is scoped by it.
//   - DoctorID / DoctorName / DoctorSpecialization: denormalized doctor snapshot.
//   - AppointmentDate: ISO date (YYYY-MM-DD); AppointmentTime: free-form slot label.
//   - ConsultationType: "online" or "in-person".
//   - Fee: whole currency units (> 0). Converted to minor units only at the gateway.
//   - Notes: optional patient notes.
//   - CheckoutSessionID: current hosted checkout session; nil until one is created,
//     replaced on resume.
//   - Status / PaymentStatus: lifecycle and payment state.
//   - ConfirmedAt: set once, when payment is first reconciled as paid.
type Booking struct {
	ID                   string     `json:"id"                    gorm:"type:char(36);primaryKey"`
	UserID               string     `json:"user_id"               gorm:"type:varchar(64);not null;index:idx_user_bookings,priority:1"`
	DoctorID             string     `json:"doctor_id"             gorm:"type:varchar(64);not null"`
	DoctorName           string     `json:"doctor_name"           gorm:"type:varchar(255);not null"`
	DoctorSpecialization string     `json:"doctor_specialization" gorm:"type:varchar(255);not null;default:''"`
	AppointmentDate      string     `json:"appointment_date"      gorm:"type:varchar(10);not null;index:idx_user_bookings,priority:2"`
	AppointmentTime      string     `json:"appointment_time"      gorm:"type:varchar(32);not null"`
	ConsultationType     string     `json:"consultation_type"     gorm:"type:varchar(16);not null;check:consultation_type IN ('online','in-person')"`
	Fee                  int64      `json:"fee"                   gorm:"not null;check:fee > 0"`
	Notes                *string    `json:"notes"                 gorm:"type:text"`
	CheckoutSessionID    *string    `json:"checkout_session_id"   gorm:"type:varchar(255);index"`
	Status               string     `json:"status"                gorm:"type:varchar(16);not null;default:'pending';check:status IN ('pending','confirmed','cancelled')"`
	PaymentStatus        string     `json:"payment_status"        gorm:"type:varchar(16);not null;default:'pending';check:payment_status IN ('pending','paid')"`
	ConfirmedAt          *time.Time `json:"confirmed_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Booking.
func (Booking) TableName() string { return "bookings" }

// IsPaid reports whether the booking's payment has been reconciled.
func (b *Booking) IsPaid() bool { return b.PaymentStatus == PaymentPaid }

// HasCheckoutSession reports whether a checkout session reference is attached.
func (b *Booking) HasCheckoutSession() bool {
	return b.CheckoutSessionID != nil && *b.CheckoutSessionID != ""
}

// ValidConsultationType reports whether mode is one of the supported modes.
func ValidConsultationType(mode string) bool {
	return mode == ModeOnline || mode == ModeInPerson
}
