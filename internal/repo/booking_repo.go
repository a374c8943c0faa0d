// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Booking
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, so they can
// run inside transactions. Every lookup and mutation is scoped by the owning
// user id: a booking owned by someone else is indistinguishable from one that
// does not exist.
//
// Error semantics:
//   - Missing (or foreign) bookings yield ErrNotFound (gorm.ErrRecordNotFound).
//   - Other DB errors are propagated unchanged.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bhartiyash03-sys/speedy-doc-link/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = gorm.ErrRecordNotFound

// InsertBooking persists b as a new pending booking. ID and timestamps are
// assigned when empty; status fields are forced to pending and any session
// reference is cleared.
func InsertBooking(ctx context.Context, db *gorm.DB, b *domain.Booking) (*domain.Booking, error) {
	now := time.Now().UTC()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	b.Status = domain.StatusPending
	b.PaymentStatus = domain.PaymentPending
	b.CheckoutSessionID = nil
	b.ConfirmedAt = nil
	b.CreatedAt = now
	b.UpdatedAt = now
	if err := db.WithContext(ctx).Create(b).Error; err != nil {
		return nil, err
	}
	return b, nil
}

// GetBooking fetches a booking by id and owner.
func GetBooking(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Booking, error) {
	var b domain.Booking
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&b).Error
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// UpdateSessionReference attaches sessionID as the booking's current checkout
// session, replacing any previous one. Returns ErrNotFound when no row owned
// by userID matches.
func UpdateSessionReference(ctx context.Context, db *gorm.DB, id, userID, sessionID string) error {
	res := db.WithContext(ctx).
		Model(&domain.Booking{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]any{
			"checkout_session_id": sessionID,
			"updated_at":          time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkConfirmedPaid moves a pending booking to confirmed/paid in a single
// conditional update and returns the stored row.
//
// transitioned is true only for the call that performed the change, so
// concurrent reconcilers of the same booking observe exactly one transition.
// A booking already paid is returned unchanged with transitioned=false.
func MarkConfirmedPaid(ctx context.Context, db *gorm.DB, id, userID string) (b *domain.Booking, transitioned bool, err error) {
	now := time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.Booking{}).
		Where("id = ? AND user_id = ? AND payment_status = ?", id, userID, domain.PaymentPending).
		Updates(map[string]any{
			"status":         domain.StatusConfirmed,
			"payment_status": domain.PaymentPaid,
			"confirmed_at":   now,
			"updated_at":     now,
		})
	if res.Error != nil {
		return nil, false, res.Error
	}

	b, err = GetBooking(ctx, db, id, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, ErrNotFound
		}
		return nil, false, err
	}
	return b, res.RowsAffected > 0, nil
}

// CountBookings returns the number of bookings owned by userID.
func CountBookings(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Booking{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}

// ListBookingsPage returns a page of userID's bookings, most recent
// appointment first. Ties fall back to creation time, newest first.
func ListBookingsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Booking, error) {
	var out []domain.Booking
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("appointment_date desc").
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
