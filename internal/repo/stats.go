package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/bhartiyash03-sys/speedy-doc-link/internal/domain"
)

// BookingsStats returns the number of bookings owned by userID and the latest
// UpdatedAt among them. It backs the ETag of the booking history listing.
// maxUpdatedAt is nil when the user has no bookings.
func BookingsStats(ctx context.Context, db *gorm.DB, userID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Booking{}).Where("user_id = ?", userID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// ORDER BY + LIMIT instead of MAX(): SQLite returns MAX() as TEXT.
	var row struct {
		UpdatedAt time.Time
	}
	if err = db.WithContext(ctx).Model(&domain.Booking{}).
		Where("user_id = ?", userID).
		Select("updated_at").Order("updated_at DESC").Limit(1).
		Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}
