package repo

import (
	"fmt"
	"testing"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/bhartiyash03-sys/speedy-doc-link/internal/domain"
)

func newTestDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()
	// Unique DB per test to avoid schema leaking across tests.
	dsn := fmt.Sprintf("file:repo_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func sampleBooking(userID string) *domain.Booking {
	return &domain.Booking{
		UserID:               userID,
		DoctorID:             "1",
		DoctorName:           "Dr. Sarah Johnson",
		DoctorSpecialization: "Cardiologist",
		AppointmentDate:      "2025-06-01",
		AppointmentTime:      "10:00 AM",
		ConsultationType:     domain.ModeOnline,
		Fee:                  800,
	}
}
