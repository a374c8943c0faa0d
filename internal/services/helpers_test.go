package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/bhartiyash03-sys/speedy-doc-link/internal/checkout"
	"github.com/bhartiyash03-sys/speedy-doc-link/internal/domain"
	"github.com/bhartiyash03-sys/speedy-doc-link/internal/notify"
	"github.com/bhartiyash03-sys/speedy-doc-link/internal/repo"
)

// ---------- test helpers ----------

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:bookingsvc_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// sqlRepo forwards to the repo package functions.
type sqlRepo struct{}

func (sqlRepo) InsertBooking(ctx context.Context, db *gorm.DB, b *domain.Booking) (*domain.Booking, error) {
	return repo.InsertBooking(ctx, db, b)
}
func (sqlRepo) GetBooking(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Booking, error) {
	return repo.GetBooking(ctx, db, id, userID)
}
func (sqlRepo) UpdateSessionReference(ctx context.Context, db *gorm.DB, id, userID, sessionID string) error {
	return repo.UpdateSessionReference(ctx, db, id, userID, sessionID)
}
func (sqlRepo) MarkConfirmedPaid(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Booking, bool, error) {
	return repo.MarkConfirmedPaid(ctx, db, id, userID)
}
func (sqlRepo) CountBookings(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.CountBookings(ctx, db, userID)
}
func (sqlRepo) ListBookingsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Booking, error) {
	return repo.ListBookingsPage(ctx, db, userID, offset, limit)
}
func (sqlRepo) BookingsStats(ctx context.Context, db *gorm.DB, userID string) (int64, *time.Time, error) {
	return repo.BookingsStats(ctx, db, userID)
}
func (sqlRepo) GetIdempotency(ctx context.Context, db *gorm.DB, userID, scope, key string, now time.Time) (*domain.Idempotency, error) {
	return repo.GetIdempotency(ctx, db, userID, scope, key, now)
}
func (sqlRepo) CreateIdempotency(ctx context.Context, db *gorm.DB, userID, scope, key, bookingID string, status int, ttl time.Duration) (*domain.Idempotency, error) {
	return repo.CreateIdempotency(ctx, db, userID, scope, key, bookingID, status, ttl)
}

// faultyRepo overrides selected store calls with an error.
type faultyRepo struct {
	sqlRepo
	updateErr error
	markErr   error
	getErr    error
}

func (f faultyRepo) UpdateSessionReference(ctx context.Context, db *gorm.DB, id, userID, sessionID string) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	return f.sqlRepo.UpdateSessionReference(ctx, db, id, userID, sessionID)
}

func (f faultyRepo) MarkConfirmedPaid(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Booking, bool, error) {
	if f.markErr != nil {
		return nil, false, f.markErr
	}
	return f.sqlRepo.MarkConfirmedPaid(ctx, db, id, userID)
}

func (f faultyRepo) GetBooking(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Booking, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.sqlRepo.GetBooking(ctx, db, id, userID)
}

// fakeGateway records calls; sessions are unpaid until markPaid.
type fakeGateway struct {
	mu          sync.Mutex
	n           int
	createCalls int
	getCalls    int
	lastReq     checkout.SessionRequest
	paid        map[string]bool
	createErr   error
	retrieveErr error
}

func newFakeGateway() *fakeGateway { return &fakeGateway{paid: map[string]bool{}} }

func (g *fakeGateway) CreateSession(_ context.Context, req checkout.SessionRequest) (*checkout.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCalls++
	g.lastReq = req
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.n++
	id := fmt.Sprintf("cs_test_%d", g.n)
	g.paid[id] = false
	return &checkout.Session{ID: id, URL: "https://checkout.test/" + id}, nil
}

func (g *fakeGateway) RetrieveSession(_ context.Context, id string) (*checkout.SessionStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.getCalls++
	if g.retrieveErr != nil {
		return nil, g.retrieveErr
	}
	paid, ok := g.paid[id]
	if !ok {
		return nil, checkout.ErrRejected
	}
	return &checkout.SessionStatus{ID: id, Paid: paid}, nil
}

func (g *fakeGateway) markPaid(id string) {
	g.mu.Lock()
	g.paid[id] = true
	g.mu.Unlock()
}

func (g *fakeGateway) calls() (create, retrieve int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.createCalls, g.getCalls
}

// fakeDispatcher counts dispatched confirmations.
type fakeDispatcher struct {
	mu  sync.Mutex
	got []notify.Confirmation
}

func (d *fakeDispatcher) Dispatch(_ context.Context, c notify.Confirmation) {
	d.mu.Lock()
	d.got = append(d.got, c)
	d.mu.Unlock()
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.got)
}

type fixture struct {
	db   *gorm.DB
	gw   *fakeGateway
	disp *fakeDispatcher
	svc  *BookingService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newSvcDB(t)
	gw := newFakeGateway()
	disp := &fakeDispatcher{}
	return &fixture{db: db, gw: gw, disp: disp, svc: NewBookingService(db, sqlRepo{}, gw, disp)}
}

var patient = Caller{ID: "user-1", Email: "pat@example.com", Name: "Pat Lee"}

func sampleInput() CreateInput {
	return CreateInput{
		DoctorID:             "1",
		DoctorName:           "Dr. A",
		DoctorSpecialization: "Cardiologist",
		AppointmentDate:      "2025-06-01",
		AppointmentTime:      "10:00 AM",
		ConsultationType:     domain.ModeOnline,
		Fee:                  800,
	}
}

func storedBooking(t *testing.T, db *gorm.DB, id string) domain.Booking {
	t.Helper()
	var b domain.Booking
	if err := db.First(&b, "id = ?", id).Error; err != nil {
		t.Fatalf("load booking %s: %v", id, err)
	}
	return b
}

func assertPaidImpliesConfirmed(t *testing.T, db *gorm.DB) {
	t.Helper()
	var n int64
	if err := db.Model(&domain.Booking{}).
		Where("payment_status = ? AND status <> ?", domain.PaymentPaid, domain.StatusConfirmed).
		Count(&n).Error; err != nil {
		t.Fatalf("invariant query: %v", err)
	}
	if n != 0 {
		t.Fatalf("%d paid bookings are not confirmed", n)
	}
}
