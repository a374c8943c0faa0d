package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/bhartiyash03-sys/speedy-doc-link/internal/auth"
	"github.com/bhartiyash03-sys/speedy-doc-link/internal/checkout"
	"github.com/bhartiyash03-sys/speedy-doc-link/internal/domain"
	"github.com/bhartiyash03-sys/speedy-doc-link/internal/http/middleware"
	"github.com/bhartiyash03-sys/speedy-doc-link/internal/notify"
	"github.com/bhartiyash03-sys/speedy-doc-link/internal/repo"
	"github.com/bhartiyash03-sys/speedy-doc-link/internal/services"
)

const testSecret = "handler-test-secret"

func newHandlerDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:booking_handlers_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// testBookingRepo forwards to the repo package the way the router does.
type testBookingRepo struct{}

func (testBookingRepo) InsertBooking(ctx context.Context, db *gorm.DB, b *domain.Booking) (*domain.Booking, error) {
	return repo.InsertBooking(ctx, db, b)
}
func (testBookingRepo) GetBooking(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Booking, error) {
	return repo.GetBooking(ctx, db, id, userID)
}
func (testBookingRepo) UpdateSessionReference(ctx context.Context, db *gorm.DB, id, userID, sessionID string) error {
	return repo.UpdateSessionReference(ctx, db, id, userID, sessionID)
}
func (testBookingRepo) MarkConfirmedPaid(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Booking, bool, error) {
	return repo.MarkConfirmedPaid(ctx, db, id, userID)
}
func (testBookingRepo) CountBookings(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.CountBookings(ctx, db, userID)
}
func (testBookingRepo) ListBookingsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Booking, error) {
	return repo.ListBookingsPage(ctx, db, userID, offset, limit)
}
func (testBookingRepo) BookingsStats(ctx context.Context, db *gorm.DB, userID string) (int64, *time.Time, error) {
	return repo.BookingsStats(ctx, db, userID)
}
func (testBookingRepo) GetIdempotency(ctx context.Context, db *gorm.DB, userID, scope, key string, now time.Time) (*domain.Idempotency, error) {
	return repo.GetIdempotency(ctx, db, userID, scope, key, now)
}
func (testBookingRepo) CreateIdempotency(ctx context.Context, db *gorm.DB, userID, scope, key, bookingID string, status int, ttl time.Duration) (*domain.Idempotency, error) {
	return repo.CreateIdempotency(ctx, db, userID, scope, key, bookingID, status, ttl)
}

// switchGateway opens sessions and reports them paid once settle is called.
type switchGateway struct {
	mu      sync.Mutex
	n       int
	paid    map[string]bool
	creates int
}

func newSwitchGateway() *switchGateway { return &switchGateway{paid: map[string]bool{}} }

func (g *switchGateway) CreateSession(_ context.Context, req checkout.SessionRequest) (*checkout.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	g.creates++
	id := fmt.Sprintf("cs_test_%d", g.n)
	g.paid[id] = false
	return &checkout.Session{ID: id, URL: "https://pay.example/" + id}, nil
}

func (g *switchGateway) RetrieveSession(_ context.Context, id string) (*checkout.SessionStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	paid, ok := g.paid[id]
	if !ok {
		return nil, checkout.ErrRejected
	}
	return &checkout.SessionStatus{ID: id, Paid: paid}, nil
}

func (g *switchGateway) settle(id string) {
	g.mu.Lock()
	g.paid[id] = true
	g.mu.Unlock()
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []notify.Confirmation
}

func (d *recordingDispatcher) Dispatch(_ context.Context, c notify.Confirmation) {
	d.mu.Lock()
	d.sent = append(d.sent, c)
	d.mu.Unlock()
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

type apiFixture struct {
	r        *gin.Engine
	db       *gorm.DB
	gw       *switchGateway
	notifier *recordingDispatcher
	verifier *auth.Verifier
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := newHandlerDB(t)
	gw := newSwitchGateway()
	nd := &recordingDispatcher{}
	svc := services.NewBookingService(db, testBookingRepo{}, gw, nd)

	v, err := auth.NewVerifier(testSecret, "", "")
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}

	lookup := func(ctx context.Context, uid, scope, key string, now time.Time) (bool, error) {
		_, err := repo.GetIdempotency(ctx, db, uid, scope, key, now)
		return err == nil, err
	}

	h := New(svc, func(c *gin.Context) string { return c.GetHeader("Origin") })
	r := gin.New()
	r.Use(middleware.RequestID())
	api := r.Group("/api/v1", middleware.BearerAuth(v), middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, lookup))
	api.POST("/bookings/checkout", h.CreateCheckout)
	api.POST("/bookings/resume", h.ResumeCheckout)
	api.POST("/bookings/verify", h.VerifyPayment)
	api.GET("/bookings", h.ListBookings)
	api.GET("/bookings/:id", h.GetBooking)

	return &apiFixture{r: r, db: db, gw: gw, notifier: nd, verifier: v}
}

func (f *apiFixture) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := f.verifier.Issue(userID, userID+"@example.com", "Patient "+userID, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return tok
}

func (f *apiFixture) do(t *testing.T, userID, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+f.token(t, userID))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func draft() CreateCheckoutRequest {
	return CreateCheckoutRequest{
		DoctorID:             "doc_42",
		DoctorName:           "Dr. Meera Rao",
		DoctorSpecialization: "Dermatology",
		AppointmentDate:      "2026-11-02",
		AppointmentTime:      "10:30 AM",
		ConsultationType:     domain.ModeOnline,
		Fee:                  800,
	}
}

func (f *apiFixture) storedBooking(t *testing.T, id string) domain.Booking {
	t.Helper()
	var b domain.Booking
	if err := f.db.First(&b, "id = ?", id).Error; err != nil {
		t.Fatalf("load booking %s: %v", id, err)
	}
	return b
}

func assertError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d (body=%s)", w.Code, status, w.Body.String())
	}
	resp := decode[ErrorResponse](t, w)
	if resp.Code != code || resp.Error == "" {
		t.Fatalf("envelope = %+v, want code %s", resp, code)
	}
}

func newRequestContext(method, path string) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, path, nil)
	return c, w
}
