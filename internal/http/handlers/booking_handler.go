// Booking HTTP handlers.
//
//   - POST /bookings/checkout  create a booking and open a checkout session
//   - POST /bookings/resume    reopen checkout for an unpaid booking
//   - POST /bookings/verify    reconcile payment with the provider
//   - GET  /bookings           history (paginated, ETag)
//   - GET  /bookings/{id}      detail
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bhartiyash03-sys/speedy-doc-link/internal/domain"
	"github.com/bhartiyash03-sys/speedy-doc-link/internal/http/middleware"
	"github.com/bhartiyash03-sys/speedy-doc-link/internal/services"
	"github.com/bhartiyash03-sys/speedy-doc-link/internal/utils"
)

// BookingService is the lifecycle API the handlers depend on.
type BookingService interface {
	Create(ctx context.Context, caller services.Caller, in services.CreateInput) (*services.CheckoutResult, error)
	Resume(ctx context.Context, caller services.Caller, bookingID, origin string) (*services.CheckoutResult, error)
	Verify(ctx context.Context, caller services.Caller, bookingID string) (*services.VerifyResult, error)
	Get(ctx context.Context, userID, bookingID string) (*domain.Booking, error)
	ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Booking, int64, error)
	Stats(ctx context.Context, userID string) (int64, *time.Time, error)
}

// OriginFunc returns the front-end origin checkout redirects should target,
// or "" to let the service use its default.
type OriginFunc func(c *gin.Context) string

// Handlers serves the booking endpoints.
type Handlers struct {
	svc    BookingService
	origin OriginFunc
}

// New binds the handlers to svc. A nil origin always defers to the service
// default.
func New(svc BookingService, origin OriginFunc) *Handlers {
	if origin == nil {
		origin = func(*gin.Context) string { return "" }
	}
	return &Handlers{svc: svc, origin: origin}
}

// CreateCheckoutRequest is the booking draft.
type CreateCheckoutRequest struct {
	DoctorID             string `json:"doctorId" example:"doc_42"`
	DoctorName           string `json:"doctorName" example:"Dr. Meera Rao"`
	DoctorSpecialization string `json:"doctorSpecialization" example:"Dermatology"`
	// ISO date, YYYY-MM-DD
	AppointmentDate string `json:"appointmentDate" example:"2026-11-02"`
	AppointmentTime string `json:"appointmentTime" example:"10:30 AM"`
	// online or in-person
	ConsultationType string `json:"consultationType" example:"online"`
	// Whole currency units, > 0
	Fee   int64  `json:"fee" example:"800"`
	Notes string `json:"notes,omitempty" example:"Follow-up for rash"`
}

// BookingRefRequest names a booking for resume and verify.
type BookingRefRequest struct {
	BookingID string `json:"bookingId" binding:"required" example:"0b7f3c52-2a41-4f7e-9a0c-6a1f2d9b8e11"`
}

// CheckoutResponse carries the hosted checkout URL, or AlreadyPaid when no
// checkout is needed.
type CheckoutResponse struct {
	URL         string `json:"url,omitempty" example:"https://checkout.stripe.com/c/pay/cs_test_a1"`
	BookingID   string `json:"bookingId" example:"0b7f3c52-2a41-4f7e-9a0c-6a1f2d9b8e11"`
	AlreadyPaid bool   `json:"alreadyPaid,omitempty"`
}

// VerifyResponse reports the reconciled payment state.
type VerifyResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty" example:"Payment not completed"`
	Booking *domain.Booking `json:"booking,omitempty"`
}

// Pagination is list metadata.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListBookingsResponse is one page of the caller's bookings.
type ListBookingsResponse struct {
	Bookings   []domain.Booking `json:"bookings"`
	Pagination Pagination       `json:"pagination"`
}

func caller(c *gin.Context) services.Caller {
	id, email, name := middleware.Identity(c)
	return services.Caller{ID: id, Email: email, Name: name}
}

func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = max(utils.AtoiDefault(c.Query("page"), 1), 1)
	pageSize = utils.Clamp(utils.AtoiDefault(c.Query("page_size"), defaultPageSize), 1, maxPageSize)
	return page, pageSize
}

func writeCheckout(c *gin.Context, res *services.CheckoutResult) {
	if res.Replayed {
		c.Header(middleware.HeaderIdempotencyReplayed, "true")
	}
	ok(c, http.StatusOK, CheckoutResponse{URL: res.URL, BookingID: res.BookingID, AlreadyPaid: res.AlreadyPaid})
}

// CreateCheckout godoc
// @ID          createCheckout
// @Summary     Book a consultation and start checkout
// @Description Stores a pending booking and opens a hosted checkout session for its fee. With Idempotency-Key, a retry resumes the recorded booking.
// @Tags        Bookings
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header  string  false  "Client idempotency key"  example(3c1d6c2e-retry-1)
// @Param       body             body    handlers.CreateCheckoutRequest  true  "Booking draft"
// @Success     200  {object}  handlers.CheckoutResponse
// @Header      200  {string}  Idempotency-Replayed  "true when served from a recorded key"
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     401  {object}  handlers.ErrorResponse
// @Failure     429  {object}  handlers.ErrorResponse
// @Failure     502  {object}  handlers.ErrorResponse
// @Failure     503  {object}  handlers.ErrorResponse
// @Router      /bookings/checkout [post]
func (h *Handlers) CreateCheckout(c *gin.Context) {
	var req CreateCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	key, _ := middleware.GetIdempotencyKey(c)

	res, err := h.svc.Create(c.Request.Context(), caller(c), services.CreateInput{
		DoctorID:             req.DoctorID,
		DoctorName:           req.DoctorName,
		DoctorSpecialization: req.DoctorSpecialization,
		AppointmentDate:      req.AppointmentDate,
		AppointmentTime:      req.AppointmentTime,
		ConsultationType:     req.ConsultationType,
		Fee:                  req.Fee,
		Notes:                req.Notes,
		Origin:               h.origin(c),
		IdempotencyKey:       key,
		IdempotencyScope:     middleware.IdempotencyScope(c),
	})
	if err != nil {
		failService(c, err)
		return
	}
	writeCheckout(c, res)
}

// ResumeCheckout godoc
// @ID          resumeCheckout
// @Summary     Resume checkout for an unpaid booking
// @Description Opens a fresh checkout session and replaces the stored reference. Paid bookings return alreadyPaid without contacting the provider.
// @Tags        Bookings
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body  handlers.BookingRefRequest  true  "Booking reference"
// @Success     200  {object}  handlers.CheckoutResponse
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     401  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     502  {object}  handlers.ErrorResponse
// @Failure     503  {object}  handlers.ErrorResponse
// @Router      /bookings/resume [post]
func (h *Handlers) ResumeCheckout(c *gin.Context) {
	var req BookingRefRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.BookingID) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "bookingId is required")
		return
	}
	res, err := h.svc.Resume(c.Request.Context(), caller(c), req.BookingID, h.origin(c))
	if err != nil {
		failService(c, err)
		return
	}
	writeCheckout(c, res)
}

// VerifyPayment godoc
// @ID          verifyPayment
// @Summary     Verify a booking's payment
// @Description Asks the payment provider about the booking's current checkout session and confirms the booking when paid. Safe to call repeatedly.
// @Tags        Bookings
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body  handlers.BookingRefRequest  true  "Booking reference"
// @Success     200  {object}  handlers.VerifyResponse
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     401  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse  "No checkout session attached"
// @Failure     502  {object}  handlers.ErrorResponse
// @Failure     503  {object}  handlers.ErrorResponse
// @Router      /bookings/verify [post]
func (h *Handlers) VerifyPayment(c *gin.Context) {
	var req BookingRefRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.BookingID) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "bookingId is required")
		return
	}
	res, err := h.svc.Verify(c.Request.Context(), caller(c), req.BookingID)
	if err != nil {
		failService(c, err)
		return
	}
	if !res.Paid {
		ok(c, http.StatusOK, VerifyResponse{Success: false, Message: "Payment not completed", Booking: res.Booking})
		return
	}
	ok(c, http.StatusOK, VerifyResponse{Success: true, Booking: res.Booking})
}

// ListBookings godoc
// @ID          listBookings
// @Summary     List the caller's bookings
// @Description Latest appointment first. Supports a weak ETag via If-None-Match.
// @Tags        Bookings
// @Produce     json
// @Security    BearerAuth
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Param       page           query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListBookingsResponse
// @Header      200  {string}  ETag  "Weak ETag for this page"
// @Success     304  {string}  string  "Not Modified"
// @Failure     401  {object}  handlers.ErrorResponse
// @Failure     503  {object}  handlers.ErrorResponse
// @Router      /bookings [get]
func (h *Handlers) ListBookings(c *gin.Context) {
	ctx := c.Request.Context()
	uid := middleware.UserID(c)
	page, pageSize := clampPagination(c)

	// Best effort: a failed stats query just skips the conditional path.
	if count, maxTS, err := h.svc.Stats(ctx, uid); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.Unix()
		}
		etag := fmt.Sprintf(`W/"bookings:%s:%d:%d:%d:%d"`, uid, page, pageSize, count, ts)
		c.Header("ETag", etag)
		if c.GetHeader("If-None-Match") == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.svc.ListPage(ctx, uid, page, pageSize)
	if err != nil {
		failService(c, err)
		return
	}
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListBookingsResponse{
		Bookings: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetBooking godoc
// @ID          getBooking
// @Summary     Get one booking
// @Tags        Bookings
// @Produce     json
// @Security    BearerAuth
// @Param       id  path  string  true  "Booking ID"
// @Success     200  {object}  domain.Booking
// @Failure     401  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     503  {object}  handlers.ErrorResponse
// @Router      /bookings/{id} [get]
func (h *Handlers) GetBooking(c *gin.Context) {
	b, err := h.svc.Get(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, b)
}
