package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/bhartiyash03-sys/speedy-doc-link/internal/checkout"
	"github.com/bhartiyash03-sys/speedy-doc-link/internal/domain"
	"github.com/bhartiyash03-sys/speedy-doc-link/internal/metrics"
)

func TestCreate_PendingBookingWithSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Create(ctx, patient, sampleInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.BookingID == "" || !strings.HasPrefix(res.URL, "https://checkout.test/") {
		t.Fatalf("unexpected result: %+v", res)
	}

	b := storedBooking(t, f.db, res.BookingID)
	if b.Status != domain.StatusPending || b.PaymentStatus != domain.PaymentPending {
		t.Fatalf("want pending/pending, got %s/%s", b.Status, b.PaymentStatus)
	}
	if b.CheckoutSessionID == nil || *b.CheckoutSessionID != "cs_test_1" {
		t.Fatalf("session reference not attached: %v", b.CheckoutSessionID)
	}
	if b.UserID != patient.ID || b.Fee != 800 {
		t.Fatalf("unexpected booking: %+v", b)
	}
}

func TestCreate_SessionRequestContent(t *testing.T) {
	f := newFixture(t)
	in := sampleInput()
	in.Origin = "https://app.example.com/"

	res, err := f.svc.Create(context.Background(), patient, in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	req := f.gw.lastReq
	if req.AmountMinor != 80000 || req.Currency != "inr" {
		t.Fatalf("amount/currency = %d %s; want 80000 inr", req.AmountMinor, req.Currency)
	}
	if req.ProductName != "Consultation with Dr. A" {
		t.Fatalf("product = %q", req.ProductName)
	}
	if req.Description != "Online consultation on 2025-06-01 at 10:00 AM" {
		t.Fatalf("description = %q", req.Description)
	}
	if req.SuccessURL != "https://app.example.com/booking-success?booking_id="+res.BookingID {
		t.Fatalf("success url = %q", req.SuccessURL)
	}
	if req.CancelURL != "https://app.example.com/booking-cancelled?booking_id="+res.BookingID {
		t.Fatalf("cancel url = %q", req.CancelURL)
	}
	if req.CustomerEmail != patient.Email || req.Metadata["booking_id"] != res.BookingID || req.Metadata["user_id"] != patient.ID {
		t.Fatalf("customer/metadata mismatch: %+v", req)
	}
}

func TestCreate_DefaultOriginAndInPersonLabel(t *testing.T) {
	f := newFixture(t)
	in := sampleInput()
	in.ConsultationType = domain.ModeInPerson
	if _, err := f.svc.Create(context.Background(), patient, in); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !strings.HasPrefix(f.gw.lastReq.SuccessURL, "http://localhost:3000/booking-success?") {
		t.Fatalf("expected default origin, got %q", f.gw.lastReq.SuccessURL)
	}
	if !strings.HasPrefix(f.gw.lastReq.Description, "In-person consultation") {
		t.Fatalf("description = %q", f.gw.lastReq.Description)
	}
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	cases := map[string]func(*CreateInput){
		"missing date":              func(in *CreateInput) { in.AppointmentDate = " " },
		"bad date":                  func(in *CreateInput) { in.AppointmentDate = "01/06/2025" },
		"missing time":              func(in *CreateInput) { in.AppointmentTime = "" },
		"bad mode":                  func(in *CreateInput) { in.ConsultationType = "phone" },
		"zero fee":                  func(in *CreateInput) { in.Fee = 0 },
		"negative fee":              func(in *CreateInput) { in.Fee = -5 },
		"fee overflows minor units": func(in *CreateInput) { in.Fee = 1e17 },
		"no doctor":                 func(in *CreateInput) { in.DoctorName = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := sampleInput()
			mutate(&in)
			if _, err := f.svc.Create(context.Background(), patient, in); !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("want ErrInvalidRequest, got %v", err)
			}
		})
	}
	if _, err := f.svc.Create(context.Background(), Caller{}, sampleInput()); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("anonymous caller: want ErrInvalidRequest, got %v", err)
	}
	if create, _ := f.gw.calls(); create != 0 {
		t.Fatalf("gateway must not be called for invalid input")
	}
	var n int64
	f.db.Model(&domain.Booking{}).Count(&n)
	if n != 0 {
		t.Fatalf("no booking should be stored, got %d", n)
	}
}

func TestCreate_GatewayFailure_LeavesOrphanThatResumeRepairs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.gw.createErr = checkout.ErrUnavailable
	_, err := f.svc.Create(ctx, patient, sampleInput())
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("want ErrGatewayUnavailable, got %v", err)
	}

	var orphan domain.Booking
	if err := f.db.Where("user_id = ?", patient.ID).First(&orphan).Error; err != nil {
		t.Fatalf("expected orphaned booking to remain: %v", err)
	}
	if orphan.HasCheckoutSession() || orphan.IsPaid() {
		t.Fatalf("orphan should be pending without session: %+v", orphan)
	}

	f.gw.createErr = nil
	res, err := f.svc.Resume(ctx, patient, orphan.ID, "")
	if err != nil {
		t.Fatalf("Resume orphan: %v", err)
	}
	if res.URL == "" || res.AlreadyPaid {
		t.Fatalf("expected new checkout url, got %+v", res)
	}
	if b := storedBooking(t, f.db, orphan.ID); !b.HasCheckoutSession() {
		t.Fatalf("resume should attach a session reference")
	}
}

func TestCreate_GatewayRejected(t *testing.T) {
	f := newFixture(t)
	f.gw.createErr = checkout.ErrRejected
	if _, err := f.svc.Create(context.Background(), patient, sampleInput()); !errors.Is(err, ErrGatewayRejected) {
		t.Fatalf("want ErrGatewayRejected, got %v", err)
	}
}

func TestCreate_StoreFailureOnAttach(t *testing.T) {
	f := newFixture(t)
	f.svc.Repo = faultyRepo{updateErr: errors.New("disk I/O error")}
	if _, err := f.svc.Create(context.Background(), patient, sampleInput()); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("want ErrStoreUnavailable, got %v", err)
	}
}

func TestCreate_IdempotencyKeyReplaysBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := sampleInput()
	in.IdempotencyKey = "key-123"
	in.IdempotencyScope = "/api/v1/bookings/checkout"

	first, err := f.svc.Create(ctx, patient, in)
	if err != nil {
		t.Fatalf("first Create: %v", err)
	}
	second, err := f.svc.Create(ctx, patient, in)
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}
	if second.BookingID != first.BookingID || !second.Replayed || first.Replayed {
		t.Fatalf("expected replay of %s, got %+v", first.BookingID, second)
	}
	if second.URL == first.URL {
		t.Fatalf("replay should issue a fresh session")
	}

	var n int64
	f.db.Model(&domain.Booking{}).Where("user_id = ?", patient.ID).Count(&n)
	if n != 1 {
		t.Fatalf("expected a single booking, got %d", n)
	}

	// Same key, other user: independent.
	other, err := f.svc.Create(ctx, Caller{ID: "user-2"}, in)
	if err != nil {
		t.Fatalf("other user Create: %v", err)
	}
	if other.BookingID == first.BookingID || other.Replayed {
		t.Fatalf("keys must be scoped per user: %+v", other)
	}
}

func TestCreate_IdempotencyReplayOfPaidBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := sampleInput()
	in.IdempotencyKey = "key-paid"

	first, _ := f.svc.Create(ctx, patient, in)
	f.gw.markPaid("cs_test_1")
	if _, err := f.svc.Verify(ctx, patient, first.BookingID); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	again, err := f.svc.Create(ctx, patient, in)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !again.AlreadyPaid || !again.Replayed || again.URL != "" {
		t.Fatalf("expected already-paid replay, got %+v", again)
	}
}

func TestResume_AlreadyPaid_NeverContactsGateway(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, _ := f.svc.Create(ctx, patient, sampleInput())
	f.gw.markPaid("cs_test_1")
	if _, err := f.svc.Verify(ctx, patient, res.BookingID); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	createBefore, retrieveBefore := f.gw.calls()

	for i := 0; i < 3; i++ {
		out, err := f.svc.Resume(ctx, patient, res.BookingID, "")
		if err != nil {
			t.Fatalf("Resume: %v", err)
		}
		if !out.AlreadyPaid || out.URL != "" || out.BookingID != res.BookingID {
			t.Fatalf("expected alreadyPaid, got %+v", out)
		}
	}
	if c, r := f.gw.calls(); c != createBefore || r != retrieveBefore {
		t.Fatalf("gateway contacted on paid resume: create %d->%d retrieve %d->%d", createBefore, c, retrieveBefore, r)
	}
}

func TestResume_ReplacesSessionAndVerifyUsesNewest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, _ := f.svc.Create(ctx, patient, sampleInput())
	r1, err := f.svc.Resume(ctx, patient, res.BookingID, "")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if r1.URL == res.URL {
		t.Fatalf("resume must issue a new session")
	}
	b := storedBooking(t, f.db, res.BookingID)
	if *b.CheckoutSessionID != "cs_test_2" {
		t.Fatalf("stored session = %s; want cs_test_2", *b.CheckoutSessionID)
	}

	// Paying the superseded session is not observed.
	f.gw.markPaid("cs_test_1")
	out, err := f.svc.Verify(ctx, patient, res.BookingID)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if out.Paid {
		t.Fatalf("verify must only consult the current session")
	}

	f.gw.markPaid("cs_test_2")
	out, err = f.svc.Verify(ctx, patient, res.BookingID)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !out.Paid || out.Booking.Status != domain.StatusConfirmed {
		t.Fatalf("expected confirmed/paid, got %+v", out.Booking)
	}
	assertPaidImpliesConfirmed(t, f.db)
}

func TestResume_ForeignOrMissing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, _ := f.svc.Create(ctx, patient, sampleInput())

	if _, err := f.svc.Resume(ctx, Caller{ID: "intruder"}, res.BookingID, ""); !errors.Is(err, ErrBookingNotFound) {
		t.Fatalf("foreign: want ErrBookingNotFound, got %v", err)
	}
	if _, err := f.svc.Resume(ctx, patient, "nope", ""); !errors.Is(err, ErrBookingNotFound) {
		t.Fatalf("missing: want ErrBookingNotFound, got %v", err)
	}
	if _, err := f.svc.Resume(ctx, patient, "  ", ""); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("blank: want ErrInvalidRequest, got %v", err)
	}
}

func TestVerify_ScenarioIdempotentSingleDispatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	confirmedBefore := testutil.ToFloat64(metrics.BookingsConfirmed)

	res, err := f.svc.Create(ctx, patient, sampleInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	out, err := f.svc.Verify(ctx, patient, res.BookingID)
	if err != nil {
		t.Fatalf("Verify unpaid: %v", err)
	}
	if out.Paid || out.Booking.Status != domain.StatusPending {
		t.Fatalf("expected still pending, got %+v", out.Booking)
	}

	f.gw.markPaid("cs_test_1")
	first, err := f.svc.Verify(ctx, patient, res.BookingID)
	if err != nil {
		t.Fatalf("first Verify: %v", err)
	}
	if !first.Paid || first.Booking.Status != domain.StatusConfirmed || first.Booking.PaymentStatus != domain.PaymentPaid {
		t.Fatalf("expected confirmed/paid, got %+v", first.Booking)
	}
	if first.Booking.ConfirmedAt == nil {
		t.Fatalf("confirmed_at not set")
	}

	_, retrieveBefore := f.gw.calls()
	second, err := f.svc.Verify(ctx, patient, res.BookingID)
	if err != nil {
		t.Fatalf("second Verify: %v", err)
	}
	if second.Booking.ID != first.Booking.ID || second.Booking.Status != first.Booking.Status ||
		second.Booking.PaymentStatus != first.Booking.PaymentStatus ||
		!second.Booking.ConfirmedAt.Equal(*first.Booking.ConfirmedAt) {
		t.Fatalf("second verify differs: %+v vs %+v", second.Booking, first.Booking)
	}
	if _, r := f.gw.calls(); r != retrieveBefore {
		t.Fatalf("paid fast path must not contact the gateway")
	}
	if got := f.disp.count(); got != 1 {
		t.Fatalf("dispatch count = %d; want 1", got)
	}
	if got := testutil.ToFloat64(metrics.BookingsConfirmed); got != confirmedBefore+1 {
		t.Fatalf("bookings_confirmed_total = %v; want %v", got, confirmedBefore+1)
	}

	c := f.disp.got[0]
	if c.BookingID != res.BookingID || c.Email != patient.Email || c.PatientName != patient.Name || c.Fee != 800 {
		t.Fatalf("unexpected confirmation: %+v", c)
	}
	assertPaidImpliesConfirmed(t, f.db)
}

func TestVerify_ConcurrentCallsDispatchOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, _ := f.svc.Create(ctx, patient, sampleInput())
	f.gw.markPaid("cs_test_1")

	// Both callers read pending; only the conditional update decides.
	b1, _ := f.svc.Repo.GetBooking(ctx, f.db, res.BookingID, patient.ID)
	b2, _ := f.svc.Repo.GetBooking(ctx, f.db, res.BookingID, patient.ID)
	if b1.IsPaid() || b2.IsPaid() {
		t.Fatalf("expected pending snapshots")
	}
	_, t1, err1 := f.svc.Repo.MarkConfirmedPaid(ctx, f.db, res.BookingID, patient.ID)
	_, t2, err2 := f.svc.Repo.MarkConfirmedPaid(ctx, f.db, res.BookingID, patient.ID)
	if err1 != nil || err2 != nil {
		t.Fatalf("mark errors: %v %v", err1, err2)
	}
	if t1 == t2 {
		t.Fatalf("exactly one mark should transition: %v %v", t1, t2)
	}

	// Verify after the race observes the paid row and does not dispatch again.
	out, err := f.svc.Verify(ctx, patient, res.BookingID)
	if err != nil || !out.Paid {
		t.Fatalf("Verify after race: %+v %v", out, err)
	}
	if f.disp.count() != 0 {
		t.Fatalf("no dispatch expected from verify after an external transition")
	}
}

func TestVerify_ForeignOwnerNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, _ := f.svc.Create(ctx, patient, sampleInput())
	f.gw.markPaid("cs_test_1")

	_, err := f.svc.Verify(ctx, Caller{ID: "intruder"}, res.BookingID)
	if !errors.Is(err, ErrBookingNotFound) {
		t.Fatalf("want ErrBookingNotFound, got %v", err)
	}
	if b := storedBooking(t, f.db, res.BookingID); b.IsPaid() {
		t.Fatalf("foreign verify must not change state")
	}
	if f.disp.count() != 0 {
		t.Fatalf("foreign verify must not dispatch")
	}
}

func TestVerify_NoSessionIsInvalidState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gw.createErr = checkout.ErrUnavailable
	_, _ = f.svc.Create(ctx, patient, sampleInput())

	var orphan domain.Booking
	if err := f.db.Where("user_id = ?", patient.ID).First(&orphan).Error; err != nil {
		t.Fatalf("load orphan: %v", err)
	}
	if _, err := f.svc.Verify(ctx, patient, orphan.ID); !errors.Is(err, ErrNoCheckoutSession) {
		t.Fatalf("want ErrNoCheckoutSession, got %v", err)
	}
}

func TestVerify_GatewayAndStoreFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, _ := f.svc.Create(ctx, patient, sampleInput())

	f.gw.retrieveErr = checkout.ErrUnavailable
	if _, err := f.svc.Verify(ctx, patient, res.BookingID); !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("want ErrGatewayUnavailable, got %v", err)
	}
	f.gw.retrieveErr = nil

	f.gw.markPaid("cs_test_1")
	f.svc.Repo = faultyRepo{markErr: errors.New("database is locked")}
	if _, err := f.svc.Verify(ctx, patient, res.BookingID); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("want ErrStoreUnavailable, got %v", err)
	}
	if f.disp.count() != 0 {
		t.Fatalf("failed mark must not dispatch")
	}

	// Retry after recovery succeeds.
	f.svc.Repo = sqlRepo{}
	out, err := f.svc.Verify(ctx, patient, res.BookingID)
	if err != nil || !out.Paid {
		t.Fatalf("retry: %+v %v", out, err)
	}
	if f.disp.count() != 1 {
		t.Fatalf("dispatch count = %d; want 1", f.disp.count())
	}
}

func TestVerify_StoreTimeoutSurfacesAsUnavailable(t *testing.T) {
	f := newFixture(t)
	f.svc.Repo = faultyRepo{getErr: context.DeadlineExceeded}
	if _, err := f.svc.Verify(context.Background(), patient, "b1"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("want ErrStoreUnavailable, got %v", err)
	}
}

func TestVerify_NilNotifierIsTolerated(t *testing.T) {
	f := newFixture(t)
	f.svc.Notifier = nil
	ctx := context.Background()
	res, _ := f.svc.Create(ctx, patient, sampleInput())
	f.gw.markPaid("cs_test_1")
	if out, err := f.svc.Verify(ctx, patient, res.BookingID); err != nil || !out.Paid {
		t.Fatalf("Verify: %+v %v", out, err)
	}
}

func TestFeeSnapshot_Preserved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, _ := f.svc.Create(ctx, patient, sampleInput())

	// Resume must charge the stored fee regardless of any later price input.
	if _, err := f.svc.Resume(ctx, patient, res.BookingID, ""); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if f.gw.lastReq.AmountMinor != 80000 {
		t.Fatalf("resume amount = %d; want 80000", f.gw.lastReq.AmountMinor)
	}
	b, err := f.svc.Get(ctx, patient.ID, res.BookingID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if b.Fee != 800 {
		t.Fatalf("fee = %d; want 800", b.Fee)
	}
}

func TestListPageAndStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	items, total, err := f.svc.ListPage(ctx, patient.ID, 0, 0)
	if err != nil || total != 0 || len(items) != 0 {
		t.Fatalf("empty list: %v %d %v", items, total, err)
	}

	for _, d := range []string{"2025-06-01", "2025-07-15", "2025-05-20"} {
		in := sampleInput()
		in.AppointmentDate = d
		if _, err := f.svc.Create(ctx, patient, in); err != nil {
			t.Fatalf("Create %s: %v", d, err)
		}
	}

	items, total, err = f.svc.ListPage(ctx, patient.ID, 1, 2)
	if err != nil {
		t.Fatalf("ListPage: %v", err)
	}
	if total != 3 || len(items) != 2 || items[0].AppointmentDate != "2025-07-15" {
		t.Fatalf("unexpected page: total=%d items=%+v", total, items)
	}

	n, ts, err := f.svc.Stats(ctx, patient.ID)
	if err != nil || n != 3 || ts == nil || ts.After(time.Now().Add(time.Minute)) {
		t.Fatalf("Stats = %d %v %v", n, ts, err)
	}
}
