// Package metrics holds the Prometheus collectors for booking lifecycle
// events. HTTP traffic metrics live in the middleware package.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// BookingsCreated counts bookings inserted by the create operation.
	BookingsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bookings_created_total",
		Help: "Total number of bookings created.",
	})

	// CheckoutSessions counts hosted checkout sessions opened, by reason
	// ("create" or "resume").
	CheckoutSessions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_sessions_created_total",
		Help: "Total number of checkout sessions created.",
	}, []string{"reason"})

	// BookingsConfirmed counts pending-to-paid transitions.
	BookingsConfirmed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bookings_confirmed_total",
		Help: "Total number of bookings confirmed as paid.",
	})

	// Verifications counts verify calls by outcome
	// ("paid", "already_paid", "unpaid", "error").
	Verifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_verifications_total",
		Help: "Total number of payment verifications by outcome.",
	}, []string{"outcome"})

	// NotificationsTotal counts confirmation deliveries by notifier and
	// result ("ok" or "error").
	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_notifications_total",
		Help: "Total number of booking notifications attempted.",
	}, []string{"notifier", "result"})
)

func init() {
	prometheus.MustRegister(BookingsCreated, CheckoutSessions, BookingsConfirmed, Verifications, NotificationsTotal)
}
