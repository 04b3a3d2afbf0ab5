package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AppointmentsBookedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "appointments_booked_total",
		Help: "Total number of appointments booked",
	})

	AppointmentsRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "appointments_rejected_total",
		Help: "Total number of appointments rejected by an administrator",
	})

	BookingFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_failures_total",
		Help: "Total number of failed booking attempts",
	}, []string{"reason"})

	PaymentAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_attempts_total",
		Help: "Total number of payment initiations",
	}, []string{"provider"})

	PaymentSuccessTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_success_total",
		Help: "Total number of verified payments",
	})

	PaymentFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_failed_total",
		Help: "Total number of payments that failed verification",
	})

	RefundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refunds_total",
		Help: "Total number of refund attempts",
	}, []string{"result"})

	ProviderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_provider_latency_seconds",
		Help:    "Latency of payment provider calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "operation"})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Notification outcomes by channel",
	}, []string{"channel", "result"})

	OTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "otp_requests_total",
		Help: "OTP issuance and verification outcomes",
	}, []string{"operation", "result"})

	RemindersSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reminders_sent_total",
		Help: "Total number of appointment reminders sent",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
