package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"clinic-service/internal/models"
	"clinic-service/internal/payment"
	"clinic-service/internal/service"
	"clinic-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Appointments is the booking surface used by the handlers
type Appointments interface {
	Book(ctx context.Context, req service.BookRequest) (*models.Appointment, error)
	Availability(ctx context.Context, doctorID int64, date string) (*service.Availability, error)
	Reject(ctx context.Context, appointmentID int64, reason string) (*service.RejectResult, error)
}

// Payments is the payment surface used by the handlers
type Payments interface {
	Initiate(ctx context.Context, appointmentID, userID int64) (*service.InitiateResponse, error)
	Confirm(ctx context.Context, paymentID, userID int64, v payment.Verification) (*service.ConfirmResponse, error)
}

// Accounts covers registration, login and password reset
type Accounts interface {
	SendOTP(ctx context.Context, req service.SendOTPRequest) error
	VerifyOTP(ctx context.Context, email, code string) (*models.User, error)
	Login(ctx context.Context, email, password string) (*models.User, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
}

// Pinger is checked by the readiness probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	appointments Appointments
	payments     Payments
	accounts     Accounts
	jwtSecret    string
	probes       map[string]Pinger
	now          func() time.Time
	logger       *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(appointments Appointments, payments Payments, accounts Accounts, jwtSecret string, probes map[string]Pinger) *Handler {
	return &Handler{
		appointments: appointments,
		payments:     payments,
		accounts:     accounts,
		jwtSecret:    jwtSecret,
		probes:       probes,
		now:          time.Now,
		logger:       util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		auth := v1.Group("/auth")
		auth.POST("/register/otp", h.sendOTP)
		auth.POST("/register/verify", h.verifyOTP)
		auth.POST("/login", h.login)
		auth.POST("/password/forgot", h.forgotPassword)
		auth.POST("/password/reset", h.resetPassword)

		v1.GET("/doctors/:id/availability", h.availability)

		authed := v1.Group("", AuthMiddleware(h.jwtSecret))
		authed.POST("/appointments", RequireRole(models.RolePatient), h.bookAppointment)
		authed.POST("/appointments/:id/payments", RequireRole(models.RolePatient), h.initiatePayment)
		authed.POST("/payments/:id/confirm", RequireRole(models.RolePatient), h.confirmPayment)

		admin := authed.Group("/admin", RequireRole(models.RoleAdmin))
		admin.POST("/appointments/:id/reject", h.rejectAppointment)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   h.now().Unix(),
	})
}

// readinessCheck pings every dependency and reports 503 if any is down
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.probes))
	ready := true
	for name, p := range h.probes {
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("Readiness probe failed", zap.String("dependency", name), zap.Error(err))
			checks[name] = "down"
			ready = false
			continue
		}
		checks[name] = "up"
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status": status,
		"checks": checks,
		"time":   h.now().Unix(),
	})
}

type verifyOTPRequest struct {
	Email string `json:"email" binding:"required"`
	Code  string `json:"code" binding:"required"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" binding:"required"`
}

type resetPasswordRequest struct {
	Token    string `json:"token" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) sendOTP(c *gin.Context) {
	var req service.SendOTPRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.accounts.SendOTP(c.Request.Context(), req); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message": "Verification code sent"})
}

func (h *Handler) verifyOTP(c *gin.Context) {
	var req verifyOTPRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.accounts.VerifyOTP(c.Request.Context(), req.Email, req.Code)
	if err != nil {
		writeError(c, err)
		return
	}

	h.respondWithToken(c, http.StatusCreated, user)
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.accounts.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}

	h.respondWithToken(c, http.StatusOK, user)
}

func (h *Handler) respondWithToken(c *gin.Context, status int, user *models.User) {
	token, err := IssueToken(h.jwtSecret, user, h.now())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(status, gin.H{
		"token":   token,
		"user_id": user.ID,
		"role":    user.Role,
	})
}

// forgotPassword answers the same way whether or not the email is registered
func (h *Handler) forgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.accounts.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message": "If the account exists, a reset link has been sent"})
}

func (h *Handler) resetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.accounts.ResetPassword(c.Request.Context(), req.Token, req.Password); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Password updated"})
}

func (h *Handler) availability(c *gin.Context) {
	doctorID, ok := pathID(c, "id")
	if !ok {
		return
	}
	date := c.Query("date")
	if date == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "field": "date", "message": "date is required"})
		return
	}

	resp, err := h.appointments.Availability(c.Request.Context(), doctorID, date)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) bookAppointment(c *gin.Context) {
	var req service.BookRequest
	if !bindJSON(c, &req) {
		return
	}

	userID, err := callerID(c)
	if err != nil {
		writeError(c, err)
		return
	}
	req.UserID = userID

	appt, err := h.appointments.Book(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, appt)
}

func (h *Handler) initiatePayment(c *gin.Context) {
	appointmentID, ok := pathID(c, "id")
	if !ok {
		return
	}
	userID, err := callerID(c)
	if err != nil {
		writeError(c, err)
		return
	}

	resp, err := h.payments.Initiate(c.Request.Context(), appointmentID, userID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) confirmPayment(c *gin.Context) {
	paymentID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var v payment.Verification
	if !bindJSON(c, &v) {
		return
	}
	userID, err := callerID(c)
	if err != nil {
		writeError(c, err)
		return
	}

	resp, err := h.payments.Confirm(c.Request.Context(), paymentID, userID, v)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) rejectAppointment(c *gin.Context) {
	appointmentID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req rejectRequest
	// body is optional
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}

	resp, err := h.appointments.Reject(c.Request.Context(), appointmentID, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request_body",
			"details": err.Error(),
		})
		return false
	}
	return true
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_" + name})
		return 0, false
	}
	return id, true
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
