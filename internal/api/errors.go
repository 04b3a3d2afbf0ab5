package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"clinic-service/internal/otp"
	"clinic-service/internal/payment"
	"clinic-service/internal/service"
	"clinic-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// writeError maps service errors to HTTP responses. Unknown errors become a generic 500.
func writeError(c *gin.Context, err error) {
	var (
		verr    *service.ValidationError
		rlErr   *otp.RateLimitError
		codeErr *otp.InvalidCodeError
		provErr *payment.ProviderError
	)

	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "field": verr.Field, "message": verr.Message})
	case errors.As(err, &rlErr):
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(rlErr.RetryAfter.Seconds()))))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited", "message": "Too many requests, try again later"})
	case errors.As(err, &codeErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_code", "remaining_attempts": codeErr.Remaining})
	case errors.Is(err, otp.ErrTooManyAttempts):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too_many_attempts", "message": "Request a new code"})
	case errors.Is(err, otp.ErrExpired):
		c.JSON(http.StatusBadRequest, gin.H{"error": "code_expired", "message": "Code expired or not found"})
	case errors.Is(err, service.ErrSlotConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "slot_unavailable", "message": err.Error()})
	case errors.Is(err, service.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "message": err.Error()})
	case errors.Is(err, service.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_state", "message": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, service.ErrForbidden), errors.Is(err, errNoCaller):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
	case errors.Is(err, service.ErrInvalidToken):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_token", "message": "Reset link is invalid or expired"})
	case errors.As(err, &provErr):
		util.GetLogger().Error("Payment provider error", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "payment_provider_error", "message": "Payment provider unavailable"})
	default:
		util.GetLogger().Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
