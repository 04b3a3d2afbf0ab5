package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"clinic-service/internal/events"
	"clinic-service/internal/expiring"
	"clinic-service/internal/models"
	"clinic-service/internal/otp"
	"clinic-service/internal/store"
	"clinic-service/internal/util"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 8
	resetTokenBytes   = 32
	defaultResetTTL   = 30 * time.Minute
)

// PendingRegistration is held against an OTP until the code is verified
type PendingRegistration struct {
	Name         string
	Phone        string
	PasswordHash string
}

// RegistrationService handles OTP-gated sign up, login and password reset
type RegistrationService struct {
	repo      Repository
	otps      *otp.Manager[PendingRegistration]
	resets    *expiring.Map[string, int64]
	bus       events.Publisher
	publicURL string
	resetTTL  time.Duration
	hashCost  int
	hash      func(password []byte, cost int) ([]byte, error)
	logger    *zap.Logger
}

// NewRegistrationService creates a registration service
func NewRegistrationService(repo Repository, otps *otp.Manager[PendingRegistration], bus events.Publisher, publicURL string) *RegistrationService {
	return &RegistrationService{
		repo:      repo,
		otps:      otps,
		resets:    expiring.New[string, int64](expiring.WithMaxSize(10000)),
		bus:       bus,
		publicURL: strings.TrimRight(publicURL, "/"),
		resetTTL:  defaultResetTTL,
		hashCost:  bcrypt.DefaultCost,
		hash:      bcrypt.GenerateFromPassword,
		logger:    util.GetLogger(),
	}
}

// SendOTPRequest starts a registration
type SendOTPRequest struct {
	Email    string `json:"email" binding:"required"`
	Name     string `json:"name" binding:"required"`
	Phone    string `json:"phone"`
	Password string `json:"password" binding:"required"`
}

// SendOTP issues a verification code for a new account and emails it.
func (s *RegistrationService) SendOTP(ctx context.Context, req SendOTPRequest) error {
	email := otp.Normalize(req.Email)
	if err := validateEmail(email); err != nil {
		return err
	}
	if strings.TrimSpace(req.Name) == "" {
		return invalid("name", "is required")
	}
	if err := validatePassword(req.Password); err != nil {
		return err
	}

	_, err := s.repo.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		return fmt.Errorf("%w: email already registered", ErrConflict)
	case !errors.Is(err, store.ErrNotFound):
		return err
	}

	// rate limit runs before bcrypt
	code, err := s.otps.Generate(email)
	if err != nil {
		return err
	}
	hash, err := s.hash([]byte(req.Password), s.hashCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	pending := PendingRegistration{Name: strings.TrimSpace(req.Name), Phone: strings.TrimSpace(req.Phone), PasswordHash: string(hash)}
	if err := s.otps.SetPayload(email, pending); err != nil {
		return err
	}

	s.bus.Publish(ctx, models.EventOTPRequested, models.EventPayload{Email: email, Name: pending.Name, Code: code})
	return nil
}

// VerifyOTP consumes the code and creates the user with a patient profile
func (s *RegistrationService) VerifyOTP(ctx context.Context, email, code string) (user *models.User, err error) {
	email = otp.Normalize(email)
	pending, err := s.otps.Verify(email, strings.TrimSpace(code))
	if err != nil {
		return nil, err
	}
	// a code issued without a stored payload cannot create an account
	if pending.PasswordHash == "" {
		return nil, otp.ErrExpired
	}

	err = s.repo.WithTx(ctx, func(q store.Querier, hooks *store.Hooks) error {
		user = &models.User{
			Email:        email,
			Name:         pending.Name,
			Phone:        pending.Phone,
			PasswordHash: pending.PasswordHash,
			Role:         models.RolePatient,
		}
		if err := q.CreateUser(ctx, user); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return fmt.Errorf("%w: email already registered", ErrConflict)
			}
			return err
		}
		patient := &models.Patient{UserID: user.ID, Name: user.Name, Email: user.Email, Phone: user.Phone}
		if err := q.CreatePatient(ctx, patient); err != nil {
			return err
		}

		payload := models.EventPayload{Email: user.Email, Name: user.Name, Phone: user.Phone}
		hooks.OnCommit(func(ctx context.Context) {
			s.bus.Publish(ctx, models.EventUserRegistered, payload)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("User registered", zap.Int64("user_id", user.ID))
	return user, nil
}

// Login checks credentials. Unknown email and wrong password are indistinguishable.
func (s *RegistrationService) Login(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.repo.GetUserByEmail(ctx, otp.Normalize(email))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// RequestPasswordReset emails a single-use reset link. It reports success whether or not
// the email is registered.
func (s *RegistrationService) RequestPasswordReset(ctx context.Context, email string) error {
	email = otp.Normalize(email)
	user, err := s.repo.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Debug("Password reset for unknown email")
		return nil
	}
	if err != nil {
		return err
	}

	token, err := newResetToken()
	if err != nil {
		return err
	}
	s.resets.Set(tokenKey(token), user.ID, s.resetTTL)

	s.bus.Publish(ctx, models.EventPasswordReset, models.EventPayload{
		Email: user.Email,
		Name:  user.Name,
		Link:  s.publicURL + "/reset-password?token=" + token,
	})
	return nil
}

// ResetPassword consumes token and stores the new password
func (s *RegistrationService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	var userID int64
	taken := s.resets.Update(tokenKey(token), func(id int64) (int64, bool) {
		userID = id
		return id, false
	})
	if !taken {
		return ErrInvalidToken
	}

	hash, err := s.hash([]byte(newPassword), s.hashCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.repo.UpdateUserPassword(ctx, userID, string(hash)); err != nil {
		return err
	}

	s.logger.Info("Password reset", zap.Int64("user_id", userID))
	return nil
}

// SweepResets drops expired reset tokens
func (s *RegistrationService) SweepResets() int {
	return s.resets.Sweep()
}

func newResetToken() (string, error) {
	b := make([]byte, resetTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// only the token hash is kept in memory
func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func validateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return invalid("email", "is not a valid address")
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return invalid("password", fmt.Sprintf("must be at least %d characters", minPasswordLength))
	}
	return nil
}
