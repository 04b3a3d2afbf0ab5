package payment

import (
	"errors"
	"fmt"
	"time"

	"clinic-service/config"
)

// Factory resolves providers by configured name. Providers hold no per-request state.
type Factory struct {
	mock     *MockProvider
	razorpay *RazorpayProvider
}

func NewFactory(cfg config.PaymentConfig) *Factory {
	f := &Factory{mock: NewMockProvider()}
	if cfg.KeyID != "" && cfg.Secret != "" {
		f.razorpay = NewRazorpayProvider(cfg.KeyID, cfg.Secret, cfg.BaseURL, time.Duration(cfg.TimeoutSeconds)*time.Second)
	}
	return f
}

// Get returns the provider registered under name.
func (f *Factory) Get(name string) (Provider, error) {
	switch Name(name) {
	case Mock:
		return f.mock, nil
	case Razorpay:
		if f.razorpay == nil {
			return nil, errors.New("razorpay credentials not configured")
		}
		return f.razorpay, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
}
