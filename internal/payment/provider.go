package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Name identifies a provider variant
type Name string

const (
	Mock     Name = "mock"
	Razorpay Name = "razorpay"
)

var ErrUnknownProvider = errors.New("unknown payment provider")

// Provider is the contract every payment gateway adapter satisfies.
type Provider interface {
	Name() Name

	// Initiate creates a charge at the gateway. It must not touch local state and may be
	// called again for the same logical charge.
	Initiate(ctx context.Context, amount decimal.Decimal, currency string, metadata map[string]string) (*InitiateResult, error)

	// Verify checks provider-issued identifiers cryptographically. It never trusts amounts
	// or statuses supplied by the client.
	Verify(ctx context.Context, transactionID string, v Verification) (bool, error)

	// Refund returns money for a settled payment reference.
	Refund(ctx context.Context, paymentRef string, amount decimal.Decimal) (*RefundResult, error)
}

// InitiateResult is handed to the client to complete payment out of band
type InitiateResult struct {
	TransactionID string         `json:"transaction_id"`
	Payload       map[string]any `json:"payload"`
}

// Verification is what the client sends back after paying
type Verification struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}

// RefundResult describes a refund accepted by the gateway
type RefundResult struct {
	RefundID string `json:"refund_id"`
	Status   string `json:"status"`
}

// ProviderError wraps a gateway-side failure
type ProviderError struct {
	Provider Name
	Op       string
	Status   int
	Message  string
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: status %d: %s", e.Provider, e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("%s %s: %s", e.Provider, e.Op, e.Message)
}

// MinorUnits converts an amount to the smallest currency unit (paise, cents).
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
