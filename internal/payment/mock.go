package payment

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MockProvider always succeeds. Used for local and development flows.
type MockProvider struct{}

func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

func (p *MockProvider) Name() Name { return Mock }

func (p *MockProvider) Initiate(ctx context.Context, amount decimal.Decimal, currency string, metadata map[string]string) (*InitiateResult, error) {
	orderID := "mock_order_" + shortID()
	return &InitiateResult{
		TransactionID: orderID,
		Payload: map[string]any{
			"provider":   string(Mock),
			"order_id":   orderID,
			"payment_id": "mock_pay_" + shortID(),
			"amount":     MinorUnits(amount),
			"currency":   currency,
		},
	}, nil
}

func (p *MockProvider) Verify(ctx context.Context, transactionID string, v Verification) (bool, error) {
	return true, nil
}

func (p *MockProvider) Refund(ctx context.Context, paymentRef string, amount decimal.Decimal) (*RefundResult, error) {
	return &RefundResult{RefundID: "mock_rfnd_" + shortID(), Status: "processed"}, nil
}

func shortID() string {
	return uuid.New().String()[:8]
}
