package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"clinic-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RazorpayProvider talks to the Razorpay orders and refunds API.
type RazorpayProvider struct {
	keyID   string
	secret  string
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewRazorpayProvider(keyID, secret, baseURL string, timeout time.Duration) *RazorpayProvider {
	return &RazorpayProvider{
		keyID:   keyID,
		secret:  secret,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  util.Named("razorpay"),
	}
}

func (p *RazorpayProvider) Name() Name { return Razorpay }

type razorpayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

type razorpayRefund struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type razorpayError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// Initiate creates an order. The order id is the transaction id until the payment settles.
func (p *RazorpayProvider) Initiate(ctx context.Context, amount decimal.Decimal, currency string, metadata map[string]string) (*InitiateResult, error) {
	body := map[string]any{
		"amount":   MinorUnits(amount),
		"currency": currency,
		"receipt":  metadata["receipt"],
		"notes":    metadata,
	}

	var order razorpayOrder
	if err := p.post(ctx, "initiate", "/v1/orders", body, &order); err != nil {
		return nil, err
	}

	p.logger.Info("Razorpay order created",
		zap.String("order_id", order.ID),
		zap.Int64("amount", order.Amount))

	return &InitiateResult{
		TransactionID: order.ID,
		Payload: map[string]any{
			"provider": string(Razorpay),
			"key_id":   p.keyID,
			"order_id": order.ID,
			"amount":   order.Amount,
			"currency": order.Currency,
		},
	}, nil
}

// Verify checks HMAC-SHA256(secret, order_id|payment_id) against the supplied signature.
func (p *RazorpayProvider) Verify(ctx context.Context, transactionID string, v Verification) (bool, error) {
	if v.OrderID == "" || v.PaymentID == "" || v.Signature == "" {
		return false, nil
	}
	if v.OrderID != transactionID {
		return false, nil
	}

	got, err := hex.DecodeString(v.Signature)
	if err != nil {
		return false, nil
	}
	return hmac.Equal(got, Sign(p.secret, v.OrderID, v.PaymentID)), nil
}

// Refund refunds amount of a captured payment.
func (p *RazorpayProvider) Refund(ctx context.Context, paymentRef string, amount decimal.Decimal) (*RefundResult, error) {
	body := map[string]any{"amount": MinorUnits(amount)}

	var refund razorpayRefund
	if err := p.post(ctx, "refund", "/v1/payments/"+paymentRef+"/refund", body, &refund); err != nil {
		return nil, err
	}
	return &RefundResult{RefundID: refund.ID, Status: refund.Status}, nil
}

func (p *RazorpayProvider) post(ctx context.Context, op, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return &ProviderError{Provider: Razorpay, Op: op, Message: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &ProviderError{Provider: Razorpay, Op: op, Message: err.Error()}
	}
	req.SetBasicAuth(p.keyID, p.secret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return &ProviderError{Provider: Razorpay, Op: op, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &ProviderError{Provider: Razorpay, Op: op, Status: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode >= 300 {
		var apiErr razorpayError
		msg := string(raw)
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Description != "" {
			msg = apiErr.Error.Code + ": " + apiErr.Error.Description
		}
		return &ProviderError{Provider: Razorpay, Op: op, Status: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &ProviderError{Provider: Razorpay, Op: op, Status: resp.StatusCode, Message: "decode response: " + err.Error()}
	}
	return nil
}

// Sign computes the checkout signature for an order/payment pair.
func Sign(secret, orderID, paymentID string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return mac.Sum(nil)
}
