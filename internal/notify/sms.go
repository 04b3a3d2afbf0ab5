package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SMSSender posts messages to an HTTP SMS gateway using form encoding and basic auth.
type SMSSender struct {
	gatewayURL string
	accountID  string
	token      string
	from       string
	httpClient *http.Client
}

func NewSMSSender(gatewayURL, accountID, token, from string) *SMSSender {
	return &SMSSender{
		gatewayURL: gatewayURL,
		accountID:  accountID,
		token:      token,
		from:       from,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send ignores subject; SMS carries the body only
func (s *SMSSender) Send(ctx context.Context, recipient, _ string, body string) error {
	form := url.Values{}
	form.Set("To", recipient)
	form.Set("From", s.from)
	form.Set("Body", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.gatewayURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.accountID, s.token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sms gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sms gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
