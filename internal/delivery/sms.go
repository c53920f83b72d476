// Package delivery holds the outbound collaborators: the SMS gateway that carries
// verification codes and the per-channel webhook senders used by dispatch.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/advocacyflow/server/internal/logging"
)

const maxErrorBody = 512

type smsPayload struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// SMSDelivery posts verification codes to an SMS gateway
type SMSDelivery struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// NewSMSDelivery creates a gateway-backed delivery
func NewSMSDelivery(url string, timeout time.Duration, logger *zap.Logger) *SMSDelivery {
	return &SMSDelivery{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Deliver sends the code. The code never appears in logs or returned errors.
func (d *SMSDelivery) Deliver(ctx context.Context, phone, code string) error {
	payload := smsPayload{
		Phone:   phone,
		Message: fmt.Sprintf("Your SocialRipple verification code is %s", code),
	}
	if err := postJSON(ctx, d.client, d.url, payload); err != nil {
		d.logger.Warn("sms delivery failed", logging.Phone(phone), zap.Error(err))
		return fmt.Errorf("sms gateway: %w", err)
	}
	d.logger.Info("sms delivered", logging.Phone(phone))
	return nil
}

// LogDelivery stands in for a gateway in development. It records that a code was
// issued, never the code itself.
type LogDelivery struct {
	logger *zap.Logger
}

func NewLogDelivery(logger *zap.Logger) *LogDelivery {
	return &LogDelivery{logger: logger}
}

func (d *LogDelivery) Deliver(_ context.Context, phone, _ string) error {
	d.logger.Info("verification code issued (no sms gateway configured)", logging.Phone(phone))
	return nil
}

// StatusError is returned when the remote end answers with a non-2xx status
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Body)
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
