package delivery

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/advocacyflow/server/internal/dispatch"
	"github.com/advocacyflow/server/internal/logging"
)

// WebhookSender posts dispatch messages to a channel-specific webhook
type WebhookSender struct {
	url    string
	client *http.Client
}

// NewWebhookSender creates a sender posting to url
func NewWebhookSender(url string, timeout time.Duration) *WebhookSender {
	return &WebhookSender{url: url, client: &http.Client{Timeout: timeout}}
}

// Send posts msg as JSON. A non-2xx answer is returned as *StatusError.
func (s *WebhookSender) Send(ctx context.Context, msg dispatch.Message) error {
	if err := postJSON(ctx, s.client, s.url, msg); err != nil {
		return fmt.Errorf("%s webhook: %w", msg.Channel, err)
	}
	return nil
}

// LogSender logs the message instead of sending it
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg dispatch.Message) error {
	fields := []zap.Field{
		zap.String("user_id", msg.UserID),
		zap.String("post_id", msg.PostID),
		zap.String("channel", string(msg.Channel)),
		zap.Int("text_len", len(msg.Text)),
	}
	if msg.PhoneNumber != "" {
		fields = append(fields, logging.Phone(msg.PhoneNumber))
	}
	s.logger.Info("message dispatched (no webhook configured)", fields...)
	return nil
}
