package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the application configuration
type Config struct {
	DatabaseURL   string `env:"DATABASE_URL,required,notEmpty"`
	Port          string `env:"PORT" envDefault:"8080"`
	SessionSecret string `env:"SESSION_SECRET,required,notEmpty"`
	OTPSalt       string `env:"OTP_SALT,required,notEmpty"`
	DevMode       bool   `env:"DEV_MODE"`
	OTPDevMode    bool   `env:"OTP_DEV_MODE"`

	OTPTTL            time.Duration `env:"OTP_TTL" envDefault:"5m"`
	OTPResendInterval time.Duration `env:"OTP_RESEND_INTERVAL" envDefault:"30s"`
	OTPMaxAttempts    int           `env:"OTP_MAX_ATTEMPTS" envDefault:"5"`
	SessionTTL        time.Duration `env:"SESSION_TTL" envDefault:"24h"`

	// Outbound collaborators. Empty URLs select the log-only implementations.
	SMSGatewayURL      string        `env:"SMS_GATEWAY_URL"`
	WhatsAppWebhookURL string        `env:"WHATSAPP_WEBHOOK_URL"`
	TwitterWebhookURL  string        `env:"TWITTER_WEBHOOK_URL"`
	LinkedInWebhookURL string        `env:"LINKEDIN_WEBHOOK_URL"`
	OutboundTimeout    time.Duration `env:"OUTBOUND_TIMEOUT" envDefault:"10s"`

	EventQueueSize int      `env:"EVENT_QUEUE_SIZE" envDefault:"256"`
	CORSOrigins    []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.OTPTTL <= 0 {
		return fmt.Errorf("OTP_TTL must be positive")
	}
	if c.OTPResendInterval < 0 {
		return fmt.Errorf("OTP_RESEND_INTERVAL must not be negative")
	}
	if c.OTPMaxAttempts <= 0 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be positive")
	}
	if c.EventQueueSize <= 0 {
		return fmt.Errorf("EVENT_QUEUE_SIZE must be positive")
	}
	for name, raw := range map[string]string{
		"SMS_GATEWAY_URL":      c.SMSGatewayURL,
		"WHATSAPP_WEBHOOK_URL": c.WhatsAppWebhookURL,
		"TWITTER_WEBHOOK_URL":  c.TwitterWebhookURL,
		"LINKEDIN_WEBHOOK_URL": c.LinkedInWebhookURL,
	} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" || !strings.HasPrefix(u.Scheme, "http") {
			return fmt.Errorf("%s must be an absolute http(s) URL", name)
		}
	}
	return nil
}

// DatabaseTarget returns host, port, db and user of DATABASE_URL for logging (password omitted)
func (c *Config) DatabaseTarget() string {
	u, err := url.Parse(c.DatabaseURL)
	if err != nil {
		return "(invalid DATABASE_URL)"
	}
	host := u.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := u.Port()
	if port == "" {
		port = "5432"
	}
	user := u.User.Username()
	if user == "" {
		user = "(none)"
	}
	return fmt.Sprintf("host=%s port=%s db=%s user=%s", host, port, strings.TrimPrefix(u.Path, "/"), user)
}
