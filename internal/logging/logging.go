package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger. Dev mode lowers the level to debug.
func New(devMode bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if devMode {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// Phone returns a zap field carrying a masked phone number
func Phone(phone string) zap.Field {
	return zap.String("phone", MaskPhone(phone))
}

// MaskPhone masks a phone number for logging (e.g., +49******89)
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}

	prefix := phone[:2]
	suffix := phone[len(phone)-2:]
	return prefix + strings.Repeat("*", len(phone)-4) + suffix
}
