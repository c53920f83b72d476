package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/advocacyflow/server/internal/model"
)

// UserCreator persists new session users
type UserCreator interface {
	Create(ctx context.Context, id string) (model.User, error)
}

// Identity is the slice of the identity store sessions need
type Identity interface {
	GetVerifiedPhone(ctx context.Context, userID string) (string, bool)
	Rehydrate(ctx context.Context, userID string) error
}

// Session is a freshly issued session
type Session struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

// SessionService issues session identities and resolves tokens back to user ids
type SessionService struct {
	jwt      *JWTService
	users    UserCreator
	identity Identity
	logger   *zap.Logger
}

// NewSessionService creates a new session service
func NewSessionService(jwtService *JWTService, users UserCreator, identity Identity, logger *zap.Logger) *SessionService {
	return &SessionService{
		jwt:      jwtService,
		users:    users,
		identity: identity,
		logger:   logger,
	}
}

// Start creates a user with a fresh id and returns its signed session token
func (s *SessionService) Start(ctx context.Context) (Session, error) {
	user, err := s.users.Create(ctx, uuid.NewString())
	if err != nil {
		return Session{}, fmt.Errorf("failed to create user: %w", err)
	}

	token, err := s.jwt.SignSession(user.ID)
	if err != nil {
		return Session{}, fmt.Errorf("failed to generate token: %w", err)
	}

	s.logger.Info("session started", zap.String("user_id", user.ID))
	return Session{UserID: user.ID, Token: token}, nil
}

// Authenticate verifies token and makes sure the user's persisted phone is loaded
// into the identity store. A failed rehydration is logged, not fatal: the user is
// then treated as unverified.
func (s *SessionService) Authenticate(ctx context.Context, token string) (string, error) {
	userID, err := s.jwt.VerifySession(token)
	if err != nil {
		return "", err
	}
	if _, ok := s.identity.GetVerifiedPhone(ctx, userID); !ok {
		if err := s.identity.Rehydrate(ctx, userID); err != nil {
			s.logger.Warn("rehydrate identity", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return userID, nil
}
