// Package identity binds session user ids to verified phone numbers.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/advocacyflow/server/internal/logging"
)

// ErrInvalidArgument is returned when a user id or phone is empty
var ErrInvalidArgument = errors.New("user id and phone are required")

// defaultIdleTTL matches the default session lifetime. An evicted entry is reloaded
// by Rehydrate when the session authenticates again.
const defaultIdleTTL = 24 * time.Hour

// PhoneRepo is the durable record of verified phones, keyed by user id
type PhoneRepo interface {
	// GetPhone returns the persisted phone for userID, or "" when none is bound.
	GetPhone(ctx context.Context, userID string) (string, error)
	SetPhone(ctx context.Context, userID, phone string) error
}

// Store is a session-scoped cache of verified phones over a PhoneRepo.
// The cache is updated only after the repo write succeeded. Entries not read or
// written for idleTTL are evicted.
type Store struct {
	repo   PhoneRepo
	logger *zap.Logger

	now     func() time.Time
	idleTTL time.Duration

	mu        sync.Mutex
	phones    map[string]cachedPhone
	lastSweep time.Time
}

type cachedPhone struct {
	phone    string
	lastSeen time.Time
}

// NewStore creates a new identity store
func NewStore(repo PhoneRepo, logger *zap.Logger) *Store {
	return &Store{
		repo:    repo,
		logger:  logger,
		now:     time.Now,
		idleTTL: defaultIdleTTL,
		phones:  make(map[string]cachedPhone),
	}
}

// GetVerifiedPhone returns the verified phone for userID from the session cache
func (s *Store) GetVerifiedPhone(_ context.Context, userID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.phones[userID]
	if !ok {
		return "", false
	}
	entry.lastSeen = s.now()
	s.phones[userID] = entry
	return entry.phone, true
}

// put caches phone for userID and sweeps idle entries at most once per idleTTL
func (s *Store) put(userID, phone string) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phones[userID] = cachedPhone{phone: phone, lastSeen: now}

	if now.Sub(s.lastSweep) < s.idleTTL {
		return
	}
	s.lastSweep = now
	for id, entry := range s.phones {
		if now.Sub(entry.lastSeen) > s.idleTTL {
			delete(s.phones, id)
		}
	}
}

// BindPhone binds phone to userID. Re-binding the same phone is a no-op; a different phone overwrites.
func (s *Store) BindPhone(ctx context.Context, userID, phone string) error {
	userID = strings.TrimSpace(userID)
	phone = strings.TrimSpace(phone)
	if userID == "" || phone == "" {
		return ErrInvalidArgument
	}

	if current, ok := s.GetVerifiedPhone(ctx, userID); ok && current == phone {
		return nil
	}

	if err := s.repo.SetPhone(ctx, userID, phone); err != nil {
		return fmt.Errorf("persist phone: %w", err)
	}

	s.put(userID, phone)

	s.logger.Info("phone bound", zap.String("user_id", userID), logging.Phone(phone))
	return nil
}

// Rehydrate loads the persisted phone for userID into the session cache
func (s *Store) Rehydrate(ctx context.Context, userID string) error {
	phone, err := s.repo.GetPhone(ctx, userID)
	if err != nil {
		return fmt.Errorf("load phone: %w", err)
	}
	if phone == "" {
		return nil
	}

	s.put(userID, phone)
	return nil
}

// MemoryPhoneRepo is an in-process PhoneRepo for tests and single-node dev runs
type MemoryPhoneRepo struct {
	mu     sync.Mutex
	phones map[string]string
}

// NewMemoryPhoneRepo creates an empty in-memory phone repo
func NewMemoryPhoneRepo() *MemoryPhoneRepo {
	return &MemoryPhoneRepo{phones: make(map[string]string)}
}

func (r *MemoryPhoneRepo) GetPhone(_ context.Context, userID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phones[userID], nil
}

func (r *MemoryPhoneRepo) SetPhone(_ context.Context, userID, phone string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phones[userID] = phone
	return nil
}
