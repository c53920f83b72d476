package otp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/advocacyflow/server/internal/logging"
	"github.com/advocacyflow/server/internal/model"
)

const (
	codeLength       = 6
	minPhoneDigits   = 10
	devCode          = "123456"
	defaultTTL       = 5 * time.Minute
	defaultResend    = 30 * time.Second
	defaultMaxTrials = 5
)

var (
	ErrInvalidPhone             = errors.New("invalid phone number")
	ErrInvalidCode              = errors.New("invalid verification code")
	ErrNoPendingChallenge       = errors.New("no pending verification for this phone")
	ErrChallengeExpired         = errors.New("verification code expired")
	ErrChallengeAlreadyResolved = errors.New("verification already resolved")
	ErrTooManyAttempts          = errors.New("too many attempts")
	ErrResendTooSoon            = errors.New("resend requested too soon")
	ErrDeliveryFailed           = errors.New("code delivery failed")
)

// Delivery sends a verification code to a phone. Implementations never log the code.
type Delivery interface {
	Deliver(ctx context.Context, phone, code string) error
}

// Binder records a verified phone for a user
type Binder interface {
	BindPhone(ctx context.Context, userID, phone string) error
}

// Config controls challenge lifetime and limits
type Config struct {
	TTL            time.Duration
	ResendInterval time.Duration
	MaxAttempts    int
	Salt           string
	// DevMode issues the fixed code 123456 and reports it in the Receipt.
	DevMode bool
}

// Receipt describes a freshly issued challenge
type Receipt struct {
	ExpiresAt time.Time
	DevCode   string
}

type stateKind int

const (
	noChallenge stateKind = iota
	pending
	resolved
)

// userState is the tagged per-user challenge state. It is replaced wholesale, never edited in place.
type userState struct {
	kind      stateKind
	challenge model.Challenge
}

// Manager issues and confirms one-time codes. Operations for one user run one at a time.
type Manager struct {
	delivery Delivery
	binder   Binder
	cfg      Config
	logger   *zap.Logger

	now     func() time.Time
	newCode func() (string, error)

	mu        sync.Mutex
	states    map[string]userState
	locks     map[string]*userLock
	lastPrune time.Time
}

// userLock is a per-user mutex, dropped from the map once nobody holds or waits on it
type userLock struct {
	mu   sync.Mutex
	refs int
}

// NewManager creates a new OTP lifecycle manager
func NewManager(delivery Delivery, binder Binder, cfg Config, logger *zap.Logger) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.ResendInterval < 0 {
		cfg.ResendInterval = defaultResend
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxTrials
	}
	return &Manager{
		delivery: delivery,
		binder:   binder,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		newCode:  generateOTPCode,
		states:   make(map[string]userState),
		locks:    make(map[string]*userLock),
	}
}

// RequestChallenge issues a new challenge for userID, superseding any prior one.
// The new challenge is installed only after delivery succeeded.
func (m *Manager) RequestChallenge(ctx context.Context, phone, userID string) (Receipt, error) {
	phone = strings.TrimSpace(phone)
	if !ValidPhone(phone) {
		return Receipt{}, ErrInvalidPhone
	}

	unlock := m.lockUser(userID)
	defer unlock()

	return m.issue(ctx, phone, userID)
}

// ResendChallenge supersedes the live challenge with a new one. Resends closer than
// the configured interval to the previous issue fail with ErrResendTooSoon.
func (m *Manager) ResendChallenge(ctx context.Context, userID, phone string) (Receipt, error) {
	phone = strings.TrimSpace(phone)
	if !ValidPhone(phone) {
		return Receipt{}, ErrInvalidPhone
	}

	unlock := m.lockUser(userID)
	defer unlock()

	if st := m.state(userID); st.kind != noChallenge {
		if elapsed := m.now().Sub(st.challenge.IssuedAt); elapsed < m.cfg.ResendInterval {
			return Receipt{}, fmt.Errorf("%w: retry in %s", ErrResendTooSoon, (m.cfg.ResendInterval - elapsed).Round(time.Second))
		}
	}

	return m.issue(ctx, phone, userID)
}

func (m *Manager) issue(ctx context.Context, phone, userID string) (Receipt, error) {
	code := devCode
	if !m.cfg.DevMode {
		var err error
		code, err = m.newCode()
		if err != nil {
			return Receipt{}, fmt.Errorf("generate code: %w", err)
		}
	}

	if err := m.delivery.Deliver(ctx, phone, code); err != nil {
		m.logger.Warn("code delivery failed", logging.Phone(phone), zap.Error(err))
		return Receipt{}, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	issuedAt := m.now()
	next := userState{
		kind: pending,
		challenge: model.Challenge{
			PhoneNumber: phone,
			UserID:      userID,
			CodeHash:    hashOTPBytes(digitsOf(phone), code, m.cfg.Salt),
			IssuedAt:    issuedAt,
			Status:      model.ChallengePending,
		},
	}

	m.mu.Lock()
	prev := m.states[userID]
	m.states[userID] = next
	m.pruneLocked(issuedAt)
	m.mu.Unlock()

	if prev.kind == pending {
		m.logger.Debug("challenge superseded", zap.String("user_id", userID), logging.Phone(prev.challenge.PhoneNumber))
	}

	receipt := Receipt{ExpiresAt: issuedAt.Add(m.cfg.TTL)}
	if m.cfg.DevMode {
		receipt.DevCode = code
	}
	return receipt, nil
}

// ConfirmChallenge checks code against the live challenge for userID and, on match,
// binds phone to the user. At most one confirmation succeeds per challenge.
func (m *Manager) ConfirmChallenge(ctx context.Context, userID, phone, code string) error {
	phone = strings.TrimSpace(phone)
	code = strings.TrimSpace(code)

	unlock := m.lockUser(userID)
	defer unlock()

	st := m.state(userID)
	switch st.kind {
	case noChallenge:
		return ErrNoPendingChallenge
	case resolved:
		return ErrChallengeAlreadyResolved
	}

	ch := st.challenge
	if digitsOf(phone) != digitsOf(ch.PhoneNumber) {
		return ErrNoPendingChallenge
	}

	if m.now().Sub(ch.IssuedAt) > m.cfg.TTL {
		m.resolve(userID, ch, model.ChallengeExpired)
		return ErrChallengeExpired
	}

	if len(code) != codeLength {
		return ErrInvalidCode
	}

	provided := hashOTPBytes(digitsOf(ch.PhoneNumber), code, m.cfg.Salt)
	if subtle.ConstantTimeCompare(provided, ch.CodeHash) != 1 {
		ch.Attempts++
		if ch.Attempts >= m.cfg.MaxAttempts {
			m.resolve(userID, ch, model.ChallengeFailed)
			return fmt.Errorf("%w: %w", ErrInvalidCode, ErrTooManyAttempts)
		}
		m.replace(userID, userState{kind: pending, challenge: ch})
		return ErrInvalidCode
	}

	if err := m.binder.BindPhone(ctx, userID, ch.PhoneNumber); err != nil {
		return fmt.Errorf("bind phone: %w", err)
	}
	m.resolve(userID, ch, model.ChallengeConfirmed)
	return nil
}

// Current returns a snapshot of the user's latest challenge, if any
func (m *Manager) Current(userID string) (model.Challenge, bool) {
	st := m.state(userID)
	if st.kind == noChallenge {
		return model.Challenge{}, false
	}
	return st.challenge, true
}

func (m *Manager) state(userID string) userState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[userID]
}

func (m *Manager) replace(userID string, st userState) {
	m.mu.Lock()
	m.states[userID] = st
	m.mu.Unlock()
}

func (m *Manager) resolve(userID string, ch model.Challenge, status model.ChallengeStatus) {
	ch.Status = status
	m.replace(userID, userState{kind: resolved, challenge: ch})
}

// pruneLocked drops challenges issued more than two TTLs ago, at most once per TTL.
// Within that window an expired or resolved challenge still answers with its own error.
func (m *Manager) pruneLocked(now time.Time) {
	if now.Sub(m.lastPrune) < m.cfg.TTL {
		return
	}
	m.lastPrune = now
	for userID, st := range m.states {
		if now.Sub(st.challenge.IssuedAt) > 2*m.cfg.TTL {
			delete(m.states, userID)
		}
	}
}

// lockUser serializes operations for one user and returns the unlock func
func (m *Manager) lockUser(userID string) func() {
	m.mu.Lock()
	l, ok := m.locks[userID]
	if !ok {
		l = &userLock{}
		m.locks[userID] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, userID)
		}
		m.mu.Unlock()
	}
}

// ValidPhone reports whether phone has at least 10 digits and only common formatting characters
func ValidPhone(phone string) bool {
	digits := 0
	for _, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' || r == '-' || r == '(' || r == ')' || r == ' ' || r == '.':
		default:
			return false
		}
	}
	return digits >= minPhoneDigits
}

func digitsOf(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func generateOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// hashOTPBytes returns SHA-256(phone:code:salt)
func hashOTPBytes(phone, code, salt string) []byte {
	data := fmt.Sprintf("%s:%s:%s", phone, code, salt)
	hash := sha256.Sum256([]byte(data))
	return hash[:]
}
