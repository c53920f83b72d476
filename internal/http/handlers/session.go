package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/advocacyflow/server/internal/auth"
	"github.com/advocacyflow/server/internal/middleware"
)

// SessionHandler issues session identities
type SessionHandler struct {
	sessions  *auth.SessionService
	ipLimiter *middleware.RateLimiter
	logger    *zap.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessions *auth.SessionService, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		sessions:  sessions,
		ipLimiter: middleware.NewRateLimiter(10*time.Minute, 30),
		logger:    logger,
	}
}

// HandleStart handles POST /api/session
func (h *SessionHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	if !h.ipLimiter.Allow(middleware.GetIPKey(r)) {
		respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	session, err := h.sessions.Start(r.Context())
	if err != nil {
		h.logger.Error("failed to start session", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "failed to start session")
		return
	}
	respondJSON(w, http.StatusOK, session)
}

// Stop releases the handler's rate limiter
func (h *SessionHandler) Stop() {
	h.ipLimiter.Stop()
}
