package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/advocacyflow/server/internal/identity"
	"github.com/advocacyflow/server/internal/logging"
	"github.com/advocacyflow/server/internal/middleware"
	"github.com/advocacyflow/server/internal/otp"
)

// PhoneHandler handles phone verification endpoints
type PhoneHandler struct {
	otp      *otp.Manager
	identity *identity.Store
	logger   *zap.Logger

	ipLimiter        *middleware.RateLimiter
	phoneLimiter     *middleware.RateLimiter
	confirmIPLimiter *middleware.RateLimiter
}

// NewPhoneHandler creates a new phone handler.
// Code requests: 10 per 10min per IP and 3 per 10min per phone. Confirmations: 20 per 10min per IP.
func NewPhoneHandler(manager *otp.Manager, store *identity.Store, logger *zap.Logger) *PhoneHandler {
	return &PhoneHandler{
		otp:              manager,
		identity:         store,
		logger:           logger,
		ipLimiter:        middleware.NewRateLimiter(10*time.Minute, 10),
		phoneLimiter:     middleware.NewRateLimiter(10*time.Minute, 3),
		confirmIPLimiter: middleware.NewRateLimiter(10*time.Minute, 20),
	}
}

// phoneRequest is the request body for POST /api/phone/verify and /api/phone/resend
type phoneRequest struct {
	PhoneNumber string `json:"phone_number"`
	UserID      string `json:"user_id"`
}

// codeSentResponse is the JSON response for verify and resend
type codeSentResponse struct {
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
	DevOTP    string    `json:"dev_otp,omitempty"`
}

// confirmRequest is the request body for POST /api/phone/confirm
type confirmRequest struct {
	PhoneNumber string `json:"phone_number"`
	OTPCode     string `json:"otp_code"`
	UserID      string `json:"user_id"`
}

// phoneStatusResponse is the JSON response for GET /api/user/{id}/phone
type phoneStatusResponse struct {
	HasPhone    bool   `json:"has_phone"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

// HandleVerify handles POST /api/phone/verify
func (h *PhoneHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	h.issue(w, r, false)
}

// HandleResend handles POST /api/phone/resend
func (h *PhoneHandler) HandleResend(w http.ResponseWriter, r *http.Request) {
	h.issue(w, r, true)
}

func (h *PhoneHandler) issue(w http.ResponseWriter, r *http.Request, resend bool) {
	var req phoneRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID, ok := sessionUser(w, r, req.UserID)
	if !ok {
		return
	}

	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	if req.PhoneNumber == "" {
		respondWithError(w, http.StatusBadRequest, "phone_number is required")
		return
	}
	if !otp.ValidPhone(req.PhoneNumber) {
		respondWithError(w, http.StatusBadRequest, otp.ErrInvalidPhone.Error())
		return
	}

	if !h.ipLimiter.Allow(middleware.GetIPKey(r)) || !h.phoneLimiter.Allow(middleware.GetPhoneKey(req.PhoneNumber)) {
		respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var receipt otp.Receipt
	var err error
	if resend {
		receipt, err = h.otp.ResendChallenge(r.Context(), userID, req.PhoneNumber)
	} else {
		receipt, err = h.otp.RequestChallenge(r.Context(), req.PhoneNumber, userID)
	}
	if err != nil {
		h.logger.Warn("failed to issue verification code",
			zap.String("user_id", userID),
			logging.Phone(req.PhoneNumber),
			zap.Bool("resend", resend),
			zap.Error(err))
		status, message := otpErrorStatus(err)
		respondWithError(w, status, message)
		return
	}

	respondJSON(w, http.StatusOK, codeSentResponse{
		Message:   "otp_sent",
		ExpiresAt: receipt.ExpiresAt,
		DevOTP:    receipt.DevCode,
	})
}

// HandleConfirm handles POST /api/phone/confirm
func (h *PhoneHandler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID, ok := sessionUser(w, r, req.UserID)
	if !ok {
		return
	}

	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	req.OTPCode = strings.TrimSpace(req.OTPCode)
	if req.PhoneNumber == "" || req.OTPCode == "" {
		respondWithError(w, http.StatusBadRequest, "phone_number and otp_code are required")
		return
	}

	if !h.confirmIPLimiter.Allow(middleware.GetIPKey(r)) {
		respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	if err := h.otp.ConfirmChallenge(r.Context(), userID, req.PhoneNumber, req.OTPCode); err != nil {
		h.logger.Info("phone confirmation rejected",
			zap.String("user_id", userID),
			logging.Phone(req.PhoneNumber),
			zap.Error(err))
		status, message := otpErrorStatus(err)
		respondWithError(w, status, message)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"message":      "phone_verified",
		"phone_number": req.PhoneNumber,
	})
}

// HandleGetPhone handles GET /api/user/{id}/phone
func (h *PhoneHandler) HandleGetPhone(w http.ResponseWriter, r *http.Request) {
	userID, ok := sessionUser(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	phone, verified := h.identity.GetVerifiedPhone(r.Context(), userID)
	respondJSON(w, http.StatusOK, phoneStatusResponse{HasPhone: verified, PhoneNumber: phone})
}

// Stop releases the handler's rate limiters
func (h *PhoneHandler) Stop() {
	h.ipLimiter.Stop()
	h.phoneLimiter.Stop()
	h.confirmIPLimiter.Stop()
}

// otpErrorStatus maps OTP errors to a status code and client-facing detail.
// Order matters: a fifth wrong code is both ErrInvalidCode and ErrTooManyAttempts.
func otpErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, otp.ErrTooManyAttempts):
		return http.StatusTooManyRequests, otp.ErrTooManyAttempts.Error()
	case errors.Is(err, otp.ErrResendTooSoon):
		return http.StatusTooManyRequests, otp.ErrResendTooSoon.Error()
	case errors.Is(err, otp.ErrInvalidPhone):
		return http.StatusBadRequest, otp.ErrInvalidPhone.Error()
	case errors.Is(err, otp.ErrInvalidCode):
		return http.StatusBadRequest, otp.ErrInvalidCode.Error()
	case errors.Is(err, otp.ErrNoPendingChallenge):
		return http.StatusNotFound, otp.ErrNoPendingChallenge.Error()
	case errors.Is(err, otp.ErrChallengeExpired):
		return http.StatusGone, otp.ErrChallengeExpired.Error()
	case errors.Is(err, otp.ErrChallengeAlreadyResolved):
		return http.StatusConflict, otp.ErrChallengeAlreadyResolved.Error()
	case errors.Is(err, otp.ErrDeliveryFailed):
		return http.StatusBadGateway, otp.ErrDeliveryFailed.Error()
	default:
		return http.StatusInternalServerError, "verification failed"
	}
}
