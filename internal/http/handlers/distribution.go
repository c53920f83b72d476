package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/advocacyflow/server/internal/dispatch"
	"github.com/advocacyflow/server/internal/feed"
	"github.com/advocacyflow/server/internal/model"
)

// DistributionHandler handles outbound sends of posts
type DistributionHandler struct {
	dispatcher *dispatch.Dispatcher
	posts      *feed.Source
	logger     *zap.Logger
}

// NewDistributionHandler creates a new distribution handler
func NewDistributionHandler(dispatcher *dispatch.Dispatcher, posts *feed.Source, logger *zap.Logger) *DistributionHandler {
	return &DistributionHandler{dispatcher: dispatcher, posts: posts, logger: logger}
}

// sendRequest is the request body for POST /api/whatsapp/send and POST /api/share
type sendRequest struct {
	UserID   string `json:"user_id"`
	PostID   string `json:"post_id"`
	Platform string `json:"platform"`
}

// distributionResponse is the JSON body for every dispatch outcome
type distributionResponse struct {
	Success  bool                     `json:"success"`
	Status   model.DistributionStatus `json:"status"`
	Platform model.Channel            `json:"platform"`
	Message  string                   `json:"message,omitempty"`
	NextStep string                   `json:"next_step,omitempty"`
	Detail   string                   `json:"detail,omitempty"`
}

// HandleWhatsAppSend handles POST /api/whatsapp/send
func (h *DistributionHandler) HandleWhatsAppSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.dispatch(w, r, req, model.ChannelWhatsApp)
}

// HandleShare handles POST /api/share
func (h *DistributionHandler) HandleShare(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ch, err := dispatch.ParseChannel(strings.TrimSpace(req.Platform))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.dispatch(w, r, req, ch)
}

func (h *DistributionHandler) dispatch(w http.ResponseWriter, r *http.Request, req sendRequest, ch model.Channel) {
	userID, ok := sessionUser(w, r, req.UserID)
	if !ok {
		return
	}
	req.PostID = strings.TrimSpace(req.PostID)
	if req.PostID == "" {
		respondWithError(w, http.StatusBadRequest, "post_id is required")
		return
	}

	post, err := h.posts.Get(r.Context(), req.PostID)
	if err != nil {
		if errors.Is(err, feed.ErrPostNotFound) {
			respondWithError(w, http.StatusNotFound, "post not found")
			return
		}
		h.logger.Error("failed to load post", zap.String("post_id", req.PostID), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "failed to load post")
		return
	}

	action, err := h.dispatcher.Dispatch(r.Context(), userID, post, ch)
	resp := distributionResponse{Status: action.Status, Platform: ch}

	var dispatchErr *dispatch.DispatchError
	switch {
	case errors.As(err, &dispatchErr):
		resp.Detail = action.Reason
		respondJSON(w, http.StatusBadGateway, resp)
	case errors.Is(err, dispatch.ErrUnknownChannel):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		h.logger.Error("dispatch error", zap.String("user_id", userID), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "dispatch failed")
	case action.Status == model.DistributionGated:
		resp.NextStep = action.NextStep
		resp.Detail = "phone verification required"
		respondJSON(w, http.StatusForbidden, resp)
	default:
		resp.Success = true
		resp.Message = fmt.Sprintf("Post shared to %s", ch)
		respondJSON(w, http.StatusOK, resp)
	}
}
