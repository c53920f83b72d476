package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/advocacyflow/server/internal/engagement"
	"github.com/advocacyflow/server/internal/feed"
	"github.com/advocacyflow/server/internal/model"
)

// EngagementHandler handles event tracking, stats and the post feed
type EngagementHandler struct {
	recorder *engagement.Recorder
	posts    *feed.Source
	logger   *zap.Logger
}

// NewEngagementHandler creates a new engagement handler
func NewEngagementHandler(recorder *engagement.Recorder, posts *feed.Source, logger *zap.Logger) *EngagementHandler {
	return &EngagementHandler{recorder: recorder, posts: posts, logger: logger}
}

// trackRequest is the request body for POST /api/events/track
type trackRequest struct {
	UserID string `json:"user_id"`
	PostID string `json:"post_id"`
	Action string `json:"action"`
}

// HandleTrack handles POST /api/events/track. Persistence is best effort: a
// well-formed request always gets 200.
func (h *EngagementHandler) HandleTrack(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID, ok := sessionUser(w, r, req.UserID)
	if !ok {
		return
	}

	req.PostID = strings.TrimSpace(req.PostID)
	action := model.Action(strings.TrimSpace(req.Action))
	if req.PostID == "" {
		respondWithError(w, http.StatusBadRequest, "post_id is required")
		return
	}
	if !action.Valid() {
		respondWithError(w, http.StatusBadRequest, "unknown action")
		return
	}

	h.recorder.Record(userID, req.PostID, action)
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// HandleStats handles GET /api/stats/{user_id}
func (h *EngagementHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := sessionUser(w, r, chi.URLParam(r, "user_id"))
	if !ok {
		return
	}
	stats, err := h.recorder.Stats(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to load stats", zap.String("user_id", userID), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// HandleListPosts handles GET /api/posts
func (h *EngagementHandler) HandleListPosts(w http.ResponseWriter, r *http.Request) {
	posts := h.posts.List(r.Context())
	if posts == nil {
		posts = []model.Post{}
	}
	respondJSON(w, http.StatusOK, posts)
}
