package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/advocacyflow/server/internal/auth"
	"github.com/advocacyflow/server/internal/delivery"
	"github.com/advocacyflow/server/internal/dispatch"
	"github.com/advocacyflow/server/internal/engagement"
	"github.com/advocacyflow/server/internal/feed"
	apphttp "github.com/advocacyflow/server/internal/http"
	"github.com/advocacyflow/server/internal/http/handlers"
	"github.com/advocacyflow/server/internal/identity"
	"github.com/advocacyflow/server/internal/model"
	"github.com/advocacyflow/server/internal/otp"
)

type memoryUsers struct{}

func (memoryUsers) Create(_ context.Context, id string) (model.User, error) {
	return model.User{ID: id, CreatedAt: time.Now()}, nil
}

// unavailablePosts forces the feed onto its fallback list
type unavailablePosts struct{}

func (unavailablePosts) List(context.Context) ([]model.Post, error) {
	return nil, errors.New("no database")
}
func (unavailablePosts) Get(context.Context, string) (model.Post, error) {
	return model.Post{}, errors.New("no database")
}
func (unavailablePosts) InsertMany(context.Context, []model.Post) error {
	return errors.New("no database")
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []dispatch.Message
	err  error
}

func (s *recordingSender) Send(_ context.Context, msg dispatch.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *recordingSender) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *recordingSender) sent() []dispatch.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dispatch.Message(nil), s.msgs...)
}

type testEnv struct {
	srv    *httptest.Server
	sender *recordingSender
	posts  []model.Post
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	store := identity.NewStore(identity.NewMemoryPhoneRepo(), logger)
	manager := otp.NewManager(delivery.NewLogDelivery(logger), store, otp.Config{
		TTL:            5 * time.Minute,
		ResendInterval: 30 * time.Second,
		MaxAttempts:    5,
		Salt:           "test-salt",
		DevMode:        true,
	}, logger)

	recorder := engagement.NewRecorder(engagement.NewMemoryStore(), 64, logger)
	recorder.Start()

	sender := &recordingSender{}
	dispatcher := dispatch.NewDispatcher(store, map[model.Channel]dispatch.Sender{
		model.ChannelWhatsApp: sender,
		model.ChannelTwitter:  sender,
		model.ChannelLinkedIn: sender,
	}, recorder, logger)

	posts := feed.NewSource(unavailablePosts{}, logger)
	sessions := auth.NewSessionService(auth.NewJWTService("test-secret", time.Hour), memoryUsers{}, store, logger)

	h := apphttp.Handlers{
		Session:      handlers.NewSessionHandler(sessions, logger),
		Phone:        handlers.NewPhoneHandler(manager, store, logger),
		Distribution: handlers.NewDistributionHandler(dispatcher, posts, logger),
		Engagement:   handlers.NewEngagementHandler(recorder, posts, logger),
	}
	srv := httptest.NewServer(apphttp.NewRouter(h, sessions, []string{"https://app.example.com"}, logger))
	t.Cleanup(func() {
		srv.Close()
		h.Stop()
		recorder.Close()
	})

	return &testEnv{srv: srv, sender: sender, posts: posts.List(context.Background())}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, ok := body.(string)
		if !ok {
			b, err := json.Marshal(body)
			require.NoError(t, err)
			raw = string(b)
		}
		reader = bytes.NewBufferString(raw)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func (e *testEnv) session(t *testing.T) auth.Session {
	t.Helper()
	status, body := e.do(t, http.MethodPost, "/api/session", "", nil)
	require.Equal(t, http.StatusOK, status)
	var s auth.Session
	require.NoError(t, json.Unmarshal(body, &s))
	require.NotEmpty(t, s.UserID)
	require.NotEmpty(t, s.Token)
	return s
}

func decode(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(body, &m), string(body))
	return m
}

func TestVerifyThenWhatsAppSend(t *testing.T) {
	e := newTestEnv(t)
	s := e.session(t)
	post := e.posts[0]

	status, body := e.do(t, http.MethodPost, "/api/whatsapp/send", s.Token, map[string]string{"user_id": s.UserID, "post_id": post.ID})
	require.Equal(t, http.StatusForbidden, status)
	gated := decode(t, body)
	assert.Equal(t, "gated", gated["status"])
	assert.Equal(t, dispatch.NextStepVerify, gated["next_step"])
	assert.Empty(t, e.sender.sent())

	status, body = e.do(t, http.MethodPost, "/api/phone/verify", s.Token, map[string]string{"user_id": s.UserID, "phone_number": "12345"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, otp.ErrInvalidPhone.Error(), decode(t, body)["detail"])

	status, body = e.do(t, http.MethodPost, "/api/phone/verify", s.Token, map[string]string{"user_id": s.UserID, "phone_number": "+1 (555) 123-4567"})
	require.Equal(t, http.StatusOK, status)
	sent := decode(t, body)
	assert.Equal(t, "otp_sent", sent["message"])
	assert.Equal(t, "123456", sent["dev_otp"])

	status, body = e.do(t, http.MethodPost, "/api/phone/confirm", s.Token, map[string]string{"user_id": s.UserID, "phone_number": "+1 (555) 123-4567", "otp_code": "000000"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, otp.ErrInvalidCode.Error(), decode(t, body)["detail"])

	status, _ = e.do(t, http.MethodPost, "/api/phone/confirm", s.Token, map[string]string{"user_id": s.UserID, "phone_number": "+1 (555) 123-4567", "otp_code": "123456"})
	require.Equal(t, http.StatusOK, status)

	status, body = e.do(t, http.MethodGet, "/api/user/"+s.UserID+"/phone", s.Token, nil)
	require.Equal(t, http.StatusOK, status)
	phone := decode(t, body)
	assert.Equal(t, true, phone["has_phone"])
	assert.Equal(t, "+1 (555) 123-4567", phone["phone_number"])

	status, body = e.do(t, http.MethodPost, "/api/whatsapp/send", s.Token, map[string]string{"user_id": s.UserID, "post_id": post.ID})
	require.Equal(t, http.StatusOK, status, string(body))
	result := decode(t, body)
	assert.Equal(t, "sent", result["status"])
	assert.Equal(t, true, result["success"])

	msgs := e.sender.sent()
	require.Len(t, msgs, 1)
	assert.Equal(t, "+1 (555) 123-4567", msgs[0].PhoneNumber)
	assert.Equal(t, model.ChannelWhatsApp, msgs[0].Channel)

	assert.Eventually(t, func() bool {
		status, body := e.do(t, http.MethodGet, "/api/stats/"+s.UserID, s.Token, nil)
		if status != http.StatusOK {
			return false
		}
		var stats model.UserStats
		if json.Unmarshal(body, &stats) != nil {
			return false
		}
		return stats.ByAction["share:whatsapp"] == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestConfirmErrors(t *testing.T) {
	e := newTestEnv(t)
	s := e.session(t)

	status, body := e.do(t, http.MethodPost, "/api/phone/confirm", s.Token, map[string]string{"phone_number": "5551234567", "otp_code": "123456"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, otp.ErrNoPendingChallenge.Error(), decode(t, body)["detail"])

	status, _ = e.do(t, http.MethodPost, "/api/phone/verify", s.Token, map[string]string{"phone_number": "5551234567"})
	require.Equal(t, http.StatusOK, status)

	status, _ = e.do(t, http.MethodPost, "/api/phone/confirm", s.Token, map[string]string{"phone_number": "5551234567", "otp_code": "123456"})
	require.Equal(t, http.StatusOK, status)

	status, body = e.do(t, http.MethodPost, "/api/phone/confirm", s.Token, map[string]string{"phone_number": "5551234567", "otp_code": "123456"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, otp.ErrChallengeAlreadyResolved.Error(), decode(t, body)["detail"])

	status, _ = e.do(t, http.MethodPost, "/api/phone/confirm", s.Token, map[string]string{"phone_number": "5551234567"})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestConfirmTooManyAttempts(t *testing.T) {
	e := newTestEnv(t)
	s := e.session(t)

	status, _ := e.do(t, http.MethodPost, "/api/phone/verify", s.Token, map[string]string{"phone_number": "5551234567"})
	require.Equal(t, http.StatusOK, status)

	for i := 0; i < 4; i++ {
		status, _ = e.do(t, http.MethodPost, "/api/phone/confirm", s.Token, map[string]string{"phone_number": "5551234567", "otp_code": "000000"})
		require.Equal(t, http.StatusBadRequest, status)
	}
	status, body := e.do(t, http.MethodPost, "/api/phone/confirm", s.Token, map[string]string{"phone_number": "5551234567", "otp_code": "000000"})
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, otp.ErrTooManyAttempts.Error(), decode(t, body)["detail"])

	status, _ = e.do(t, http.MethodPost, "/api/phone/confirm", s.Token, map[string]string{"phone_number": "5551234567", "otp_code": "123456"})
	assert.Equal(t, http.StatusConflict, status, "a failed challenge cannot be confirmed")
}

func TestResendTooSoon(t *testing.T) {
	e := newTestEnv(t)
	s := e.session(t)

	status, _ := e.do(t, http.MethodPost, "/api/phone/verify", s.Token, map[string]string{"phone_number": "5551234567"})
	require.Equal(t, http.StatusOK, status)

	status, body := e.do(t, http.MethodPost, "/api/phone/resend", s.Token, map[string]string{"phone_number": "5551234567"})
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, otp.ErrResendTooSoon.Error(), decode(t, body)["detail"])
}

func TestShare(t *testing.T) {
	e := newTestEnv(t)
	s := e.session(t)
	post := e.posts[1]

	status, body := e.do(t, http.MethodPost, "/api/share", s.Token, map[string]string{"user_id": s.UserID, "post_id": post.ID, "platform": "linkedin"})
	require.Equal(t, http.StatusOK, status, string(body))
	result := decode(t, body)
	assert.Equal(t, "sent", result["status"])
	assert.Equal(t, "Post shared to linkedin", result["message"])

	status, _ = e.do(t, http.MethodPost, "/api/share", s.Token, map[string]string{"post_id": post.ID, "platform": "whatsapp"})
	assert.Equal(t, http.StatusForbidden, status, "whatsapp share is gated like whatsapp send")

	status, _ = e.do(t, http.MethodPost, "/api/share", s.Token, map[string]string{"post_id": post.ID, "platform": "myspace"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = e.do(t, http.MethodPost, "/api/share", s.Token, map[string]string{"post_id": "missing", "platform": "twitter"})
	assert.Equal(t, http.StatusNotFound, status)

	require.Len(t, e.sender.sent(), 1)
}

func TestShareFailureIsBadGateway(t *testing.T) {
	e := newTestEnv(t)
	s := e.session(t)
	e.sender.fail(errors.New("upstream returned 503"))

	status, body := e.do(t, http.MethodPost, "/api/share", s.Token, map[string]string{"post_id": e.posts[0].ID, "platform": "twitter"})
	assert.Equal(t, http.StatusBadGateway, status)
	result := decode(t, body)
	assert.Equal(t, "failed", result["status"])
	assert.Equal(t, "upstream returned 503", result["detail"])
}

func TestSessionIsRequiredAndEnforced(t *testing.T) {
	e := newTestEnv(t)
	a := e.session(t)
	b := e.session(t)
	assert.NotEqual(t, a.UserID, b.UserID)

	status, _ := e.do(t, http.MethodPost, "/api/share", "", map[string]string{"post_id": e.posts[0].ID, "platform": "twitter"})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = e.do(t, http.MethodPost, "/api/share", "forged", map[string]string{"post_id": e.posts[0].ID, "platform": "twitter"})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = e.do(t, http.MethodPost, "/api/phone/verify", a.Token, map[string]string{"user_id": b.UserID, "phone_number": "5551234567"})
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = e.do(t, http.MethodGet, "/api/user/"+b.UserID+"/phone", a.Token, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = e.do(t, http.MethodGet, "/api/stats/"+b.UserID, a.Token, nil)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestTrack(t *testing.T) {
	e := newTestEnv(t)
	s := e.session(t)

	status, body := e.do(t, http.MethodPost, "/api/events/track", s.Token, map[string]string{"post_id": "p1", "action": "like"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, decode(t, body)["success"])

	status, _ = e.do(t, http.MethodPost, "/api/events/track", s.Token, map[string]string{"post_id": "p1", "action": "poke"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = e.do(t, http.MethodPost, "/api/events/track", s.Token, "{not json")
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	assert.Eventually(t, func() bool {
		_, body := e.do(t, http.MethodGet, "/api/stats/"+s.UserID, s.Token, nil)
		var stats model.UserStats
		return json.Unmarshal(body, &stats) == nil && stats.TotalEvents == 1 && stats.ByAction[model.ActionLike] == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestPostsAndHealth(t *testing.T) {
	e := newTestEnv(t)

	status, body := e.do(t, http.MethodGet, "/api/posts", "", nil)
	require.Equal(t, http.StatusOK, status)
	var posts []model.Post
	require.NoError(t, json.Unmarshal(body, &posts))
	assert.Len(t, posts, 3)

	status, body = e.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, decode(t, body)["ok"])

	status, body = e.do(t, http.MethodGet, "/api/", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "SocialRipple API", decode(t, body)["message"])
}

func TestCORSPreflight(t *testing.T) {
	e := newTestEnv(t)

	req, err := http.NewRequest(http.MethodOptions, e.srv.URL+"/api/share", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.True(t, resp.StatusCode >= 200 && resp.StatusCode < 300, "preflight status %d", resp.StatusCode)
	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), http.MethodPost)

	req.Header.Set("Origin", "https://evil.example.com")
	resp, err = e.srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}
