package engagement

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/advocacyflow/server/internal/dispatch"
	"github.com/advocacyflow/server/internal/identity"
	"github.com/advocacyflow/server/internal/model"
	"github.com/advocacyflow/server/internal/otp"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type failingStore struct {
	*MemoryStore
	err error
}

func (s *failingStore) Append(ctx context.Context, event model.EngagementEvent) error {
	if s.err != nil {
		return s.err
	}
	return s.MemoryStore.Append(ctx, event)
}

func TestRecorder_appendsEvents(t *testing.T) {
	store := NewMemoryStore()
	r := NewRecorder(store, 16, zap.NewNop())
	r.Start()

	r.Record("u1", "post42", model.ActionLike)
	r.Record("u1", "post42", model.ActionLike)
	r.Record("u1", "post7", model.ShareAction(model.ChannelTwitter))
	r.Close()

	events := store.Events()
	require.Len(t, events, 3)
	assert.Equal(t, model.ActionLike, events[0].Action)
	assert.Equal(t, "post42", events[0].PostID)
	assert.NotEmpty(t, events[0].ID)
	assert.NotEqual(t, events[0].ID, events[1].ID, "repeated actions produce distinct events")
	assert.False(t, events[0].OccurredAt.IsZero())
	assert.Equal(t, model.Action("share:twitter"), events[2].Action)
}

type noopDelivery struct{}

func (noopDelivery) Deliver(context.Context, string, string) error { return nil }

type okSender struct{ calls int }

func (s *okSender) Send(context.Context, dispatch.Message) error {
	s.calls++
	return nil
}

func TestRecorder_sinkFailureIsSwallowed(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	store := &failingStore{MemoryStore: NewMemoryStore(), err: errors.New("db down")}
	r := NewRecorder(store, 4, zap.New(core))
	r.Start()

	assert.NotPanics(t, func() { r.Record("u1", "post42", model.ActionLike) })
	r.Close()

	assert.Empty(t, store.Events())
	assert.Equal(t, 1, logs.FilterMessage("tracking failed").Len())
}

func TestRecorder_sinkFailureLeavesWorkflowStateAlone(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.WarnLevel)
	store := &failingStore{MemoryStore: NewMemoryStore(), err: errors.New("db down")}
	r := NewRecorder(store, 8, zap.New(core))
	r.Start()

	identities := identity.NewStore(identity.NewMemoryPhoneRepo(), zap.NewNop())
	require.NoError(t, identities.BindPhone(ctx, "u1", "5551234567"))

	mgr := otp.NewManager(noopDelivery{}, identities, otp.Config{Salt: "s", DevMode: true}, zap.NewNop())
	_, err := mgr.RequestChallenge(ctx, "5559876543", "u1")
	require.NoError(t, err)
	before, ok := mgr.Current("u1")
	require.True(t, ok)

	sender := &okSender{}
	dispatcher := dispatch.NewDispatcher(identities, map[model.Channel]dispatch.Sender{
		model.ChannelWhatsApp: sender,
	}, r, zap.NewNop())

	r.Record("u1", "post42", model.ActionLike)
	action, err := dispatcher.Dispatch(ctx, "u1", model.Post{ID: "post42", Title: "Milestone"}, model.ChannelWhatsApp)
	require.NoError(t, err)
	assert.Equal(t, model.DistributionSent, action.Status, "a failing sink does not fail the share")
	r.Close()

	assert.Equal(t, 2, logs.FilterMessage("tracking failed").Len())
	assert.Equal(t, 1, sender.calls)

	phone, ok := identities.GetVerifiedPhone(ctx, "u1")
	require.True(t, ok)
	assert.Equal(t, "5551234567", phone)

	after, ok := mgr.Current("u1")
	require.True(t, ok)
	assert.Equal(t, before, after)
	assert.Equal(t, model.ChallengePending, after.Status)
}

func TestRecorder_queueFullDrops(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	store := NewMemoryStore()
	r := NewRecorder(store, 1, zap.New(core))

	r.Record("u1", "post42", model.ActionLike)
	r.Record("u1", "post42", model.ActionComment)
	r.Start()
	r.Close()

	events := store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, model.ActionLike, events[0].Action)
	assert.Equal(t, 1, logs.FilterMessage("tracking failed: queue full").Len())
}

func TestRecorder_rejectsInvalidEvents(t *testing.T) {
	store := NewMemoryStore()
	r := NewRecorder(store, 4, zap.NewNop())
	r.Start()

	r.Record("u1", "post42", "poke")
	r.Record("u1", "post42", "share:myspace")
	r.Record("", "post42", model.ActionLike)
	r.Record("u1", "", model.ActionLike)
	r.Close()

	assert.Empty(t, store.Events())
}

func TestRecorder_recordAfterClose(t *testing.T) {
	store := NewMemoryStore()
	r := NewRecorder(store, 4, zap.NewNop())
	r.Start()
	r.Close()

	assert.NotPanics(t, func() { r.Record("u1", "post42", model.ActionLike) })
	r.Close()
	assert.Empty(t, store.Events())
}

func TestRecorder_closeWithoutStart(t *testing.T) {
	r := NewRecorder(NewMemoryStore(), 4, zap.NewNop())
	r.Close()
	r.Start()
}

func TestRecorder_closeWithoutStartLogsDropped(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	store := NewMemoryStore()
	r := NewRecorder(store, 4, zap.New(core))

	r.Record("u1", "post42", model.ActionLike)
	r.Record("u1", "post42", model.ActionComment)
	r.Close()

	assert.Empty(t, store.Events())
	entries := logs.FilterMessage("tracking failed: recorder closed before start").All()
	require.Len(t, entries, 1)
	assert.EqualValues(t, 2, entries[0].ContextMap()["dropped"])
}

func TestRecorder_stats(t *testing.T) {
	store := NewMemoryStore()
	r := NewRecorder(store, 16, zap.NewNop())
	r.Start()
	r.Record("u1", "post1", model.ActionLike)
	r.Record("u1", "post2", model.ActionLike)
	r.Record("u1", "post1", model.ShareAction(model.ChannelWhatsApp))
	r.Record("u2", "post1", model.ActionReply)
	r.Close()

	stats, err := r.Stats(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalEvents)
	assert.Equal(t, 2, stats.ByAction[model.ActionLike])
	assert.Equal(t, 1, stats.ByAction["share:whatsapp"])
	assert.Zero(t, stats.ByAction[model.ActionReply])

	empty, err := r.Stats(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Zero(t, empty.TotalEvents)
	assert.NotNil(t, empty.ByAction)
}
