// Package engagement records interaction events against posts and aggregates them per user.
//
// Recording is best effort: Record never blocks and never reports failure to its caller.
// Events that cannot be queued or persisted are dropped and logged.
package engagement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/advocacyflow/server/internal/model"
)

const appendTimeout = 5 * time.Second

// Store persists events and answers aggregate queries
type Store interface {
	Append(ctx context.Context, event model.EngagementEvent) error
	CountByAction(ctx context.Context, userID string) (map[model.Action]int, error)
}

// Recorder queues events and appends them to the store from a single worker
type Recorder struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time

	queue chan model.EngagementEvent
	done  chan struct{}

	mu      sync.RWMutex
	started bool
	closed  bool
}

// NewRecorder creates a recorder with a bounded queue. Call Start before recording.
func NewRecorder(store Store, queueSize int, logger *zap.Logger) *Recorder {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Recorder{
		store:  store,
		logger: logger,
		now:    time.Now,
		queue:  make(chan model.EngagementEvent, queueSize),
		done:   make(chan struct{}),
	}
}

// Start launches the worker goroutine
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.closed {
		return
	}
	r.started = true
	go r.run()
}

// Close stops accepting events and waits for queued events to be written
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	started := r.started
	r.mu.Unlock()

	if started {
		<-r.done
		return
	}

	dropped := 0
	for range r.queue {
		dropped++
	}
	if dropped > 0 {
		r.logger.Warn("tracking failed: recorder closed before start", zap.Int("dropped", dropped))
	}
}

// Record enqueues one event. It never blocks: a full queue drops the event.
func (r *Recorder) Record(userID, postID string, action model.Action) {
	if !action.Valid() || userID == "" || postID == "" {
		r.logger.Warn("tracking failed: invalid event",
			zap.String("user_id", userID),
			zap.String("post_id", postID),
			zap.String("action", string(action)))
		return
	}

	event := model.EngagementEvent{
		ID:         uuid.NewString(),
		UserID:     userID,
		PostID:     postID,
		Action:     action,
		OccurredAt: r.now().UTC(),
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.logger.Warn("tracking failed: recorder closed", zap.String("action", string(action)))
		return
	}
	select {
	case r.queue <- event:
	default:
		r.logger.Warn("tracking failed: queue full",
			zap.String("user_id", userID),
			zap.String("action", string(action)))
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for event := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		err := r.store.Append(ctx, event)
		cancel()
		if err != nil {
			r.logger.Warn("tracking failed",
				zap.String("user_id", event.UserID),
				zap.String("post_id", event.PostID),
				zap.String("action", string(event.Action)),
				zap.Error(err))
		}
	}
}

// Stats aggregates the user's recorded events by action
func (r *Recorder) Stats(ctx context.Context, userID string) (model.UserStats, error) {
	counts, err := r.store.CountByAction(ctx, userID)
	if err != nil {
		return model.UserStats{}, fmt.Errorf("count events: %w", err)
	}
	stats := model.UserStats{ByAction: make(map[model.Action]int, len(counts))}
	for action, n := range counts {
		stats.ByAction[action] = n
		stats.TotalEvents += n
	}
	return stats, nil
}

// MemoryStore keeps events in process. Used in tests and dev runs without a database.
type MemoryStore struct {
	mu     sync.Mutex
	events []model.EngagementEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, event model.EngagementEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *MemoryStore) CountByAction(_ context.Context, userID string) (map[model.Action]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[model.Action]int)
	for _, e := range s.events {
		if e.UserID == userID {
			counts[e.Action]++
		}
	}
	return counts, nil
}

// Events returns a copy of all stored events
func (s *MemoryStore) Events() []model.EngagementEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.EngagementEvent(nil), s.events...)
}
