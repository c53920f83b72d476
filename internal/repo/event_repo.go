package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/advocacyflow/server/internal/engagement"
	"github.com/advocacyflow/server/internal/model"
)

type eventRepo struct {
	db *sql.DB
}

// NewEventRepo creates a Postgres-backed engagement event store
func NewEventRepo(db *sql.DB) engagement.Store {
	return &eventRepo{db: db}
}

// Append inserts one event. Events are never updated.
func (r *eventRepo) Append(ctx context.Context, event model.EngagementEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO engagement_events (id, user_id, post_id, action, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
	`, event.ID, event.UserID, event.PostID, string(event.Action), event.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// CountByAction returns the number of events per action for userID
func (r *eventRepo) CountByAction(ctx context.Context, userID string) (map[model.Action]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT action, COUNT(*)
		FROM engagement_events
		WHERE user_id = $1
		GROUP BY action
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.Action]int)
	for rows.Next() {
		var action string
		var n int
		if err := rows.Scan(&action, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[model.Action(action)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}
	return counts, nil
}
