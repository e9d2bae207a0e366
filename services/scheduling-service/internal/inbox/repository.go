// Package inbox remembers which booking events the service has already applied.
package inbox

import (
	"context"
	"fmt"

	"github.com/md-rashed-zaman/clinicsched/libs/db"
)

type Repository struct {
	q db.Querier
}

func NewRepository(q db.Querier) *Repository {
	return &Repository{q: q}
}

// Record claims eventID for processing. It reports false when another delivery
// already holds the claim.
func (r *Repository) Record(ctx context.Context, eventID string, eventType string) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		INSERT INTO inbox_events (event_id, event_type)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, eventType)
	if err != nil {
		return false, fmt.Errorf("inbox: record %s: %w", eventID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Forget releases the claim on eventID after its handler failed, so a later
// delivery of the same event is applied instead of dropped as a duplicate.
func (r *Repository) Forget(ctx context.Context, eventID string) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM inbox_events WHERE event_id = $1`, eventID); err != nil {
		return fmt.Errorf("inbox: forget %s: %w", eventID, err)
	}
	return nil
}
