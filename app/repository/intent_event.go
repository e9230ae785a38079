package repository

import (
	"context"
	"database/sql"

	"github.com/vibast-solutions/ms-go-carwash-payments/app/entity"
)

type IntentEventRepository struct {
	db DBTX
}

func NewIntentEventRepository(db DBTX) *IntentEventRepository {
	return &IntentEventRepository{db: db}
}

func (r *IntentEventRepository) Create(ctx context.Context, event *entity.IntentEvent) error {
	query := `
		INSERT INTO payment_intent_events (
			intent_id, event_type, source, old_status, new_status, cause, payload_json, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		event.IntentID,
		event.EventType,
		string(event.Source),
		nullableStatusValue(event.OldStatus),
		string(event.NewStatus),
		nullableStringValue(event.Cause),
		nullableStringValue(event.PayloadJSON),
		event.CreatedAt.UTC(),
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	event.ID = uint64(id)

	return nil
}

func (r *IntentEventRepository) ListByIntent(ctx context.Context, intentID string) ([]*entity.IntentEvent, error) {
	query := `
		SELECT id, intent_id, event_type, source, old_status, new_status, cause, payload_json, created_at
		FROM payment_intent_events
		WHERE intent_id = ?
		ORDER BY id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, intentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]*entity.IntentEvent, 0)
	for rows.Next() {
		var source, newStatus string
		var oldStatus, cause, payload sql.NullString
		event := &entity.IntentEvent{}
		if err := rows.Scan(
			&event.ID,
			&event.IntentID,
			&event.EventType,
			&source,
			&oldStatus,
			&newStatus,
			&cause,
			&payload,
			&event.CreatedAt,
		); err != nil {
			return nil, err
		}
		event.Source = entity.Source(source)
		event.NewStatus = entity.IntentStatus(newStatus)
		if oldStatus.Valid {
			s := entity.IntentStatus(oldStatus.String)
			event.OldStatus = &s
		}
		event.Cause = stringPtrFromNull(cause)
		event.PayloadJSON = stringPtrFromNull(payload)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
