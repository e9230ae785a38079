package entity

import "time"

type Source string

const (
	SourceCreate    Source = "create"
	SourcePoll      Source = "poll"
	SourceWebhook   Source = "webhook"
	SourceReconcile Source = "reconcile"
	SourceExpiry    Source = "expiry"
	SourceSupersede Source = "supersede"
)

type IntentEvent struct {
	ID uint64

	IntentID string

	EventType string
	Source    Source

	OldStatus *IntentStatus
	NewStatus IntentStatus
	Cause     *string

	PayloadJSON *string

	CreatedAt time.Time
}
