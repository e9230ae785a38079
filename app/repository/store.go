package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vibast-solutions/ms-go-carwash-payments/app/entity"
)

var ErrInvalidTransition = errors.New("transition not allowed by the intent lifecycle")

type TransitionOutcome string

const (
	TransitionApplied  TransitionOutcome = "applied"
	TransitionNoop     TransitionOutcome = "noop"
	TransitionConflict TransitionOutcome = "conflict"
)

type TransitionInput struct {
	IntentID string
	From     entity.IntentStatus
	To       entity.IntentStatus
	Cause    *string
	Source   entity.Source
	Payload  *string
	At       time.Time
}

// TransitionResult carries the intent as stored after the attempt. For a
// conflict it is the intent in its already-terminal state.
type TransitionResult struct {
	Intent  *entity.PaymentIntent
	Outcome TransitionOutcome
}

type AttachInvoiceInput struct {
	IntentID          string
	ProviderInvoiceID string
	HostedURL         string
	ExpiresAt         *time.Time
	Payload           *string
	At                time.Time
}

// IntentStore is the only writer of intent status. Every mutation runs in one
// SQL transaction guarded by a compare-and-swap on the current status.
type IntentStore struct {
	db       *sql.DB
	intents  *PaymentIntentRepository
	events   *IntentEventRepository
	entities *EntityPaymentRepository
}

func NewIntentStore(db *sql.DB) *IntentStore {
	return &IntentStore{
		db:       db,
		intents:  NewPaymentIntentRepository(db),
		events:   NewIntentEventRepository(db),
		entities: NewEntityPaymentRepository(db),
	}
}

// Create inserts a new intent and its creation event.
func (s *IntentStore) Create(ctx context.Context, intent *entity.PaymentIntent) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := NewPaymentIntentRepository(tx).Create(ctx, intent); err != nil {
			return err
		}
		return NewIntentEventRepository(tx).Create(ctx, &entity.IntentEvent{
			IntentID:  intent.ID,
			EventType: "intent_created",
			Source:    entity.SourceCreate,
			NewStatus: intent.Status,
			CreatedAt: intent.CreatedAt,
		})
	})
}

func (s *IntentStore) FindByID(ctx context.Context, id string) (*entity.PaymentIntent, error) {
	return s.intents.FindByID(ctx, id)
}

func (s *IntentStore) FindByProviderInvoiceID(ctx context.Context, providerInvoiceID string) (*entity.PaymentIntent, error) {
	return s.intents.FindByProviderInvoiceID(ctx, providerInvoiceID)
}

func (s *IntentStore) FindByExternalID(ctx context.Context, externalID string) (*entity.PaymentIntent, error) {
	return s.intents.FindByExternalID(ctx, externalID)
}

func (s *IntentStore) FindActiveByEntity(ctx context.Context, entityType entity.EntityType, entityID string) (*entity.PaymentIntent, error) {
	return s.intents.FindActiveByEntity(ctx, entityType, entityID)
}

func (s *IntentStore) FindLatestByEntity(ctx context.Context, entityType entity.EntityType, entityID string) (*entity.PaymentIntent, error) {
	return s.intents.FindLatestByEntity(ctx, entityType, entityID)
}

func (s *IntentStore) IncrementAttempts(ctx context.Context, id string, at time.Time) error {
	return s.intents.IncrementAttempts(ctx, id, at)
}

func (s *IntentStore) MarkChecked(ctx context.Context, id string, at time.Time) error {
	return s.intents.MarkChecked(ctx, id, at)
}

func (s *IntentStore) EntityExists(ctx context.Context, entityType entity.EntityType, entityID string) (bool, error) {
	return s.entities.Exists(ctx, entityType, entityID)
}

func (s *IntentStore) ListEvents(ctx context.Context, intentID string) ([]*entity.IntentEvent, error) {
	return s.events.ListByIntent(ctx, intentID)
}

func (s *IntentStore) ListStalePending(ctx context.Context, before time.Time, limit int32) ([]*entity.PaymentIntent, error) {
	return s.intents.ListStalePending(ctx, before, limit)
}

func (s *IntentStore) ListOrphanedCreated(ctx context.Context, before time.Time, limit int32) ([]*entity.PaymentIntent, error) {
	return s.intents.ListOrphanedCreated(ctx, before, limit)
}

func (s *IntentStore) ListExpiredPending(ctx context.Context, cutoff time.Time, limit int32) ([]*entity.PaymentIntent, error) {
	return s.intents.ListExpiredPending(ctx, cutoff, limit)
}

// AttachProviderInvoice moves created to pending and sets the invoice id once.
// Re-attaching the same invoice is a no-op; a different invoice is a conflict.
func (s *IntentStore) AttachProviderInvoice(ctx context.Context, input AttachInvoiceInput) (*TransitionResult, error) {
	var result *TransitionResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		intents := NewPaymentIntentRepository(tx)

		affected, err := intents.attachInvoice(ctx, input)
		if err != nil {
			return err
		}

		current, err := intents.FindByID(ctx, input.IntentID)
		if err != nil {
			return err
		}
		if current == nil {
			return ErrIntentNotFound
		}

		if affected == 0 {
			outcome := TransitionConflict
			if current.ProviderInvoiceID != nil && *current.ProviderInvoiceID == input.ProviderInvoiceID {
				outcome = TransitionNoop
			}
			result = &TransitionResult{Intent: current, Outcome: outcome}
			return nil
		}

		old := entity.IntentStatusCreated
		if err := NewIntentEventRepository(tx).Create(ctx, &entity.IntentEvent{
			IntentID:    input.IntentID,
			EventType:   "invoice_attached",
			Source:      entity.SourceCreate,
			OldStatus:   &old,
			NewStatus:   entity.IntentStatusPending,
			PayloadJSON: input.Payload,
			CreatedAt:   input.At,
		}); err != nil {
			return err
		}

		result = &TransitionResult{Intent: current, Outcome: TransitionApplied}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Transition is the single mutation point for status changes. Losing the
// compare-and-swap is reported as Noop when the stored state already equals the
// target and Conflict otherwise.
func (s *IntentStore) Transition(ctx context.Context, input TransitionInput) (*TransitionResult, error) {
	if !input.From.CanTransitionTo(input.To) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, input.From, input.To)
	}

	var result *TransitionResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		intents := NewPaymentIntentRepository(tx)

		affected, err := intents.compareAndSetStatus(ctx, input.IntentID, input.From, input.To, input.Cause, input.At)
		if err != nil {
			return err
		}

		current, err := intents.FindByID(ctx, input.IntentID)
		if err != nil {
			return err
		}
		if current == nil {
			return ErrIntentNotFound
		}

		if affected == 0 {
			outcome := TransitionConflict
			if current.Status == input.To {
				outcome = TransitionNoop
			}
			result = &TransitionResult{Intent: current, Outcome: outcome}
			return nil
		}

		if input.To.Terminal() {
			if err := NewEntityPaymentRepository(tx).UpdatePaymentStatus(ctx, current, input.At); err != nil {
				return err
			}
		}

		from := input.From
		if err := NewIntentEventRepository(tx).Create(ctx, &entity.IntentEvent{
			IntentID:    input.IntentID,
			EventType:   "status_changed",
			Source:      input.Source,
			OldStatus:   &from,
			NewStatus:   input.To,
			Cause:       input.Cause,
			PayloadJSON: input.Payload,
			CreatedAt:   input.At,
		}); err != nil {
			return err
		}

		result = &TransitionResult{Intent: current, Outcome: TransitionApplied}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *IntentStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
