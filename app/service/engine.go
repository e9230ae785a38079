package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-carwash-payments/app/entity"
	"github.com/vibast-solutions/ms-go-carwash-payments/app/factory"
	"github.com/vibast-solutions/ms-go-carwash-payments/app/provider"
	"github.com/vibast-solutions/ms-go-carwash-payments/app/repository"
)

type intentStore interface {
	Create(ctx context.Context, intent *entity.PaymentIntent) error
	FindByID(ctx context.Context, id string) (*entity.PaymentIntent, error)
	FindByProviderInvoiceID(ctx context.Context, providerInvoiceID string) (*entity.PaymentIntent, error)
	FindByExternalID(ctx context.Context, externalID string) (*entity.PaymentIntent, error)
	FindActiveByEntity(ctx context.Context, entityType entity.EntityType, entityID string) (*entity.PaymentIntent, error)
	FindLatestByEntity(ctx context.Context, entityType entity.EntityType, entityID string) (*entity.PaymentIntent, error)
	IncrementAttempts(ctx context.Context, id string, at time.Time) error
	MarkChecked(ctx context.Context, id string, at time.Time) error
	EntityExists(ctx context.Context, entityType entity.EntityType, entityID string) (bool, error)
	AttachProviderInvoice(ctx context.Context, input repository.AttachInvoiceInput) (*repository.TransitionResult, error)
	Transition(ctx context.Context, input repository.TransitionInput) (*repository.TransitionResult, error)
	ListStalePending(ctx context.Context, before time.Time, limit int32) ([]*entity.PaymentIntent, error)
	ListOrphanedCreated(ctx context.Context, before time.Time, limit int32) ([]*entity.PaymentIntent, error)
	ListExpiredPending(ctx context.Context, cutoff time.Time, limit int32) ([]*entity.PaymentIntent, error)
}

type callbackRepository interface {
	Create(ctx context.Context, callback *entity.PaymentCallback) error
	ListUnmatched(ctx context.Context, limit int32) ([]*entity.PaymentCallback, error)
	MarkStatus(ctx context.Context, id uint64, intentID *string, status int32, errMsg *string, at time.Time) error
}

// notifier is told about every applied terminal transition.
type notifier interface {
	PaymentFinalized(ctx context.Context, intent *entity.PaymentIntent) error
}

type statusCache interface {
	GetOrLoad(ctx context.Context, entityType entity.EntityType, entityID string, load func(ctx context.Context) (*entity.PaymentIntent, error)) (*entity.PaymentIntent, error)
	Invalidate(ctx context.Context, entityType entity.EntityType, entityID string) error
}

type Disposition string

const (
	DispositionApplied        Disposition = "applied"
	DispositionDuplicate      Disposition = "duplicate"
	DispositionConflict       Disposition = "conflict"
	DispositionUnknownInvoice Disposition = "unknown_invoice"
	DispositionStillPending   Disposition = "still_pending"
	DispositionRejected       Disposition = "rejected"
)

// OutcomeEvent is a provider observation from any source. CallbackID is set
// when the delivery is already stored, as for dead-letter replays.
type OutcomeEvent struct {
	Source            entity.Source
	Provider          string
	ProviderInvoiceID string
	ExternalID        string
	ProviderStatus    string
	Outcome           provider.Outcome
	Payload           string
	CallbackID        uint64
}

type ReconcileResult struct {
	Disposition Disposition
	Intent      *entity.PaymentIntent
	Conflict    *ConflictError
}

var outcomeTargets = map[provider.Outcome]struct {
	status entity.IntentStatus
	cause  string
}{
	provider.OutcomePaid:    {entity.IntentStatusPaid, entity.CausePaid},
	provider.OutcomeFailed:  {entity.IntentStatusFailed, entity.CauseProviderFailed},
	provider.OutcomeExpired: {entity.IntentStatusExpired, entity.CauseProviderExpired},
}

// ReconciliationEngine is the single entry point through which polling,
// webhooks and background jobs change intent state.
type ReconciliationEngine struct {
	store     intentStore
	callbacks callbackRepository
	notifier  notifier
	cache     statusCache
	logger    logrus.FieldLogger
	now       func() time.Time
}

func NewReconciliationEngine(store intentStore, callbacks callbackRepository, notifier notifier, cache statusCache) *ReconciliationEngine {
	if cache == nil {
		cache = passthroughCache{}
	}
	return &ReconciliationEngine{
		store:     store,
		callbacks: callbacks,
		notifier:  notifier,
		cache:     cache,
		logger:    factory.NewModuleLogger("reconciliation-engine"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// OnInvoiceCreated attaches the gateway invoice and moves the intent to pending.
func (e *ReconciliationEngine) OnInvoiceCreated(ctx context.Context, intentID string, out *provider.CreateInvoiceOutput) (*entity.PaymentIntent, error) {
	if out == nil || strings.TrimSpace(out.ProviderInvoiceID) == "" {
		return nil, ErrInvalidRequest
	}

	res, err := e.store.AttachProviderInvoice(ctx, repository.AttachInvoiceInput{
		IntentID:          intentID,
		ProviderInvoiceID: out.ProviderInvoiceID,
		HostedURL:         out.HostedURL,
		ExpiresAt:         out.ExpiresAt,
		At:                e.now(),
	})
	if err != nil {
		if errors.Is(err, repository.ErrIntentNotFound) {
			return nil, ErrIntentNotFound
		}
		return nil, err
	}

	switch res.Outcome {
	case repository.TransitionApplied:
		e.invalidate(ctx, res.Intent)
		e.logger.WithFields(logrus.Fields{
			"intent_id":  intentID,
			"invoice_id": out.ProviderInvoiceID,
		}).Info("invoice_attached")
		return res.Intent, nil
	case repository.TransitionNoop:
		return res.Intent, nil
	default:
		conflict := &ConflictError{
			IntentID:           intentID,
			Stored:             res.Intent.Status,
			Attempted:          entity.IntentStatusPending,
			Source:             entity.SourceCreate,
			AttemptedInvoiceID: out.ProviderInvoiceID,
		}
		if res.Intent.ProviderInvoiceID != nil {
			conflict.StoredInvoiceID = *res.Intent.ProviderInvoiceID
		}
		e.logger.WithError(conflict).WithField("intent_id", intentID).Error("invoice_attach_conflict")
		return res.Intent, conflict
	}
}

// OnOutcome applies a provider observation. Only business-impossible states
// surface as a conflict disposition; storage failures are returned as errors.
func (e *ReconciliationEngine) OnOutcome(ctx context.Context, event OutcomeEvent) (*ReconcileResult, error) {
	log := e.logger.WithFields(logrus.Fields{
		"source":     event.Source,
		"invoice_id": event.ProviderInvoiceID,
		"outcome":    event.Outcome,
	})

	intent, sibling, err := e.resolveIntent(ctx, event)
	if err != nil {
		return nil, err
	}
	if sibling != nil {
		log.WithError(sibling).WithField("intent_id", intent.ID).Error("outcome_for_sibling_invoice")
		if err := e.recordCallback(ctx, event, intent, entity.CallbackStatusConflict, sibling.Error()); err != nil {
			return nil, err
		}
		return &ReconcileResult{Disposition: DispositionConflict, Intent: intent, Conflict: sibling}, nil
	}
	if intent == nil {
		log.Warn("outcome_for_unknown_invoice")
		if err := e.recordCallback(ctx, event, nil, entity.CallbackStatusUnmatched, "invoice does not match any payment intent"); err != nil {
			return nil, err
		}
		return &ReconcileResult{Disposition: DispositionUnknownInvoice}, nil
	}
	log = log.WithField("intent_id", intent.ID)

	if !event.Outcome.Definitive() {
		log.Debug("outcome_still_pending")
		if err := e.recordCallback(ctx, event, intent, entity.CallbackStatusProcessed, ""); err != nil {
			return nil, err
		}
		return &ReconcileResult{Disposition: DispositionStillPending, Intent: intent}, nil
	}

	target := outcomeTargets[event.Outcome]
	cause := target.cause
	result, err := e.apply(ctx, intent.ID, entity.IntentStatusPending, target.status, &cause, event.Source, optionalPayload(event.Payload))
	if err != nil {
		return nil, err
	}

	switch result.Disposition {
	case DispositionConflict:
		if err := e.recordCallback(ctx, event, result.Intent, entity.CallbackStatusConflict, result.Conflict.Error()); err != nil {
			return nil, err
		}
	default:
		if err := e.recordCallback(ctx, event, result.Intent, entity.CallbackStatusProcessed, ""); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// FailCreation closes an intent whose invoice could not be created.
func (e *ReconciliationEngine) FailCreation(ctx context.Context, intentID string, cause string) (*ReconcileResult, error) {
	return e.apply(ctx, intentID, entity.IntentStatusCreated, entity.IntentStatusFailed, &cause, entity.SourceCreate, nil)
}

// Expire closes a pending intent locally, for supersede and expiry sweeps.
func (e *ReconciliationEngine) Expire(ctx context.Context, intentID string, cause string, source entity.Source) (*ReconcileResult, error) {
	return e.apply(ctx, intentID, entity.IntentStatusPending, entity.IntentStatusExpired, &cause, source, nil)
}

func (e *ReconciliationEngine) apply(
	ctx context.Context,
	intentID string,
	from, to entity.IntentStatus,
	cause *string,
	source entity.Source,
	payload *string,
) (*ReconcileResult, error) {
	res, err := e.store.Transition(ctx, repository.TransitionInput{
		IntentID: intentID,
		From:     from,
		To:       to,
		Cause:    cause,
		Source:   source,
		Payload:  payload,
		At:       e.now(),
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrIntentNotFound):
			return nil, ErrIntentNotFound
		case errors.Is(err, repository.ErrEntityNotFound):
			return nil, ErrEntityNotFound
		}
		return nil, err
	}

	log := e.logger.WithFields(logrus.Fields{
		"intent_id": intentID,
		"source":    source,
		"to":        to,
	})

	switch res.Outcome {
	case repository.TransitionApplied:
		log.Info("intent_transition_applied")
		e.invalidate(ctx, res.Intent)
		if to.Terminal() {
			e.notify(ctx, res.Intent)
		}
		return &ReconcileResult{Disposition: DispositionApplied, Intent: res.Intent}, nil
	case repository.TransitionNoop:
		log.Debug("intent_transition_duplicate")
		return &ReconcileResult{Disposition: DispositionDuplicate, Intent: res.Intent}, nil
	default:
		conflict := &ConflictError{
			IntentID:  intentID,
			Stored:    res.Intent.Status,
			Attempted: to,
			Source:    source,
		}
		log.WithError(conflict).WithField("stored", res.Intent.Status).Error("intent_transition_conflict")
		return &ReconcileResult{Disposition: DispositionConflict, Intent: res.Intent, Conflict: conflict}, nil
	}
}

// resolveIntent finds the intent by invoice id, falling back to the external id
// for intents whose creation response never arrived. A definitive outcome for
// another invoice carrying the external id of an already bound intent is
// returned as a conflict for operator review.
func (e *ReconciliationEngine) resolveIntent(ctx context.Context, event OutcomeEvent) (*entity.PaymentIntent, *ConflictError, error) {
	invoiceID := strings.TrimSpace(event.ProviderInvoiceID)
	if invoiceID != "" {
		intent, err := e.store.FindByProviderInvoiceID(ctx, invoiceID)
		if err != nil || intent != nil {
			return intent, nil, err
		}
	}

	externalID := strings.TrimSpace(event.ExternalID)
	if externalID == "" || invoiceID == "" {
		return nil, nil, nil
	}
	intent, err := e.store.FindByExternalID(ctx, externalID)
	if err != nil || intent == nil {
		return nil, nil, err
	}

	if intent.Status == entity.IntentStatusCreated {
		attached, err := e.OnInvoiceCreated(ctx, intent.ID, &provider.CreateInvoiceOutput{ProviderInvoiceID: invoiceID})
		if err == nil {
			return attached, nil, nil
		}
		var conflict *ConflictError
		if !errors.As(err, &conflict) {
			return nil, nil, err
		}
		intent = attached
	}

	if !event.Outcome.Definitive() {
		return intent, nil, nil
	}
	conflict := &ConflictError{
		IntentID:           intent.ID,
		Stored:             intent.Status,
		Attempted:          outcomeTargets[event.Outcome].status,
		Source:             event.Source,
		AttemptedInvoiceID: invoiceID,
	}
	if intent.ProviderInvoiceID != nil {
		conflict.StoredInvoiceID = *intent.ProviderInvoiceID
	}
	return intent, conflict, nil
}

// recordCallback stores webhook deliveries and every conflict for operator review.
func (e *ReconciliationEngine) recordCallback(ctx context.Context, event OutcomeEvent, intent *entity.PaymentIntent, status int32, reason string) error {
	if e.callbacks == nil {
		return nil
	}

	var intentID *string
	if intent != nil {
		id := intent.ID
		intentID = &id
	}
	var errMsg *string
	if reason != "" {
		trimmed := truncate(reason, 1024)
		errMsg = &trimmed
	}
	now := e.now()

	if event.CallbackID != 0 {
		// An unmatched replay still bumps updated_at so the queue rotates.
		if status == entity.CallbackStatusProcessed {
			status = entity.CallbackStatusReplayed
		}
		return e.callbacks.MarkStatus(ctx, event.CallbackID, intentID, status, errMsg, now)
	}

	if event.Source != entity.SourceWebhook && status != entity.CallbackStatusConflict {
		return nil
	}

	var invoiceID *string
	if s := strings.TrimSpace(event.ProviderInvoiceID); s != "" {
		invoiceID = &s
	}
	return e.callbacks.Create(ctx, &entity.PaymentCallback{
		IntentID:          intentID,
		Provider:          event.Provider,
		ProviderInvoiceID: invoiceID,
		ProviderStatus:    event.ProviderStatus,
		PayloadJSON:       event.Payload,
		Status:            status,
		Error:             errMsg,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
}

func (e *ReconciliationEngine) notify(ctx context.Context, intent *entity.PaymentIntent) {
	if e.notifier == nil || intent == nil {
		return
	}
	if err := e.notifier.PaymentFinalized(ctx, intent); err != nil {
		e.logger.WithError(err).WithField("intent_id", intent.ID).Warn("payment_notification_failed")
	}
}

func (e *ReconciliationEngine) invalidate(ctx context.Context, intent *entity.PaymentIntent) {
	if intent == nil {
		return
	}
	if err := e.cache.Invalidate(ctx, intent.EntityType, intent.EntityID); err != nil {
		e.logger.WithError(err).WithField("intent_id", intent.ID).Warn("status_cache_invalidate_failed")
	}
}

type passthroughCache struct{}

func (passthroughCache) GetOrLoad(ctx context.Context, _ entity.EntityType, _ string, load func(ctx context.Context) (*entity.PaymentIntent, error)) (*entity.PaymentIntent, error) {
	return load(ctx)
}

func (passthroughCache) Invalidate(context.Context, entity.EntityType, string) error {
	return nil
}

func optionalPayload(payload string) *string {
	if strings.TrimSpace(payload) == "" {
		return nil
	}
	return &payload
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}
