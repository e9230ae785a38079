package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-carwash-payments/app/entity"
	"github.com/vibast-solutions/ms-go-carwash-payments/app/factory"
	"github.com/vibast-solutions/ms-go-carwash-payments/app/pricing"
	"github.com/vibast-solutions/ms-go-carwash-payments/app/provider"
	"github.com/vibast-solutions/ms-go-carwash-payments/app/repository"
	"github.com/vibast-solutions/ms-go-carwash-payments/config"
)

const defaultBatchSize = int32(100)

type createInvoiceRequest interface {
	GetEntityType() string
	GetEntityId() string
	GetAmount() decimal.Decimal
	GetPayerEmail() string
	GetDescription() string
	GetVehicleTypeId() string
	GetMotorcycleSubtypeId() string
	GetSuccessRedirectUrl() string
	GetFailureRedirectUrl() string
}

type webhookRequest interface {
	GetCallbackToken() string
	GetPayload() []byte
}

type PaymentService struct {
	store       intentStore
	callbacks   callbackRepository
	engine      *ReconciliationEngine
	providerReg *provider.Registry
	cache       statusCache
	paymentsCfg config.PaymentsConfig
	logger      logrus.FieldLogger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	rejectedCallbacks atomic.Int64
}

func NewPaymentService(
	store intentStore,
	callbacks callbackRepository,
	engine *ReconciliationEngine,
	providerReg *provider.Registry,
	cache statusCache,
	paymentsCfg config.PaymentsConfig,
) *PaymentService {
	if cache == nil {
		cache = passthroughCache{}
	}
	if strings.TrimSpace(paymentsCfg.Currency) == "" {
		paymentsCfg.Currency = "PHP"
	}
	return &PaymentService{
		store:       store,
		callbacks:   callbacks,
		engine:      engine,
		providerReg: providerReg,
		cache:       cache,
		paymentsCfg: paymentsCfg,
		logger:      factory.NewModuleLogger("payments-service"),
		now:         func() time.Time { return time.Now().UTC() },
		sleep:       sleepContext,
	}
}

// CreateInvoice returns the entity's live invoice when one matches, otherwise
// supersedes the stale one and creates a new intent and gateway invoice.
func (s *PaymentService) CreateInvoice(ctx context.Context, req createInvoiceRequest) (*entity.PaymentIntent, error) {
	entityType, ok := entity.ParseEntityType(req.GetEntityType())
	if !ok {
		return nil, fmt.Errorf("%w: entityType must be booking or subscription", ErrInvalidRequest)
	}
	entityID := strings.TrimSpace(req.GetEntityId())
	if entityID == "" {
		return nil, fmt.Errorf("%w: entityId is required", ErrInvalidRequest)
	}
	if err := validateRedirectURL(req.GetSuccessRedirectUrl()); err != nil {
		return nil, err
	}
	if err := validateRedirectURL(req.GetFailureRedirectUrl()); err != nil {
		return nil, err
	}

	amount := req.GetAmount()
	if vehicleType := strings.TrimSpace(req.GetVehicleTypeId()); vehicleType != "" {
		amount = pricing.ComputeCharge(amount, vehicleType, req.GetMotorcycleSubtypeId())
	}
	amountCents := pricing.ToCents(amount)
	if amountCents <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}

	exists, err := s.store.EntityExists(ctx, entityType, entityID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrEntityNotFound
	}

	gateway, err := s.providerReg.Primary()
	if err != nil {
		return nil, ErrProviderUnsupported
	}

	reused, err := s.reuseOrSupersede(ctx, gateway, entityType, entityID, amountCents)
	if err != nil || reused != nil {
		return reused, err
	}

	now := s.now()
	intentID := uuid.NewString()
	intent := &entity.PaymentIntent{
		ID:               intentID,
		ExternalID:       externalID(entityType, entityID, intentID),
		EntityType:       entityType,
		EntityID:         entityID,
		AmountCents:      amountCents,
		Currency:         s.paymentsCfg.Currency,
		PayerEmail:       strings.TrimSpace(req.GetPayerEmail()),
		Description:      strings.TrimSpace(req.GetDescription()),
		Provider:         gateway.Code(),
		Status:           entity.IntentStatusCreated,
		CreatedAt:        now,
		LastTransitionAt: now,
		UpdatedAt:        now,
	}
	if err := s.store.Create(ctx, intent); err != nil {
		if errors.Is(err, repository.ErrActiveIntentExists) {
			return s.resolveConcurrentCreate(ctx, entityType, entityID, amountCents)
		}
		return nil, err
	}

	return s.createWithRetry(ctx, gateway, intent, &provider.CreateInvoiceInput{
		ExternalID:         intent.ExternalID,
		AmountCents:        intent.AmountCents,
		Currency:           intent.Currency,
		PayerEmail:         intent.PayerEmail,
		Description:        intent.Description,
		SuccessRedirectURL: strings.TrimSpace(req.GetSuccessRedirectUrl()),
		FailureRedirectURL: strings.TrimSpace(req.GetFailureRedirectUrl()),
	})
}

func (s *PaymentService) reuseOrSupersede(
	ctx context.Context,
	gateway provider.Gateway,
	entityType entity.EntityType,
	entityID string,
	amountCents int64,
) (*entity.PaymentIntent, error) {
	active, err := s.store.FindActiveByEntity(ctx, entityType, entityID)
	if err != nil {
		return nil, err
	}
	if active == nil {
		latest, err := s.store.FindLatestByEntity(ctx, entityType, entityID)
		if err != nil {
			return nil, err
		}
		if latest != nil && latest.Status == entity.IntentStatusPaid {
			return nil, ErrAlreadyPaid
		}
		return nil, nil
	}

	if active.Status == entity.IntentStatusCreated {
		return nil, ErrCreationInProgress
	}
	if active.AmountCents == amountCents && !active.InvoiceExpired(s.now()) {
		s.logger.WithField("intent_id", active.ID).Info("invoice_reused")
		return active, nil
	}

	if active.HasInvoice() {
		if err := gateway.ExpireInvoice(ctx, *active.ProviderInvoiceID); err != nil {
			s.logger.WithError(err).WithField("intent_id", active.ID).Warn("superseded_invoice_expire_failed")
		}
	}
	result, err := s.engine.Expire(ctx, active.ID, entity.CauseSuperseded, entity.SourceSupersede)
	if err != nil {
		return nil, err
	}
	if result.Intent != nil && result.Intent.Status == entity.IntentStatusPaid {
		return nil, ErrAlreadyPaid
	}
	return nil, nil
}

// resolveConcurrentCreate handles losing the race to create the entity's intent.
func (s *PaymentService) resolveConcurrentCreate(ctx context.Context, entityType entity.EntityType, entityID string, amountCents int64) (*entity.PaymentIntent, error) {
	active, err := s.store.FindActiveByEntity(ctx, entityType, entityID)
	if err != nil {
		return nil, err
	}
	if active != nil && active.Status == entity.IntentStatusPending && active.AmountCents == amountCents {
		return active, nil
	}
	return nil, ErrCreationInProgress
}

func (s *PaymentService) createWithRetry(
	ctx context.Context,
	gateway provider.Gateway,
	intent *entity.PaymentIntent,
	input *provider.CreateInvoiceInput,
) (*entity.PaymentIntent, error) {
	maxAttempts := s.paymentsCfg.GatewayMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	backoff := s.paymentsCfg.GatewayBackoff

	log := s.logger.WithFields(logrus.Fields{
		"intent_id":   intent.ID,
		"external_id": intent.ExternalID,
	})

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := s.sleep(ctx, backoff*time.Duration(1<<(attempt-2))); err != nil {
				return nil, err
			}

			// The previous create may have succeeded with its response lost.
			out, err := gateway.FindInvoiceByExternalID(ctx, intent.ExternalID)
			switch {
			case err == nil:
				log.WithField("invoice_id", out.ProviderInvoiceID).Info("invoice_recovered_by_external_id")
				return s.engine.OnInvoiceCreated(ctx, intent.ID, out)
			case !errors.Is(err, provider.ErrInvoiceNotFound):
				lastErr = err
				log.WithError(err).WithField("attempt", attempt).Warn("invoice_lookup_failed")
				continue
			}
		}

		if err := s.store.IncrementAttempts(ctx, intent.ID, s.now()); err != nil {
			return nil, err
		}

		out, err := gateway.CreateInvoice(ctx, input)
		if err == nil {
			attached, attachErr := s.engine.OnInvoiceCreated(ctx, intent.ID, out)
			if attachErr != nil {
				return nil, attachErr
			}
			return attached, nil
		}

		lastErr = err
		if errors.Is(err, provider.ErrGatewayNotConfigured) {
			log.WithError(err).Error("gateway_not_configured")
			if _, failErr := s.engine.FailCreation(ctx, intent.ID, entity.CauseGatewayUnavailable); failErr != nil {
				return nil, failErr
			}
			return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
		if !provider.IsRetryable(err) {
			log.WithError(err).Warn("invoice_creation_rejected")
			if _, failErr := s.engine.FailCreation(ctx, intent.ID, entity.CauseInvalidRequest); failErr != nil {
				return nil, failErr
			}
			return nil, fmt.Errorf("%w: %v", ErrGatewayRejected, err)
		}

		log.WithError(err).WithField("attempt", attempt).Warn("invoice_creation_failed")
	}

	// Only fail the intent once the gateway confirms no invoice carries its
	// external id; otherwise orphan recovery settles it later.
	out, err := gateway.FindInvoiceByExternalID(ctx, intent.ExternalID)
	switch {
	case err == nil:
		log.WithField("invoice_id", out.ProviderInvoiceID).Info("invoice_recovered_by_external_id")
		return s.engine.OnInvoiceCreated(ctx, intent.ID, out)
	case errors.Is(err, provider.ErrInvoiceNotFound):
		if _, err := s.engine.FailCreation(ctx, intent.ID, entity.CauseGatewayUnavailable); err != nil {
			return nil, err
		}
	default:
		log.WithError(err).Warn("invoice_creation_unconfirmed")
	}
	return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, lastErr)
}

// GetStatus returns the entity's latest intent through the status cache.
func (s *PaymentService) GetStatus(ctx context.Context, entityTypeRaw, entityID string) (*entity.PaymentIntent, error) {
	entityType, ok := entity.ParseEntityType(entityTypeRaw)
	if !ok {
		return nil, fmt.Errorf("%w: entityType must be booking or subscription", ErrInvalidRequest)
	}
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return nil, fmt.Errorf("%w: entityId is required", ErrInvalidRequest)
	}

	return s.cache.GetOrLoad(ctx, entityType, entityID, func(ctx context.Context) (*entity.PaymentIntent, error) {
		intent, err := s.store.FindLatestByEntity(ctx, entityType, entityID)
		if err != nil {
			return nil, err
		}
		if intent == nil {
			return nil, ErrIntentNotFound
		}
		return intent, nil
	})
}

// HandleWebhook authenticates and applies a gateway callback. Malformed but
// authenticated payloads are stored as rejected and acknowledged.
func (s *PaymentService) HandleWebhook(ctx context.Context, req webhookRequest) (*ReconcileResult, error) {
	gateway, err := s.providerReg.Primary()
	if err != nil {
		return nil, ErrProviderUnsupported
	}

	if !gateway.VerifyCallback(req.GetCallbackToken()) {
		s.rejectedCallbacks.Add(1)
		s.logger.WithField("provider", gateway.Name()).Warn("callback_token_mismatch")
		return nil, ErrCallbackUnauthorized
	}

	payload := req.GetPayload()
	event, err := gateway.ParseCallback(payload)
	if err != nil {
		s.logger.WithError(err).Warn("callback_payload_rejected")
		now := s.now()
		reason := truncate(err.Error(), 1024)
		if storeErr := s.callbacks.Create(ctx, &entity.PaymentCallback{
			Provider:    gateway.Name(),
			PayloadJSON: string(payload),
			Status:      entity.CallbackStatusRejected,
			Error:       &reason,
			CreatedAt:   now,
			UpdatedAt:   now,
		}); storeErr != nil {
			return nil, storeErr
		}
		return &ReconcileResult{Disposition: DispositionRejected}, nil
	}

	return s.engine.OnOutcome(ctx, OutcomeEvent{
		Source:            entity.SourceWebhook,
		Provider:          gateway.Name(),
		ProviderInvoiceID: event.ProviderInvoiceID,
		ExternalID:        event.ExternalID,
		ProviderStatus:    event.ProviderStatus,
		Outcome:           event.Outcome,
		Payload:           string(payload),
	})
}

// RejectedCallbacks counts webhook deliveries that failed authentication.
func (s *PaymentService) RejectedCallbacks() int64 {
	return s.rejectedCallbacks.Load()
}

func (s *PaymentService) batchSize() int32 {
	if s.paymentsCfg.JobBatchSize > 0 {
		return s.paymentsCfg.JobBatchSize
	}
	return defaultBatchSize
}

// externalID is stable for all gateway retries of one intent.
func externalID(entityType entity.EntityType, entityID, intentID string) string {
	suffix := strings.ReplaceAll(intentID, "-", "")
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return entityType.ExternalIDPrefix() + "_" + entityID + "_" + suffix
}

func validateRedirectURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parsed, err := url.Parse(raw)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("%w: redirect urls must be absolute http(s) urls", ErrInvalidRequest)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
