package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-carwash-payments/app/entity"
	"github.com/vibast-solutions/ms-go-carwash-payments/app/provider"
	"github.com/vibast-solutions/ms-go-carwash-payments/app/repository"
)

// RunReconcileBatch polls the gateway for pending intents nobody has looked at recently.
func (s *PaymentService) RunReconcileBatch(ctx context.Context) error {
	now := s.now()
	items, err := s.store.ListStalePending(ctx, now.Add(-s.paymentsCfg.ReconcileStaleAfter), s.batchSize())
	if err != nil {
		return err
	}

	var firstErr error
	for _, intent := range items {
		if intent == nil || !intent.HasInvoice() {
			continue
		}

		gateway, err := s.providerReg.Get(intent.Provider)
		if err != nil {
			firstErr = keepFirstErr(firstErr, err)
			continue
		}

		outcome, err := gateway.GetInvoiceStatus(ctx, *intent.ProviderInvoiceID)
		if err != nil {
			firstErr = keepFirstErr(firstErr, err)
			firstErr = keepFirstErr(firstErr, s.markChecked(ctx, intent.ID, now))
			continue
		}
		if !outcome.Definitive() {
			firstErr = keepFirstErr(firstErr, s.markChecked(ctx, intent.ID, now))
			continue
		}

		if _, err := s.engine.OnOutcome(ctx, OutcomeEvent{
			Source:            entity.SourceReconcile,
			Provider:          gateway.Name(),
			ProviderInvoiceID: *intent.ProviderInvoiceID,
			ProviderStatus:    string(outcome),
			Outcome:           outcome,
		}); err != nil {
			firstErr = keepFirstErr(firstErr, err)
		}
	}

	return firstErr
}

// RunExpirePendingBatch closes pending intents whose invoice expired more than
// the grace period ago. The gateway is asked first so a late payment still wins.
func (s *PaymentService) RunExpirePendingBatch(ctx context.Context) error {
	now := s.now()
	items, err := s.store.ListExpiredPending(ctx, now.Add(-s.paymentsCfg.ExpiryGrace), s.batchSize())
	if err != nil {
		return err
	}

	var firstErr error
	for _, intent := range items {
		if intent == nil {
			continue
		}

		if intent.HasInvoice() {
			gateway, err := s.providerReg.Get(intent.Provider)
			if err != nil {
				firstErr = keepFirstErr(firstErr, err)
				continue
			}
			outcome, err := gateway.GetInvoiceStatus(ctx, *intent.ProviderInvoiceID)
			if err != nil {
				firstErr = keepFirstErr(firstErr, err)
				firstErr = keepFirstErr(firstErr, s.markChecked(ctx, intent.ID, now))
				continue
			}
			if outcome.Definitive() {
				if _, err := s.engine.OnOutcome(ctx, OutcomeEvent{
					Source:            entity.SourceExpiry,
					Provider:          gateway.Name(),
					ProviderInvoiceID: *intent.ProviderInvoiceID,
					ProviderStatus:    string(outcome),
					Outcome:           outcome,
				}); err != nil {
					firstErr = keepFirstErr(firstErr, err)
				}
				continue
			}
		}

		if _, err := s.engine.Expire(ctx, intent.ID, entity.CauseInvoiceExpired, entity.SourceExpiry); err != nil {
			firstErr = keepFirstErr(firstErr, err)
		}
	}

	return firstErr
}

// RunOrphanRecoveryBatch settles intents stuck in created, typically after a
// crash or timeout between the gateway call and recording its response.
func (s *PaymentService) RunOrphanRecoveryBatch(ctx context.Context) error {
	now := s.now()
	items, err := s.store.ListOrphanedCreated(ctx, now.Add(-s.paymentsCfg.OrphanAfter), s.batchSize())
	if err != nil {
		return err
	}

	var firstErr error
	for _, intent := range items {
		if intent == nil {
			continue
		}
		log := s.logger.WithFields(logrus.Fields{
			"intent_id":   intent.ID,
			"external_id": intent.ExternalID,
		})

		gateway, err := s.providerReg.Get(intent.Provider)
		if err != nil {
			firstErr = keepFirstErr(firstErr, err)
			continue
		}

		out, err := gateway.FindInvoiceByExternalID(ctx, intent.ExternalID)
		if errors.Is(err, provider.ErrInvoiceNotFound) {
			log.Info("orphan_without_invoice")
			if _, err := s.engine.FailCreation(ctx, intent.ID, entity.CauseGatewayUnavailable); err != nil {
				firstErr = keepFirstErr(firstErr, err)
			}
			continue
		}
		if err != nil {
			firstErr = keepFirstErr(firstErr, err)
			firstErr = keepFirstErr(firstErr, s.markChecked(ctx, intent.ID, now))
			continue
		}

		log.WithField("invoice_id", out.ProviderInvoiceID).Info("orphan_invoice_recovered")
		if _, err := s.engine.OnInvoiceCreated(ctx, intent.ID, out); err != nil {
			var conflict *ConflictError
			if !errors.As(err, &conflict) {
				firstErr = keepFirstErr(firstErr, err)
			}
		}
	}

	return firstErr
}

// RunDeadLetterReplayBatch re-applies unmatched webhook deliveries whose invoice
// now resolves to an intent.
func (s *PaymentService) RunDeadLetterReplayBatch(ctx context.Context) error {
	items, err := s.callbacks.ListUnmatched(ctx, s.batchSize())
	if err != nil {
		return err
	}

	var firstErr error
	for _, callback := range items {
		if callback == nil || callback.ProviderInvoiceID == nil {
			continue
		}

		externalID := ""
		if gateway, err := s.providerReg.ByName(callback.Provider); err == nil {
			if parsed, err := gateway.ParseCallback([]byte(callback.PayloadJSON)); err == nil {
				externalID = parsed.ExternalID
			}
		}

		if _, err := s.engine.OnOutcome(ctx, OutcomeEvent{
			Source:            entity.SourceWebhook,
			Provider:          callback.Provider,
			ProviderInvoiceID: *callback.ProviderInvoiceID,
			ExternalID:        externalID,
			ProviderStatus:    callback.ProviderStatus,
			Outcome:           provider.MapStatus(callback.ProviderStatus),
			Payload:           callback.PayloadJSON,
			CallbackID:        callback.ID,
		}); err != nil {
			firstErr = keepFirstErr(firstErr, err)
		}
	}

	return firstErr
}

// markChecked pushes an unsettled intent behind the rest of its queue.
func (s *PaymentService) markChecked(ctx context.Context, intentID string, at time.Time) error {
	if err := s.store.MarkChecked(ctx, intentID, at); err != nil && !errors.Is(err, repository.ErrIntentNotFound) {
		return err
	}
	return nil
}

func keepFirstErr(current error, candidate error) error {
	if current != nil {
		return current
	}
	return candidate
}
