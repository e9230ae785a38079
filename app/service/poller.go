package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/vibast-solutions/ms-go-carwash-payments/app/entity"
	"github.com/vibast-solutions/ms-go-carwash-payments/app/factory"
	"github.com/vibast-solutions/ms-go-carwash-payments/app/provider"
)

type PollStatus string

const (
	PollResolved PollStatus = "resolved"
	PollTimedOut PollStatus = "timed_out"
)

type PollResult struct {
	Status   PollStatus
	Intent   *entity.PaymentIntent
	Attempts int
}

// Poller asks the gateway for an invoice's status on a fixed interval until the
// intent is terminal. It only reports observations to the engine.
type Poller struct {
	store       intentStore
	providerReg *provider.Registry
	engine      *ReconciliationEngine
	logger      logrus.FieldLogger

	maxAttempts int
	interval    time.Duration
	sleep       func(ctx context.Context, d time.Duration) error

	group  singleflight.Group
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewPoller(store intentStore, providerReg *provider.Registry, engine *ReconciliationEngine, maxAttempts int, interval time.Duration) *Poller {
	if maxAttempts <= 0 {
		maxAttempts = 60
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		store:       store,
		providerReg: providerReg,
		engine:      engine,
		logger:      factory.NewModuleLogger("payments-poller"),
		maxAttempts: maxAttempts,
		interval:    interval,
		sleep:       sleepContext,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// PollUntilTerminal polls the entity's latest intent. Exhausting the attempts
// leaves the intent pending; a late webhook can still settle it.
func (p *Poller) PollUntilTerminal(ctx context.Context, entityType entity.EntityType, entityID string, maxAttempts int, interval time.Duration) (*PollResult, error) {
	if maxAttempts <= 0 {
		maxAttempts = p.maxAttempts
	}
	if interval <= 0 {
		interval = p.interval
	}

	log := p.logger.WithFields(logrus.Fields{
		"entity_type": entityType,
		"entity_id":   entityID,
	})

	var latest *entity.PaymentIntent
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		intent, err := p.store.FindLatestByEntity(ctx, entityType, entityID)
		if err != nil {
			return nil, err
		}
		if intent == nil {
			return nil, ErrIntentNotFound
		}
		latest = intent
		if intent.Status.Terminal() {
			return &PollResult{Status: PollResolved, Intent: intent, Attempts: attempt - 1}, nil
		}

		if intent.HasInvoice() {
			resolved, err := p.tick(ctx, intent)
			if err != nil {
				log.WithError(err).WithField("attempt", attempt).Warn("poll_tick_failed")
			} else if resolved != nil {
				return &PollResult{Status: PollResolved, Intent: resolved, Attempts: attempt}, nil
			}
		}

		if attempt == maxAttempts {
			break
		}
		if err := p.sleep(ctx, interval); err != nil {
			return nil, err
		}
	}

	log.WithField("attempts", maxAttempts).Info("poll_timed_out")
	return &PollResult{Status: PollTimedOut, Intent: latest, Attempts: maxAttempts}, nil
}

// tick returns the stored intent once a definitive outcome was reported.
func (p *Poller) tick(ctx context.Context, intent *entity.PaymentIntent) (*entity.PaymentIntent, error) {
	gateway, err := p.providerReg.Get(intent.Provider)
	if err != nil {
		return nil, err
	}

	outcome, err := gateway.GetInvoiceStatus(ctx, *intent.ProviderInvoiceID)
	if err != nil {
		return nil, err
	}
	if !outcome.Definitive() {
		return nil, nil
	}

	result, err := p.engine.OnOutcome(ctx, OutcomeEvent{
		Source:            entity.SourcePoll,
		Provider:          gateway.Name(),
		ProviderInvoiceID: *intent.ProviderInvoiceID,
		ProviderStatus:    string(outcome),
		Outcome:           outcome,
	})
	if err != nil {
		return nil, err
	}
	return result.Intent, nil
}

// StartBackground polls detached from the caller's context. Concurrent starts
// for the same entity share one loop.
func (p *Poller) StartBackground(entityType entity.EntityType, entityID string) {
	key := entity.ActiveKey(entityType, entityID)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		_, err, shared := p.group.Do(key, func() (interface{}, error) {
			return p.PollUntilTerminal(p.ctx, entityType, entityID, 0, 0)
		})
		if err != nil && !shared && !errors.Is(err, context.Canceled) {
			p.logger.WithError(err).WithField("entity_id", entityID).Warn("background_poll_failed")
		}
	}()
}

// Close stops background loops and waits for them to return.
func (p *Poller) Close() {
	p.cancel()
	p.wg.Wait()
}
