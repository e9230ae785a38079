package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vibast-solutions/ms-go-carwash-payments/app/entity"
	"github.com/vibast-solutions/ms-go-carwash-payments/app/provider"
	"github.com/vibast-solutions/ms-go-carwash-payments/app/repository"
)

type memoryStore struct {
	mu          sync.Mutex
	intents     map[string]*entity.PaymentIntent
	entities    map[string]bool
	projections map[string]entity.IntentStatus
	events      []repository.TransitionInput
}

func newMemoryStore(entityKeys ...string) *memoryStore {
	s := &memoryStore{
		intents:     map[string]*entity.PaymentIntent{},
		entities:    map[string]bool{},
		projections: map[string]entity.IntentStatus{},
	}
	for _, key := range entityKeys {
		s.entities[key] = true
	}
	return s
}

func cloneIntent(intent *entity.PaymentIntent) *entity.PaymentIntent {
	if intent == nil {
		return nil
	}
	c := *intent
	return &c
}

func (s *memoryStore) Create(_ context.Context, intent *entity.PaymentIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.intents {
		if item.EntityType == intent.EntityType && item.EntityID == intent.EntityID && !item.Status.Terminal() {
			return repository.ErrActiveIntentExists
		}
	}
	s.intents[intent.ID] = cloneIntent(intent)
	return nil
}

func (s *memoryStore) FindByID(_ context.Context, id string) (*entity.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneIntent(s.intents[id]), nil
}

func (s *memoryStore) FindByProviderInvoiceID(_ context.Context, providerInvoiceID string) (*entity.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.intents {
		if item.ProviderInvoiceID != nil && *item.ProviderInvoiceID == providerInvoiceID {
			return cloneIntent(item), nil
		}
	}
	return nil, nil
}

func (s *memoryStore) FindByExternalID(_ context.Context, externalID string) (*entity.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.intents {
		if item.ExternalID == externalID {
			return cloneIntent(item), nil
		}
	}
	return nil, nil
}

func (s *memoryStore) FindActiveByEntity(_ context.Context, entityType entity.EntityType, entityID string) (*entity.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.intents {
		if item.EntityType == entityType && item.EntityID == entityID && !item.Status.Terminal() {
			return cloneIntent(item), nil
		}
	}
	return nil, nil
}

func (s *memoryStore) FindLatestByEntity(_ context.Context, entityType entity.EntityType, entityID string) (*entity.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *entity.PaymentIntent
	for _, item := range s.intents {
		if item.EntityType != entityType || item.EntityID != entityID {
			continue
		}
		if latest == nil || item.CreatedAt.After(latest.CreatedAt) {
			latest = item
		}
	}
	return cloneIntent(latest), nil
}

func (s *memoryStore) IncrementAttempts(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.intents[id]
	if !ok {
		return repository.ErrIntentNotFound
	}
	item.Attempts++
	item.UpdatedAt = at
	return nil
}

func (s *memoryStore) MarkChecked(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.intents[id]
	if !ok {
		return repository.ErrIntentNotFound
	}
	item.UpdatedAt = at
	return nil
}

func (s *memoryStore) EntityExists(_ context.Context, entityType entity.EntityType, entityID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entities[entity.ActiveKey(entityType, entityID)], nil
}

func (s *memoryStore) AttachProviderInvoice(_ context.Context, input repository.AttachInvoiceInput) (*repository.TransitionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.intents[input.IntentID]
	if !ok {
		return nil, repository.ErrIntentNotFound
	}
	if item.Status != entity.IntentStatusCreated || item.ProviderInvoiceID != nil {
		outcome := repository.TransitionConflict
		if item.ProviderInvoiceID != nil && *item.ProviderInvoiceID == input.ProviderInvoiceID {
			outcome = repository.TransitionNoop
		}
		return &repository.TransitionResult{Intent: cloneIntent(item), Outcome: outcome}, nil
	}
	invoiceID := input.ProviderInvoiceID
	hosted := input.HostedURL
	item.ProviderInvoiceID = &invoiceID
	item.HostedURL = &hosted
	item.ExpiresAt = input.ExpiresAt
	item.Status = entity.IntentStatusPending
	item.LastTransitionAt = input.At
	item.UpdatedAt = input.At
	return &repository.TransitionResult{Intent: cloneIntent(item), Outcome: repository.TransitionApplied}, nil
}

func (s *memoryStore) Transition(_ context.Context, input repository.TransitionInput) (*repository.TransitionResult, error) {
	if !input.From.CanTransitionTo(input.To) {
		return nil, repository.ErrInvalidTransition
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.intents[input.IntentID]
	if !ok {
		return nil, repository.ErrIntentNotFound
	}
	if item.Status != input.From {
		outcome := repository.TransitionConflict
		if item.Status == input.To {
			outcome = repository.TransitionNoop
		}
		return &repository.TransitionResult{Intent: cloneIntent(item), Outcome: outcome}, nil
	}
	key := entity.ActiveKey(item.EntityType, item.EntityID)
	if input.To.Terminal() && !s.entities[key] {
		return nil, repository.ErrEntityNotFound
	}
	item.Status = input.To
	item.Cause = input.Cause
	if input.At.After(item.LastTransitionAt) {
		item.LastTransitionAt = input.At
	}
	item.UpdatedAt = input.At
	if input.To.Terminal() {
		s.projections[key] = input.To
	}
	s.events = append(s.events, input)
	return &repository.TransitionResult{Intent: cloneIntent(item), Outcome: repository.TransitionApplied}, nil
}

func (s *memoryStore) listWhere(limit int32, match func(*entity.PaymentIntent) bool) []*entity.PaymentIntent {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]*entity.PaymentIntent, 0)
	for _, item := range s.intents {
		if match(item) {
			items = append(items, cloneIntent(item))
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
			return items[i].UpdatedAt.Before(items[j].UpdatedAt)
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	if limit > 0 && len(items) > int(limit) {
		items = items[:limit]
	}
	return items
}

func (s *memoryStore) ListStalePending(_ context.Context, before time.Time, limit int32) ([]*entity.PaymentIntent, error) {
	return s.listWhere(limit, func(item *entity.PaymentIntent) bool {
		return item.Status == entity.IntentStatusPending && item.HasInvoice() && !item.UpdatedAt.After(before)
	}), nil
}

func (s *memoryStore) ListOrphanedCreated(_ context.Context, before time.Time, limit int32) ([]*entity.PaymentIntent, error) {
	return s.listWhere(limit, func(item *entity.PaymentIntent) bool {
		return item.Status == entity.IntentStatusCreated && !item.HasInvoice() && !item.CreatedAt.After(before)
	}), nil
}

func (s *memoryStore) ListExpiredPending(_ context.Context, cutoff time.Time, limit int32) ([]*entity.PaymentIntent, error) {
	return s.listWhere(limit, func(item *entity.PaymentIntent) bool {
		return item.Status == entity.IntentStatusPending && item.ExpiresAt != nil && !item.ExpiresAt.After(cutoff)
	}), nil
}

func (s *memoryStore) get(id string) *entity.PaymentIntent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneIntent(s.intents[id])
}

func (s *memoryStore) terminalEvents(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.IntentID == id && ev.To.Terminal() {
			n++
		}
	}
	return n
}

type memoryCallbacks struct {
	mu     sync.Mutex
	items  []*entity.PaymentCallback
	nextID uint64
}

func (r *memoryCallbacks) Create(_ context.Context, callback *entity.PaymentCallback) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	callback.ID = r.nextID
	c := *callback
	r.items = append(r.items, &c)
	return nil
}

func (r *memoryCallbacks) ListUnmatched(_ context.Context, limit int32) ([]*entity.PaymentCallback, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]*entity.PaymentCallback, 0)
	for _, item := range r.items {
		if item.Status == entity.CallbackStatusUnmatched {
			c := *item
			items = append(items, &c)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
			return items[i].UpdatedAt.Before(items[j].UpdatedAt)
		}
		return items[i].ID < items[j].ID
	})
	if limit > 0 && len(items) > int(limit) {
		items = items[:limit]
	}
	return items, nil
}

func (r *memoryCallbacks) MarkStatus(_ context.Context, id uint64, intentID *string, status int32, errMsg *string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.items {
		if item.ID == id {
			if intentID != nil {
				item.IntentID = intentID
			}
			item.Status = status
			item.Error = errMsg
			item.UpdatedAt = at
			return nil
		}
	}
	return repository.ErrCallbackNotFound
}

func (r *memoryCallbacks) byStatus(status int32) []*entity.PaymentCallback {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]*entity.PaymentCallback, 0)
	for _, item := range r.items {
		if item.Status == status {
			items = append(items, item)
		}
	}
	return items
}

type recordingNotifier struct {
	mu      sync.Mutex
	intents []*entity.PaymentIntent
	err     error
}

func (n *recordingNotifier) PaymentFinalized(_ context.Context, intent *entity.PaymentIntent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.intents = append(n.intents, cloneIntent(intent))
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.intents)
}

type fakeGateway struct {
	mu sync.Mutex

	createErrs    []error
	createCalls   int
	createInputs  []*provider.CreateInvoiceInput
	invoiceSeq    int
	statuses      map[string]provider.Outcome
	statusErr     error
	statusCalls   int
	byExternalID  map[string]*provider.CreateInvoiceOutput
	lookupErr     error
	lookupCalls   int
	lostResponses int
	expired       []string
	callbackToken string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		statuses:      map[string]provider.Outcome{},
		byExternalID:  map[string]*provider.CreateInvoiceOutput{},
		callbackToken: "cb-token",
	}
}

func (g *fakeGateway) Code() int32  { return provider.CodeXendit }
func (g *fakeGateway) Name() string { return "xendit" }

func (g *fakeGateway) CreateInvoice(_ context.Context, input *provider.CreateInvoiceInput) (*provider.CreateInvoiceOutput, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCalls++
	g.createInputs = append(g.createInputs, input)
	if len(g.createErrs) > 0 {
		err := g.createErrs[0]
		g.createErrs = g.createErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	g.invoiceSeq++
	id := "inv_" + string(rune('a'+g.invoiceSeq-1))
	expiry := time.Now().UTC().Add(24 * time.Hour)
	g.statuses[id] = provider.OutcomeStillPending
	out := &provider.CreateInvoiceOutput{ProviderInvoiceID: id, HostedURL: "https://pay/" + id, ExpiresAt: &expiry}
	g.byExternalID[input.ExternalID] = out
	if g.lostResponses > 0 {
		g.lostResponses--
		return nil, errTimeout
	}
	return out, nil
}

func (g *fakeGateway) GetInvoiceStatus(_ context.Context, providerInvoiceID string) (provider.Outcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statusCalls++
	if g.statusErr != nil {
		return "", g.statusErr
	}
	outcome, ok := g.statuses[providerInvoiceID]
	if !ok {
		return "", provider.ErrInvoiceNotFound
	}
	return outcome, nil
}

func (g *fakeGateway) FindInvoiceByExternalID(_ context.Context, externalID string) (*provider.CreateInvoiceOutput, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lookupCalls++
	if g.lookupErr != nil {
		return nil, g.lookupErr
	}
	out, ok := g.byExternalID[externalID]
	if !ok {
		return nil, provider.ErrInvoiceNotFound
	}
	return out, nil
}

func (g *fakeGateway) ExpireInvoice(_ context.Context, providerInvoiceID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.expired = append(g.expired, providerInvoiceID)
	return nil
}

func (g *fakeGateway) VerifyCallback(token string) bool {
	return token != "" && token == g.callbackToken
}

func (g *fakeGateway) ParseCallback(payload []byte) (*provider.CallbackEvent, error) {
	return provider.NewXenditGateway(provider.XenditConfig{}).ParseCallback(payload)
}

func (g *fakeGateway) setStatus(invoiceID string, outcome provider.Outcome) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[invoiceID] = outcome
}

func (g *fakeGateway) calls() (int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.createCalls, g.statusCalls
}

var errTimeout = &provider.GatewayError{Kind: provider.GatewayErrorTimeout, Message: "context deadline exceeded"}

var errTransport = &provider.GatewayError{Kind: provider.GatewayErrorTransport, Message: "connection refused"}

var errRejected = &provider.GatewayError{Kind: provider.GatewayErrorRejected, HTTPStatus: 400, Message: "invalid amount"}
