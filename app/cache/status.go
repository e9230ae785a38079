package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/vibast-solutions/ms-go-carwash-payments/app/entity"
	"github.com/vibast-solutions/ms-go-carwash-payments/app/factory"
)

const (
	defaultKeyPrefix   = "carwash:payments:status:"
	defaultPendingTTL  = 30 * time.Second
	defaultTerminalTTL = 10 * time.Minute
	generationSuffix   = ":gen"
	generationTTL      = time.Hour
)

var errStaleLoad = errors.New("status cache invalidated during load")

// NewRedisClient parses a redis:// URL and checks the server answers.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// StatusCache keeps read-through snapshots of the latest intent per entity.
// Redis failures degrade to loading from the store.
type StatusCache struct {
	client      *redis.Client
	prefix      string
	pendingTTL  time.Duration
	terminalTTL time.Duration
	group       singleflight.Group
	logger      logrus.FieldLogger
}

func NewStatusCache(client *redis.Client, pendingTTL time.Duration) *StatusCache {
	if pendingTTL <= 0 {
		pendingTTL = defaultPendingTTL
	}
	return &StatusCache{
		client:      client,
		prefix:      defaultKeyPrefix,
		pendingTTL:  pendingTTL,
		terminalTTL: defaultTerminalTTL,
		logger:      factory.NewModuleLogger("status-cache"),
	}
}

type snapshot struct {
	ID                string     `json:"id"`
	ExternalID        string     `json:"external_id"`
	EntityType        string     `json:"entity_type"`
	EntityID          string     `json:"entity_id"`
	AmountCents       int64      `json:"amount_cents"`
	Currency          string     `json:"currency"`
	PayerEmail        string     `json:"payer_email,omitempty"`
	Description       string     `json:"description,omitempty"`
	Provider          int32      `json:"provider"`
	ProviderInvoiceID *string    `json:"provider_invoice_id,omitempty"`
	HostedURL         *string    `json:"hosted_url,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	Status            string     `json:"status"`
	Cause             *string    `json:"cause,omitempty"`
	Attempts          int32      `json:"attempts"`
	CreatedAt         time.Time  `json:"created_at"`
	LastTransitionAt  time.Time  `json:"last_transition_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func toSnapshot(intent *entity.PaymentIntent) snapshot {
	return snapshot{
		ID:                intent.ID,
		ExternalID:        intent.ExternalID,
		EntityType:        string(intent.EntityType),
		EntityID:          intent.EntityID,
		AmountCents:       intent.AmountCents,
		Currency:          intent.Currency,
		PayerEmail:        intent.PayerEmail,
		Description:       intent.Description,
		Provider:          intent.Provider,
		ProviderInvoiceID: intent.ProviderInvoiceID,
		HostedURL:         intent.HostedURL,
		ExpiresAt:         intent.ExpiresAt,
		Status:            string(intent.Status),
		Cause:             intent.Cause,
		Attempts:          intent.Attempts,
		CreatedAt:         intent.CreatedAt,
		LastTransitionAt:  intent.LastTransitionAt,
		UpdatedAt:         intent.UpdatedAt,
	}
}

func (s snapshot) intent() *entity.PaymentIntent {
	return &entity.PaymentIntent{
		ID:                s.ID,
		ExternalID:        s.ExternalID,
		EntityType:        entity.EntityType(s.EntityType),
		EntityID:          s.EntityID,
		AmountCents:       s.AmountCents,
		Currency:          s.Currency,
		PayerEmail:        s.PayerEmail,
		Description:       s.Description,
		Provider:          s.Provider,
		ProviderInvoiceID: s.ProviderInvoiceID,
		HostedURL:         s.HostedURL,
		ExpiresAt:         s.ExpiresAt,
		Status:            entity.IntentStatus(s.Status),
		Cause:             s.Cause,
		Attempts:          s.Attempts,
		CreatedAt:         s.CreatedAt,
		LastTransitionAt:  s.LastTransitionAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

func (c *StatusCache) key(entityType entity.EntityType, entityID string) string {
	return c.prefix + entity.ActiveKey(entityType, entityID)
}

// GetOrLoad returns the cached snapshot or calls load once for concurrent
// misses on the same entity. A nil intent from load is not cached.
func (c *StatusCache) GetOrLoad(
	ctx context.Context,
	entityType entity.EntityType,
	entityID string,
	load func(ctx context.Context) (*entity.PaymentIntent, error),
) (*entity.PaymentIntent, error) {
	key := c.key(entityType, entityID)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var snap snapshot
		if jsonErr := json.Unmarshal(data, &snap); jsonErr == nil {
			return snap.intent(), nil
		}
		c.logger.WithField("key", key).Warn("status_cache_corrupt_entry")
	case errors.Is(err, redis.Nil):
	default:
		c.logger.WithError(err).WithField("key", key).Warn("status_cache_get_failed")
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Read before loading so an Invalidate racing the load wins.
		gen, genErr := generation(ctx, c.client, key)
		intent, err := load(ctx)
		if err != nil || intent == nil {
			return intent, err
		}
		if genErr == nil {
			c.store(ctx, key, gen, intent)
		}
		return intent, nil
	})
	if err != nil {
		return nil, err
	}
	intent, _ := v.(*entity.PaymentIntent)
	if intent == nil {
		return nil, nil
	}
	clone := *intent
	return &clone, nil
}

// Invalidate drops the snapshot and bumps the entity's generation, so loads
// already in flight do not write back what they read.
func (c *StatusCache) Invalidate(ctx context.Context, entityType entity.EntityType, entityID string) error {
	key := c.key(entityType, entityID)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, key+generationSuffix)
		pipe.Expire(ctx, key+generationSuffix, generationTTL)
		pipe.Del(ctx, key)
		return nil
	})
	return err
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func generation(ctx context.Context, r stringGetter, key string) (int64, error) {
	gen, err := r.Get(ctx, key+generationSuffix).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *StatusCache) store(ctx context.Context, key string, gen int64, intent *entity.PaymentIntent) {
	data, err := json.Marshal(toSnapshot(intent))
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("status_cache_encode_failed")
		return
	}

	ttl := c.pendingTTL
	if intent.Status.Terminal() {
		ttl = c.terminalTTL
	}

	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := generation(ctx, tx, key)
		if err != nil {
			return err
		}
		if current != gen {
			return errStaleLoad
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			return nil
		})
		return err
	}, key+generationSuffix)

	switch {
	case err == nil:
	case errors.Is(err, errStaleLoad), errors.Is(err, redis.TxFailedErr):
		c.logger.WithField("key", key).Debug("status_cache_stale_load_skipped")
	default:
		c.logger.WithError(err).WithField("key", key).Warn("status_cache_set_failed")
	}
}
