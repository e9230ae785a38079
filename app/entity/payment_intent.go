package entity

import (
	"strings"
	"time"
)

type EntityType string

const (
	EntityTypeBooking      EntityType = "booking"
	EntityTypeSubscription EntityType = "subscription"
)

func ParseEntityType(raw string) (EntityType, bool) {
	switch EntityType(strings.ToLower(strings.TrimSpace(raw))) {
	case EntityTypeBooking:
		return EntityTypeBooking, true
	case EntityTypeSubscription:
		return EntityTypeSubscription, true
	default:
		return "", false
	}
}

// ExternalIDPrefix is the correlation prefix sent to the gateway.
func (t EntityType) ExternalIDPrefix() string {
	return strings.ToUpper(string(t))
}

type IntentStatus string

const (
	IntentStatusCreated IntentStatus = "created"
	IntentStatusPending IntentStatus = "pending"
	IntentStatusPaid    IntentStatus = "paid"
	IntentStatusFailed  IntentStatus = "failed"
	IntentStatusExpired IntentStatus = "expired"
)

func (s IntentStatus) Terminal() bool {
	switch s {
	case IntentStatusPaid, IntentStatusFailed, IntentStatusExpired:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the lifecycle allows moving from s to target.
// created may only fail directly when the gateway never acknowledged the invoice.
func (s IntentStatus) CanTransitionTo(target IntentStatus) bool {
	switch s {
	case IntentStatusCreated:
		return target == IntentStatusPending || target == IntentStatusFailed
	case IntentStatusPending:
		return target.Terminal()
	default:
		return false
	}
}

const (
	CausePaid               = "paid"
	CauseProviderFailed     = "provider_failed"
	CauseProviderExpired    = "provider_expired"
	CauseGatewayUnavailable = "gateway_unavailable"
	CauseInvalidRequest     = "invalid_request"
	CauseInvoiceExpired     = "invoice_expired"
	CauseSuperseded         = "superseded"
)

type PaymentIntent struct {
	ID         string
	ExternalID string

	EntityType EntityType
	EntityID   string

	AmountCents int64
	Currency    string
	PayerEmail  string
	Description string

	Provider          int32
	ProviderInvoiceID *string
	HostedURL         *string
	ExpiresAt         *time.Time

	Status   IntentStatus
	Cause    *string
	Attempts int32

	CreatedAt        time.Time
	LastTransitionAt time.Time
	UpdatedAt        time.Time
}

// ActiveKey is the uniqueness key held while the intent is non-terminal.
func ActiveKey(entityType EntityType, entityID string) string {
	return string(entityType) + ":" + entityID
}

func (p *PaymentIntent) HasInvoice() bool {
	return p.ProviderInvoiceID != nil && strings.TrimSpace(*p.ProviderInvoiceID) != ""
}

func (p *PaymentIntent) InvoiceExpired(now time.Time) bool {
	return p.ExpiresAt != nil && !p.ExpiresAt.After(now)
}
