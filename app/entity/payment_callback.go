package entity

import "time"

const (
	CallbackStatusProcessed int32 = 10
	CallbackStatusUnmatched int32 = 20
	CallbackStatusConflict  int32 = 30
	CallbackStatusRejected  int32 = 40
	CallbackStatusReplayed  int32 = 50
)

// PaymentCallback records an authenticated gateway delivery. Unmatched rows are
// the dead letters replayed once the invoice resolves to a local intent.
type PaymentCallback struct {
	ID uint64

	IntentID *string

	Provider          string
	ProviderInvoiceID *string
	ProviderStatus    string
	PayloadJSON       string
	Status            int32
	Error             *string

	CreatedAt time.Time
	UpdatedAt time.Time
}
