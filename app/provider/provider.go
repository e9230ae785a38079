package provider

import (
	"context"
	"strings"
	"time"
)

const (
	CodeXendit int32 = 1
)

// Outcome is the engine's closed view of a provider invoice status.
type Outcome string

const (
	OutcomePaid         Outcome = "paid"
	OutcomeFailed       Outcome = "failed"
	OutcomeExpired      Outcome = "expired"
	OutcomeStillPending Outcome = "still_pending"
)

func (o Outcome) Definitive() bool {
	return o == OutcomePaid || o == OutcomeFailed || o == OutcomeExpired
}

// statusOutcomes is the only place provider status strings are interpreted.
var statusOutcomes = map[string]Outcome{
	"PAID":      OutcomePaid,
	"SETTLED":   OutcomePaid,
	"COMPLETED": OutcomePaid,
	"SUCCEEDED": OutcomePaid,
	"ACTIVE":    OutcomePaid,
	"EXPIRED":   OutcomeExpired,
	"FAILED":    OutcomeFailed,
	"VOIDED":    OutcomeFailed,
	"STOPPED":   OutcomeFailed,
	"CANCELLED": OutcomeFailed,
	"CANCELED":  OutcomeFailed,
	"PENDING":   OutcomeStillPending,
	"UNPAID":    OutcomeStillPending,
	"PAUSED":    OutcomeStillPending,
}

func MapStatus(raw string) Outcome {
	if outcome, ok := statusOutcomes[strings.ToUpper(strings.TrimSpace(raw))]; ok {
		return outcome
	}
	return OutcomeStillPending
}

type CreateInvoiceInput struct {
	ExternalID  string
	AmountCents int64
	Currency    string
	PayerEmail  string
	Description string

	SuccessRedirectURL string
	FailureRedirectURL string
}

type CreateInvoiceOutput struct {
	ProviderInvoiceID string
	HostedURL         string
	ExpiresAt         *time.Time
}

type CallbackEvent struct {
	ProviderInvoiceID string
	ExternalID        string
	ProviderStatus    string
	Outcome           Outcome
}

type Gateway interface {
	Code() int32
	Name() string
	CreateInvoice(ctx context.Context, input *CreateInvoiceInput) (*CreateInvoiceOutput, error)
	GetInvoiceStatus(ctx context.Context, providerInvoiceID string) (Outcome, error)
	FindInvoiceByExternalID(ctx context.Context, externalID string) (*CreateInvoiceOutput, error)
	ExpireInvoice(ctx context.Context, providerInvoiceID string) error
	VerifyCallback(token string) bool
	ParseCallback(payload []byte) (*CallbackEvent, error)
}
