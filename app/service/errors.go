package service

import (
	"errors"
	"fmt"

	"github.com/vibast-solutions/ms-go-carwash-payments/app/entity"
)

var (
	ErrInvalidRequest       = errors.New("invalid request")
	ErrIntentNotFound       = errors.New("payment intent not found")
	ErrEntityNotFound       = errors.New("booking or subscription not found")
	ErrAlreadyPaid          = errors.New("entity is already paid")
	ErrCreationInProgress   = errors.New("invoice creation already in progress")
	ErrGatewayUnavailable   = errors.New("payment gateway unavailable")
	ErrGatewayRejected      = errors.New("payment gateway rejected the request")
	ErrCallbackUnauthorized = errors.New("callback token mismatch")
	ErrProviderUnsupported  = errors.New("provider is not supported")
)

// ConflictError reports two definitive but different outcomes for one intent.
// It is logged and stored for operator review, never returned to API consumers.
type ConflictError struct {
	IntentID  string
	Stored    entity.IntentStatus
	Attempted entity.IntentStatus
	Source    entity.Source

	StoredInvoiceID    string
	AttemptedInvoiceID string
}

func (e *ConflictError) Error() string {
	if e.AttemptedInvoiceID != "" {
		return fmt.Sprintf("intent %s already bound to invoice %s, got %s", e.IntentID, e.StoredInvoiceID, e.AttemptedInvoiceID)
	}
	return fmt.Sprintf("intent %s is %s, %s reported %s", e.IntentID, e.Stored, e.Source, e.Attempted)
}
