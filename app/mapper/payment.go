package mapper

import (
	"time"

	"github.com/vibast-solutions/ms-go-carwash-payments/app/entity"
	"github.com/vibast-solutions/ms-go-carwash-payments/app/pricing"
	"github.com/vibast-solutions/ms-go-carwash-payments/app/types"
)

func IntentToCreateResponse(item *entity.PaymentIntent) *types.CreateInvoiceResponse {
	if item == nil {
		return nil
	}

	return &types.CreateInvoiceResponse{
		Success:   true,
		IntentId:  item.ID,
		InvoiceId: derefString(item.ProviderInvoiceID),
		HostedUrl: derefString(item.HostedURL),
		Expiry:    formatTime(item.ExpiresAt),
		Status:    string(item.Status),
		Amount:    pricing.FromCents(item.AmountCents).StringFixed(2),
		Currency:  item.Currency,
	}
}

func IntentToStatusResponse(item *entity.PaymentIntent) *types.PaymentStatusResponse {
	if item == nil {
		return nil
	}

	return &types.PaymentStatusResponse{
		Success:    true,
		EntityType: string(item.EntityType),
		EntityId:   item.EntityID,
		IntentId:   item.ID,
		Status:     string(item.Status),
		Cause:      derefString(item.Cause),
		InvoiceId:  derefString(item.ProviderInvoiceID),
		HostedUrl:  derefString(item.HostedURL),
		Expiry:     formatTime(item.ExpiresAt),
		Amount:     pricing.FromCents(item.AmountCents).StringFixed(2),
		Currency:   item.Currency,
		Attempts:   item.Attempts,
		UpdatedAt:  item.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func formatTime(v *time.Time) *string {
	if v == nil {
		return nil
	}
	s := v.UTC().Format(time.RFC3339)
	return &s
}
