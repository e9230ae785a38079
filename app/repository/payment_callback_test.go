package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vibast-solutions/ms-go-carwash-payments/app/entity"
)

func TestPaymentCallbackLifecycle(t *testing.T) {
	repo := NewPaymentCallbackRepository(newTestDB(t))
	ctx := context.Background()

	invoiceID := "inv_unknown"
	unmatched := &entity.PaymentCallback{
		Provider:          "xendit",
		ProviderInvoiceID: &invoiceID,
		ProviderStatus:    "PAID",
		PayloadJSON:       `{"id":"inv_unknown","status":"PAID"}`,
		Status:            entity.CallbackStatusUnmatched,
		CreatedAt:         baseTime,
		UpdatedAt:         baseTime,
	}
	if err := repo.Create(ctx, unmatched); err != nil {
		t.Fatalf("create unmatched: %v", err)
	}
	if unmatched.ID == 0 {
		t.Fatal("expected generated id")
	}

	processed := &entity.PaymentCallback{
		Provider:       "xendit",
		ProviderStatus: "PAID",
		PayloadJSON:    `{}`,
		Status:         entity.CallbackStatusProcessed,
		CreatedAt:      baseTime,
		UpdatedAt:      baseTime,
	}
	if err := repo.Create(ctx, processed); err != nil {
		t.Fatalf("create processed: %v", err)
	}

	items, err := repo.ListUnmatched(ctx, 10)
	if err != nil {
		t.Fatalf("list unmatched: %v", err)
	}
	if len(items) != 1 || items[0].ID != unmatched.ID || items[0].ProviderInvoiceID == nil || *items[0].ProviderInvoiceID != invoiceID {
		t.Fatalf("unexpected unmatched list: %+v", items)
	}

	intentID := "intent-1"
	if err := repo.MarkStatus(ctx, unmatched.ID, &intentID, entity.CallbackStatusReplayed, nil, baseTime.Add(time.Minute)); err != nil {
		t.Fatalf("mark status: %v", err)
	}
	stored, err := repo.FindByID(ctx, unmatched.ID)
	if err != nil || stored == nil {
		t.Fatalf("find callback: %v", err)
	}
	if stored.Status != entity.CallbackStatusReplayed || stored.IntentID == nil || *stored.IntentID != intentID {
		t.Fatalf("unexpected stored callback: %+v", stored)
	}

	items, err = repo.ListUnmatched(ctx, 10)
	if err != nil || len(items) != 0 {
		t.Fatalf("expected no unmatched callbacks left, got %+v %v", items, err)
	}

	if err := repo.MarkStatus(ctx, 9999, nil, entity.CallbackStatusReplayed, nil, baseTime); !errors.Is(err, ErrCallbackNotFound) {
		t.Fatalf("expected ErrCallbackNotFound, got %v", err)
	}
}

func TestListUnmatchedRotatesReplayedDeliveries(t *testing.T) {
	repo := NewPaymentCallbackRepository(newTestDB(t))
	ctx := context.Background()

	ids := make([]uint64, 0, 2)
	for _, invoiceID := range []string{"inv_a", "inv_b"} {
		invoiceID := invoiceID
		callback := &entity.PaymentCallback{
			Provider:          "xendit",
			ProviderInvoiceID: &invoiceID,
			ProviderStatus:    "PAID",
			PayloadJSON:       `{}`,
			Status:            entity.CallbackStatusUnmatched,
			CreatedAt:         baseTime,
			UpdatedAt:         baseTime,
		}
		if err := repo.Create(ctx, callback); err != nil {
			t.Fatalf("create callback: %v", err)
		}
		ids = append(ids, callback.ID)
	}

	first, err := repo.ListUnmatched(ctx, 1)
	if err != nil || len(first) != 1 || first[0].ID != ids[0] {
		t.Fatalf("expected oldest callback first, got %+v %v", first, err)
	}

	reason := "unknown invoice"
	if err := repo.MarkStatus(ctx, ids[0], nil, entity.CallbackStatusUnmatched, &reason, baseTime.Add(time.Minute)); err != nil {
		t.Fatalf("mark status: %v", err)
	}

	next, err := repo.ListUnmatched(ctx, 1)
	if err != nil || len(next) != 1 || next[0].ID != ids[1] {
		t.Fatalf("expected the untried callback next, got %+v %v", next, err)
	}
}
