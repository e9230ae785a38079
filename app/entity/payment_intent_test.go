package entity

import (
	"testing"
	"time"
)

func TestParseEntityType(t *testing.T) {
	cases := map[string]EntityType{
		"booking":        EntityTypeBooking,
		" Subscription ": EntityTypeSubscription,
		"BOOKING":        EntityTypeBooking,
	}
	for raw, want := range cases {
		got, ok := ParseEntityType(raw)
		if !ok || got != want {
			t.Fatalf("ParseEntityType(%q) = %q, %v", raw, got, ok)
		}
	}
	if _, ok := ParseEntityType("invoice"); ok {
		t.Fatal("expected invoice to be rejected")
	}
}

func TestExternalIDPrefix(t *testing.T) {
	if got := EntityTypeBooking.ExternalIDPrefix(); got != "BOOKING" {
		t.Fatalf("unexpected prefix %q", got)
	}
	if got := EntityTypeSubscription.ExternalIDPrefix(); got != "SUBSCRIPTION" {
		t.Fatalf("unexpected prefix %q", got)
	}
}

func TestCanTransitionTo(t *testing.T) {
	allowed := []struct{ from, to IntentStatus }{
		{IntentStatusCreated, IntentStatusPending},
		{IntentStatusCreated, IntentStatusFailed},
		{IntentStatusPending, IntentStatusPaid},
		{IntentStatusPending, IntentStatusFailed},
		{IntentStatusPending, IntentStatusExpired},
	}
	for _, tc := range allowed {
		if !tc.from.CanTransitionTo(tc.to) {
			t.Fatalf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to IntentStatus }{
		{IntentStatusCreated, IntentStatusPaid},
		{IntentStatusCreated, IntentStatusExpired},
		{IntentStatusPending, IntentStatusCreated},
		{IntentStatusPending, IntentStatusPending},
		{IntentStatusPaid, IntentStatusFailed},
		{IntentStatusFailed, IntentStatusPaid},
		{IntentStatusExpired, IntentStatusPending},
	}
	for _, tc := range denied {
		if tc.from.CanTransitionTo(tc.to) {
			t.Fatalf("expected %s -> %s to be denied", tc.from, tc.to)
		}
	}
}

func TestTerminal(t *testing.T) {
	if IntentStatusCreated.Terminal() || IntentStatusPending.Terminal() {
		t.Fatal("created and pending are not terminal")
	}
	for _, s := range []IntentStatus{IntentStatusPaid, IntentStatusFailed, IntentStatusExpired} {
		if !s.Terminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
}

func TestIntentHelpers(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	blank := "  "
	invoice := "inv_1"
	expiry := now

	intent := &PaymentIntent{}
	if intent.HasInvoice() || intent.InvoiceExpired(now) {
		t.Fatal("empty intent has no invoice and no expiry")
	}

	intent.ProviderInvoiceID = &blank
	if intent.HasInvoice() {
		t.Fatal("blank invoice id does not count")
	}

	intent.ProviderInvoiceID = &invoice
	intent.ExpiresAt = &expiry
	if !intent.HasInvoice() {
		t.Fatal("expected invoice")
	}
	if !intent.InvoiceExpired(now) {
		t.Fatal("expiry equal to now counts as expired")
	}
	if intent.InvoiceExpired(now.Add(-time.Second)) {
		t.Fatal("not expired before expiry")
	}

	if got := ActiveKey(EntityTypeBooking, "42"); got != "booking:42" {
		t.Fatalf("unexpected active key %q", got)
	}
}
