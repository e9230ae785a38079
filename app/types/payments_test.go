package types

import (
	"bytes"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

func TestNewCreateInvoiceRequestFromContextNormalizes(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest("POST", "/payment/invoices", bytes.NewBufferString(`{"entityType":" Booking ","entityId":" 42 ","amount":"500.00","payerEmail":"driver@example.com","vehicleTypeId":" suv "}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	parsed, err := NewCreateInvoiceRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if parsed.GetEntityType() != "booking" || parsed.GetEntityId() != "42" {
		t.Fatalf("unexpected entity: %+v", parsed)
	}
	if !parsed.GetAmount().Equal(decimal.RequireFromString("500")) {
		t.Fatalf("unexpected amount: %s", parsed.GetAmount())
	}
	if parsed.GetVehicleTypeId() != "suv" {
		t.Fatalf("expected trimmed vehicle type, got %q", parsed.GetVehicleTypeId())
	}
	if err := parsed.Validate(); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}
}

func TestNewCreateInvoiceRequestAcceptsNumericAmount(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest("POST", "/payment/invoices", bytes.NewBufferString(`{"entityType":"subscription","entityId":"7","amount":1200.5}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	ctx := e.NewContext(req, httptest.NewRecorder())

	parsed, err := NewCreateInvoiceRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if parsed.GetAmount().StringFixed(2) != "1200.50" {
		t.Fatalf("unexpected amount: %s", parsed.GetAmount())
	}
}

func TestCreateInvoiceValidate(t *testing.T) {
	cases := []struct {
		name string
		req  *CreateInvoiceRequest
	}{
		{"missing entity type", &CreateInvoiceRequest{EntityId: "42", Amount: decimal.NewFromInt(1)}},
		{"missing entity id", &CreateInvoiceRequest{EntityType: "booking", Amount: decimal.NewFromInt(1)}},
		{"zero amount", &CreateInvoiceRequest{EntityType: "booking", EntityId: "42"}},
		{"negative amount", &CreateInvoiceRequest{EntityType: "booking", EntityId: "42", Amount: decimal.NewFromInt(-5)}},
		{"bad email", &CreateInvoiceRequest{EntityType: "booking", EntityId: "42", Amount: decimal.NewFromInt(1), PayerEmail: "nope"}},
		{"subtype without type", &CreateInvoiceRequest{EntityType: "booking", EntityId: "42", Amount: decimal.NewFromInt(1), MotorcycleSubtypeId: "big"}},
	}
	for _, tc := range cases {
		if err := tc.req.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestPaymentStatusRequestFromContext(t *testing.T) {
	e := echo.New()
	ctx := e.NewContext(httptest.NewRequest("GET", "/payment/status/Booking/42", nil), httptest.NewRecorder())
	ctx.SetParamNames("entityType", "entityId")
	ctx.SetParamValues("Booking", "42")

	parsed, err := NewPaymentStatusRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := parsed.Validate(); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}

	bad := &PaymentStatusRequest{EntityType: "invoice", EntityId: "1"}
	if err := bad.Validate(); err == nil {
		t.Fatal("expected entity type validation error")
	}
}

func TestNewWebhookRequestFromContextKeepsRawBody(t *testing.T) {
	e := echo.New()
	body := `{"id":"inv_1","status":"PAID"}`
	req := httptest.NewRequest("POST", "/payment/webhook", bytes.NewBufferString(body))
	req.Header.Set(HeaderCallbackToken, " secret ")
	ctx := e.NewContext(req, httptest.NewRecorder())

	parsed, err := NewWebhookRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if parsed.GetCallbackToken() != "secret" {
		t.Fatalf("unexpected token %q", parsed.GetCallbackToken())
	}
	if string(parsed.GetPayload()) != body {
		t.Fatalf("payload must be passed through untouched, got %s", parsed.GetPayload())
	}
}

func TestNilGettersAreSafe(t *testing.T) {
	var req *CreateInvoiceRequest
	if req.GetEntityType() != "" || !req.GetAmount().IsZero() {
		t.Fatal("nil request getters must return zero values")
	}
	var hook *WebhookRequest
	if hook.GetPayload() != nil {
		t.Fatal("nil webhook getters must return zero values")
	}
}
