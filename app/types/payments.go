package types

import (
	"errors"
	"io"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

const HeaderCallbackToken = "X-Callback-Token"

type CreateInvoiceRequest struct {
	EntityType          string          `json:"entityType"`
	EntityId            string          `json:"entityId"`
	Amount              decimal.Decimal `json:"amount"`
	PayerEmail          string          `json:"payerEmail"`
	Description         string          `json:"description"`
	VehicleTypeId       string          `json:"vehicleTypeId,omitempty"`
	MotorcycleSubtypeId string          `json:"motorcycleSubtypeId,omitempty"`
	SuccessRedirectUrl  string          `json:"successRedirectUrl,omitempty"`
	FailureRedirectUrl  string          `json:"failureRedirectUrl,omitempty"`
}

func (r *CreateInvoiceRequest) GetEntityType() string {
	if r == nil {
		return ""
	}
	return r.EntityType
}

func (r *CreateInvoiceRequest) GetEntityId() string {
	if r == nil {
		return ""
	}
	return r.EntityId
}

func (r *CreateInvoiceRequest) GetAmount() decimal.Decimal {
	if r == nil {
		return decimal.Zero
	}
	return r.Amount
}

func (r *CreateInvoiceRequest) GetPayerEmail() string {
	if r == nil {
		return ""
	}
	return r.PayerEmail
}

func (r *CreateInvoiceRequest) GetDescription() string {
	if r == nil {
		return ""
	}
	return r.Description
}

func (r *CreateInvoiceRequest) GetVehicleTypeId() string {
	if r == nil {
		return ""
	}
	return r.VehicleTypeId
}

func (r *CreateInvoiceRequest) GetMotorcycleSubtypeId() string {
	if r == nil {
		return ""
	}
	return r.MotorcycleSubtypeId
}

func (r *CreateInvoiceRequest) GetSuccessRedirectUrl() string {
	if r == nil {
		return ""
	}
	return r.SuccessRedirectUrl
}

func (r *CreateInvoiceRequest) GetFailureRedirectUrl() string {
	if r == nil {
		return ""
	}
	return r.FailureRedirectUrl
}

func NewCreateInvoiceRequestFromContext(ctx echo.Context) (*CreateInvoiceRequest, error) {
	var body CreateInvoiceRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	body.Normalize()
	return &body, nil
}

// Normalize trims every field and lower-cases the entity type.
func (r *CreateInvoiceRequest) Normalize() {
	r.EntityType = strings.ToLower(strings.TrimSpace(r.EntityType))
	r.EntityId = strings.TrimSpace(r.EntityId)
	r.PayerEmail = strings.TrimSpace(r.PayerEmail)
	r.Description = strings.TrimSpace(r.Description)
	r.VehicleTypeId = strings.TrimSpace(r.VehicleTypeId)
	r.MotorcycleSubtypeId = strings.TrimSpace(r.MotorcycleSubtypeId)
	r.SuccessRedirectUrl = strings.TrimSpace(r.SuccessRedirectUrl)
	r.FailureRedirectUrl = strings.TrimSpace(r.FailureRedirectUrl)
}

func (r *CreateInvoiceRequest) Validate() error {
	if strings.TrimSpace(r.GetEntityType()) == "" {
		return errors.New("entityType is required")
	}
	if strings.TrimSpace(r.GetEntityId()) == "" {
		return errors.New("entityId is required")
	}
	if !r.GetAmount().IsPositive() {
		return errors.New("amount must be > 0")
	}
	if email := r.GetPayerEmail(); email != "" && !strings.Contains(email, "@") {
		return errors.New("payerEmail is invalid")
	}
	if r.GetMotorcycleSubtypeId() != "" && r.GetVehicleTypeId() == "" {
		return errors.New("motorcycleSubtypeId requires vehicleTypeId")
	}
	return nil
}

// PaymentStatusRequest addresses the latest intent of a booking or subscription.
type PaymentStatusRequest struct {
	EntityType string `json:"entityType"`
	EntityId   string `json:"entityId"`
}

func (r *PaymentStatusRequest) GetEntityType() string {
	if r == nil {
		return ""
	}
	return r.EntityType
}

func (r *PaymentStatusRequest) GetEntityId() string {
	if r == nil {
		return ""
	}
	return r.EntityId
}

func NewPaymentStatusRequestFromContext(ctx echo.Context) (*PaymentStatusRequest, error) {
	return &PaymentStatusRequest{
		EntityType: strings.ToLower(strings.TrimSpace(ctx.Param("entityType"))),
		EntityId:   strings.TrimSpace(ctx.Param("entityId")),
	}, nil
}

func (r *PaymentStatusRequest) Validate() error {
	switch strings.ToLower(strings.TrimSpace(r.GetEntityType())) {
	case "booking", "subscription":
	default:
		return errors.New("entityType must be booking or subscription")
	}
	if strings.TrimSpace(r.GetEntityId()) == "" {
		return errors.New("entityId is required")
	}
	return nil
}

// WebhookRequest carries the raw callback body; the gateway parses it.
type WebhookRequest struct {
	CallbackToken string
	Payload       []byte
}

func (r *WebhookRequest) GetCallbackToken() string {
	if r == nil {
		return ""
	}
	return r.CallbackToken
}

func (r *WebhookRequest) GetPayload() []byte {
	if r == nil {
		return nil
	}
	return r.Payload
}

func NewWebhookRequestFromContext(ctx echo.Context) (*WebhookRequest, error) {
	rawBody, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return nil, err
	}
	return &WebhookRequest{
		CallbackToken: strings.TrimSpace(ctx.Request().Header.Get(HeaderCallbackToken)),
		Payload:       rawBody,
	}, nil
}

type CreateInvoiceResponse struct {
	Success   bool    `json:"success"`
	IntentId  string  `json:"intentId"`
	InvoiceId string  `json:"invoiceId"`
	HostedUrl string  `json:"hostedUrl"`
	Expiry    *string `json:"expiry"`
	Status    string  `json:"status"`
	Amount    string  `json:"amount"`
	Currency  string  `json:"currency"`
}

type PaymentStatusResponse struct {
	Success    bool    `json:"success"`
	EntityType string  `json:"entityType"`
	EntityId   string  `json:"entityId"`
	IntentId   string  `json:"intentId"`
	Status     string  `json:"status"`
	Cause      string  `json:"cause,omitempty"`
	InvoiceId  string  `json:"invoiceId,omitempty"`
	HostedUrl  string  `json:"hostedUrl,omitempty"`
	Expiry     *string `json:"expiry"`
	Amount     string  `json:"amount"`
	Currency   string  `json:"currency"`
	Attempts   int32   `json:"attempts"`
	UpdatedAt  string  `json:"updatedAt"`
}

type PollResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	EntityType string `json:"entityType"`
	EntityId   string `json:"entityId"`
}

type WebhookResponse struct {
	Received    bool   `json:"received"`
	Disposition string `json:"disposition"`
}

type HealthResponse struct {
	Status            string `json:"status"`
	RejectedCallbacks int64  `json:"rejected_callbacks"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}
