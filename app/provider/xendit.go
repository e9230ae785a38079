package provider

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const defaultXenditBaseURL = "https://api.xendit.co"

type XenditConfig struct {
	SecretKey       string
	CallbackToken   string
	BaseURL         string
	InvoiceDuration time.Duration
	HTTPTimeout     time.Duration
}

type XenditGateway struct {
	cfg    XenditConfig
	client *http.Client
}

func NewXenditGateway(cfg XenditConfig) *XenditGateway {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultXenditBaseURL
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.InvoiceDuration <= 0 {
		cfg.InvoiceDuration = 24 * time.Hour
	}

	return &XenditGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (g *XenditGateway) Code() int32 {
	return CodeXendit
}

func (g *XenditGateway) Name() string {
	return "xendit"
}

type xenditInvoice struct {
	ID         string `json:"id"`
	ExternalID string `json:"external_id"`
	Status     string `json:"status"`
	InvoiceURL string `json:"invoice_url"`
	ExpiryDate string `json:"expiry_date"`
}

func (g *XenditGateway) CreateInvoice(ctx context.Context, input *CreateInvoiceInput) (*CreateInvoiceOutput, error) {
	body := map[string]interface{}{
		"external_id":      input.ExternalID,
		"amount":           json.Number(decimal.New(input.AmountCents, -2).StringFixed(2)),
		"currency":         strings.ToUpper(input.Currency),
		"invoice_duration": int64(g.cfg.InvoiceDuration.Seconds()),
	}
	if s := strings.TrimSpace(input.PayerEmail); s != "" {
		body["payer_email"] = s
	}
	if s := strings.TrimSpace(input.Description); s != "" {
		body["description"] = s
	}
	if s := strings.TrimSpace(input.SuccessRedirectURL); s != "" {
		body["success_redirect_url"] = s
	}
	if s := strings.TrimSpace(input.FailureRedirectURL); s != "" {
		body["failure_redirect_url"] = s
	}

	raw, err := g.do(ctx, http.MethodPost, "/v2/invoices", body)
	if err != nil {
		return nil, err
	}

	var invoice xenditInvoice
	if err := json.Unmarshal(raw, &invoice); err != nil {
		return nil, &GatewayError{Kind: GatewayErrorTransport, Err: err}
	}
	return invoiceOutput(invoice)
}

func (g *XenditGateway) GetInvoiceStatus(ctx context.Context, providerInvoiceID string) (Outcome, error) {
	providerInvoiceID = strings.TrimSpace(providerInvoiceID)
	if providerInvoiceID == "" {
		return "", ErrInvoiceNotFound
	}

	raw, err := g.do(ctx, http.MethodGet, "/v2/invoices/"+url.PathEscape(providerInvoiceID), nil)
	if err != nil {
		return "", err
	}

	var invoice xenditInvoice
	if err := json.Unmarshal(raw, &invoice); err != nil {
		return "", &GatewayError{Kind: GatewayErrorTransport, Err: err}
	}
	return MapStatus(invoice.Status), nil
}

func (g *XenditGateway) FindInvoiceByExternalID(ctx context.Context, externalID string) (*CreateInvoiceOutput, error) {
	query := url.Values{}
	query.Set("external_id", strings.TrimSpace(externalID))

	raw, err := g.do(ctx, http.MethodGet, "/v2/invoices?"+query.Encode(), nil)
	if err != nil {
		var gwErr *GatewayError
		if errors.As(err, &gwErr) && gwErr.HTTPStatus == http.StatusNotFound {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}

	var invoices []xenditInvoice
	if err := json.Unmarshal(raw, &invoices); err != nil {
		return nil, &GatewayError{Kind: GatewayErrorTransport, Err: err}
	}
	for _, invoice := range invoices {
		if invoice.ExternalID == externalID {
			return invoiceOutput(invoice)
		}
	}
	return nil, ErrInvoiceNotFound
}

func (g *XenditGateway) ExpireInvoice(ctx context.Context, providerInvoiceID string) error {
	_, err := g.do(ctx, http.MethodPost, "/invoices/"+url.PathEscape(strings.TrimSpace(providerInvoiceID))+"/expire!", nil)
	return err
}

// VerifyCallback compares the X-Callback-Token header with the configured token.
func (g *XenditGateway) VerifyCallback(token string) bool {
	expected := strings.TrimSpace(g.cfg.CallbackToken)
	token = strings.TrimSpace(token)
	if expected == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(token)) == 1
}

func (g *XenditGateway) ParseCallback(payload []byte) (*CallbackEvent, error) {
	var envelope struct {
		ID         string `json:"id"`
		ExternalID string `json:"external_id"`
		Status     string `json:"status"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	if strings.TrimSpace(envelope.ID) == "" || strings.TrimSpace(envelope.Status) == "" {
		return nil, fmt.Errorf("%w: id and status are required", ErrMalformedCallback)
	}

	return &CallbackEvent{
		ProviderInvoiceID: strings.TrimSpace(envelope.ID),
		ExternalID:        strings.TrimSpace(envelope.ExternalID),
		ProviderStatus:    strings.ToUpper(strings.TrimSpace(envelope.Status)),
		Outcome:           MapStatus(envelope.Status),
	}, nil
}

func (g *XenditGateway) do(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	if strings.TrimSpace(g.cfg.SecretKey) == "" {
		return nil, &GatewayError{Kind: GatewayErrorUnconfigured, Message: "xendit secret key is not configured", Err: ErrGatewayNotConfigured}
	}

	var reader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(g.cfg.SecretKey, "")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	if resp.StatusCode >= 400 {
		return nil, classifyStatus(resp.StatusCode, body)
	}

	return body, nil
}

func invoiceOutput(invoice xenditInvoice) (*CreateInvoiceOutput, error) {
	id := strings.TrimSpace(invoice.ID)
	if id == "" {
		return nil, &GatewayError{Kind: GatewayErrorTransport, Message: "xendit invoice id missing"}
	}

	output := &CreateInvoiceOutput{
		ProviderInvoiceID: id,
		HostedURL:         strings.TrimSpace(invoice.InvoiceURL),
	}
	if s := strings.TrimSpace(invoice.ExpiryDate); s != "" {
		if expiry, err := time.Parse(time.RFC3339, s); err == nil {
			expiry = expiry.UTC()
			output.ExpiresAt = &expiry
		}
	}
	return output, nil
}
