//go:build e2e
// +build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	paymentgrpc "github.com/vibast-solutions/ms-go-carwash-payments/app/grpc"
	"github.com/vibast-solutions/ms-go-carwash-payments/app/types"
)

const (
	defaultPaymentsHTTPBase = "http://localhost:48080"
	defaultPaymentsGRPCAddr = "localhost:49090"
)

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

type httpClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func newHTTPClient(baseURL, apiKey string) *httpClient {
	return &httpClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *httpClient) do(t *testing.T, method, path string, body []byte, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request failed: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", fmt.Sprintf("e2e-http-%d", time.Now().UnixNano()))
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("http request failed: %v", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response failed: %v", err)
	}
	return resp, bodyBytes
}

func (c *httpClient) doJSON(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var data []byte
	if body != nil {
		var err error
		if data, err = json.Marshal(body); err != nil {
			t.Fatalf("json marshal failed: %v", err)
		}
	}
	headers := map[string]string{}
	if c.apiKey != "" {
		headers["X-API-Key"] = c.apiKey
	}
	return c.do(t, method, path, data, headers)
}

func waitForHTTP(baseURL string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: 2 * time.Second}
	for time.Now().Before(deadline) {
		resp, err := client.Get(baseURL + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("http service not ready at %s", baseURL)
}

func waitForGRPC(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("grpc service not ready at %s", addr)
}

func dialPaymentsGRPC(t *testing.T, addr, apiKey string) *grpc.ClientConn {
	t.Helper()
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
			ctx = metadata.AppendToOutgoingContext(ctx, "x-request-id", fmt.Sprintf("e2e-grpc-%d", time.Now().UnixNano()))
			if apiKey != "" {
				ctx = metadata.AppendToOutgoingContext(ctx, "x-api-key", apiKey)
			}
			return invoker(ctx, method, req, reply, cc, opts...)
		}),
	)
	if err != nil {
		t.Fatalf("grpc dial failed: %v", err)
	}
	return conn
}

// TestPaymentsE2E runs against a started stack. PAYMENTS_E2E_BOOKING_ID names a
// seeded unpaid booking and enables the invoice and webhook flow, which needs
// XENDIT_BASE_URL pointing at a sandbox or stub.
func TestPaymentsE2E(t *testing.T) {
	httpBase := envOr("PAYMENTS_HTTP_URL", defaultPaymentsHTTPBase)
	grpcAddr := envOr("PAYMENTS_GRPC_ADDR", defaultPaymentsGRPCAddr)
	apiKey := envOr("PAYMENTS_API_KEY", "")
	callbackToken := envOr("PAYMENTS_CALLBACK_TOKEN", "")
	bookingID := envOr("PAYMENTS_E2E_BOOKING_ID", "")

	if err := waitForHTTP(httpBase, 30*time.Second); err != nil {
		t.Fatalf("http not ready: %v", err)
	}
	if err := waitForGRPC(grpcAddr, 30*time.Second); err != nil {
		t.Fatalf("grpc not ready: %v", err)
	}

	client := newHTTPClient(httpBase, apiKey)
	conn := dialPaymentsGRPC(t, grpcAddr, apiKey)
	defer conn.Close()
	grpcClient := paymentgrpc.NewClient(conn)

	t.Run("HTTPHealth", func(t *testing.T) {
		resp, body := client.doJSON(t, http.MethodGet, "/health", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d body=%s", resp.StatusCode, string(body))
		}
		var payload types.HealthResponse
		if err := json.Unmarshal(body, &payload); err != nil || payload.Status != "ok" {
			t.Fatalf("unexpected health body=%s err=%v", string(body), err)
		}
	})

	t.Run("HTTPUnauthorizedMissingAPIKey", func(t *testing.T) {
		if apiKey == "" {
			t.Skip("PAYMENTS_API_KEY not set")
		}
		resp, _ := newHTTPClient(httpBase, "").doJSON(t, http.MethodGet, "/payment/status/booking/1", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401 for missing x-api-key, got %d", resp.StatusCode)
		}
	})

	t.Run("HTTPValidationCreate", func(t *testing.T) {
		resp, body := client.doJSON(t, http.MethodPost, "/payment/invoices", map[string]any{})
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("HTTPStatusValidation", func(t *testing.T) {
		resp, body := client.doJSON(t, http.MethodGet, "/payment/status/invoice/1", nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("HTTPWebhookBadToken", func(t *testing.T) {
		resp, body := client.do(t, http.MethodPost, "/payment/webhook", []byte(`{"id":"inv_x","status":"PAID"}`), map[string]string{
			types.HeaderCallbackToken: "wrong-token",
		})
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("GRPCHealth", func(t *testing.T) {
		resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: paymentgrpc.ServiceName})
		if err != nil {
			t.Fatalf("health check failed: %v", err)
		}
		if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			t.Fatalf("expected SERVING, got %v", resp.GetStatus())
		}
	})

	t.Run("GRPCUnauthenticatedWithoutAPIKey", func(t *testing.T) {
		if apiKey == "" {
			t.Skip("PAYMENTS_API_KEY not set")
		}
		anonymous := dialPaymentsGRPC(t, grpcAddr, "")
		defer anonymous.Close()
		_, err := paymentgrpc.NewClient(anonymous).GetPaymentStatus(context.Background(), &types.PaymentStatusRequest{EntityType: "booking", EntityId: "e2e-missing"})
		if status.Code(err) != codes.Unauthenticated {
			t.Fatalf("expected Unauthenticated, got %v", err)
		}
	})

	t.Run("GRPCValidationCreate", func(t *testing.T) {
		_, err := grpcClient.CreateInvoice(context.Background(), &types.CreateInvoiceRequest{})
		if status.Code(err) != codes.InvalidArgument {
			t.Fatalf("expected InvalidArgument, got %v", err)
		}
	})

	t.Run("GRPCStatusNotFound", func(t *testing.T) {
		_, err := grpcClient.GetPaymentStatus(context.Background(), &types.PaymentStatusRequest{EntityType: "booking", EntityId: "e2e-missing"})
		if status.Code(err) != codes.NotFound {
			t.Fatalf("expected NotFound, got %v", err)
		}
	})

	t.Run("InvoiceWebhookFlow", func(t *testing.T) {
		if bookingID == "" || callbackToken == "" {
			t.Skip("PAYMENTS_E2E_BOOKING_ID and PAYMENTS_CALLBACK_TOKEN are required")
		}

		resp, body := client.doJSON(t, http.MethodPost, "/payment/invoices", &types.CreateInvoiceRequest{
			EntityType:    "booking",
			EntityId:      bookingID,
			Amount:        decimal.RequireFromString("500"),
			VehicleTypeId: "sedan",
		})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("expected 201, got %d body=%s", resp.StatusCode, string(body))
		}
		var created types.CreateInvoiceResponse
		if err := json.Unmarshal(body, &created); err != nil {
			t.Fatalf("unmarshal create failed: %v body=%s", err, string(body))
		}

		webhook, _ := json.Marshal(map[string]string{"id": created.InvoiceId, "status": "PAID"})
		resp, body = client.do(t, http.MethodPost, "/payment/webhook", webhook, map[string]string{
			types.HeaderCallbackToken: callbackToken,
		})
		if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"applied"`) {
			t.Fatalf("expected applied webhook, got %d body=%s", resp.StatusCode, string(body))
		}

		got, err := grpcClient.GetPaymentStatus(context.Background(), &types.PaymentStatusRequest{EntityType: "booking", EntityId: bookingID})
		if err != nil {
			t.Fatalf("grpc status failed: %v", err)
		}
		if got.Status != "paid" || got.IntentId != created.IntentId {
			t.Fatalf("unexpected status: %+v", got)
		}
	})
}
