package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrProviderNotSupported = errors.New("provider is not supported")
	ErrInvoiceNotFound      = errors.New("invoice not found")
	ErrMalformedCallback    = errors.New("malformed callback payload")
	ErrGatewayNotConfigured = errors.New("gateway credentials are not configured")
)

type GatewayErrorKind string

const (
	GatewayErrorTimeout   GatewayErrorKind = "timeout"
	GatewayErrorTransport GatewayErrorKind = "transport"
	GatewayErrorRejected  GatewayErrorKind = "rejected"
	// GatewayErrorUnconfigured means the request never left the service.
	GatewayErrorUnconfigured GatewayErrorKind = "unconfigured"
)

type GatewayError struct {
	Kind       GatewayErrorKind
	HTTPStatus int
	Message    string
	Err        error
}

func (e *GatewayError) Error() string {
	if e.HTTPStatus > 0 {
		return fmt.Sprintf("gateway %s: status=%d %s", e.Kind, e.HTTPStatus, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("gateway %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("gateway %s: %s", e.Kind, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// Retryable reports whether a later attempt could succeed.
func (e *GatewayError) Retryable() bool {
	return e.Kind != GatewayErrorRejected && e.Kind != GatewayErrorUnconfigured
}

func IsRetryable(err error) bool {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Retryable()
	}
	return false
}

func classifyTransportError(err error) *GatewayError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &GatewayError{Kind: GatewayErrorTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &GatewayError{Kind: GatewayErrorTimeout, Err: err}
	}
	return &GatewayError{Kind: GatewayErrorTransport, Err: err}
}

func classifyStatus(statusCode int, body []byte) *GatewayError {
	kind := GatewayErrorTransport
	if statusCode >= 400 && statusCode < 500 {
		kind = GatewayErrorRejected
	}
	return &GatewayError{Kind: kind, HTTPStatus: statusCode, Message: truncate(string(body), 512)}
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}
