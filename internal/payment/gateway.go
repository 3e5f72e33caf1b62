// Package payment talks to the payment-intent backend and models the
// customer's confirmation of an intent.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"

	"github.com/utafrali/DinerGo/pkg/httpclient"
)

const (
	serviceName       = "payment-gateway"
	createIntentPath  = "/create-payment-intent"
	intentPath        = "/payment-intents/"
	idempotencyHeader = "Idempotency-Key"
)

var (
	// ErrIntentRejected means the backend refused to create an intent (4xx).
	ErrIntentRejected = errors.New("payment intent rejected")
	// ErrMalformedIntent means a 2xx response did not carry a client secret.
	ErrMalformedIntent = errors.New("malformed payment intent response")
	// ErrUnknownIntent means the backend has no intent with the requested id.
	ErrUnknownIntent = errors.New("unknown payment intent")
)

// IntentStatusSucceeded is the provider status of a fully paid intent.
const IntentStatusSucceeded = "succeeded"

// IntentRequest is what the backend needs to create an intent. Amount is in
// major currency units; the backend converts to minor units.
type IntentRequest struct {
	Amount         decimal.Decimal
	Email          string
	IdempotencyKey string
}

// Intent is a created payment intent. ID comes from the response or, failing
// that, from the client secret; it may be empty if neither carries one.
type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"clientSecret"`
}

// GatewayConfig configures the GatewayClient.
type GatewayConfig struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	Breaker    httpclient.CircuitBreakerConfig
}

// GatewayClient calls the payment-intent backend through a circuit breaker.
type GatewayClient struct {
	http    *httpclient.CircuitBreakerClient
	baseURL string
	logger  *slog.Logger
}

// NewGatewayClient creates a client for the backend at cfg.BaseURL.
func NewGatewayClient(cfg GatewayConfig, logger *slog.Logger) *GatewayClient {
	httpCfg := httpclient.DefaultConfig()
	if cfg.Timeout > 0 {
		httpCfg.Timeout = cfg.Timeout
	}
	httpCfg.MaxRetries = cfg.MaxRetries

	if cfg.Breaker.Name == "" {
		cfg.Breaker = httpclient.DefaultCircuitBreakerConfig(serviceName)
	}

	return &GatewayClient{
		http:    httpclient.NewCircuitBreakerClient(httpclient.New(httpCfg), cfg.Breaker, logger),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		logger:  logger,
	}
}

type createIntentBody struct {
	Amount json.Number `json:"amount"`
	Email  string      `json:"email"`
}

type createIntentResponse struct {
	ID           string `json:"id"`
	ClientSecret string `json:"clientSecret"`
}

// IntentStatus is the provider's view of an intent. Amount is in minor
// currency units, as charged.
type IntentStatus struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// Paid reports whether the provider has captured the intent.
func (s IntentStatus) Paid() bool { return s.Status == IntentStatusSucceeded }

// MinorUnits converts a major-unit amount the way the backend does when it
// creates an intent: multiplied by 100 and rounded half away from zero.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// CreatePaymentIntent asks the backend for a new intent. The idempotency key
// is forwarded so a retried checkout of the same cart maps to the same intent.
func (c *GatewayClient) CreatePaymentIntent(ctx context.Context, req IntentRequest) (intent *Intent, err error) {
	ctx, span := otel.Tracer("github.com/utafrali/DinerGo/internal/payment").Start(ctx, "payment.CreatePaymentIntent")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	span.SetAttributes(attribute.String("payment.amount", req.Amount.String()))

	start := time.Now()
	defer func() { observeIntent(start, err) }()

	payload, err := json.Marshal(createIntentBody{
		Amount: json.Number(req.Amount.String()),
		Email:  req.Email,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal intent request: %w", err)
	}

	header := http.Header{}
	if req.IdempotencyKey != "" {
		header.Set(idempotencyHeader, req.IdempotencyKey)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(header))

	resp, err := c.http.Post(ctx, c.baseURL+createIntentPath, "application/json", bytes.NewReader(payload), header)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}

	if resp.StatusCode >= 400 {
		statusErr := httpclient.ParseResponseError(resp, serviceName)
		c.logger.WarnContext(ctx, "payment intent rejected",
			slog.Int("status", resp.StatusCode),
			slog.String("error", statusErr.Error()),
		)
		return nil, fmt.Errorf("%w: %w", ErrIntentRejected, statusErr)
	}
	defer func() { _ = resp.Body.Close() }()

	var body createIntentResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedIntent, err)
	}
	if body.ClientSecret == "" {
		return nil, fmt.Errorf("%w: empty client secret", ErrMalformedIntent)
	}

	id := body.ID
	if id == "" {
		id = IntentIDFromSecret(body.ClientSecret)
	}
	intent = &Intent{ClientSecret: body.ClientSecret, ID: id}
	span.SetAttributes(attribute.String("payment.intent_id", intent.ID))
	return intent, nil
}

// GetPaymentIntent fetches the provider's status of the intent with id. It is
// the authority on whether a customer actually paid: the outcome reported by
// the app is never trusted on its own.
func (c *GatewayClient) GetPaymentIntent(ctx context.Context, id string) (status *IntentStatus, err error) {
	ctx, span := otel.Tracer("github.com/utafrali/DinerGo/internal/payment").Start(ctx, "payment.GetPaymentIntent")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	span.SetAttributes(attribute.String("payment.intent_id", id))

	if id == "" {
		return nil, fmt.Errorf("%w: empty intent id", ErrUnknownIntent)
	}

	header := http.Header{}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(header))

	resp, err := c.http.Get(ctx, c.baseURL+intentPath+url.PathEscape(id), header)
	if err != nil {
		return nil, fmt.Errorf("get payment intent: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrUnknownIntent, id)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("get payment intent: %w", httpclient.ParseResponseError(resp, serviceName))
	}
	defer func() { _ = resp.Body.Close() }()

	status = &IntentStatus{}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(status); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedIntent, err)
	}
	if status.Status == "" {
		return nil, fmt.Errorf("%w: missing status", ErrMalformedIntent)
	}
	if status.ID == "" {
		status.ID = id
	}
	span.SetAttributes(attribute.String("payment.status", status.Status))
	return status, nil
}

// IntentIDFromSecret returns the intent id embedded in a client secret of the
// form "<id>_secret_<suffix>", or "" when the secret has no such prefix.
func IntentIDFromSecret(secret string) string {
	id, _, found := strings.Cut(secret, "_secret_")
	if !found {
		return ""
	}
	return id
}
