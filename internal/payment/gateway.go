package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gescom/backoffice/internal/config"
)

// Gateway is the external payment processor. Webhook signatures are
// verified here, before any event reaches the business flow.
type Gateway interface {
	CreateSession(ctx context.Context, p *Payment, invoiceNumber string) (sessionID string, err error)
	VerifySignature(payload []byte, signature string) bool
}

type checkoutClient struct {
	http          *http.Client
	baseURL       string
	secretKey     string
	webhookSecret string
	appBaseURL    string
	currency      string
}

func NewCheckoutGateway(cfg config.PaymentConfig) Gateway {
	return &checkoutClient{
		http:          &http.Client{Timeout: 15 * time.Second},
		baseURL:       strings.TrimRight(cfg.APIBaseURL, "/"),
		secretKey:     cfg.SecretKey,
		webhookSecret: cfg.WebhookSecret,
		appBaseURL:    strings.TrimRight(cfg.AppBaseURL, "/"),
		currency:      strings.ToLower(cfg.Currency),
	}
}

type sessionResponse struct {
	ID string `json:"id"`
}

// CreateSession opens a hosted checkout session for the payment. The
// processor bills in minor units, so the amount is shifted two places.
func (c *checkoutClient) CreateSession(ctx context.Context, p *Payment, invoiceNumber string) (string, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("payment_method_types[0]", "card")
	form.Set("line_items[0][price_data][currency]", c.currency)
	form.Set("line_items[0][price_data][product_data][name]", "Invoice "+invoiceNumber)
	form.Set("line_items[0][price_data][unit_amount]", p.Amount.Shift(2).StringFixed(0))
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", c.appBaseURL+"/payment/success?session_id={CHECKOUT_SESSION_ID}&token="+p.SecurityToken)
	form.Set("cancel_url", c.appBaseURL+"/payment/cancel?token="+p.SecurityToken)
	form.Set("metadata[invoice_number]", invoiceNumber)
	form.Set("metadata[security_token]", p.SecurityToken)
	form.Set("metadata[source]", "external_payment")
	if p.CustomerEmail != "" {
		form.Set("customer_email", p.CustomerEmail)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("gateway: failed to build session request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("gateway: session request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("gateway: failed to read session response: %w", err)
	}
	if resp.StatusCode >= 300 {
		log.Error().Int("status", resp.StatusCode).Str("invoice_number", invoiceNumber).Msg("gateway: session creation rejected")
		return "", fmt.Errorf("gateway: session creation failed with status %d", resp.StatusCode)
	}

	var session sessionResponse
	if err := json.Unmarshal(body, &session); err != nil {
		return "", fmt.Errorf("gateway: failed to decode session response: %w", err)
	}
	if session.ID == "" {
		return "", fmt.Errorf("gateway: session response missing id")
	}

	log.Info().Str("session_id", session.ID).Str("invoice_number", invoiceNumber).Msg("gateway: checkout session created")
	return session.ID, nil
}

// VerifySignature checks the webhook body against its HMAC-SHA256 hex
// signature in constant time.
func (c *checkoutClient) VerifySignature(payload []byte, signature string) bool {
	if c.webhookSecret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.TrimPrefix(signature, "sha256=")))
}
