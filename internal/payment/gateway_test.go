package payment_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gescom/backoffice/internal/config"
	"github.com/gescom/backoffice/internal/payment"
)

func TestCheckoutGateway_CreateSession(t *testing.T) {
	p := openPayment(t, "49.99")
	p.SecurityToken = "tok_abc"
	p.CustomerEmail = "buyer@example.com"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_secret", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "payment", r.PostForm.Get("mode"))
		assert.Equal(t, "eur", r.PostForm.Get("line_items[0][price_data][currency]"))
		// 49.99 billed as 4999 minor units.
		assert.Equal(t, "4999", r.PostForm.Get("line_items[0][price_data][unit_amount]"))
		assert.Equal(t, "Invoice INV-20260101-0001", r.PostForm.Get("line_items[0][price_data][product_data][name]"))
		assert.Contains(t, r.PostForm.Get("success_url"), "token=tok_abc")
		assert.Equal(t, "tok_abc", r.PostForm.Get("metadata[security_token]"))
		assert.Equal(t, "buyer@example.com", r.PostForm.Get("customer_email"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "cs_test_789"}`))
	}))
	defer server.Close()

	gateway := payment.NewCheckoutGateway(config.PaymentConfig{
		APIBaseURL:    server.URL,
		SecretKey:     "sk_test_secret",
		WebhookSecret: "whsec_secret",
		AppBaseURL:    "https://shop.example.com",
		Currency:      "EUR",
	})

	sessionID, err := gateway.CreateSession(context.Background(), p, "INV-20260101-0001")

	require.NoError(t, err)
	assert.Equal(t, "cs_test_789", sessionID)
}

func TestCheckoutGateway_CreateSessionRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error": {"message": "no such price"}}`))
	}))
	defer server.Close()

	gateway := payment.NewCheckoutGateway(config.PaymentConfig{
		APIBaseURL: server.URL,
		SecretKey:  "sk_test_secret",
		Currency:   "EUR",
	})

	_, err := gateway.CreateSession(context.Background(), openPayment(t, "10.00"), "INV-20260101-0002")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 402")
}

func TestCheckoutGateway_VerifySignature(t *testing.T) {
	gateway := payment.NewCheckoutGateway(config.PaymentConfig{WebhookSecret: "whsec_secret"})

	body := []byte(`{"type":"session.completed"}`)
	mac := hmac.New(sha256.New, []byte("whsec_secret"))
	mac.Write(body)
	valid := hex.EncodeToString(mac.Sum(nil))

	assert.True(t, gateway.VerifySignature(body, valid))
	assert.True(t, gateway.VerifySignature(body, "sha256="+valid))
	assert.False(t, gateway.VerifySignature(body, ""))
	assert.False(t, gateway.VerifySignature(body, "deadbeef"))
	assert.False(t, gateway.VerifySignature([]byte(`tampered`), valid))

	unconfigured := payment.NewCheckoutGateway(config.PaymentConfig{})
	assert.False(t, unconfigured.VerifySignature(body, valid))
}
