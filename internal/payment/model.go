package payment

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusSucceeded  Status = "SUCCEEDED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
	StatusRefunded   Status = "REFUNDED"
	StatusDisputed   Status = "DISPUTED"
)

func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether the payment is immutable: a succeeded
// payment only moves on via the separate refund/dispute transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled, StatusRefunded, StatusDisputed:
		return true
	}
	return false
}

func (s Status) IsOpen() bool {
	return s == StatusPending || s == StatusProcessing
}

type Method string

const (
	MethodCash         Method = "CASH"
	MethodVisa         Method = "VISA"
	MethodMastercard   Method = "MASTERCARD"
	MethodPaypal       Method = "PAYPAL"
	MethodBankTransfer Method = "BANK_TRANSFER"
)

func (m Method) Valid() bool {
	switch m {
	case MethodCash, MethodVisa, MethodMastercard, MethodPaypal, MethodBankTransfer:
		return true
	}
	return false
}

type CardType string

const (
	CardCredit  CardType = "CREDIT"
	CardDebit   CardType = "DEBIT"
	CardPrepaid CardType = "PREPAID"
)

// Payment is a guest checkout attempt against an invoice. Card fields
// hold gateway tokens and the last four digits only, never raw card
// data.
type Payment struct {
	ID                   uuid.UUID       `json:"id"`
	InvoiceID            uuid.UUID       `json:"invoice_id"`
	Amount               decimal.Decimal `json:"amount"`
	Method               Method          `json:"method"`
	CardType             *CardType       `json:"card_type,omitempty"`
	CardLastFour         string          `json:"card_last_four,omitempty"`
	CardholderName       string          `json:"cardholder_name,omitempty"`
	CustomerEmail        string          `json:"customer_email"`
	CustomerName         string          `json:"customer_name"`
	ClientIP             string          `json:"client_ip"`
	UserAgent            string          `json:"user_agent"`
	SecurityToken        string          `json:"security_token"`
	GatewayProvider      string          `json:"gateway_provider"`
	GatewaySessionID     string          `json:"gateway_session_id,omitempty"`
	GatewayTransactionID string          `json:"gateway_transaction_id,omitempty"`
	FailureReason        string          `json:"failure_reason,omitempty"`
	Status               Status          `json:"status"`
	ExpiresAt            time.Time       `json:"expires_at"`
	CompletedAt          *time.Time      `json:"completed_at,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

const tokenBytes = 32

// newSecurityToken returns 32 random bytes as unpadded URL-safe base64,
// 43 characters of [A-Za-z0-9_-].
func newSecurityToken() (string, error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate security token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func newPayment(invoiceID uuid.UUID, amount decimal.Decimal, method Method, customerEmail, customerName, clientIP, userAgent, provider string, ttl time.Duration) (*Payment, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("failed to generate payment ID: %w", err)
	}
	token, err := newSecurityToken()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Payment{
		ID:              id,
		InvoiceID:       invoiceID,
		Amount:          amount,
		Method:          method,
		CustomerEmail:   customerEmail,
		CustomerName:    customerName,
		ClientIP:        clientIP,
		UserAgent:       userAgent,
		SecurityToken:   token,
		GatewayProvider: provider,
		Status:          StatusPending,
		ExpiresAt:       now.Add(ttl),
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}
