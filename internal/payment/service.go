package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gescom/backoffice/internal/audit"
	"github.com/gescom/backoffice/internal/invoice"
)

// Webhook event types delivered by the gateway.
const (
	EventSessionCompleted = "session.completed"
	EventPaymentFailed    = "payment.failed"
	EventPaymentCancelled = "payment.cancelled"
)

var (
	ErrInvalidPaymentAmount = errors.New("payment amount must be positive and not exceed the remaining balance")
	ErrInvalidPaymentMethod = errors.New("unknown payment method")
	ErrInvoiceNotPayable    = errors.New("invoice is not payable")
)

// InvoiceLedger is the slice of the invoice service the payment flow
// needs: reconciling a settled session back onto its invoice.
type InvoiceLedger interface {
	GetByID(ctx context.Context, id uuid.UUID) (*invoice.Invoice, error)
	RecordPayment(ctx context.Context, id uuid.UUID, amount decimal.Decimal, method invoice.PaymentMethod, date *time.Time, actorID *uuid.UUID) (*invoice.Invoice, error)
}

// SecurityGate screens payment initiations and keeps per-IP failure
// counters fed from webhook outcomes.
type SecurityGate interface {
	ValidateRequest(ctx context.Context, clientIP, userAgent string) error
	RecordFailedAttempt(ctx context.Context, clientIP, reason string)
	RecordSuccess(ctx context.Context, clientIP string)
}

// EventPublisher fans settled payments out to interested consumers.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

type InitiateInput struct {
	InvoiceID     uuid.UUID
	Amount        decimal.Decimal
	Method        Method
	CustomerEmail string
	CustomerName  string
	ClientIP      string
	UserAgent     string
}

type WebhookEvent struct {
	Type          string
	SessionID     string
	TransactionID string
	Reason        string
	OccurredAt    time.Time
}

type Statistics struct {
	Total     int64            `json:"total"`
	ByStatus  map[Status]int64 `json:"by_status"`
	Succeeded int64            `json:"succeeded"`
	Failed    int64            `json:"failed"`
}

type Service interface {
	Initiate(ctx context.Context, input InitiateInput) (*Payment, error)
	CreateGatewaySession(ctx context.Context, paymentID uuid.UUID) (*Payment, error)
	HandleWebhook(ctx context.Context, event WebhookEvent) error
	GetByToken(ctx context.Context, token string) (*Payment, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	CleanupExpired(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (*Statistics, error)
}

type service struct {
	payments Repository
	invoices InvoiceLedger
	gate     SecurityGate
	gateway  Gateway
	events   EventPublisher
	audit    audit.Log
	provider string
	ttl      time.Duration
}

func NewService(payments Repository, invoices InvoiceLedger, gate SecurityGate, gateway Gateway, events EventPublisher, auditLog audit.Log, provider string, ttl time.Duration) Service {
	return &service{
		payments: payments,
		invoices: invoices,
		gate:     gate,
		gateway:  gateway,
		events:   events,
		audit:    auditLog,
		provider: provider,
		ttl:      ttl,
	}
}

// Initiate screens the caller, validates the amount against the
// invoice and records a pending payment carrying a fresh one-time
// token. The gateway session is opened in a separate step.
func (s *service) Initiate(ctx context.Context, input InitiateInput) (*Payment, error) {
	if err := s.gate.ValidateRequest(ctx, input.ClientIP, input.UserAgent); err != nil {
		return nil, err
	}
	if !input.Method.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, input.Method)
	}

	inv, err := s.invoices.GetByID(ctx, input.InvoiceID)
	if err != nil {
		return nil, err
	}
	if !inv.IsPayable() {
		return nil, ErrInvoiceNotPayable
	}
	if !input.Amount.IsPositive() || input.Amount.GreaterThan(inv.RemainingAmount) {
		return nil, fmt.Errorf("%w: requested %s, remaining %s",
			ErrInvalidPaymentAmount, input.Amount.StringFixed(2), inv.RemainingAmount.StringFixed(2))
	}

	p, err := newPayment(input.InvoiceID, input.Amount, input.Method,
		input.CustomerEmail, input.CustomerName, input.ClientIP, input.UserAgent, s.provider, s.ttl)
	if err != nil {
		return nil, err
	}

	if err := s.payments.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("service: failed to create payment: %w", err)
	}

	s.audit.Record(ctx, nil, audit.ActionPayment, "ExternalPayment", p.ID,
		fmt.Sprintf("Initiated payment of %s for invoice %s", p.Amount.StringFixed(2), inv.InvoiceNumber))

	log.Info().
		Stringer("payment_id", p.ID).
		Stringer("invoice_id", input.InvoiceID).
		Str("amount", p.Amount.StringFixed(2)).
		Msg("service: payment initiated")
	return p, nil
}

// CreateGatewaySession opens the hosted checkout session for a pending
// payment and moves it to PROCESSING.
func (s *service) CreateGatewaySession(ctx context.Context, paymentID uuid.UUID) (*Payment, error) {
	p, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusPending {
		return nil, fmt.Errorf("service: payment %s is %s, expected %s", p.ID, p.Status, StatusPending)
	}
	if time.Now().UTC().After(p.ExpiresAt) {
		return nil, fmt.Errorf("service: payment %s has expired", p.ID)
	}

	inv, err := s.invoices.GetByID(ctx, p.InvoiceID)
	if err != nil {
		return nil, err
	}

	sessionID, err := s.gateway.CreateSession(ctx, p, inv.InvoiceNumber)
	if err != nil {
		return nil, fmt.Errorf("service: failed to open gateway session: %w", err)
	}

	if err := s.payments.SetGatewaySession(ctx, p.ID, sessionID); err != nil {
		return nil, fmt.Errorf("service: failed to attach gateway session: %w", err)
	}
	p.GatewaySessionID = sessionID
	p.Status = StatusProcessing
	return p, nil
}

// HandleWebhook reconciles a gateway event against the stored payment.
// Events for unknown sessions are dropped, and duplicate deliveries of
// a terminal event are no-ops: the status transition is guarded in the
// repository and only the winning delivery touches the invoice.
func (s *service) HandleWebhook(ctx context.Context, event WebhookEvent) error {
	// Every freshly initiated payment carries an empty session id, so an
	// uncorrelated event must never reach the session lookup.
	if event.SessionID == "" {
		log.Warn().Str("event", event.Type).Str("transaction_id", event.TransactionID).Msg("service: webhook without session id dropped")
		return nil
	}

	p, err := s.payments.GetBySessionID(ctx, event.SessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Warn().Str("session_id", event.SessionID).Str("event", event.Type).Msg("service: webhook for unknown session dropped")
			return nil
		}
		return fmt.Errorf("service: failed to look up payment for webhook: %w", err)
	}

	switch event.Type {
	case EventSessionCompleted:
		return s.settle(ctx, p, event)
	case EventPaymentFailed:
		applied, err := s.payments.MarkFailed(ctx, p.ID, event.Reason)
		if err != nil {
			return fmt.Errorf("service: failed to mark payment failed: %w", err)
		}
		if applied {
			s.gate.RecordFailedAttempt(ctx, p.ClientIP, event.Reason)
			log.Info().Stringer("payment_id", p.ID).Str("reason", event.Reason).Msg("service: payment failed")
		}
		return nil
	case EventPaymentCancelled:
		applied, err := s.payments.MarkCancelled(ctx, p.ID, event.Reason)
		if err != nil {
			return fmt.Errorf("service: failed to mark payment cancelled: %w", err)
		}
		if applied {
			log.Info().Stringer("payment_id", p.ID).Msg("service: payment cancelled")
		}
		return nil
	default:
		log.Debug().Str("event", event.Type).Str("session_id", event.SessionID).Msg("service: ignoring webhook event")
		return nil
	}
}

func (s *service) settle(ctx context.Context, p *Payment, event WebhookEvent) error {
	completedAt := event.OccurredAt
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}

	applied, err := s.payments.MarkSucceeded(ctx, p.ID, event.TransactionID, completedAt)
	if err != nil {
		return fmt.Errorf("service: failed to mark payment succeeded: %w", err)
	}
	if !applied {
		log.Debug().Stringer("payment_id", p.ID).Msg("service: duplicate completion webhook, already settled")
		return nil
	}

	if _, err := s.invoices.RecordPayment(ctx, p.InvoiceID, p.Amount, invoice.MethodCard, &completedAt, nil); err != nil {
		// The payment is settled with the gateway either way; the
		// invoice mismatch needs an operator, not a retry storm.
		log.Error().Err(err).
			Stringer("payment_id", p.ID).
			Stringer("invoice_id", p.InvoiceID).
			Msg("service: settled payment could not be applied to invoice")
	}

	s.gate.RecordSuccess(ctx, p.ClientIP)
	s.audit.Record(ctx, nil, audit.ActionPayment, "ExternalPayment", p.ID,
		fmt.Sprintf("Gateway settled payment of %s (transaction %s)", p.Amount.StringFixed(2), event.TransactionID))

	if s.events != nil {
		evt := map[string]any{
			"payment_id":     p.ID,
			"invoice_id":     p.InvoiceID,
			"amount":         p.Amount.StringFixed(2),
			"transaction_id": event.TransactionID,
			"completed_at":   completedAt,
		}
		if err := s.events.Publish(ctx, "payment.succeeded", evt); err != nil {
			log.Warn().Err(err).Stringer("payment_id", p.ID).Msg("service: failed to publish payment event")
		}
	}

	log.Info().
		Stringer("payment_id", p.ID).
		Str("transaction_id", event.TransactionID).
		Msg("service: payment settled")
	return nil
}

func (s *service) GetByToken(ctx context.Context, token string) (*Payment, error) {
	p, err := s.payments.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("service: failed to fetch payment by token: %w", err)
	}
	return p, nil
}

func (s *service) GetByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	p, err := s.payments.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("service: failed to fetch payment: %w", err)
	}
	return p, nil
}

// CleanupExpired cancels sessions whose TTL passed without a terminal
// webhook. Runs on a timer from main.
func (s *service) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := s.payments.CancelExpired(ctx, time.Now().UTC(), "session expired")
	if err != nil {
		return 0, fmt.Errorf("service: failed to cancel expired payments: %w", err)
	}
	if n > 0 {
		log.Info().Int64("cancelled", n).Msg("service: expired payment sessions cancelled")
	}
	return n, nil
}

func (s *service) Stats(ctx context.Context) (*Statistics, error) {
	byStatus, err := s.payments.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: failed to count payments: %w", err)
	}
	stats := &Statistics{ByStatus: byStatus}
	for status, n := range byStatus {
		stats.Total += n
		switch status {
		case StatusSucceeded:
			stats.Succeeded += n
		case StatusFailed:
			stats.Failed += n
		}
	}
	return stats, nil
}
