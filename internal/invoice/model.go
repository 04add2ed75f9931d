package invoice

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type Status string

// The stored status set. Overdue is deliberately not a stored status:
// it is derived from the due date (see IsOverdue) so it can never
// drift from reality.
const (
	StatusUnpaid        Status = "UNPAID"
	StatusSent          Status = "SENT"
	StatusPartiallyPaid Status = "PARTIALLY_PAID"
	StatusPaid          Status = "PAID"
	StatusCancelled     Status = "CANCELLED"
)

func (s Status) String() string {
	return string(s)
}

type PaymentMethod string

const (
	MethodCash         PaymentMethod = "CASH"
	MethodCard         PaymentMethod = "CARD"
	MethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	MethodCheck        PaymentMethod = "CHECK"
	MethodMobile       PaymentMethod = "MOBILE_PAYMENT"
)

type Invoice struct {
	ID              uuid.UUID       `json:"id"`
	InvoiceNumber   string          `json:"invoice_number"`
	OrderID         uuid.UUID       `json:"order_id"`
	DeliveryID      *uuid.UUID      `json:"delivery_id,omitempty"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Discount        decimal.Decimal `json:"discount"`
	TaxRate         decimal.Decimal `json:"tax_rate"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	PaidAmount      decimal.Decimal `json:"paid_amount"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	Status          Status          `json:"status"`
	PaymentMethod   *PaymentMethod  `json:"payment_method,omitempty"`
	PaymentDate     *time.Time      `json:"payment_date,omitempty"`
	DueDate         time.Time       `json:"due_date"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// IsOverdue derives the overdue view: past due and not settled.
func (i *Invoice) IsOverdue(now time.Time) bool {
	return now.After(i.DueDate) && i.Status != StatusPaid && i.Status != StatusCancelled
}

// IsPayable reports whether a guest payment may be taken against the
// invoice.
func (i *Invoice) IsPayable() bool {
	switch i.Status {
	case StatusUnpaid, StatusSent, StatusPartiallyPaid:
		return true
	}
	return false
}

// statusFor applies the payment rule: paid covers the total -> PAID,
// a strictly positive partial -> PARTIALLY_PAID, nothing -> UNPAID.
func statusFor(paid, total decimal.Decimal) Status {
	switch {
	case paid.GreaterThanOrEqual(total):
		return StatusPaid
	case paid.IsPositive():
		return StatusPartiallyPaid
	default:
		return StatusUnpaid
	}
}

// newInvoice computes every derived amount in order: discount off the
// subtotal, tax on the discounted base rounded half-up to cents, total,
// then the remaining balance.
func newInvoice(orderID uuid.UUID, deliveryID *uuid.UUID, subtotal, discount, taxRate, paidAmount decimal.Decimal, dueDate time.Time) (*Invoice, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("failed to generate invoice ID: %w", err)
	}
	number, err := newInvoiceNumber()
	if err != nil {
		return nil, err
	}

	afterDiscount := subtotal.Sub(discount)
	taxAmount := afterDiscount.Mul(taxRate).DivRound(decimal.NewFromInt(100), 2)
	total := afterDiscount.Add(taxAmount)

	inv := &Invoice{
		ID:              id,
		InvoiceNumber:   number,
		OrderID:         orderID,
		DeliveryID:      deliveryID,
		Subtotal:        subtotal,
		Discount:        discount,
		TaxRate:         taxRate,
		TaxAmount:       taxAmount,
		TotalAmount:     total,
		PaidAmount:      paidAmount,
		RemainingAmount: total.Sub(paidAmount),
		Status:          statusFor(paidAmount, total),
		DueDate:         dueDate,
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}
	if inv.Status == StatusPaid {
		now := time.Now().UTC()
		inv.PaymentDate = &now
		inv.PaidAmount = total
		inv.RemainingAmount = decimal.Zero
	}
	return inv, nil
}

func newInvoiceNumber() (string, error) {
	suffix := make([]byte, 2)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("failed to generate invoice number: %w", err)
	}
	return fmt.Sprintf("INV-%s-%s", time.Now().UTC().Format("20060102"), strings.ToUpper(hex.EncodeToString(suffix))), nil
}
