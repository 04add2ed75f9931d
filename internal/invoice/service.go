package invoice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gescom/backoffice/internal/audit"
	"github.com/gescom/backoffice/internal/order"
)

var (
	ErrOrderNotBillable  = errors.New("order must be delivered before creating an invoice")
	ErrAlreadyPaid       = errors.New("invoice is already paid")
	ErrCannotCancelPaid  = errors.New("cannot cancel a paid invoice")
	ErrAmountNotPositive = errors.New("payment amount must be positive")
)

// Concurrent webhook deliveries can make the guarded payment write
// lose; a handful of retries is plenty for one invoice.
const maxPaymentRetries = 5

type CreateInput struct {
	OrderID    uuid.UUID
	DeliveryID *uuid.UUID
	Discount   decimal.Decimal
	TaxRate    decimal.Decimal
	PaidAmount decimal.Decimal
	DueDate    *time.Time
	ActorID    *uuid.UUID
}

type Service interface {
	Create(ctx context.Context, input CreateInput) (*Invoice, error)
	RecordPayment(ctx context.Context, id uuid.UUID, amount decimal.Decimal, method PaymentMethod, date *time.Time, actorID *uuid.UUID) (*Invoice, error)
	Cancel(ctx context.Context, id uuid.UUID, actorID *uuid.UUID) error
	MarkSent(ctx context.Context, id uuid.UUID, actorID *uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	GetByNumber(ctx context.Context, number string) (*Invoice, error)
	GetByOrder(ctx context.Context, orderID uuid.UUID) (*Invoice, error)
	List(ctx context.Context) ([]Invoice, error)
	ListOverdue(ctx context.Context) ([]Invoice, error)

	// OrderDelivered implements order.Biller: invoices a freshly
	// delivered order with default terms.
	OrderDelivered(ctx context.Context, orderID uuid.UUID, actorID *uuid.UUID)
}

type service struct {
	invoices       Repository
	orders         order.Repository
	audit          audit.Log
	defaultTaxRate decimal.Decimal
	dueDays        int
}

func NewService(invoices Repository, orders order.Repository, auditLog audit.Log, defaultTaxRate decimal.Decimal, dueDays int) Service {
	return &service{
		invoices:       invoices,
		orders:         orders,
		audit:          auditLog,
		defaultTaxRate: defaultTaxRate,
		dueDays:        dueDays,
	}
}

func (s *service) Create(ctx context.Context, input CreateInput) (*Invoice, error) {
	o, err := s.orders.GetByID(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if o.Status != order.StatusDelivered {
		return nil, ErrOrderNotBillable
	}

	dueDate := time.Now().UTC().AddDate(0, 0, s.dueDays)
	if input.DueDate != nil {
		dueDate = *input.DueDate
	}

	inv, err := newInvoice(o.ID, input.DeliveryID, o.TotalAmount, input.Discount, input.TaxRate, input.PaidAmount, dueDate)
	if err != nil {
		return nil, err
	}

	if err := s.invoices.Create(ctx, inv); err != nil {
		return nil, fmt.Errorf("service: failed to create invoice: %w", err)
	}

	// The order leaves the billable state once invoiced.
	if err := s.orders.UpdateStatus(ctx, o.ID, order.StatusInvoiced); err != nil {
		log.Error().Err(err).Stringer("order_id", o.ID).Msg("service: failed to mark order invoiced")
	}

	s.audit.Record(ctx, input.ActorID, audit.ActionCreate, "Invoice", inv.ID,
		fmt.Sprintf("Created invoice %s, amount %s", inv.InvoiceNumber, inv.TotalAmount.StringFixed(2)))

	log.Info().
		Stringer("invoice_id", inv.ID).
		Str("invoice_number", inv.InvoiceNumber).
		Stringer("order_id", o.ID).
		Msg("service: invoice created")
	return inv, nil
}

func (s *service) RecordPayment(ctx context.Context, id uuid.UUID, amount decimal.Decimal, method PaymentMethod, date *time.Time, actorID *uuid.UUID) (*Invoice, error) {
	if !amount.IsPositive() {
		return nil, ErrAmountNotPositive
	}

	for attempt := 0; attempt < maxPaymentRetries; attempt++ {
		inv, err := s.invoices.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if inv.Status == StatusPaid {
			return nil, ErrAlreadyPaid
		}
		if inv.Status == StatusCancelled {
			return nil, fmt.Errorf("service: invoice %s is cancelled", inv.InvoiceNumber)
		}

		expectedPaid := inv.PaidAmount

		paid := inv.PaidAmount.Add(amount)
		if paid.GreaterThan(inv.TotalAmount) {
			paid = inv.TotalAmount // cap: paid never exceeds total
		}
		inv.PaidAmount = paid
		inv.RemainingAmount = inv.TotalAmount.Sub(paid)
		inv.Status = statusFor(paid, inv.TotalAmount)
		inv.PaymentMethod = &method
		if inv.Status == StatusPaid {
			when := time.Now().UTC()
			if date != nil {
				when = *date
			}
			inv.PaymentDate = &when
		}

		err = s.invoices.UpdatePayment(ctx, inv, expectedPaid)
		if errors.Is(err, ErrPaymentConflict) {
			log.Debug().Stringer("invoice_id", id).Int("attempt", attempt+1).Msg("service: payment write lost a race, retrying")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("service: failed to record payment: %w", err)
		}

		s.audit.Record(ctx, actorID, audit.ActionPayment, "Invoice", inv.ID,
			fmt.Sprintf("Payment of %s on invoice %s (%s)", amount.StringFixed(2), inv.InvoiceNumber, method))

		log.Info().
			Stringer("invoice_id", inv.ID).
			Str("amount", amount.StringFixed(2)).
			Stringer("status", inv.Status).
			Msg("service: payment recorded")
		return inv, nil
	}
	return nil, ErrPaymentConflict
}

func (s *service) Cancel(ctx context.Context, id uuid.UUID, actorID *uuid.UUID) error {
	inv, err := s.invoices.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if inv.Status == StatusPaid {
		return ErrCannotCancelPaid
	}

	if err := s.invoices.UpdateStatus(ctx, id, StatusCancelled); err != nil {
		return fmt.Errorf("service: failed to cancel invoice: %w", err)
	}

	s.audit.Record(ctx, actorID, audit.ActionUpdate, "Invoice", id,
		fmt.Sprintf("Cancelled invoice %s", inv.InvoiceNumber))
	return nil
}

func (s *service) MarkSent(ctx context.Context, id uuid.UUID, actorID *uuid.UUID) error {
	inv, err := s.invoices.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if inv.Status != StatusUnpaid {
		return fmt.Errorf("service: only unpaid invoices can be marked sent, current status %s", inv.Status)
	}

	if err := s.invoices.UpdateStatus(ctx, id, StatusSent); err != nil {
		return fmt.Errorf("service: failed to mark invoice sent: %w", err)
	}

	s.audit.Record(ctx, actorID, audit.ActionUpdate, "Invoice", id,
		fmt.Sprintf("Marked invoice %s as sent", inv.InvoiceNumber))
	return nil
}

func (s *service) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := s.invoices.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("service: failed to fetch invoice: %w", err)
	}
	return inv, nil
}

func (s *service) GetByNumber(ctx context.Context, number string) (*Invoice, error) {
	inv, err := s.invoices.GetByNumber(ctx, number)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("service: failed to fetch invoice by number: %w", err)
	}
	return inv, nil
}

func (s *service) GetByOrder(ctx context.Context, orderID uuid.UUID) (*Invoice, error) {
	inv, err := s.invoices.GetByOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("service: failed to fetch invoice by order: %w", err)
	}
	return inv, nil
}

func (s *service) List(ctx context.Context) ([]Invoice, error) {
	invoices, err := s.invoices.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: failed to list invoices: %w", err)
	}
	return invoices, nil
}

func (s *service) ListOverdue(ctx context.Context) ([]Invoice, error) {
	invoices, err := s.invoices.ListOverdue(ctx, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("service: failed to list overdue invoices: %w", err)
	}
	return invoices, nil
}

func (s *service) OrderDelivered(ctx context.Context, orderID uuid.UUID, actorID *uuid.UUID) {
	_, err := s.Create(ctx, CreateInput{
		OrderID:  orderID,
		Discount: decimal.Zero,
		TaxRate:  s.defaultTaxRate,
		ActorID:  actorID,
	})
	if err != nil {
		// Delivery already happened; the invoice can still be raised by
		// hand, so log and carry on.
		log.Error().Err(err).Stringer("order_id", orderID).Msg("service: failed to auto-invoice delivered order")
	}
}
