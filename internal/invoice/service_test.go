package invoice_test

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gescom/backoffice/internal/audit"
	"github.com/gescom/backoffice/internal/invoice"
	"github.com/gescom/backoffice/internal/order"
)

type mockInvoiceRepository struct {
	createFunc        func(ctx context.Context, inv *invoice.Invoice) error
	getByIDFunc       func(ctx context.Context, id uuid.UUID) (*invoice.Invoice, error)
	getByNumberFunc   func(ctx context.Context, number string) (*invoice.Invoice, error)
	getByOrderFunc    func(ctx context.Context, orderID uuid.UUID) (*invoice.Invoice, error)
	listFunc          func(ctx context.Context) ([]invoice.Invoice, error)
	listOverdueFunc   func(ctx context.Context, now time.Time) ([]invoice.Invoice, error)
	updatePaymentFunc func(ctx context.Context, inv *invoice.Invoice, expectedPaid decimal.Decimal) error
	updateStatusFunc  func(ctx context.Context, id uuid.UUID, status invoice.Status) error
}

func (m *mockInvoiceRepository) Create(ctx context.Context, inv *invoice.Invoice) error {
	return m.createFunc(ctx, inv)
}

func (m *mockInvoiceRepository) GetByID(ctx context.Context, id uuid.UUID) (*invoice.Invoice, error) {
	return m.getByIDFunc(ctx, id)
}

func (m *mockInvoiceRepository) GetByNumber(ctx context.Context, number string) (*invoice.Invoice, error) {
	return m.getByNumberFunc(ctx, number)
}

func (m *mockInvoiceRepository) GetByOrder(ctx context.Context, orderID uuid.UUID) (*invoice.Invoice, error) {
	return m.getByOrderFunc(ctx, orderID)
}

func (m *mockInvoiceRepository) List(ctx context.Context) ([]invoice.Invoice, error) {
	return m.listFunc(ctx)
}

func (m *mockInvoiceRepository) ListOverdue(ctx context.Context, now time.Time) ([]invoice.Invoice, error) {
	return m.listOverdueFunc(ctx, now)
}

func (m *mockInvoiceRepository) UpdatePayment(ctx context.Context, inv *invoice.Invoice, expectedPaid decimal.Decimal) error {
	return m.updatePaymentFunc(ctx, inv, expectedPaid)
}

func (m *mockInvoiceRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status invoice.Status) error {
	return m.updateStatusFunc(ctx, id, status)
}

type mockOrderRepo struct {
	getByIDFunc      func(ctx context.Context, id uuid.UUID) (*order.Order, error)
	updateStatusFunc func(ctx context.Context, id uuid.UUID, status order.Status) error
}

func (m *mockOrderRepo) Create(ctx context.Context, o *order.Order) error { return nil }

func (m *mockOrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	return m.getByIDFunc(ctx, id)
}

func (m *mockOrderRepo) GetByNumber(ctx context.Context, number string) (*order.Order, error) {
	return nil, order.ErrNotFound
}

func (m *mockOrderRepo) ListByClient(ctx context.Context, clientID uuid.UUID) ([]order.Order, error) {
	return nil, nil
}

func (m *mockOrderRepo) ListByStatus(ctx context.Context, status order.Status) ([]order.Order, error) {
	return nil, nil
}

func (m *mockOrderRepo) ReplaceItems(ctx context.Context, o *order.Order) error { return nil }

func (m *mockOrderRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status order.Status) error {
	if m.updateStatusFunc != nil {
		return m.updateStatusFunc(ctx, id, status)
	}
	return nil
}

func (m *mockOrderRepo) Delete(ctx context.Context, id uuid.UUID) error { return nil }

var defaultTaxRate = decimal.NewFromInt(20)

func newTestService(invoices invoice.Repository, orders order.Repository) invoice.Service {
	return invoice.NewService(invoices, orders, audit.Nop{}, defaultTaxRate, 30)
}

func TestService_Create(t *testing.T) {
	orderID := uuid.Must(uuid.NewV4())

	deliveredOrder := func(total decimal.Decimal) *mockOrderRepo {
		return &mockOrderRepo{
			getByIDFunc: func(ctx context.Context, id uuid.UUID) (*order.Order, error) {
				return &order.Order{ID: orderID, Status: order.StatusDelivered, TotalAmount: total}, nil
			},
		}
	}

	t.Run("computes_tax_on_discounted_base", func(t *testing.T) {
		var created *invoice.Invoice
		invoices := &mockInvoiceRepository{
			createFunc: func(ctx context.Context, inv *invoice.Invoice) error {
				created = inv
				return nil
			},
		}

		svc := newTestService(invoices, deliveredOrder(decimal.NewFromInt(100)))
		inv, err := svc.Create(context.Background(), invoice.CreateInput{
			OrderID: orderID,
			TaxRate: decimal.NewFromInt(20),
		})

		require.NoError(t, err)
		require.NotNil(t, created)
		assert.True(t, inv.TaxAmount.Equal(decimal.NewFromInt(20)), inv.TaxAmount.String())
		assert.True(t, inv.TotalAmount.Equal(decimal.NewFromInt(120)), inv.TotalAmount.String())
		assert.True(t, inv.RemainingAmount.Equal(decimal.NewFromInt(120)), inv.RemainingAmount.String())
		assert.Equal(t, invoice.StatusUnpaid, inv.Status)
		assert.Contains(t, inv.InvoiceNumber, "INV-")
	})

	t.Run("tax_rounds_half_up_to_cents", func(t *testing.T) {
		invoices := &mockInvoiceRepository{
			createFunc: func(ctx context.Context, inv *invoice.Invoice) error { return nil },
		}

		// 99.99 - 10 = 89.99; 89.99 * 19.6% = 17.63804 -> 17.64
		svc := newTestService(invoices, deliveredOrder(decimal.RequireFromString("99.99")))
		inv, err := svc.Create(context.Background(), invoice.CreateInput{
			OrderID:  orderID,
			Discount: decimal.NewFromInt(10),
			TaxRate:  decimal.RequireFromString("19.6"),
		})

		require.NoError(t, err)
		assert.True(t, inv.TaxAmount.Equal(decimal.RequireFromString("17.64")), inv.TaxAmount.String())
		assert.True(t, inv.TotalAmount.Equal(decimal.RequireFromString("107.63")), inv.TotalAmount.String())
	})

	t.Run("marks_order_invoiced", func(t *testing.T) {
		invoices := &mockInvoiceRepository{
			createFunc: func(ctx context.Context, inv *invoice.Invoice) error { return nil },
		}

		var markedStatus order.Status
		orders := deliveredOrder(decimal.NewFromInt(50))
		orders.updateStatusFunc = func(ctx context.Context, id uuid.UUID, status order.Status) error {
			markedStatus = status
			return nil
		}

		svc := newTestService(invoices, orders)
		_, err := svc.Create(context.Background(), invoice.CreateInput{OrderID: orderID, TaxRate: defaultTaxRate})

		require.NoError(t, err)
		assert.Equal(t, order.StatusInvoiced, markedStatus)
	})

	t.Run("rejects_undelivered_order", func(t *testing.T) {
		for _, status := range []order.Status{
			order.StatusDraft, order.StatusConfirmed, order.StatusProcessing,
			order.StatusShipped, order.StatusInvoiced, order.StatusCancelled,
		} {
			orders := &mockOrderRepo{
				getByIDFunc: func(ctx context.Context, id uuid.UUID) (*order.Order, error) {
					return &order.Order{ID: orderID, Status: status}, nil
				},
			}
			svc := newTestService(&mockInvoiceRepository{}, orders)

			_, err := svc.Create(context.Background(), invoice.CreateInput{OrderID: orderID, TaxRate: defaultTaxRate})
			assert.ErrorIs(t, err, invoice.ErrOrderNotBillable, status)
		}
	})

	t.Run("duplicate_invoice_for_order", func(t *testing.T) {
		invoices := &mockInvoiceRepository{
			createFunc: func(ctx context.Context, inv *invoice.Invoice) error {
				return invoice.ErrExists
			},
		}
		svc := newTestService(invoices, deliveredOrder(decimal.NewFromInt(50)))

		_, err := svc.Create(context.Background(), invoice.CreateInput{OrderID: orderID, TaxRate: defaultTaxRate})
		assert.ErrorIs(t, err, invoice.ErrExists)
	})
}

func TestService_RecordPayment(t *testing.T) {
	invoiceID := uuid.Must(uuid.NewV4())

	unpaidInvoice := func() *invoice.Invoice {
		return &invoice.Invoice{
			ID:              invoiceID,
			InvoiceNumber:   "INV-20260101-AB12",
			TotalAmount:     decimal.NewFromInt(120),
			PaidAmount:      decimal.Zero,
			RemainingAmount: decimal.NewFromInt(120),
			Status:          invoice.StatusUnpaid,
			DueDate:         time.Now().Add(720 * time.Hour),
		}
	}

	t.Run("partial_payment", func(t *testing.T) {
		var written *invoice.Invoice
		invoices := &mockInvoiceRepository{
			getByIDFunc: func(ctx context.Context, id uuid.UUID) (*invoice.Invoice, error) {
				return unpaidInvoice(), nil
			},
			updatePaymentFunc: func(ctx context.Context, inv *invoice.Invoice, expectedPaid decimal.Decimal) error {
				assert.True(t, expectedPaid.IsZero())
				written = inv
				return nil
			},
		}
		svc := newTestService(invoices, &mockOrderRepo{})

		inv, err := svc.RecordPayment(context.Background(), invoiceID, decimal.NewFromInt(80), invoice.MethodCash, nil, nil)

		require.NoError(t, err)
		assert.Equal(t, invoice.StatusPartiallyPaid, inv.Status)
		assert.True(t, inv.PaidAmount.Equal(decimal.NewFromInt(80)))
		assert.True(t, inv.RemainingAmount.Equal(decimal.NewFromInt(40)))
		assert.Nil(t, inv.PaymentDate)
		require.NotNil(t, written)
	})

	t.Run("full_payment_sets_payment_date", func(t *testing.T) {
		partiallyPaid := unpaidInvoice()
		partiallyPaid.PaidAmount = decimal.NewFromInt(80)
		partiallyPaid.RemainingAmount = decimal.NewFromInt(40)
		partiallyPaid.Status = invoice.StatusPartiallyPaid

		invoices := &mockInvoiceRepository{
			getByIDFunc: func(ctx context.Context, id uuid.UUID) (*invoice.Invoice, error) {
				return partiallyPaid, nil
			},
			updatePaymentFunc: func(ctx context.Context, inv *invoice.Invoice, expectedPaid decimal.Decimal) error {
				return nil
			},
		}
		svc := newTestService(invoices, &mockOrderRepo{})

		inv, err := svc.RecordPayment(context.Background(), invoiceID, decimal.NewFromInt(40), invoice.MethodCard, nil, nil)

		require.NoError(t, err)
		assert.Equal(t, invoice.StatusPaid, inv.Status)
		assert.True(t, inv.RemainingAmount.IsZero())
		require.NotNil(t, inv.PaymentDate)
		require.NotNil(t, inv.PaymentMethod)
		assert.Equal(t, invoice.MethodCard, *inv.PaymentMethod)
	})

	t.Run("overpayment_is_capped_at_total", func(t *testing.T) {
		invoices := &mockInvoiceRepository{
			getByIDFunc: func(ctx context.Context, id uuid.UUID) (*invoice.Invoice, error) {
				return unpaidInvoice(), nil
			},
			updatePaymentFunc: func(ctx context.Context, inv *invoice.Invoice, expectedPaid decimal.Decimal) error {
				return nil
			},
		}
		svc := newTestService(invoices, &mockOrderRepo{})

		inv, err := svc.RecordPayment(context.Background(), invoiceID, decimal.NewFromInt(500), invoice.MethodCash, nil, nil)

		require.NoError(t, err)
		assert.True(t, inv.PaidAmount.Equal(decimal.NewFromInt(120)))
		assert.True(t, inv.RemainingAmount.IsZero())
		assert.Equal(t, invoice.StatusPaid, inv.Status)
	})

	t.Run("rejects_non_positive_amount", func(t *testing.T) {
		svc := newTestService(&mockInvoiceRepository{}, &mockOrderRepo{})

		_, err := svc.RecordPayment(context.Background(), invoiceID, decimal.Zero, invoice.MethodCash, nil, nil)
		assert.ErrorIs(t, err, invoice.ErrAmountNotPositive)
	})

	t.Run("rejects_paid_invoice", func(t *testing.T) {
		paid := unpaidInvoice()
		paid.Status = invoice.StatusPaid

		invoices := &mockInvoiceRepository{
			getByIDFunc: func(ctx context.Context, id uuid.UUID) (*invoice.Invoice, error) {
				return paid, nil
			},
		}
		svc := newTestService(invoices, &mockOrderRepo{})

		_, err := svc.RecordPayment(context.Background(), invoiceID, decimal.NewFromInt(10), invoice.MethodCash, nil, nil)
		assert.ErrorIs(t, err, invoice.ErrAlreadyPaid)
	})

	t.Run("retries_after_concurrent_write", func(t *testing.T) {
		attempts := 0
		invoices := &mockInvoiceRepository{
			getByIDFunc: func(ctx context.Context, id uuid.UUID) (*invoice.Invoice, error) {
				return unpaidInvoice(), nil
			},
			updatePaymentFunc: func(ctx context.Context, inv *invoice.Invoice, expectedPaid decimal.Decimal) error {
				attempts++
				if attempts < 2 {
					return invoice.ErrPaymentConflict
				}
				return nil
			},
		}
		svc := newTestService(invoices, &mockOrderRepo{})

		_, err := svc.RecordPayment(context.Background(), invoiceID, decimal.NewFromInt(10), invoice.MethodCash, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, attempts)
	})
}

func TestService_Cancel(t *testing.T) {
	invoiceID := uuid.Must(uuid.NewV4())

	t.Run("paid_invoices_cannot_be_cancelled", func(t *testing.T) {
		invoices := &mockInvoiceRepository{
			getByIDFunc: func(ctx context.Context, id uuid.UUID) (*invoice.Invoice, error) {
				return &invoice.Invoice{ID: invoiceID, Status: invoice.StatusPaid}, nil
			},
		}
		svc := newTestService(invoices, &mockOrderRepo{})

		err := svc.Cancel(context.Background(), invoiceID, nil)
		assert.ErrorIs(t, err, invoice.ErrCannotCancelPaid)
	})

	t.Run("cancels_unpaid_invoice", func(t *testing.T) {
		var newStatus invoice.Status
		invoices := &mockInvoiceRepository{
			getByIDFunc: func(ctx context.Context, id uuid.UUID) (*invoice.Invoice, error) {
				return &invoice.Invoice{ID: invoiceID, Status: invoice.StatusUnpaid}, nil
			},
			updateStatusFunc: func(ctx context.Context, id uuid.UUID, status invoice.Status) error {
				newStatus = status
				return nil
			},
		}
		svc := newTestService(invoices, &mockOrderRepo{})

		err := svc.Cancel(context.Background(), invoiceID, nil)
		require.NoError(t, err)
		assert.Equal(t, invoice.StatusCancelled, newStatus)
	})
}

func TestService_MarkSent(t *testing.T) {
	invoiceID := uuid.Must(uuid.NewV4())

	t.Run("only_from_unpaid", func(t *testing.T) {
		invoices := &mockInvoiceRepository{
			getByIDFunc: func(ctx context.Context, id uuid.UUID) (*invoice.Invoice, error) {
				return &invoice.Invoice{ID: invoiceID, Status: invoice.StatusPartiallyPaid}, nil
			},
		}
		svc := newTestService(invoices, &mockOrderRepo{})

		err := svc.MarkSent(context.Background(), invoiceID, nil)
		assert.Error(t, err)
	})

	t.Run("marks_unpaid_as_sent", func(t *testing.T) {
		var newStatus invoice.Status
		invoices := &mockInvoiceRepository{
			getByIDFunc: func(ctx context.Context, id uuid.UUID) (*invoice.Invoice, error) {
				return &invoice.Invoice{ID: invoiceID, Status: invoice.StatusUnpaid}, nil
			},
			updateStatusFunc: func(ctx context.Context, id uuid.UUID, status invoice.Status) error {
				newStatus = status
				return nil
			},
		}
		svc := newTestService(invoices, &mockOrderRepo{})

		err := svc.MarkSent(context.Background(), invoiceID, nil)
		require.NoError(t, err)
		assert.Equal(t, invoice.StatusSent, newStatus)
	})
}

func TestInvoice_IsOverdue(t *testing.T) {
	now := time.Now().UTC()
	dueYesterday := now.Add(-24 * time.Hour)

	tests := []struct {
		name   string
		status invoice.Status
		due    time.Time
		want   bool
	}{
		{"past_due_unpaid", invoice.StatusUnpaid, dueYesterday, true},
		{"past_due_partially_paid", invoice.StatusPartiallyPaid, dueYesterday, true},
		{"past_due_sent", invoice.StatusSent, dueYesterday, true},
		{"past_due_paid", invoice.StatusPaid, dueYesterday, false},
		{"past_due_cancelled", invoice.StatusCancelled, dueYesterday, false},
		{"not_yet_due", invoice.StatusUnpaid, now.Add(24 * time.Hour), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &invoice.Invoice{Status: tt.status, DueDate: tt.due}
			assert.Equal(t, tt.want, inv.IsOverdue(now))
		})
	}
}
