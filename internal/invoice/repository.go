package invoice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = errors.New("invoice not found")
	ErrExists   = errors.New("order already has an invoice")

	// ErrPaymentConflict means paid_amount moved between the caller's
	// read and the guarded write; the caller re-reads and retries. This
	// is how concurrent webhook deliveries for one invoice serialize.
	ErrPaymentConflict = errors.New("invoice payment state changed concurrently")
)

type Repository interface {
	Create(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	GetByNumber(ctx context.Context, number string) (*Invoice, error)
	GetByOrder(ctx context.Context, orderID uuid.UUID) (*Invoice, error)
	List(ctx context.Context) ([]Invoice, error)
	ListOverdue(ctx context.Context, now time.Time) ([]Invoice, error)
	// UpdatePayment persists inv's payment fields only if the stored
	// paid_amount still equals expectedPaid.
	UpdatePayment(ctx context.Context, inv *Invoice, expectedPaid decimal.Decimal) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

const invoiceColumns = `id, invoice_number, order_id, delivery_id, subtotal, discount, tax_rate, tax_amount, total_amount, paid_amount, remaining_amount, status, payment_method, payment_date, due_date, created_at, updated_at`

func (r *postgresRepository) Create(ctx context.Context, inv *Invoice) error {
	query := `
		INSERT INTO invoices (` + invoiceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err := r.db.Exec(ctx, query,
		inv.ID, inv.InvoiceNumber, inv.OrderID, inv.DeliveryID,
		inv.Subtotal, inv.Discount, inv.TaxRate, inv.TaxAmount, inv.TotalAmount,
		inv.PaidAmount, inv.RemainingAmount, string(inv.Status),
		inv.PaymentMethod, inv.PaymentDate, inv.DueDate, inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrExists
		}
		return fmt.Errorf("repository: failed to insert invoice: %w", err)
	}
	return nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return r.getOne(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
}

func (r *postgresRepository) GetByNumber(ctx context.Context, number string) (*Invoice, error) {
	return r.getOne(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE invoice_number = $1`, number)
}

func (r *postgresRepository) GetByOrder(ctx context.Context, orderID uuid.UUID) (*Invoice, error) {
	return r.getOne(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE order_id = $1`, orderID)
}

func (r *postgresRepository) getOne(ctx context.Context, query string, arg any) (*Invoice, error) {
	var inv Invoice
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&inv.ID, &inv.InvoiceNumber, &inv.OrderID, &inv.DeliveryID,
		&inv.Subtotal, &inv.Discount, &inv.TaxRate, &inv.TaxAmount, &inv.TotalAmount,
		&inv.PaidAmount, &inv.RemainingAmount, &inv.Status,
		&inv.PaymentMethod, &inv.PaymentDate, &inv.DueDate, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("repository: failed to select invoice: %w", err)
	}
	return &inv, nil
}

func (r *postgresRepository) List(ctx context.Context) ([]Invoice, error) {
	return r.queryInvoices(ctx, `SELECT `+invoiceColumns+` FROM invoices ORDER BY created_at DESC`)
}

func (r *postgresRepository) ListOverdue(ctx context.Context, now time.Time) ([]Invoice, error) {
	query := `
		SELECT ` + invoiceColumns + `
		FROM invoices
		WHERE due_date < $1 AND status NOT IN ($2, $3)
		ORDER BY due_date
	`
	return r.queryInvoices(ctx, query, now, string(StatusPaid), string(StatusCancelled))
}

func (r *postgresRepository) queryInvoices(ctx context.Context, query string, args ...any) ([]Invoice, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query invoices: %w", err)
	}
	defer rows.Close()

	invoices := make([]Invoice, 0)
	for rows.Next() {
		var inv Invoice
		err := rows.Scan(
			&inv.ID, &inv.InvoiceNumber, &inv.OrderID, &inv.DeliveryID,
			&inv.Subtotal, &inv.Discount, &inv.TaxRate, &inv.TaxAmount, &inv.TotalAmount,
			&inv.PaidAmount, &inv.RemainingAmount, &inv.Status,
			&inv.PaymentMethod, &inv.PaymentDate, &inv.DueDate, &inv.CreatedAt, &inv.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan invoice: %w", err)
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating invoices: %w", err)
	}
	return invoices, nil
}

func (r *postgresRepository) UpdatePayment(ctx context.Context, inv *Invoice, expectedPaid decimal.Decimal) error {
	query := `
		UPDATE invoices
		SET paid_amount = $1, remaining_amount = $2, status = $3, payment_method = $4, payment_date = $5, updated_at = $6
		WHERE id = $7 AND paid_amount = $8
	`
	cmdTag, err := r.db.Exec(ctx, query,
		inv.PaidAmount, inv.RemainingAmount, string(inv.Status),
		inv.PaymentMethod, inv.PaymentDate, time.Now().UTC(),
		inv.ID, expectedPaid,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to update invoice payment %s: %w", inv.ID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		if _, getErr := r.GetByID(ctx, inv.ID); getErr != nil {
			return getErr
		}
		return ErrPaymentConflict
	}
	return nil
}

func (r *postgresRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	query := `UPDATE invoices SET status = $1, updated_at = $2 WHERE id = $3`
	cmdTag, err := r.db.Exec(ctx, query, string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("repository: failed to update invoice status %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
