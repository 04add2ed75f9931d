package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("payment not found")

type Repository interface {
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	GetBySessionID(ctx context.Context, sessionID string) (*Payment, error)
	GetByToken(ctx context.Context, token string) (*Payment, error)
	SetGatewaySession(ctx context.Context, id uuid.UUID, sessionID string) error

	// The Mark* methods transition only from an open status and report
	// whether the transition actually happened. A false return means the
	// row was already terminal: the caller is looking at a duplicate
	// webhook delivery and must not apply side effects again.
	MarkSucceeded(ctx context.Context, id uuid.UUID, transactionID string, completedAt time.Time) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	MarkCancelled(ctx context.Context, id uuid.UUID, reason string) (bool, error)

	// CancelExpired sweeps every still-open payment past its expiry in
	// one statement; re-running it is naturally a no-op.
	CancelExpired(ctx context.Context, now time.Time, reason string) (int64, error)
	CountByStatus(ctx context.Context) (map[Status]int64, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

const paymentColumns = `id, invoice_id, amount, method, card_type, card_last_four, cardholder_name, customer_email, customer_name, client_ip, user_agent, security_token, gateway_provider, gateway_session_id, gateway_transaction_id, failure_reason, status, expires_at, completed_at, created_at, updated_at`

func (r *postgresRepository) Create(ctx context.Context, p *Payment) error {
	query := `
		INSERT INTO external_payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`
	_, err := r.db.Exec(ctx, query,
		p.ID, p.InvoiceID, p.Amount, string(p.Method), p.CardType, p.CardLastFour, p.CardholderName,
		p.CustomerEmail, p.CustomerName, p.ClientIP, p.UserAgent, p.SecurityToken,
		p.GatewayProvider, p.GatewaySessionID, p.GatewayTransactionID, p.FailureReason,
		string(p.Status), p.ExpiresAt, p.CompletedAt, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to insert payment: %w", err)
	}
	return nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM external_payments WHERE id = $1`, id)
}

func (r *postgresRepository) GetBySessionID(ctx context.Context, sessionID string) (*Payment, error) {
	// Rows without a gateway session store '', so an empty id would match
	// an arbitrary pending payment.
	if sessionID == "" {
		return nil, ErrNotFound
	}
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM external_payments WHERE gateway_session_id = $1`, sessionID)
}

func (r *postgresRepository) GetByToken(ctx context.Context, token string) (*Payment, error) {
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM external_payments WHERE security_token = $1`, token)
}

func (r *postgresRepository) getOne(ctx context.Context, query string, arg any) (*Payment, error) {
	var p Payment
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&p.ID, &p.InvoiceID, &p.Amount, &p.Method, &p.CardType, &p.CardLastFour, &p.CardholderName,
		&p.CustomerEmail, &p.CustomerName, &p.ClientIP, &p.UserAgent, &p.SecurityToken,
		&p.GatewayProvider, &p.GatewaySessionID, &p.GatewayTransactionID, &p.FailureReason,
		&p.Status, &p.ExpiresAt, &p.CompletedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("repository: failed to select payment: %w", err)
	}
	return &p, nil
}

func (r *postgresRepository) SetGatewaySession(ctx context.Context, id uuid.UUID, sessionID string) error {
	query := `UPDATE external_payments SET gateway_session_id = $1, status = $2, updated_at = $3 WHERE id = $4`
	cmdTag, err := r.db.Exec(ctx, query, sessionID, string(StatusProcessing), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("repository: failed to set gateway session for payment %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *postgresRepository) MarkSucceeded(ctx context.Context, id uuid.UUID, transactionID string, completedAt time.Time) (bool, error) {
	query := `
		UPDATE external_payments
		SET status = $1, gateway_transaction_id = $2, completed_at = $3, updated_at = $4
		WHERE id = $5 AND status IN ($6, $7)
	`
	cmdTag, err := r.db.Exec(ctx, query,
		string(StatusSucceeded), transactionID, completedAt, time.Now().UTC(),
		id, string(StatusPending), string(StatusProcessing),
	)
	if err != nil {
		return false, fmt.Errorf("repository: failed to mark payment %s succeeded: %w", id, err)
	}
	return cmdTag.RowsAffected() > 0, nil
}

func (r *postgresRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	return r.markClosed(ctx, id, StatusFailed, reason)
}

func (r *postgresRepository) MarkCancelled(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	return r.markClosed(ctx, id, StatusCancelled, reason)
}

func (r *postgresRepository) markClosed(ctx context.Context, id uuid.UUID, status Status, reason string) (bool, error) {
	query := `
		UPDATE external_payments
		SET status = $1, failure_reason = $2, updated_at = $3
		WHERE id = $4 AND status IN ($5, $6)
	`
	cmdTag, err := r.db.Exec(ctx, query,
		string(status), reason, time.Now().UTC(),
		id, string(StatusPending), string(StatusProcessing),
	)
	if err != nil {
		return false, fmt.Errorf("repository: failed to mark payment %s %s: %w", id, status, err)
	}
	return cmdTag.RowsAffected() > 0, nil
}

func (r *postgresRepository) CancelExpired(ctx context.Context, now time.Time, reason string) (int64, error) {
	query := `
		UPDATE external_payments
		SET status = $1, failure_reason = $2, updated_at = $3
		WHERE status IN ($4, $5) AND expires_at < $6
	`
	cmdTag, err := r.db.Exec(ctx, query,
		string(StatusCancelled), reason, time.Now().UTC(),
		string(StatusPending), string(StatusProcessing), now,
	)
	if err != nil {
		return 0, fmt.Errorf("repository: failed to cancel expired payments: %w", err)
	}
	return cmdTag.RowsAffected(), nil
}

func (r *postgresRepository) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM external_payments GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to count payments: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("repository: failed to scan payment count: %w", err)
		}
		counts[Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating payment counts: %w", err)
	}
	return counts, nil
}
