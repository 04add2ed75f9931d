package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/gescom/backoffice/internal/product"
)

// ErrConflict means the product quantity moved between the service's
// read and the guarded write. The service re-reads and retries.
var ErrConflict = errors.New("stock changed concurrently")

type Repository interface {
	// Apply writes the ledger row and the product's new quantity in one
	// transaction. The product update is guarded on m.PreviousStock;
	// Apply returns ErrConflict when the guard does not match.
	Apply(ctx context.Context, m *Movement) error
	ListAll(ctx context.Context) ([]Movement, error)
	ListByProduct(ctx context.Context, productID uuid.UUID) ([]Movement, error)
	ListByKind(ctx context.Context, kind MovementKind) ([]Movement, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

const movementColumns = `id, product_id, kind, quantity, previous_stock, new_stock, unit_cost, reason, reference, actor_id, created_at`

func (r *postgresRepository) Apply(ctx context.Context, m *Movement) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Stringer("movement_id", m.ID).Msg("repository: failed to rollback stock transaction")
			}
			return
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			err = fmt.Errorf("repository: failed to commit stock transaction: %w", commitErr)
		}
	}()

	updateQuery := `
		UPDATE products
		SET stock_quantity = $1, updated_at = $2
		WHERE id = $3 AND stock_quantity = $4
	`
	cmdTag, err := tx.Exec(ctx, updateQuery, m.NewStock, time.Now().UTC(), m.ProductID, m.PreviousStock)
	if err != nil {
		return fmt.Errorf("repository: failed to update product stock %s: %w", m.ProductID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		var exists bool
		if checkErr := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, m.ProductID).Scan(&exists); checkErr != nil {
			return fmt.Errorf("repository: failed to check product %s: %w", m.ProductID, checkErr)
		}
		if !exists {
			return product.ErrNotFound
		}
		return ErrConflict
	}

	insertQuery := `
		INSERT INTO stock_movements (` + movementColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = tx.Exec(ctx, insertQuery,
		m.ID, m.ProductID, string(m.Kind), m.Quantity, m.PreviousStock, m.NewStock,
		m.UnitCost, m.Reason, m.Reference, m.ActorID, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to insert stock movement: %w", err)
	}
	return nil
}

func (r *postgresRepository) ListAll(ctx context.Context) ([]Movement, error) {
	query := `SELECT ` + movementColumns + ` FROM stock_movements ORDER BY created_at DESC`
	return r.queryMovements(ctx, query)
}

func (r *postgresRepository) ListByProduct(ctx context.Context, productID uuid.UUID) ([]Movement, error) {
	query := `SELECT ` + movementColumns + ` FROM stock_movements WHERE product_id = $1 ORDER BY created_at`
	return r.queryMovements(ctx, query, productID)
}

func (r *postgresRepository) ListByKind(ctx context.Context, kind MovementKind) ([]Movement, error) {
	query := `SELECT ` + movementColumns + ` FROM stock_movements WHERE kind = $1 ORDER BY created_at DESC`
	return r.queryMovements(ctx, query, string(kind))
}

func (r *postgresRepository) queryMovements(ctx context.Context, query string, args ...any) ([]Movement, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query stock movements: %w", err)
	}
	defer rows.Close()

	movements := make([]Movement, 0)
	for rows.Next() {
		var m Movement
		err := rows.Scan(
			&m.ID, &m.ProductID, &m.Kind, &m.Quantity, &m.PreviousStock, &m.NewStock,
			&m.UnitCost, &m.Reason, &m.Reference, &m.ActorID, &m.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan stock movement: %w", err)
		}
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating stock movements: %w", err)
	}
	return movements, nil
}
