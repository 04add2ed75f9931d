package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gescom/backoffice/internal/product"
)

var (
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrQuantityNotPositive = errors.New("quantity must be positive")
	ErrNegativeQuantity    = errors.New("stock quantity cannot be negative")

	// ErrContention is returned after the guarded write kept losing
	// races past the retry budget.
	ErrContention = errors.New("stock update contention, try again")
)

// One losing write per retry is already rare; five means something is
// hammering a single product and the caller should back off.
const maxApplyRetries = 5

type Statistics struct {
	TotalProducts      int             `json:"total_products"`
	LowStockCount      int             `json:"low_stock_count"`
	OutOfStockCount    int             `json:"out_of_stock_count"`
	TotalStockQuantity int             `json:"total_stock_quantity"`
	TotalStockValue    decimal.Decimal `json:"total_stock_value"`
}

type Service interface {
	Receive(ctx context.Context, productID uuid.UUID, quantity int, unitCost *decimal.Decimal, reason, reference string, actorID *uuid.UUID) (*Movement, error)
	Issue(ctx context.Context, productID uuid.UUID, quantity int, reason, reference string, actorID *uuid.UUID) (*Movement, error)
	Adjust(ctx context.Context, productID uuid.UUID, newQuantity int, reason string, actorID *uuid.UUID) (*Movement, error)
	RecordDamage(ctx context.Context, productID uuid.UUID, quantity int, reason string, actorID *uuid.UUID) (*Movement, error)

	Movements(ctx context.Context) ([]Movement, error)
	MovementsByProduct(ctx context.Context, productID uuid.UUID) ([]Movement, error)
	MovementsByKind(ctx context.Context, kind MovementKind) ([]Movement, error)
	LowStockProducts(ctx context.Context) ([]product.Product, error)
	OutOfStockProducts(ctx context.Context) ([]product.Product, error)
	Stats(ctx context.Context) (*Statistics, error)
}

type service struct {
	movements Repository
	products  product.Repository
}

func NewService(movements Repository, products product.Repository) Service {
	return &service{movements: movements, products: products}
}

func (s *service) Receive(ctx context.Context, productID uuid.UUID, quantity int, unitCost *decimal.Decimal, reason, reference string, actorID *uuid.UUID) (*Movement, error) {
	if quantity <= 0 {
		return nil, ErrQuantityNotPositive
	}
	return s.apply(ctx, productID, KindStockIn, func(onHand int) (int, int, error) {
		return quantity, onHand + quantity, nil
	}, unitCost, reason, reference, actorID)
}

func (s *service) Issue(ctx context.Context, productID uuid.UUID, quantity int, reason, reference string, actorID *uuid.UUID) (*Movement, error) {
	if quantity <= 0 {
		return nil, ErrQuantityNotPositive
	}
	return s.apply(ctx, productID, KindStockOut, func(onHand int) (int, int, error) {
		if onHand < quantity {
			return 0, 0, fmt.Errorf("%w: available %d, requested %d", ErrInsufficientStock, onHand, quantity)
		}
		return quantity, onHand - quantity, nil
	}, nil, reason, reference, actorID)
}

func (s *service) Adjust(ctx context.Context, productID uuid.UUID, newQuantity int, reason string, actorID *uuid.UUID) (*Movement, error) {
	if newQuantity < 0 {
		return nil, ErrNegativeQuantity
	}
	return s.apply(ctx, productID, KindAdjustment, func(onHand int) (int, int, error) {
		diff := newQuantity - onHand
		if diff < 0 {
			diff = -diff
		}
		return diff, newQuantity, nil
	}, nil, reason, "", actorID)
}

func (s *service) RecordDamage(ctx context.Context, productID uuid.UUID, quantity int, reason string, actorID *uuid.UUID) (*Movement, error) {
	if quantity <= 0 {
		return nil, ErrQuantityNotPositive
	}
	return s.apply(ctx, productID, KindDamage, func(onHand int) (int, int, error) {
		if onHand < quantity {
			return 0, 0, fmt.Errorf("%w: available %d, requested %d", ErrInsufficientStock, onHand, quantity)
		}
		return quantity, onHand - quantity, nil
	}, nil, reason, "", actorID)
}

// apply runs the read-compute-write loop. compute receives the current
// on-hand quantity and returns the movement quantity and the resulting
// quantity; the guarded repository write closes the check-then-deduct
// race, and a lost race re-reads and retries.
func (s *service) apply(ctx context.Context, productID uuid.UUID, kind MovementKind, compute func(onHand int) (int, int, error), unitCost *decimal.Decimal, reason, reference string, actorID *uuid.UUID) (*Movement, error) {
	for attempt := 0; attempt < maxApplyRetries; attempt++ {
		p, err := s.products.GetByID(ctx, productID)
		if err != nil {
			return nil, err
		}

		quantity, newStock, err := compute(p.StockQuantity)
		if err != nil {
			return nil, err
		}

		m, err := newMovement(productID, kind, quantity, p.StockQuantity, newStock, unitCost, reason, reference, actorID)
		if err != nil {
			return nil, err
		}

		err = s.movements.Apply(ctx, m)
		if errors.Is(err, ErrConflict) {
			log.Debug().
				Stringer("product_id", productID).
				Str("kind", kind.String()).
				Int("attempt", attempt+1).
				Msg("service: stock write lost a race, retrying")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("service: failed to apply stock movement: %w", err)
		}

		log.Info().
			Stringer("product_id", productID).
			Str("kind", kind.String()).
			Int("quantity", quantity).
			Int("new_stock", newStock).
			Msg("service: stock movement recorded")
		return m, nil
	}
	return nil, ErrContention
}

func (s *service) Movements(ctx context.Context) ([]Movement, error) {
	return s.movements.ListAll(ctx)
}

func (s *service) MovementsByProduct(ctx context.Context, productID uuid.UUID) ([]Movement, error) {
	return s.movements.ListByProduct(ctx, productID)
}

func (s *service) MovementsByKind(ctx context.Context, kind MovementKind) ([]Movement, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("service: unknown movement kind %q", kind)
	}
	return s.movements.ListByKind(ctx, kind)
}

func (s *service) LowStockProducts(ctx context.Context) ([]product.Product, error) {
	return s.products.ListLowStock(ctx)
}

func (s *service) OutOfStockProducts(ctx context.Context) ([]product.Product, error) {
	all, err := s.products.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]product.Product, 0)
	for _, p := range all {
		if p.IsOutOfStock() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *service) Stats(ctx context.Context) (*Statistics, error) {
	all, err := s.products.List(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Statistics{
		TotalProducts:   len(all),
		TotalStockValue: decimal.Zero,
	}
	for _, p := range all {
		if p.IsLowStock() {
			stats.LowStockCount++
		}
		if p.IsOutOfStock() {
			stats.OutOfStockCount++
		}
		stats.TotalStockQuantity += p.StockQuantity
		stats.TotalStockValue = stats.TotalStockValue.Add(p.PurchasePrice.Mul(decimal.NewFromInt(int64(p.StockQuantity))))
	}
	return stats, nil
}
