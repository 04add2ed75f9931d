package stock

import (
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type MovementKind string

const (
	KindStockIn    MovementKind = "STOCK_IN"
	KindStockOut   MovementKind = "STOCK_OUT"
	KindAdjustment MovementKind = "ADJUSTMENT"
	KindReturn     MovementKind = "RETURN"
	KindDamage     MovementKind = "DAMAGE"
	KindTransfer   MovementKind = "TRANSFER"
)

func (k MovementKind) String() string {
	return string(k)
}

// Valid reports whether k is one of the persisted movement kinds.
func (k MovementKind) Valid() bool {
	switch k {
	case KindStockIn, KindStockOut, KindAdjustment, KindReturn, KindDamage, KindTransfer:
		return true
	}
	return false
}

// Movement is one immutable ledger entry. Quantity is positive and the
// kind carries the direction, except an adjustment that confirmed the
// counted quantity, which records zero. NewStock must equal
// PreviousStock plus the signed delta, and folding a product's
// movements in order reproduces its current on-hand quantity.
type Movement struct {
	ID            uuid.UUID        `json:"id"`
	ProductID     uuid.UUID        `json:"product_id"`
	Kind          MovementKind     `json:"kind"`
	Quantity      int              `json:"quantity"`
	PreviousStock int              `json:"previous_stock"`
	NewStock      int              `json:"new_stock"`
	UnitCost      *decimal.Decimal `json:"unit_cost,omitempty"`
	Reason        string           `json:"reason"`
	Reference     string           `json:"reference"`
	ActorID       *uuid.UUID       `json:"actor_id,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// SignedDelta is the change this movement applied to the on-hand
// quantity: positive for inbound kinds, negative for outbound ones.
// Adjustments carry the direction in NewStock vs PreviousStock.
func (m *Movement) SignedDelta() int {
	switch m.Kind {
	case KindStockIn, KindReturn:
		return m.Quantity
	case KindStockOut, KindDamage, KindTransfer:
		return -m.Quantity
	case KindAdjustment:
		return m.NewStock - m.PreviousStock
	}
	return 0
}

func newMovement(productID uuid.UUID, kind MovementKind, quantity, previousStock, newStock int, unitCost *decimal.Decimal, reason, reference string, actorID *uuid.UUID) (*Movement, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("failed to generate movement ID: %w", err)
	}
	return &Movement{
		ID:            id,
		ProductID:     productID,
		Kind:          kind,
		Quantity:      quantity,
		PreviousStock: previousStock,
		NewStock:      newStock,
		UnitCost:      unitCost,
		Reason:        reason,
		Reference:     reference,
		ActorID:       actorID,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// Fold replays movements in order from an initial on-hand quantity.
// Used by the conservation check in tests and reconciliation tooling.
func Fold(initial int, movements []Movement) int {
	onHand := initial
	for i := range movements {
		onHand += movements[i].SignedDelta()
	}
	return onHand
}
