package stock_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gescom/backoffice/internal/stock"
)

func TestMovementKind_Valid(t *testing.T) {
	for _, kind := range []stock.MovementKind{
		stock.KindStockIn, stock.KindStockOut, stock.KindAdjustment,
		stock.KindReturn, stock.KindDamage, stock.KindTransfer,
	} {
		assert.True(t, kind.Valid(), kind)
	}
	assert.False(t, stock.MovementKind("UNKNOWN").Valid())
	assert.False(t, stock.MovementKind("").Valid())
}

func TestFold_ReproducesOnHand(t *testing.T) {
	// Replaying a product's ledger from its starting quantity must land
	// on the final on-hand count.
	movements := []stock.Movement{
		{Kind: stock.KindStockIn, Quantity: 20, PreviousStock: 0, NewStock: 20},
		{Kind: stock.KindStockOut, Quantity: 5, PreviousStock: 20, NewStock: 15},
		{Kind: stock.KindAdjustment, Quantity: 3, PreviousStock: 15, NewStock: 12},
		{Kind: stock.KindReturn, Quantity: 2, PreviousStock: 12, NewStock: 14},
		{Kind: stock.KindDamage, Quantity: 1, PreviousStock: 14, NewStock: 13},
	}

	assert.Equal(t, 13, stock.Fold(0, movements))

	for i := range movements {
		m := movements[i]
		assert.Equal(t, m.NewStock-m.PreviousStock, m.SignedDelta(), m.Kind)
	}
}
