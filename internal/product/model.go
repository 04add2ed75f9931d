package product

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type Product struct {
	ID            uuid.UUID       `json:"id"`
	SKU           string          `json:"sku"`
	Name          string          `json:"name"`
	SellingPrice  decimal.Decimal `json:"selling_price"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	StockQuantity int             `json:"stock_quantity"`
	MinStockAlert int             `json:"min_stock_alert"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// New builds a product with its identity and timestamps already stamped,
// so the repository never fills fields behind the caller's back.
func New(sku, name string, sellingPrice, purchasePrice decimal.Decimal, minStockAlert int) (*Product, error) {
	if sku == "" {
		return nil, errors.New("product sku is required")
	}
	if name == "" {
		return nil, errors.New("product name is required")
	}
	if sellingPrice.IsNegative() || purchasePrice.IsNegative() {
		return nil, errors.New("product prices cannot be negative")
	}
	if minStockAlert < 0 {
		return nil, errors.New("min stock alert cannot be negative")
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("failed to generate product ID: %w", err)
	}

	now := time.Now().UTC()
	return &Product{
		ID:            id,
		SKU:           sku,
		Name:          name,
		SellingPrice:  sellingPrice,
		PurchasePrice: purchasePrice,
		StockQuantity: 0,
		MinStockAlert: minStockAlert,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (p *Product) IsLowStock() bool {
	return p.StockQuantity < p.MinStockAlert
}

func (p *Product) IsOutOfStock() bool {
	return p.StockQuantity <= 0
}
