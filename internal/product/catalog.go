package product

import (
	"context"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

// Catalog exposes the read-only view the order flow needs: name for
// error messages, a price to snapshot, and the current on-hand count.
type Catalog struct {
	repo Repository
}

func NewCatalog(repo Repository) *Catalog {
	return &Catalog{repo: repo}
}

func (c *Catalog) ProductForSale(ctx context.Context, id uuid.UUID) (string, decimal.Decimal, int, error) {
	p, err := c.repo.GetByID(ctx, id)
	if err != nil {
		return "", decimal.Zero, 0, err
	}
	return p.Name, p.SellingPrice, p.StockQuantity, nil
}
