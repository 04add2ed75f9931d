package stock_test

import (
	"context"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gescom/backoffice/internal/product"
	"github.com/gescom/backoffice/internal/stock"
)

type mockMovementRepository struct {
	applyFunc         func(ctx context.Context, m *stock.Movement) error
	listAllFunc       func(ctx context.Context) ([]stock.Movement, error)
	listByProductFunc func(ctx context.Context, productID uuid.UUID) ([]stock.Movement, error)
	listByKindFunc    func(ctx context.Context, kind stock.MovementKind) ([]stock.Movement, error)
}

func (m *mockMovementRepository) Apply(ctx context.Context, mv *stock.Movement) error {
	return m.applyFunc(ctx, mv)
}

func (m *mockMovementRepository) ListAll(ctx context.Context) ([]stock.Movement, error) {
	return m.listAllFunc(ctx)
}

func (m *mockMovementRepository) ListByProduct(ctx context.Context, productID uuid.UUID) ([]stock.Movement, error) {
	return m.listByProductFunc(ctx, productID)
}

func (m *mockMovementRepository) ListByKind(ctx context.Context, kind stock.MovementKind) ([]stock.Movement, error) {
	return m.listByKindFunc(ctx, kind)
}

type mockProductRepository struct {
	createFunc       func(ctx context.Context, p *product.Product) error
	getByIDFunc      func(ctx context.Context, id uuid.UUID) (*product.Product, error)
	listFunc         func(ctx context.Context) ([]product.Product, error)
	listLowStockFunc func(ctx context.Context) ([]product.Product, error)
}

func (m *mockProductRepository) Create(ctx context.Context, p *product.Product) error {
	return m.createFunc(ctx, p)
}

func (m *mockProductRepository) GetByID(ctx context.Context, id uuid.UUID) (*product.Product, error) {
	return m.getByIDFunc(ctx, id)
}

func (m *mockProductRepository) List(ctx context.Context) ([]product.Product, error) {
	return m.listFunc(ctx)
}

func (m *mockProductRepository) ListLowStock(ctx context.Context) ([]product.Product, error) {
	return m.listLowStockFunc(ctx)
}

func testProduct(t *testing.T, quantity int) *product.Product {
	t.Helper()
	p, err := product.New("SKU-001", "Widget", decimal.NewFromInt(25), decimal.NewFromInt(10), 5)
	require.NoError(t, err)
	p.StockQuantity = quantity
	return p
}

func TestService_Receive(t *testing.T) {
	productID := uuid.Must(uuid.NewV4())

	t.Run("records_inbound_movement", func(t *testing.T) {
		var applied *stock.Movement
		movements := &mockMovementRepository{
			applyFunc: func(ctx context.Context, m *stock.Movement) error {
				applied = m
				return nil
			},
		}
		products := &mockProductRepository{
			getByIDFunc: func(ctx context.Context, id uuid.UUID) (*product.Product, error) {
				return testProduct(t, 10), nil
			},
		}

		svc := stock.NewService(movements, products)
		m, err := svc.Receive(context.Background(), productID, 15, nil, "supplier delivery", "PO-42", nil)

		require.NoError(t, err)
		assert.Equal(t, stock.KindStockIn, m.Kind)
		assert.Equal(t, 15, m.Quantity)
		assert.Equal(t, 10, m.PreviousStock)
		assert.Equal(t, 25, m.NewStock)
		assert.Equal(t, "PO-42", m.Reference)
		require.NotNil(t, applied)
		assert.Equal(t, m.ID, applied.ID)
	})

	t.Run("rejects_non_positive_quantity", func(t *testing.T) {
		svc := stock.NewService(&mockMovementRepository{}, &mockProductRepository{})

		_, err := svc.Receive(context.Background(), productID, 0, nil, "", "", nil)
		assert.ErrorIs(t, err, stock.ErrQuantityNotPositive)

		_, err = svc.Receive(context.Background(), productID, -3, nil, "", "", nil)
		assert.ErrorIs(t, err, stock.ErrQuantityNotPositive)
	})

	t.Run("retries_after_lost_race", func(t *testing.T) {
		attempts := 0
		movements := &mockMovementRepository{
			applyFunc: func(ctx context.Context, m *stock.Movement) error {
				attempts++
				if attempts < 3 {
					return stock.ErrConflict
				}
				return nil
			},
		}
		products := &mockProductRepository{
			getByIDFunc: func(ctx context.Context, id uuid.UUID) (*product.Product, error) {
				return testProduct(t, 10), nil
			},
		}

		svc := stock.NewService(movements, products)
		_, err := svc.Receive(context.Background(), productID, 5, nil, "", "", nil)

		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("gives_up_after_retry_budget", func(t *testing.T) {
		movements := &mockMovementRepository{
			applyFunc: func(ctx context.Context, m *stock.Movement) error {
				return stock.ErrConflict
			},
		}
		products := &mockProductRepository{
			getByIDFunc: func(ctx context.Context, id uuid.UUID) (*product.Product, error) {
				return testProduct(t, 10), nil
			},
		}

		svc := stock.NewService(movements, products)
		_, err := svc.Receive(context.Background(), productID, 5, nil, "", "", nil)

		assert.ErrorIs(t, err, stock.ErrContention)
	})
}

func TestService_Issue(t *testing.T) {
	productID := uuid.Must(uuid.NewV4())

	t.Run("deducts_available_stock", func(t *testing.T) {
		movements := &mockMovementRepository{
			applyFunc: func(ctx context.Context, m *stock.Movement) error { return nil },
		}
		products := &mockProductRepository{
			getByIDFunc: func(ctx context.Context, id uuid.UUID) (*product.Product, error) {
				return testProduct(t, 8), nil
			},
		}

		svc := stock.NewService(movements, products)
		m, err := svc.Issue(context.Background(), productID, 8, "sale", "ORD-1", nil)

		require.NoError(t, err)
		assert.Equal(t, stock.KindStockOut, m.Kind)
		assert.Equal(t, 0, m.NewStock)
	})

	t.Run("rejects_insufficient_stock", func(t *testing.T) {
		products := &mockProductRepository{
			getByIDFunc: func(ctx context.Context, id uuid.UUID) (*product.Product, error) {
				return testProduct(t, 3), nil
			},
		}

		svc := stock.NewService(&mockMovementRepository{}, products)
		_, err := svc.Issue(context.Background(), productID, 5, "sale", "", nil)

		assert.ErrorIs(t, err, stock.ErrInsufficientStock)
		assert.ErrorContains(t, err, "available 3, requested 5")
	})

	t.Run("unknown_product", func(t *testing.T) {
		products := &mockProductRepository{
			getByIDFunc: func(ctx context.Context, id uuid.UUID) (*product.Product, error) {
				return nil, product.ErrNotFound
			},
		}

		svc := stock.NewService(&mockMovementRepository{}, products)
		_, err := svc.Issue(context.Background(), productID, 1, "", "", nil)

		assert.ErrorIs(t, err, product.ErrNotFound)
	})
}

func TestService_Adjust(t *testing.T) {
	productID := uuid.Must(uuid.NewV4())

	t.Run("movement_quantity_is_absolute_difference", func(t *testing.T) {
		var applied *stock.Movement
		movements := &mockMovementRepository{
			applyFunc: func(ctx context.Context, m *stock.Movement) error {
				applied = m
				return nil
			},
		}
		products := &mockProductRepository{
			getByIDFunc: func(ctx context.Context, id uuid.UUID) (*product.Product, error) {
				return testProduct(t, 20), nil
			},
		}

		svc := stock.NewService(movements, products)
		_, err := svc.Adjust(context.Background(), productID, 12, "annual count", nil)

		require.NoError(t, err)
		assert.Equal(t, stock.KindAdjustment, applied.Kind)
		assert.Equal(t, 8, applied.Quantity)
		assert.Equal(t, 20, applied.PreviousStock)
		assert.Equal(t, 12, applied.NewStock)
	})

	t.Run("confirming_the_current_count_records_zero_diff", func(t *testing.T) {
		var applied *stock.Movement
		movements := &mockMovementRepository{
			applyFunc: func(ctx context.Context, m *stock.Movement) error {
				applied = m
				return nil
			},
		}
		products := &mockProductRepository{
			getByIDFunc: func(ctx context.Context, id uuid.UUID) (*product.Product, error) {
				return testProduct(t, 20), nil
			},
		}

		svc := stock.NewService(movements, products)
		m, err := svc.Adjust(context.Background(), productID, 20, "annual count", nil)

		require.NoError(t, err)
		require.NotNil(t, applied)
		assert.Equal(t, 0, m.Quantity)
		assert.Equal(t, 20, m.PreviousStock)
		assert.Equal(t, 20, m.NewStock)
		assert.Equal(t, 0, m.SignedDelta())
	})

	t.Run("rejects_negative_target", func(t *testing.T) {
		svc := stock.NewService(&mockMovementRepository{}, &mockProductRepository{})
		_, err := svc.Adjust(context.Background(), productID, -1, "", nil)
		assert.ErrorIs(t, err, stock.ErrNegativeQuantity)
	})
}

func TestService_RecordDamage(t *testing.T) {
	productID := uuid.Must(uuid.NewV4())

	products := &mockProductRepository{
		getByIDFunc: func(ctx context.Context, id uuid.UUID) (*product.Product, error) {
			return testProduct(t, 4), nil
		},
	}
	movements := &mockMovementRepository{
		applyFunc: func(ctx context.Context, m *stock.Movement) error { return nil },
	}
	svc := stock.NewService(movements, products)

	m, err := svc.RecordDamage(context.Background(), productID, 4, "water damage", nil)
	require.NoError(t, err)
	assert.Equal(t, stock.KindDamage, m.Kind)
	assert.Equal(t, 0, m.NewStock)

	_, err = svc.RecordDamage(context.Background(), productID, 5, "water damage", nil)
	assert.ErrorIs(t, err, stock.ErrInsufficientStock)
}

func TestService_MovementsByKind(t *testing.T) {
	movements := &mockMovementRepository{
		listByKindFunc: func(ctx context.Context, kind stock.MovementKind) ([]stock.Movement, error) {
			return []stock.Movement{{Kind: kind}}, nil
		},
	}
	svc := stock.NewService(movements, &mockProductRepository{})

	got, err := svc.MovementsByKind(context.Background(), stock.KindReturn)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = svc.MovementsByKind(context.Background(), stock.MovementKind("BOGUS"))
	assert.Error(t, err)
}

func TestService_Stats(t *testing.T) {
	products := &mockProductRepository{
		listFunc: func(ctx context.Context) ([]product.Product, error) {
			return []product.Product{
				{StockQuantity: 0, MinStockAlert: 5, PurchasePrice: decimal.NewFromInt(10)},
				{StockQuantity: 3, MinStockAlert: 5, PurchasePrice: decimal.NewFromInt(2)},
				{StockQuantity: 50, MinStockAlert: 5, PurchasePrice: decimal.NewFromInt(1)},
			}, nil
		},
	}
	svc := stock.NewService(&mockMovementRepository{}, products)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalProducts)
	assert.Equal(t, 2, stats.LowStockCount)
	assert.Equal(t, 1, stats.OutOfStockCount)
	assert.Equal(t, 53, stats.TotalStockQuantity)
	assert.True(t, stats.TotalStockValue.Equal(decimal.NewFromInt(56)))
}
