package order

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusDraft      Status = "DRAFT"
	StatusConfirmed  Status = "CONFIRMED"
	StatusProcessing Status = "PROCESSING"
	StatusShipped    Status = "SHIPPED"
	StatusDelivered  Status = "DELIVERED"
	StatusInvoiced   Status = "INVOICED"
	StatusCancelled  Status = "CANCELLED"
)

func (s Status) String() string {
	return string(s)
}

var allowedTransitions = map[Status]map[Status]bool{
	StatusDraft: {
		StatusConfirmed: true,
		StatusCancelled: true,
	},
	StatusConfirmed: {
		StatusProcessing: true,
		StatusCancelled:  true,
	},
	StatusProcessing: {
		StatusShipped:   true,
		StatusDelivered: true,
		StatusCancelled: true,
	},
	StatusShipped: {
		StatusDelivered: true,
		StatusCancelled: true,
	},
	StatusDelivered: {
		StatusInvoiced: true,
	},
	StatusInvoiced:  {},
	StatusCancelled: {},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to Status) bool {
	return allowedTransitions[from][to]
}

type Item struct {
	ID        uuid.UUID       `json:"id"`
	OrderID   uuid.UUID       `json:"order_id"`
	ProductID uuid.UUID       `json:"product_id"`
	Quantity  int             `json:"quantity"`
	// UnitPrice is snapshotted from the product at order time and never
	// re-read: later price changes must not affect existing orders.
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
	CreatedAt  time.Time       `json:"created_at"`
}

type Order struct {
	ID          uuid.UUID       `json:"id"`
	OrderNumber string          `json:"order_number"`
	Status      Status          `json:"status"`
	ClientID    uuid.UUID       `json:"client_id"`
	CreatedBy   uuid.UUID       `json:"created_by"`
	Items       []Item          `json:"items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Discount    decimal.Decimal `json:"discount"`
	Tax         decimal.Decimal `json:"tax"`
	FinalAmount decimal.Decimal `json:"final_amount"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// IsModifiable reports whether items and totals may still change.
func (o *Order) IsModifiable() bool {
	return o.Status == StatusDraft || o.Status == StatusConfirmed
}

func (o *Order) IsTerminal() bool {
	return o.Status == StatusInvoiced || o.Status == StatusCancelled
}

// New builds an order with identity, number and timestamps stamped up
// front; nothing is filled in later by persistence hooks.
func New(clientID, createdBy uuid.UUID, status Status, discount, tax decimal.Decimal) (*Order, error) {
	if status != StatusDraft && status != StatusConfirmed {
		return nil, fmt.Errorf("order cannot be created with status %s", status)
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("failed to generate order ID: %w", err)
	}
	number, err := newOrderNumber()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Order{
		ID:          id,
		OrderNumber: number,
		Status:      status,
		ClientID:    clientID,
		CreatedBy:   createdBy,
		Items:       make([]Item, 0),
		TotalAmount: decimal.Zero,
		Discount:    discount,
		Tax:         tax,
		FinalAmount: decimal.Zero,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func newItem(orderID, productID uuid.UUID, quantity int, unitPrice decimal.Decimal) (Item, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return Item{}, fmt.Errorf("failed to generate order item ID: %w", err)
	}
	return Item{
		ID:         id,
		OrderID:    orderID,
		ProductID:  productID,
		Quantity:   quantity,
		UnitPrice:  unitPrice,
		TotalPrice: unitPrice.Mul(decimal.NewFromInt(int64(quantity))),
		CreatedAt:  time.Now().UTC(),
	}, nil
}

func newOrderNumber() (string, error) {
	suffix := make([]byte, 2)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("failed to generate order number: %w", err)
	}
	return fmt.Sprintf("ORD-%s-%s", time.Now().UTC().Format("20060102"), strings.ToUpper(hex.EncodeToString(suffix))), nil
}
