package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gescom/backoffice/internal/audit"
	"github.com/gescom/backoffice/internal/stock"
)

var (
	ErrNotModifiable     = errors.New("order can no longer be modified")
	ErrAlreadyCancelled  = errors.New("order is already cancelled")
	ErrInvalidTransition = errors.New("invalid order status transition")
	ErrNoItems           = errors.New("order must contain at least one item")
	ErrNotDeletable      = errors.New("only cancelled orders can be deleted")
)

type ItemInput struct {
	ProductID uuid.UUID
	Quantity  int
}

type CreateInput struct {
	ClientID uuid.UUID
	ActorID  uuid.UUID
	Status   Status
	Discount decimal.Decimal
	Tax      decimal.Decimal
	Items    []ItemInput
}

// Biller is notified when an order reaches a billable state so the
// invoice side can pick it up. Wired after construction to keep the
// order and invoice packages from depending on each other.
type Biller interface {
	OrderDelivered(ctx context.Context, orderID uuid.UUID, actorID *uuid.UUID)
}

type Service interface {
	Create(ctx context.Context, input CreateInput) (*Order, error)
	Update(ctx context.Context, id uuid.UUID, items []ItemInput, actorID uuid.UUID) (*Order, error)
	Cancel(ctx context.Context, id uuid.UUID, actorID uuid.UUID) error
	UpdateStatus(ctx context.Context, id uuid.UUID, newStatus Status, actorID uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID, actorID uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetByNumber(ctx context.Context, number string) (*Order, error)
	ListByClient(ctx context.Context, clientID uuid.UUID) ([]Order, error)
	ListByStatus(ctx context.Context, status Status) ([]Order, error)
	SetBiller(b Biller)
}

// Catalog is the slice of the product side the order flow needs:
// availability reads and price snapshots.
type Catalog interface {
	ProductForSale(ctx context.Context, id uuid.UUID) (name string, price decimal.Decimal, onHand int, err error)
}

type service struct {
	orders  Repository
	stock   stock.Service
	audit   audit.Log
	catalog Catalog
	biller  Biller
}

func NewService(orders Repository, stockSvc stock.Service, auditLog audit.Log, catalog Catalog) Service {
	return &service{
		orders:  orders,
		stock:   stockSvc,
		audit:   auditLog,
		catalog: catalog,
	}
}

func (s *service) SetBiller(b Biller) {
	s.biller = b
}

// buildItems validates availability and snapshots prices for the given
// inputs. It does not touch stock; deduction happens afterwards so the
// order row exists before the ledger references it.
func (s *service) buildItems(ctx context.Context, orderID uuid.UUID, inputs []ItemInput) ([]Item, decimal.Decimal, error) {
	if len(inputs) == 0 {
		return nil, decimal.Zero, ErrNoItems
	}

	items := make([]Item, 0, len(inputs))
	total := decimal.Zero
	for _, in := range inputs {
		if in.Quantity <= 0 {
			return nil, decimal.Zero, fmt.Errorf("service: quantity for product %s must be greater than zero", in.ProductID)
		}

		name, price, onHand, err := s.catalog.ProductForSale(ctx, in.ProductID)
		if err != nil {
			return nil, decimal.Zero, err
		}
		if onHand < in.Quantity {
			return nil, decimal.Zero, fmt.Errorf("%w for product %q: available %d, requested %d",
				stock.ErrInsufficientStock, name, onHand, in.Quantity)
		}

		item, err := newItem(orderID, in.ProductID, in.Quantity, price)
		if err != nil {
			return nil, decimal.Zero, err
		}
		items = append(items, item)
		total = total.Add(item.TotalPrice)
	}
	return items, total, nil
}

// deductItems issues stock for every item. On failure it receives back
// what was already issued so the ledger stays conserved, then reports
// the original error.
func (s *service) deductItems(ctx context.Context, orderNumber string, items []Item, actorID *uuid.UUID) error {
	for i := range items {
		item := &items[i]
		_, err := s.stock.Issue(ctx, item.ProductID, item.Quantity, "sale", orderNumber, actorID)
		if err != nil {
			for j := 0; j < i; j++ {
				if _, restoreErr := s.stock.Receive(ctx, items[j].ProductID, items[j].Quantity, nil, "sale rollback", orderNumber, actorID); restoreErr != nil {
					log.Error().Err(restoreErr).
						Str("order_number", orderNumber).
						Stringer("product_id", items[j].ProductID).
						Msg("service: failed to restore stock after partial deduction")
				}
			}
			return err
		}
	}
	return nil
}

func (s *service) restoreItems(ctx context.Context, orderNumber, reason string, items []Item, actorID *uuid.UUID) {
	for i := range items {
		item := &items[i]
		if _, err := s.stock.Receive(ctx, item.ProductID, item.Quantity, nil, reason, orderNumber, actorID); err != nil {
			log.Error().Err(err).
				Str("order_number", orderNumber).
				Stringer("product_id", item.ProductID).
				Msg("service: failed to restore stock")
		}
	}
}

func (s *service) Create(ctx context.Context, input CreateInput) (*Order, error) {
	status := input.Status
	if status == "" {
		status = StatusDraft
	}

	o, err := New(input.ClientID, input.ActorID, status, input.Discount, input.Tax)
	if err != nil {
		return nil, err
	}

	items, total, err := s.buildItems(ctx, o.ID, input.Items)
	if err != nil {
		return nil, err
	}
	o.Items = items
	o.TotalAmount = total
	o.FinalAmount = total.Sub(o.Discount).Add(o.Tax)

	if err := s.orders.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("service: failed to create order: %w", err)
	}

	if err := s.deductItems(ctx, o.OrderNumber, o.Items, &input.ActorID); err != nil {
		// The availability check raced with another order; undo the row.
		if delErr := s.orders.Delete(ctx, o.ID); delErr != nil {
			log.Error().Err(delErr).Stringer("order_id", o.ID).Msg("service: failed to delete order after stock deduction failure")
		}
		return nil, err
	}

	s.audit.Record(ctx, &input.ActorID, audit.ActionSale, "Order", o.ID,
		fmt.Sprintf("Created order %s, amount %s", o.OrderNumber, o.FinalAmount.StringFixed(2)))

	log.Info().
		Stringer("order_id", o.ID).
		Str("order_number", o.OrderNumber).
		Stringer("client_id", o.ClientID).
		Msg("service: order created")
	return o, nil
}

func (s *service) Update(ctx context.Context, id uuid.UUID, inputs []ItemInput, actorID uuid.UUID) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !o.IsModifiable() {
		return nil, ErrNotModifiable
	}

	// Item sets are replaced wholesale, not diffed: restore the stock of
	// every current item first, then validate and deduct the new set.
	oldItems := o.Items
	s.restoreItems(ctx, o.OrderNumber, "order update", oldItems, &actorID)

	newItems, total, err := s.buildItems(ctx, o.ID, inputs)
	if err != nil {
		// Put the original items back so the restore above is undone.
		if dedErr := s.deductItems(ctx, o.OrderNumber, oldItems, &actorID); dedErr != nil {
			log.Error().Err(dedErr).Stringer("order_id", o.ID).Msg("service: failed to re-deduct original items after rejected update")
		}
		return nil, err
	}

	if err := s.deductItems(ctx, o.OrderNumber, newItems, &actorID); err != nil {
		if dedErr := s.deductItems(ctx, o.OrderNumber, oldItems, &actorID); dedErr != nil {
			log.Error().Err(dedErr).Stringer("order_id", o.ID).Msg("service: failed to re-deduct original items after rejected update")
		}
		return nil, err
	}

	o.Items = newItems
	o.TotalAmount = total
	o.FinalAmount = total.Sub(o.Discount).Add(o.Tax)

	if err := s.orders.ReplaceItems(ctx, o); err != nil {
		return nil, fmt.Errorf("service: failed to replace order items: %w", err)
	}

	s.audit.Record(ctx, &actorID, audit.ActionUpdate, "Order", o.ID,
		fmt.Sprintf("Updated order %s", o.OrderNumber))
	return o, nil
}

func (s *service) Cancel(ctx context.Context, id uuid.UUID, actorID uuid.UUID) error {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if o.Status == StatusCancelled {
		return ErrAlreadyCancelled
	}
	if !CanTransition(o.Status, StatusCancelled) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, StatusCancelled)
	}

	s.restoreItems(ctx, o.OrderNumber, "order cancellation", o.Items, &actorID)

	if err := s.orders.UpdateStatus(ctx, id, StatusCancelled); err != nil {
		return fmt.Errorf("service: failed to cancel order: %w", err)
	}

	s.audit.Record(ctx, &actorID, audit.ActionUpdate, "Order", o.ID,
		fmt.Sprintf("Cancelled order %s", o.OrderNumber))

	log.Info().Stringer("order_id", id).Str("order_number", o.OrderNumber).Msg("service: order cancelled")
	return nil
}

func (s *service) UpdateStatus(ctx context.Context, id uuid.UUID, newStatus Status, actorID uuid.UUID) error {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if o.Status == newStatus {
		log.Info().Stringer("order_id", id).Stringer("status", newStatus).Msg("service: order status already set, no update needed")
		return nil
	}

	if newStatus == StatusCancelled {
		return s.Cancel(ctx, id, actorID)
	}

	if !CanTransition(o.Status, newStatus) {
		log.Warn().
			Stringer("order_id", id).
			Stringer("current_status", o.Status).
			Stringer("new_status", newStatus).
			Msg("service: invalid status transition attempt")
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, newStatus)
	}

	if err := s.orders.UpdateStatus(ctx, id, newStatus); err != nil {
		return fmt.Errorf("service: failed to update order status: %w", err)
	}

	s.audit.Record(ctx, &actorID, audit.ActionUpdate, "Order", o.ID,
		fmt.Sprintf("Order %s status changed %s -> %s", o.OrderNumber, o.Status, newStatus))

	if newStatus == StatusDelivered && s.biller != nil {
		s.biller.OrderDelivered(ctx, id, &actorID)
	}

	log.Info().
		Stringer("order_id", id).
		Stringer("old_status", o.Status).
		Stringer("new_status", newStatus).
		Msg("service: order status updated")
	return nil
}

func (s *service) Delete(ctx context.Context, id uuid.UUID, actorID uuid.UUID) error {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return err
	}
	// Deleting a live order would strand its ledger entries; cancel
	// first so the stock has been restored.
	if o.Status != StatusCancelled {
		return ErrNotDeletable
	}

	if err := s.orders.Delete(ctx, id); err != nil {
		return fmt.Errorf("service: failed to delete order: %w", err)
	}

	s.audit.Record(ctx, &actorID, audit.ActionDelete, "Order", id,
		fmt.Sprintf("Deleted order %s", o.OrderNumber))
	return nil
}

func (s *service) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("service: failed to fetch order: %w", err)
	}
	return o, nil
}

func (s *service) GetByNumber(ctx context.Context, number string) (*Order, error) {
	o, err := s.orders.GetByNumber(ctx, number)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("service: failed to fetch order by number: %w", err)
	}
	return o, nil
}

func (s *service) ListByClient(ctx context.Context, clientID uuid.UUID) ([]Order, error) {
	orders, err := s.orders.ListByClient(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to fetch client orders: %w", err)
	}
	return orders, nil
}

func (s *service) ListByStatus(ctx context.Context, status Status) ([]Order, error) {
	orders, err := s.orders.ListByStatus(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("service: failed to fetch orders by status: %w", err)
	}
	return orders, nil
}
