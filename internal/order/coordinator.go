// Package order owns the order status machine and the coordinator that is
// the single point deciding an order's authoritative next status.
package order

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"tablewire/internal/room"
	"tablewire/internal/store"
	"tablewire/pkg/event"
)

// Store is the slice of the persistence collaborator the coordinator needs.
type Store interface {
	GetOrder(ctx context.Context, id int64) (store.Order, error)
	UpdateOrderStatus(ctx context.Context, id int64, status string) error
}

// Broadcaster fans a typed event out to one room.
type Broadcaster interface {
	Broadcast(roomName string, name event.Name, payload any)
}

type Coordinator struct {
	store Store
	bus   Broadcaster
	log   *zap.Logger
	now   func() time.Time

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewCoordinator(st Store, bus Broadcaster, log *zap.Logger) *Coordinator {
	return &Coordinator{
		store: st,
		bus:   bus,
		log:   log,
		now:   time.Now,
		locks: make(map[int64]*sync.Mutex),
	}
}

// lockFor serializes status changes per order: concurrent requests for the
// same order queue here, and the last one to reach persistence wins.
func (c *Coordinator) lockFor(orderID int64) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l := c.locks[orderID]
	if l == nil {
		l = &sync.Mutex{}
		c.locks[orderID] = l
	}
	return l
}

// RequestStatusChange validates the transition against the persisted status,
// records it, and only then broadcasts orderStatusChanged to the dashboard
// room and the owning table's room. On any failure nothing is broadcast and
// the caller is expected to revert its optimistic state and resync.
func (c *Coordinator) RequestStatusChange(ctx context.Context, orderID int64, next Status, tableID int64) error {
	if _, ok := transitions[next]; !ok {
		return ErrUnknownStatus
	}

	l := c.lockFor(orderID)
	l.Lock()
	defer l.Unlock()

	cur, err := c.store.GetOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load order %d: %w", orderID, err)
	}
	from := Status(cur.Status)
	if from == next {
		// Duplicate request; already confirmed, nothing to re-broadcast.
		return nil
	}
	if !CanTransition(from, next) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, next)
	}

	if err := c.store.UpdateOrderStatus(ctx, orderID, string(next)); err != nil {
		return fmt.Errorf("persist status %s for order %d: %w", next, orderID, err)
	}

	// The persisted row, not the request, names the owning table.
	if cur.TableID != 0 {
		tableID = cur.TableID
	}

	p := &event.StatusChangedPayload{
		OrderID:   orderID,
		Status:    string(next),
		TableID:   tableID,
		Timestamp: c.now(),
	}
	c.bus.Broadcast(room.Dashboard, event.OrderStatusChanged, p)
	c.bus.Broadcast(room.ForTable(tableID), event.OrderStatusChanged, p)

	c.log.Info("order status changed",
		zap.Int64("order_id", orderID),
		zap.String("from", string(from)),
		zap.String("to", string(next)),
		zap.Int64("table_id", tableID))
	return nil
}
