// Package state is the client-side reconciliation layer: in-memory
// projections of orders, tables and billed orders, optimistic mutations with
// token-based reconcile, and a single-flight full resync.
package state

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"tablewire/internal/order"
	"tablewire/internal/staffcall"
	"tablewire/internal/store"
)

// Snapshot is the resync payload served by GET /api/snapshot.
type Snapshot struct {
	store.Snapshot
	StaffCalls []staffcall.Request `json:"staffCalls"`
}

// Fetcher performs the full-resync fetch against the persistence
// collaborator.
type Fetcher interface {
	FetchSnapshot(ctx context.Context) (Snapshot, error)
}

// Token identifies one optimistic mutation. It is handed back to Reconcile,
// which either commits (the authoritative broadcast confirms the value) or
// rolls back by resyncing. Shared state is never mutated outside this
// discipline.
type Token struct {
	seq     int64
	OrderID int64
	prev    string
}

type Cache struct {
	fetcher Fetcher
	log     *zap.Logger
	sf      singleflight.Group

	mu     sync.Mutex
	seq    int64
	orders map[int64]store.Order
	tables map[int64]store.Table
	menu   []store.MenuItem
	billed map[int64]bool
	calls  map[int64]staffcall.Request
}

func NewCache(f Fetcher, log *zap.Logger) *Cache {
	return &Cache{
		fetcher: f,
		log:     log,
		orders:  make(map[int64]store.Order),
		tables:  make(map[int64]store.Table),
		billed:  make(map[int64]bool),
		calls:   make(map[int64]staffcall.Request),
	}
}

// ApplyOptimistic records a user-initiated status change locally, before the
// server confirms it. The returned token carries the prior value; ok is
// false when the order is unknown and nothing was applied.
func (c *Cache) ApplyOptimistic(orderID int64, status string) (Token, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.orders[orderID]
	if !ok {
		return Token{}, false
	}
	c.seq++
	t := Token{seq: c.seq, OrderID: orderID, prev: o.Status}
	o.Status = status
	c.orders[orderID] = o
	return t, true
}

// Reconcile finishes an optimistic mutation. A nil cause commits: the value
// already applied stands until the authoritative broadcast overwrites it
// (idempotently). A non-nil cause rolls back by fetching the full snapshot
// rather than guessing the correct prior value.
func (c *Cache) Reconcile(ctx context.Context, t Token, cause error) error {
	if cause == nil {
		return nil
	}
	c.log.Warn("optimistic update failed, resyncing",
		zap.Int64("order_id", t.OrderID), zap.Error(cause))
	return c.Resync(ctx)
}

// Resync replaces every projection from one snapshot fetch. Concurrent
// callers share a single in-flight fetch.
func (c *Cache) Resync(ctx context.Context) error {
	_, err, _ := c.sf.Do("snapshot", func() (any, error) {
		snap, err := c.fetcher.FetchSnapshot(ctx)
		if err != nil {
			return nil, err
		}
		c.replace(snap)
		return nil, nil
	})
	return err
}

func (c *Cache) replace(snap Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orders = make(map[int64]store.Order, len(snap.Orders))
	for _, o := range snap.Orders {
		c.orders[o.ID] = o
	}
	c.tables = make(map[int64]store.Table, len(snap.Tables))
	for _, t := range snap.Tables {
		c.tables[t.ID] = t
	}
	c.menu = append([]store.MenuItem(nil), snap.Menu...)
	c.billed = make(map[int64]bool)
	for _, b := range snap.Bills {
		for _, bo := range b.Orders {
			c.billed[bo.OrderID] = true
		}
	}
	c.calls = make(map[int64]staffcall.Request, len(snap.StaffCalls))
	for _, req := range snap.StaffCalls {
		c.calls[req.TableID] = req
	}
}

// ApplyOrderStatus merges an authoritative status broadcast. Keyed by entity
// id plus status, so applying the same event twice is a no-op. Returns false
// for an unknown order: ambiguous state the caller resolves with a resync.
func (c *Cache) ApplyOrderStatus(orderID int64, status string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.orders[orderID]
	if !ok {
		return false
	}
	if o.Status != status {
		o.Status = status
		c.orders[orderID] = o
	}
	return true
}

// ApplyNewOrder inserts a just-placed order heard over broadcast. A
// duplicate event for a known order changes nothing.
func (c *Cache) ApplyNewOrder(orderID, tableID int64, total float64, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.orders[orderID]; ok {
		return
	}
	c.orders[orderID] = store.Order{
		ID:        orderID,
		TableID:   tableID,
		Status:    string(order.StatusNew),
		Total:     total,
		OrderTime: at,
	}
}

// ApplyTableStatus merges a table status broadcast; false means unknown
// table (resync).
func (c *Cache) ApplyTableStatus(tableID int64, status string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[tableID]
	if !ok {
		return false
	}
	if t.Status != status {
		t.Status = status
		c.tables[tableID] = t
	}
	return true
}

// ApplyStaffCall records a relayed staff-call request, replacing any pending
// entry for the same table.
func (c *Cache) ApplyStaffCall(req staffcall.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[req.TableID] = req
}

// ApplyStaffAck clears the table's request. Idempotent.
func (c *Cache) ApplyStaffAck(tableID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.calls, tableID)
}

func (c *Cache) HasCall(tableID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.calls[tableID]
	return ok
}

func (c *Cache) Calls() []staffcall.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]staffcall.Request, 0, len(c.calls))
	for _, req := range c.calls {
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out
}

func (c *Cache) Order(id int64) (store.Order, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.orders[id]
	return o, ok
}

func (c *Cache) Orders() []store.Order {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]store.Order, 0, len(c.orders))
	for _, o := range c.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderTime.Before(out[j].OrderTime) })
	return out
}

func (c *Cache) Tables() []store.Table {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]store.Table, 0, len(c.tables))
	for _, t := range c.tables {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

func (c *Cache) Menu() []store.MenuItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]store.MenuItem(nil), c.menu...)
}

// Billed reports whether the order is already attached to a finalized bill.
func (c *Cache) Billed(orderID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.billed[orderID]
}

// PayableOrders lists the table's orders still awaiting a bill: not billed
// and not cancelled.
func (c *Cache) PayableOrders(tableID int64) []store.Order {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []store.Order
	for _, o := range c.orders {
		if o.TableID != tableID || c.billed[o.ID] || o.Status == string(order.StatusCancelled) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderTime.Before(out[j].OrderTime) })
	return out
}
