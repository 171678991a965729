// Package staffcall implements the call/acknowledge protocol between a table
// and the dashboard room. At most one live request exists per table; the
// first acknowledgement wins and moves the request to its terminal state.
package staffcall

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"tablewire/internal/room"
	"tablewire/pkg/event"
)

// Broadcaster fans a typed event out to one room.
type Broadcaster interface {
	Broadcast(roomName string, name event.Name, payload any)
}

// Request is the live staff-call entry for one table. It is cleared only by
// an acknowledgement; the client-side alert timing out leaves it in place so
// the dashboard can still show it.
type Request struct {
	TableID     int64
	TableName   string
	OrderCount  int
	TotalAmount float64
	RequestedAt time.Time
}

type Coordinator struct {
	bus Broadcaster
	log *zap.Logger
	now func() time.Time

	mu      sync.Mutex
	pending map[int64]Request
}

func NewCoordinator(bus Broadcaster, log *zap.Logger) *Coordinator {
	return &Coordinator{
		bus:     bus,
		log:     log,
		now:     time.Now,
		pending: make(map[int64]Request),
	}
}

// Call records the request, replacing any pending entry for the same table,
// and relays it to the dashboard room only. The requesting table never hears
// its own call back, so it cannot trigger its own alert.
func (c *Coordinator) Call(tableID int64, tableName string, orderCount int, totalAmount float64) {
	ts := c.now()
	req := Request{
		TableID:     tableID,
		TableName:   tableName,
		OrderCount:  orderCount,
		TotalAmount: totalAmount,
		RequestedAt: ts,
	}

	c.mu.Lock()
	_, replaced := c.pending[tableID]
	c.pending[tableID] = req
	c.mu.Unlock()

	c.bus.Broadcast(room.Dashboard, event.CallStaffForBill, &event.StaffCallPayload{
		TableID:     tableID,
		TableName:   tableName,
		OrderCount:  orderCount,
		TotalAmount: totalAmount,
		Timestamp:   ts,
	})

	c.log.Info("staff called for bill",
		zap.Int64("table_id", tableID),
		zap.Bool("replaced_pending", replaced))
}

// Acknowledge clears the table's request and confirms to both sides: the
// table room hears staffCalled, and the dashboard room hears it too so other
// staff terminals stop displaying the request. A second acknowledgement for
// the same table is a no-op.
func (c *Coordinator) Acknowledge(tableID int64, message string) bool {
	c.mu.Lock()
	_, ok := c.pending[tableID]
	if ok {
		delete(c.pending, tableID)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}

	if message == "" {
		message = "Staff is on the way"
	}
	p := &event.StaffCalledPayload{
		TableID:   tableID,
		Message:   message,
		Timestamp: c.now(),
	}
	c.bus.Broadcast(room.ForTable(tableID), event.StaffCalled, p)
	c.bus.Broadcast(room.Dashboard, event.StaffCalled, p)

	c.log.Info("staff call acknowledged", zap.Int64("table_id", tableID))
	return true
}

// Pending lists live requests ordered by request time, oldest first. Used by
// resync and by dashboard terminals joining late.
func (c *Coordinator) Pending() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Request, 0, len(c.pending))
	for _, req := range c.pending {
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out
}
