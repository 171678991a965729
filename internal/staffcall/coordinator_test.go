package staffcall

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"tablewire/internal/room"
	"tablewire/pkg/event"
)

type sent struct {
	room    string
	name    event.Name
	payload any
}

type recorder struct {
	mu    sync.Mutex
	sends []sent
}

func (r *recorder) Broadcast(roomName string, name event.Name, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sends = append(r.sends, sent{room: roomName, name: name, payload: payload})
}

func (r *recorder) all() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sent(nil), r.sends...)
}

func TestCallRelaysToDashboardOnly(t *testing.T) {
	rec := &recorder{}
	c := NewCoordinator(rec, zap.NewNop())

	c.Call(5, "Table 5", 2, 240)

	sends := rec.all()
	if len(sends) != 1 {
		t.Fatalf("want exactly 1 relay, got %d", len(sends))
	}
	if sends[0].room != room.Dashboard {
		t.Fatalf("relay must target dashboard only, got %q", sends[0].room)
	}
	p := sends[0].payload.(*event.StaffCallPayload)
	if p.TableID != 5 || p.OrderCount != 2 || p.TotalAmount != 240 {
		t.Fatalf("bad relay payload: %+v", p)
	}
	if p.Timestamp.IsZero() {
		t.Fatalf("relay must be stamped")
	}
}

func TestSecondCallReplacesNotDuplicates(t *testing.T) {
	rec := &recorder{}
	c := NewCoordinator(rec, zap.NewNop())
	c.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	c.Call(5, "Table 5", 2, 240)
	c.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 10, 0, time.UTC) }
	c.Call(5, "Table 5", 3, 300)

	pending := c.Pending()
	if len(pending) != 1 {
		t.Fatalf("at most one live request per table, got %d", len(pending))
	}
	req := pending[0]
	if req.OrderCount != 3 || req.TotalAmount != 300 {
		t.Fatalf("second call must replace metadata: %+v", req)
	}
	if !req.RequestedAt.Equal(time.Date(2025, 6, 1, 12, 0, 10, 0, time.UTC)) {
		t.Fatalf("second call must replace the timestamp: %v", req.RequestedAt)
	}
}

func TestAcknowledgeClearsAndConfirmsBothSides(t *testing.T) {
	rec := &recorder{}
	c := NewCoordinator(rec, zap.NewNop())
	c.Call(5, "Table 5", 2, 240)

	if !c.Acknowledge(5, "") {
		t.Fatalf("first acknowledgement must win")
	}
	if len(c.Pending()) != 0 {
		t.Fatalf("acknowledged request must be cleared")
	}

	sends := rec.all()[1:] // skip the relay
	if len(sends) != 2 {
		t.Fatalf("want staffCalled to table and dashboard, got %d", len(sends))
	}
	rooms := map[string]bool{sends[0].room: true, sends[1].room: true}
	if !rooms[room.ForTable(5)] || !rooms[room.Dashboard] {
		t.Fatalf("staffCalled must reach table-5 and dashboard: %+v", sends)
	}
	for _, s := range sends {
		p := s.payload.(*event.StaffCalledPayload)
		if p.TableID != 5 || p.Message == "" {
			t.Fatalf("bad staffCalled payload: %+v", p)
		}
	}
}

func TestSecondAcknowledgeIsNoOp(t *testing.T) {
	rec := &recorder{}
	c := NewCoordinator(rec, zap.NewNop())
	c.Call(5, "Table 5", 2, 240)

	if !c.Acknowledge(5, "coming") {
		t.Fatalf("first ack must succeed")
	}
	before := len(rec.all())
	if c.Acknowledge(5, "also coming") {
		t.Fatalf("second ack must lose")
	}
	if len(rec.all()) != before {
		t.Fatalf("losing ack must not broadcast")
	}
}

func TestAcknowledgeWithoutCallIsNoOp(t *testing.T) {
	rec := &recorder{}
	c := NewCoordinator(rec, zap.NewNop())
	if c.Acknowledge(9, "") {
		t.Fatalf("ack with no pending request must be a no-op")
	}
	if len(rec.all()) != 0 {
		t.Fatalf("no broadcast expected")
	}
}

func TestPendingOrderedByRequestTime(t *testing.T) {
	rec := &recorder{}
	c := NewCoordinator(rec, zap.NewNop())
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base.Add(2 * time.Second) }
	c.Call(7, "Table 7", 1, 80)
	c.now = func() time.Time { return base }
	c.Call(3, "Table 3", 1, 50)

	pending := c.Pending()
	if len(pending) != 2 || pending[0].TableID != 3 || pending[1].TableID != 7 {
		t.Fatalf("pending must be oldest first: %+v", pending)
	}
}
