package order

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"tablewire/internal/room"
	"tablewire/internal/store"
	"tablewire/pkg/event"
)

type fakeStore struct {
	mu         sync.Mutex
	orders     map[int64]store.Order
	failUpdate error
}

func newFakeStore(orders ...store.Order) *fakeStore {
	fs := &fakeStore{orders: make(map[int64]store.Order)}
	for _, o := range orders {
		fs.orders[o.ID] = o
	}
	return fs
}

func (f *fakeStore) GetOrder(ctx context.Context, id int64) (store.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return store.Order{}, store.ErrNotFound
	}
	return o, nil
}

func (f *fakeStore) UpdateOrderStatus(ctx context.Context, id int64, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpdate != nil {
		return f.failUpdate
	}
	o := f.orders[id]
	o.Status = status
	f.orders[id] = o
	return nil
}

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

func TestStatusChangeBroadcastsToBothRooms(t *testing.T) {
	fs := newFakeStore(store.Order{ID: 7, TableID: 5, Status: "new"})
	rec := &recorder{}
	c := NewCoordinator(fs, rec, zap.NewNop())

	if err := c.RequestStatusChange(context.Background(), 7, StatusPreparing, 5); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	sends := rec.all()
	if len(sends) != 2 {
		t.Fatalf("want 2 broadcasts, got %d", len(sends))
	}
	rooms := map[string]bool{sends[0].room: true, sends[1].room: true}
	if !rooms[room.Dashboard] || !rooms[room.ForTable(5)] {
		t.Fatalf("broadcasts did not cover dashboard and table-5: %+v", sends)
	}
	for _, s := range sends {
		p := s.payload.(*event.StatusChangedPayload)
		if p.OrderID != 7 || p.Status != "preparing" || p.TableID != 5 {
			t.Fatalf("bad payload: %+v", p)
		}
		if p.Timestamp.IsZero() {
			t.Fatalf("missing timestamp")
		}
	}
}

func TestPersistenceFailureSuppressesBroadcast(t *testing.T) {
	fs := newFakeStore(store.Order{ID: 7, TableID: 5, Status: "new"})
	fs.failUpdate = errors.New("db down")
	rec := &recorder{}
	c := NewCoordinator(fs, rec, zap.NewNop())

	err := c.RequestStatusChange(context.Background(), 7, StatusPreparing, 5)
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(rec.all()) != 0 {
		t.Fatalf("no broadcast may follow a failed persistence call")
	}
	if o, _ := fs.GetOrder(context.Background(), 7); o.Status != "new" {
		t.Fatalf("status must be unchanged, got %q", o.Status)
	}
}

func TestIllegalTransitionRejected(t *testing.T) {
	fs := newFakeStore(store.Order{ID: 7, TableID: 5, Status: "new"})
	rec := &recorder{}
	c := NewCoordinator(fs, rec, zap.NewNop())

	err := c.RequestStatusChange(context.Background(), 7, StatusServed, 5)
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("want ErrIllegalTransition, got %v", err)
	}
	if len(rec.all()) != 0 {
		t.Fatalf("rejected change must not broadcast")
	}
}

func TestDuplicateStatusIsNoOp(t *testing.T) {
	fs := newFakeStore(store.Order{ID: 7, TableID: 5, Status: "ready"})
	rec := &recorder{}
	c := NewCoordinator(fs, rec, zap.NewNop())

	if err := c.RequestStatusChange(context.Background(), 7, StatusReady, 5); err != nil {
		t.Fatalf("duplicate request should succeed silently: %v", err)
	}
	if len(rec.all()) != 0 {
		t.Fatalf("duplicate request must not re-broadcast")
	}
}

func TestRapidUpdatesEndInFinalStatus(t *testing.T) {
	fs := newFakeStore(store.Order{ID: 7, TableID: 5, Status: "new"})
	rec := &recorder{}
	c := NewCoordinator(fs, rec, zap.NewNop())
	ctx := context.Background()

	if err := c.RequestStatusChange(ctx, 7, StatusPreparing, 5); err != nil {
		t.Fatalf("preparing: %v", err)
	}
	if err := c.RequestStatusChange(ctx, 7, StatusReady, 5); err != nil {
		t.Fatalf("ready: %v", err)
	}

	sends := rec.all()
	if len(sends) != 4 {
		t.Fatalf("want 4 broadcasts (2 per change), got %d", len(sends))
	}
	last := sends[len(sends)-1].payload.(*event.StatusChangedPayload)
	if last.Status != "ready" {
		t.Fatalf("broadcast sequence must end in ready, got %q", last.Status)
	}
	if o, _ := fs.GetOrder(ctx, 7); o.Status != "ready" {
		t.Fatalf("final persisted status must be ready, got %q", o.Status)
	}
}

func TestConcurrentRequestsSerialize(t *testing.T) {
	fs := newFakeStore(store.Order{ID: 7, TableID: 5, Status: "new"})
	rec := &recorder{}
	c := NewCoordinator(fs, rec, zap.NewNop())
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, next := range []Status{StatusPreparing, StatusCancelled} {
		wg.Add(1)
		go func(s Status) {
			defer wg.Done()
			// One of the two must lose: from "new" both are legal first
			// moves, but the loser sees the winner's status and is rejected.
			_ = c.RequestStatusChange(ctx, 7, s, 5)
		}(next)
	}
	wg.Wait()

	sends := rec.all()
	if len(sends) != 2 {
		t.Fatalf("exactly one change may win, got %d broadcasts", len(sends))
	}
	final, _ := fs.GetOrder(ctx, 7)
	last := sends[len(sends)-1].payload.(*event.StatusChangedPayload)
	if last.Status != final.Status {
		t.Fatalf("last broadcast %q disagrees with persisted status %q", last.Status, final.Status)
	}
}
