// Package relay composes the room registry and the coordinators into one
// explicitly constructed service. It is built by main and handed to whatever
// HTTP layer needs to trigger broadcasts; there is no package-level instance.
package relay

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"tablewire/internal/order"
	"tablewire/internal/room"
	"tablewire/internal/staffcall"
	"tablewire/internal/store"
	"tablewire/pkg/event"
)

type Service struct {
	Orders *order.Coordinator
	Staff  *staffcall.Coordinator

	log *zap.Logger

	mu      sync.RWMutex
	reg     *room.Registry
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

func New(st store.Store, log *zap.Logger) *Service {
	s := &Service{log: log}
	s.Orders = order.NewCoordinator(st, s, log.Named("order"))
	s.Staff = staffcall.NewCoordinator(s, log.Named("staffcall"))
	return s
}

// Start spins up the registry actor. Idempotent; a second Start is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.reg = room.NewRegistry(s.ctx)
	s.started = true
	s.log.Info("relay started")
	return nil
}

// Stop shuts the registry down and drops every membership. A restart requires
// every client to rejoin its rooms.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.reg.Inbox() <- room.Shutdown{}
	s.cancel()
	s.reg = nil
	s.started = false
	s.log.Info("relay stopped")
	return nil
}

func (s *Service) registry() *room.Registry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reg
}

func (s *Service) runCtx() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// Broadcast encodes once and fans the frame out to a room. Satisfies the
// coordinators' Broadcaster interfaces.
func (s *Service) Broadcast(roomName string, name event.Name, payload any) {
	reg := s.registry()
	if reg == nil {
		return
	}
	frame, err := event.Encode(name, payload)
	if err != nil {
		s.log.Error("encode broadcast", zap.String("event", string(name)), zap.Error(err))
		return
	}
	reg.Inbox() <- room.Broadcast{Room: roomName, Frame: frame}
}

// Register attaches a new connection and announces the updated client count
// to everyone.
func (s *Service) Register(c *room.Conn) {
	reg := s.registry()
	if reg == nil {
		return
	}
	reg.Inbox() <- room.Register{Conn: c}
	s.announceClients(reg)
	s.log.Info("client connected",
		zap.String("conn_id", c.ID),
		zap.String("role", string(c.Role)),
		zap.Int64("table_id", c.TableID))
}

// Unregister detaches a connection. The registry removes it from every room
// before Done fires, so the client-count announcement that follows can never
// fan out to the stale member.
func (s *Service) Unregister(connID string) {
	reg := s.registry()
	if reg == nil {
		return
	}
	done := make(chan struct{})
	reg.Inbox() <- room.Unregister{ID: connID, Done: done}
	<-done
	s.announceClients(reg)
	s.log.Info("client disconnected", zap.String("conn_id", connID))
}

func (s *Service) announceClients(reg *room.Registry) {
	n := s.clientCount(reg)
	frame := event.MustEncode(event.ConnectionStatus, &event.ConnStatusPayload{
		Connected:    true,
		ClientsCount: n,
	})
	reg.Inbox() <- room.BroadcastAll{Frame: frame}
}

func (s *Service) clientCount(reg *room.Registry) int {
	reply := make(chan room.View, 1)
	reg.Inbox() <- room.GetView{Reply: reply}
	return (<-reply).Clients
}

// ClientsCount reports the number of attached connections.
func (s *Service) ClientsCount() int {
	reg := s.registry()
	if reg == nil {
		return 0
	}
	return s.clientCount(reg)
}

// HandleMessage dispatches one decoded client event. Events the client has
// no business sending, and requests that fail downstream, are logged and
// dropped; the handler loop never crashes on bad input.
func (s *Service) HandleMessage(c *room.Conn, msg event.Message) {
	reg := s.registry()
	if reg == nil {
		return
	}

	switch msg.Event {
	case event.JoinTable:
		p := msg.Payload.(*event.TableRefPayload)
		// One table room at a time: joining a new table leaves the old one.
		if c.TableID != 0 && c.TableID != p.TableID {
			reg.Inbox() <- room.Leave{ID: c.ID, Room: room.ForTable(c.TableID)}
		}
		c.TableID = p.TableID
		reg.Inbox() <- room.Join{ID: c.ID, Room: room.ForTable(p.TableID)}

	case event.LeaveTable:
		p := msg.Payload.(*event.TableRefPayload)
		reg.Inbox() <- room.Leave{ID: c.ID, Room: room.ForTable(p.TableID)}

	case event.JoinDashboard:
		reg.Inbox() <- room.Join{ID: c.ID, Room: room.Dashboard}

	case event.LeaveDashboard:
		reg.Inbox() <- room.Leave{ID: c.ID, Room: room.Dashboard}

	case event.OrderStatusUpdate:
		p := msg.Payload.(*event.StatusUpdatePayload)
		next, err := order.Parse(p.Status)
		if err != nil {
			s.log.Warn("dropped status update", zap.String("status", p.Status), zap.Error(err))
			return
		}
		if err := s.Orders.RequestStatusChange(s.runCtx(), p.OrderID, next, p.TableID); err != nil {
			s.log.Warn("status change rejected",
				zap.Int64("order_id", p.OrderID),
				zap.String("status", p.Status),
				zap.Error(err))
		}

	case event.CallStaffForBill:
		p := msg.Payload.(*event.StaffCallPayload)
		s.Staff.Call(p.TableID, p.TableName, p.OrderCount, p.TotalAmount)

	default:
		s.log.Warn("dropped event not accepted from clients",
			zap.String("event", string(msg.Event)),
			zap.String("conn_id", c.ID))
	}
}

// NotifyNewOrder broadcasts a freshly placed order to the dashboard and the
// owning table. Called by the HTTP layer after persistence succeeds.
func (s *Service) NotifyNewOrder(o store.Order) {
	items := 0
	for _, it := range o.Items {
		items += it.Quantity
	}
	p := &event.OrderPlacedPayload{
		OrderID:     o.ID,
		TableID:     o.TableID,
		TotalAmount: o.Total,
		ItemsCount:  items,
		Timestamp:   o.OrderTime,
	}
	s.Broadcast(room.Dashboard, event.NewOrder, p)
	s.Broadcast(room.ForTable(o.TableID), event.NewOrder, p)
}

// NotifyTableStatus broadcasts a table status change to the dashboard and
// the table itself.
func (s *Service) NotifyTableStatus(tableID int64, status string, at time.Time) {
	p := &event.TableStatusPayload{TableID: tableID, Status: status, Timestamp: at}
	s.Broadcast(room.Dashboard, event.TableStatusChanged, p)
	s.Broadcast(room.ForTable(tableID), event.TableStatusChanged, p)
}

// NotifyBillCreated broadcasts bill finalization so clients rebuild their
// billed-order sets.
func (s *Service) NotifyBillCreated(b store.Bill) {
	p := &event.BillCreatedPayload{BillID: b.ID, TotalAmount: b.Total}
	s.Broadcast(room.Dashboard, event.BillCreated, p)
	s.Broadcast(room.ForTable(b.TableID), event.BillCreated, p)
}
