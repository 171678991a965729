package client

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"tablewire/internal/client/endpoint"
	"tablewire/internal/client/sound"
	"tablewire/internal/client/state"
	"tablewire/internal/staffcall"
	"tablewire/internal/store"
	"tablewire/pkg/event"
)

var ErrUnknownOrder = errors.New("unknown order")

// DashboardSession is one staff terminal: it joins the dashboard room on
// every connect, keeps the cache reconciled, and drives the alert loop for
// incoming staff calls.
type DashboardSession struct {
	ep    *endpoint.Client
	api   *API
	cache *state.Cache
	sound *sound.Controller
	poll  time.Duration
	log   *zap.Logger

	cancel context.CancelFunc
}

const dashboardKey = "dashboard-session"

func NewDashboardSession(ep *endpoint.Client, api *API, cache *state.Cache, snd *sound.Controller, poll time.Duration, log *zap.Logger) *DashboardSession {
	return &DashboardSession{ep: ep, api: api, cache: cache, sound: snd, poll: poll, log: log}
}

func (s *DashboardSession) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	// Membership never survives a reconnect: rejoin and resync on every
	// became-connected transition.
	s.ep.OnConnect(func() {
		if runCtx.Err() != nil {
			return
		}
		if err := s.ep.Emit(event.JoinDashboard, &event.EmptyPayload{}); err != nil {
			s.log.Warn("join dashboard", zap.Error(err))
		}
		s.resync(runCtx)
	})

	s.ep.On(event.OrderStatusChanged, dashboardKey, func(p any) {
		ev := p.(*event.StatusChangedPayload)
		if !s.cache.ApplyOrderStatus(ev.OrderID, ev.Status) {
			s.resync(runCtx)
		}
	})
	s.ep.On(event.NewOrder, dashboardKey, func(p any) {
		ev := p.(*event.OrderPlacedPayload)
		s.cache.ApplyNewOrder(ev.OrderID, ev.TableID, ev.TotalAmount, ev.Timestamp)
		s.sound.Play(sound.KindNewOrder, ev.TableID)
	})
	s.ep.On(event.TableStatusChanged, dashboardKey, func(p any) {
		ev := p.(*event.TableStatusPayload)
		if !s.cache.ApplyTableStatus(ev.TableID, ev.Status) {
			s.resync(runCtx)
		}
	})
	s.ep.On(event.BillCreated, dashboardKey, func(p any) {
		// The payload names the bill only; the billed-order set is rebuilt
		// from the billing collaborator's pairs.
		s.resync(runCtx)
	})
	s.ep.On(event.CallStaffForBill, dashboardKey, func(p any) {
		ev := p.(*event.StaffCallPayload)
		s.cache.ApplyStaffCall(staffcall.Request{
			TableID:     ev.TableID,
			TableName:   ev.TableName,
			OrderCount:  ev.OrderCount,
			TotalAmount: ev.TotalAmount,
			RequestedAt: ev.Timestamp,
		})
		s.sound.Play(sound.KindStaffCall, ev.TableID)
	})
	s.ep.On(event.StaffCalled, dashboardKey, func(p any) {
		ev := p.(*event.StaffCalledPayload)
		s.cache.ApplyStaffAck(ev.TableID)
		s.sound.Stop(ev.TableID)
	})
	s.ep.On(event.ConnectionStatus, dashboardKey, func(p any) {
		ev := p.(*event.ConnStatusPayload)
		s.log.Debug("connection status", zap.Int("clients", ev.ClientsCount))
	})

	s.ep.Connect(runCtx)
	go s.pollLoop(runCtx)
}

// Stop unregisters every handler and leaves the room, symmetric with Start,
// so a later Start never double-fires.
func (s *DashboardSession) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	for _, name := range []event.Name{
		event.OrderStatusChanged, event.NewOrder, event.TableStatusChanged,
		event.BillCreated, event.CallStaffForBill, event.StaffCalled,
		event.ConnectionStatus,
	} {
		s.ep.Off(name, dashboardKey)
	}
	_ = s.ep.Emit(event.LeaveDashboard, &event.EmptyPayload{})
	s.sound.StopAll()
}

// UpdateOrderStatus applies the change optimistically, confirms over REST,
// and reconciles: commit on success, resync on failure.
func (s *DashboardSession) UpdateOrderStatus(ctx context.Context, orderID int64, status string) error {
	token, ok := s.cache.ApplyOptimistic(orderID, status)
	if !ok {
		s.resync(ctx)
		return ErrUnknownOrder
	}
	err := s.api.UpdateOrderStatus(ctx, orderID, status)
	if rerr := s.cache.Reconcile(ctx, token, err); rerr != nil {
		s.log.Warn("reconcile resync failed", zap.Error(rerr))
	}
	return err
}

// Acknowledge answers a staff call. If another terminal won the race the
// server reports no pending call; our alert stops either way once the
// staffCalled broadcast lands.
func (s *DashboardSession) Acknowledge(ctx context.Context, tableID int64, message string) error {
	err := s.api.AckStaffCall(ctx, tableID, message)
	if err == nil {
		s.sound.Stop(tableID)
		s.cache.ApplyStaffAck(tableID)
	}
	return err
}

func (s *DashboardSession) EnableSound() { s.sound.Enable() }

func (s *DashboardSession) resync(ctx context.Context) {
	if err := s.cache.Resync(ctx); err != nil && ctx.Err() == nil {
		s.log.Warn("resync failed", zap.Error(err))
	}
}

func (s *DashboardSession) pollLoop(ctx context.Context) {
	t := time.NewTicker(s.poll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.resync(ctx)
		}
	}
}

// CustomerSession is one table's ordering device: it joins its table room on
// every connect and reconciles against broadcasts scoped to that table.
type CustomerSession struct {
	ep      *endpoint.Client
	api     *API
	cache   *state.Cache
	tableID int64
	poll    time.Duration
	log     *zap.Logger

	cancel context.CancelFunc
}

const customerKey = "customer-session"

func NewCustomerSession(ep *endpoint.Client, api *API, cache *state.Cache, tableID int64, poll time.Duration, log *zap.Logger) *CustomerSession {
	return &CustomerSession{ep: ep, api: api, cache: cache, tableID: tableID, poll: poll, log: log}
}

func (s *CustomerSession) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.ep.OnConnect(func() {
		if runCtx.Err() != nil {
			return
		}
		if err := s.ep.Emit(event.JoinTable, &event.TableRefPayload{TableID: s.tableID}); err != nil {
			s.log.Warn("join table", zap.Error(err))
		}
		s.resync(runCtx)
	})

	s.ep.On(event.OrderStatusChanged, customerKey, func(p any) {
		ev := p.(*event.StatusChangedPayload)
		if !s.cache.ApplyOrderStatus(ev.OrderID, ev.Status) {
			s.resync(runCtx)
		}
	})
	s.ep.On(event.NewOrder, customerKey, func(p any) {
		ev := p.(*event.OrderPlacedPayload)
		s.cache.ApplyNewOrder(ev.OrderID, ev.TableID, ev.TotalAmount, ev.Timestamp)
	})
	s.ep.On(event.TableStatusChanged, customerKey, func(p any) {
		ev := p.(*event.TableStatusPayload)
		if !s.cache.ApplyTableStatus(ev.TableID, ev.Status) {
			s.resync(runCtx)
		}
	})
	s.ep.On(event.BillCreated, customerKey, func(p any) {
		s.resync(runCtx)
	})
	s.ep.On(event.StaffCalled, customerKey, func(p any) {
		ev := p.(*event.StaffCalledPayload)
		s.cache.ApplyStaffAck(ev.TableID)
		s.log.Info("staff acknowledged", zap.String("message", ev.Message))
	})

	s.ep.Connect(runCtx)
	go s.pollLoop(runCtx)
}

func (s *CustomerSession) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	for _, name := range []event.Name{
		event.OrderStatusChanged, event.NewOrder, event.TableStatusChanged,
		event.BillCreated, event.StaffCalled,
	} {
		s.ep.Off(name, customerKey)
	}
	_ = s.ep.Emit(event.LeaveTable, &event.TableRefPayload{TableID: s.tableID})
}

// PlaceOrder submits an order over REST; the newOrder broadcast echoes it
// back and the duplicate merge is a no-op.
func (s *CustomerSession) PlaceOrder(ctx context.Context, items []OrderLine) (store.Order, error) {
	o, err := s.api.PlaceOrder(ctx, s.tableID, items)
	if err != nil {
		return store.Order{}, err
	}
	s.cache.ApplyNewOrder(o.ID, o.TableID, o.Total, o.OrderTime)
	return o, nil
}

// CancelOrder is the customer-side status change, with the same optimistic
// token discipline the dashboard uses.
func (s *CustomerSession) CancelOrder(ctx context.Context, orderID int64) error {
	token, ok := s.cache.ApplyOptimistic(orderID, "cancelled")
	if !ok {
		s.resync(ctx)
		return ErrUnknownOrder
	}
	err := s.api.UpdateOrderStatus(ctx, orderID, "cancelled")
	if rerr := s.cache.Reconcile(ctx, token, err); rerr != nil {
		s.log.Warn("reconcile resync failed", zap.Error(rerr))
	}
	return err
}

// CallStaff asks for the bill: order count and amount come from the local
// payable set at the moment of the call.
func (s *CustomerSession) CallStaff(tableName string) error {
	payable := s.cache.PayableOrders(s.tableID)
	var total float64
	for _, o := range payable {
		total += o.Total
	}
	return s.ep.Emit(event.CallStaffForBill, &event.StaffCallPayload{
		TableID:     s.tableID,
		TableName:   tableName,
		OrderCount:  len(payable),
		TotalAmount: total,
	})
}

func (s *CustomerSession) resync(ctx context.Context) {
	if err := s.cache.Resync(ctx); err != nil && ctx.Err() == nil {
		s.log.Warn("resync failed", zap.Error(err))
	}
}

func (s *CustomerSession) pollLoop(ctx context.Context) {
	t := time.NewTicker(s.poll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.resync(ctx)
		}
	}
}
