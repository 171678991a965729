package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"tablewire/internal/order"
	"tablewire/internal/relay"
	"tablewire/internal/staffcall"
	"tablewire/internal/store"
)

// API is the thin REST surface: persistence plus relay notification. The
// relay service is injected; nothing here reaches for globals.
type API struct {
	relay *relay.Service
	store store.Store
	log   *zap.Logger
}

func New(rl *relay.Service, st store.Store, log *zap.Logger) *API {
	return &API{relay: rl, store: st, log: log}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, struct {
		Error string `json:"error"`
	}{Error: msg})
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// snapshotResponse is the resync payload: the persisted state plus the live
// staff-call requests, which exist only in the relay.
type snapshotResponse struct {
	store.Snapshot
	StaffCalls []staffcall.Request `json:"staffCalls"`
}

func (a *API) Snapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := a.store.Snapshot(r.Context())
	if err != nil {
		a.log.Error("snapshot", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "snapshot failed")
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse{Snapshot: snap, StaffCalls: a.relay.Staff.Pending()})
}

type placeOrderRequest struct {
	TableID int64 `json:"tableId"`
	Items   []struct {
		MenuItemID int64 `json:"menuItemId"`
		Quantity   int   `json:"quantity"`
	} `json:"items"`
}

func (a *API) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TableID <= 0 || len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "tableId and items required")
		return
	}

	menu, err := a.store.ListMenu(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "menu lookup failed")
		return
	}
	byID := make(map[int64]store.MenuItem, len(menu))
	for _, m := range menu {
		byID[m.ID] = m
	}

	o := store.Order{
		TableID:   req.TableID,
		Status:    string(order.StatusNew),
		OrderTime: time.Now(),
	}
	for _, it := range req.Items {
		m, ok := byID[it.MenuItemID]
		if !ok || it.Quantity <= 0 {
			writeError(w, http.StatusBadRequest, "unknown menu item")
			return
		}
		o.Items = append(o.Items, store.OrderItem{
			MenuItemID: m.ID,
			Name:       m.Name,
			Price:      m.Price,
			Quantity:   it.Quantity,
		})
		o.Total += m.Price * float64(it.Quantity)
	}

	if err := a.store.CreateOrder(r.Context(), &o); err != nil {
		a.log.Error("create order", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "create order failed")
		return
	}
	a.relay.NotifyNewOrder(o)
	writeJSON(w, http.StatusCreated, o)
}

type statusRequest struct {
	Status string `json:"status"`
}

// UpdateOrderStatus is the REST confirmation path for optimistic updates: the
// client applies locally, calls here, and reverts via resync on error.
func (a *API) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad order id")
		return
	}
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad body")
		return
	}
	next, err := order.Parse(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}

	err = a.relay.Orders.RequestStatusChange(r.Context(), id, next, 0)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, struct {
			OrderID int64  `json:"orderId"`
			Status  string `json:"status"`
		}{OrderID: id, Status: string(next)})
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, order.ErrIllegalTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		a.log.Error("order status change", zap.Int64("order_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "status change failed")
	}
}

func (a *API) UpdateTableStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad table id")
		return
	}
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !store.ValidTableStatus(req.Status) {
		writeError(w, http.StatusBadRequest, "bad status")
		return
	}

	if err := a.store.UpdateTableStatus(r.Context(), id, req.Status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "table not found")
			return
		}
		a.log.Error("table status change", zap.Int64("table_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "status change failed")
		return
	}
	a.relay.NotifyTableStatus(id, req.Status, time.Now())
	writeJSON(w, http.StatusOK, struct {
		TableID int64  `json:"tableId"`
		Status  string `json:"status"`
	}{TableID: id, Status: req.Status})
}

type createBillRequest struct {
	TableID  int64   `json:"tableId"`
	OrderIDs []int64 `json:"orderIds"`
}

func (a *API) CreateBill(w http.ResponseWriter, r *http.Request) {
	var req createBillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TableID <= 0 || len(req.OrderIDs) == 0 {
		writeError(w, http.StatusBadRequest, "tableId and orderIds required")
		return
	}

	b := store.Bill{TableID: req.TableID, CreatedAt: time.Now()}
	for _, oid := range req.OrderIDs {
		o, err := a.store.GetOrder(r.Context(), oid)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusBadRequest, "unknown order in bill")
				return
			}
			writeError(w, http.StatusInternalServerError, "order lookup failed")
			return
		}
		b.Total += o.Total
		b.Orders = append(b.Orders, store.BillOrder{OrderID: oid})
	}

	if err := a.store.CreateBill(r.Context(), &b); err != nil {
		a.log.Error("create bill", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "create bill failed")
		return
	}
	a.relay.NotifyBillCreated(b)
	writeJSON(w, http.StatusCreated, b)
}

func (a *API) ListStaffCalls(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.relay.Staff.Pending())
}

type ackRequest struct {
	Message string `json:"message"`
}

// AckStaffCall is the manual dismiss/acknowledge path for dashboard UIs that
// act over REST instead of the socket.
func (a *API) AckStaffCall(w http.ResponseWriter, r *http.Request) {
	tableID, ok := pathID(r, "tableId")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad table id")
		return
	}
	var req ackRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if !a.relay.Staff.Acknowledge(tableID, req.Message) {
		writeError(w, http.StatusNotFound, "no pending staff call")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
