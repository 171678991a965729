// Package client composes the channel endpoint, the reconciliation cache and
// the sound controller into customer and dashboard sessions.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"tablewire/internal/client/state"
	"tablewire/internal/store"
)

// API is the REST side of the server: the resync fetch plus the
// request/response calls that confirm optimistic updates.
type API struct {
	base string
	http *http.Client
}

func NewAPI(base string) *API {
	return &API{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

func (a *API) FetchSnapshot(ctx context.Context) (state.Snapshot, error) {
	var snap state.Snapshot
	err := a.do(ctx, http.MethodGet, "/api/snapshot", nil, &snap)
	return snap, err
}

func (a *API) UpdateOrderStatus(ctx context.Context, orderID int64, status string) error {
	body := struct {
		Status string `json:"status"`
	}{Status: status}
	return a.do(ctx, http.MethodPatch, fmt.Sprintf("/api/orders/%d/status", orderID), body, nil)
}

func (a *API) UpdateTableStatus(ctx context.Context, tableID int64, status string) error {
	body := struct {
		Status string `json:"status"`
	}{Status: status}
	return a.do(ctx, http.MethodPatch, fmt.Sprintf("/api/tables/%d/status", tableID), body, nil)
}

type OrderLine struct {
	MenuItemID int64 `json:"menuItemId"`
	Quantity   int   `json:"quantity"`
}

func (a *API) PlaceOrder(ctx context.Context, tableID int64, items []OrderLine) (store.Order, error) {
	body := struct {
		TableID int64       `json:"tableId"`
		Items   []OrderLine `json:"items"`
	}{TableID: tableID, Items: items}
	var o store.Order
	err := a.do(ctx, http.MethodPost, "/api/orders", body, &o)
	return o, err
}

func (a *API) CreateBill(ctx context.Context, tableID int64, orderIDs []int64) (store.Bill, error) {
	body := struct {
		TableID  int64   `json:"tableId"`
		OrderIDs []int64 `json:"orderIds"`
	}{TableID: tableID, OrderIDs: orderIDs}
	var b store.Bill
	err := a.do(ctx, http.MethodPost, "/api/bills", body, &b)
	return b, err
}

func (a *API) AckStaffCall(ctx context.Context, tableID int64, message string) error {
	body := struct {
		Message string `json:"message"`
	}{Message: message}
	return a.do(ctx, http.MethodPost, fmt.Sprintf("/api/staff-calls/%d/ack", tableID), body, nil)
}

func (a *API) do(ctx context.Context, method, path string, body, out any) error {
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
