// Package store is the persistence collaborator: the source of truth the
// coordinators consult before any broadcast goes out.
package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// Table statuses. Exactly one canonical status per table at any
// server-observed instant; clients may see a stale one until the next
// broadcast or poll.
const (
	TableAvailable = "available"
	TableOccupied  = "occupied"
	TableReserved  = "reserved"
	TableCleaning  = "cleaning"
)

// ValidTableStatus reports whether s is one of the four canonical table
// statuses.
func ValidTableStatus(s string) bool {
	switch s {
	case TableAvailable, TableOccupied, TableReserved, TableCleaning:
		return true
	}
	return false
}

type Table struct {
	ID     int64 `gorm:"primaryKey" json:"id"`
	Number int   `gorm:"uniqueIndex" json:"number"`
	Seats  int   `json:"seats"`
	Status string `json:"status"`
}

type MenuItem struct {
	ID    int64   `gorm:"primaryKey" json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

type Order struct {
	ID        int64       `gorm:"primaryKey" json:"id"`
	TableID   int64       `gorm:"index" json:"tableId"`
	Status    string      `json:"status"`
	OrderTime time.Time   `json:"orderTime"`
	Total     float64     `json:"total"`
	Items     []OrderItem `json:"items"`
}

type OrderItem struct {
	ID         int64   `gorm:"primaryKey" json:"id"`
	OrderID    int64   `gorm:"index" json:"orderId"`
	MenuItemID int64   `json:"menuItemId"`
	Name       string  `json:"name"`
	Price      float64 `json:"price"`
	Quantity   int     `json:"quantity"`
}

type Bill struct {
	ID        int64       `gorm:"primaryKey" json:"id"`
	TableID   int64       `gorm:"index" json:"tableId"`
	Total     float64     `json:"total"`
	CreatedAt time.Time   `json:"createdAt"`
	Orders    []BillOrder `json:"orders"`
}

// BillOrder links a finalized bill to the orders it covers; clients rebuild
// their billed-order set from these pairs.
type BillOrder struct {
	ID      int64 `gorm:"primaryKey" json:"-"`
	BillID  int64 `gorm:"index" json:"billId"`
	OrderID int64 `gorm:"index" json:"orderId"`
}

// Snapshot is the full current state a client fetches on resync.
type Snapshot struct {
	Tables []Table    `json:"tables"`
	Menu   []MenuItem `json:"menu"`
	Orders []Order    `json:"orders"`
	Bills  []Bill     `json:"bills"`
}

// Store is what the coordinators and the HTTP layer consume. Implementations
// must be safe for concurrent use.
type Store interface {
	GetOrder(ctx context.Context, id int64) (Order, error)
	CreateOrder(ctx context.Context, o *Order) error
	UpdateOrderStatus(ctx context.Context, id int64, status string) error
	ListOrdersByTable(ctx context.Context, tableID int64) ([]Order, error)

	GetTable(ctx context.Context, id int64) (Table, error)
	ListTables(ctx context.Context) ([]Table, error)
	UpdateTableStatus(ctx context.Context, id int64, status string) error

	ListMenu(ctx context.Context) ([]MenuItem, error)

	CreateBill(ctx context.Context, b *Bill) error
	ListBills(ctx context.Context) ([]Bill, error)

	Snapshot(ctx context.Context) (Snapshot, error)
}
