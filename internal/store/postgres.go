package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB implements Store on postgres through gorm.
type DB struct {
	g *gorm.DB
}

func Open(dsn string) (*DB, error) {
	g, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := g.AutoMigrate(&Table{}, &MenuItem{}, &Order{}, &OrderItem{}, &Bill{}, &BillOrder{}); err != nil {
		return nil, err
	}
	return &DB{g: g}, nil
}

func (d *DB) Close() error {
	sqlDB, err := d.g.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (d *DB) GetOrder(ctx context.Context, id int64) (Order, error) {
	var o Order
	err := d.g.WithContext(ctx).Preload("Items").First(&o, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Order{}, ErrNotFound
	}
	return o, err
}

func (d *DB) CreateOrder(ctx context.Context, o *Order) error {
	if o.OrderTime.IsZero() {
		o.OrderTime = time.Now()
	}
	return d.g.WithContext(ctx).Create(o).Error
}

func (d *DB) UpdateOrderStatus(ctx context.Context, id int64, status string) error {
	res := d.g.WithContext(ctx).Model(&Order{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *DB) ListOrdersByTable(ctx context.Context, tableID int64) ([]Order, error) {
	var orders []Order
	err := d.g.WithContext(ctx).Preload("Items").
		Where("table_id = ?", tableID).Order("order_time").Find(&orders).Error
	return orders, err
}

func (d *DB) GetTable(ctx context.Context, id int64) (Table, error) {
	var t Table
	err := d.g.WithContext(ctx).First(&t, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Table{}, ErrNotFound
	}
	return t, err
}

func (d *DB) ListTables(ctx context.Context) ([]Table, error) {
	var tables []Table
	err := d.g.WithContext(ctx).Order("number").Find(&tables).Error
	return tables, err
}

func (d *DB) UpdateTableStatus(ctx context.Context, id int64, status string) error {
	res := d.g.WithContext(ctx).Model(&Table{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *DB) ListMenu(ctx context.Context) ([]MenuItem, error) {
	var items []MenuItem
	err := d.g.WithContext(ctx).Order("id").Find(&items).Error
	return items, err
}

func (d *DB) CreateBill(ctx context.Context, b *Bill) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	return d.g.WithContext(ctx).Create(b).Error
}

func (d *DB) ListBills(ctx context.Context) ([]Bill, error) {
	var bills []Bill
	err := d.g.WithContext(ctx).Preload("Orders").Order("created_at").Find(&bills).Error
	return bills, err
}

func (d *DB) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	if err := d.g.WithContext(ctx).Order("number").Find(&snap.Tables).Error; err != nil {
		return Snapshot{}, err
	}
	if err := d.g.WithContext(ctx).Order("id").Find(&snap.Menu).Error; err != nil {
		return Snapshot{}, err
	}
	if err := d.g.WithContext(ctx).Preload("Items").Order("order_time").Find(&snap.Orders).Error; err != nil {
		return Snapshot{}, err
	}
	if err := d.g.WithContext(ctx).Preload("Orders").Order("created_at").Find(&snap.Bills).Error; err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}
