// Package event defines the wire contract between clients and the relay
// server. Every message is an Envelope carrying a named event and a typed
// payload; both sides decode through the same table so a message means the
// same thing on emit and on receipt.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ProtocolVersion is bumped whenever an event payload changes shape.
const ProtocolVersion = 1

var (
	ErrUnknownEvent = errors.New("unknown event")
	ErrBadPayload   = errors.New("bad payload")
)

type Name string

// Client -> Server
const (
	JoinTable         Name = "joinTable"
	LeaveTable        Name = "leaveTable"
	JoinDashboard     Name = "joinDashboard"
	LeaveDashboard    Name = "leaveDashboard"
	OrderStatusUpdate Name = "orderStatusUpdate"
	CallStaffForBill  Name = "callStaffForBill" // also relayed S->C with a timestamp
)

// Server -> Client
const (
	OrderStatusChanged Name = "orderStatusChanged"
	TableStatusChanged Name = "tableStatusChanged"
	NewOrder           Name = "newOrder"
	BillCreated        Name = "billCreated"
	StaffCalled        Name = "staffCalled"
	ConnectionStatus   Name = "connectionStatus"
)

// Envelope is the raw wire frame. Payload stays opaque until the event name
// selects its variant.
type Envelope struct {
	V       int             `json:"v"`
	Event   Name            `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message is a decoded frame: the event name plus its validated, typed payload.
type Message struct {
	Event   Name
	Payload any
}

// TableRefPayload accompanies joinTable / leaveTable.
type TableRefPayload struct {
	TableID int64 `json:"tableId"`
}

// EmptyPayload accompanies joinDashboard / leaveDashboard.
type EmptyPayload struct{}

// StatusUpdatePayload accompanies orderStatusUpdate (C->S).
type StatusUpdatePayload struct {
	OrderID int64  `json:"orderId"`
	Status  string `json:"status"`
	TableID int64  `json:"tableId"`
}

// StaffCallPayload accompanies callStaffForBill in both directions; the
// server stamps Timestamp before relaying to the dashboard room.
type StaffCallPayload struct {
	TableID     int64     `json:"tableId"`
	TableName   string    `json:"tableName"`
	OrderCount  int       `json:"orderCount"`
	TotalAmount float64   `json:"totalAmount"`
	Timestamp   time.Time `json:"timestamp,omitempty"`
}

// StatusChangedPayload accompanies orderStatusChanged (S->C).
type StatusChangedPayload struct {
	OrderID   int64     `json:"orderId"`
	Status    string    `json:"status"`
	TableID   int64     `json:"tableId"`
	Timestamp time.Time `json:"timestamp"`
}

// TableStatusPayload accompanies tableStatusChanged (S->C).
type TableStatusPayload struct {
	TableID   int64     `json:"tableId"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderPlacedPayload accompanies newOrder (S->C).
type OrderPlacedPayload struct {
	OrderID     int64     `json:"orderId"`
	TableID     int64     `json:"tableId"`
	TotalAmount float64   `json:"totalAmount"`
	ItemsCount  int       `json:"itemsCount"`
	Timestamp   time.Time `json:"timestamp"`
}

// BillCreatedPayload accompanies billCreated (S->C).
type BillCreatedPayload struct {
	BillID      int64   `json:"billId"`
	TotalAmount float64 `json:"totalAmount"`
}

// StaffCalledPayload accompanies staffCalled (S->C), the acknowledgement
// broadcast back to the table and the dashboard.
type StaffCalledPayload struct {
	TableID   int64     `json:"tableId"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ConnStatusPayload accompanies connectionStatus (S->C).
type ConnStatusPayload struct {
	Connected    bool `json:"connected"`
	ClientsCount int  `json:"clientsCount"`
}

type payload interface{ validate() error }

func (p *TableRefPayload) validate() error {
	if p.TableID <= 0 {
		return fmt.Errorf("%w: tableId required", ErrBadPayload)
	}
	return nil
}

func (p *EmptyPayload) validate() error { return nil }

func (p *StatusUpdatePayload) validate() error {
	if p.OrderID <= 0 || p.TableID <= 0 || p.Status == "" {
		return fmt.Errorf("%w: orderId, status and tableId required", ErrBadPayload)
	}
	return nil
}

func (p *StaffCallPayload) validate() error {
	if p.TableID <= 0 {
		return fmt.Errorf("%w: tableId required", ErrBadPayload)
	}
	return nil
}

func (p *StatusChangedPayload) validate() error {
	if p.OrderID <= 0 || p.TableID <= 0 || p.Status == "" {
		return fmt.Errorf("%w: orderId, status and tableId required", ErrBadPayload)
	}
	return nil
}

func (p *TableStatusPayload) validate() error {
	if p.TableID <= 0 || p.Status == "" {
		return fmt.Errorf("%w: tableId and status required", ErrBadPayload)
	}
	return nil
}

func (p *OrderPlacedPayload) validate() error {
	if p.OrderID <= 0 || p.TableID <= 0 {
		return fmt.Errorf("%w: orderId and tableId required", ErrBadPayload)
	}
	return nil
}

func (p *BillCreatedPayload) validate() error {
	if p.BillID <= 0 {
		return fmt.Errorf("%w: billId required", ErrBadPayload)
	}
	return nil
}

func (p *StaffCalledPayload) validate() error {
	if p.TableID <= 0 {
		return fmt.Errorf("%w: tableId required", ErrBadPayload)
	}
	return nil
}

func (p *ConnStatusPayload) validate() error { return nil }

// variants maps every known event name to a factory for its payload type.
var variants = map[Name]func() payload{
	JoinTable:          func() payload { return new(TableRefPayload) },
	LeaveTable:         func() payload { return new(TableRefPayload) },
	JoinDashboard:      func() payload { return new(EmptyPayload) },
	LeaveDashboard:     func() payload { return new(EmptyPayload) },
	OrderStatusUpdate:  func() payload { return new(StatusUpdatePayload) },
	CallStaffForBill:   func() payload { return new(StaffCallPayload) },
	OrderStatusChanged: func() payload { return new(StatusChangedPayload) },
	TableStatusChanged: func() payload { return new(TableStatusPayload) },
	NewOrder:           func() payload { return new(OrderPlacedPayload) },
	BillCreated:        func() payload { return new(BillCreatedPayload) },
	StaffCalled:        func() payload { return new(StaffCalledPayload) },
	ConnectionStatus:   func() payload { return new(ConnStatusPayload) },
}

// Decode parses a wire frame and returns the typed message. A frame with an
// unknown event name or a payload that fails validation is rejected here,
// before any business logic sees it.
func Decode(data []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if env.V != 0 && env.V != ProtocolVersion {
		return Message{}, fmt.Errorf("%w: protocol version %d", ErrBadPayload, env.V)
	}
	mk, ok := variants[env.Event]
	if !ok {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	p := mk()
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, p); err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
	}
	if err := p.validate(); err != nil {
		return Message{}, err
	}
	return Message{Event: env.Event, Payload: p}, nil
}

// Encode builds a wire frame, refusing a payload whose type does not match
// the event name's declared variant.
func Encode(name Name, p any) ([]byte, error) {
	mk, ok := variants[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
	if fmt.Sprintf("%T", mk()) != fmt.Sprintf("%T", p) {
		return nil, fmt.Errorf("%w: %T does not carry %q", ErrBadPayload, p, name)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{V: ProtocolVersion, Event: name, Payload: raw})
}

// MustEncode is Encode for payloads constructed by the server itself, where a
// mismatch is a programming error.
func MustEncode(name Name, p any) []byte {
	data, err := Encode(name, p)
	if err != nil {
		panic(err)
	}
	return data
}
