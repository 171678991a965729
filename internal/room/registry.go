// Package room maintains the server-side mapping from connections to named
// broadcast groups. Rooms are a runtime index only: created on first join,
// gone when empty, never persisted.
package room

import (
	"context"
	"fmt"
)

// Dashboard is the room every staff terminal joins.
const Dashboard = "dashboard"

// ForTable names the room for a single table's customer sessions.
func ForTable(tableID int64) string {
	return fmt.Sprintf("table-%d", tableID)
}

type Role string

const (
	RoleCustomer  Role = "customer"
	RoleDashboard Role = "dashboard"
)

// Conn is one participant. Outbox carries pre-encoded wire frames; the ws
// writer goroutine drains it. The rooms set is owned by the registry loop.
type Conn struct {
	ID      string
	Role    Role
	TableID int64
	Outbox  chan []byte

	rooms map[string]bool
}

type Msg interface{ isRegistryMsg() }

type Register struct{ Conn *Conn }

type Unregister struct {
	ID string
	// Done is closed after the connection has left every room, so callers
	// can order "user disconnected" notifications after the removal.
	Done chan struct{}
}

type Join struct{ ID, Room string }

type Leave struct{ ID, Room string }

type Broadcast struct {
	Room  string
	Frame []byte
}

type BroadcastExcept struct {
	Room     string
	ExceptID string
	Frame    []byte
}

type BroadcastAll struct{ Frame []byte }

type GetView struct{ Reply chan View }

type Shutdown struct{}

func (Register) isRegistryMsg()        {}
func (Unregister) isRegistryMsg()      {}
func (Join) isRegistryMsg()            {}
func (Leave) isRegistryMsg()           {}
func (Broadcast) isRegistryMsg()       {}
func (BroadcastExcept) isRegistryMsg() {}
func (BroadcastAll) isRegistryMsg()    {}
func (GetView) isRegistryMsg()         {}
func (Shutdown) isRegistryMsg()        {}

// View reflects registry state without data races; test and status use only.
type View struct {
	Clients int
	Rooms   map[string]int
}

// Registry is a single goroutine owning all membership state. Joins, leaves
// and broadcasts from any number of connections serialize through its inbox.
type Registry struct {
	inbox  chan Msg
	conns  map[string]*Conn
	rooms  map[string]map[string]*Conn
	ctx    context.Context
	cancel context.CancelFunc
}

func NewRegistry(parent context.Context) *Registry {
	ctx, cancel := context.WithCancel(parent)
	r := &Registry{
		inbox:  make(chan Msg, 64),
		conns:  make(map[string]*Conn),
		rooms:  make(map[string]map[string]*Conn),
		ctx:    ctx,
		cancel: cancel,
	}
	go r.loop()
	return r
}

func (r *Registry) Inbox() chan<- Msg { return r.inbox }

func (r *Registry) loop() {
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Register:
				msg.Conn.rooms = make(map[string]bool)
				r.conns[msg.Conn.ID] = msg.Conn

			case Unregister:
				r.drop(msg.ID)
				if msg.Done != nil {
					close(msg.Done)
				}

			case Join:
				c := r.conns[msg.ID]
				if c == nil {
					break
				}
				set := r.rooms[msg.Room]
				if set == nil {
					set = make(map[string]*Conn)
					r.rooms[msg.Room] = set
				}
				set[c.ID] = c
				c.rooms[msg.Room] = true

			case Leave:
				r.leave(msg.ID, msg.Room)

			case Broadcast:
				r.fanOut(msg.Room, "", msg.Frame)

			case BroadcastExcept:
				r.fanOut(msg.Room, msg.ExceptID, msg.Frame)

			case BroadcastAll:
				for id, c := range r.conns {
					r.send(id, c, msg.Frame)
				}

			case GetView:
				v := View{Clients: len(r.conns), Rooms: make(map[string]int, len(r.rooms))}
				for name, set := range r.rooms {
					v.Rooms[name] = len(set)
				}
				msg.Reply <- v

			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

func (r *Registry) fanOut(room, exceptID string, frame []byte) {
	for id, c := range r.rooms[room] {
		if id == exceptID {
			continue
		}
		r.send(id, c, frame)
	}
}

// send delivers non-blocking; a member whose outbox is full is dropped
// entirely rather than stalling the broadcaster.
func (r *Registry) send(id string, c *Conn, frame []byte) {
	select {
	case c.Outbox <- frame:
	default:
		r.drop(id)
	}
}

func (r *Registry) leave(id, roomName string) {
	set := r.rooms[roomName]
	if set == nil {
		return
	}
	if c := set[id]; c != nil {
		delete(c.rooms, roomName)
	}
	delete(set, id)
	if len(set) == 0 {
		delete(r.rooms, roomName)
	}
}

// drop removes the connection from every room before closing its outbox, so
// no later fan-out can target a stale member.
func (r *Registry) drop(id string) {
	c := r.conns[id]
	if c == nil {
		return
	}
	for name := range c.rooms {
		r.leave(id, name)
	}
	delete(r.conns, id)
	close(c.Outbox)
}

func (r *Registry) shutdown() {
	for id := range r.conns {
		r.drop(id)
	}
	r.cancel()
}
