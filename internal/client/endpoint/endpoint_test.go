package endpoint

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"tablewire/pkg/event"
)

func TestDuplicateRegistrationDoesNotDoubleFire(t *testing.T) {
	c := New("ws://unused", zap.NewNop())

	fired := 0
	h := func(any) { fired++ }
	c.On(event.StaffCalled, "view", h)
	c.On(event.StaffCalled, "view", h) // same key: replace, not stack

	c.dispatch(event.Message{Event: event.StaffCalled, Payload: &event.StaffCalledPayload{TableID: 5}})
	if fired != 1 {
		t.Fatalf("handler fired %d times, want 1", fired)
	}

	c.Off(event.StaffCalled, "view")
	c.dispatch(event.Message{Event: event.StaffCalled, Payload: &event.StaffCalledPayload{TableID: 5}})
	if fired != 1 {
		t.Fatalf("deregistered handler still fired")
	}
}

func TestEmitWhileDisconnected(t *testing.T) {
	c := New("ws://unused", zap.NewNop())
	err := c.Emit(event.JoinTable, &event.TableRefPayload{TableID: 5})
	if err != ErrNotConnected {
		t.Fatalf("want ErrNotConnected, got %v", err)
	}
}

func TestReconnectRerunsOnConnectHooks(t *testing.T) {
	var accepts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&accepts, 1)
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		if n == 1 {
			// Simulate a relay restart: the first session dies at once.
			ws.Close(websocket.StatusGoingAway, "restart")
			return
		}
		frame := event.MustEncode(event.StaffCalled, &event.StaffCalledPayload{
			TableID: 5, Message: "ok", Timestamp: time.Now(),
		})
		_ = ws.Write(r.Context(), websocket.MessageText, frame)
		_, _, _ = ws.Read(r.Context()) // hold until the client hangs up
	}))
	defer srv.Close()

	c := New("ws"+strings.TrimPrefix(srv.URL, "http"), zap.NewNop())
	c.backoff = 10 * time.Millisecond

	var connects int32
	c.OnConnect(func() { atomic.AddInt32(&connects, 1) })

	var lastStatus atomic.Value
	c.OnStatusChange(func(st Status) { lastStatus.Store(st) })

	got := make(chan any, 1)
	c.On(event.StaffCalled, "test", func(p any) {
		select {
		case got <- p:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Connect(ctx)
	c.Connect(ctx) // idempotent

	select {
	case p := <-got:
		if p.(*event.StaffCalledPayload).TableID != 5 {
			t.Fatalf("bad payload: %+v", p)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("never received frame after reconnect")
	}

	if atomic.LoadInt32(&connects) < 2 {
		t.Fatalf("OnConnect hooks must re-run on reconnect, ran %d times", connects)
	}
	if st, ok := lastStatus.Load().(Status); !ok || !st.Connected {
		t.Fatalf("status observable should report connected, got %+v", lastStatus.Load())
	}

	c.Disconnect()
	if c.Connected() {
		t.Fatalf("Disconnect must clear the link state")
	}
}
