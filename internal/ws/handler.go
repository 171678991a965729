// Package ws is the server half of the channel endpoint: one websocket per
// participant, a writer goroutine draining the registry outbox, and a reader
// loop feeding decoded events to the relay.
package ws

import (
	"context"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"tablewire/internal/relay"
	"tablewire/internal/room"
	"tablewire/pkg/event"
)

const (
	writeTimeout = 3 * time.Second
	// Generous relative to the clients' 30s background refresh, so an idle
	// but healthy connection is not cut.
	readTimeout = 90 * time.Second
)

func Handler(s *relay.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := room.RoleCustomer
		if r.URL.Query().Get("role") == string(room.RoleDashboard) {
			role = room.RoleDashboard
		}
		var tableID int64
		if v := r.URL.Query().Get("tableId"); v != "" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil || id <= 0 {
				http.Error(w, "bad tableId", http.StatusBadRequest)
				return
			}
			tableID = id
		}
		if role == room.RoleCustomer && tableID == 0 {
			http.Error(w, "missing tableId", http.StatusBadRequest)
			return
		}

		wsConn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer wsConn.Close(websocket.StatusNormalClosure, "bye")

		c := &room.Conn{
			ID:      randID(8),
			Role:    role,
			TableID: tableID,
			Outbox:  make(chan []byte, 16),
		}
		s.Register(c)
		defer s.Unregister(c.ID)

		// Writer goroutine: drains the outbox until the registry closes it
		// (disconnect or slow-client drop).
		go func() {
			for frame := range c.Outbox {
				ctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
				_ = wsConn.Write(ctx, websocket.MessageText, frame)
				cancel()
			}
		}()

		for {
			ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
			_, data, err := wsConn.Read(ctx)
			cancel()
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				return
			}

			msg, err := event.Decode(data)
			if err != nil {
				// Malformed frames never reach the relay.
				log.Warn("dropped frame", zap.String("conn_id", c.ID), zap.Error(err))
				continue
			}
			s.HandleMessage(c, msg)
		}
	}
}

func randID(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))]
	}
	return string(b)
}
