package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"tablewire/internal/relay"
	"tablewire/internal/store"
	"tablewire/internal/ws"
)

func SetupRoutes(rl *relay.Service, st store.Store, log *zap.Logger) http.Handler {
	api := New(rl, st, log.Named("httpapi"))

	r := chi.NewRouter()
	r.Get("/healthz", api.Healthz)
	r.Get("/ws", ws.Handler(rl, log.Named("ws")))

	r.Route("/api", func(r chi.Router) {
		r.Get("/snapshot", api.Snapshot)
		r.Post("/orders", api.PlaceOrder)
		r.Patch("/orders/{id}/status", api.UpdateOrderStatus)
		r.Patch("/tables/{id}/status", api.UpdateTableStatus)
		r.Post("/bills", api.CreateBill)
		r.Get("/staff-calls", api.ListStaffCalls)
		r.Post("/staff-calls/{tableId}/ack", api.AckStaffCall)
	})
	return r
}
