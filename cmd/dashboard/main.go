// A minimal terminal dashboard: joins the dashboard room, mirrors the order
// and table state, and rings the terminal bell for staff calls.
package main

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"tablewire/internal/client"
	"tablewire/internal/client/endpoint"
	"tablewire/internal/client/sound"
	"tablewire/internal/client/state"
	"tablewire/internal/config"
)

// bellPlayer rings the terminal bell; a terminal has no autoplay policy so
// it never reports sound.ErrAutoplayBlocked.
type bellPlayer struct{}

func (bellPlayer) Play(kind sound.Kind) error {
	fmt.Print("\a")
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	base := os.Getenv("SERVER_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	wsURL, err := websocketURL(base)
	if err != nil {
		logger.Fatal("bad SERVER_URL", zap.Error(err))
	}

	api := client.NewAPI(base)
	cache := state.NewCache(api, logger.Named("state"))
	snd := sound.NewController(bellPlayer{}, cfg.AlertInterval, cfg.AlertTimeout, logger.Named("sound"), nil)

	ep := endpoint.New(wsURL, logger.Named("endpoint"))
	ep.OnStatusChange(func(st endpoint.Status) {
		logger.Info("connection", zap.Bool("connected", st.Connected), zap.String("detail", st.Detail))
	})

	sess := client.NewDashboardSession(ep, api, cache, snd, cfg.PollInterval, logger.Named("session"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess.Start(ctx)
	<-ctx.Done()
	sess.Stop()
	ep.Disconnect()
}

func websocketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	u.RawQuery = "role=dashboard"
	return u.String(), nil
}
