package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"missioncontrol/internal/api"
	"missioncontrol/internal/events"
	"missioncontrol/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the background monitoring loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	deps, err := components(cfg, db)
	if err != nil {
		return err
	}
	defer deps.Hub.Close()

	var relay *events.NATSRelay
	if cfg.Events.NATSURL != "" {
		relay, err = events.NewNATSRelay(cfg.Events.NATSURL, cfg.Events.NATSSubject)
		if err != nil {
			return err
		}
		defer relay.Close()
	}

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: api.NewServerWithDebug(deps, cfg.Server.Debug)}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().
			Dur("interval", cfg.CheckInterval()).
			Str("gateway", cfg.GatewayAddr()).
			Msg("scheduler loop starting")
		deps.Loop.Run(gctx)
		return nil
	})
	if relay != nil {
		g.Go(func() error { return relay.Run(gctx, deps.Hub) })
	}
	g.Go(func() error {
		log.Info().Str("addr", cfg.Server.Addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		deps.Loop.Stop()
		// Ends websocket writers so Shutdown does not wait on them.
		deps.Hub.Close()
		ctxTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctxTimeout)
	})
	return g.Wait()
}
