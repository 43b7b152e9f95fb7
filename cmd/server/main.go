package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/okvee/parlor/internal/config"
	"github.com/okvee/parlor/internal/identity"
	"github.com/okvee/parlor/internal/server"
	"github.com/okvee/parlor/internal/storage/sqlite"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	store, err := sqlite.NewStore(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("init storage")
	}
	defer store.Close()

	ids := identity.NewService(cfg.JWT, store)
	app := server.NewApp(cfg, store, ids)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Migration precedes both listeners so no connection can observe an
	// unmigrated database.
	if err := store.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("migrate storage")
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", app.WSHandler(ctx))
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("websocket endpoint started")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server error")
		}
	}()

	runErr := app.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}

	if runErr != nil {
		log.Fatal().Err(runErr).Msg("server shutdown")
	}
	log.Info().Msg("server exited")
}
