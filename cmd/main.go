package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/mlqa/lingo/internal/api/v1/handlers"
	v1mware "github.com/mlqa/lingo/internal/api/v1/middleware"
	"github.com/mlqa/lingo/internal/config"
	"github.com/mlqa/lingo/internal/connections"
	"github.com/mlqa/lingo/internal/logger"
	"github.com/mlqa/lingo/internal/services"
	"github.com/mlqa/lingo/pkg/httpext"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 15 * time.Second

func main() {
	config.Load()
	logger.Setup(os.Stdout, config.GetLogLevel(), config.GetLogFormat())

	svcs, err := services.InitializeServices()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer svcs.Close()

	manager := connections.NewManager(connections.DefaultTimeouts)

	srv := &http.Server{
		Addr:              ":" + config.GetPort(),
		Handler:           setupRouter(svcs, manager),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("ListenAndServe error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	// Hijacked websockets are not tracked by Shutdown
	manager.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
}

func setupRouter(svcs *services.Services, manager *connections.Manager) http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpext.JsonError(w, "Not found", http.StatusNotFound)
	})
	r.Use(v1mware.RateLimit("global"))

	handlers.RegisterRoutes(r, svcs, manager)

	h := v1mware.CORS(config.GetCORSAllowedOrigins())(r)
	return v1mware.RequestLogging(h)
}
