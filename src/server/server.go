package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"signalengine/src/handler"
)

// watcherCounter reports the live watcher fleet for the health endpoint.
type watcherCounter interface {
	Counts() (signals, positions int)
}

// StartServer serves the dashboard API until ctx is cancelled, then shuts
// down gracefully.
func StartServer(ctx context.Context, port string, counter watcherCounter) {
	r := chi.NewRouter()

	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		signals, positions := 0, 0
		if counter != nil {
			signals, positions = counter.Counts()
		}

		w.Header().Set("Content-Type", "application/json")
		err := json.NewEncoder(w).Encode(map[string]interface{}{
			"status":            "ok",
			"signal_watchers":   signals,
			"position_watchers": positions,
		})
		if err != nil {
			logger.WithError(err).Error("healthcheck write failed")
		}
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/signals", handler.DefaultListSignalsHandler())
		r.Post("/signals", handler.DefaultCreateSignalHandler())
		r.Get("/signals/{id}", handler.DefaultGetSignalHandler())
		r.Post("/signals/{id}/cancel", handler.DefaultCancelSignalHandler())
		r.Get("/users/{id}/positions", handler.DefaultUserPositionsHandler())
		r.Post("/positions/{id}/close", handler.DefaultClosePositionHandler())
	})

	addr := ":" + port
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server crashed")
		}
	}()

	<-ctx.Done()

	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Shutdown error")
	}
}
