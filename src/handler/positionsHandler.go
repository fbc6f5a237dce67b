package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"signalengine/src/model"
	"signalengine/src/repository"
)

type positionLister interface {
	FindByUser(ctx context.Context, userID uint, limit int) ([]model.UserSignal, error)
}

type closeRequester interface {
	FindByID(ctx context.Context, id uint) (*model.UserSignal, error)
	RequestClose(ctx context.Context, id uint) error
}

// UserPositionsHandler returns a user's position records, newest first.
func UserPositionsHandler(repo positionLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, chi.URLParam(r, "id"))
		if !ok {
			return
		}

		limit := 50
		if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
			parsed, err := strconv.Atoi(limitParam)
			if err != nil || parsed <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = parsed
		}

		positions, err := repo.FindByUser(r.Context(), id, limit)
		if err != nil {
			logger.WithError(err).Error("failed to list user positions")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, positions)
	}
}

// ClosePositionHandler flags a manual close on an open position. The owning
// watcher sees the flag on its next poll and flattens the position at market.
func ClosePositionHandler(repo closeRequester) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, chi.URLParam(r, "id"))
		if !ok {
			return
		}

		us, err := repo.FindByID(r.Context(), id)
		if err != nil {
			logger.WithError(err).Error("failed to fetch position for close")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if us == nil {
			http.Error(w, "position not found", http.StatusNotFound)
			return
		}
		if us.IsTerminal() {
			http.Error(w, "position already closed", http.StatusConflict)
			return
		}

		if err := repo.RequestClose(r.Context(), id); err != nil {
			logger.WithError(err).Error("failed to request close")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusAccepted)
	}
}

// DefaultUserPositionsHandler wires the handler to the production repository.
func DefaultUserPositionsHandler() http.HandlerFunc {
	return UserPositionsHandler(repository.NewUserSignalRepository())
}

// DefaultClosePositionHandler wires the handler to the production repository.
func DefaultClosePositionHandler() http.HandlerFunc {
	return ClosePositionHandler(repository.NewUserSignalRepository())
}
