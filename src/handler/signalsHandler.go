package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"signalengine/src/model"
	"signalengine/src/repository"
)

type signalLister interface {
	FindLatest(ctx context.Context, limit int) ([]model.Signal, error)
	FindByStatuses(ctx context.Context, statuses []string) ([]model.Signal, error)
}

type signalGetter interface {
	FindByID(ctx context.Context, id uint) (*model.Signal, error)
}

type signalWriter interface {
	Create(ctx context.Context, signal *model.Signal) error
	FindByID(ctx context.Context, id uint) (*model.Signal, error)
	MarkTerminal(ctx context.Context, id uint, status, reason string, at time.Time) error
}

// ListSignalsHandler returns the latest signals, optionally filtered by
// status (?status=pending,active).
func ListSignalsHandler(repo signalLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 20
		if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
			parsed, err := strconv.Atoi(limitParam)
			if err != nil || parsed <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = parsed
		}

		var signals []model.Signal
		var err error

		if statusParam := r.URL.Query().Get("status"); statusParam != "" {
			signals, err = repo.FindByStatuses(r.Context(), splitStatuses(statusParam))
		} else {
			signals, err = repo.FindLatest(r.Context(), limit)
		}

		if err != nil {
			logger.WithError(err).Error("failed to list signals")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, signals)
	}
}

// GetSignalHandler returns one signal by ID.
func GetSignalHandler(repo signalGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, chi.URLParam(r, "id"))
		if !ok {
			return
		}

		signal, err := repo.FindByID(r.Context(), id)
		if err != nil {
			logger.WithError(err).Error("failed to fetch signal")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if signal == nil {
			http.Error(w, "signal not found", http.StatusNotFound)
			return
		}

		writeJSON(w, signal)
	}
}

type createSignalRequest struct {
	Symbol     string  `json:"symbol"`
	Direction  string  `json:"direction"`
	Market     string  `json:"market"`
	EntryPrice float64 `json:"entry_price"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
}

// CreateSignalHandler registers a new pending signal. The dispatcher picks
// it up on its next pass.
func CreateSignalHandler(repo signalWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createSignalRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}

		if req.Symbol == "" || req.EntryPrice <= 0 {
			http.Error(w, "symbol and entry_price are required", http.StatusBadRequest)
			return
		}
		if req.Direction != model.SignalDirectionLong && req.Direction != model.SignalDirectionShort {
			http.Error(w, "direction must be LONG or SHORT", http.StatusBadRequest)
			return
		}

		market := req.Market
		if market == "" {
			market = "futures"
		}

		signal := &model.Signal{
			Symbol:     req.Symbol,
			Direction:  req.Direction,
			Market:     market,
			EntryPrice: req.EntryPrice,
			StopLoss:   req.StopLoss,
			TakeProfit: req.TakeProfit,
			Status:     model.SignalStatusPending,
		}

		if err := repo.Create(r.Context(), signal); err != nil {
			logger.WithError(err).Error("failed to create signal")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		if err := json.NewEncoder(w).Encode(signal); err != nil {
			logger.WithError(err).Error("failed to encode created signal")
		}
	}
}

// CancelSignalHandler flags a signal cancelled. The running watcher observes
// the terminal status on its next reload; no new fan-out happens for it.
func CancelSignalHandler(repo signalWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, chi.URLParam(r, "id"))
		if !ok {
			return
		}

		signal, err := repo.FindByID(r.Context(), id)
		if err != nil {
			logger.WithError(err).Error("failed to fetch signal for cancel")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if signal == nil {
			http.Error(w, "signal not found", http.StatusNotFound)
			return
		}
		if signal.IsTerminal() {
			http.Error(w, "signal already terminal", http.StatusConflict)
			return
		}

		if err := repo.MarkTerminal(r.Context(), id, model.SignalStatusCancelled,
			"cancelled by operator", time.Now().UTC()); err != nil {
			logger.WithError(err).Error("failed to cancel signal")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// DefaultListSignalsHandler wires the handler to the production repository.
func DefaultListSignalsHandler() http.HandlerFunc {
	return ListSignalsHandler(repository.NewSignalRepository())
}

// DefaultGetSignalHandler wires the handler to the production repository.
func DefaultGetSignalHandler() http.HandlerFunc {
	return GetSignalHandler(repository.NewSignalRepository())
}

// DefaultCreateSignalHandler wires the handler to the production repository.
func DefaultCreateSignalHandler() http.HandlerFunc {
	return CreateSignalHandler(repository.NewSignalRepository())
}

// DefaultCancelSignalHandler wires the handler to the production repository.
func DefaultCancelSignalHandler() http.HandlerFunc {
	return CancelSignalHandler(repository.NewSignalRepository())
}
