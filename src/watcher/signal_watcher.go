package watcher

import (
	"context"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"

	"signalengine/src/model"
	"signalengine/src/notifier"
	"signalengine/src/pricing"
)

type signalStore interface {
	FindByID(ctx context.Context, id uint) (*model.Signal, error)
	MarkActive(ctx context.Context, id uint, at time.Time) error
	MarkTerminal(ctx context.Context, id uint, status, reason string, at time.Time) error
}

// SignalWatcher drives one signal through its lifecycle by polling the
// price feed. It is the only writer of the signal's status; operator
// cancellations happen out of band and are observed on the next reload.
type SignalWatcher struct {
	signalID uint
	store    signalStore
	prices   pricing.PriceSource
	notify   notifier.Notifier
	config   Config
	release  func()
	now      func() time.Time
}

func NewSignalWatcher(
	signalID uint,
	store signalStore,
	prices pricing.PriceSource,
	notify notifier.Notifier,
	config Config,
	release func(),
) *SignalWatcher {
	return &SignalWatcher{
		signalID: signalID,
		store:    store,
		prices:   prices,
		notify:   notify,
		config:   config,
		release:  release,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run polls until the signal reaches a terminal status or ctx is cancelled.
func (w *SignalWatcher) Run(ctx context.Context) {
	if w.release != nil {
		defer w.release()
	}

	log := logger.WithField("signal_id", w.signalID)
	log.Info("Signal watcher started")

	ticker := time.NewTicker(w.config.SignalPollPeriod)
	defer ticker.Stop()

	for {
		if w.tick(ctx) {
			log.Info("Signal watcher finished")
			return
		}

		select {
		case <-ctx.Done():
			log.Info("Signal watcher stopped")
			return
		case <-ticker.C:
		}
	}
}

// tick runs one poll cycle and reports whether the watcher is done.
func (w *SignalWatcher) tick(ctx context.Context) bool {
	signal, err := w.store.FindByID(ctx, w.signalID)
	if err != nil {
		logger.WithField("signal_id", w.signalID).
			WithError(err).Error("Failed to reload signal")
		return false
	}
	if signal == nil {
		logger.WithField("signal_id", w.signalID).Warn("Signal vanished from store")
		return true
	}
	if signal.IsTerminal() {
		// cancelled or closed by an operator between polls
		return true
	}

	price, err := w.prices.GetPrice(ctx, signal.Symbol)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"signal_id": w.signalID,
			"symbol":    signal.Symbol,
		}).WithError(err).Debug("Price unavailable, skipping poll")
		return false
	}

	switch signal.Status {
	case model.SignalStatusPending:
		return w.tickPending(ctx, signal, price)
	case model.SignalStatusActive:
		return w.tickActive(ctx, signal, price)
	default:
		logger.WithFields(map[string]interface{}{
			"signal_id": w.signalID,
			"status":    signal.Status,
		}).Warn("Signal in unexpected status, stopping watcher")
		return true
	}
}

func (w *SignalWatcher) tickPending(ctx context.Context, signal *model.Signal, price float64) bool {
	// a pending signal whose stop level trades first never activates
	if stopHit(signal, price) {
		w.terminate(ctx, signal, model.SignalStatusCancelled, "stop level reached before entry", price)
		return true
	}

	if w.entryReached(signal, price) {
		at := w.now()
		if err := persistUntilSuccess(ctx, w.config, "MarkActive", func() error {
			return w.store.MarkActive(ctx, signal.ID, at)
		}); err != nil {
			return true
		}

		w.notify.Broadcast(ctx, fmt.Sprintf(
			"Signal #%d %s %s active at %g", signal.ID, signal.Symbol, signal.Direction, price))
	}

	return false
}

func (w *SignalWatcher) tickActive(ctx context.Context, signal *model.Signal, price float64) bool {
	if takeProfitHit(signal, price) {
		w.terminate(ctx, signal, model.SignalStatusClosed, "take-profit reached", price)
		return true
	}
	if stopHit(signal, price) {
		w.terminate(ctx, signal, model.SignalStatusClosed, "stop-loss reached", price)
		return true
	}
	return false
}

// terminate persists the terminal transition first, then announces it. A
// crash between the two loses only the announcement, never the state.
func (w *SignalWatcher) terminate(ctx context.Context, signal *model.Signal, status, reason string, price float64) {
	at := w.now()
	if err := persistUntilSuccess(ctx, w.config, "MarkTerminal", func() error {
		return w.store.MarkTerminal(ctx, signal.ID, status, reason, at)
	}); err != nil {
		return
	}

	w.notify.Broadcast(ctx, fmt.Sprintf(
		"Signal #%d %s %s %s (%s) at %g", signal.ID, signal.Symbol, signal.Direction, status, reason, price))
}

// entryReached reports whether price has come within the configured
// tolerance of the entry level, approaching from the waiting side.
func (w *SignalWatcher) entryReached(signal *model.Signal, price float64) bool {
	if signal.EntryPrice <= 0 {
		return false
	}

	band := signal.EntryPrice * w.config.EntryTolerancePct / 100

	if signal.IsLong() {
		return price <= signal.EntryPrice+band
	}
	return price >= signal.EntryPrice-band
}

func stopHit(signal *model.Signal, price float64) bool {
	if signal.StopLoss <= 0 {
		return false
	}
	if signal.IsLong() {
		return price <= signal.StopLoss
	}
	return price >= signal.StopLoss
}

func takeProfitHit(signal *model.Signal, price float64) bool {
	if signal.TakeProfit <= 0 {
		return false
	}
	if signal.IsLong() {
		return price >= signal.TakeProfit
	}
	return price <= signal.TakeProfit
}
