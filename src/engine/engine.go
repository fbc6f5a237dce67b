package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"signalengine/src/connectors"
	"signalengine/src/model"
	"signalengine/src/notifier"
	"signalengine/src/pricing"
	"signalengine/src/security"
	"signalengine/src/watcher"
)

// SignalStore is the signal persistence surface watchers and resumption use.
type SignalStore interface {
	FindByID(ctx context.Context, id uint) (*model.Signal, error)
	MarkActive(ctx context.Context, id uint, at time.Time) error
	MarkTerminal(ctx context.Context, id uint, status, reason string, at time.Time) error
}

// PositionStore is the user-signal persistence surface.
type PositionStore interface {
	FindByID(ctx context.Context, id uint) (*model.UserSignal, error)
	FindResumable(ctx context.Context) ([]model.UserSignal, error)
	RecordEntry(ctx context.Context, id uint, ticket string, openPrice float64, openTime time.Time, volume float64) error
	SetStopWait(ctx context.Context, id uint, wait bool) error
	SetStopTicket(ctx context.Context, id uint, ticket string) error
	SetTakeProfitWait(ctx context.Context, id uint, wait bool) error
	SetTakeProfitTicket(ctx context.Context, id uint, ticket string) error
	MarkClosed(ctx context.Context, id uint, closePrice float64, closeTime time.Time,
		closedVolume, profitPct, profitQuote float64, event string) error
	MarkFailed(ctx context.Context, id uint, event string, at time.Time) error
}

// CredentialStore resolves exchange credentials for position watchers.
type CredentialStore interface {
	FindByID(ctx context.Context, id uint) (*model.ApiKey, error)
}

// swappable for tests
var newAdapter = connectors.NewAdapter
var decryptCredential = security.DecryptString

// Engine owns the watcher fleet: it launches signal and position watchers,
// deduplicated through the registry, and rebuilds the fleet from the store
// after a restart. It implements dispatcher.Launcher.
type Engine struct {
	registry    *Registry
	signals     SignalStore
	positions   PositionStore
	credentials CredentialStore
	notify      notifier.Notifier
	prices      pricing.PriceSource
	config      watcher.Config

	wg sync.WaitGroup

	adapterMu sync.Mutex
	adapters  map[uint]connectors.ExchangeAdapter
}

func New(
	signals SignalStore,
	positions PositionStore,
	credentials CredentialStore,
	notify notifier.Notifier,
	prices pricing.PriceSource,
	config watcher.Config,
) *Engine {
	return &Engine{
		registry:    NewRegistry(),
		signals:     signals,
		positions:   positions,
		credentials: credentials,
		notify:      notify,
		prices:      prices,
		config:      config,
		adapters:    make(map[uint]connectors.ExchangeAdapter),
	}
}

// Registry exposes the watcher registry for health reporting.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// LaunchSignal starts a watcher for the signal unless one is running.
func (e *Engine) LaunchSignal(ctx context.Context, signal *model.Signal) {
	if signal.IsTerminal() {
		return
	}
	if !e.registry.TryAcquireSignal(signal.ID) {
		return
	}

	id := signal.ID
	w := watcher.NewSignalWatcher(id, e.signals, e.prices, e.notify, e.config, func() {
		e.registry.ReleaseSignal(id)
	})

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		w.Run(ctx)
	}()
}

// LaunchPosition starts a watcher for the position record unless one is
// running. The exchange adapter is resolved from the record's credentials;
// a record whose credentials cannot be resolved is left alone and retried
// by the next dispatch pass.
func (e *Engine) LaunchPosition(ctx context.Context, us *model.UserSignal) {
	if us.IsTerminal() {
		return
	}
	if !e.registry.TryAcquirePosition(us.ID) {
		return
	}

	adapter, err := e.adapterFor(ctx, us.ApiID)
	if err != nil {
		e.registry.ReleasePosition(us.ID)
		logger.WithFields(map[string]interface{}{
			"user_signal_id": us.ID,
			"api_id":         us.ApiID,
		}).WithError(err).Error("Failed to build exchange adapter")
		return
	}

	record := *us
	id := record.ID
	w := watcher.NewPositionWatcher(&record, e.positions, e.signals, adapter, e.notify, e.config, func() {
		e.registry.ReleasePosition(id)
	})

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		w.Run(ctx)
	}()
}

// ResumePositions rebuilds position watchers for every non-terminal record.
// Dispatch passes only revisit rows of live signals, so this also picks up
// open positions whose parent signal already ended.
func (e *Engine) ResumePositions(ctx context.Context) {
	rows, err := e.positions.FindResumable(ctx)
	if err != nil {
		logger.WithError(err).Error("Failed to load resumable positions")
		return
	}

	for i := range rows {
		e.LaunchPosition(ctx, &rows[i])
	}

	logger.WithField("count", len(rows)).Info("Resumed position watchers")
}

// Wait blocks until every launched watcher has exited.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// adapterFor returns the cached adapter for an account, building it from
// the stored encrypted credentials on first use.
func (e *Engine) adapterFor(ctx context.Context, apiID uint) (connectors.ExchangeAdapter, error) {
	e.adapterMu.Lock()
	defer e.adapterMu.Unlock()

	if adapter, ok := e.adapters[apiID]; ok {
		return adapter, nil
	}

	key, err := e.credentials.FindByID(ctx, apiID)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, fmt.Errorf("api key %d not found", apiID)
	}

	apiKey, err := decryptCredential(key.APIKeyHash)
	if err != nil {
		return nil, err
	}
	apiSecret, err := decryptCredential(key.APISecretHash)
	if err != nil {
		return nil, err
	}

	adapter, err := newAdapter(key.Exchange, apiKey, apiSecret)
	if err != nil {
		return nil, err
	}

	e.adapters[apiID] = adapter
	return adapter, nil
}
