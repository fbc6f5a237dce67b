package watcher

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"signalengine/src/model"
)

func watcherTestConfig() Config {
	return Config{
		SignalPollPeriod:   time.Millisecond,
		PositionPollPeriod: time.Millisecond,
		EntryTolerancePct:  0.05,
		RetryBaseDelay:     time.Millisecond,
		RetryMaxDelay:      time.Millisecond,
	}
}

type fakeNotifier struct {
	user      map[uint][]string
	broadcast []string
}

func (f *fakeNotifier) NotifyUser(ctx context.Context, userID uint, message string) {
	if f.user == nil {
		f.user = make(map[uint][]string)
	}
	f.user[userID] = append(f.user[userID], message)
}

func (f *fakeNotifier) Broadcast(ctx context.Context, message string) {
	f.broadcast = append(f.broadcast, message)
}

type fakeSignalStore struct {
	signal      *model.Signal
	activations int
}

func (f *fakeSignalStore) FindByID(ctx context.Context, id uint) (*model.Signal, error) {
	if f.signal == nil || f.signal.ID != id {
		return nil, nil
	}
	copied := *f.signal
	return &copied, nil
}

func (f *fakeSignalStore) MarkActive(ctx context.Context, id uint, at time.Time) error {
	f.signal.Status = model.SignalStatusActive
	f.signal.ActivatedAt = &at
	f.activations++
	return nil
}

func (f *fakeSignalStore) MarkTerminal(ctx context.Context, id uint, status, reason string, at time.Time) error {
	f.signal.Status = status
	f.signal.CloseReason = reason
	f.signal.ClosedAt = &at
	return nil
}

type fakePrices struct {
	price float64
	err   error
}

func (f *fakePrices) GetPrice(ctx context.Context, symbol string) (float64, error) {
	return f.price, f.err
}

func newTestSignal(status string) *model.Signal {
	return &model.Signal{
		ID:         1,
		Symbol:     "BTCUSDT",
		Direction:  model.SignalDirectionLong,
		EntryPrice: 110,
		StopLoss:   100,
		TakeProfit: 120,
		Status:     status,
	}
}

func TestSignalWatcherActivatesWhenPriceReachesEntry(t *testing.T) {
	store := &fakeSignalStore{signal: newTestSignal(model.SignalStatusPending)}
	prices := &fakePrices{price: 110.02} // within 0.05% of 110
	notify := &fakeNotifier{}

	w := NewSignalWatcher(1, store, prices, notify, watcherTestConfig(), nil)

	if done := w.tick(context.Background()); done {
		t.Fatal("watcher must keep running after activation")
	}
	if store.signal.Status != model.SignalStatusActive {
		t.Fatalf("expected active, got %s", store.signal.Status)
	}
	if store.signal.ActivatedAt == nil {
		t.Fatal("activation time not recorded")
	}
	if len(notify.broadcast) != 1 || !strings.Contains(notify.broadcast[0], "active") {
		t.Fatalf("expected activation broadcast, got %v", notify.broadcast)
	}
}

func TestSignalWatcherCancelsWhenStopTradesBeforeEntry(t *testing.T) {
	store := &fakeSignalStore{signal: newTestSignal(model.SignalStatusPending)}
	prices := &fakePrices{price: 99.5}
	notify := &fakeNotifier{}

	w := NewSignalWatcher(1, store, prices, notify, watcherTestConfig(), nil)

	if done := w.tick(context.Background()); !done {
		t.Fatal("watcher must finish on pre-entry stop")
	}
	if store.signal.Status != model.SignalStatusCancelled {
		t.Fatalf("expected cancelled, got %s", store.signal.Status)
	}
	if store.signal.CloseReason != "stop level reached before entry" {
		t.Fatalf("unexpected reason: %s", store.signal.CloseReason)
	}
	if store.activations != 0 {
		t.Fatal("signal must never have been activated")
	}
}

func TestSignalWatcherClosesActiveSignalOnTakeProfit(t *testing.T) {
	store := &fakeSignalStore{signal: newTestSignal(model.SignalStatusActive)}
	prices := &fakePrices{price: 120.5}
	notify := &fakeNotifier{}

	w := NewSignalWatcher(1, store, prices, notify, watcherTestConfig(), nil)

	if done := w.tick(context.Background()); !done {
		t.Fatal("watcher must finish on take-profit")
	}
	if store.signal.Status != model.SignalStatusClosed {
		t.Fatalf("expected closed, got %s", store.signal.Status)
	}
	if store.signal.CloseReason != "take-profit reached" {
		t.Fatalf("unexpected reason: %s", store.signal.CloseReason)
	}
}

func TestSignalWatcherObservesOperatorCancel(t *testing.T) {
	store := &fakeSignalStore{signal: newTestSignal(model.SignalStatusCancelled)}
	notify := &fakeNotifier{}

	w := NewSignalWatcher(1, store, &fakePrices{price: 110}, notify, watcherTestConfig(), nil)

	if done := w.tick(context.Background()); !done {
		t.Fatal("watcher must exit once the signal is terminal")
	}
	if len(notify.broadcast) != 0 {
		t.Fatalf("cancel observed from outside must not re-announce: %v", notify.broadcast)
	}
}

func TestSignalWatcherLeavesStateUntouchedOnPriceError(t *testing.T) {
	store := &fakeSignalStore{signal: newTestSignal(model.SignalStatusPending)}
	prices := &fakePrices{err: errors.New("stream stale")}

	w := NewSignalWatcher(1, store, prices, &fakeNotifier{}, watcherTestConfig(), nil)

	if done := w.tick(context.Background()); done {
		t.Fatal("transient price error must not finish the watcher")
	}
	if store.signal.Status != model.SignalStatusPending {
		t.Fatalf("status changed on price error: %s", store.signal.Status)
	}
}

func TestShortSignalLevelsMirrorLong(t *testing.T) {
	signal := &model.Signal{
		ID:         2,
		Symbol:     "ETHUSDT",
		Direction:  model.SignalDirectionShort,
		EntryPrice: 2000,
		StopLoss:   2100,
		TakeProfit: 1800,
		Status:     model.SignalStatusActive,
	}
	store := &fakeSignalStore{signal: signal}

	w := NewSignalWatcher(2, store, &fakePrices{price: 1799}, &fakeNotifier{}, watcherTestConfig(), nil)

	if done := w.tick(context.Background()); !done {
		t.Fatal("short take-profit below entry must close the signal")
	}
	if signal.Status != model.SignalStatusClosed {
		t.Fatalf("expected closed, got %s", signal.Status)
	}
}
