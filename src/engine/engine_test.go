package engine

import (
	"context"
	"testing"
	"time"

	"signalengine/src/connectors"
	"signalengine/src/model"
	"signalengine/src/watcher"
)

func TestRegistryAdmitsOneWatcherPerID(t *testing.T) {
	r := NewRegistry()

	if !r.TryAcquireSignal(1) {
		t.Fatal("first acquire must succeed")
	}
	if r.TryAcquireSignal(1) {
		t.Fatal("second acquire for the same signal must fail")
	}
	if !r.TryAcquireSignal(2) {
		t.Fatal("a different signal must be admitted")
	}

	r.ReleaseSignal(1)
	if !r.TryAcquireSignal(1) {
		t.Fatal("acquire after release must succeed")
	}

	if !r.TryAcquirePosition(1) || r.TryAcquirePosition(1) {
		t.Fatal("position admission must mirror signal admission")
	}

	signals, positions := r.Counts()
	if signals != 2 || positions != 1 {
		t.Fatalf("unexpected counts: %d signals, %d positions", signals, positions)
	}
}

type stubSignalStore struct{}

func (stubSignalStore) FindByID(ctx context.Context, id uint) (*model.Signal, error) {
	return &model.Signal{ID: id, Symbol: "BTCUSDT", Direction: model.SignalDirectionLong,
		Status: model.SignalStatusPending}, nil
}
func (stubSignalStore) MarkActive(ctx context.Context, id uint, at time.Time) error { return nil }
func (stubSignalStore) MarkTerminal(ctx context.Context, id uint, status, reason string, at time.Time) error {
	return nil
}

type stubPositionStore struct {
	resumable []model.UserSignal
}

func (s *stubPositionStore) FindByID(ctx context.Context, id uint) (*model.UserSignal, error) {
	return nil, nil
}
func (s *stubPositionStore) FindResumable(ctx context.Context) ([]model.UserSignal, error) {
	return s.resumable, nil
}
func (s *stubPositionStore) RecordEntry(ctx context.Context, id uint, ticket string, openPrice float64, openTime time.Time, volume float64) error {
	return nil
}
func (s *stubPositionStore) SetStopWait(ctx context.Context, id uint, wait bool) error    { return nil }
func (s *stubPositionStore) SetStopTicket(ctx context.Context, id uint, t string) error   { return nil }
func (s *stubPositionStore) SetTakeProfitWait(ctx context.Context, id uint, w bool) error { return nil }
func (s *stubPositionStore) SetTakeProfitTicket(ctx context.Context, id uint, t string) error {
	return nil
}
func (s *stubPositionStore) MarkClosed(ctx context.Context, id uint, closePrice float64, closeTime time.Time, closedVolume, profitPct, profitQuote float64, event string) error {
	return nil
}
func (s *stubPositionStore) MarkFailed(ctx context.Context, id uint, event string, at time.Time) error {
	return nil
}

type stubCredentials struct {
	lookups int
}

func (s *stubCredentials) FindByID(ctx context.Context, id uint) (*model.ApiKey, error) {
	s.lookups++
	return &model.ApiKey{ID: id, Exchange: connectors.ExchangeBinance,
		APIKeyHash: "k", APISecretHash: "s", Active: true}, nil
}

type stubNotifier struct{}

func (stubNotifier) NotifyUser(ctx context.Context, userID uint, message string) {}
func (stubNotifier) Broadcast(ctx context.Context, message string)               {}

type stubPrices struct{}

func (stubPrices) GetPrice(ctx context.Context, symbol string) (float64, error) { return 100, nil }

type stubAdapter struct{}

func (stubAdapter) PlaceOrder(ctx context.Context, req connectors.OrderRequest) (*connectors.OrderState, error) {
	return &connectors.OrderState{Ticket: "T1", Status: connectors.OrderStatusPending}, nil
}
func (stubAdapter) GetOrderStatus(ctx context.Context, symbol, ticket string) (*connectors.OrderState, error) {
	return nil, connectors.ErrOrderNotFound
}
func (stubAdapter) GetOrderByClientID(ctx context.Context, symbol, clientOrderID string) (*connectors.OrderState, error) {
	return nil, connectors.ErrOrderNotFound
}
func (stubAdapter) CancelOrder(ctx context.Context, symbol, ticket string) error { return nil }
func (stubAdapter) GetPrice(ctx context.Context, symbol string) (float64, error) { return 100, nil }
func (stubAdapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return nil
}
func (stubAdapter) PricePrecision(symbol string) *int { return nil }

func slowConfig() watcher.Config {
	return watcher.Config{
		SignalPollPeriod:   time.Minute,
		PositionPollPeriod: time.Minute,
		EntryTolerancePct:  0.05,
		RetryBaseDelay:     time.Millisecond,
		RetryMaxDelay:      time.Millisecond,
	}
}

func newTestEngine(t *testing.T, positions *stubPositionStore) (*Engine, *stubCredentials) {
	t.Helper()

	origAdapter, origDecrypt := newAdapter, decryptCredential
	newAdapter = func(exchange, apiKey, apiSecret string) (connectors.ExchangeAdapter, error) {
		return stubAdapter{}, nil
	}
	decryptCredential = func(encoded string) (string, error) { return encoded, nil }
	t.Cleanup(func() {
		newAdapter, decryptCredential = origAdapter, origDecrypt
	})

	creds := &stubCredentials{}
	e := New(stubSignalStore{}, positions, creds, stubNotifier{}, stubPrices{}, slowConfig())
	return e, creds
}

func TestEngineLaunchPositionDeduplicates(t *testing.T) {
	e, creds := newTestEngine(t, &stubPositionStore{})
	ctx, cancel := context.WithCancel(context.Background())

	us := &model.UserSignal{
		ID: 10, UserID: 7, SignalID: 1, ApiID: 3,
		Symbol: "BTCUSDT", Direction: model.SignalDirectionLong,
		ClientRef: "ref-10",
	}

	e.LaunchPosition(ctx, us)
	e.LaunchPosition(ctx, us)

	if _, positions := e.registry.Counts(); positions != 1 {
		t.Fatalf("expected exactly one position watcher, got %d", positions)
	}
	if creds.lookups != 1 {
		t.Fatalf("adapter must be built once, credentials looked up %d times", creds.lookups)
	}

	cancel()
	e.Wait()

	if _, positions := e.registry.Counts(); positions != 0 {
		t.Fatal("registry must be empty after watchers exit")
	}
}

func TestEngineSkipsTerminalRecords(t *testing.T) {
	e, _ := newTestEngine(t, &stubPositionStore{})
	closed := time.Now()

	e.LaunchPosition(context.Background(), &model.UserSignal{
		ID: 11, Status: model.UserSignalStatusPending, CloseTime: &closed,
	})
	e.LaunchSignal(context.Background(), &model.Signal{
		ID: 5, Status: model.SignalStatusClosed,
	})

	signals, positions := e.registry.Counts()
	if signals != 0 || positions != 0 {
		t.Fatalf("terminal records must not spawn watchers: %d/%d", signals, positions)
	}
}

func TestEngineResumePositions(t *testing.T) {
	positions := &stubPositionStore{resumable: []model.UserSignal{
		{ID: 20, UserID: 7, SignalID: 1, ApiID: 3, Symbol: "BTCUSDT",
			Direction: model.SignalDirectionLong, ClientRef: "ref-20",
			Status: model.UserSignalStatusActive, Ticket: "T-old"},
		{ID: 21, UserID: 8, SignalID: 1, ApiID: 4, Symbol: "BTCUSDT",
			Direction: model.SignalDirectionLong, ClientRef: "ref-21"},
	}}
	e, _ := newTestEngine(t, positions)
	ctx, cancel := context.WithCancel(context.Background())

	e.ResumePositions(ctx)

	if _, count := e.registry.Counts(); count != 2 {
		t.Fatalf("expected 2 resumed watchers, got %d", count)
	}

	cancel()
	e.Wait()
}
