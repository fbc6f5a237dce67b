package watcher

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"signalengine/src/connectors"
	"signalengine/src/model"
	"signalengine/src/utils"
)

type fakeAdapter struct {
	byClientID map[string]*connectors.OrderState
	byTicket   map[string]*connectors.OrderState
	placed     []connectors.OrderRequest
	cancelled  []string
	rejectType map[string]error
	price      float64
	leverage   int
	nextTicket int
}

func newFakeAdapter(price float64) *fakeAdapter {
	return &fakeAdapter{
		byClientID: make(map[string]*connectors.OrderState),
		byTicket:   make(map[string]*connectors.OrderState),
		rejectType: make(map[string]error),
		price:      price,
	}
}

func (f *fakeAdapter) PlaceOrder(ctx context.Context, req connectors.OrderRequest) (*connectors.OrderState, error) {
	f.placed = append(f.placed, req)

	if err, ok := f.rejectType[req.Type]; ok {
		return nil, err
	}

	f.nextTicket++
	state := &connectors.OrderState{
		Ticket: fmt.Sprintf("T%d", f.nextTicket),
		Status: connectors.OrderStatusPending,
	}
	if req.Type == connectors.OrderTypeMarket {
		state.Status = connectors.OrderStatusFilled
		state.AvgPrice = f.price
		state.FilledQty = req.Quantity
	}

	f.byClientID[req.ClientOrderID] = state
	f.byTicket[state.Ticket] = state
	return state, nil
}

func (f *fakeAdapter) GetOrderStatus(ctx context.Context, symbol, ticket string) (*connectors.OrderState, error) {
	state, ok := f.byTicket[ticket]
	if !ok {
		return nil, connectors.ErrOrderNotFound
	}
	return state, nil
}

func (f *fakeAdapter) GetOrderByClientID(ctx context.Context, symbol, clientOrderID string) (*connectors.OrderState, error) {
	state, ok := f.byClientID[clientOrderID]
	if !ok {
		return nil, connectors.ErrOrderNotFound
	}
	return state, nil
}

func (f *fakeAdapter) CancelOrder(ctx context.Context, symbol, ticket string) error {
	state, ok := f.byTicket[ticket]
	if !ok {
		return connectors.ErrOrderNotFound
	}
	f.cancelled = append(f.cancelled, ticket)
	state.Status = connectors.OrderStatusCancelled
	return nil
}

func (f *fakeAdapter) GetPrice(ctx context.Context, symbol string) (float64, error) {
	return f.price, nil
}

func (f *fakeAdapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	f.leverage = leverage
	return nil
}

func (f *fakeAdapter) PricePrecision(symbol string) *int {
	return utils.Precision(2)
}

func (f *fakeAdapter) placedOfType(orderType string) []connectors.OrderRequest {
	var out []connectors.OrderRequest
	for _, req := range f.placed {
		if req.Type == orderType {
			out = append(out, req)
		}
	}
	return out
}

// fakePositionStore mutates its row the way the repository update methods do.
type fakePositionStore struct {
	row    *model.UserSignal
	failed []string
}

func (f *fakePositionStore) FindByID(ctx context.Context, id uint) (*model.UserSignal, error) {
	copied := *f.row
	return &copied, nil
}

func (f *fakePositionStore) RecordEntry(ctx context.Context, id uint, ticket string, openPrice float64, openTime time.Time, volume float64) error {
	f.row.Ticket = ticket
	f.row.OpenPrice = openPrice
	f.row.OpenTime = &openTime
	f.row.Volume = volume
	f.row.Status = model.UserSignalStatusActive
	return nil
}

func (f *fakePositionStore) SetStopWait(ctx context.Context, id uint, wait bool) error {
	f.row.SlWait = wait
	return nil
}

func (f *fakePositionStore) SetStopTicket(ctx context.Context, id uint, ticket string) error {
	f.row.STicket = ticket
	f.row.SlWait = false
	return nil
}

func (f *fakePositionStore) SetTakeProfitWait(ctx context.Context, id uint, wait bool) error {
	f.row.TpWait = wait
	return nil
}

func (f *fakePositionStore) SetTakeProfitTicket(ctx context.Context, id uint, ticket string) error {
	f.row.TTicket = ticket
	f.row.TpWait = false
	return nil
}

func (f *fakePositionStore) MarkClosed(ctx context.Context, id uint, closePrice float64, closeTime time.Time, closedVolume, profitPct, profitQuote float64, event string) error {
	f.row.ClosePrice = closePrice
	f.row.CloseTime = &closeTime
	f.row.ClosedVolume = closedVolume
	f.row.ProfitPct = profitPct
	f.row.ProfitQuote = profitQuote
	f.row.Event = event
	f.row.Status = model.UserSignalStatusPending
	f.row.SlWait = false
	f.row.TpWait = false
	return nil
}

func (f *fakePositionStore) MarkFailed(ctx context.Context, id uint, event string, at time.Time) error {
	f.row.Event = event
	f.row.CloseTime = &at
	f.row.Status = model.UserSignalStatusPending
	f.failed = append(f.failed, event)
	return nil
}

func newTestUserSignal() *model.UserSignal {
	return &model.UserSignal{
		ID:         10,
		UserID:     7,
		SignalID:   1,
		ApiID:      3,
		Symbol:     "BTCUSDT",
		Direction:  model.SignalDirectionLong,
		Lot:        2,
		Leverage:   5,
		ClientRef:  "ref-10",
		StopLoss:   100,
		TakeProfit: 120,
		Status:     model.UserSignalStatusPending,
	}
}

func newPositionWatcher(us *model.UserSignal, store *fakePositionStore, signals signalReader, adapter connectors.ExchangeAdapter, notify *fakeNotifier) *PositionWatcher {
	return NewPositionWatcher(us, store, signals, adapter, notify, watcherTestConfig(), nil)
}

func TestPositionWatcherEntryProtectClose(t *testing.T) {
	us := newTestUserSignal()
	store := &fakePositionStore{row: us}
	signals := &fakeSignalStore{signal: newTestSignal(model.SignalStatusActive)}
	adapter := newFakeAdapter(110)
	notify := &fakeNotifier{}

	w := newPositionWatcher(us, store, signals, adapter, notify)
	ctx := context.Background()

	// entry
	if done := w.step(ctx); done {
		t.Fatal("entry step must not finish the watcher")
	}
	if us.Ticket == "" || us.OpenPrice != 110 || us.Volume != 2 {
		t.Fatalf("entry not recorded: %+v", us)
	}
	if adapter.leverage != 5 {
		t.Fatalf("leverage not applied, got %d", adapter.leverage)
	}

	// protective orders
	if done := w.step(ctx); done {
		t.Fatal("protective step must not finish the watcher")
	}
	if us.STicket == "" || us.TTicket == "" {
		t.Fatalf("protective tickets missing: %+v", us)
	}
	if us.SlWait || us.TpWait {
		t.Fatal("wait flags must clear once tickets are confirmed")
	}

	stops := adapter.placedOfType(connectors.OrderTypeStopMarket)
	if len(stops) != 1 || !stops[0].ReduceOnly || stops[0].StopPrice != 100 {
		t.Fatalf("stop order wrong: %+v", stops)
	}

	// take-profit fills at 120
	tp := adapter.byTicket[us.TTicket]
	tp.Status = connectors.OrderStatusFilled
	tp.AvgPrice = 120
	tp.FilledQty = 2

	if done := w.step(ctx); !done {
		t.Fatal("filled take-profit must finish the watcher")
	}
	if !us.IsTerminal() {
		t.Fatalf("record not terminal: %+v", us)
	}
	if us.ProfitPct != 9.09 {
		t.Fatalf("expected profit 9.09%%, got %v", us.ProfitPct)
	}
	if us.ProfitQuote != 20 {
		t.Fatalf("expected quote profit 20, got %v", us.ProfitQuote)
	}
	if us.ClosedVolume > us.Volume {
		t.Fatalf("closed volume %v exceeds volume %v", us.ClosedVolume, us.Volume)
	}
	if len(adapter.cancelled) != 1 || adapter.cancelled[0] != us.STicket {
		t.Fatalf("sibling stop not cancelled: %v", adapter.cancelled)
	}
	if msgs := notify.user[7]; len(msgs) != 2 || !strings.Contains(msgs[1], "Closed") {
		t.Fatalf("expected open+close notifications, got %v", msgs)
	}
}

func TestPositionWatcherReconcilesEntryInsteadOfReplacing(t *testing.T) {
	us := newTestUserSignal()
	store := &fakePositionStore{row: us}
	signals := &fakeSignalStore{signal: newTestSignal(model.SignalStatusActive)}
	adapter := newFakeAdapter(110)

	// entry order from the run that crashed
	adapter.byClientID[us.EntryClientID()] = &connectors.OrderState{
		Ticket:    "OLD-1",
		Status:    connectors.OrderStatusFilled,
		AvgPrice:  109.5,
		FilledQty: 2,
	}

	w := newPositionWatcher(us, store, signals, adapter, &fakeNotifier{})
	w.step(context.Background())

	if len(adapter.placed) != 0 {
		t.Fatalf("watcher must not re-place a confirmed entry: %+v", adapter.placed)
	}
	if us.Ticket != "OLD-1" || us.OpenPrice != 109.5 {
		t.Fatalf("reconciled entry not adopted: %+v", us)
	}
}

func TestPositionWatcherReconcilesStopWhenWaitFlagSet(t *testing.T) {
	us := newTestUserSignal()
	us.Ticket = "T-entry"
	us.OpenPrice = 110
	us.Volume = 2
	us.Status = model.UserSignalStatusActive
	us.SlWait = true // crashed between SetStopWait and confirmation
	us.TakeProfit = 0

	store := &fakePositionStore{row: us}
	adapter := newFakeAdapter(110)
	adapter.byClientID[us.StopClientID()] = &connectors.OrderState{
		Ticket: "SL-OLD",
		Status: connectors.OrderStatusPending,
	}
	adapter.byTicket["SL-OLD"] = adapter.byClientID[us.StopClientID()]

	w := newPositionWatcher(us, store, &fakeSignalStore{}, adapter, &fakeNotifier{})
	w.step(context.Background())

	if len(adapter.placed) != 0 {
		t.Fatalf("watcher must not duplicate the in-flight stop: %+v", adapter.placed)
	}
	if us.STicket != "SL-OLD" || us.SlWait {
		t.Fatalf("stop not reconciled: %+v", us)
	}
}

func TestPositionWatcherRejectedEntryIsTerminal(t *testing.T) {
	us := newTestUserSignal()
	store := &fakePositionStore{row: us}
	signals := &fakeSignalStore{signal: newTestSignal(model.SignalStatusActive)}
	adapter := newFakeAdapter(110)
	adapter.rejectType[connectors.OrderTypeMarket] = &connectors.RejectionError{
		Code:   -2019,
		Reason: "margin is insufficient",
	}
	notify := &fakeNotifier{}

	w := newPositionWatcher(us, store, signals, adapter, notify)

	if done := w.step(context.Background()); !done {
		t.Fatal("rejection must finish the watcher")
	}
	if !us.IsTerminal() || !strings.Contains(us.Event, "entry rejected") {
		t.Fatalf("record not failed: %+v", us)
	}
	if len(notify.user[7]) != 1 {
		t.Fatalf("expected exactly one rejection notification, got %v", notify.user[7])
	}

	// a second step must not notify or place anything again
	w.step(context.Background())
	if len(notify.user[7]) != 1 || len(adapter.placed) != 1 {
		t.Fatal("terminal record must be inert")
	}
}

func TestPositionWatcherWaitsForSignalActivation(t *testing.T) {
	us := newTestUserSignal()
	store := &fakePositionStore{row: us}
	signals := &fakeSignalStore{signal: newTestSignal(model.SignalStatusPending)}
	adapter := newFakeAdapter(110)

	w := newPositionWatcher(us, store, signals, adapter, &fakeNotifier{})

	if done := w.step(context.Background()); done {
		t.Fatal("watcher must keep waiting while the signal is pending")
	}
	if len(adapter.placed) != 0 {
		t.Fatalf("no order may go out before activation: %+v", adapter.placed)
	}
}

func TestPositionWatcherFailsWhenSignalEndsBeforeEntry(t *testing.T) {
	us := newTestUserSignal()
	store := &fakePositionStore{row: us}
	signals := &fakeSignalStore{signal: newTestSignal(model.SignalStatusCancelled)}

	w := newPositionWatcher(us, store, signals, newFakeAdapter(110), &fakeNotifier{})

	if done := w.step(context.Background()); !done {
		t.Fatal("cancelled signal must finish the watcher")
	}
	if us.Event != "signal ended before entry" {
		t.Fatalf("unexpected event: %q", us.Event)
	}
}

func TestPositionWatcherManualClose(t *testing.T) {
	us := newTestUserSignal()
	us.Ticket = "T-entry"
	us.OpenPrice = 110
	us.Volume = 2
	us.Status = model.UserSignalStatusActive
	us.STicket = "SL-1"
	us.TTicket = "TP-1"

	store := &fakePositionStore{row: us}
	adapter := newFakeAdapter(115)
	adapter.byTicket["SL-1"] = &connectors.OrderState{Ticket: "SL-1", Status: connectors.OrderStatusPending}
	adapter.byTicket["TP-1"] = &connectors.OrderState{Ticket: "TP-1", Status: connectors.OrderStatusPending}

	// operator sets the flag out of band
	store.row.CloseRequested = true

	w := newPositionWatcher(us, store, &fakeSignalStore{}, adapter, &fakeNotifier{})

	if done := w.step(context.Background()); !done {
		t.Fatal("manual close must finish the watcher")
	}
	if us.Event != "manual close" || us.ClosePrice != 115 {
		t.Fatalf("manual close not recorded: %+v", us)
	}
	if len(adapter.cancelled) != 2 {
		t.Fatalf("both protective orders must be cancelled: %v", adapter.cancelled)
	}

	closes := adapter.placedOfType(connectors.OrderTypeMarket)
	if len(closes) != 1 || !closes[0].ReduceOnly {
		t.Fatalf("close must be a reduce-only market order: %+v", closes)
	}
}

func TestComputeProfit(t *testing.T) {
	pct, quote := ComputeProfit(true, 110, 120, 2)
	if pct != 9.09 {
		t.Fatalf("long pct: expected 9.09, got %v", pct)
	}
	if quote != 20 {
		t.Fatalf("long quote: expected 20, got %v", quote)
	}

	pct, quote = ComputeProfit(false, 2000, 1800, 1)
	if pct != 10 {
		t.Fatalf("short pct: expected 10, got %v", pct)
	}
	if quote != 200 {
		t.Fatalf("short quote: expected 200, got %v", quote)
	}

	if pct, _ := ComputeProfit(true, 0, 100, 1); pct != 0 {
		t.Fatalf("zero open price must yield zero, got %v", pct)
	}
}
