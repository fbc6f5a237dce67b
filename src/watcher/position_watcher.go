package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"

	"signalengine/src/connectors"
	"signalengine/src/model"
	"signalengine/src/notifier"
	"signalengine/src/utils"
)

type positionStore interface {
	FindByID(ctx context.Context, id uint) (*model.UserSignal, error)
	RecordEntry(ctx context.Context, id uint, ticket string, openPrice float64, openTime time.Time, volume float64) error
	SetStopWait(ctx context.Context, id uint, wait bool) error
	SetStopTicket(ctx context.Context, id uint, ticket string) error
	SetTakeProfitWait(ctx context.Context, id uint, wait bool) error
	SetTakeProfitTicket(ctx context.Context, id uint, ticket string) error
	MarkClosed(ctx context.Context, id uint, closePrice float64, closeTime time.Time,
		closedVolume, profitPct, profitQuote float64, event string) error
	MarkFailed(ctx context.Context, id uint, event string, at time.Time) error
}

type signalReader interface {
	FindByID(ctx context.Context, id uint) (*model.Signal, error)
}

// PositionWatcher executes one user's side of a signal on their exchange
// account: entry order, protective stop-loss and take-profit, monitoring,
// close. It is the single writer of its user_signals row.
//
// Every order carries a client order ID derived from the row's ClientRef,
// so after a crash the watcher asks the exchange what already happened
// instead of placing orders again. Store writes that record a confirmed
// exchange action are retried until they succeed; the exchange is the
// source of truth and the row must catch up to it, never the other way.
type PositionWatcher struct {
	us      *model.UserSignal
	store   positionStore
	signals signalReader
	adapter connectors.ExchangeAdapter
	notify  notifier.Notifier
	config  Config
	release func()
	now     func() time.Time

	leverageSet bool
}

func NewPositionWatcher(
	us *model.UserSignal,
	store positionStore,
	signals signalReader,
	adapter connectors.ExchangeAdapter,
	notify notifier.Notifier,
	config Config,
	release func(),
) *PositionWatcher {
	return &PositionWatcher{
		us:      us,
		store:   store,
		signals: signals,
		adapter: adapter,
		notify:  notify,
		config:  config,
		release: release,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run polls until the position record is terminal or ctx is cancelled.
func (w *PositionWatcher) Run(ctx context.Context) {
	if w.release != nil {
		defer w.release()
	}

	log := w.log()
	log.Info("Position watcher started")

	ticker := time.NewTicker(w.config.PositionPollPeriod)
	defer ticker.Stop()

	for {
		if w.step(ctx) {
			log.Info("Position watcher finished")
			return
		}

		select {
		case <-ctx.Done():
			log.Info("Position watcher stopped")
			return
		case <-ticker.C:
		}
	}
}

func (w *PositionWatcher) log() *logger.Entry {
	return logger.WithFields(map[string]interface{}{
		"user_signal_id": w.us.ID,
		"user_id":        w.us.UserID,
		"signal_id":      w.us.SignalID,
		"symbol":         w.us.Symbol,
	})
}

// step runs one poll cycle and reports whether the watcher is done.
// Transient exchange or price errors leave all state untouched; the next
// tick simply tries again.
func (w *PositionWatcher) step(ctx context.Context) bool {
	if w.us.IsTerminal() {
		return true
	}

	if w.us.Ticket == "" {
		return w.stepEntry(ctx)
	}

	if w.needsProtective() {
		w.stepProtective(ctx)
		return false
	}

	return w.stepMonitor(ctx)
}

// ---- entry phase -----------------------------------------------------------

func (w *PositionWatcher) stepEntry(ctx context.Context) bool {
	signal, err := w.signals.FindByID(ctx, w.us.SignalID)
	if err != nil {
		return false
	}
	if signal == nil || signal.IsTerminal() {
		return w.fail(ctx, "signal ended before entry")
	}
	if signal.Status != model.SignalStatusActive {
		// entry waits for the signal watcher to see price reach the level
		return false
	}

	// Reconcile first: an earlier run may have sent this order before
	// crashing. ErrOrderNotFound is the only proof the request never landed.
	state, err := w.adapter.GetOrderByClientID(ctx, w.us.Symbol, w.us.EntryClientID())
	switch {
	case err == nil:
		return w.handleEntryState(ctx, state)
	case errors.Is(err, connectors.ErrOrderNotFound):
		return w.placeEntry(ctx)
	default:
		w.log().WithError(err).Warn("Entry reconciliation failed, retrying")
		return false
	}
}

func (w *PositionWatcher) handleEntryState(ctx context.Context, state *connectors.OrderState) bool {
	switch state.Status {
	case connectors.OrderStatusFilled:
		w.recordEntry(ctx, state)
		return false
	case connectors.OrderStatusCancelled:
		return w.fail(ctx, "entry order cancelled on exchange")
	default:
		// still working at the exchange
		return false
	}
}

func (w *PositionWatcher) placeEntry(ctx context.Context) bool {
	if !w.leverageSet && w.us.Leverage > 0 {
		if err := w.adapter.SetLeverage(ctx, w.us.Symbol, w.us.Leverage); err != nil {
			w.log().WithError(err).Warn("Failed to set leverage")
			if connectors.IsTransient(err) {
				return false
			}
		}
		w.leverageSet = true
	}

	state, err := w.adapter.PlaceOrder(ctx, connectors.OrderRequest{
		Symbol:        w.us.Symbol,
		Side:          w.entrySide(),
		Type:          connectors.OrderTypeMarket,
		Quantity:      w.us.Lot,
		ClientOrderID: w.us.EntryClientID(),
	})
	if err != nil {
		if connectors.IsRejection(err) {
			return w.fail(ctx, fmt.Sprintf("entry rejected: %v", err))
		}
		w.log().WithError(err).Warn("Entry placement failed, retrying")
		return false
	}

	if state.Status == connectors.OrderStatusFilled {
		w.recordEntry(ctx, state)
	}
	// not filled yet: the reconciliation path picks the order up next tick
	return false
}

func (w *PositionWatcher) recordEntry(ctx context.Context, state *connectors.OrderState) {
	openPrice := state.AvgPrice
	if openPrice == 0 {
		if px, err := w.adapter.GetPrice(ctx, w.us.Symbol); err == nil {
			openPrice = px
		}
	}
	volume := state.FilledQty
	if volume == 0 {
		volume = w.us.Lot
	}
	openTime := w.now()

	if err := persistUntilSuccess(ctx, w.config, "RecordEntry", func() error {
		return w.store.RecordEntry(ctx, w.us.ID, state.Ticket, openPrice, openTime, volume)
	}); err != nil {
		return
	}

	w.us.Ticket = state.Ticket
	w.us.OpenPrice = openPrice
	w.us.OpenTime = &openTime
	w.us.Volume = volume
	w.us.Status = model.UserSignalStatusActive

	w.log().WithFields(map[string]interface{}{
		"ticket":     state.Ticket,
		"open_price": openPrice,
	}).Info("Entry filled")

	w.notify.NotifyUser(ctx, w.us.UserID, fmt.Sprintf(
		"Opened %s %s %g @ %g", w.us.Symbol, w.us.Direction, volume, openPrice))
}

// ---- protective phase ------------------------------------------------------

func (w *PositionWatcher) needsProtective() bool {
	return (w.us.StopLoss > 0 && w.us.STicket == "") ||
		(w.us.TakeProfit > 0 && w.us.TTicket == "")
}

func (w *PositionWatcher) stepProtective(ctx context.Context) {
	if w.us.StopLoss > 0 && w.us.STicket == "" {
		w.ensureLeg(ctx, &protectiveLeg{
			name:      "stop-loss",
			orderType: connectors.OrderTypeStopMarket,
			price:     w.us.StopLoss,
			clientID:  w.us.StopClientID(),
			waiting:   w.us.SlWait,
			setWait: func(wait bool) error {
				if err := w.store.SetStopWait(ctx, w.us.ID, wait); err != nil {
					return err
				}
				w.us.SlWait = wait
				return nil
			},
			setTicket: func(ticket string) error {
				if err := w.store.SetStopTicket(ctx, w.us.ID, ticket); err != nil {
					return err
				}
				w.us.STicket = ticket
				w.us.SlWait = false
				return nil
			},
		})
	}

	if w.us.TakeProfit > 0 && w.us.TTicket == "" {
		w.ensureLeg(ctx, &protectiveLeg{
			name:      "take-profit",
			orderType: connectors.OrderTypeTakeProfit,
			price:     w.us.TakeProfit,
			clientID:  w.us.TakeProfitClientID(),
			waiting:   w.us.TpWait,
			setWait: func(wait bool) error {
				if err := w.store.SetTakeProfitWait(ctx, w.us.ID, wait); err != nil {
					return err
				}
				w.us.TpWait = wait
				return nil
			},
			setTicket: func(ticket string) error {
				if err := w.store.SetTakeProfitTicket(ctx, w.us.ID, ticket); err != nil {
					return err
				}
				w.us.TTicket = ticket
				w.us.TpWait = false
				return nil
			},
		})
	}
}

type protectiveLeg struct {
	name      string
	orderType string
	price     float64
	clientID  string
	waiting   bool
	setWait   func(wait bool) error
	setTicket func(ticket string) error
}

// ensureLeg brings one protective order into existence exactly once. The
// wait flag is persisted before the order request goes out, so a crash
// between the two leaves a flag that forces reconciliation on resume.
func (w *PositionWatcher) ensureLeg(ctx context.Context, leg *protectiveLeg) {
	log := w.log().WithField("leg", leg.name)

	if leg.waiting {
		state, err := w.adapter.GetOrderByClientID(ctx, w.us.Symbol, leg.clientID)
		switch {
		case err == nil:
			if err := persistUntilSuccess(ctx, w.config, "SetTicket", func() error {
				return leg.setTicket(state.Ticket)
			}); err == nil {
				log.WithField("ticket", state.Ticket).Info("Reconciled protective order")
			}
			return
		case errors.Is(err, connectors.ErrOrderNotFound):
			// request never reached the exchange, safe to place
		default:
			log.WithError(err).Warn("Protective reconciliation failed, retrying")
			return
		}
	} else {
		if err := persistUntilSuccess(ctx, w.config, "SetWait", func() error {
			return leg.setWait(true)
		}); err != nil {
			return
		}
	}

	stopPrice := utils.RoundToPrecision(leg.price, w.adapter.PricePrecision(w.us.Symbol))

	state, err := w.adapter.PlaceOrder(ctx, connectors.OrderRequest{
		Symbol:        w.us.Symbol,
		Side:          w.exitSide(),
		Type:          leg.orderType,
		Quantity:      w.us.Volume,
		StopPrice:     stopPrice,
		ReduceOnly:    true,
		ClientOrderID: leg.clientID,
	})
	if err != nil {
		if connectors.IsRejection(err) {
			// the position is live without its protection; bail out of it
			log.WithError(err).Error("Protective order rejected, closing position")
			w.notify.NotifyUser(ctx, w.us.UserID, fmt.Sprintf(
				"%s %s: %s order rejected, closing position", w.us.Symbol, w.us.Direction, leg.name))
			w.closeAtMarket(ctx, leg.name+" rejected")
			return
		}
		log.WithError(err).Warn("Protective placement failed, will reconcile")
		return
	}

	if err := persistUntilSuccess(ctx, w.config, "SetTicket", func() error {
		return leg.setTicket(state.Ticket)
	}); err != nil {
		return
	}

	log.WithField("ticket", state.Ticket).Info("Protective order placed")
}

// ---- monitoring phase ------------------------------------------------------

func (w *PositionWatcher) stepMonitor(ctx context.Context) bool {
	// reload for flags written outside this watcher
	row, err := w.store.FindByID(ctx, w.us.ID)
	if err == nil && row != nil {
		w.us.CloseRequested = row.CloseRequested
		if row.IsTerminal() {
			return true
		}
	}

	if w.us.CloseRequested {
		return w.closeAtMarket(ctx, "manual close")
	}

	if w.us.STicket != "" {
		if done := w.checkProtectiveFill(ctx, w.us.STicket, w.us.StopLoss, "stop-loss hit", w.us.TTicket); done {
			return true
		}
	}
	if w.us.TTicket != "" {
		if done := w.checkProtectiveFill(ctx, w.us.TTicket, w.us.TakeProfit, "take-profit hit", w.us.STicket); done {
			return true
		}
	}

	return false
}

// checkProtectiveFill polls one protective order and, if it filled, closes
// the record and cancels the sibling order.
func (w *PositionWatcher) checkProtectiveFill(ctx context.Context, ticket string, fallbackPrice float64, event, sibling string) bool {
	state, err := w.adapter.GetOrderStatus(ctx, w.us.Symbol, ticket)
	if err != nil {
		if !errors.Is(err, connectors.ErrOrderNotFound) {
			w.log().WithField("ticket", ticket).WithError(err).Debug("Order status poll failed")
		}
		return false
	}

	if state.Status != connectors.OrderStatusFilled {
		return false
	}

	closePrice := state.AvgPrice
	if closePrice == 0 {
		closePrice = fallbackPrice
	}

	w.cancelQuiet(ctx, sibling)
	return w.finishClose(ctx, closePrice, state.FilledQty, event)
}

// ---- close phase -----------------------------------------------------------

// closeAtMarket flattens the position with a reduce-only market order and
// records the close. Rejection of a reduce-only close means the exchange
// holds no position, so the record is closed at the last price.
func (w *PositionWatcher) closeAtMarket(ctx context.Context, reason string) bool {
	w.cancelQuiet(ctx, w.us.STicket)
	w.cancelQuiet(ctx, w.us.TTicket)

	state, err := w.adapter.PlaceOrder(ctx, connectors.OrderRequest{
		Symbol:        w.us.Symbol,
		Side:          w.exitSide(),
		Type:          connectors.OrderTypeMarket,
		Quantity:      w.us.Volume,
		ReduceOnly:    true,
		ClientOrderID: w.us.ClientRef + "-x",
	})
	if err != nil {
		if connectors.IsRejection(err) {
			px, perr := w.adapter.GetPrice(ctx, w.us.Symbol)
			if perr != nil {
				w.log().WithError(perr).Warn("Close price unavailable, retrying")
				return false
			}
			return w.finishClose(ctx, px, w.us.Volume, reason+" (already flat)")
		}
		w.log().WithError(err).Warn("Close order failed, retrying")
		return false
	}

	closePrice := state.AvgPrice
	if closePrice == 0 {
		if px, perr := w.adapter.GetPrice(ctx, w.us.Symbol); perr == nil {
			closePrice = px
		}
	}

	return w.finishClose(ctx, closePrice, state.FilledQty, reason)
}

// finishClose computes profit and persists the terminal close record.
func (w *PositionWatcher) finishClose(ctx context.Context, closePrice, closedVolume float64, event string) bool {
	if closedVolume <= 0 || closedVolume > w.us.Volume {
		closedVolume = w.us.Volume
	}

	pct, quote := ComputeProfit(w.us.IsLong(), w.us.OpenPrice, closePrice, closedVolume)
	at := w.now()

	if err := persistUntilSuccess(ctx, w.config, "MarkClosed", func() error {
		return w.store.MarkClosed(ctx, w.us.ID, closePrice, at, closedVolume, pct, quote, event)
	}); err != nil {
		return true
	}

	w.us.ClosePrice = closePrice
	w.us.CloseTime = &at
	w.us.ClosedVolume = closedVolume
	w.us.ProfitPct = pct
	w.us.ProfitQuote = quote
	w.us.Event = event
	w.us.Status = model.UserSignalStatusPending

	w.log().WithFields(map[string]interface{}{
		"close_price": closePrice,
		"profit_pct":  pct,
		"event":       event,
	}).Info("Position closed")

	w.notify.NotifyUser(ctx, w.us.UserID, fmt.Sprintf(
		"Closed %s %s @ %g (%s), profit %.2f%% (%g)",
		w.us.Symbol, w.us.Direction, closePrice, event, pct, quote))

	return true
}

// fail terminates the record without a fill. The reason is notified once.
func (w *PositionWatcher) fail(ctx context.Context, event string) bool {
	at := w.now()

	if err := persistUntilSuccess(ctx, w.config, "MarkFailed", func() error {
		return w.store.MarkFailed(ctx, w.us.ID, event, at)
	}); err != nil {
		return true
	}

	w.us.Event = event
	w.us.CloseTime = &at
	w.us.Status = model.UserSignalStatusPending

	w.log().WithField("event", event).Warn("Position failed")
	w.notify.NotifyUser(ctx, w.us.UserID, fmt.Sprintf(
		"%s %s not executed: %s", w.us.Symbol, w.us.Direction, event))

	return true
}

// cancelQuiet cancels an order, tolerating orders the exchange no longer
// knows. Cancel of a filled or missing order must never block a close.
func (w *PositionWatcher) cancelQuiet(ctx context.Context, ticket string) {
	if ticket == "" {
		return
	}

	err := w.adapter.CancelOrder(ctx, w.us.Symbol, ticket)
	if err != nil && !errors.Is(err, connectors.ErrOrderNotFound) {
		w.log().WithField("ticket", ticket).WithError(err).Warn("Cancel failed")
	}
}

func (w *PositionWatcher) entrySide() string {
	if w.us.IsLong() {
		return connectors.SideBuy
	}
	return connectors.SideSell
}

func (w *PositionWatcher) exitSide() string {
	if w.us.IsLong() {
		return connectors.SideSell
	}
	return connectors.SideBuy
}
