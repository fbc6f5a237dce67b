package dispatcher

import (
	"context"
	"time"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"

	"signalengine/src/model"
)

type signalSource interface {
	FindByStatuses(ctx context.Context, statuses []string) ([]model.Signal, error)
}

type subscriberSource interface {
	FindSubscribed(ctx context.Context, now time.Time) ([]model.User, error)
}

type accountSource interface {
	FindActiveByUser(ctx context.Context, userID uint, market string) ([]model.ApiKey, error)
}

type fanoutStore interface {
	FindByFanoutKey(ctx context.Context, signalID, userID, apiID uint) (*model.UserSignal, error)
	Create(ctx context.Context, us *model.UserSignal) error
}

// Launcher starts watchers. Implementations must deduplicate: launching an
// already-watched signal or position is a no-op, which is what makes the
// dispatch pass safe to repeat.
type Launcher interface {
	LaunchSignal(ctx context.Context, signal *model.Signal)
	LaunchPosition(ctx context.Context, us *model.UserSignal)
}

// Dispatcher fans non-terminal signals out to subscribers. One user_signals
// row exists per (signal, user, account) triple, never more: the row lookup
// plus the unique index make the pass idempotent, so a pass interrupted
// half-way is simply finished by the next one.
type Dispatcher struct {
	signals  signalSource
	users    subscriberSource
	accounts accountSource
	store    fanoutStore
	launcher Launcher
	config   Config
	now      func() time.Time
}

func New(
	signals signalSource,
	users subscriberSource,
	accounts accountSource,
	store fanoutStore,
	launcher Launcher,
	config Config,
) *Dispatcher {
	return &Dispatcher{
		signals:  signals,
		users:    users,
		accounts: accounts,
		store:    store,
		launcher: launcher,
		config:   config,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run repeats dispatch passes until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.config.PollPeriod)
	defer ticker.Stop()

	for {
		d.DispatchOnce(ctx)

		select {
		case <-ctx.Done():
			logger.Info("Dispatcher stopped")
			return
		case <-ticker.C:
		}
	}
}

// DispatchOnce runs a single pass over every non-terminal signal. The boot
// sequence calls this directly so resumption and fan-out share one code path.
func (d *Dispatcher) DispatchOnce(ctx context.Context) {
	signals, err := d.signals.FindByStatuses(ctx, []string{
		model.SignalStatusPending,
		model.SignalStatusActive,
	})
	if err != nil {
		logger.WithError(err).Error("Dispatch pass failed to load signals")
		return
	}

	subscribers, err := d.users.FindSubscribed(ctx, d.now())
	if err != nil {
		logger.WithError(err).Error("Dispatch pass failed to load subscribers")
		return
	}

	for i := range signals {
		signal := &signals[i]
		d.launcher.LaunchSignal(ctx, signal)
		d.fanOut(ctx, signal, subscribers)
	}
}

func (d *Dispatcher) fanOut(ctx context.Context, signal *model.Signal, subscribers []model.User) {
	for i := range subscribers {
		user := &subscribers[i]
		if !user.Subscribed(d.now()) {
			continue
		}

		keys, err := d.accounts.FindActiveByUser(ctx, user.ID, signal.Market)
		if err != nil {
			logger.WithFields(map[string]interface{}{
				"signal_id": signal.ID,
				"user_id":   user.ID,
			}).WithError(err).Error("Failed to load accounts for fan-out")
			continue
		}

		for j := range keys {
			d.ensureUserSignal(ctx, signal, user, &keys[j])
		}
	}
}

// ensureUserSignal creates the row for one (signal, user, account) triple if
// it does not exist yet and hands it to the launcher.
func (d *Dispatcher) ensureUserSignal(ctx context.Context, signal *model.Signal, user *model.User, key *model.ApiKey) {
	existing, err := d.store.FindByFanoutKey(ctx, signal.ID, user.ID, key.ID)
	if err != nil {
		return
	}

	if existing != nil {
		if !existing.IsTerminal() {
			d.launcher.LaunchPosition(ctx, existing)
		}
		return
	}

	us := &model.UserSignal{
		UserID:     user.ID,
		SignalID:   signal.ID,
		ApiID:      key.ID,
		Symbol:     signal.Symbol,
		Direction:  signal.Direction,
		Lot:        user.DefaultLot,
		Leverage:   user.DefaultLeverage,
		Strategy:   user.Strategy,
		ClientRef:  uuid.NewString(),
		StopLoss:   signal.StopLoss,
		TakeProfit: signal.TakeProfit,
		Status:     model.UserSignalStatusPending,
	}

	if err := d.store.Create(ctx, us); err != nil {
		// a concurrent pass may have won the unique index race; the row
		// will be found and launched on the next pass either way
		logger.WithFields(map[string]interface{}{
			"signal_id": signal.ID,
			"user_id":   user.ID,
			"api_id":    key.ID,
		}).WithError(err).Warn("Fan-out insert failed")
		return
	}

	logger.WithFields(map[string]interface{}{
		"user_signal_id": us.ID,
		"signal_id":      signal.ID,
		"user_id":        user.ID,
		"api_id":         key.ID,
	}).Info("Fanned signal out to subscriber account")

	d.launcher.LaunchPosition(ctx, us)
}
