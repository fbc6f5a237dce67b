package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"signalengine/src/database"
	"signalengine/src/model"
)

// UserSignalRepository handles read/write operations for per-user position
// records. Every mutating method touches a single row by primary key: the
// owning position watcher is the only writer, so no update ever races.
type UserSignalRepository struct {
	db *gorm.DB
}

// NewUserSignalRepository creates a new repository instance using the main
// read/write database.
func NewUserSignalRepository() *UserSignalRepository {
	return &UserSignalRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *UserSignalRepository) WithDB(db *gorm.DB) *UserSignalRepository {
	return &UserSignalRepository{db: db}
}

// Create inserts a new user signal produced by the dispatcher fan-out.
func (r *UserSignalRepository) Create(ctx context.Context, us *model.UserSignal) error {
	logger.WithFields(map[string]interface{}{
		"repo":      "UserSignalRepository",
		"op":        "Create",
		"user_id":   us.UserID,
		"signal_id": us.SignalID,
		"api_id":    us.ApiID,
	}).Debug("Creating new user signal")

	if err := r.db.WithContext(ctx).Create(us).Error; err != nil {
		logger.WithField("repo", "UserSignalRepository").
			WithError(err).Error("Failed to create user signal")
		return err
	}

	return nil
}

// FindByID fetches a single user signal by its primary ID.
// Returns (nil, nil) if not found.
func (r *UserSignalRepository) FindByID(ctx context.Context, id uint) (*model.UserSignal, error) {
	var us model.UserSignal

	err := r.db.WithContext(ctx).First(&us, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "UserSignalRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch user signal by ID")

		return nil, err
	}

	return &us, nil
}

// FindByFanoutKey fetches the user signal for a (signal, user, account)
// triple. Returns (nil, nil) if no row exists yet; the dispatcher uses this
// to keep fan-out idempotent.
func (r *UserSignalRepository) FindByFanoutKey(
	ctx context.Context,
	signalID, userID, apiID uint,
) (*model.UserSignal, error) {

	var us model.UserSignal

	err := r.db.WithContext(ctx).
		Where("signal_id = ? AND user_id = ? AND api_id = ?", signalID, userID, apiID).
		First(&us).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":      "UserSignalRepository",
			"op":        "FindByFanoutKey",
			"signal_id": signalID,
			"user_id":   userID,
			"api_id":    apiID,
		}).WithError(err).Error("Failed to fetch user signal by fan-out key")

		return nil, err
	}

	return &us, nil
}

// FindResumable returns every user signal a watcher must be rebuilt for
// after a restart: active rows, and pending rows that never reached a close.
func (r *UserSignalRepository) FindResumable(ctx context.Context) ([]model.UserSignal, error) {
	var rows []model.UserSignal

	err := r.db.WithContext(ctx).
		Where("status = ? OR (status = ? AND close_time IS NULL)",
			model.UserSignalStatusActive, model.UserSignalStatusPending).
		Order("id ASC").
		Find(&rows).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "UserSignalRepository",
			"op":   "FindResumable",
		}).WithError(err).Error("Failed to fetch resumable user signals")

		return nil, err
	}

	return rows, nil
}

// FindByUser returns a user's position records, newest first.
func (r *UserSignalRepository) FindByUser(ctx context.Context, userID uint, limit int) ([]model.UserSignal, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []model.UserSignal

	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "UserSignalRepository",
			"op":      "FindByUser",
			"user_id": userID,
		}).WithError(err).Error("Failed to fetch user signals by user")

		return nil, err
	}

	return rows, nil
}

// RecordEntry stores the confirmed entry order: ticket, fill price/time and
// requested volume, and flips the record to active.
func (r *UserSignalRepository) RecordEntry(
	ctx context.Context,
	id uint,
	ticket string,
	openPrice float64,
	openTime time.Time,
	volume float64,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":       "UserSignalRepository",
		"op":         "RecordEntry",
		"id":         id,
		"ticket":     ticket,
		"open_price": openPrice,
	}).Info("Recording confirmed entry order")

	err := r.db.WithContext(ctx).
		Model(&model.UserSignal{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"ticket":     ticket,
			"open_price": openPrice,
			"open_time":  openTime,
			"volume":     volume,
			"status":     model.UserSignalStatusActive,
		}).Error

	if err != nil {
		logger.WithField("id", id).WithError(err).Error("Failed to record entry")
		return err
	}

	return nil
}

// SetStopWait flips the sl_wait flag. True means a stop-loss order has been
// requested but the exchange has not confirmed an order id yet.
func (r *UserSignalRepository) SetStopWait(ctx context.Context, id uint, wait bool) error {
	err := r.db.WithContext(ctx).
		Model(&model.UserSignal{}).
		Where("id = ?", id).
		Update("sl_wait", wait).Error

	if err != nil {
		logger.WithField("id", id).WithError(err).Error("Failed to set sl_wait")
		return err
	}

	return nil
}

// SetStopTicket stores the confirmed stop-loss order id and clears sl_wait.
func (r *UserSignalRepository) SetStopTicket(ctx context.Context, id uint, ticket string) error {
	logger.WithFields(map[string]interface{}{
		"repo":    "UserSignalRepository",
		"op":      "SetStopTicket",
		"id":      id,
		"sticket": ticket,
	}).Info("Recording confirmed stop-loss order")

	err := r.db.WithContext(ctx).
		Model(&model.UserSignal{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"sticket": ticket,
			"sl_wait": false,
		}).Error

	if err != nil {
		logger.WithField("id", id).WithError(err).Error("Failed to set stop ticket")
		return err
	}

	return nil
}

// SetTakeProfitWait flips the tp_wait flag.
func (r *UserSignalRepository) SetTakeProfitWait(ctx context.Context, id uint, wait bool) error {
	err := r.db.WithContext(ctx).
		Model(&model.UserSignal{}).
		Where("id = ?", id).
		Update("tp_wait", wait).Error

	if err != nil {
		logger.WithField("id", id).WithError(err).Error("Failed to set tp_wait")
		return err
	}

	return nil
}

// SetTakeProfitTicket stores the confirmed take-profit order id and clears
// tp_wait.
func (r *UserSignalRepository) SetTakeProfitTicket(ctx context.Context, id uint, ticket string) error {
	logger.WithFields(map[string]interface{}{
		"repo":    "UserSignalRepository",
		"op":      "SetTakeProfitTicket",
		"id":      id,
		"tticket": ticket,
	}).Info("Recording confirmed take-profit order")

	err := r.db.WithContext(ctx).
		Model(&model.UserSignal{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"tticket": ticket,
			"tp_wait": false,
		}).Error

	if err != nil {
		logger.WithField("id", id).WithError(err).Error("Failed to set take-profit ticket")
		return err
	}

	return nil
}

// MarkClosed records the final close of a position: close price/time, the
// closed volume, both profit figures and the human-readable event note.
func (r *UserSignalRepository) MarkClosed(
	ctx context.Context,
	id uint,
	closePrice float64,
	closeTime time.Time,
	closedVolume float64,
	profitPct float64,
	profitQuote float64,
	event string,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":        "UserSignalRepository",
		"op":          "MarkClosed",
		"id":          id,
		"close_price": closePrice,
		"profit_pct":  profitPct,
	}).Info("Marking user signal closed")

	err := r.db.WithContext(ctx).
		Model(&model.UserSignal{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"close_price":   closePrice,
			"close_time":    closeTime,
			"closed_volume": closedVolume,
			"profit_pct":    profitPct,
			"profit_quote":  profitQuote,
			"event":         event,
			"status":        model.UserSignalStatusPending,
			"sl_wait":       false,
			"tp_wait":       false,
		}).Error

	if err != nil {
		logger.WithField("id", id).WithError(err).Error("Failed to mark user signal closed")
		return err
	}

	return nil
}

// MarkFailed terminates a user signal that could not be executed (rejected
// order, invalid credentials). The event note carries the reason shown to
// the user and the dashboard.
func (r *UserSignalRepository) MarkFailed(ctx context.Context, id uint, event string, at time.Time) error {
	logger.WithFields(map[string]interface{}{
		"repo":  "UserSignalRepository",
		"op":    "MarkFailed",
		"id":    id,
		"event": event,
	}).Warn("Marking user signal failed")

	err := r.db.WithContext(ctx).
		Model(&model.UserSignal{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"event":      event,
			"status":     model.UserSignalStatusPending,
			"close_time": at,
			"sl_wait":    false,
			"tp_wait":    false,
		}).Error

	if err != nil {
		logger.WithField("id", id).WithError(err).Error("Failed to mark user signal failed")
		return err
	}

	return nil
}

// RequestClose flags a manual close request. The monitoring phase of the
// owning watcher observes the flag on its next poll.
func (r *UserSignalRepository) RequestClose(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).
		Model(&model.UserSignal{}).
		Where("id = ?", id).
		Update("close_requested", true).Error

	if err != nil {
		logger.WithField("id", id).WithError(err).Error("Failed to request close")
		return err
	}

	return nil
}
