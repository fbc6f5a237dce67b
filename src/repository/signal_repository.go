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

// SignalRepository handles read/write operations for broadcast signals.
type SignalRepository struct {
	db *gorm.DB
}

// NewSignalRepository creates a new repository instance using the main
// read/write database.
func NewSignalRepository() *SignalRepository {
	return &SignalRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *SignalRepository) WithDB(db *gorm.DB) *SignalRepository {
	return &SignalRepository{db: db}
}

// Create inserts a new signal. The given signal is updated with the
// generated ID and timestamps.
func (r *SignalRepository) Create(ctx context.Context, signal *model.Signal) error {
	logger.WithFields(map[string]interface{}{
		"repo":      "SignalRepository",
		"op":        "Create",
		"symbol":    signal.Symbol,
		"direction": signal.Direction,
	}).Debug("Creating new signal")

	if err := r.db.WithContext(ctx).Create(signal).Error; err != nil {
		logger.WithField("repo", "SignalRepository").
			WithError(err).Error("Failed to create signal")
		return err
	}

	return nil
}

// FindByID fetches a single signal by its primary ID.
// Returns (nil, nil) if the signal is not found.
func (r *SignalRepository) FindByID(ctx context.Context, id uint) (*model.Signal, error) {
	var signal model.Signal

	err := r.db.WithContext(ctx).First(&signal, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "SignalRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch signal by ID")

		return nil, err
	}

	return &signal, nil
}

// FindByStatuses returns every signal whose status is one of the given
// values, oldest first. The resumption manager uses this with
// {pending, active} to rebuild watchers after a restart.
func (r *SignalRepository) FindByStatuses(ctx context.Context, statuses []string) ([]model.Signal, error) {
	var signals []model.Signal

	err := r.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Order("id ASC").
		Find(&signals).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "SignalRepository",
			"op":       "FindByStatuses",
			"statuses": statuses,
		}).WithError(err).Error("Failed to fetch signals by status")

		return nil, err
	}

	return signals, nil
}

// FindLatest returns the latest signals ordered from newest to oldest.
func (r *SignalRepository) FindLatest(ctx context.Context, limit int) ([]model.Signal, error) {
	if limit <= 0 {
		limit = 20
	}

	var signals []model.Signal

	err := r.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&signals).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":  "SignalRepository",
			"op":    "FindLatest",
			"limit": limit,
		}).WithError(err).Error("Failed to fetch latest signals")

		return nil, err
	}

	return signals, nil
}

// MarkActive transitions a signal to active and records the activation time.
func (r *SignalRepository) MarkActive(ctx context.Context, id uint, at time.Time) error {
	logger.WithFields(map[string]interface{}{
		"repo": "SignalRepository",
		"op":   "MarkActive",
		"id":   id,
	}).Info("Marking signal active")

	err := r.db.WithContext(ctx).
		Model(&model.Signal{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       model.SignalStatusActive,
			"activated_at": at,
		}).Error

	if err != nil {
		logger.WithField("id", id).WithError(err).Error("Failed to mark signal active")
		return err
	}

	return nil
}

// MarkTerminal transitions a signal to closed or cancelled with a reason and
// close timestamp. Terminal signals are never deleted.
func (r *SignalRepository) MarkTerminal(ctx context.Context, id uint, status, reason string, at time.Time) error {
	logger.WithFields(map[string]interface{}{
		"repo":   "SignalRepository",
		"op":     "MarkTerminal",
		"id":     id,
		"status": status,
		"reason": reason,
	}).Info("Marking signal terminal")

	err := r.db.WithContext(ctx).
		Model(&model.Signal{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       status,
			"close_reason": reason,
			"closed_at":    at,
		}).Error

	if err != nil {
		logger.WithField("id", id).WithError(err).Error("Failed to mark signal terminal")
		return err
	}

	return nil
}
