package repository

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"signalengine/src/database"
	"signalengine/src/model"
)

// NotificationRepository persists the outbound message queue. Watchers only
// ever enqueue; the sender loop owns delivery and status updates.
type NotificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository() *NotificationRepository {
	return &NotificationRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *NotificationRepository) WithDB(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Enqueue inserts a pending notification.
func (r *NotificationRepository) Enqueue(ctx context.Context, n *model.Notification) error {
	if err := r.db.WithContext(ctx).Create(n).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "NotificationRepository",
			"op":      "Enqueue",
			"chat_id": n.ChatID,
		}).WithError(err).Error("Failed to enqueue notification")
		return err
	}

	return nil
}

// FindPending returns undelivered notifications, oldest first.
func (r *NotificationRepository) FindPending(ctx context.Context, limit int) ([]model.Notification, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []model.Notification

	err := r.db.WithContext(ctx).
		Where("status = ?", model.NotificationStatusPending).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "NotificationRepository",
			"op":   "FindPending",
		}).WithError(err).Error("Failed to fetch pending notifications")

		return nil, err
	}

	return rows, nil
}

// MarkSent records a successful delivery.
func (r *NotificationRepository) MarkSent(ctx context.Context, id uint, at time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":  model.NotificationStatusSent,
			"sent_at": at,
		}).Error

	if err != nil {
		logger.WithField("id", id).WithError(err).Error("Failed to mark notification sent")
		return err
	}

	return nil
}

// MarkFailed bumps the attempt counter; rows past maxAttempts are parked as
// failed so a dead chat can never wedge the queue.
func (r *NotificationRepository) MarkFailed(ctx context.Context, id uint, attempts, maxAttempts int) error {
	status := model.NotificationStatusPending
	if attempts >= maxAttempts {
		status = model.NotificationStatusFailed
	}

	err := r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":   status,
			"attempts": attempts,
		}).Error

	if err != nil {
		logger.WithField("id", id).WithError(err).Error("Failed to mark notification failed")
		return err
	}

	return nil
}
