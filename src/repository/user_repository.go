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

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository() *UserRepository {
	return &UserRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *UserRepository) WithDB(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByID fetches a single user by its primary ID.
// Returns (nil, nil) if not found.
func (r *UserRepository) FindByID(ctx context.Context, id uint) (*model.User, error) {
	var user model.User

	err := r.db.WithContext(ctx).First(&user, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "UserRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch user by ID")

		return nil, err
	}

	return &user, nil
}

// FindByUsername fetches a single user by username.
// Returns (nil, nil) if not found.
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	var user model.User

	err := r.db.WithContext(ctx).
		Where("username = ?", username).
		First(&user).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":     "UserRepository",
			"op":       "FindByUsername",
			"username": username,
		}).WithError(err).Error("Failed to fetch user by username")

		return nil, err
	}

	return &user, nil
}

// FindSubscribed returns every user with a live subscription at the given
// time. The dispatcher fans new signals out to exactly this set.
func (r *UserRepository) FindSubscribed(ctx context.Context, now time.Time) ([]model.User, error) {
	var users []model.User

	err := r.db.WithContext(ctx).
		Where("subscription_active = ? AND (subscription_until IS NULL OR subscription_until >= ?)", true, now).
		Order("id ASC").
		Find(&users).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "UserRepository",
			"op":   "FindSubscribed",
		}).WithError(err).Error("Failed to fetch subscribed users")

		return nil, err
	}

	return users, nil
}
