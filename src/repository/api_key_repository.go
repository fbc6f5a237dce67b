package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"signalengine/src/database"
	"signalengine/src/model"
)

// ApiKeyRepository reads exchange credentials. The engine never writes
// these rows except through the keys CLI.
type ApiKeyRepository struct {
	db *gorm.DB
}

func NewApiKeyRepository() *ApiKeyRepository {
	return &ApiKeyRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *ApiKeyRepository) WithDB(db *gorm.DB) *ApiKeyRepository {
	return &ApiKeyRepository{db: db}
}

// FindByID fetches a single api key by its primary ID.
// Returns (nil, nil) if not found.
func (r *ApiKeyRepository) FindByID(ctx context.Context, id uint) (*model.ApiKey, error) {
	var key model.ApiKey

	err := r.db.WithContext(ctx).First(&key, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "ApiKeyRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch api key by ID")

		return nil, err
	}

	return &key, nil
}

// FindActiveByUser returns a user's active keys for the given market.
func (r *ApiKeyRepository) FindActiveByUser(ctx context.Context, userID uint, market string) ([]model.ApiKey, error) {
	var keys []model.ApiKey

	err := r.db.WithContext(ctx).
		Where("user_id = ? AND market = ? AND active = ?", userID, market, true).
		Order("id ASC").
		Find(&keys).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "ApiKeyRepository",
			"op":      "FindActiveByUser",
			"user_id": userID,
			"market":  market,
		}).WithError(err).Error("Failed to fetch active api keys")

		return nil, err
	}

	return keys, nil
}

// Save inserts or updates a credential row. Used by the keys CLI only.
func (r *ApiKeyRepository) Save(ctx context.Context, key *model.ApiKey) error {
	logger.WithFields(map[string]interface{}{
		"repo":     "ApiKeyRepository",
		"op":       "Save",
		"user_id":  key.UserID,
		"exchange": key.Exchange,
	}).Info("Saving api key")

	if err := r.db.WithContext(ctx).Save(key).Error; err != nil {
		logger.WithField("repo", "ApiKeyRepository").
			WithError(err).Error("Failed to save api key")
		return err
	}

	return nil
}
