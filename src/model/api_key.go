package model

import "time"

// ApiKey holds one exchange account credential pair for a user. The key and
// secret are stored encrypted (see src/security); the engine only ever reads
// these rows, the account-management surface owns them.
type ApiKey struct {
	ID            uint   `gorm:"primaryKey" json:"id"`
	UserID        uint   `gorm:"index" json:"user_id"`
	Exchange      string `gorm:"size:30;not null" json:"exchange"` // binance, bybit, ...
	Market        string `gorm:"size:20;not null;default:futures" json:"market"`
	APIKeyHash    string `gorm:"size:255;not null" json:"-"`
	APISecretHash string `gorm:"size:255;not null" json:"-"`
	Active        bool   `gorm:"not null;default:true" json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ApiKey) TableName() string {
	return "api_keys"
}
