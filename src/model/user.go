package model

import "time"

// User is a subscriber. Authentication and profile management live in the
// dashboard; the engine only needs subscription state, notification target
// and the default sizing applied when a signal is fanned out.
type User struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	Username       string `gorm:"size:60;uniqueIndex" json:"username"`
	TelegramChatID string `gorm:"size:30" json:"telegram_chat_id,omitempty"`

	SubscriptionActive bool       `gorm:"not null;default:false;index" json:"subscription_active"`
	SubscriptionUntil  *time.Time `json:"subscription_until,omitempty"`

	DefaultLot      float64 `gorm:"not null;default:0.01" json:"default_lot"`
	DefaultLeverage int     `gorm:"not null;default:1" json:"default_leverage"`
	Strategy        string  `gorm:"size:50" json:"strategy,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// Subscribed reports whether the user should receive new signals.
func (u *User) Subscribed(now time.Time) bool {
	if !u.SubscriptionActive {
		return false
	}
	if u.SubscriptionUntil != nil && u.SubscriptionUntil.Before(now) {
		return false
	}
	return true
}
