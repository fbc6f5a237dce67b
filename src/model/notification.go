package model

import "time"

const (
	NotificationStatusPending = "pending"
	NotificationStatusSent    = "sent"
	NotificationStatusFailed  = "failed"
)

// Notification is one queued outbound message. Watchers enqueue rows after
// committing a state transition; the sender loop delivers them, so a
// delivery failure can never roll back or block a transition.
type Notification struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	UserID  *uint  `gorm:"index" json:"user_id,omitempty"` // nil = channel broadcast
	ChatID  string `gorm:"size:30" json:"chat_id,omitempty"`
	Message string `gorm:"type:text;not null" json:"message"`

	Status   string     `gorm:"size:20;not null;default:pending;index" json:"status"`
	Attempts int        `gorm:"not null;default:0" json:"attempts"`
	SentAt   *time.Time `json:"sent_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Notification) TableName() string {
	return "notifications"
}
