package model

import "time"

const (
	SignalDirectionLong  = "LONG"
	SignalDirectionShort = "SHORT"
)

const (
	SignalStatusPending   = "pending"
	SignalStatusActive    = "active"
	SignalStatusClosed    = "closed"
	SignalStatusCancelled = "cancelled"
)

// Signal is a proposed trade broadcast to subscribers. The immutable fields
// (symbol, direction, price levels) are set at creation; status and the
// activation/close timestamps are mutated only by the signal's own watcher.
type Signal struct {
	ID          uint    `gorm:"primaryKey" json:"id"`
	Symbol      string  `gorm:"size:30;index;not null" json:"symbol"`
	Direction   string  `gorm:"size:10;not null" json:"direction"` // LONG / SHORT
	Market      string  `gorm:"size:20;not null;default:futures" json:"market"`
	EntryPrice  float64 `json:"entry_price"`
	StopLoss    float64 `json:"stop_loss"`
	TakeProfit  float64 `json:"take_profit"`
	Status      string  `gorm:"size:20;not null;default:pending;index" json:"status"`
	CloseReason string  `gorm:"size:100" json:"close_reason,omitempty"`

	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (Signal) TableName() string {
	return "signals"
}

// IsTerminal reports whether the signal reached a final state. Terminal
// signals are never deleted, only flagged.
func (s *Signal) IsTerminal() bool {
	return s.Status == SignalStatusClosed || s.Status == SignalStatusCancelled
}

func (s *Signal) IsLong() bool {
	return s.Direction == SignalDirectionLong
}
