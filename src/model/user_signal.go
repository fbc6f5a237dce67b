package model

import "time"

// UserSignal statuses. The numeric scheme is shared with the dashboard:
// 0 covers both "waiting for entry" and "fully closed" (the close fields
// disambiguate), 1 means the position is live on the exchange.
const (
	UserSignalStatusPending = 0
	UserSignalStatusActive  = 1
)

// UserSignal is one user's execution of a Signal on their own exchange
// account. Owned exclusively by its position watcher while non-terminal;
// the watcher is the only writer, so no row is ever updated concurrently.
type UserSignal struct {
	ID       uint `gorm:"primaryKey" json:"id"`
	UserID   uint `gorm:"index;uniqueIndex:idx_user_signals_fanout" json:"user_id"`
	SignalID uint `gorm:"index;uniqueIndex:idx_user_signals_fanout" json:"signal_id"`
	ApiID    uint `gorm:"uniqueIndex:idx_user_signals_fanout" json:"api_id"`

	Symbol    string  `gorm:"size:30;not null" json:"symbol"`
	Direction string  `gorm:"size:10;not null" json:"direction"`
	Lot       float64 `json:"lot"`
	Leverage  int     `json:"leverage"`
	Strategy  string  `gorm:"size:50" json:"strategy,omitempty"`

	// ClientRef seeds the deterministic client order IDs sent to the
	// exchange, which is what makes order placement reconcilable after a
	// crash instead of blindly repeatable.
	ClientRef string `gorm:"size:40;not null" json:"client_ref"`

	// Exchange order tickets. A ticket is recorded only once the exchange
	// confirmed the order; while a placement is in flight the matching
	// *_wait flag is true and the ticket is still empty.
	Ticket  string `gorm:"size:40" json:"ticket,omitempty"`                  // entry order
	STicket string `gorm:"column:sticket;size:40" json:"sticket,omitempty"` // stop-loss order
	TTicket string `gorm:"column:tticket;size:40" json:"tticket,omitempty"` // take-profit order
	SlWait  bool   `gorm:"not null;default:false" json:"sl_wait"`
	TpWait  bool   `gorm:"not null;default:false" json:"tp_wait"`

	OpenPrice    float64    `json:"open_price"`
	OpenTime     *time.Time `json:"open_time,omitempty"`
	Volume       float64    `json:"volume"`
	ClosedVolume float64    `json:"closed_volume"`
	StopLoss     float64    `json:"stop_loss"`
	TakeProfit   float64    `json:"take_profit"`

	ClosePrice  float64    `json:"close_price"`
	CloseTime   *time.Time `json:"close_time,omitempty"`
	ProfitPct   float64    `json:"profit_pct"`
	ProfitQuote float64    `json:"profit_quote"`

	Event          string `gorm:"size:255" json:"event,omitempty"`
	Status         int    `gorm:"not null;default:0;index" json:"status"`
	CloseRequested bool   `gorm:"not null;default:false" json:"close_requested"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (UserSignal) TableName() string {
	return "user_signals"
}

// IsTerminal reports whether this record is done for good: either closed
// with a recorded close time or failed with an event note. Terminal rows
// are skipped by the resumption scan and make their watcher exit.
func (u *UserSignal) IsTerminal() bool {
	return u.Status == UserSignalStatusPending && u.CloseTime != nil
}

func (u *UserSignal) IsLong() bool {
	return u.Direction == SignalDirectionLong
}

// EntryClientID returns the client order ID used for the entry order.
func (u *UserSignal) EntryClientID() string {
	return u.ClientRef + "-e"
}

// StopClientID returns the client order ID used for the stop-loss order.
func (u *UserSignal) StopClientID() string {
	return u.ClientRef + "-sl"
}

// TakeProfitClientID returns the client order ID used for the take-profit order.
func (u *UserSignal) TakeProfitClientID() string {
	return u.ClientRef + "-tp"
}
