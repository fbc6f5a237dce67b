package connectors

import "context"

// Order sides and types in the uniform vocabulary watchers speak. Each
// connector translates these to its venue's own enums.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

const (
	OrderTypeMarket     = "MARKET"
	OrderTypeStopMarket = "STOP_MARKET"
	OrderTypeTakeProfit = "TAKE_PROFIT_MARKET"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// OrderRequest describes one order to place. ClientOrderID must be set by
// the caller: it is the idempotency key that lets a restarted watcher find
// an order it placed before crashing instead of placing it again.
type OrderRequest struct {
	Symbol        string
	Side          string
	Type          string
	Quantity      float64
	StopPrice     float64
	ReduceOnly    bool
	ClientOrderID string
}

// OrderState is the exchange-reported truth about one order.
type OrderState struct {
	Ticket    string
	Status    OrderStatus
	AvgPrice  float64
	FilledQty float64
}

// ExchangeAdapter is the uniform operation set every venue connector
// implements. Watchers depend only on this interface; one adapter instance
// is built per ApiKey. Implementations must be safe for concurrent use.
type ExchangeAdapter interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderState, error)
	GetOrderStatus(ctx context.Context, symbol, ticket string) (*OrderState, error)
	// GetOrderByClientID looks an order up by the client order ID it was
	// requested with. Returns ErrOrderNotFound when the exchange never saw
	// the order; this is how reconciliation distinguishes "request was lost"
	// from "confirmation was lost".
	GetOrderByClientID(ctx context.Context, symbol, clientOrderID string) (*OrderState, error)
	CancelOrder(ctx context.Context, symbol, ticket string) error
	GetPrice(ctx context.Context, symbol string) (float64, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	// PricePrecision returns the symbol's tick precision in decimal digits,
	// or nil when unknown (values then pass through rounding unchanged).
	PricePrecision(symbol string) *int
}
