package connectors

import "fmt"

const (
	ExchangeBinance = "binance"
	ExchangeBybit   = "bybit"
)

// NewAdapter builds the connector for one exchange account. Credentials
// arrive already decrypted; the caller owns key management.
func NewAdapter(exchange, apiKey, apiSecret string) (ExchangeAdapter, error) {
	switch exchange {
	case ExchangeBinance:
		return NewBinanceConnector(apiKey, apiSecret), nil
	case ExchangeBybit:
		return NewBybitConnector(apiKey, apiSecret, ""), nil
	default:
		return nil, fmt.Errorf("exchange %s not supported", exchange)
	}
}
