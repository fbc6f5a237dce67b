package pricing

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/nntaoli-project/goex"
	"github.com/nntaoli-project/goex/binance"
	logger "github.com/sirupsen/logrus"
)

// PriceSource is what the signal watchers consume: current market price for
// a symbol, however it was obtained.
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
}

// Source answers price queries from the live stream when it has a fresh
// tick, falling back to a REST snapshot otherwise. Position watchers use
// their account's exchange adapter instead; this source backs the
// account-independent signal watchers.
type Source struct {
	stream *Stream
	rest   goex.API
}

func NewSource(stream *Stream) *Source {
	apiConfig := &goex.APIConfig{
		HttpClient: http.DefaultClient,
		Endpoint:   binance.GLOBAL_API_BASE_URL,
	}

	return &Source{
		stream: stream,
		rest:   binance.NewWithConfig(apiConfig),
	}
}

// splitSymbol turns "BTCUSDT" into a goex currency pair. Only the quote
// currencies the channel signals on are recognized.
func splitSymbol(symbol string) (goex.CurrencyPair, error) {
	for _, quote := range []string{"USDT", "USDC", "BUSD"} {
		if strings.HasSuffix(symbol, quote) && len(symbol) > len(quote) {
			base := strings.TrimSuffix(symbol, quote)
			return goex.NewCurrencyPair(
				goex.Currency{Symbol: base},
				goex.Currency{Symbol: quote},
			), nil
		}
	}
	return goex.CurrencyPair{}, fmt.Errorf("unrecognized symbol %q", symbol)
}

func (s *Source) GetPrice(ctx context.Context, symbol string) (float64, error) {
	if price, ok := s.stream.Get(symbol); ok {
		return price, nil
	}

	pair, err := splitSymbol(symbol)
	if err != nil {
		return 0, err
	}

	ticker, err := s.rest.GetTicker(pair)
	if err != nil {
		logger.WithField("symbol", symbol).
			WithError(err).Warn("REST price snapshot failed")
		return 0, err
	}

	return ticker.Last, nil
}
