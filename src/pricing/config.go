package pricing

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	StreamURL      string        `envconfig:"PRICE_STREAM_URL" default:"wss://fstream.binance.com/stream"`
	StreamSymbols  []string      `envconfig:"PRICE_STREAM_SYMBOLS" default:"BTCUSDT,ETHUSDT"`
	StaleAfter     time.Duration `envconfig:"PRICE_STALE_AFTER" default:"10s"`
	ReconnectDelay time.Duration `envconfig:"PRICE_RECONNECT_DELAY" default:"5s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
