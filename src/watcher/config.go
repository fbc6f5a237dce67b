package watcher

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	SignalPollPeriod   time.Duration `envconfig:"SIGNAL_POLL_PERIOD" default:"5s"`
	PositionPollPeriod time.Duration `envconfig:"POSITION_POLL_PERIOD" default:"5s"`
	EntryTolerancePct  float64       `envconfig:"ENTRY_TOLERANCE_PCT" default:"0.05"`
	RetryBaseDelay     time.Duration `envconfig:"WATCHER_RETRY_BASE_DELAY" default:"1s"`
	RetryMaxDelay      time.Duration `envconfig:"WATCHER_RETRY_MAX_DELAY" default:"30s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
