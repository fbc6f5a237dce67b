package notifier

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	BotToken      string        `envconfig:"BOT_TOKEN"`
	ChannelChatID string        `envconfig:"CHANNEL_CHAT_ID"`
	SendPeriod    time.Duration `envconfig:"NOTIFY_SEND_PERIOD" default:"2s"`
	MaxAttempts   int           `envconfig:"NOTIFY_MAX_ATTEMPTS" default:"5"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
