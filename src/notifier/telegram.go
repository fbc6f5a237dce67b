package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Telegram delivers messages through the Bot API.
type Telegram struct {
	botToken string
	http     *resty.Client
}

func NewTelegram(botToken string) *Telegram {
	httpClient := resty.New().
		SetBaseURL("https://api.telegram.org").
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)

	return &Telegram{
		botToken: botToken,
		http:     httpClient,
	}
}

func (t *Telegram) SendText(ctx context.Context, chatID, text string) error {
	if t.botToken == "" || chatID == "" {
		return fmt.Errorf("telegram target incomplete (token or chat id missing)")
	}

	resp, err := t.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"chat_id": chatID,
			"text":    text,
		}).
		Post(fmt.Sprintf("/bot%s/sendMessage", t.botToken))

	if err != nil {
		return err
	}
	if resp.StatusCode()/100 != 2 {
		return fmt.Errorf("telegram status=%d", resp.StatusCode())
	}

	return nil
}
