package notifier

import (
	"context"

	logger "github.com/sirupsen/logrus"

	"signalengine/src/model"
)

// Notifier is the fire-and-forget channel watchers report through. A failed
// notification must never fail or roll back the state transition it
// follows, so implementations swallow their own errors beyond logging.
type Notifier interface {
	// NotifyUser queues a message for one user.
	NotifyUser(ctx context.Context, userID uint, message string)
	// Broadcast queues a channel-level message visible to all subscribers.
	Broadcast(ctx context.Context, message string)
}

// TextSender delivers one message to a chat. Implemented by Telegram; tests
// plug in fakes.
type TextSender interface {
	SendText(ctx context.Context, chatID, text string) error
}

type notificationQueue interface {
	Enqueue(ctx context.Context, n *model.Notification) error
}

// Outbox implements Notifier by persisting rows for the sender loop. The
// enqueue happens after the watcher committed its own transition; if even
// the enqueue fails, the transition stands and the message is lost, which
// is the documented trade.
type Outbox struct {
	queue notificationQueue
}

func NewOutbox(queue notificationQueue) *Outbox {
	return &Outbox{queue: queue}
}

func (o *Outbox) NotifyUser(ctx context.Context, userID uint, message string) {
	uid := userID
	err := o.queue.Enqueue(ctx, &model.Notification{
		UserID:  &uid,
		Message: message,
		Status:  model.NotificationStatusPending,
	})
	if err != nil {
		logger.WithField("user_id", userID).
			WithError(err).Error("Failed to enqueue user notification")
	}
}

func (o *Outbox) Broadcast(ctx context.Context, message string) {
	err := o.queue.Enqueue(ctx, &model.Notification{
		Message: message,
		Status:  model.NotificationStatusPending,
	})
	if err != nil {
		logger.WithError(err).Error("Failed to enqueue broadcast notification")
	}
}
