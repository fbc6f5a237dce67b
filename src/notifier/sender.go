package notifier

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"

	"signalengine/src/model"
)

type pendingQueue interface {
	FindPending(ctx context.Context, limit int) ([]model.Notification, error)
	MarkSent(ctx context.Context, id uint, at time.Time) error
	MarkFailed(ctx context.Context, id uint, attempts, maxAttempts int) error
}

type userDirectory interface {
	FindByID(ctx context.Context, id uint) (*model.User, error)
}

// Sender drains the notification outbox. It runs beside the watchers but
// never shares state with them; the notifications table is the only
// hand-off point.
type Sender struct {
	queue  pendingQueue
	users  userDirectory
	sender TextSender
	config Config
}

func NewSender(queue pendingQueue, users userDirectory, sender TextSender, config Config) *Sender {
	return &Sender{
		queue:  queue,
		users:  users,
		sender: sender,
		config: config,
	}
}

// Run polls for pending rows until ctx is cancelled.
func (s *Sender) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.SendPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("notification sender stopped")
			return
		case <-ticker.C:
			s.drain(ctx)
		}
	}
}

func (s *Sender) drain(ctx context.Context) {
	pending, err := s.queue.FindPending(ctx, 50)
	if err != nil {
		logger.WithError(err).Error("Failed to load pending notifications")
		return
	}

	for i := range pending {
		s.deliver(ctx, &pending[i])
	}
}

func (s *Sender) deliver(ctx context.Context, n *model.Notification) {
	chatID, ok := s.resolveChat(ctx, n)
	if !ok {
		// unresolvable target counts as an attempt so the row eventually parks
		if err := s.queue.MarkFailed(ctx, n.ID, n.Attempts+1, s.config.MaxAttempts); err != nil {
			logger.WithField("id", n.ID).WithError(err).Error("Failed to record notification failure")
		}
		return
	}

	if err := s.sender.SendText(ctx, chatID, n.Message); err != nil {
		logger.WithFields(map[string]interface{}{
			"id":      n.ID,
			"chat_id": chatID,
		}).WithError(err).Warn("Notification delivery failed")

		if err := s.queue.MarkFailed(ctx, n.ID, n.Attempts+1, s.config.MaxAttempts); err != nil {
			logger.WithField("id", n.ID).WithError(err).Error("Failed to record notification failure")
		}
		return
	}

	if err := s.queue.MarkSent(ctx, n.ID, time.Now().UTC()); err != nil {
		logger.WithField("id", n.ID).WithError(err).Error("Failed to mark notification sent")
	}
}

// resolveChat finds the destination chat: the stored chat id, the user's
// Telegram chat, or the broadcast channel when no user is attached.
func (s *Sender) resolveChat(ctx context.Context, n *model.Notification) (string, bool) {
	if n.ChatID != "" {
		return n.ChatID, true
	}

	if n.UserID == nil {
		if s.config.ChannelChatID == "" {
			logger.WithField("id", n.ID).Warn("broadcast notification with no channel configured")
			return "", false
		}
		return s.config.ChannelChatID, true
	}

	user, err := s.users.FindByID(ctx, *n.UserID)
	if err != nil || user == nil || user.TelegramChatID == "" {
		logger.WithFields(map[string]interface{}{
			"id":      n.ID,
			"user_id": *n.UserID,
		}).Warn("notification target user has no chat id")
		return "", false
	}

	return user.TelegramChatID, true
}
