package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sheikh-saqib/subscription-payments-ledger/internal/interfaces"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/models"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/models/events"
	"github.com/sirupsen/logrus"
)

const (
	defaultAttempts = 3
	defaultBackoff  = 500 * time.Millisecond
)

// BotDirectory resolves the bot a notification is sent as.
type BotDirectory interface {
	GetBot(ctx context.Context, id int64) (*models.Bot, error)
}

// Worker delivers notifications with bounded retries.
type Worker struct {
	bots          BotDirectory
	messenger     interfaces.Messenger
	platformToken string
	logger        logrus.FieldLogger
	attempts      int
	backoff       time.Duration
}

// NewWorker creates a worker. platformToken is used for notifications that
// do not belong to an operator's bot.
func NewWorker(bots BotDirectory, messenger interfaces.Messenger, platformToken string, logger logrus.FieldLogger) *Worker {
	return &Worker{
		bots:          bots,
		messenger:     messenger,
		platformToken: platformToken,
		logger:        logger,
		attempts:      defaultAttempts,
		backoff:       defaultBackoff,
	}
}

// WithRetry overrides the retry policy. The delay doubles after each attempt.
func (w *Worker) WithRetry(attempts int, backoff time.Duration) *Worker {
	if attempts < 1 {
		attempts = 1
	}
	w.attempts, w.backoff = attempts, backoff
	return w
}

// HandleMessage decodes a queued payload and delivers it. Undecodable
// payloads are dropped.
func (w *Worker) HandleMessage(ctx context.Context, payload []byte) error {
	var n events.Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		w.logger.WithError(err).Error("dropping undecodable notification")
		return nil
	}
	return w.Deliver(ctx, n)
}

// Deliver sends n. A recipient who blocked the bot is a final outcome, not an
// error.
func (w *Worker) Deliver(ctx context.Context, n events.Notification) error {
	log := w.logger.WithFields(logrus.Fields{"notification_id": n.ID, "kind": n.Kind, "chat_id": n.ChatID})

	token, err := w.token(ctx, n.BotID)
	if err != nil {
		log.WithError(err).Error("no bot to deliver notification with")
		return nil
	}

	var (
		link  string
		delay = w.backoff
	)
	for attempt := 1; ; attempt++ {
		err := w.attempt(ctx, token, n, &link)
		if err == nil {
			log.Debug("notification delivered")
			return nil
		}
		if errors.Is(err, interfaces.ErrRecipientBlocked) {
			log.Info("recipient blocked the bot; notification dropped")
			return nil
		}
		if attempt >= w.attempts {
			return fmt.Errorf("notify: delivering %s after %d attempts: %w", n.ID, attempt, err)
		}
		log.WithError(err).WithField("attempt", attempt).Warn("notification delivery failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// attempt makes one delivery try. An invite link created by an earlier try is
// kept in link and reused.
func (w *Worker) attempt(ctx context.Context, token string, n events.Notification, link *string) error {
	if n.Kind == events.NotifyAccessGranted && n.GroupID != 0 && *link == "" {
		created, err := w.messenger.CreateInviteLink(ctx, token, n.GroupID, inviteName(n.Reference))
		if err != nil {
			return fmt.Errorf("creating invite link: %w", err)
		}
		*link = created
	}
	text := n.Text
	if *link != "" {
		text += "\n" + *link
	}
	return w.messenger.SendMessage(ctx, token, n.ChatID, text)
}

func (w *Worker) token(ctx context.Context, botID int64) (string, error) {
	if botID == 0 {
		if w.platformToken == "" {
			return "", errors.New("platform bot token not configured")
		}
		return w.platformToken, nil
	}
	bot, err := w.bots.GetBot(ctx, botID)
	if err != nil {
		return "", fmt.Errorf("bot %d: %w", botID, err)
	}
	return bot.Token, nil
}

func inviteName(reference string) string {
	if len(reference) > 8 {
		reference = reference[:8]
	}
	return "Sale " + reference
}
