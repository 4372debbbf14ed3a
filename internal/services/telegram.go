package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/logger"
	"github.com/sethvargo/go-retry"
	"raffle-oracle/internal/models"
)

const (
	sendRetries = 3
	sendBackoff = 500 * time.Millisecond
	queueSize   = 64
)

// TelegramNotifier forwards raffle events to the admin chat. The admin chat is
// either configured up front or captured when the admin sends /start.
type TelegramNotifier struct {
	bot *tgbotapi.BotAPI

	mu          sync.RWMutex
	adminChatID int64

	queue chan string
}

// NewTelegramNotifier authorises the bot. Call Run to start delivering.
func NewTelegramNotifier(token string, adminChatID int64) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	logger.Infof("Bot authorised on account %s", bot.Self.UserName)
	return &TelegramNotifier{
		bot:         bot,
		adminChatID: adminChatID,
		queue:       make(chan string, queueSize),
	}, nil
}

// Run listens for commands and drains the outgoing queue until ctx is done.
func (n *TelegramNotifier) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := n.bot.GetUpdatesChan(u)
	defer n.bot.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case update := <-updates:
			n.handleUpdate(ctx, update)
		case text := <-n.queue:
			n.send(ctx, text)
		}
	}
}

func (n *TelegramNotifier) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || !update.Message.IsCommand() {
		return
	}
	switch update.Message.Command() {
	case "start":
		chatID := update.Message.Chat.ID
		n.mu.Lock()
		n.adminChatID = chatID
		n.mu.Unlock()
		n.send(ctx, fmt.Sprintf("Admin chat registered: %d. Raffle notifications will be sent here.", chatID))
		logger.Infof("Admin chat ID registered: %d", chatID)
	}
}

// Notify queues a message for ev. Events are dropped when the queue is full.
func (n *TelegramNotifier) Notify(_ context.Context, ev models.Event) {
	select {
	case n.queue <- FormatEvent(ev):
	default:
		logger.Warningf("telegram queue full, dropping %s event", ev.Kind)
	}
}

func (n *TelegramNotifier) send(ctx context.Context, text string) {
	n.mu.RLock()
	chatID := n.adminChatID
	n.mu.RUnlock()
	if chatID == 0 {
		logger.Info("Admin chat ID unknown, skipping notification")
		return
	}

	backoff := retry.WithMaxRetries(sendRetries, retry.NewExponential(sendBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if _, err := n.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		logger.Errorf("Error sending notification: %v", err)
	}
}

// FormatEvent renders an event as a chat message.
func FormatEvent(ev models.Event) string {
	switch ev.Kind {
	case models.EventEntryRecorded:
		return fmt.Sprintf("🎟️ New entry: %s (%s ETH)", ev.Entrant, models.FormatUnits(ev.Amount))
	case models.EventDrawRequested:
		return fmt.Sprintf("🎲 Draw requested, randomness request #%d", ev.RequestID)
	case models.EventWinnerSelected:
		return fmt.Sprintf("🏆 Winner: %s, paid %s ETH", ev.Winner, models.FormatUnits(ev.Amount))
	case models.EventPayoutFailed:
		return fmt.Sprintf("⚠️ Payout of %s ETH to %s failed. Retry from the admin API.", models.FormatUnits(ev.Amount), ev.Winner)
	default:
		return fmt.Sprintf("Raffle event: %s", ev.Kind)
	}
}
