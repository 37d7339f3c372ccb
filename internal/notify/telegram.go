package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"bookswap/internal/models"
)

// Sender is the part of tgbotapi.BotAPI used for delivery
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier sends notifications to the member's Telegram chat
type TelegramNotifier struct {
	api    Sender
	logger *zap.Logger
}

// NewTelegramBot connects to the Telegram Bot API
func NewTelegramBot(token string, logger *zap.Logger) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		logger.Error("Failed to create bot API", zap.Error(err))
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	logger.Info("Bot created", zap.String("bot_username", api.Self.UserName))
	return api, nil
}

// NewTelegramNotifier creates a notifier sending through api
func NewTelegramNotifier(api Sender, logger *zap.Logger) *TelegramNotifier {
	return &TelegramNotifier{api: api, logger: logger}
}

// Notify sends the rendered message. Members without a linked chat are skipped.
func (n *TelegramNotifier) Notify(ctx context.Context, recipient models.Member, kind models.EventKind, payload map[string]string) error {
	if recipient.TelegramChatID == 0 {
		n.logger.Debug("Recipient has no Telegram chat, skipping notification",
			zap.String("recipient_id", recipient.ID),
			zap.String("kind", string(kind)),
		)
		return nil
	}

	msg := tgbotapi.NewMessage(recipient.TelegramChatID, Render(kind, payload))
	if _, err := n.api.Send(msg); err != nil {
		return fmt.Errorf("send telegram message to %s: %w", recipient.ID, err)
	}
	return nil
}
