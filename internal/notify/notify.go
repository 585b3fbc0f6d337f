// Package notify delivers best-effort notifications to responsible humans.
// Delivery failure is logged and reported as false; it never blocks or fails
// the caller.
package notify

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

type Notifier interface {
	Send(ctx context.Context, recipientID int64, text string) bool
}

// TelegramNotifier sends notifications as Telegram direct messages.
type TelegramNotifier struct {
	api    *tgbotapi.BotAPI
	logger *zap.Logger
}

func NewTelegramNotifier(api *tgbotapi.BotAPI, logger *zap.Logger) *TelegramNotifier {
	return &TelegramNotifier{api: api, logger: logger}
}

func (n *TelegramNotifier) Send(ctx context.Context, recipientID int64, text string) bool {
	msg := tgbotapi.NewMessage(recipientID, text)
	if _, err := n.api.Send(msg); err != nil {
		n.logger.Error("Failed to send notification",
			zap.Error(err),
			zap.Int64("recipient_id", recipientID))
		return false
	}
	return true
}
