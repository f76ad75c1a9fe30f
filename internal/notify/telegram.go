package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/islamwell/rcoket-reminder-fork-sub001/internal/domain"
)

// TelegramNotifier delivers reminder notifications as Telegram messages.
type TelegramNotifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
	log    zerolog.Logger
}

func NewTelegramNotifier(token string, chatID int64, log zerolog.Logger) (*TelegramNotifier, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	log.Info().Str("bot", api.Self.UserName).Msg("telegram notifier authorized")
	return &TelegramNotifier{api: api, chatID: chatID, log: log}, nil
}

func (t *TelegramNotifier) Deliver(ctx context.Context, p Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, FormatMessage(p))
	msg.ParseMode = "HTML"
	if _, err := t.api.Send(msg); err != nil {
		return domain.NewError(domain.KindNetwork, "notify.telegram", err)
	}
	t.log.Debug().Int64("reminder", p.ReminderID).Str("action", string(p.Action)).Msg("notification sent")
	return nil
}
