package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"feedrouter/internal/model"
)

const (
	cmdEnable   = "enable"
	cmdDisable  = "disable"
	cmdBindings = "bindings"
)

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID

	callback := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Request(callback); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	action, arg, ok := strings.Cut(cb.Data, ":")
	if !ok {
		return
	}

	b.log.Info("callback",
		"action", action,
		"arg", arg,
		"chat_id", chatID,
		"user_id", cb.From.ID,
		"username", cb.From.UserName,
	)

	switch action {
	case cmdEnable, cmdDisable:
		cat := model.Category(arg)
		if !b.classifier.Known(cat) {
			return
		}
		b.setEnabled(ctx, chatID, cat, action == cmdEnable)
	case cmdBindings:
		b.handleBindings(ctx, chatID)
	}
}
