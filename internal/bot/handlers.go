package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/samber/lo"

	"feedrouter/internal/model"
	"feedrouter/internal/storage"
)

const notSubscribed = "This chat is not subscribed. Use /subscribe first."

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to the sports feed bot!

This chat can receive new articles and social posts, sorted by category.

Quick start:
1. /subscribe — receive everything in this chat
2. /bind <category> <thread_id> — send a category to a forum topic
3. /categories — see the available categories

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Subscription:
/subscribe [category...] — subscribe this chat, optionally to some categories only
/unsubscribe — stop all deliveries to this chat
/channel <website|social> <on|off> — toggle a source channel
/setfilter <all|category...> — change the category filter
/feedstatus — subscription state and last fetch

Routing:
/categories — list categories
/bind <category> [thread_id] — route a category to a topic (no ID = main chat)
/enable <category> — resume a binding
/disable <category> — pause a binding
/bindings — list bindings

Maintenance:
/fetchnow — fetch and deliver now

Separate multi-word categories with commas: /subscribe premier league, f1`)
}

func (b *Bot) handleCategories(chatID int64) {
	b.reply(chatID, FormatCategories(b.classifier.Categories()))
}

func (b *Bot) handleSubscribe(ctx context.Context, chatID int64, args string) {
	var cats []model.Category
	if args != "" {
		var err error
		if cats, err = ParseCategories(b.classifier, args); err != nil {
			b.reply(chatID, err.Error())
			return
		}
	}

	changed, err := b.store.Subscribe(ctx, chatID)
	if err != nil {
		b.log.Error("subscribe", "chat_id", chatID, "error", err)
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	text := "Already subscribed."
	if changed {
		text = "Subscribed! New articles will arrive in this chat."
	}

	if len(cats) > 0 {
		if err := b.applyFilter(ctx, chatID, cats); err != nil {
			b.reply(chatID, fmt.Sprintf("Error: %v", err))
			return
		}
		text += "\nCategories: " + joinCategories(cats)
	}
	b.log.Info("subscribed", "chat_id", chatID, "changed", changed, "filter", cats)
	b.reply(chatID, text)
}

// applyFilter stores the filter and binds every unbound filtered category to
// the default stream, so a filtered chat receives its categories right away.
func (b *Bot) applyFilter(ctx context.Context, chatID int64, cats []model.Category) error {
	if err := b.store.SetContentFilter(ctx, chatID, cats); err != nil {
		return err
	}
	for _, cat := range cats {
		_, err := b.store.GetRoute(ctx, chatID, cat)
		if errors.Is(err, storage.ErrNotFound) {
			err = b.store.BindCategory(ctx, chatID, cat, 0)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *Bot) handleUnsubscribe(ctx context.Context, chatID int64) {
	if _, err := b.store.GetSubscriber(ctx, chatID); err != nil {
		b.reply(chatID, "This chat is not subscribed.")
		return
	}
	if err := b.store.Unsubscribe(ctx, chatID); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.log.Info("unsubscribed", "chat_id", chatID)
	b.reply(chatID, "Unsubscribed. Bindings are kept; /subscribe resumes deliveries.")
}

func (b *Bot) handleChannel(ctx context.Context, chatID int64, args string) {
	ch, on, err := ParseChannelArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	err = b.store.SetChannel(ctx, chatID, ch, on)
	if errors.Is(err, storage.ErrNotFound) {
		b.reply(chatID, notSubscribed)
		return
	}
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Channel %s turned %s.", ch, onOff(on)))
}

func (b *Bot) handleSetFilter(ctx context.Context, chatID int64, args string) {
	if args == "" {
		b.reply(chatID, "Usage: /setfilter <all|category...>")
		return
	}

	if strings.EqualFold(args, "all") {
		err := b.store.SetContentFilter(ctx, chatID, nil)
		if errors.Is(err, storage.ErrNotFound) {
			b.reply(chatID, notSubscribed)
			return
		}
		if err != nil {
			b.reply(chatID, fmt.Sprintf("Error: %v", err))
			return
		}
		b.reply(chatID, "Filter cleared. This chat receives all categories.")
		return
	}

	cats, err := ParseCategories(b.classifier, args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	err = b.applyFilter(ctx, chatID, cats)
	if errors.Is(err, storage.ErrNotFound) {
		b.reply(chatID, notSubscribed)
		return
	}
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, "Filter set: "+joinCategories(cats))
}

func (b *Bot) handleBind(ctx context.Context, chatID int64, args string) {
	cat, thread, err := ParseBindArgs(b.classifier, args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	if err := b.store.BindCategory(ctx, chatID, cat, thread); err != nil {
		b.log.Error("bind category", "chat_id", chatID, "category", cat, "thread_id", thread, "error", err)
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.log.Info("category bound", "chat_id", chatID, "category", cat, "thread_id", thread)
	b.reply(chatID, fmt.Sprintf("%s -> %s", cat, threadLabel(thread)))
}

func (b *Bot) handleSetEnabled(ctx context.Context, chatID int64, args string, enabled bool) {
	cat, err := ParseCategoryArg(b.classifier, args)
	if err != nil {
		if enabled {
			b.reply(chatID, "Usage: /enable <category>")
		} else {
			b.reply(chatID, "Usage: /disable <category>")
		}
		return
	}
	b.setEnabled(ctx, chatID, cat, enabled)
}

func (b *Bot) setEnabled(ctx context.Context, chatID int64, cat model.Category, enabled bool) {
	err := b.store.SetRouteEnabled(ctx, chatID, cat, enabled)
	if errors.Is(err, storage.ErrNotFound) {
		b.reply(chatID, fmt.Sprintf("No binding for %s. Use /bind %s first.", cat, cat))
		return
	}
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Binding %s %s.", cat, stateLabel(enabled)))
}

func (b *Bot) handleBindings(ctx context.Context, chatID int64) {
	routes, err := b.store.ListRoutes(ctx, chatID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	if len(routes) == 0 {
		b.reply(chatID, FormatBindings(nil))
		return
	}

	rows := lo.Map(routes, func(r model.RoutingEntry, _ int) []tgbotapi.InlineKeyboardButton {
		action, label := cmdDisable, "Disable "
		if !r.Enabled {
			action, label = cmdEnable, "Enable "
		}
		return tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label+string(r.Category), action+":"+string(r.Category)),
		)
	})
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Refresh", cmdBindings+":")))

	msg := tgbotapi.NewMessage(chatID, FormatBindings(routes))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send bindings", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleFeedStatus(ctx context.Context, chatID int64) {
	sub, err := b.store.GetSubscriber(ctx, chatID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	routes, err := b.store.ListRoutes(ctx, chatID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatStatus(sub, routes, b.report()))
}

func (b *Bot) handleFetchNow(ctx context.Context, chatID int64) {
	if b.cycles == nil {
		b.reply(chatID, "Fetching is not available.")
		return
	}
	if !b.fetching.CompareAndSwap(false, true) {
		b.reply(chatID, "A fetch is already running.")
		return
	}

	b.reply(chatID, "Fetching now...")
	b.log.Info("manual cycle requested", "chat_id", chatID)

	b.manual.Go(func() {
		defer b.fetching.Store(false)
		r := b.cycles.RunCycle(ctx)
		b.recordReport(r)
		b.reply(chatID, FormatReport(&r))
	})
}

func joinCategories(cats []model.Category) string {
	return strings.Join(lo.Map(cats, func(c model.Category, _ int) string { return string(c) }), ", ")
}
