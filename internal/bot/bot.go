// Package bot is the Telegram side of the engine: the send primitive used by
// the dispatcher, article rendering and the administrative commands.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"feedrouter/internal/classifier"
	"feedrouter/internal/config"
	"feedrouter/internal/events"
	"feedrouter/internal/storage"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// CycleRunner runs an ingestion cycle on demand.
type CycleRunner interface {
	RunCycle(ctx context.Context) events.CycleReport
}

// Bot handles administrative commands for the chats it is in.
type Bot struct {
	api        telegramAPI
	store      storage.Storage
	classifier *classifier.Classifier
	cycles     CycleRunner
	cfg        *config.Config
	log        *slog.Logger

	mu         sync.Mutex
	lastReport *events.CycleReport
	fetching   atomic.Bool
	// manual tracks /fetchnow cycles so Run can wait for them.
	manual     sync.WaitGroup
}

// New creates a Bot with the given Telegram token.
func New(token string, store storage.Storage, cls *classifier.Classifier, cycles CycleRunner, cfg *config.Config, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &Bot{
		api:        api,
		store:      store,
		classifier: cls,
		cycles:     cycles,
		cfg:        cfg,
		log:        log,
	}, nil
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled and
// any cycle started by /fetchnow has finished.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.manual.Wait()
			return
		case update := <-updates:
			if update.CallbackQuery != nil {
				if !b.cfg.IsUserAllowed(update.CallbackQuery.From.ID) {
					continue
				}
				b.handleCallback(ctx, update.CallbackQuery)
				continue
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if update.Message.From == nil || !b.cfg.IsUserAllowed(update.Message.From.ID) {
				b.reply(update.Message.Chat.ID, "Access denied.")
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

// Track keeps the latest cycle report for /feedstatus until ctx is cancelled.
func (b *Bot) Track(ctx context.Context, bus events.Bus) {
	evs, unsubscribe := bus.Subscribe(16)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-evs:
			if !ok {
				return
			}
			if r, ok := e.Data.(events.CycleReport); ok && e.Type == events.CycleFinished {
				b.recordReport(r)
			}
		}
	}
}

func (b *Bot) recordReport(r events.CycleReport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastReport = &r
}

func (b *Bot) report() *events.CycleReport {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastReport
}

// SendMessage sends a plain text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case "categories":
		b.handleCategories(chatID)
	case "subscribe":
		b.handleSubscribe(ctx, chatID, args)
	case "unsubscribe":
		b.handleUnsubscribe(ctx, chatID)
	case "channel":
		b.handleChannel(ctx, chatID, args)
	case "setfilter":
		b.handleSetFilter(ctx, chatID, args)
	case "bind":
		b.handleBind(ctx, chatID, args)
	case cmdEnable:
		b.handleSetEnabled(ctx, chatID, args, true)
	case cmdDisable:
		b.handleSetEnabled(ctx, chatID, args, false)
	case cmdBindings:
		b.handleBindings(ctx, chatID)
	case "feedstatus":
		b.handleFeedStatus(ctx, chatID)
	case "fetchnow":
		b.handleFetchNow(ctx, chatID)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}
