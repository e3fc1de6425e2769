package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"feedrouter/internal/model"
)

// Telegram rejects photo captions above this many characters.
const captionLimit = 1024

type requester interface {
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
}

// Sender posts rendered articles to chats and forum threads.
type Sender struct {
	api requester
	log *slog.Logger
}

// NewSender creates a Sender with its own HTTP client. Requests are bounded
// by timeout because the Telegram client does not take a context.
func NewSender(token string, timeout time.Duration, log *slog.Logger) (*Sender, error) {
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("create sender api: %w", err)
	}
	return &Sender{api: api, log: log}, nil
}

// Send delivers content to dest and returns the message ID. Content with a
// photo goes out as a photo with caption first and falls back to a text
// message when Telegram rejects the photo. Transport errors are returned as
// is, since the photo may have been posted.
func (s *Sender) Send(ctx context.Context, dest model.Destination, content model.Content) (int, error) {
	if content.PhotoURL != "" && utf8.RuneCountInString(content.Text) <= captionLimit {
		params, err := s.params(dest, content)
		if err != nil {
			return 0, err
		}
		params["photo"] = content.PhotoURL
		params["caption"] = content.Text

		id, err := s.call(ctx, "sendPhoto", params)
		if err == nil {
			return id, nil
		}
		var apiErr *tgbotapi.Error
		if !errors.As(err, &apiErr) {
			return 0, err
		}
		s.log.Warn("photo send failed, sending text", "chat_id", dest.ChatID, "thread_id", dest.ThreadID, "error", err)
	}

	params, err := s.params(dest, content)
	if err != nil {
		return 0, err
	}
	params["text"] = content.Text
	params.AddBool("disable_web_page_preview", !content.LinkPreview)
	return s.call(ctx, "sendMessage", params)
}

func (s *Sender) params(dest model.Destination, content model.Content) (tgbotapi.Params, error) {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", dest.ChatID)
	params.AddNonZero("message_thread_id", dest.ThreadID)
	params.AddNonEmpty("parse_mode", tgbotapi.ModeHTML)

	if content.ButtonURL != "" {
		markup := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL(content.ButtonText, content.ButtonURL),
		))
		if err := params.AddInterface("reply_markup", markup); err != nil {
			return nil, fmt.Errorf("encode reply markup: %w", err)
		}
	}
	return params, nil
}

func (s *Sender) call(ctx context.Context, endpoint string, params tgbotapi.Params) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	resp, err := s.api.MakeRequest(endpoint, params)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", endpoint, err)
	}

	var msg tgbotapi.Message
	if err := json.Unmarshal(resp.Result, &msg); err != nil {
		return 0, fmt.Errorf("decode %s result: %w", endpoint, err)
	}
	return msg.MessageID, nil
}
