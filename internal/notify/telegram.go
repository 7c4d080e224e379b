package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"

	"github.com/matchpilot/matchpilot/internal/config"
)

// Telegram sends summaries through the Bot API. No polling; send-only.
type Telegram struct {
	bot    *telego.Bot
	chatID telego.ChatID
}

// NewTelegram creates the sender. ChatID accepts a numeric ID or a
// @channel username.
func NewTelegram(cfg config.TelegramNotifyConfig) (*Telegram, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	chatID, err := parseChatID(cfg.ChatID)
	if err != nil {
		return nil, err
	}

	return &Telegram{bot: bot, chatID: chatID}, nil
}

func parseChatID(s string) (telego.ChatID, error) {
	if strings.HasPrefix(s, "@") {
		return telego.ChatID{Username: s}, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return telego.ChatID{}, fmt.Errorf("invalid telegram chat_id %q: %w", s, err)
	}
	return telego.ChatID{ID: id}, nil
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Send(ctx context.Context, text string) error {
	_, err := t.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID: t.chatID,
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
