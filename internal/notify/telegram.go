package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog/log"
)

// Sink delivers a message to one destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// TelegramConfig configures the bot connection.
type TelegramConfig struct {
	BotToken  string
	ChatID    string
	ServerURL string // empty = https://api.telegram.org
}

// TelegramSender posts messages to a single chat via the Bot API.
type TelegramSender struct {
	bot    *bot.Bot
	chatID string

	sent   atomic.Int64
	failed atomic.Int64
}

// NewTelegramSender creates a sender. No request is made until Send.
func NewTelegramSender(config TelegramConfig, opts ...bot.Option) (*TelegramSender, error) {
	if config.BotToken == "" || config.ChatID == "" {
		return nil, errors.New("telegram: bot token and chat id are required")
	}

	botOpts := []bot.Option{bot.WithSkipGetMe()}
	if config.ServerURL != "" {
		botOpts = append(botOpts, bot.WithServerURL(config.ServerURL))
	}
	botOpts = append(botOpts, opts...)

	b, err := bot.New(config.BotToken, botOpts...)
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}
	return &TelegramSender{bot: b, chatID: config.ChatID}, nil
}

func (t *TelegramSender) Name() string { return "telegram" }

// Send issues one sendMessage call to the configured chat.
func (t *TelegramSender) Send(ctx context.Context, msg Message) error {
	if err := sendText(ctx, t.bot, t.chatID, msg); err != nil {
		t.failed.Add(1)
		return err
	}
	t.sent.Add(1)
	return nil
}

// Bot exposes the underlying client for command handling.
func (t *TelegramSender) Bot() *bot.Bot { return t.bot }

// ChatID returns the configured destination chat.
func (t *TelegramSender) ChatID() string { return t.chatID }

// Stats returns delivery counters.
func (t *TelegramSender) Stats() (sent, failed int64) {
	return t.sent.Load(), t.failed.Load()
}

func sendText(ctx context.Context, b *bot.Bot, chatID any, msg Message) error {
	params := &bot.SendMessageParams{
		ChatID: chatID,
		Text:   msg.Text,
	}
	if msg.Format == FormatHTML {
		params.ParseMode = models.ParseModeHTML
	}

	if _, err := b.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	log.Debug().Interface("chat_id", chatID).Int("len", len(msg.Text)).Msg("telegram: message sent")
	return nil
}

// sameChat reports whether a numeric chat id from an update matches the
// configured chat. Non-numeric ids (e.g. "@channel") accept any chat.
func sameChat(configured string, id int64) bool {
	n, err := strconv.ParseInt(configured, 10, 64)
	if err != nil {
		return true
	}
	return n == id
}
