package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog/log"
)

const helpText = "Available commands:\n" +
	"/screen <token_address> - Screen a Solana token\n" +
	"/help - Show this help message"

// Screener runs a manual screen; the result arrives as a normal alert.
type Screener interface {
	Screen(ctx context.Context, mint string) error
}

// Commands answers /screen and /help in the configured chat.
type Commands struct {
	screener Screener
	chatID   string
}

func NewCommands(screener Screener, chatID string) *Commands {
	return &Commands{screener: screener, chatID: chatID}
}

// Register attaches the command handlers to b.
func (c *Commands) Register(b *bot.Bot) {
	b.RegisterHandler(bot.HandlerTypeMessageText, "/screen", bot.MatchTypePrefix, c.handleScreen)
	b.RegisterHandler(bot.HandlerTypeMessageText, "/help", bot.MatchTypePrefix, c.handleHelp)
	b.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypePrefix, c.handleHelp)
}

// Listen registers the handlers and long-polls for updates until ctx is done.
func (c *Commands) Listen(ctx context.Context, b *bot.Bot) {
	c.Register(b)
	log.Info().Msg("notify: listening for telegram commands")
	b.Start(ctx)
}

func (c *Commands) handleHelp(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || !sameChat(c.chatID, update.Message.Chat.ID) {
		return
	}
	c.reply(ctx, b, update, helpText)
}

func (c *Commands) handleScreen(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || !sameChat(c.chatID, update.Message.Chat.ID) {
		return
	}

	args := strings.Fields(update.Message.Text)
	if len(args) < 2 {
		c.reply(ctx, b, update, "❌ Please provide a valid Solana token address.\nUsage: /screen <token_address>")
		return
	}
	mint := args[1]

	log.Info().Str("mint", mint).Int64("chat_id", update.Message.Chat.ID).Msg("notify: /screen requested")
	c.reply(ctx, b, update, "🔍 Processing token... Please wait.")

	if err := c.screener.Screen(ctx, mint); err != nil {
		c.reply(ctx, b, update, fmt.Sprintf("❌ Unable to screen %s: %v", mint, err))
	}
}

func (c *Commands) reply(ctx context.Context, b *bot.Bot, update *models.Update, text string) {
	if err := sendText(ctx, b, update.Message.Chat.ID, PlainText(text)); err != nil {
		log.Warn().Err(err).Msg("notify: command reply failed")
	}
}
