package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// RelayFunc forwards a Telegram-side message into the chatbox. replyTo is
// the Telegram message ID being replied to, or 0.
type RelayFunc func(ctx context.Context, text string, replyTo int64) error

// StatsFunc renders the /stats command body.
type StatsFunc func(ctx context.Context) string

// Telegram is the destination side of the bridge: it mirrors chatbox
// messages into one Telegram chat and relays that chat's messages back.
type Telegram struct {
	token     string
	chatID    int64
	parseMode string

	bot    *tgbotapi.BotAPI
	relay  RelayFunc
	stats  StatsFunc
	logger *slog.Logger
}

type TelegramConfig struct {
	Token     string
	ChatID    int64
	ParseMode string
	Relay     RelayFunc
	Stats     StatsFunc
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.ParseMode == "" {
		cfg.ParseMode = tgbotapi.ModeHTML
	}
	return &Telegram{
		token:     cfg.Token,
		chatID:    cfg.ChatID,
		parseMode: cfg.ParseMode,
		relay:     cfg.Relay,
		stats:     cfg.Stats,
		logger:    cfg.Logger,
	}
}

// Connect authenticates the bot. Must be called before Run or SendText.
func (t *Telegram) Connect() error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)
	return nil
}

// SetRelay installs the outbound handler. Needed because the bridge that
// owns the handler is constructed after the channel it sends through.
func (t *Telegram) SetRelay(relay RelayFunc) { t.relay = relay }

// SendText implements domain.Destination: it delivers rendered chatbox text
// to the mirrored chat and returns the Telegram message ID.
func (t *Telegram) SendText(ctx context.Context, text string, disablePreview bool) (int64, error) {
	var firstID int64
	remaining := text
	for len(remaining) > 0 {
		var chunk string
		chunk, remaining = splitChunk(remaining)

		id, err := t.sendChunk(ctx, chunk, disablePreview)
		if err != nil {
			return 0, err
		}
		if firstID == 0 {
			firstID = id
		}
	}
	return firstID, nil
}

// splitChunk cuts s so the first part fits a Telegram message, preferring
// the last newline in the window and never splitting a UTF-8 rune.
func splitChunk(s string) (chunk, rest string) {
	if len(s) <= telegramMaxMsgLen {
		return s, ""
	}
	cutAt := strings.LastIndex(s[:telegramMaxMsgLen], "\n")
	if cutAt < telegramMaxMsgLen/2 {
		cutAt = telegramMaxMsgLen
		for cutAt > 0 && !utf8.RuneStart(s[cutAt]) {
			cutAt--
		}
	}
	return s[:cutAt], s[cutAt:]
}

// sendChunk sends a single message chunk with retry and rate limit handling.
// Strategy: try the configured parse mode → on parse error fall back to
// plain text → retry transient errors with backoff.
func (t *Telegram) sendChunk(ctx context.Context, text string, disablePreview bool) (int64, error) {
	var lastErr error

	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		msg := tgbotapi.NewMessage(t.chatID, text)
		msg.DisableWebPagePreview = disablePreview
		if attempt == 0 && t.parseMode != "" {
			msg.ParseMode = t.parseMode
		}
		// On subsequent attempts: send as plain text (markup may be malformed).

		sent, err := t.bot.Send(msg)
		if err == nil {
			return int64(sent.MessageID), nil
		}
		lastErr = err
		errStr := err.Error()

		// Handle Telegram rate limiting (HTTP 429).
		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(retryAfter):
			}
			continue
		}

		// Parse error on first attempt — immediately retry as plain text.
		if attempt == 0 && msg.ParseMode != "" &&
			strings.Contains(errStr, "can't parse entities") {
			t.logger.Warn("telegram parse error, retrying as plain text",
				"err", err, "parseMode", t.parseMode,
			)
			continue
		}

		// Backoff for other transient errors.
		if attempt < telegramMaxSendRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return 0, fmt.Errorf("telegram send failed after %d attempts: %w", telegramMaxSendRetries+1, lastErr)
}

// Run polls Telegram for updates until ctx is cancelled, relaying every
// plain message from the mirrored chat into the chatbox.
func (t *Telegram) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started", "chat_id", t.chatID)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			t.bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(ctx, update)
		}
	}
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || update.Message.Chat == nil {
		return
	}
	if update.Message.Chat.ID != t.chatID {
		return
	}

	if update.Message.IsCommand() {
		t.handleCommand(ctx, update.Message)
		return
	}

	text := update.Message.Text
	if text == "" {
		return
	}

	var replyTo int64
	if update.Message.ReplyToMessage != nil {
		replyTo = int64(update.Message.ReplyToMessage.MessageID)
	}

	if err := t.relay(ctx, text, replyTo); err != nil {
		t.logger.Error("relay to chatbox failed", "err", err)
		t.reply(update.Message, "❌ Failed to deliver the message to the chatbox.")
	}
}

func (t *Telegram) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		t.reply(msg, "<b>🟢 Chatbox relay is running</b>")
	case "stats":
		if t.stats == nil {
			t.reply(msg, "Stats are not enabled.")
			return
		}
		t.reply(msg, t.stats(ctx))
	default:
		// Unknown commands are ignored; this chat is a mirror, not a menu.
	}
}

func (t *Telegram) reply(to *tgbotapi.Message, text string) {
	msg := tgbotapi.NewMessage(to.Chat.ID, text)
	msg.ParseMode = t.parseMode
	msg.ReplyToMessageID = to.MessageID
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Warn("telegram reply failed", "err", err)
	}
}
