package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/keenturbo/dropradar/internal/config"
	"github.com/keenturbo/dropradar/internal/logger"
	"github.com/keenturbo/dropradar/internal/models"
	"github.com/keenturbo/dropradar/internal/storage"
)

// botAPI is the subset of tgbotapi.BotAPI the sink uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// DomainLister is the read side the bot commands need.
type DomainLister interface {
	ListDomains(ctx context.Context, f storage.DomainFilter) ([]*models.Domain, error)
}

// Telegram sends alerts and operator messages through the Telegram Bot API.
type Telegram struct {
	bot            botAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewTelegram connects to the Bot API with the configured token.
func NewTelegram(cfg config.TelegramConfig) (*Telegram, error) {
	chatID, err := strconv.ParseInt(cfg.ChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	return newTelegram(bot, chatID, cfg.MaxRetries, cfg.RetryDelayBase), nil
}

func newTelegram(bot botAPI, chatID int64, maxRetries int, retryDelayBase time.Duration) *Telegram {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Telegram{
		bot:            bot,
		chatID:         chatID,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Send delivers one domain alert.
func (t *Telegram) Send(ctx context.Context, title, body, link string) error {
	return t.sendMarkdownV2(ctx, formatAlert(title, body, link))
}

// SendError sends a monitoring error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (t *Telegram) SendError(ctx context.Context, scanErr error) error {
	text := fmt.Sprintf("⚠️ *Scan error*\n`%s`", escapeMarkdownV2(scanErr.Error()))
	return t.sendMarkdownV2(ctx, text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (t *Telegram) SendRecovery(ctx context.Context, failureCount int) error {
	text := fmt.Sprintf("✅ *Scanning recovered* after %d consecutive failure\\(s\\)", failureCount)
	return t.sendMarkdownV2(ctx, text)
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (t *Telegram) ListenForCommands(ctx context.Context, domains DomainLister) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := t.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				t.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					t.handleCommand(ctx, update.Message, domains)
				}
			}
		}
	}()
}

func (t *Telegram) handleCommand(ctx context.Context, msg *tgbotapi.Message, domains DomainLister) {
	var reply tgbotapi.MessageConfig
	switch msg.Command() {
	case "ping":
		reply = tgbotapi.NewMessage(msg.Chat.ID, "Pong")
	case "new":
		reply = tgbotapi.NewMessage(msg.Chat.ID, newDomainsText(ctx, domains))
		reply.ParseMode = "MarkdownV2"
	default:
		return
	}
	if _, err := t.bot.Send(reply); err != nil {
		logger.Warn("Failed to reply to /%s: %v", msg.Command(), err)
	}
}

func newDomainsText(ctx context.Context, domains DomainLister) string {
	if domains == nil {
		return escapeMarkdownV2("No storage attached.")
	}
	list, err := domains.ListDomains(ctx, storage.DomainFilter{OnlyNew: true, Limit: 10})
	if err != nil {
		return escapeMarkdownV2("Failed to load domains: " + err.Error())
	}
	if len(list) == 0 {
		return escapeMarkdownV2("No new domains in the latest scan.")
	}

	var b strings.Builder
	b.WriteString("🆕 *New domains*\n\n")
	for i, d := range list {
		fmt.Fprintf(&b, "%d\\. %s DA %d spam %d\n",
			i+1, escapeMarkdownV2(d.Name), d.DAScore, d.SpamScore)
	}
	return b.String()
}

// formatAlert renders an alert as a MarkdownV2 message.
func formatAlert(title, body, link string) string {
	text := fmt.Sprintf("🌐 *%s*\n%s", escapeMarkdownV2(title), escapeMarkdownV2(body))
	if link != "" {
		text += fmt.Sprintf("\n[Register](%s)", escapeLinkURL(link))
	}
	return text
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (t *Telegram) sendMarkdownV2(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < t.maxRetries; i++ {
		if _, err := t.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if i == t.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.retryDelayBase * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("failed after %d retries: %w", t.maxRetries, lastErr)
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4)
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

// escapeLinkURL escapes the characters MarkdownV2 reserves inside a link target.
func escapeLinkURL(link string) string {
	r := strings.NewReplacer(`\`, `\\`, `)`, `\)`)
	return r.Replace(link)
}
