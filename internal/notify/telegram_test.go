package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/keenturbo/dropradar/internal/config"
	"github.com/keenturbo/dropradar/internal/models"
	"github.com/keenturbo/dropradar/internal/storage"
)

type fakeBot struct {
	failures int
	sent     []tgbotapi.MessageConfig
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.failures > 0 {
		f.failures--
		return tgbotapi.Message{}, errors.New("telegram unavailable")
	}
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(chan tgbotapi.Update)
}

func (f *fakeBot) StopReceivingUpdates() {}

type fakeLister struct {
	domains []*models.Domain
	filter  storage.DomainFilter
}

func (f *fakeLister) ListDomains(_ context.Context, filter storage.DomainFilter) ([]*models.Domain, error) {
	f.filter = filter
	return f.domains, nil
}

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello World"},
		{"old_domain.com", "old\\_domain\\.com"},
		{"DA 40, spam 3", "DA 40, spam 3"},
		{"[link](url)", "\\[link\\]\\(url\\)"},
		{"~strike~", "\\~strike\\~"},
		{"`code`", "\\`code\\`"},
		{"#tag +1-1=0|{x}!", "\\#tag \\+1\\-1\\=0\\|\\{x\\}\\!"},
		{"a\\b", "a\\\\b"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := escapeMarkdownV2(tt.input)
			if result != tt.expected {
				t.Errorf("escapeMarkdownV2(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestFormatAlert(t *testing.T) {
	got := formatAlert("High-value domain: a.com", "DA 40", "https://r.example/x?d=(a)")
	want := "🌐 *High\\-value domain: a\\.com*\nDA 40\n[Register](https://r.example/x?d=(a\\))"
	if got != want {
		t.Errorf("formatAlert() = %q, want %q", got, want)
	}

	if got := formatAlert("t", "b", ""); got != "🌐 *t*\nb" {
		t.Errorf("formatAlert() without link = %q", got)
	}
}

func TestTelegram_SendRetries(t *testing.T) {
	bot := &fakeBot{failures: 2}
	tg := newTelegram(bot, 42, 3, time.Millisecond)

	if err := tg.Send(context.Background(), "t", "b", ""); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(bot.sent) != 1 {
		t.Fatalf("expected 1 delivered message, got %d", len(bot.sent))
	}
	if bot.sent[0].ChatID != 42 || bot.sent[0].ParseMode != "MarkdownV2" {
		t.Errorf("unexpected message config: %+v", bot.sent[0])
	}
}

func TestTelegram_SendGivesUp(t *testing.T) {
	bot := &fakeBot{failures: 5}
	tg := newTelegram(bot, 42, 3, time.Millisecond)

	if err := tg.SendError(context.Background(), errors.New("boom")); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if bot.failures != 2 {
		t.Errorf("expected 3 attempts, %d failures left", bot.failures)
	}
}

func TestTelegram_SendRecovery(t *testing.T) {
	bot := &fakeBot{}
	tg := newTelegram(bot, 42, 3, time.Millisecond)

	if err := tg.SendRecovery(context.Background(), 4); err != nil {
		t.Fatalf("SendRecovery() error = %v", err)
	}
	want := "✅ *Scanning recovered* after 4 consecutive failure\\(s\\)"
	if bot.sent[0].Text != want {
		t.Errorf("text = %q, want %q", bot.sent[0].Text, want)
	}
}

func command(text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		Text:     text,
		Chat:     &tgbotapi.Chat{ID: 7},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}},
	}
}

func TestTelegram_Commands(t *testing.T) {
	bot := &fakeBot{}
	tg := newTelegram(bot, 42, 1, time.Millisecond)
	lister := &fakeLister{domains: []*models.Domain{
		{Candidate: models.Candidate{Name: "old-site.com", DAScore: 44, SpamScore: 2}},
	}}

	tg.handleCommand(context.Background(), command("/ping"), lister)
	tg.handleCommand(context.Background(), command("/new"), lister)
	tg.handleCommand(context.Background(), command("/unknown"), lister)

	if len(bot.sent) != 2 {
		t.Fatalf("expected 2 replies, got %d", len(bot.sent))
	}
	if bot.sent[0].Text != "Pong" || bot.sent[0].ChatID != 7 {
		t.Errorf("unexpected ping reply: %+v", bot.sent[0])
	}
	want := "🆕 *New domains*\n\n1\\. old\\-site\\.com DA 44 spam 2\n"
	if bot.sent[1].Text != want {
		t.Errorf("/new reply = %q, want %q", bot.sent[1].Text, want)
	}
	if !lister.filter.OnlyNew {
		t.Error("/new should list only new domains")
	}
}

func TestNewTelegram_InvalidChatID(t *testing.T) {
	_, err := NewTelegram(config.TelegramConfig{BotToken: "", ChatID: "not-a-number"})
	if err == nil {
		t.Error("Expected error for invalid chat ID, got nil")
	}
}
